package ack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/fetch"
)

func TestNoopAckerAlwaysReturnsNil(t *testing.T) {
	a := NewNoopAcker(zap.NewNop())
	require.NoError(t, a.Ack(context.Background(), "F1", true))
	require.NoError(t, a.Ack(context.Background(), "F1", false))
}

func TestSOAPAckerSkipsWhenDisabled(t *testing.T) {
	a := NewSOAPAcker(false, nil, nil, nil, nil, 0, zap.NewNop())
	err := a.Ack(context.Background(), "F1", true)
	assert.NoError(t, err, "a disabled acker must never dereference its nil collaborators")
}

func TestSOAPAckerSkipsWhenVerifierFailed(t *testing.T) {
	a := NewSOAPAcker(true, nil, nil, nil, nil, 0, zap.NewNop())
	err := a.Ack(context.Background(), "F1", false)
	assert.NoError(t, err, "a verify-failed file must never reach the SOAP call path")
}

func TestSOAPAckerSkipsWhenNoRegistryMapping(t *testing.T) {
	a := NewSOAPAcker(true, nil, nil, nil, fetch.NewFileRegistry(10), 0, zap.NewNop())
	err := a.Ack(context.Background(), "unknown-file", true)
	assert.NoError(t, err, "an unmapped file id must be skipped, not errored")
}
