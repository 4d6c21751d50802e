package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferAndTakeRoundTrip(t *testing.T) {
	q := New(2)
	assert.True(t, q.Offer(WorkItem{FileID: "a"}, 50*time.Millisecond))
	assert.Equal(t, int64(1), q.Depth())

	ctx := context.Background()
	item, ok := q.Take(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", item.FileID)
	assert.Equal(t, int64(0), q.Depth())
}

func TestOfferTimesOutWhenFull(t *testing.T) {
	q := New(1)
	require.True(t, q.Offer(WorkItem{FileID: "a"}, 10*time.Millisecond))
	assert.False(t, q.Offer(WorkItem{FileID: "b"}, 10*time.Millisecond))
}

func TestTakeBlocksUntilCancel(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := q.Take(ctx)
	assert.False(t, ok)
}

func TestFillRatioAndWatermarks(t *testing.T) {
	q := New(4)
	require.True(t, q.Offer(WorkItem{FileID: "a"}, time.Second))
	require.True(t, q.Offer(WorkItem{FileID: "b"}, time.Second))
	require.True(t, q.Offer(WorkItem{FileID: "c"}, time.Second))
	assert.InDelta(t, 0.75, q.FillRatio(), 0.001)
}

func TestBackpressureGateLatchesPauseUntilLowWatermark(t *testing.T) {
	q := New(4)
	gate := NewBackpressureGate(q, 0.75, 0.25)

	require.False(t, gate.Paused(), "empty queue must not start paused")

	require.True(t, q.Offer(WorkItem{FileID: "a"}, time.Second))
	require.True(t, q.Offer(WorkItem{FileID: "b"}, time.Second))
	require.True(t, q.Offer(WorkItem{FileID: "c"}, time.Second))
	require.True(t, gate.Paused(), "3/4 crosses the 0.75 high watermark")

	ctx := context.Background()
	_, ok := q.Take(ctx)
	require.True(t, ok)
	assert.True(t, gate.Paused(), "2/4 is still above the 0.25 low watermark: stays latched paused")

	_, ok = q.Take(ctx)
	require.True(t, ok)
	_, ok = q.Take(ctx)
	require.True(t, ok)
	assert.False(t, gate.Paused(), "0/4 has dropped to/below the low watermark: resumes")
}

func TestBackpressureGateDisabledWhenHighWatermarkIsZero(t *testing.T) {
	q := New(1)
	gate := NewBackpressureGate(q, 0, 0)
	require.True(t, q.Offer(WorkItem{FileID: "a"}, time.Second))
	assert.False(t, gate.Paused())
}
