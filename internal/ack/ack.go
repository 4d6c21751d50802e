// Package ack implements the Acker (C10, spec.md §4.10): it tells the
// upstream system a file has been safely ingested. Two implementations
// share one interface; exactly one is wired at startup by
// ingestion.fetch_backend.
package ack

import (
	"context"

	"go.uber.org/zap"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/fetch"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/soap"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/vault"
)

// Acker acknowledges that fileID has been durably ingested, so the
// upstream system won't hand it back on the next poll. ok reflects the
// verifier's outcome: an acker must never acknowledge a file the
// verifier marked failed.
type Acker interface {
	Ack(ctx context.Context, fileID string, ok bool) error
}

// NoopAcker backs the local-fs profile: the fetcher already moved the
// file to its archive directory, so there's nothing further to
// tell anyone. It only logs, per spec.md §4.10.
type NoopAcker struct {
	log *zap.Logger
}

// NewNoopAcker builds a NoopAcker.
func NewNoopAcker(log *zap.Logger) *NoopAcker {
	return &NoopAcker{log: log}
}

// Ack logs the outcome and returns nil; local-fs has no upstream to
// notify.
func (a *NoopAcker) Ack(_ context.Context, fileID string, ok bool) error {
	a.log.Info("file processed, no-op ack", zap.String("file_id", fileID), zap.Bool("ok", ok))
	return nil
}

// FacilityCredentialSource mirrors internal/fetch.CredentialSource so
// the acker doesn't need to import fetch for credentials directly —
// it reuses the same vault-backed instance the coordinator holds.
type FacilityCredentialSource interface {
	Decrypt(facilityCode string) (vault.FacilityCredentials, error)
}

// FacilityResolver resolves a facility's SOAP endpoint by code.
type FacilityResolver interface {
	Facility(facilityCode string) (model.FacilityConfig, error)
}

// SOAPAcker is the DHPO-profile implementation: gated by both
// ingestion.ack_enabled and the verifier's own result, it looks up the
// facility that produced fileID via the fetch coordinator's
// FileRegistry, calls SetTransactionDownloaded, and forgets the
// mapping. Per spec.md §4.10, ACK failures are logged but never roll
// back already-committed data.
type SOAPAcker struct {
	enabled    bool
	gateway    *soap.Gateway
	creds      FacilityCredentialSource
	facilities FacilityResolver
	registry   *fetch.FileRegistry
	soapVer    soap.Version
	log        *zap.Logger
}

// NewSOAPAcker builds a SOAPAcker. enabled mirrors
// ingestion.ack_enabled; when false, Ack is a no-op that still logs.
func NewSOAPAcker(enabled bool, gateway *soap.Gateway, creds FacilityCredentialSource, facilities FacilityResolver, registry *fetch.FileRegistry, soapVer soap.Version, log *zap.Logger) *SOAPAcker {
	return &SOAPAcker{enabled: enabled, gateway: gateway, creds: creds, facilities: facilities, registry: registry, soapVer: soapVer, log: log}
}

// Ack calls SetTransactionDownloaded for fileID when both ack.enabled
// and ok are true. A verifier failure (ok=false) or the toggle being
// off both suppress the upstream call without treating it as an error.
func (a *SOAPAcker) Ack(ctx context.Context, fileID string, ok bool) error {
	if !a.enabled {
		a.log.Info("ack disabled by config, skipping", zap.String("file_id", fileID))
		return nil
	}
	if !ok {
		a.log.Warn("verifier failed, suppressing acknowledgement", zap.String("file_id", fileID))
		return nil
	}

	facilityCode, found := a.registry.Lookup(fileID)
	if !found {
		a.log.Warn("no facility mapping for file, cannot acknowledge", zap.String("file_id", fileID))
		return nil
	}

	facility, err := a.facilities.Facility(facilityCode)
	if err != nil {
		a.log.Error("facility lookup failed, ack skipped", zap.String("file_id", fileID), zap.String("facility", facilityCode), zap.Error(err))
		return nil
	}

	creds, err := a.creds.Decrypt(facilityCode)
	if err != nil {
		a.log.Error("credential decrypt failed, ack skipped", zap.String("file_id", fileID), zap.String("facility", facilityCode), zap.Error(err))
		return nil
	}

	envXML := soap.RenderSetTransactionDownloaded(creds.Login, creds.Password, fileID)
	envelope, err := soap.BuildEnvelope(a.soapVer, envXML)
	if err != nil {
		a.log.Error("build ack envelope failed", zap.String("file_id", fileID), zap.Error(err))
		return nil
	}

	result, err := a.gateway.Call(ctx, facility.EndpointURL, a.soapVer, soap.OpSetTransactionDownloaded, string(soap.OpSetTransactionDownloaded), envelope)
	if err != nil {
		a.log.Error("SetTransactionDownloaded call failed", zap.String("file_id", fileID), zap.Error(err))
		return nil
	}

	ackResp, err := soap.ParseAckResponse(result.RawBody)
	if err != nil {
		a.log.Error("parse ack response failed", zap.String("file_id", fileID), zap.Error(err))
		return nil
	}
	if ackResp.Code != 0 {
		a.log.Warn("upstream rejected acknowledgement", zap.String("file_id", fileID), zap.Int("code", ackResp.Code), zap.String("message", ackResp.ErrorMessage))
		return nil
	}

	a.registry.Forget(fileID)
	a.log.Info("acknowledged file", zap.String("file_id", fileID), zap.String("facility", facilityCode))
	return nil
}
