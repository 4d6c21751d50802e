// Package audit implements the Audit & Metrics Sink (C11, spec.md
// §4.11): it writes the IngestionRun/IngestionFileAudit/IngestionError/
// IngestionBatchMetric rows and bumps the OTel counters/histograms in
// internal/telemetry alongside each write.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/telemetry"
)

// Sink writes audit rows over the writer pool and records metrics
// alongside each write. It satisfies internal/orchestrator.RunRecorder.
type Sink struct {
	pool    *pgxpool.Pool
	metrics *telemetry.EngineMetrics
	log     *zap.Logger
}

// New builds a Sink.
func New(pool *pgxpool.Pool, metrics *telemetry.EngineMetrics, log *zap.Logger) *Sink {
	return &Sink{pool: pool, metrics: metrics, log: log}
}

// OpenRun inserts a new ingestion_run row with opened_at = now(),
// satisfying internal/orchestrator.RunRecorder. Called once when the
// orchestrator's drain transitions from idle to active.
func (s *Sink) OpenRun(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO claims.ingestion_run (opened_at) VALUES (now()) RETURNING id
	`).Scan(&id)
	if err != nil {
		s.log.Error("open ingestion_run failed", zap.Error(err))
		return 0, err
	}
	return id, nil
}

// CloseRun stamps closed_at and the final counters, satisfying
// internal/orchestrator.RunRecorder. Called once the drain cycle goes
// idle again.
func (s *Sink) CloseRun(ctx context.Context, runID int64, total, ok, failed int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE claims.ingestion_run
		SET closed_at = now(), files_total = $2, files_ok = $3, files_failed = $4
		WHERE id = $1
	`, runID, total, ok, failed)
	if err != nil {
		s.log.Error("close ingestion_run failed", zap.Int64("run_id", runID), zap.Error(err))
		return err
	}
	return nil
}

// FileAuditInput carries one file's outcome, named per spec.md §4.11's
// ingestion_file_audit column list.
type FileAuditInput struct {
	RunID               int64
	IngestionFileID      *int64
	FileName             string
	CorrelationID        string
	Source               string
	Status               model.FileStatus
	ExpectedClaims       int
	PersistedClaims      int
	ExpectedActivities   int
	PersistedActivities  int
	VerifyPassed         bool
	AckAttempted         bool
	AckSucceeded         bool
	StartedAt            time.Time
	FinishedAt           time.Time
}

// RecordFile inserts one ingestion_file_audit row and bumps the
// files-processed/files-failed/verify-failure counters.
func (s *Sink) RecordFile(ctx context.Context, in FileAuditInput) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO claims.ingestion_file_audit
			(run_id, ingestion_file_id, file_name, correlation_id, source, status,
			 expected_claims, persisted_claims, expected_activities, persisted_activities,
			 verify_passed, ack_attempted, ack_succeeded, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`, in.RunID, in.IngestionFileID, in.FileName, in.CorrelationID, in.Source, string(in.Status),
		in.ExpectedClaims, in.PersistedClaims, in.ExpectedActivities, in.PersistedActivities,
		in.VerifyPassed, in.AckAttempted, in.AckSucceeded, in.StartedAt, in.FinishedAt).Scan(&id)
	if err != nil {
		s.log.Error("insert ingestion_file_audit failed", zap.String("file_name", in.FileName), zap.Error(err))
		return 0, err
	}

	s.metrics.FilesProcessed.Add(ctx, 1)
	if in.Status == model.FileFail {
		s.metrics.FilesFailed.Add(ctx, 1)
	}
	if !in.VerifyPassed {
		s.metrics.VerifyFailures.Add(ctx, 1)
	}
	if in.AckAttempted {
		s.metrics.AckAttempts.Add(ctx, 1)
		if !in.AckSucceeded {
			s.metrics.AckFailures.Add(ctx, 1)
		}
	}

	return id, nil
}

// RecordError inserts one ingestion_error row, zero-or-more per file
// per spec.md §4.11.
func (s *Sink) RecordError(ctx context.Context, fileAuditID int64, stage, objectType, objectKey, code, severity, message string, retryable bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO claims.ingestion_error (file_audit_id, stage, object_type, object_key, code, severity, message, retryable, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, fileAuditID, stage, objectType, objectKey, code, severity, message, retryable)
	if err != nil {
		s.log.Error("insert ingestion_error failed", zap.Int64("file_audit_id", fileAuditID), zap.String("code", code), zap.Error(err))
		return err
	}
	return nil
}

// RecordBatchMetric inserts one ingestion_batch_metric row and the
// batch-insert-duration histogram observation, per spec.md §4.11.
func (s *Sink) RecordBatchMetric(ctx context.Context, fileAuditID int64, stage string, batchNo, attempted, inserted, conflictsIgnored int, duration time.Duration) error {
	durationMS := duration.Milliseconds()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO claims.ingestion_batch_metric (file_audit_id, stage, batch_no, attempted, inserted, conflicts_ignored, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, fileAuditID, stage, batchNo, attempted, inserted, conflictsIgnored, durationMS)
	if err != nil {
		s.log.Error("insert ingestion_batch_metric failed", zap.Int64("file_audit_id", fileAuditID), zap.String("stage", stage), zap.Error(err))
		return err
	}

	s.metrics.BatchInsertDur.Record(ctx, float64(durationMS))
	return nil
}
