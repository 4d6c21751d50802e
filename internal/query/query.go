// Package query exposes the minimal read-only Go-level seam named in
// SPEC_FULL.md's supplemental external surface: the explicitly
// out-of-scope reporting/analytics collaborators named in spec.md §1
// have something concrete to import against, without the engine
// growing an HTTP API of its own.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
)

// Reader backs ClaimTimeline/FileAudit over the read-only pool, the
// same role internal/verify.Verifier uses.
type Reader struct {
	pool *pgxpool.Pool
}

// New builds a Reader over pool.
func New(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// TimelineEntry is one row of a claim's derived status history.
type TimelineEntry struct {
	Status     model.ClaimStatus
	StatusTime time.Time
}

// ClaimTimeline returns every claim_status_timeline row for claimKeyID,
// oldest first — the authoritative business ordering per spec.md §5.
func (r *Reader) ClaimTimeline(ctx context.Context, claimKeyID int64) ([]TimelineEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, status_time FROM claims.claim_status_timeline
		WHERE claim_key_id = $1
		ORDER BY status_time ASC, id ASC
	`, claimKeyID)
	if err != nil {
		return nil, fmt.Errorf("query claim timeline: %w", err)
	}
	defer rows.Close()

	var out []TimelineEntry
	for rows.Next() {
		var status int16
		var entry TimelineEntry
		if err := rows.Scan(&status, &entry.StatusTime); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		entry.Status = model.ClaimStatus(status)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline rows: %w", err)
	}
	return out, nil
}

// FileAuditSummary is the subset of ingestion_file_audit a reporting
// collaborator needs: counts and terminal status, not the full audit
// row shape internal/audit writes.
type FileAuditSummary struct {
	FileName            string
	Status              model.FileStatus
	ExpectedClaims      int
	PersistedClaims     int
	ExpectedActivities  int
	PersistedActivities int
	VerifyPassed        bool
}

// FileAudit looks up the audit summary for one ingestion_file id, by
// its most recent ingestion_file_audit row. A replay of an already
// ingested file_id short-circuits to ALREADY before persistence runs
// again, but it still gets its own audit row under the same
// ingestion_file_id, so after a replay that ALREADY row is the one
// returned.
func (r *Reader) FileAudit(ctx context.Context, ingestionFileID int64) (FileAuditSummary, error) {
	var s FileAuditSummary
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT file_name, status, expected_claims, persisted_claims, expected_activities, persisted_activities, verify_passed
		FROM claims.ingestion_file_audit
		WHERE ingestion_file_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, ingestionFileID).Scan(&s.FileName, &status, &s.ExpectedClaims, &s.PersistedClaims, &s.ExpectedActivities, &s.PersistedActivities, &s.VerifyPassed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return FileAuditSummary{}, fmt.Errorf("no audit row for ingestion_file %d", ingestionFileID)
		}
		return FileAuditSummary{}, fmt.Errorf("query file audit: %w", err)
	}
	s.Status = model.FileStatus(status)
	return s, nil
}
