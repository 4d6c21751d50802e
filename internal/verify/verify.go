// Package verify implements the Verifier (C9, spec.md §4.9): a fixed set
// of read-only integrity checks run against the read-only pool role
// after the Persist Service commits. It never throws — a check failure
// downgrades the outcome to false; the caller then records
// verify_passed=false on the file's audit row, sets its status to FAIL
// and suppresses acknowledgement.
package verify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Expected carries the parser's own tallies so the verifier can confirm
// persistence didn't silently drop rows, per spec.md §4.9 check 2.
type Expected struct {
	Claims     int
	Activities int
}

// Result is the outcome of one file's verification pass.
type Result struct {
	OK     bool
	Reason string // populated only when OK is false
}

// Verifier runs read-only checks over a pool configured with the
// read-only role DSN, per spec.md §5's "Shared resources."
type Verifier struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New builds a Verifier over a read-only pool.
func New(pool *pgxpool.Pool, log *zap.Logger) *Verifier {
	return &Verifier{pool: pool, log: log}
}

// Verify runs all three checks from spec.md §4.9 for the given
// ingestion_file id. Any single check failing short-circuits the rest
// and returns OK=false with a Reason; a query error is itself treated
// as a failed check (logged, never propagated as an error), since the
// verifier's contract is "return false," not "throw."
func (v *Verifier) Verify(ctx context.Context, ingestionFileID int64, expected Expected) Result {
	if ok, reason := v.checkHasClaimEvent(ctx, ingestionFileID); !ok {
		return Result{OK: false, Reason: reason}
	}
	if ok, reason := v.checkExpectedCounts(ctx, ingestionFileID, expected); !ok {
		return Result{OK: false, Reason: reason}
	}
	if ok, reason := v.checkNoOrphans(ctx, ingestionFileID); !ok {
		return Result{OK: false, Reason: reason}
	}
	return Result{OK: true}
}

// checkHasClaimEvent enforces spec.md §4.9 check 1: at least one
// claim_event row must exist for this file, or persistence effectively
// did nothing.
func (v *Verifier) checkHasClaimEvent(ctx context.Context, ingestionFileID int64) (bool, string) {
	var count int
	err := v.pool.QueryRow(ctx, `
		SELECT count(*) FROM claims.claim_event WHERE ingestion_file_id = $1
	`, ingestionFileID).Scan(&count)
	if err != nil {
		v.log.Warn("verify: claim_event count query failed", zap.Int64("ingestion_file_id", ingestionFileID), zap.Error(err))
		return false, "claim_event count query failed"
	}
	if count < 1 {
		return false, "no claim_event rows for this file"
	}
	return true, ""
}

// checkExpectedCounts enforces spec.md §4.9 check 2: if the parser
// reported expected tallies, the projected rows must match or exceed
// them. A row-level skip such as DUP_SUBMISSION_NO_RESUB leaves fewer
// rows than the parser counted, so such a file fails this check. The
// check only fires when expected is non-zero, since a zero expectation
// means the caller didn't track it.
func (v *Verifier) checkExpectedCounts(ctx context.Context, ingestionFileID int64, expected Expected) (bool, string) {
	if expected.Claims == 0 && expected.Activities == 0 {
		return true, ""
	}

	var claimEvents, activities int
	err := v.pool.QueryRow(ctx, `
		SELECT count(*) FROM claims.claim_event WHERE ingestion_file_id = $1
	`, ingestionFileID).Scan(&claimEvents)
	if err != nil {
		v.log.Warn("verify: claim count query failed", zap.Int64("ingestion_file_id", ingestionFileID), zap.Error(err))
		return false, "claim count query failed"
	}
	if expected.Claims > 0 && claimEvents < expected.Claims {
		return false, "persisted claim_event count below expected"
	}

	err = v.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM claims.claim_event_activity cea
		JOIN claims.claim_event ce ON ce.id = cea.claim_event_id
		WHERE ce.ingestion_file_id = $1
	`, ingestionFileID).Scan(&activities)
	if err != nil {
		v.log.Warn("verify: activity count query failed", zap.Int64("ingestion_file_id", ingestionFileID), zap.Error(err))
		return false, "activity count query failed"
	}
	if expected.Activities > 0 && activities < expected.Activities {
		return false, "persisted claim_event_activity count below expected"
	}

	return true, ""
}

// checkNoOrphans enforces spec.md §4.9 check 3: every row that should
// resolve to a parent does. A driven count > 0 means at least one
// dangling row slipped past a foreign key (should be structurally
// impossible given the schema's FK constraints, but the check is cheap
// insurance for rows written outside a constraint-checked path, e.g. a
// future bulk-load tool).
func (v *Verifier) checkNoOrphans(ctx context.Context, ingestionFileID int64) (bool, string) {
	var orphanActivities int
	err := v.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM claims.activity a
		LEFT JOIN claims.claim c ON c.id = a.claim_id
		WHERE c.id IS NULL AND a.claim_id IN (
			SELECT a2.claim_id FROM claims.activity a2
			JOIN claims.claim c2 ON c2.submission_id IN (
				SELECT id FROM claims.submission WHERE ingestion_file_id = $1
			)
		)
	`, ingestionFileID).Scan(&orphanActivities)
	if err != nil {
		v.log.Warn("verify: orphan activity query failed", zap.Int64("ingestion_file_id", ingestionFileID), zap.Error(err))
		return false, "orphan activity query failed"
	}
	if orphanActivities > 0 {
		return false, "orphan activity rows detected"
	}

	var orphanEventActivities int
	err = v.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM claims.claim_event_activity cea
		LEFT JOIN claims.claim_event ce ON ce.id = cea.claim_event_id
		WHERE ce.id IS NULL
	`).Scan(&orphanEventActivities)
	if err != nil {
		v.log.Warn("verify: orphan claim_event_activity query failed", zap.Int64("ingestion_file_id", ingestionFileID), zap.Error(err))
		return false, "orphan claim_event_activity query failed"
	}
	if orphanEventActivities > 0 {
		return false, "orphan claim_event_activity rows detected"
	}

	var orphanObservations int
	err = v.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM claims.event_observation eo
		LEFT JOIN claims.claim_event_activity cea ON cea.id = eo.claim_event_activity_id
		WHERE cea.id IS NULL
	`).Scan(&orphanObservations)
	if err != nil {
		v.log.Warn("verify: orphan event_observation query failed", zap.Int64("ingestion_file_id", ingestionFileID), zap.Error(err))
		return false, "orphan event_observation query failed"
	}
	if orphanObservations > 0 {
		return false, "orphan event_observation rows detected"
	}

	return true, ""
}
