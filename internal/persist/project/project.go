// Package project implements the Event Projector (C8, spec.md §4.8): it
// runs inside the same transaction C7 (internal/persist) holds open and
// derives the append-only claim_event chronology plus per-event
// activity/observation snapshots.
package project

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/ingesterr"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/parser"
)

// SubmissionInput carries everything ProjectSubmission needs to derive
// one claim's SUBMISSION event and its activity/observation snapshots.
type SubmissionInput struct {
	ClaimKeyID      int64
	SubmissionID    int64
	IngestionFileID int64
	EventTime       time.Time
	Claim           parser.ClaimDTO
	ActivityIDs     map[string]int64 // activity_id -> claims.activity.id, from C7's insert
}

// ProjectSubmission inserts one SUBMISSION claim_event plus its activity
// and observation snapshots, then extends the status timeline with
// SUBMITTED. Returns the new claim_event id (needed by the caller if a
// Resubmission marker follows). Exactly one SUBMISSION event may ever
// exist per claim key; a second attempt surfaces DUP_SUBMISSION_EVENT.
func ProjectSubmission(ctx context.Context, tx pgx.Tx, in SubmissionInput) (int64, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM claims.claim_event WHERE claim_key_id = $1 AND type = $2)
	`, in.ClaimKeyID, int16(model.EventSubmission)).Scan(&exists); err != nil {
		return 0, ingesterr.Wrap(ingesterr.KindPersistence, "SUBMISSION_EVENT_CHECK_FAILED", err)
	}
	if exists {
		return 0, ingesterr.New(ingesterr.KindDuplicateClaim, "DUP_SUBMISSION_EVENT", "claim key already has a SUBMISSION event").
			WithObject("ClaimKey", strconv.FormatInt(in.ClaimKeyID, 10))
	}

	eventID, err := insertClaimEvent(ctx, tx, in.ClaimKeyID, model.EventSubmission, in.EventTime, in.IngestionFileID, &in.SubmissionID, nil)
	if err != nil {
		return 0, err
	}

	if err := projectActivitySnapshots(ctx, tx, eventID, in.Claim.Activities, in.ActivityIDs); err != nil {
		return 0, err
	}

	if err := appendTimelineIfChanged(ctx, tx, in.ClaimKeyID, model.StatusSubmitted, in.EventTime); err != nil {
		return 0, err
	}

	return eventID, nil
}

// ProjectResubmission inserts a RESUBMISSION claim_event, its
// one-to-one claim_resubmission row, and extends the timeline with
// RESUBMITTED.
func ProjectResubmission(ctx context.Context, tx pgx.Tx, claimKeyID, _ int64, ingestionFileID, submissionID int64, eventTime time.Time, r parser.ResubmissionDTO) error {
	eventID, err := insertClaimEvent(ctx, tx, claimKeyID, model.EventResubmission, eventTime, ingestionFileID, &submissionID, nil)
	if err != nil {
		return err
	}

	var attachment []byte
	if r.AttachmentText != "" {
		attachment = []byte(r.AttachmentText)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO claims.claim_resubmission (claim_event_id, resub_type, comment, attachment_data)
		VALUES ($1, $2, $3, $4)
	`, eventID, r.Type, r.Comment, attachment)
	if err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "RESUBMISSION_INSERT_FAILED", err)
	}

	return appendTimelineIfChanged(ctx, tx, claimKeyID, model.StatusResubmitted, eventTime)
}

// RemittanceInput carries everything ProjectRemittance needs to derive
// one claim's REMITTANCE event and its activity snapshots. Status
// timeline derivation itself (cumulative-with-cap) stays in
// internal/persist, which has visibility across all remittances for the
// claim key, not just this one file's.
type RemittanceInput struct {
	ClaimKeyID      int64
	RemittanceID    int64
	IngestionFileID int64
	EventTime       time.Time
	Claim           parser.RemittanceClaimDTO
	ActivityIDs     map[string]int64
}

// ProjectRemittance inserts one REMITTANCE claim_event plus its activity
// snapshots (no observation snapshots: remittances carry no
// observations).
func ProjectRemittance(ctx context.Context, tx pgx.Tx, in RemittanceInput) (int64, error) {
	eventID, err := insertClaimEvent(ctx, tx, in.ClaimKeyID, model.EventRemittance, in.EventTime, in.IngestionFileID, nil, &in.RemittanceID)
	if err != nil {
		return 0, err
	}

	for _, a := range in.Claim.Activities {
		_, err := tx.Exec(ctx, `
			INSERT INTO claims.claim_event_activity (claim_event_id, activity_id_at_event, net, list_price, gross, patient_share, payment_amount, denial_code)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (claim_event_id, activity_id_at_event) DO NOTHING
		`, eventID, a.ActivityID, 0.0, a.ListPrice, a.Gross, a.PatientShare, a.PaymentAmount, a.DenialCode)
		if err != nil {
			return 0, ingesterr.Wrap(ingesterr.KindPersistence, "EVENT_ACTIVITY_INSERT_FAILED", err)
		}
	}

	return eventID, nil
}

func insertClaimEvent(ctx context.Context, tx pgx.Tx, claimKeyID int64, eventType model.ClaimEventType, eventTime time.Time, ingestionFileID int64, submissionID, remittanceID *int64) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO claims.claim_event (claim_key_id, type, event_time, ingestion_file_id, submission_id, remittance_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (claim_key_id, type, event_time) DO UPDATE SET event_time = EXCLUDED.event_time
		RETURNING id
	`, claimKeyID, int16(eventType), eventTime, ingestionFileID, submissionID, remittanceID).Scan(&id)
	if err != nil {
		return 0, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_EVENT_INSERT_FAILED", err)
	}
	return id, nil
}

func projectActivitySnapshots(ctx context.Context, tx pgx.Tx, eventID int64, activities []parser.ActivityDTO, activityIDs map[string]int64) error {
	for _, a := range activities {
		var claimEventActivityID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO claims.claim_event_activity (claim_event_id, activity_id_at_event, net, list_price, gross, patient_share, payment_amount, denial_code, prior_auth_id)
			VALUES ($1, $2, $3, 0, 0, 0, 0, '', $4)
			ON CONFLICT (claim_event_id, activity_id_at_event) DO UPDATE SET net = EXCLUDED.net
			RETURNING id
		`, eventID, a.ActivityID, a.Net, a.PriorAuthID).Scan(&claimEventActivityID)
		if err != nil {
			return ingesterr.Wrap(ingesterr.KindPersistence, "EVENT_ACTIVITY_INSERT_FAILED", err)
		}

		for _, o := range a.Observations {
			_, err := tx.Exec(ctx, `
				INSERT INTO claims.event_observation (claim_event_activity_id, obs_type, obs_code, value_text, value_hash)
				VALUES ($1, $2, $3, $4, digest($4, 'sha256'))
				ON CONFLICT (claim_event_activity_id, obs_type, obs_code, value_hash) DO NOTHING
			`, claimEventActivityID, o.ObsType, o.ObsCode, o.ValueText)
			if err != nil {
				return ingesterr.Wrap(ingesterr.KindPersistence, "EVENT_OBSERVATION_INSERT_FAILED", err)
			}
		}
	}
	return nil
}

// appendTimelineIfChanged extends claim_status_timeline only if status
// differs from the latest row, per spec.md §4.7/§4.8's append-only
// derived-status invariant. status_time is stamped with eventTime, the
// originating file header's transaction date, not the time the row
// happened to be inserted — spec.md §5 makes event_time the authoritative
// business ordering.
func appendTimelineIfChanged(ctx context.Context, tx pgx.Tx, claimKeyID int64, status model.ClaimStatus, eventTime time.Time) error {
	var lastStatus int16
	err := tx.QueryRow(ctx, `
		SELECT status FROM claims.claim_status_timeline WHERE claim_key_id = $1 ORDER BY status_time DESC, id DESC LIMIT 1
	`, claimKeyID).Scan(&lastStatus)
	if err != nil && err != pgx.ErrNoRows {
		return ingesterr.Wrap(ingesterr.KindPersistence, "TIMELINE_LOOKUP_FAILED", err)
	}
	if err == nil && model.ClaimStatus(lastStatus) == status {
		return nil
	}
	_, err = tx.Exec(ctx, `INSERT INTO claims.claim_status_timeline (claim_key_id, status, status_time) VALUES ($1, $2, $3)`, claimKeyID, int16(status), eventTime)
	if err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "TIMELINE_INSERT_FAILED", err)
	}
	return nil
}
