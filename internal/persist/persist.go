// Package persist implements the Persist Service (C7, spec.md §4.7): it
// installs the normalized graph for one file with exactly-once effect.
// Claim-key/claim upserts go through jackc/pgx/v5 batched multi-row round
// trips (pgx.Batch), and files above Config.TxPerChunkThreshold are split
// into several chunk transactions rather than one unbounded one, the same
// pgx transactional-batch-write idiom the teacher's own storage package
// uses for its write path.
package persist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/ingesterr"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/parser"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/persist/project"
)

// Config controls batching/transaction granularity, named in spec.md §6.
type Config struct {
	BatchSize           int // default 1000; claim-key/claim upserts per pgx.Batch round trip
	TxPerChunkThreshold int // default 5000; claims above this chunk into multiple transactions
	HashSensitive       bool
}

// Counts mirrors the return value shape in spec.md §4.7.
type Counts struct {
	Claims, Activities, Observations, Diagnoses int
	RemittanceClaims, RemittanceActivities      int
	Conflicts                                   int
}

// Problem is a row-level rejection that does not fail the whole file —
// a duplicate submission with no resubmission marker, for example — but
// must still surface as an ingestion_error row per spec.md §4.7/§7.
type Problem struct {
	ObjectType string
	ObjectKey  string
	Code       string
	Message    string
}

// BatchMetric is one pgx.Batch round trip's stats, recorded by the
// caller as an ingestion_batch_metric row once a file_audit_id exists
// (spec.md §4.11) — persist itself has no file_audit_id to write
// against, since that row is only created after the whole file finishes.
type BatchMetric struct {
	Stage            string
	BatchNo          int
	Attempted        int
	Inserted         int
	ConflictsIgnored int
	Duration         time.Duration
}

// Outcome is returned by IngestSubmission/IngestRemittance.
type Outcome struct {
	IngestionFileID int64
	Status          model.FileStatus
	Counts          Counts
	Problems        []Problem
	BatchMetrics    []BatchMetric
}

// Service writes the normalized graph for one file inside one or more
// chunk transactions, and (via internal/persist/project, C8) the
// append-only event/snapshot rows in the same transaction as the chunk
// that produced them.
type Service struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New builds a Service over pool (writer role).
func New(pool *pgxpool.Pool, cfg Config) *Service {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.TxPerChunkThreshold == 0 {
		cfg.TxPerChunkThreshold = 5000
	}
	return &Service{pool: pool, cfg: cfg}
}

// IngestSubmission installs one parsed submission file. file_id
// idempotency short-circuits to ALREADY before any claim is touched. Once
// past that check, claims are processed in chunks of at most
// TxPerChunkThreshold, each its own transaction, so a large file's total
// commit work stays bounded per spec.md §4.7.
func (s *Service) IngestSubmission(ctx context.Context, fileID, rawXML string, dto *parser.SubmissionDTO, raw []byte) (Outcome, error) {
	ingestionFileID, submissionID, already, err := s.openSubmission(ctx, fileID, dto.Header, raw)
	if err != nil {
		return Outcome{}, err
	}
	if already {
		return Outcome{IngestionFileID: ingestionFileID, Status: model.FileAlready}, nil
	}

	var totalCounts Counts
	var problems []Problem
	var batchMetrics []BatchMetric
	batchNo := 0

	chunkSize := s.cfg.TxPerChunkThreshold
	for start := 0; start < len(dto.Claims); start += chunkSize {
		end := start + chunkSize
		if end > len(dto.Claims) {
			end = len(dto.Claims)
		}

		chunkCounts, chunkProblems, chunkMetrics, err := s.ingestSubmissionChunk(ctx, ingestionFileID, submissionID, dto.Header, dto.Claims[start:end], s.cfg.HashSensitive, s.cfg.BatchSize, &batchNo)
		if err != nil {
			return Outcome{}, err
		}
		totalCounts.Claims += chunkCounts.Claims
		totalCounts.Activities += chunkCounts.Activities
		totalCounts.Observations += chunkCounts.Observations
		totalCounts.Diagnoses += chunkCounts.Diagnoses
		totalCounts.Conflicts += chunkCounts.Conflicts
		problems = append(problems, chunkProblems...)
		batchMetrics = append(batchMetrics, chunkMetrics...)
	}

	status := model.FileOK
	if len(problems) > 0 {
		if totalCounts.Claims == 0 {
			status = model.FileFail
		} else {
			status = model.FilePartial
		}
	}

	return Outcome{IngestionFileID: ingestionFileID, Status: status, Counts: totalCounts, Problems: problems, BatchMetrics: batchMetrics}, nil
}

// openSubmission resolves (or inserts) the ingestion_file/submission pair
// in its own short transaction, ahead of the chunked claim loop, so the
// idempotency check never depends on how many chunks a large file needs.
func (s *Service) openSubmission(ctx context.Context, fileID string, header parser.Header, raw []byte) (ingestionFileID, submissionID int64, already bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, false, ingesterr.Wrap(ingesterr.KindPersistence, "TX_BEGIN_FAILED", err)
	}
	defer tx.Rollback(ctx)

	ingestionFileID, already, err = upsertIngestionFile(ctx, tx, fileID, model.RootSubmission, header, raw)
	if err != nil {
		return 0, 0, false, err
	}
	if already {
		if err := tx.Commit(ctx); err != nil {
			return 0, 0, false, ingesterr.Wrap(ingesterr.KindPersistence, "TX_COMMIT_FAILED", err)
		}
		return ingestionFileID, 0, true, nil
	}

	submissionID, err = insertSubmissionGroup(ctx, tx, ingestionFileID)
	if err != nil {
		return 0, 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, false, ingesterr.Wrap(ingesterr.KindPersistence, "TX_COMMIT_FAILED", err)
	}
	return ingestionFileID, submissionID, false, nil
}

// ingestSubmissionChunk persists one chunk (at most TxPerChunkThreshold
// claims) of an already-resolved ingestion_file/submission pair inside
// its own transaction, batching the claim_key/claim upserts in groups of
// batchSize via pgx.Batch. *batchNo is shared across chunks so recorded
// batch numbers stay monotonic for the whole file.
func (s *Service) ingestSubmissionChunk(ctx context.Context, ingestionFileID, submissionID int64, header parser.Header, claims []parser.ClaimDTO, hashSensitive bool, batchSize int, batchNo *int) (Counts, []Problem, []BatchMetric, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Counts{}, nil, nil, ingesterr.Wrap(ingesterr.KindPersistence, "TX_BEGIN_FAILED", err)
	}
	defer tx.Rollback(ctx)

	counts := Counts{}
	var problems []Problem
	var metrics []BatchMetric

	for batchStart := 0; batchStart < len(claims); batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > len(claims) {
			batchEnd = len(claims)
		}
		batch := claims[batchStart:batchEnd]

		started := time.Now()
		rows, err := upsertClaimsBatch(ctx, tx, submissionID, batch, hashSensitive)
		if err != nil {
			return Counts{}, nil, nil, err
		}

		inserted := 0
		for _, row := range rows {
			if row.inserted {
				inserted++
			}
		}
		*batchNo++
		metrics = append(metrics, BatchMetric{
			Stage:            "claim_upsert",
			BatchNo:          *batchNo,
			Attempted:        len(batch),
			Inserted:         inserted,
			ConflictsIgnored: len(batch) - inserted,
			Duration:         time.Since(started),
		})

		for i, claim := range batch {
			row := rows[i]

			if !row.inserted {
				if claim.Resubmission == nil {
					counts.Conflicts++
					problems = append(problems, Problem{
						ObjectType: "Claim",
						ObjectKey:  claim.ClaimID,
						Code:       "DUP_SUBMISSION_NO_RESUB",
						Message:    "claim already submitted and carries no resubmission marker",
					})
					continue // row-level rejection, peers persist
				}
				// A resubmission marker licenses reusing the existing claim
				// row for event projection purposes; row.claimID was still
				// resolved by upsertClaimsBatch's fallback lookup.
			}

			counts.Claims++

			if claim.Encounter != nil {
				if err := insertEncounter(ctx, tx, row.claimID, *claim.Encounter); err != nil {
					return Counts{}, nil, nil, err
				}
			}
			for _, d := range claim.Diagnoses {
				if err := insertDiagnosis(ctx, tx, row.claimID, d); err != nil {
					return Counts{}, nil, nil, err
				}
				counts.Diagnoses++
			}

			activityIDs := make(map[string]int64, len(claim.Activities))
			for _, a := range claim.Activities {
				activityID, err := insertActivity(ctx, tx, row.claimID, a)
				if err != nil {
					return Counts{}, nil, nil, err
				}
				activityIDs[a.ActivityID] = activityID
				counts.Activities++

				for _, o := range a.Observations {
					obsInserted, err := insertObservation(ctx, tx, activityID, o)
					if err != nil {
						return Counts{}, nil, nil, err
					}
					if obsInserted {
						counts.Observations++
					}
				}
			}

			// A SUBMISSION event is projected only the first time a claim
			// key is actually inserted; a resubmission reuses the existing
			// claim row and claim key but gets its own RESUBMISSION event
			// instead — calling ProjectSubmission again here would trip its
			// exactly-once-per-claim-key invariant.
			if row.inserted {
				if _, err := project.ProjectSubmission(ctx, tx, project.SubmissionInput{
					ClaimKeyID:      row.claimKeyID,
					SubmissionID:    submissionID,
					IngestionFileID: ingestionFileID,
					EventTime:       header.TransactionDate,
					Claim:           claim,
					ActivityIDs:     activityIDs,
				}); err != nil {
					return Counts{}, nil, nil, err
				}
			}

			if claim.Resubmission != nil {
				if err := project.ProjectResubmission(ctx, tx, row.claimKeyID, 0, ingestionFileID, submissionID, header.TransactionDate, *claim.Resubmission); err != nil {
					return Counts{}, nil, nil, err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Counts{}, nil, nil, ingesterr.Wrap(ingesterr.KindPersistence, "TX_COMMIT_FAILED", err)
	}
	return counts, problems, metrics, nil
}

// claimBatchRow is one claim_key/claim upsert's resolved ids, in the same
// order as the claims slice that produced it.
type claimBatchRow struct {
	claimKeyID int64
	claimID    int64
	inserted   bool
}

// upsertClaimsBatch upserts claim_key then claim for every claim in one
// pgx.Batch round trip each, falling back to a second batched SELECT only
// for the rows whose claim insert hit ON CONFLICT DO NOTHING.
func upsertClaimsBatch(ctx context.Context, tx pgx.Tx, submissionID int64, claims []parser.ClaimDTO, hashSensitive bool) ([]claimBatchRow, error) {
	keyBatch := &pgx.Batch{}
	for _, c := range claims {
		keyBatch.Queue(`
			INSERT INTO claims.claim_key (claim_id) VALUES ($1)
			ON CONFLICT (claim_id) DO UPDATE SET claim_id = EXCLUDED.claim_id
			RETURNING id
		`, c.ClaimID)
	}
	keyResults := tx.SendBatch(ctx, keyBatch)
	rows := make([]claimBatchRow, len(claims))
	for i := range claims {
		if err := keyResults.QueryRow().Scan(&rows[i].claimKeyID); err != nil {
			keyResults.Close()
			return nil, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_KEY_UPSERT_FAILED", err)
		}
	}
	if err := keyResults.Close(); err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_KEY_UPSERT_FAILED", err)
	}

	claimBatch := &pgx.Batch{}
	for i, c := range claims {
		patientIdentifier := c.PatientIdentifier
		if hashSensitive && patientIdentifier != "" {
			sum := sha256.Sum256([]byte(patientIdentifier))
			patientIdentifier = hex.EncodeToString(sum[:])
		}
		var net float64
		if c.Net != nil {
			net = *c.Net
		}
		claimBatch.Queue(`
			INSERT INTO claims.claim (claim_key_id, submission_id, payer_id, provider_id, member_id, patient_identifier, gross, patient_share, net, comments)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (claim_key_id) DO NOTHING
			RETURNING id
		`, rows[i].claimKeyID, submissionID, c.PayerID, c.ProviderID, c.MemberID, patientIdentifier, c.Gross, c.PatientShare, net, c.Comments)
	}

	claimResults := tx.SendBatch(ctx, claimBatch)
	var needsLookup []int
	for i := range claims {
		var id int64
		err := claimResults.QueryRow().Scan(&id)
		if err == pgx.ErrNoRows {
			needsLookup = append(needsLookup, i)
			continue
		}
		if err != nil {
			claimResults.Close()
			return nil, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_INSERT_FAILED", err)
		}
		rows[i].claimID = id
		rows[i].inserted = true
	}
	if err := claimResults.Close(); err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_INSERT_FAILED", err)
	}

	if len(needsLookup) > 0 {
		lookupBatch := &pgx.Batch{}
		for _, i := range needsLookup {
			lookupBatch.Queue(`SELECT id FROM claims.claim WHERE claim_key_id = $1`, rows[i].claimKeyID)
		}
		lookupResults := tx.SendBatch(ctx, lookupBatch)
		for _, i := range needsLookup {
			var id int64
			if err := lookupResults.QueryRow().Scan(&id); err != nil {
				lookupResults.Close()
				return nil, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_LOOKUP_FAILED", err)
			}
			rows[i].claimID = id
		}
		if err := lookupResults.Close(); err != nil {
			return nil, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_LOOKUP_FAILED", err)
		}
	}

	return rows, nil
}

// IngestRemittance installs one parsed remittance file, chunked the same
// way IngestSubmission is, then recomputes the derived status timeline
// per spec.md §4.7's cumulative-with-cap rule for every claim key touched
// across the whole file.
func (s *Service) IngestRemittance(ctx context.Context, fileID, rawXML string, dto *parser.RemittanceAdviceDTO, raw []byte) (Outcome, error) {
	ingestionFileID, remittanceID, already, err := s.openRemittance(ctx, fileID, dto.Header, raw)
	if err != nil {
		return Outcome{}, err
	}
	if already {
		return Outcome{IngestionFileID: ingestionFileID, Status: model.FileAlready}, nil
	}

	var totalCounts Counts
	var batchMetrics []BatchMetric
	batchNo := 0
	touchedClaimKeys := make(map[int64]struct{})

	chunkSize := s.cfg.TxPerChunkThreshold
	for start := 0; start < len(dto.Claims); start += chunkSize {
		end := start + chunkSize
		if end > len(dto.Claims) {
			end = len(dto.Claims)
		}

		chunkCounts, chunkTouched, chunkMetrics, err := s.ingestRemittanceChunk(ctx, ingestionFileID, remittanceID, dto.Header, dto.Claims[start:end], s.cfg.BatchSize, &batchNo)
		if err != nil {
			return Outcome{}, err
		}
		totalCounts.RemittanceClaims += chunkCounts.RemittanceClaims
		totalCounts.RemittanceActivities += chunkCounts.RemittanceActivities
		batchMetrics = append(batchMetrics, chunkMetrics...)
		for k := range chunkTouched {
			touchedClaimKeys[k] = struct{}{}
		}
	}

	if err := s.recomputeStatuses(ctx, touchedClaimKeys, dto.Header.TransactionDate); err != nil {
		return Outcome{}, err
	}

	return Outcome{IngestionFileID: ingestionFileID, Status: model.FileOK, Counts: totalCounts, BatchMetrics: batchMetrics}, nil
}

func (s *Service) openRemittance(ctx context.Context, fileID string, header parser.Header, raw []byte) (ingestionFileID, remittanceID int64, already bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, false, ingesterr.Wrap(ingesterr.KindPersistence, "TX_BEGIN_FAILED", err)
	}
	defer tx.Rollback(ctx)

	ingestionFileID, already, err = upsertIngestionFile(ctx, tx, fileID, model.RootRemittance, header, raw)
	if err != nil {
		return 0, 0, false, err
	}
	if already {
		if err := tx.Commit(ctx); err != nil {
			return 0, 0, false, ingesterr.Wrap(ingesterr.KindPersistence, "TX_COMMIT_FAILED", err)
		}
		return ingestionFileID, 0, true, nil
	}

	remittanceID, err = insertRemittanceGroup(ctx, tx, ingestionFileID)
	if err != nil {
		return 0, 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, false, ingesterr.Wrap(ingesterr.KindPersistence, "TX_COMMIT_FAILED", err)
	}
	return ingestionFileID, remittanceID, false, nil
}

// ingestRemittanceChunk persists one chunk of remittance claims inside
// its own transaction, batching the claim_key upserts via pgx.Batch.
func (s *Service) ingestRemittanceChunk(ctx context.Context, ingestionFileID, remittanceID int64, header parser.Header, claims []parser.RemittanceClaimDTO, batchSize int, batchNo *int) (Counts, map[int64]struct{}, []BatchMetric, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Counts{}, nil, nil, ingesterr.Wrap(ingesterr.KindPersistence, "TX_BEGIN_FAILED", err)
	}
	defer tx.Rollback(ctx)

	counts := Counts{}
	touched := make(map[int64]struct{})
	var metrics []BatchMetric

	for batchStart := 0; batchStart < len(claims); batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > len(claims) {
			batchEnd = len(claims)
		}
		batch := claims[batchStart:batchEnd]

		started := time.Now()
		claimKeyIDs, err := upsertClaimKeysBatch(ctx, tx, batch)
		if err != nil {
			return Counts{}, nil, nil, err
		}
		*batchNo++
		metrics = append(metrics, BatchMetric{
			Stage:     "remittance_claim_key_upsert",
			BatchNo:   *batchNo,
			Attempted: len(batch),
			Inserted:  len(batch),
			Duration:  time.Since(started),
		})

		for i, rc := range batch {
			claimKeyID := claimKeyIDs[i]
			touched[claimKeyID] = struct{}{}

			remittanceClaimID, err := insertRemittanceClaim(ctx, tx, remittanceID, claimKeyID, rc)
			if err != nil {
				return Counts{}, nil, nil, err
			}
			counts.RemittanceClaims++

			activityIDs := make(map[string]int64, len(rc.Activities))
			for _, a := range rc.Activities {
				remActID, err := insertRemittanceActivity(ctx, tx, remittanceClaimID, a)
				if err != nil {
					return Counts{}, nil, nil, err
				}
				activityIDs[a.ActivityID] = remActID
				counts.RemittanceActivities++
			}

			if _, err := project.ProjectRemittance(ctx, tx, project.RemittanceInput{
				ClaimKeyID:      claimKeyID,
				RemittanceID:    remittanceID,
				IngestionFileID: ingestionFileID,
				EventTime:       header.TransactionDate,
				Claim:           rc,
				ActivityIDs:     activityIDs,
			}); err != nil {
				return Counts{}, nil, nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Counts{}, nil, nil, ingesterr.Wrap(ingesterr.KindPersistence, "TX_COMMIT_FAILED", err)
	}
	return counts, touched, metrics, nil
}

// upsertClaimKeysBatch upserts claim_key for every remittance claim in
// one pgx.Batch round trip, returning ids in the same order as claims.
func upsertClaimKeysBatch(ctx context.Context, tx pgx.Tx, claims []parser.RemittanceClaimDTO) ([]int64, error) {
	batch := &pgx.Batch{}
	for _, rc := range claims {
		batch.Queue(`
			INSERT INTO claims.claim_key (claim_id) VALUES ($1)
			ON CONFLICT (claim_id) DO UPDATE SET claim_id = EXCLUDED.claim_id
			RETURNING id
		`, rc.ClaimID)
	}
	results := tx.SendBatch(ctx, batch)
	ids := make([]int64, len(claims))
	for i := range claims {
		if err := results.QueryRow().Scan(&ids[i]); err != nil {
			results.Close()
			return nil, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_KEY_UPSERT_FAILED", err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_KEY_UPSERT_FAILED", err)
	}
	return ids, nil
}

// recomputeStatuses runs recomputeStatus for every touched claim key in
// its own short transaction, stamped with eventTime (the remittance
// file's header transaction date).
func (s *Service) recomputeStatuses(ctx context.Context, claimKeys map[int64]struct{}, eventTime time.Time) error {
	if len(claimKeys) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "TX_BEGIN_FAILED", err)
	}
	defer tx.Rollback(ctx)

	for claimKeyID := range claimKeys {
		if err := recomputeStatus(ctx, tx, claimKeyID, eventTime); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "TX_COMMIT_FAILED", err)
	}
	return nil
}

func upsertIngestionFile(ctx context.Context, tx pgx.Tx, fileID string, root model.RootKind, header parser.Header, raw []byte) (int64, bool, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO claims.ingestion_file (file_id, root_kind, sender_id, receiver_id, transaction_time, declared_records, raw_xml, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (file_id) DO NOTHING
		RETURNING id
	`, fileID, int(root), header.SenderID, header.ReceiverID, header.TransactionDate, header.RecordCount, raw).Scan(&id)

	if err == pgx.ErrNoRows {
		// The row already existed: fetch its id and report ALREADY.
		if qerr := tx.QueryRow(ctx, `SELECT id FROM claims.ingestion_file WHERE file_id = $1`, fileID).Scan(&id); qerr != nil {
			return 0, false, ingesterr.Wrap(ingesterr.KindPersistence, "FILE_LOOKUP_FAILED", qerr)
		}
		return id, true, nil
	}
	if err != nil {
		return 0, false, ingesterr.Wrap(ingesterr.KindPersistence, "FILE_INSERT_FAILED", err)
	}
	return id, false, nil
}

func insertSubmissionGroup(ctx context.Context, tx pgx.Tx, fileID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO claims.submission (ingestion_file_id) VALUES ($1) RETURNING id`, fileID).Scan(&id)
	if err != nil {
		return 0, ingesterr.Wrap(ingesterr.KindPersistence, "SUBMISSION_INSERT_FAILED", err)
	}
	return id, nil
}

func insertRemittanceGroup(ctx context.Context, tx pgx.Tx, fileID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO claims.remittance (ingestion_file_id) VALUES ($1) RETURNING id`, fileID).Scan(&id)
	if err != nil {
		return 0, ingesterr.Wrap(ingesterr.KindPersistence, "REMITTANCE_INSERT_FAILED", err)
	}
	return id, nil
}

func insertEncounter(ctx context.Context, tx pgx.Tx, claimID int64, e parser.EncounterDTO) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO claims.encounter (claim_id, facility_id, encounter_type, patient_id, start_time, end_time, start_type, end_type, transfer_source, transfer_destination)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, claimID, e.FacilityID, e.EncounterType, e.PatientID, e.Start, e.End, e.StartType, e.EndType, e.TransferSource, e.TransferDestination)
	if err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "ENCOUNTER_INSERT_FAILED", err)
	}
	return nil
}

func insertDiagnosis(ctx context.Context, tx pgx.Tx, claimID int64, d parser.DiagnosisDTO) error {
	_, err := tx.Exec(ctx, `INSERT INTO claims.diagnosis (claim_id, type, code) VALUES ($1, $2, $3)`, claimID, d.Type, d.Code)
	if err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "DIAGNOSIS_INSERT_FAILED", err)
	}
	return nil
}

func insertActivity(ctx context.Context, tx pgx.Tx, claimID int64, a parser.ActivityDTO) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO claims.activity (claim_id, activity_id, start_time, type, code, quantity, net, clinician, prior_auth_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (claim_id, activity_id) DO UPDATE SET activity_id = EXCLUDED.activity_id
		RETURNING id
	`, claimID, a.ActivityID, a.Start, a.Type, a.Code, a.Quantity, a.Net, a.Clinician, a.PriorAuthID).Scan(&id)
	if err != nil {
		return 0, ingesterr.Wrap(ingesterr.KindPersistence, "ACTIVITY_INSERT_FAILED", err)
	}
	return id, nil
}

func insertObservation(ctx context.Context, tx pgx.Tx, activityID int64, o parser.ObservationDTO) (bool, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO claims.observation (activity_id, obs_type, obs_code, value_text, value_hash, raw_bytes)
		VALUES ($1, $2, $3, $4, digest($4, 'sha256'), $5)
		ON CONFLICT (activity_id, obs_type, obs_code, value_hash) DO NOTHING
		RETURNING id
	`, activityID, o.ObsType, o.ObsCode, o.ValueText, nullableBytes(o.RawBytes)).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, ingesterr.Wrap(ingesterr.KindPersistence, "OBSERVATION_INSERT_FAILED", err)
	}
	return true, nil
}

func insertRemittanceClaim(ctx context.Context, tx pgx.Tx, remittanceID, claimKeyID int64, rc parser.RemittanceClaimDTO) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO claims.remittance_claim (remittance_id, claim_key_id, payer_id, provider_id, denial_code, payment_ref, date_settlement, facility_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (remittance_id, claim_key_id) DO UPDATE SET denial_code = EXCLUDED.denial_code
		RETURNING id
	`, remittanceID, claimKeyID, rc.PayerID, rc.ProviderID, rc.DenialCode, rc.PaymentRef, rc.DateSettlement, rc.FacilityID).Scan(&id)
	if err != nil {
		return 0, ingesterr.Wrap(ingesterr.KindPersistence, "REMITTANCE_CLAIM_INSERT_FAILED", err)
	}
	return id, nil
}

func insertRemittanceActivity(ctx context.Context, tx pgx.Tx, remittanceClaimID int64, a parser.RemittanceActivityDTO) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO claims.remittance_activity (remittance_claim_id, activity_id, payment_amount, list_price, gross, patient_share, denial_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (remittance_claim_id, activity_id) DO UPDATE SET payment_amount = EXCLUDED.payment_amount, denial_code = EXCLUDED.denial_code
		RETURNING id
	`, remittanceClaimID, a.ActivityID, a.PaymentAmount, a.ListPrice, a.Gross, a.PatientShare, a.DenialCode).Scan(&id)
	if err != nil {
		return 0, ingesterr.Wrap(ingesterr.KindPersistence, "REMITTANCE_ACTIVITY_INSERT_FAILED", err)
	}
	return id, nil
}

// recomputeStatus applies the cumulative-with-cap aggregation rule from
// spec.md §4.7: sum payments per claim across all historical remittance
// activity, capped at the claim's originally submitted net, derive a
// status, and append a new timeline row — stamped with eventTime, the
// originating file header's transaction date — only if the status
// changed.
func recomputeStatus(ctx context.Context, tx pgx.Tx, claimKeyID int64, eventTime time.Time) error {
	var net float64
	if err := tx.QueryRow(ctx, `SELECT net FROM claims.claim WHERE claim_key_id = $1`, claimKeyID).Scan(&net); err != nil {
		if err == pgx.ErrNoRows {
			return nil // remittance-only claim key, never submitted: nothing to derive against
		}
		return ingesterr.Wrap(ingesterr.KindPersistence, "CLAIM_NET_LOOKUP_FAILED", err)
	}

	var paidSum float64
	var anyDenial bool
	rows, err := tx.Query(ctx, `
		SELECT ra.payment_amount, ra.denial_code
		FROM claims.remittance_activity ra
		JOIN claims.remittance_claim rc ON rc.id = ra.remittance_claim_id
		WHERE rc.claim_key_id = $1
	`, claimKeyID)
	if err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "REMITTANCE_ACTIVITY_SCAN_FAILED", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payment float64
		var denial string
		if err := rows.Scan(&payment, &denial); err != nil {
			return ingesterr.Wrap(ingesterr.KindPersistence, "REMITTANCE_ACTIVITY_SCAN_FAILED", err)
		}
		paidSum += payment
		if denial != "" {
			anyDenial = true
		}
	}
	if err := rows.Err(); err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "REMITTANCE_ACTIVITY_SCAN_FAILED", err)
	}

	if paidSum > net {
		paidSum = net // cumulative-with-cap
	}

	status := model.StatusUnknown
	switch {
	case net > 0 && paidSum == net:
		status = model.StatusPaid
	case paidSum > 0 && paidSum < net:
		status = model.StatusPartiallyPaid
	case paidSum == 0 && anyDenial:
		status = model.StatusRejected
	}

	var lastStatus int16
	err = tx.QueryRow(ctx, `
		SELECT status FROM claims.claim_status_timeline WHERE claim_key_id = $1 ORDER BY status_time DESC, id DESC LIMIT 1
	`, claimKeyID).Scan(&lastStatus)
	if err != nil && err != pgx.ErrNoRows {
		return ingesterr.Wrap(ingesterr.KindPersistence, "TIMELINE_LOOKUP_FAILED", err)
	}
	if err == nil && model.ClaimStatus(lastStatus) == status {
		return nil // unchanged: no new timeline row
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO claims.claim_status_timeline (claim_key_id, status, status_time) VALUES ($1, $2, $3)
	`, claimKeyID, int16(status), eventTime)
	if err != nil {
		return ingesterr.Wrap(ingesterr.KindPersistence, "TIMELINE_INSERT_FAILED", err)
	}
	return nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
