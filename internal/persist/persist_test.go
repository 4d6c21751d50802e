package persist

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/parser"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/storage/migrations"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed persist test in -short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("claims_persist_test"),
		tcpostgres.WithUsername("claims"),
		tcpostgres.WithPassword("claims"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, migrations.Migrate(db))
	require.NoError(t, db.Close())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func net(v float64) *float64 { return &v }

func sampleClaim(claimID string, resub *parser.ResubmissionDTO) parser.ClaimDTO {
	return parser.ClaimDTO{
		ClaimID:    claimID,
		PayerID:    "PAYER1",
		ProviderID: "PROV1",
		Gross:      100,
		Net:        net(100),
		Activities: []parser.ActivityDTO{
			{ActivityID: "ACT1", Code: "99213", Net: 100},
		},
		Resubmission: resub,
	}
}

func TestIngestSubmissionThenDuplicateFileIsAlready(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	svc := New(pool, Config{})

	dto := &parser.SubmissionDTO{
		Header: parser.Header{SenderID: "S1", ReceiverID: "R1", TransactionDate: time.Now()},
		Claims: []parser.ClaimDTO{sampleClaim("CLAIM1", nil)},
	}

	first, err := svc.IngestSubmission(ctx, "FILE1", "", dto, []byte("<xml/>"))
	require.NoError(t, err)
	require.Equal(t, model.FileOK, first.Status)
	require.Equal(t, 1, first.Counts.Claims)
	require.Equal(t, 1, first.Counts.Activities)

	second, err := svc.IngestSubmission(ctx, "FILE1", "", dto, []byte("<xml/>"))
	require.NoError(t, err)
	require.Equal(t, model.FileAlready, second.Status)
	require.Equal(t, first.IngestionFileID, second.IngestionFileID)
}

func TestIngestSubmissionThenResubmissionAppendsTimelineNotDuplicateEvent(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	svc := New(pool, Config{})

	initial := &parser.SubmissionDTO{
		Header: parser.Header{SenderID: "S1", ReceiverID: "R1", TransactionDate: time.Now()},
		Claims: []parser.ClaimDTO{sampleClaim("CLAIM2", nil)},
	}
	_, err := svc.IngestSubmission(ctx, "FILE2", "", initial, []byte("<xml/>"))
	require.NoError(t, err)

	resubmitted := &parser.SubmissionDTO{
		Header: parser.Header{SenderID: "S1", ReceiverID: "R1", TransactionDate: time.Now().Add(time.Hour)},
		Claims: []parser.ClaimDTO{sampleClaim("CLAIM2", &parser.ResubmissionDTO{Type: "correction", Comment: "fixed diagnosis"})},
	}
	outcome, err := svc.IngestSubmission(ctx, "FILE3", "", resubmitted, []byte("<xml/>"))
	require.NoError(t, err)
	require.Equal(t, model.FileOK, outcome.Status)

	var claimKeyID int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT id FROM claims.claim_key WHERE claim_id = 'CLAIM2'`).Scan(&claimKeyID))

	var submissionEvents, resubmissionEvents int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT count(*) FROM claims.claim_event WHERE claim_key_id = $1 AND type = $2
	`, claimKeyID, int(model.EventSubmission)).Scan(&submissionEvents))
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT count(*) FROM claims.claim_event WHERE claim_key_id = $1 AND type = $2
	`, claimKeyID, int(model.EventResubmission)).Scan(&resubmissionEvents))

	require.Equal(t, 1, submissionEvents, "exactly one SUBMISSION event per claim key, even across a resubmission")
	require.Equal(t, 1, resubmissionEvents)

	var lastStatus int16
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT status FROM claims.claim_status_timeline WHERE claim_key_id = $1 ORDER BY status_time DESC, id DESC LIMIT 1
	`, claimKeyID).Scan(&lastStatus))
	require.Equal(t, model.StatusResubmitted, model.ClaimStatus(lastStatus))
}

func TestIngestSubmissionStampsTimelineWithHeaderEventTimeNotWallClock(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	svc := New(pool, Config{})

	eventTime := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	dto := &parser.SubmissionDTO{
		Header: parser.Header{SenderID: "S1", ReceiverID: "R1", TransactionDate: eventTime},
		Claims: []parser.ClaimDTO{sampleClaim("CLAIM-EVENTTIME", nil)},
	}

	before := time.Now()
	_, err := svc.IngestSubmission(ctx, "FILE-EVENTTIME", "", dto, []byte("<xml/>"))
	require.NoError(t, err)

	var claimKeyID int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT id FROM claims.claim_key WHERE claim_id = 'CLAIM-EVENTTIME'`).Scan(&claimKeyID))

	var statusTime time.Time
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT status_time FROM claims.claim_status_timeline WHERE claim_key_id = $1 ORDER BY status_time DESC, id DESC LIMIT 1
	`, claimKeyID).Scan(&statusTime))

	require.True(t, statusTime.Equal(eventTime), "timeline status_time must be the header's transaction date, not wall-clock ingestion time")
	require.True(t, statusTime.Before(before), "a 2025-01-10 event time predates the test run and must not be overwritten by now()")
}

func TestIngestSubmissionDuplicateClaimWithoutResubmissionMarkerIsPartialWithProblem(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	svc := New(pool, Config{})

	dto := &parser.SubmissionDTO{
		Header: parser.Header{SenderID: "S1", ReceiverID: "R1", TransactionDate: time.Now()},
		Claims: []parser.ClaimDTO{sampleClaim("CLAIM-DUP", nil)},
	}
	first, err := svc.IngestSubmission(ctx, "FILE-DUP-1", "", dto, []byte("<xml/>"))
	require.NoError(t, err)
	require.Equal(t, model.FileOK, first.Status)

	// Same claim id resubmitted under a new file_id, still no resubmission
	// marker: the claim row already exists, so it must be rejected as
	// DUP_SUBMISSION_NO_RESUB rather than silently re-accepted.
	again := &parser.SubmissionDTO{
		Header: parser.Header{SenderID: "S1", ReceiverID: "R1", TransactionDate: time.Now()},
		Claims: []parser.ClaimDTO{
			sampleClaim("CLAIM-DUP", nil),
			sampleClaim("CLAIM-DUP-OTHER", nil),
		},
	}
	second, err := svc.IngestSubmission(ctx, "FILE-DUP-2", "", again, []byte("<xml/>"))
	require.NoError(t, err)

	require.Equal(t, model.FilePartial, second.Status, "one rejected claim alongside one accepted claim must report PARTIAL")
	require.Equal(t, 1, second.Counts.Claims, "only the non-duplicate claim is newly persisted")
	require.Equal(t, 1, second.Counts.Conflicts)
	require.Len(t, second.Problems, 1)
	require.Equal(t, "DUP_SUBMISSION_NO_RESUB", second.Problems[0].Code)
	require.Equal(t, "CLAIM-DUP", second.Problems[0].ObjectKey)
}

func TestIngestRemittanceRecomputesStatusToPaid(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	svc := New(pool, Config{})

	submission := &parser.SubmissionDTO{
		Header: parser.Header{SenderID: "S1", ReceiverID: "R1", TransactionDate: time.Now()},
		Claims: []parser.ClaimDTO{sampleClaim("CLAIM3", nil)},
	}
	_, err := svc.IngestSubmission(ctx, "FILE4", "", submission, []byte("<xml/>"))
	require.NoError(t, err)

	remittance := &parser.RemittanceAdviceDTO{
		Header: parser.Header{SenderID: "PAYER1", ReceiverID: "PROV1", TransactionDate: time.Now()},
		Claims: []parser.RemittanceClaimDTO{
			{
				ClaimID:    "CLAIM3",
				PayerID:    "PAYER1",
				ProviderID: "PROV1",
				Activities: []parser.RemittanceActivityDTO{
					{ActivityID: "ACT1", PaymentAmount: 100},
				},
			},
		},
	}
	outcome, err := svc.IngestRemittance(ctx, "FILE5", "", remittance, []byte("<xml/>"))
	require.NoError(t, err)
	require.Equal(t, model.FileOK, outcome.Status)
	require.Equal(t, 1, outcome.Counts.RemittanceClaims)
	require.Equal(t, 1, outcome.Counts.RemittanceActivities)

	var claimKeyID int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT id FROM claims.claim_key WHERE claim_id = 'CLAIM3'`).Scan(&claimKeyID))

	var lastStatus int16
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT status FROM claims.claim_status_timeline WHERE claim_key_id = $1 ORDER BY status_time DESC, id DESC LIMIT 1
	`, claimKeyID).Scan(&lastStatus))
	require.Equal(t, model.StatusPaid, model.ClaimStatus(lastStatus))
}
