package verify

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const testSchema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;
CREATE SCHEMA claims;
CREATE TABLE claims.claim_key (id bigserial PRIMARY KEY, claim_id text UNIQUE NOT NULL);
CREATE TABLE claims.ingestion_file (id bigserial PRIMARY KEY, file_id text UNIQUE NOT NULL);
CREATE TABLE claims.submission (id bigserial PRIMARY KEY, ingestion_file_id bigint REFERENCES claims.ingestion_file(id));
CREATE TABLE claims.claim (id bigserial PRIMARY KEY, claim_key_id bigint UNIQUE REFERENCES claims.claim_key(id), submission_id bigint REFERENCES claims.submission(id), net numeric);
CREATE TABLE claims.activity (id bigserial PRIMARY KEY, claim_id bigint REFERENCES claims.claim(id), activity_id text);
CREATE TABLE claims.claim_event (id bigserial PRIMARY KEY, claim_key_id bigint REFERENCES claims.claim_key(id), ingestion_file_id bigint REFERENCES claims.ingestion_file(id), type smallint);
CREATE TABLE claims.claim_event_activity (id bigserial PRIMARY KEY, claim_event_id bigint REFERENCES claims.claim_event(id), activity_id_at_event text);
CREATE TABLE claims.event_observation (id bigserial PRIMARY KEY, claim_event_activity_id bigint REFERENCES claims.claim_event_activity(id), obs_type text, obs_code text, value_hash bytea);
`

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed verify test in -short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("claims_verify_test"),
		tcpostgres.WithUsername("claims"),
		tcpostgres.WithPassword("claims"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, testSchema)
	require.NoError(t, err)

	return pool
}

func TestVerifyFailsWhenNoClaimEventExists(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	var fileID int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO claims.ingestion_file (file_id) VALUES ('F1') RETURNING id`).Scan(&fileID))

	v := New(pool, zap.NewNop())
	result := v.Verify(ctx, fileID, Expected{})
	require.False(t, result.OK)
	require.Contains(t, result.Reason, "no claim_event rows")
}

func TestVerifyPassesWithConsistentGraph(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	var fileID, claimKeyID, eventID int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO claims.ingestion_file (file_id) VALUES ('F2') RETURNING id`).Scan(&fileID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO claims.claim_key (claim_id) VALUES ('C1') RETURNING id`).Scan(&claimKeyID))
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO claims.claim_event (claim_key_id, ingestion_file_id, type) VALUES ($1, $2, 1) RETURNING id
	`, claimKeyID, fileID).Scan(&eventID))
	_, err := pool.Exec(ctx, `
		INSERT INTO claims.claim_event_activity (claim_event_id, activity_id_at_event) VALUES ($1, 'A1')
	`, eventID)
	require.NoError(t, err)

	v := New(pool, zap.NewNop())
	result := v.Verify(ctx, fileID, Expected{Claims: 1, Activities: 1})
	require.True(t, result.OK, "reason: %s", result.Reason)
}

func TestVerifyFailsWhenExpectedCountsNotMet(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	var fileID, claimKeyID, eventID int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO claims.ingestion_file (file_id) VALUES ('F3') RETURNING id`).Scan(&fileID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO claims.claim_key (claim_id) VALUES ('C2') RETURNING id`).Scan(&claimKeyID))
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO claims.claim_event (claim_key_id, ingestion_file_id, type) VALUES ($1, $2, 1) RETURNING id
	`, claimKeyID, fileID).Scan(&eventID))

	v := New(pool, zap.NewNop())
	result := v.Verify(ctx, fileID, Expected{Claims: 5})
	require.False(t, result.OK)
	require.Contains(t, result.Reason, "below expected")
}
