// Package facility reads FacilityConfig rows from claims_ref, the
// reference schema owned by an administrative collaborator (spec.md
// §3/§6). The engine treats the schema as read-only with one narrow,
// spec-sanctioned exception: the Credential Vault's key-rotation path
// (spec.md §4.1 ReencryptAllIfNeeded) atomically rewrites a single
// row's ciphertext and metadata columns in place. VaultStore below is
// that exception; Repository is the read side everything else uses.
package facility

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/vault"
)

// Repository resolves FacilityConfig rows over the read-only pool.
type Repository struct {
	pool *pgxpool.Pool
}

// New builds a Repository over pool, which must carry the read-only
// role DSN per spec.md §5's "Shared resources."
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveFacilities returns every facility with active = true, for the
// SOAP fetch coordinator to poll on startup. Satisfies
// internal/fetch.FacilityLister, whose signature predates context
// threading through that call (it runs once at coordinator startup,
// not per-request), so a background context is used internally.
func (r *Repository) ActiveFacilities() ([]model.FacilityConfig, error) {
	ctx := context.Background()
	rows, err := r.pool.Query(ctx, `
		SELECT id, facility_code, display_name, endpoint_url, login_ciphertext, password_ciphertext, credential_meta, active
		FROM claims_ref.facility_config
		WHERE active = true
		ORDER BY facility_code
	`)
	if err != nil {
		return nil, fmt.Errorf("query active facilities: %w", err)
	}
	defer rows.Close()

	var out []model.FacilityConfig
	for rows.Next() {
		var fc model.FacilityConfig
		if err := rows.Scan(&fc.ID, &fc.FacilityCode, &fc.DisplayName, &fc.EndpointURL, &fc.LoginCiphertext, &fc.PasswordCipher, &fc.CredentialMeta, &fc.Active); err != nil {
			return nil, fmt.Errorf("scan facility row: %w", err)
		}
		out = append(out, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facility rows: %w", err)
	}
	return out, nil
}

// Facility resolves one facility by code, active or not (the acker
// needs to reach a facility's endpoint even if it was deactivated
// between download and acknowledgement). Satisfies
// internal/ack.FacilityResolver.
func (r *Repository) Facility(facilityCode string) (model.FacilityConfig, error) {
	ctx := context.Background()
	var fc model.FacilityConfig
	err := r.pool.QueryRow(ctx, `
		SELECT id, facility_code, display_name, endpoint_url, login_ciphertext, password_ciphertext, credential_meta, active
		FROM claims_ref.facility_config
		WHERE facility_code = $1
	`, facilityCode).Scan(&fc.ID, &fc.FacilityCode, &fc.DisplayName, &fc.EndpointURL, &fc.LoginCiphertext, &fc.PasswordCipher, &fc.CredentialMeta, &fc.Active)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.FacilityConfig{}, fmt.Errorf("facility %s: %w", facilityCode, errFacilityNotFound)
		}
		return model.FacilityConfig{}, fmt.Errorf("query facility %s: %w", facilityCode, err)
	}
	return fc, nil
}

var errFacilityNotFound = fmt.Errorf("facility not found")

// VaultStore implements vault.Store against claims_ref.facility_config's
// credential columns. It is constructed over the writer pool rather than
// the reader pool Repository uses, since ReencryptAllIfNeeded is the one
// path the engine writes through on this schema.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore builds a VaultStore over pool, which must carry the
// writer role DSN.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

// StaleCredentials returns every facility row whose credential_meta
// kek_version differs from currentKEKVersion.
func (s *VaultStore) StaleCredentials(currentKEKVersion int) ([]vault.CredentialRow, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `
		SELECT facility_code, login_ciphertext, password_ciphertext, credential_meta
		FROM claims_ref.facility_config
		WHERE (credential_meta->>'kek_version')::int IS DISTINCT FROM $1
	`, currentKEKVersion)
	if err != nil {
		return nil, fmt.Errorf("query stale credentials: %w", err)
	}
	defer rows.Close()

	var out []vault.CredentialRow
	for rows.Next() {
		var row vault.CredentialRow
		if err := rows.Scan(&row.FacilityCode, &row.LoginCipher, &row.PasswordCipher, &row.Meta); err != nil {
			return nil, fmt.Errorf("scan stale credential row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale credential rows: %w", err)
	}
	return out, nil
}

// UpdateCredentials atomically rewrites one facility's ciphertext and
// metadata columns after a re-wrap under the current key version.
func (s *VaultStore) UpdateCredentials(facilityCode string, loginCipher, passwordCipher, meta []byte) error {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `
		UPDATE claims_ref.facility_config
		SET login_ciphertext = $2, password_ciphertext = $3, credential_meta = $4
		WHERE facility_code = $1
	`, facilityCode, loginCipher, passwordCipher, meta)
	if err != nil {
		return fmt.Errorf("update credentials for %s: %w", facilityCode, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update credentials for %s: %w", facilityCode, errFacilityNotFound)
	}
	return nil
}

// CredentialsByFacility returns one facility's ciphertext and metadata
// columns for decryption.
func (s *VaultStore) CredentialsByFacility(facilityCode string) (vault.CredentialRow, error) {
	ctx := context.Background()
	var row vault.CredentialRow
	row.FacilityCode = facilityCode
	err := s.pool.QueryRow(ctx, `
		SELECT login_ciphertext, password_ciphertext, credential_meta
		FROM claims_ref.facility_config
		WHERE facility_code = $1
	`, facilityCode).Scan(&row.LoginCipher, &row.PasswordCipher, &row.Meta)
	if err != nil {
		if err == pgx.ErrNoRows {
			return vault.CredentialRow{}, fmt.Errorf("facility %s: %w", facilityCode, errFacilityNotFound)
		}
		return vault.CredentialRow{}, fmt.Errorf("query credentials for %s: %w", facilityCode, err)
	}
	return row, nil
}
