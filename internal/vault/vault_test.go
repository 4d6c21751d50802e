package vault

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/config"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/ingesterr"
)

type fakeStore struct {
	rows map[string]CredentialRow
}

func (f *fakeStore) StaleCredentials(currentKEKVersion int) ([]CredentialRow, error) {
	var out []CredentialRow
	for _, r := range f.rows {
		var env Envelope
		_ = json.Unmarshal(r.Meta, &env)
		if env.KEKVersion != currentKEKVersion {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateCredentials(facilityCode string, loginCipher, passwordCipher, meta []byte) error {
	row := f.rows[facilityCode]
	row.LoginCipher = loginCipher
	row.PasswordCipher = passwordCipher
	row.Meta = meta
	f.rows[facilityCode] = row
	return nil
}

func (f *fakeStore) CredentialsByFacility(facilityCode string) (CredentialRow, error) {
	row, ok := f.rows[facilityCode]
	if !ok {
		return CredentialRow{}, assert.AnError
	}
	return row, nil
}

func newTestKeystore(t *testing.T) *keystore {
	t.Helper()
	kf := &config.KeystoreFile{
		ActiveKEKVersion: 1,
		Keys: map[int]string{
			1: "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE=", // 32 bytes b64
		},
	}
	ks, err := newKeystore(kf)
	require.NoError(t, err)
	return ks
}

func TestVaultDecryptRoundTrip(t *testing.T) {
	ks := newTestKeystore(t)
	loginCipher, env, err := ks.seal("acme-login")
	require.NoError(t, err)
	passwordCipher, _, err := ks.seal("acme-pw")
	require.NoError(t, err)
	metaJSON, err := json.Marshal(env)
	require.NoError(t, err)

	store := &fakeStore{rows: map[string]CredentialRow{
		"ACME": {FacilityCode: "ACME", LoginCipher: loginCipher, PasswordCipher: passwordCipher, Meta: metaJSON},
	}}

	v := &Vault{keystore: ks, store: store, cache: make(map[string]cacheEntry)}

	creds, err := v.Decrypt("ACME")
	require.NoError(t, err)
	assert.Equal(t, "acme-login", creds.Login)
	assert.Equal(t, "acme-pw", creds.Password)

	// Second call must be served from cache, not the store.
	store.rows = nil
	creds2, err := v.Decrypt("ACME")
	require.NoError(t, err)
	assert.Equal(t, creds, creds2)
}

func TestVaultDecryptTagMismatchIsFatalForFacility(t *testing.T) {
	ks := newTestKeystore(t)
	loginCipher, env, err := ks.seal("acme-login")
	require.NoError(t, err)
	loginCipher[0] ^= 0xFF // corrupt a ciphertext byte -> GCM tag check fails
	metaJSON, err := json.Marshal(env)
	require.NoError(t, err)

	store := &fakeStore{rows: map[string]CredentialRow{
		"ACME": {FacilityCode: "ACME", LoginCipher: loginCipher, PasswordCipher: loginCipher, Meta: metaJSON},
	}}
	v := &Vault{keystore: ks, store: store, cache: make(map[string]cacheEntry)}

	_, err = v.Decrypt("ACME")
	require.Error(t, err)
	assert.True(t, ingesterr.Is(err, ingesterr.KindCredential))
}

func TestReencryptAllIfNeededRewrapsStaleRows(t *testing.T) {
	kf := &config.KeystoreFile{
		ActiveKEKVersion: 2,
		Keys: map[int]string{
			1: "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE=",
			2: "OTg3NjU0MzIxMDk4NzY1NDMyMTA5ODc2NTQzMjEwOTg=",
		},
	}
	ks, err := newKeystore(kf)
	require.NoError(t, err)

	oldKS := &keystore{activeVersion: 1, keys: map[int][]byte{1: ks.keys[1]}}
	loginCipher, env, err := oldKS.seal("acme-login")
	require.NoError(t, err)
	passwordCipher, _, err := oldKS.seal("acme-pw")
	require.NoError(t, err)
	metaJSON, err := json.Marshal(env)
	require.NoError(t, err)

	store := &fakeStore{rows: map[string]CredentialRow{
		"ACME": {FacilityCode: "ACME", LoginCipher: loginCipher, PasswordCipher: passwordCipher, Meta: metaJSON},
	}}
	v := &Vault{keystore: ks, store: store, cache: make(map[string]cacheEntry)}

	count, err := v.ReencryptAllIfNeeded()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	creds, err := v.Decrypt("ACME")
	require.NoError(t, err)
	assert.Equal(t, "acme-login", creds.Login)
}
