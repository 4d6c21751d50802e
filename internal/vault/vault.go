// Package vault implements the Credential Vault (spec.md §4.1): an
// authenticated-encryption envelope over per-facility SOAP credentials,
// with a small TTL'd in-memory cache keyed by facility code. There is no
// third-party AEAD wrapper in the example pack for this; AES-GCM is built
// directly from crypto/aes and crypto/cipher, which is itself the
// idiomatic Go way to do authenticated encryption.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/config"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/ingesterr"
)

// Envelope is the self-describing ciphertext sidecar stored alongside
// login/password ciphertext in facility_config.credential_meta. Each
// stored ciphertext begins with its own 12-byte nonce, which is what
// open reads; IV records the nonce of the ciphertext sealed together
// with this envelope.
type Envelope struct {
	KEKVersion int    `json:"kek_version"`
	Alg        string `json:"alg"` // "AES/GCM"
	IV         string `json:"iv"`  // base64, 12 bytes
	TagBits    int    `json:"tagBits"`
}

const (
	algAESGCM     = "AES/GCM"
	gcmTagBits    = 128
	cacheTTL      = 5 * time.Minute
)

type cacheEntry struct {
	login, password string
	expiresAt       time.Time
}

// FacilityCredentials is the decrypted pair returned to callers.
type FacilityCredentials struct {
	Login    string
	Password string
}

// CredentialRow is the persisted shape the vault decrypts from and
// re-wraps into; it mirrors model.FacilityConfig's credential columns
// without importing the persistence layer.
type CredentialRow struct {
	FacilityCode   string
	LoginCipher    []byte
	PasswordCipher []byte
	Meta           []byte // JSON Envelope
}

// Store is the minimal persistence seam the vault needs: read facility
// rows with a stale key version, and atomically rewrite one row's
// ciphertext+meta after re-wrapping.
type Store interface {
	StaleCredentials(currentKEKVersion int) ([]CredentialRow, error)
	UpdateCredentials(facilityCode string, loginCipher, passwordCipher, meta []byte) error
	CredentialsByFacility(facilityCode string) (CredentialRow, error)
}

// Vault decrypts and re-wraps facility credentials.
type Vault struct {
	keystore *keystore
	store    Store

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs a Vault backed by the keystore file at keystorePath and
// the given Store.
func New(keystorePath string, store Store) (*Vault, error) {
	kf, err := config.LoadKeystoreFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	ks, err := newKeystore(kf)
	if err != nil {
		return nil, err
	}
	return &Vault{keystore: ks, store: store, cache: make(map[string]cacheEntry)}, nil
}

// Decrypt returns the plaintext (login, password) for facilityCode,
// using the 5-minute in-memory cache when fresh. A tag mismatch or
// corrupt ciphertext returns a non-retryable KindCredential error; the
// caller (the fetch coordinator) must skip the facility rather than
// retry it automatically.
func (v *Vault) Decrypt(facilityCode string) (FacilityCredentials, error) {
	v.mu.Lock()
	if entry, ok := v.cache[facilityCode]; ok && time.Now().Before(entry.expiresAt) {
		v.mu.Unlock()
		return FacilityCredentials{Login: entry.login, Password: entry.password}, nil
	}
	v.mu.Unlock()

	row, err := v.store.CredentialsByFacility(facilityCode)
	if err != nil {
		return FacilityCredentials{}, ingesterr.Wrap(ingesterr.KindCredential, "KEYSTORE_UNAVAILABLE", err)
	}

	var env Envelope
	if err := json.Unmarshal(row.Meta, &env); err != nil {
		return FacilityCredentials{}, ingesterr.Wrap(ingesterr.KindCredential, "CIPHERTEXT_CORRUPT", err)
	}

	login, err := v.keystore.open(env, row.LoginCipher)
	if err != nil {
		return FacilityCredentials{}, ingesterr.Wrap(ingesterr.KindCredential, "TAG_MISMATCH", err)
	}
	password, err := v.keystore.open(env, row.PasswordCipher)
	if err != nil {
		return FacilityCredentials{}, ingesterr.Wrap(ingesterr.KindCredential, "TAG_MISMATCH", err)
	}

	v.mu.Lock()
	v.cache[facilityCode] = cacheEntry{login: login, password: password, expiresAt: time.Now().Add(cacheTTL)}
	v.mu.Unlock()

	return FacilityCredentials{Login: login, Password: password}, nil
}

// ReencryptAllIfNeeded scans facility rows with a stale kek_version,
// decrypts under the old key, and re-wraps under the current one,
// updating each row atomically. Safe to run concurrently with Decrypt:
// writes are per-row, and readers always see a consistent row.
func (v *Vault) ReencryptAllIfNeeded() (int, error) {
	stale, err := v.store.StaleCredentials(v.keystore.activeVersion)
	if err != nil {
		return 0, fmt.Errorf("list stale credentials: %w", err)
	}

	count := 0
	for _, row := range stale {
		var env Envelope
		if err := json.Unmarshal(row.Meta, &env); err != nil {
			continue // corrupt row: left for operator intervention, not retried here
		}

		login, err := v.keystore.open(env, row.LoginCipher)
		if err != nil {
			continue
		}
		password, err := v.keystore.open(env, row.PasswordCipher)
		if err != nil {
			continue
		}

		newLoginCipher, newEnv, err := v.keystore.seal(login)
		if err != nil {
			return count, err
		}
		newPasswordCipher, _, err := v.keystore.seal(password)
		if err != nil {
			return count, err
		}
		metaJSON, err := json.Marshal(newEnv)
		if err != nil {
			return count, err
		}

		if err := v.store.UpdateCredentials(row.FacilityCode, newLoginCipher, newPasswordCipher, metaJSON); err != nil {
			return count, fmt.Errorf("update facility %s: %w", row.FacilityCode, err)
		}

		v.mu.Lock()
		delete(v.cache, row.FacilityCode)
		v.mu.Unlock()

		count++
	}
	return count, nil
}

// keystore holds the wrap keys loaded from disk at startup.
type keystore struct {
	activeVersion int
	keys          map[int][]byte // kek_version -> raw key bytes
}

func newKeystore(kf *config.KeystoreFile) (*keystore, error) {
	keys := make(map[int][]byte, len(kf.Keys))
	for version, b64 := range kf.Keys {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("keystore key version %d: %w", version, err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("keystore key version %d: want 32 bytes, got %d", version, len(raw))
		}
		keys[version] = raw
	}
	return &keystore{activeVersion: kf.ActiveKEKVersion, keys: keys}, nil
}

func (k *keystore) aead(version int) (cipher.AEAD, error) {
	key, ok := k.keys[version]
	if !ok {
		return nil, fmt.Errorf("no wrap key for kek_version %d", version)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// open decrypts a nonce-prefixed ciphertext using the key version named
// in env. A wrong key, altered nonce, or flipped ciphertext bit all
// surface as an opaque "cipher: message authentication failed" from
// Open — the GCM tag check is what makes tag mismatch fatal rather than
// silently wrong.
func (k *keystore) open(env Envelope, ciphertext []byte) (string, error) {
	if env.Alg != algAESGCM {
		return "", fmt.Errorf("unsupported alg %q", env.Alg)
	}
	aead, err := k.aead(env.KEKVersion)
	if err != nil {
		return "", err
	}
	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext shorter than its %d-byte nonce", nonceSize)
	}
	plain, err := aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// seal encrypts plaintext under the active key version with a fresh
// random 12-byte nonce, returning the nonce-prefixed ciphertext and the
// envelope that describes it.
func (k *keystore) seal(plaintext string) ([]byte, Envelope, error) {
	aead, err := k.aead(k.activeVersion)
	if err != nil {
		return nil, Envelope{}, err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, Envelope{}, fmt.Errorf("generate iv: %w", err)
	}
	ciphertext := aead.Seal(iv, iv, []byte(plaintext), nil)
	env := Envelope{
		KEKVersion: k.activeVersion,
		Alg:        algAESGCM,
		IV:         base64.StdEncoding.EncodeToString(iv),
		TagBits:    gcmTagBits,
	}
	return ciphertext, env, nil
}
