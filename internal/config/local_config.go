package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// KeystoreFile is the subset of the credential vault's keystore config
// that is read directly from disk rather than through the viper
// singleton. vault.New loads it once at startup, from the path in
// Config; it is not re-read while the process runs.
type KeystoreFile struct {
	ActiveKEKVersion int               `yaml:"active_kek_version"`
	Keys             map[int]string    `yaml:"keys"` // kek_version -> base64 key material
}

// LoadKeystoreFile reads and parses the keystore YAML file directly.
// Returns an empty KeystoreFile (not nil) if the file doesn't exist, so
// callers can distinguish "no file yet" from "corrupt file".
func LoadKeystoreFile(path string) (*KeystoreFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator-controlled config
	if err != nil {
		if os.IsNotExist(err) {
			return &KeystoreFile{Keys: map[int]string{}}, nil
		}
		return nil, err
	}

	var kf KeystoreFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, err
	}
	if kf.Keys == nil {
		kf.Keys = map[int]string{}
	}
	return &kf, nil
}
