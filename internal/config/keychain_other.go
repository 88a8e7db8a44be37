//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Without a system keychain, secrets live in a 0600 JSON file keyed by
// service and then account.
type secretsFile map[string]map[string]string

func secretsFilePath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "attune", "secrets.json")
}

func readSecrets(path string) (secretsFile, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return secretsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keychain not available: %w", err)
	}
	secrets := secretsFile{}
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func keychainGet(service, account string) ([]byte, error) {
	secrets, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, err
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("account %q not found in service %q", account, service)
	}
	return []byte(val), nil
}

// keychainSet stores value, or removes the account when value is empty.
func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	secrets, err := readSecrets(p)
	if err != nil {
		// An unreadable file is replaced rather than blocking the write.
		secrets = secretsFile{}
	}

	if value == "" {
		if _, ok := secrets[service][account]; !ok {
			return nil
		}
		delete(secrets[service], account)
		if len(secrets[service]) == 0 {
			delete(secrets, service)
		}
	} else {
		if secrets[service] == nil {
			secrets[service] = make(map[string]string)
		}
		secrets[service][account] = value
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(p, out)
}
