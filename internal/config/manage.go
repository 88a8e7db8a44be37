package config

import (
	"fmt"
	"strconv"
)

// KeyInfo is one row of `attune config show`.
type KeyInfo struct {
	Key    string `json:"key" yaml:"key"`
	EnvVar string `json:"env" yaml:"env"`
	Value  string `json:"value" yaml:"value"`
	Secret bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

const (
	secretSet   = "(set)"
	secretUnset = "(not set)"
)

// ShowAll lists every key with its effective value. Secrets only report
// whether they are set.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		ki := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		switch {
		case !s.secret:
			ki.Value = fmt.Sprint(s.extract(cfg))
		case s.extract(cfg) != "":
			ki.Value = secretSet
		default:
			ki.Value = secretUnset
		}
		result = append(result, ki)
	}
	return result
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key == key {
			return s, nil
		}
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// SetKey persists an override for key. Secret keys go to the platform
// secret store instead of the config backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), keychainSet, key, value)
}

// UnsetKey drops the override for key so the default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), keychainSet, key)
}

type secretWriter func(service, account, value string) error

func setKeyWith(b ConfigBackend, setSecret secretWriter, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	if s.secret {
		// An empty value removes the secret.
		return setSecret(secretService, secretAccount(key), value)
	}

	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %w", key, err)
		}
		return b.SetInt(key, i)
	case kFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number: %w", key, err)
		}
		return b.SetFloat(key, f)
	case kBool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false: %w", key, err)
		}
		return b.SetString(key, strconv.FormatBool(v))
	default:
		return b.SetString(key, value)
	}
}

func unsetKeyWith(b ConfigBackend, setSecret secretWriter, key string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	if s.secret {
		return setSecret(secretService, secretAccount(key), "")
	}
	return b.Delete(key)
}

// ValidKeys returns every config key name, secrets included.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
