package config

import (
	"fmt"
	"strconv"
)

// KeyInfo is one row of `sentinel config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every non-secret setting with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	rows := make([]KeyInfo, 0, len(specs))
	for _, s := range settable() {
		rows = append(rows, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))})
	}
	return rows
}

// ValidKeys names the keys accepted by SetKey and UnsetKey.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range settable() {
		keys = append(keys, s.key)
	}
	return keys
}

// SetKey validates value against the key's type and persists it in the
// config file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

// UnsetKey removes key from the config file, restoring its default.
func UnsetKey(key string) error {
	return unsetKeyWith(newFileBackend(configFilePath()), key)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := lookupSettable(key)
	if err != nil {
		return err
	}
	switch s.typ {
	case kInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects a whole number, got %q", key, value)
		}
		return b.SetInt(key, n)
	case kBool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", key, value)
		}
		return b.SetString(key, strconv.FormatBool(v))
	default:
		return b.SetString(key, value)
	}
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if _, err := lookupSettable(key); err != nil {
		return err
	}
	return b.Delete(key)
}

func lookupSettable(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q in the config file; export %s instead", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key %q", key)
}

func settable() []keySpec {
	out := make([]keySpec, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			out = append(out, s)
		}
	}
	return out
}
