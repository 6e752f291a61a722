//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// secretsFile is the on-disk secret store used where no OS keychain is
// wired: {"<service>": {"<account>": "<value>"}}.
type secretsFile map[string]map[string]string

// secretsFilePath resolves $XDG_DATA_HOME/sentinel/secrets.json.
func secretsFilePath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "sentinel", "secrets.json")
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "sentinel", "secrets.json")
}

func readSecrets(path string) (secretsFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("no secrets file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		slog.Warn("secrets file is readable by other users", "path", path, "mode", info.Mode().Perm().String())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var sf secretsFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("secrets file %s is malformed: %w", path, err)
	}
	return sf, nil
}

func keychainGet(service, account string) ([]byte, error) {
	sf, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, err
	}
	if v, ok := sf[service][account]; ok {
		return []byte(v), nil
	}
	return nil, fmt.Errorf("no secret %s/%s", service, account)
}
