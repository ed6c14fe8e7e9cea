package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Identity is the locally persisted timite identity, enough to prefer a
// Connect handshake over registering a fresh timite on every run.
type Identity struct {
	TimiteID uint64 `json:"timiteId"`
	Nick     string `json:"nick"`
}

// IdentityPath returns the per-user identity file location.
func IdentityPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "tim", "identity.json"), nil
}

// LoadIdentity reads the stored identity. A missing file is not an error; the
// zero Identity signals first run.
func LoadIdentity(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Identity{}, nil
		}
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("malformed identity file %s: %w", path, err)
	}
	return id, nil
}

// SaveIdentity writes the identity, creating parent directories as needed.
func SaveIdentity(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
