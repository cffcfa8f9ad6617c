// ABOUTME: Credentials an app receives at registration and how they are stored
// ABOUTME: Saved as a 0600 JSON file holding the id, name and signing seed

package client

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials identify a registered app.
type Credentials struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PrivateKey []byte `json:"private_key"` // 32-byte Ed25519 seed, base64 in JSON
	BaseURL    string `json:"base_url,omitempty"`
}

// SigningKey expands the stored seed.
func (c *Credentials) SigningKey() (ed25519.PrivateKey, error) {
	if len(c.PrivateKey) != ed25519.SeedSize {
		return nil, fmt.Errorf("credentials hold a %d-byte key, want %d", len(c.PrivateKey), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(c.PrivateKey), nil
}

// SaveCredentials writes creds to path, readable only by the owner.
func SaveCredentials(path string, creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting credentials file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credentials file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// LoadCredentials reads credentials written by SaveCredentials.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if _, err := creds.SigningKey(); err != nil {
		return nil, err
	}
	return &creds, nil
}
