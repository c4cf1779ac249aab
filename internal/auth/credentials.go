package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stridehq/stride/internal/schema"
)

// CredentialStore persists the bearer token between runs. The sync engine
// clears it when the remote service rejects the credential.
type CredentialStore interface {
	Token() (string, error)
	SaveToken(token string) error
	ClearToken() error
}

// FileCredentials stores the token and the signed-in identity as files
// inside the stride data directory.
type FileCredentials struct {
	path   string
	idPath string
}

// NewFileCredentials creates a credential store under dir.
func NewFileCredentials(dir string) *FileCredentials {
	return &FileCredentials{
		path:   filepath.Join(dir, "token"),
		idPath: filepath.Join(dir, "identity.json"),
	}
}

// Token returns the stored token, or empty string when none is saved.
func (f *FileCredentials) Token() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveToken writes the token with owner-only permissions.
func (f *FileCredentials) SaveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// ClearToken removes the stored token. Idempotent. The identity file is
// kept so the local database stays attributable; Logout removes both.
func (f *FileCredentials) ClearToken() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear credential file: %w", err)
	}
	return nil
}

// SaveIdentity records the signed-in user.
func (f *FileCredentials) SaveIdentity(identity *schema.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.idPath), 0755); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(f.idPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// Identity returns the signed-in user, or nil when nobody is signed in.
func (f *FileCredentials) Identity() (*schema.Identity, error) {
	data, err := os.ReadFile(f.idPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	var identity schema.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("failed to decode identity file: %w", err)
	}
	return &identity, nil
}

// ClearIdentity removes the identity file. Idempotent.
func (f *FileCredentials) ClearIdentity() error {
	err := os.Remove(f.idPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear identity file: %w", err)
	}
	return nil
}
