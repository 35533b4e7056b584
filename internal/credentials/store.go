// Package credentials implements the credential store and OAuth PKCE login
// flows from spec §4.5: a per-provider access-token file, two browser-based
// login variants (localhost callback and code-display), and the four-step
// credential resolution order consumed by provider adapters.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/openpista/openpista/pkg/models"
)

// DefaultPath returns the default credentials file location,
// $HOME/.openpista/credentials.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".openpista", "credentials.yaml")
}

// Store is a mapping of provider name to its stored credential, backed by
// a single YAML file. Reads tolerate unknown keys and a missing file
// (returning an empty store); writes create the parent directory as
// needed and overwrite atomically (write-temp-then-rename).
type Store struct {
	mu       sync.Mutex
	path     string
	Provider map[string]models.ProviderCredential
}

// NewStore loads the store at path, or returns an empty store if the file
// does not exist.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, Provider: map[string]models.ProviderCredential{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.Provider); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	if s.Provider == nil {
		s.Provider = map[string]models.ProviderCredential{}
	}
	return s, nil
}

// Get returns the stored credential for provider, if present.
func (s *Store) Get(provider string) (models.ProviderCredential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.Provider[provider]
	return cred, ok
}

// Set stores or replaces the credential for provider and persists the
// store to disk.
func (s *Store) Set(provider string, cred models.ProviderCredential) error {
	s.mu.Lock()
	s.Provider[provider] = cred
	s.mu.Unlock()
	return s.save()
}

// Remove deletes the credential for provider, reporting whether it
// existed, and persists the store to disk. Calling it twice for the same
// provider returns {true, false} in order, per spec §8's idempotence
// property for logout.
func (s *Store) Remove(provider string) (bool, error) {
	s.mu.Lock()
	_, existed := s.Provider[provider]
	delete(s.Provider, provider)
	s.mu.Unlock()
	if !existed {
		return false, nil
	}
	return true, s.save()
}

func (s *Store) save() error {
	s.mu.Lock()
	data, err := yaml.Marshal(s.Provider)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename credentials file into place: %w", err)
	}
	return nil
}
