package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var ErrMissingAPIKey = errors.New("api key not found")

// SecretsStore persists API keys to a local file kept apart from config.yaml.
type SecretsStore struct {
	path string
	mu   sync.Mutex
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path))}
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.path)
}

type secretsFile struct {
	SchemaVersion int               `json:"schema_version"`
	Keys          map[string]string `json:"keys,omitempty"`
}

// Get returns the stored value of the named key.
func (s *SecretsStore) Get(name string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, errors.New("missing key name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	v := strings.TrimSpace(sf.Keys[name])
	return v, v != "", nil
}

func (s *SecretsStore) Set(name string, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("missing value")
	}
	return s.patch(name, &value)
}

func (s *SecretsStore) Delete(name string) error {
	return s.patch(name, nil)
}

// Names lists the stored key names, sorted.
func (s *SecretsStore) Names() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(sf.Keys)), nil
}

func (s *SecretsStore) patch(name string, value *string) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("missing key name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if sf.Keys == nil {
		sf.Keys = make(map[string]string)
	}
	if value == nil {
		delete(sf.Keys, name)
	} else {
		sf.Keys[name] = *value
	}
	if len(sf.Keys) == 0 {
		sf.Keys = nil
	}
	return s.saveLocked(sf)
}

func (s *SecretsStore) loadLocked() (*secretsFile, error) {
	path := strings.TrimSpace(s.path)
	if path == "" || path == "." {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &secretsFile{SchemaVersion: 1}, nil
		}
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if sf.SchemaVersion == 0 {
		sf.SchemaVersion = 1
	}
	return &sf, nil
}

func (s *SecretsStore) saveLocked(sf *secretsFile) error {
	path := strings.TrimSpace(s.path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	// Write atomically.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// KeyResolver looks API keys up by name: environment first, then the secrets file.
type KeyResolver struct {
	Secrets *SecretsStore
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (r KeyResolver) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty key name", ErrMissingAPIKey)
	}
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(name)); v != "" {
		return v, nil
	}
	if r.Secrets != nil {
		v, ok, err := r.Secrets.Get(name)
		if err != nil {
			return "", err
		}
		if ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: '%s' is not set in the environment or the secrets file", ErrMissingAPIKey, name)
}
