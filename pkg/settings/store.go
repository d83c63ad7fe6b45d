package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Ext is the file extension of saved settings.
const Ext = ".ini"

// ProfileInfo describes a saved profile.
type ProfileInfo struct {
	Name     string    `json:"name" yaml:"name"`
	Path     string    `json:"path" yaml:"path"`
	Port     string    `json:"port" yaml:"port"`
	Baud     int       `json:"baud" yaml:"baud"`
	TxStyle  string    `json:"txnl" yaml:"txnl"`
	Modified time.Time `json:"modified" yaml:"modified"`
}

// Store keeps named profiles as settings files in one directory.
type Store struct {
	dir string
}

// DefaultDir returns the per-user directory for profiles.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to find user config directory: %w", err)
	}
	return filepath.Join(base, "serterm"), nil
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (st *Store) Dir() string {
	return st.dir
}

// Initialize creates the store directory if needed.
func (st *Store) Initialize() error {
	if err := os.MkdirAll(st.dir, 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	return nil
}

// Path returns the file a profile is stored in.
func (st *Store) Path(name string) string {
	return filepath.Join(st.dir, name+Ext)
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid profile name: %q", name)
	}
	return nil
}

// Save writes s as the named profile, replacing any existing one.
func (st *Store) Save(name string, s *Settings) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := st.Initialize(); err != nil {
		return err
	}
	if err := s.Save(st.Path(name)); err != nil {
		return fmt.Errorf("failed to save profile '%s': %w", name, err)
	}
	return nil
}

// Load reads the named profile on top of the defaults.
func (st *Store) Load(name string) (*Settings, error) {
	return st.LoadOver(name, Default())
}

// LoadOver reads the named profile on top of base.
func (st *Store) LoadOver(name string, base *Settings) (*Settings, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	s, err := LoadOver(st.Path(name), base)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("profile '%s' not found: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return s, nil
}

// List returns the saved profiles sorted by name. Files that fail to load
// are skipped.
func (st *Store) List() ([]ProfileInfo, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile directory: %w", err)
	}

	var profiles []ProfileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		name := strings.TrimSuffix(e.Name(), Ext)
		path := st.Path(name)
		s, err := Load(path)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		profiles = append(profiles, ProfileInfo{
			Name:     name,
			Path:     path,
			Port:     s.Port,
			Baud:     s.Baud,
			TxStyle:  s.TxStyle.String(),
			Modified: info.ModTime(),
		})
	}

	slices.SortFunc(profiles, func(a, b ProfileInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return profiles, nil
}

// Delete removes the named profile.
func (st *Store) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(st.Path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("profile '%s' not found: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to delete profile '%s': %w", name, err)
	}
	return nil
}

// Exists checks if a profile with the given name exists
func (st *Store) Exists(name string) bool {
	if validateName(name) != nil {
		return false
	}
	info, err := os.Stat(st.Path(name))
	return err == nil && !info.IsDir()
}
