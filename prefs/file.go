package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
)

// DefaultFileName is the preferences file created in the home directory
const DefaultFileName = ".spotauth_prefs.json"

// fileData is the on-disk layout of the preferences file
type fileData struct {
	Values    map[string]string `json:"values"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// getDefaultPathFunc is a variable that can be overridden for testing
var getDefaultPathFunc = defaultFilePath

func defaultFilePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %v", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

// DefaultFilePath returns the path used by NewFileStore when none is given
func DefaultFilePath() (string, error) {
	return getDefaultPathFunc()
}

// FileStore keeps preferences in a JSON file. Every call re-reads the file so
// that writes made by another process are seen by a running login.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path (or the default path)
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand preferences path: %v", err)
	}

	log.WithField("path", path).Debug("Using file preferences store")
	return &FileStore{path: path}, nil
}

// Path returns the location of the preferences file
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value stored under key
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, err
	}

	value, ok := data.Values[key]
	return value, ok, nil
}

// Set stores value under key
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		log.WithError(err).Debug("Existing preferences unreadable, starting fresh")
		data = &fileData{Values: map[string]string{}}
	}

	data.Values[key] = value
	log.WithField("key", key).Debug("Saving preference")
	return s.save(data)
}

// Remove deletes key. The file is left untouched when the key is absent.
func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := data.Values[key]; !ok {
		return nil
	}

	delete(data.Values, key)
	log.WithField("key", key).Debug("Removed preference")
	return s.save(data)
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}

// Clear deletes the preferences file
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", s.path).Debug("Failed to remove preferences file")
		return fmt.Errorf("failed to clear preferences: %v", err)
	}

	log.WithField("path", s.path).Debug("Cleared preferences file")
	return nil
}

func (s *FileStore) load() (*fileData, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &fileData{Values: map[string]string{}}, nil
	}
	if err != nil {
		log.WithError(err).WithField("path", s.path).Debug("Failed to read preferences file")
		return nil, fmt.Errorf("failed to read preferences file: %v", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		log.WithError(err).WithField("path", s.path).Debug("Failed to parse preferences file")
		return nil, fmt.Errorf("failed to parse preferences file: %v", err)
	}
	if data.Values == nil {
		data.Values = map[string]string{}
	}
	return &data, nil
}

func (s *FileStore) save(data *fileData) error {
	data.UpdatedAt = time.Now()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %v", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create preferences directory: %v", err)
	}

	// Write to a sibling temp file and rename so a concurrent reader never
	// sees a half-written document.
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp preferences file: %v", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write preferences file: %v", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set preferences file mode: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write preferences file: %v", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace preferences file: %v", err)
	}
	return nil
}
