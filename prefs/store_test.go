package prefs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestDefaultFilePath(t *testing.T) {
	path, err := DefaultFilePath()
	if err != nil {
		t.Fatalf("DefaultFilePath() error = %v", err)
	}

	if !filepath.IsAbs(path) {
		t.Errorf("DefaultFilePath() = %s, want absolute path", path)
	}

	if filepath.Base(path) != DefaultFileName {
		t.Errorf("DefaultFilePath() = %s, want filename %q", path, DefaultFileName)
	}
}

func TestNewFileStoreUsesDefaultPath(t *testing.T) {
	tempDir := t.TempDir()
	original := getDefaultPathFunc
	getDefaultPathFunc = func() (string, error) {
		return filepath.Join(tempDir, DefaultFileName), nil
	}
	defer func() { getDefaultPathFunc = original }()

	store, err := NewFileStore("")
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if store.Path() != filepath.Join(tempDir, DefaultFileName) {
		t.Errorf("Path() = %s, want %s", store.Path(), filepath.Join(tempDir, DefaultFileName))
	}
}

// storeFactories returns one fresh instance of every backend
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"file": func() Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "prefs.json"))
			if err != nil {
				t.Fatalf("NewFileStore() error = %v", err)
			}
			return s
		},
		"sqlite": func() Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "prefs.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			return s
		},
		"memory": func() Store {
			return NewMemoryStore()
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			defer store.Close()

			if _, ok, err := store.Get(ctx, KeyToken); err != nil || ok {
				t.Fatalf("Get() on empty store = ok %v, err %v; want missing", ok, err)
			}

			if err := store.Set(ctx, KeyToken, "abc"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := store.Set(ctx, KeyTokenExpires, "1700000000000"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			value, ok, err := store.Get(ctx, KeyToken)
			if err != nil || !ok || value != "abc" {
				t.Errorf("Get(%s) = %q, %v, %v; want \"abc\", true, nil", KeyToken, value, ok, err)
			}

			// Overwrite keeps a single value
			if err := store.Set(ctx, KeyToken, "def"); err != nil {
				t.Fatalf("Set() overwrite error = %v", err)
			}
			value, _, _ = store.Get(ctx, KeyToken)
			if value != "def" {
				t.Errorf("Get(%s) after overwrite = %q, want \"def\"", KeyToken, value)
			}

			if err := store.Remove(ctx, KeyToken); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if _, ok, _ := store.Get(ctx, KeyToken); ok {
				t.Errorf("Get(%s) after Remove() still present", KeyToken)
			}

			// Other keys are untouched
			if value, ok, _ := store.Get(ctx, KeyTokenExpires); !ok || value != "1700000000000" {
				t.Errorf("Get(%s) = %q, %v; want untouched value", KeyTokenExpires, value, ok)
			}

			// Removing a missing key is fine
			if err := store.Remove(ctx, "does-not-exist"); err != nil {
				t.Errorf("Remove() of missing key error = %v, want nil", err)
			}
		})
	}
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, key := range []string{KeyCodeVerifier, KeyAuthState, KeyToken, KeyTokenExpires} {
		if err := store.Set(ctx, key, "x"); err != nil {
			t.Fatalf("Set(%s) error = %v", key, err)
		}
	}

	if err := RemoveAll(ctx, store, KeyCodeVerifier, KeyAuthState, KeyToken, KeyTokenExpires); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}

	for _, key := range []string{KeyCodeVerifier, KeyAuthState, KeyToken, KeyTokenExpires} {
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Errorf("key %s still present after RemoveAll()", key)
		}
	}
}

func TestFileStoreVisibleAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.json")

	writer, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	reader, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if err := writer.Set(ctx, KeyToken, "from-other-process"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, ok, err := reader.Get(ctx, KeyToken)
	if err != nil || !ok || value != "from-other-process" {
		t.Errorf("reader.Get() = %q, %v, %v; want value written by writer", value, ok, err)
	}
}

func TestFileStoreFileMode(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Set(ctx, KeyToken, "secret"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("preferences file mode = %o, want 600", mode)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.json")

	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if _, _, err := store.Get(ctx, KeyToken); err == nil {
		t.Error("Get() on corrupt file error = nil, want error")
	}

	// Set recovers by starting a fresh document
	if err := store.Set(ctx, KeyToken, "fresh"); err != nil {
		t.Fatalf("Set() on corrupt file error = %v", err)
	}
	if value, ok, err := store.Get(ctx, KeyToken); err != nil || !ok || value != "fresh" {
		t.Errorf("Get() after recovery = %q, %v, %v", value, ok, err)
	}
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.json")

	store, _ := NewFileStore(path)
	if err := store.Set(ctx, KeyToken, "x"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("preferences file still exists after Clear()")
	}

	// Clearing twice is not an error
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			defer store.Close()

			for _, key := range []string{KeyToken, KeyTokenExpires, "theme"} {
				if err := store.Set(ctx, key, "v"); err != nil {
					t.Fatalf("Set(%s) error = %v", key, err)
				}
			}

			if err := Purge(ctx, store); err != nil {
				t.Fatalf("Purge() error = %v", err)
			}
			for _, key := range []string{KeyToken, KeyTokenExpires, "theme"} {
				if _, ok, err := store.Get(ctx, key); err != nil || ok {
					t.Errorf("Get(%s) after Purge() = ok %v, err %v", key, ok, err)
				}
			}

			// the store stays usable
			if err := store.Set(ctx, KeyToken, "again"); err != nil {
				t.Errorf("Set() after Purge() error = %v", err)
			}
		})
	}
}

func TestFileStoreConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileStore(filepath.Join(t.TempDir(), "prefs.json"))

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			if err := store.Set(ctx, k, k+"-value"); err != nil {
				t.Errorf("Set(%s) error = %v", k, err)
			}
		}(key)
	}
	wg.Wait()

	for _, key := range keys {
		if value, ok, _ := store.Get(ctx, key); !ok || value != key+"-value" {
			t.Errorf("Get(%s) = %q, %v after concurrent writes", key, value, ok)
		}
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	if err := store.Set(ctx, KeyToken, "x"); err == nil {
		t.Error("Set() with canceled context error = nil, want error")
	}
}

func TestOpen(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		driver  string
		path    string
		wantErr bool
	}{
		{driver: "", path: filepath.Join(tempDir, "default.json")},
		{driver: DriverFile, path: filepath.Join(tempDir, "prefs.json")},
		{driver: "SQLite", path: filepath.Join(tempDir, "prefs.db")},
		{driver: DriverMemory},
		{driver: "redis", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			store, err := Open(tt.driver, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}
