package prefs

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Keys used by the Spotify auth flow
const (
	KeyCodeVerifier = "code_verifier"
	KeyAuthState    = "auth_state"
	KeyToken        = "spotify_token"
	KeyTokenExpires = "spotify_token_expires"
)

// Store drivers accepted by Open
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Store is a flat string key-value preferences store.
//
// Get reports ok=false for a missing key; that is not an error.
// Remove of a missing key is not an error either.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Clearer is implemented by stores that can drop everything they hold
type Clearer interface {
	Clear() error
}

// Open returns a store for the given driver. An empty path selects the
// driver's default location.
func Open(driver, path string) (Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = DriverFile
	}

	log.WithFields(log.Fields{
		"driver": driver,
		"path":   path,
	}).Debug("Opening preferences store")

	switch driver {
	case DriverFile:
		return NewFileStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q (want %s, %s or %s)", driver, DriverFile, DriverSQLite, DriverMemory)
	}
}

// RemoveAll removes every key, stopping at the first error.
func RemoveAll(ctx context.Context, s Store, keys ...string) error {
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}
	return nil
}

// Purge removes every preference, not only the keys spotauth knows about.
// Stores without Clear fall back to removing the auth keys.
func Purge(ctx context.Context, s Store) error {
	if c, ok := s.(Clearer); ok {
		return c.Clear()
	}
	return RemoveAll(ctx, s, KeyCodeVerifier, KeyAuthState, KeyToken, KeyTokenExpires)
}
