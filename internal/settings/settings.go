// Package settings persists per-user preferences that must survive a
// restart, currently the pointer to each user's active cart.
//
// The file is shared by every cartd and cartctl process on the host, so
// each read-modify-write holds an advisory lock on a sibling ".lock" file.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockTimeout   = 3 * time.Second
	lockRetry     = 50 * time.Millisecond
	formatVersion = "1"
)

// fileData is the on-disk layout.
type fileData struct {
	Version     string            `json:"version"`
	CurrentCart map[string]string `json:"current_cart"` // user -> cart @id
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Store is a JSON settings file guarded by a file lock.
type Store struct {
	path     string
	fileLock *flock.Flock
	mu       sync.Mutex
}

// DefaultPath returns $XDG_CONFIG_HOME/portal-cart/settings.json, falling
// back to the OS user config directory.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserConfigDir(); err != nil {
			return "", fmt.Errorf("locating config directory: %w", err)
		}
	}
	return filepath.Join(dir, "portal-cart", "settings.json"), nil
}

// Open returns a Store backed by path, creating its directory.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}
	return &Store{
		path:     path,
		fileLock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// CurrentCart returns the @id of user's active cart, or "".
func (s *Store) CurrentCart(ctx context.Context, user string) (string, error) {
	var atID string
	err := s.withLock(ctx, false, func(d *fileData) {
		atID = d.CurrentCart[user]
	})
	return atID, err
}

// SetCurrentCart records atID as user's active cart.
func (s *Store) SetCurrentCart(ctx context.Context, user, atID string) error {
	if user == "" {
		return errors.New("user is required")
	}
	return s.withLock(ctx, true, func(d *fileData) {
		d.CurrentCart[user] = atID
	})
}

// ClearCurrentCart forgets user's active cart.
func (s *Store) ClearCurrentCart(ctx context.Context, user string) error {
	return s.withLock(ctx, true, func(d *fileData) {
		delete(d.CurrentCart, user)
	})
}

// Close releases the lock handle. The .lock file stays on disk so every
// process keeps locking the same inode.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileLock.Close()
}

// withLock loads the file under the lock, runs fn and writes the result
// back when write is set.
func (s *Store) withLock(ctx context.Context, write bool, fn func(*fileData)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := s.fileLock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquiring settings lock: %w", err)
	}
	if !locked {
		return errors.New("could not acquire settings lock")
	}
	defer func() { _ = s.fileLock.Unlock() }()

	data, err := s.load()
	if err != nil {
		return err
	}
	fn(data)
	if !write {
		return nil
	}
	data.UpdatedAt = time.Now().UTC()
	return s.save(data)
}

func (s *Store) load() (*fileData, error) {
	data := &fileData{Version: formatVersion, CurrentCart: map[string]string{}}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(raw) == 0) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", s.path, err)
	}
	if data.CurrentCart == nil {
		data.CurrentCart = map[string]string{}
	}
	return data, nil
}

// save writes through a temp file and rename so readers never see a
// partial file.
func (s *Store) save(data *fileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}
