package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one file per entry inside a private directory.
type FileStore struct {
	dir string
	log *slog.Logger

	mu       sync.Mutex
	loaded   bool
	snapshot State
}

// NewFileStore creates a file-backed store rooted at dir. Nothing touches the
// disk until the first Get or Set.
func NewFileStore(dir string, log *slog.Logger) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{
		dir: dir,
		log: log.With(slog.String("component", "token_store"), slog.String("backend", "file")),
	}
}

// DefaultDir returns the default credentials directory.
func DefaultDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(configDir, "portal", "credentials"), nil
}

// Dir returns the directory holding the entries.
func (f *FileStore) Dir() string {
	return f.dir
}

// Get reads the entries from disk on every call, so tokens written by
// another process are picked up. The last snapshot is served when the disk
// cannot be read.
func (f *FileStore) Get(_ context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.read()
	if err != nil {
		if !f.loaded {
			return State{}, err
		}
		f.log.Warn("failed to read credentials, serving last snapshot",
			slog.String("dir", f.dir),
			slog.String("error", err.Error()))
		return f.snapshot, nil
	}

	if !f.loaded {
		f.log.Debug("loaded credentials from disk",
			slog.String("dir", f.dir),
			slog.Bool("has_access_token", state.HasAccessToken()),
			slog.Bool("has_refresh_token", state.HasRefreshToken()))
	}
	f.snapshot = state
	f.loaded = true
	return state, nil
}

func (f *FileStore) read() (State, error) {
	entries := make(map[string]string, len(Keys))
	for _, key := range Keys {
		data, err := os.ReadFile(f.path(key))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return State{}, fmt.Errorf("failed to read %s: %w", key, err)
		}
		entries[key] = string(data)
	}
	return decodeEntries(entries, f.log), nil
}

// writeOrder puts the access token last: a reader racing a Set sees either
// the old access token or the new one with its expiry already in place.
var writeOrder = []string{KeyRefreshToken, KeyExpiresAt, KeyAccessToken}

// Set stages every entry in a temp file, then renames them into place in
// writeOrder. Nothing on disk changes if staging fails.
func (f *FileStore) Set(_ context.Context, state State) error {
	if err := state.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	entries := encodeEntries(state)
	staged := make(map[string]string, len(entries))
	defer func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}()
	for _, key := range writeOrder {
		if entries[key] == "" {
			continue
		}
		tmp, err := f.stage(key, entries[key])
		if err != nil {
			return err
		}
		staged[key] = tmp
	}

	for _, key := range writeOrder {
		tmp, ok := staged[key]
		if !ok {
			if err := f.remove(key); err != nil {
				return err
			}
			continue
		}
		if err := os.Rename(tmp, f.path(key)); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
		delete(staged, key)
	}

	f.snapshot = state
	f.loaded = true
	return nil
}

// Clear removes every entry.
func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, key := range Keys {
		if err := f.remove(key); err != nil {
			return err
		}
	}
	f.snapshot = State{}
	f.loaded = true
	return nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key)
}

// stage writes one entry to a private temp file in the store directory and
// returns its name.
func (f *FileStore) stage(key, value string) (string, error) {
	tmp, err := os.CreateTemp(f.dir, "."+key+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to restrict %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close %s: %w", key, err)
	}
	return tmpName, nil
}

func (f *FileStore) remove(key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}
