package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the OS keychain service name used when none is configured.
const DefaultKeyringService = "portal"

// KeyringStore keeps each entry as a separate OS keychain item.
type KeyringStore struct {
	service string
	log     *slog.Logger

	mu       sync.RWMutex
	loaded   bool
	snapshot State
}

// NewKeyringStore creates a keychain-backed store.
func NewKeyringStore(service string, log *slog.Logger) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	if log == nil {
		log = slog.Default()
	}
	return &KeyringStore{
		service: service,
		log:     log.With(slog.String("component", "token_store"), slog.String("backend", "keyring")),
	}
}

func (k *KeyringStore) Get(_ context.Context) (State, error) {
	k.mu.RLock()
	if k.loaded {
		s := k.snapshot
		k.mu.RUnlock()
		return s, nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.loaded {
		return k.snapshot, nil
	}

	entries := make(map[string]string, len(Keys))
	for _, name := range Keys {
		value, err := keyring.Get(k.service, name)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				continue
			}
			return State{}, fmt.Errorf("failed to read %s from keyring: %w", name, err)
		}
		entries[name] = value
	}

	k.snapshot = decodeEntries(entries, k.log)
	k.loaded = true
	return k.snapshot, nil
}

func (k *KeyringStore) Set(_ context.Context, state State) error {
	if err := state.Validate(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for name, value := range encodeEntries(state) {
		if value == "" {
			if err := k.delete(name); err != nil {
				return err
			}
			continue
		}
		if err := keyring.Set(k.service, name, value); err != nil {
			return fmt.Errorf("failed to store %s in keyring: %w", name, err)
		}
	}

	k.snapshot = state
	k.loaded = true
	return nil
}

func (k *KeyringStore) Clear(_ context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, name := range Keys {
		if err := k.delete(name); err != nil {
			return err
		}
	}
	k.snapshot = State{}
	k.loaded = true
	return nil
}

func (k *KeyringStore) delete(name string) error {
	if err := keyring.Delete(k.service, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s from keyring: %w", name, err)
	}
	return nil
}
