// Package settings holds the single persisted setting, the Gemini API key.
//
// Reads never fail: a storage error is logged and reported as "no key", which
// sends the user back to key setup instead of surfacing a storage fault.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/storage"
	"github.com/lotas/kurzfassung/internal/types"
	"github.com/zalando/go-keyring"
)

// APIKeyName is the key the API key is stored under in every backend.
const APIKeyName = "geminiApiKey"

const (
	keyPrefix    = "AIza"
	minKeyLength = 30
	keyringName  = "kurzfassung"
)

// Store reads and writes Settings.
type Store interface {
	Get(ctx context.Context) types.Settings
	Set(ctx context.Context, apiKey string) error
}

// Validate checks a key before it is saved. It trims nothing; callers pass
// the trimmed input.
func Validate(key string) error {
	if key == "" {
		return errors.New("Please enter a valid API key")
	}
	if !strings.HasPrefix(key, keyPrefix) {
		return fmt.Errorf("Invalid API key format. Key should start with %q", keyPrefix)
	}
	if len(key) < minKeyLength {
		return errors.New("API key appears too short. Please check your key.")
	}
	return nil
}

// HasKeyPrefix reports whether key looks like a Gemini key at all.
func HasKeyPrefix(key string) bool {
	return strings.HasPrefix(key, keyPrefix)
}

// SQLStore keeps settings in the sqlite settings table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database created by storage.OpenDB.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context) types.Settings {
	key, ok, err := storage.GetSetting(ctx, s.db, APIKeyName)
	if err != nil {
		applog.Error("settings.get", err, "backend", "sqlite")
		return types.Settings{}
	}
	if !ok {
		return types.Settings{}
	}
	return types.Settings{APIKey: key}
}

func (s *SQLStore) Set(ctx context.Context, apiKey string) error {
	if err := storage.SetSetting(ctx, s.db, APIKeyName, apiKey); err != nil {
		return err
	}
	applog.Info("settings.set", "backend", "sqlite")
	return nil
}

// Clear removes the stored key.
func (s *SQLStore) Clear(ctx context.Context) error {
	return storage.DeleteSetting(ctx, s.db, APIKeyName)
}

// KeyringStore keeps the key in the OS keychain.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store using the default "kurzfassung" service name.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: keyringName}
}

func (s *KeyringStore) Get(ctx context.Context) types.Settings {
	key, err := keyring.Get(s.service, APIKeyName)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			applog.Error("settings.get", err, "backend", "keyring")
		}
		return types.Settings{}
	}
	return types.Settings{APIKey: key}
}

func (s *KeyringStore) Set(ctx context.Context, apiKey string) error {
	if err := keyring.Set(s.service, APIKeyName, apiKey); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	applog.Info("settings.set", "backend", "keyring")
	return nil
}

// Clear removes the stored key. A missing key is not an error.
func (s *KeyringStore) Clear(ctx context.Context) error {
	err := keyring.Delete(s.service, APIKeyName)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
