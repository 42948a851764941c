package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lotas/kurzfassung/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const validKey = "AIzaVALIDKEY1234567890123456789"

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{"empty", "", "Please enter a valid API key"},
		{"wrong prefix", "sk-1234567890123456789012345678901", `Key should start with "AIza"`},
		{"too short", "AIzaShort", "too short"},
		{"29 chars", "AIza" + "1234567890123456789012345", "too short"},
		{"valid", validKey, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.key)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)

	assert.False(t, s.Get(ctx).HasKey())

	require.NoError(t, s.Set(ctx, validKey))
	assert.Equal(t, validKey, s.Get(ctx).APIKey)

	require.NoError(t, s.Clear(ctx))
	assert.False(t, s.Get(ctx).HasKey())
}

func TestSQLStoreReadErrorIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)
	require.NoError(t, s.Set(ctx, validKey))

	s.db.Close()

	assert.Equal(t, "", s.Get(ctx).APIKey)
}

func TestSQLStoreCancelledContext(t *testing.T) {
	s := newSQLStore(t)
	require.NoError(t, s.Set(context.Background(), validKey))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Set(ctx, "AIzaOTHERKEY123456789012345678901"))
	assert.False(t, s.Get(ctx).HasKey(), "a cancelled read reports no key")
	assert.Error(t, s.Clear(ctx))
	assert.Equal(t, validKey, s.Get(context.Background()).APIKey)
}

func TestKeyringStoreRoundTrip(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	s := NewKeyringStore()

	assert.False(t, s.Get(ctx).HasKey())
	require.NoError(t, s.Set(ctx, validKey))
	assert.Equal(t, validKey, s.Get(ctx).APIKey)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	assert.False(t, s.Get(ctx).HasKey())
}
