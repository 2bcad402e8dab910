package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/database"
)

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
	onDisk      bool
}

// WithAutoMigrate enables automatic schema migration after opening the test database.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// WithFileStorage backs the database with a WAL-mode file under t.TempDir(),
// matching the default runtime configuration. Separate connections then see
// separate snapshots, which in-memory shared-cache databases hide.
func WithFileStorage() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.onDisk = true
	}
}

// MustOpenTestDB opens a private in-memory SQLite database for tests, applying
// optional migrations. Each call gets its own named database so parallel tests
// never observe each other's rows. The connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := testDBConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	dbCfg := database.Config{Driver: "sqlite"}
	if cfg.onDisk {
		dbCfg.Path = filepath.Join(t.TempDir(), "otpauth.db")
	} else {
		dbCfg.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	}
	db, err := database.Open(dbCfg)
	require.NoError(t, err)

	if cfg.autoMigrate {
		require.NoError(t, database.AutoMigrate(db))
	}

	t.Cleanup(func() {
		_ = database.Close(db)
	})

	return db
}
