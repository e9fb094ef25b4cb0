package integration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"proctordraw/internal/database"
	"proctordraw/internal/draw"
	"proctordraw/internal/persistence"
	"proctordraw/internal/session"
	pkgdatabase "proctordraw/pkg/database"
)

// instance is one proctordraw process sharing the database file with others.
type instance struct {
	db       *database.Manager
	store    *persistence.Store
	sessions *session.Manager
}

// sharedDatabase returns a migrated database path inside t.TempDir.
func sharedDatabase(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "proctordraw.db")
	first := openDatabase(t, path)
	migrations := pkgdatabase.NewMigrationManager(first.GetDB(), "")
	require.NoError(t, migrations.ApplyMigrations())
	return path
}

func openDatabase(t *testing.T, path string) *database.Manager {
	t.Helper()

	config := pkgdatabase.DefaultConfig()
	config.DatabasePath = path
	config.RetryDelay = 10 * time.Millisecond

	manager, err := database.NewManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

// newInstance opens its own connection to path, as a separate process would.
func newInstance(t *testing.T, path string, seed uint64, maxRetries int) *instance {
	t.Helper()

	db := openDatabase(t, path)
	store := persistence.NewStore(db)
	engine := draw.NewEngine(draw.Options{Seed: seed})
	sessions := session.NewManager(store, store, engine, nil, session.Config{MaxRetries: maxRetries})
	return &instance{db: db, store: store, sessions: sessions}
}
