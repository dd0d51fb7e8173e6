package persistence_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/propertipro/go-auth/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := persistence.Open(persistence.Options{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := persistence.Open(persistence.Options{Driver: "pg"})
	assert.Error(t, err)
}

func TestMigrateAndRollback(t *testing.T) {
	ctx := context.Background()

	db, err := persistence.Open(persistence.Options{DSN: "file:persistence_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fsys := fstest.MapFS{
		"20240101000000_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")},
		"20240101000000_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	}

	require.NoError(t, persistence.Migrate(ctx, db, fsys, nil))

	_, err = db.ExecContext(ctx, "INSERT INTO widgets (id) VALUES (1)")
	require.NoError(t, err)

	// a second run finds nothing to apply
	require.NoError(t, persistence.Migrate(ctx, db, fsys, nil))

	require.NoError(t, persistence.Rollback(ctx, db, fsys, nil))

	_, err = db.ExecContext(ctx, "INSERT INTO widgets (id) VALUES (2)")
	assert.Error(t, err)
}
