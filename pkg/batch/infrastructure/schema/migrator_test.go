package schema_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riskbatch/pkg/batch/infrastructure/schema"
	"github.com/tigerroll/riskbatch/pkg/batch/test"
)

func TestMigrations_EveryDatabaseHasUpAndDown(t *testing.T) {
	for _, dbType := range []string{"mysql", "postgres", "sqlite"} {
		ups, err := fs.Glob(schema.Migrations(), dbType+"/*.up.sql")
		require.NoError(t, err)
		downs, err := fs.Glob(schema.Migrations(), dbType+"/*.down.sql")
		require.NoError(t, err)
		assert.NotEmpty(t, ups, dbType)
		assert.Len(t, downs, len(ups), dbType)
	}
}

func TestMigrator_UpVersionDown(t *testing.T) {
	store := test.NewRiskStore(t)
	ctx := context.Background()
	m := schema.NewMigrator(store.Conn)

	version, dirty, ok, err := m.Version(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	require.NoError(t, m.Up(ctx), "an up-to-date schema is not an error")

	require.NoError(t, m.Down(ctx))
	_, _, ok, err = m.Version(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Up(ctx))
	count, err := store.Repo.CountComputeFailures(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMigrator_CancelledContext(t *testing.T) {
	store := test.NewRiskStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, schema.NewMigrator(store.Conn).Up(ctx), context.Canceled)
}
