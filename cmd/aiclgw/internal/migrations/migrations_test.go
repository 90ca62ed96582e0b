package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/bunx"
)

func TestUpAndRollback_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := bunx.NewDB(ctx, ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	group, err := Up(ctx, db)
	require.NoError(t, err)
	assert.NotZero(t, group.ID)

	var count int
	count, err = db.NewSelect().Table("api_tokens").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Applying again is a no-op.
	group, err = Up(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, group.ID)

	migrator := migrate.NewMigrator(db, Migrations)
	rolledBack, err := migrator.Rollback(ctx)
	require.NoError(t, err)
	assert.NotZero(t, rolledBack.ID)

	_, err = db.NewSelect().Table("api_tokens").Count(ctx)
	assert.Error(t, err)
}
