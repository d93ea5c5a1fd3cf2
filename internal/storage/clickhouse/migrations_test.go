package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/storage/migrations"
)

func TestMigrations_RecordedAndReapplyIsNoop(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, migrations.ApplyClickhouse(ctx, conn))

	var count uint64
	require.NoError(t, conn.QueryRow(ctx, `SELECT count() FROM schema_migrations FINAL WHERE version = '001_prices.sql'`).Scan(&count))
	assert.Equal(t, uint64(1), count)
}
