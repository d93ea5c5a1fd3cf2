package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"portfolio-tracker/internal/storage/migrations"
)

// setupTestDB starts a ClickHouse container with the embedded schema applied
// to a "portfolio" database created through the server default connection.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping clickhouse integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_USER": "default", "CLICKHOUSE_PASSWORD": ""},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(time.Minute),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	dsn := fmt.Sprintf("clickhouse://%s:%s/portfolio", host, port.Port())

	admin, err := NewConnWithDatabase(ctx, dsn, "")
	require.NoError(t, err)
	require.NoError(t, migrations.CreateClickhouseDatabase(ctx, admin, "portfolio"))
	require.NoError(t, admin.Close())

	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, migrations.ApplyClickhouse(ctx, conn), "apply migrations")

	return conn, func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}
}

func ptr[T any](v T) *T {
	return &v
}
