// Package pgtest starts a throwaway postgres container with the engine schema
// applied, for store integration tests.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/birdlabs/airdrop/pkg/pg"
	"github.com/birdlabs/airdrop/pkg/testlog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const containerImage = "postgres:16-alpine"

// Pool spins up a postgres container, applies the embedded migrations and
// returns a connected pool. The container is terminated on test cleanup.
// Tests are skipped in -short mode or when docker is unavailable.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	if os.Getenv("DOCKER_HOST") == "" {
		if _, err := os.Stat("/var/run/docker.sock"); err != nil {
			t.Skip("skipping container-backed test: docker is not available")
		}
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		containerImage,
		tcpostgres.WithDatabase("airdrop"),
		tcpostgres.WithUsername("airdrop"),
		tcpostgres.WithPassword("airdrop"),
		tcpostgres.BasicWaitStrategies(),
		tcpostgres.WithSQLDriver("pgx"),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(terminateCtx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	require.NoError(t, pg.Migrate(testlog.New(t), connStr), "failed to run migrations")

	poolConfig, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err, "failed to parse pool config")
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	return pool
}
