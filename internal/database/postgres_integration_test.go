//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/featuregate/internal/config"
	"github.com/rafaeljc/featuregate/internal/database"
	"github.com/rafaeljc/featuregate/internal/testsupport"
)

func TestPostgres_Integration(t *testing.T) {
	// 1. Setup Infrastructure
	ctx := context.Background()
	pg := testsupport.StartPostgres(t)

	// Create a pool with strict limits to easily test saturation
	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:            pg.Config.URL,
		MaxConns:       5,
		MinConns:       2,
		ConnectTimeout: 5 * time.Second,
		PingMaxRetries: 5,
		PingBackoff:    time.Second,
	})
	require.NoError(t, err)
	defer pool.Close()

	t.Run("Should be idempotent when migrating twice", func(t *testing.T) {
		require.NoError(t, database.Migrate(ctx, pool))

		var exists bool
		err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'flags')`).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Should report healthy", func(t *testing.T) {
		assert.NoError(t, database.Ping(ctx, pool))
	})

	t.Run("Should export pool statistics", func(t *testing.T) {
		monitorCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go database.RunPoolMonitor(monitorCtx, pool, 10*time.Millisecond)

		conn, err := pool.Acquire(ctx)
		require.NoError(t, err)
		defer conn.Release()

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "featuregate_database_pool_connections", map[string]string{"state": "max"}) == 5
		}, 2*time.Second, 10*time.Millisecond, "metric 'max' connections mismatch")

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "featuregate_database_pool_connections", map[string]string{"state": "in_use"}) >= 1
		}, 2*time.Second, 10*time.Millisecond, "metric 'in_use' connections never rose")

		assert.GreaterOrEqual(t, testsupport.GetMetricValue(t, "featuregate_database_pool_acquire_count", nil), 1.0)
	})
}
