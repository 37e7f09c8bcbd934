// Package testsupport holds test helpers: ephemeral PostgreSQL and Redis
// containers for integration tests, and Prometheus metric assertions.
package testsupport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rafaeljc/featuregate/internal/cache"
	"github.com/rafaeljc/featuregate/internal/config"
	"github.com/rafaeljc/featuregate/internal/database"
)

const (
	postgresImage = "postgres:16-alpine"
	redisImage    = "redis:7-alpine"
)

// Postgres is a throwaway database already carrying the flags schema.
type Postgres struct {
	// Config points at the container and can be handed to Bootstrap.
	Config config.DatabaseConfig
	// Pool is a migrated pool owned by the helper.
	Pool *pgxpool.Pool
}

// StartPostgres runs a container, applies the embedded migrations and
// registers cleanup on t.
func StartPostgres(t testing.TB) *Postgres {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("featuregate_test"),
		postgres.WithUsername("featuregate"),
		postgres.WithPassword("featuregate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		URL:             dsn,
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		PingMaxRetries:  5,
		PingBackoff:     500 * time.Millisecond,
		MonitorInterval: time.Second,
		MigrateOnStart:  true,
	}

	pool, err := database.NewPostgresPool(ctx, &cfg)
	require.NoError(t, err, "connect to postgres container")
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))

	return &Postgres{Config: cfg, Pool: pool}
}

// Redis is a throwaway Redis server.
type Redis struct {
	Config config.RedisConfig
	// Client is built by the application's own client factory.
	Client *goredis.Client
}

// StartRedis runs a container and registers cleanup on t.
func StartRedis(t testing.TB) *Redis {
	t.Helper()
	ctx := context.Background()

	ctr, err := redis.Run(ctx, redisImage)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start redis container")

	endpoint, err := ctr.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)
	host, port, _ := strings.Cut(endpoint, ":")

	cfg := config.RedisConfig{
		Host:           host,
		Port:           port,
		PoolSize:       5,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PoolTimeout:    4 * time.Second,
		PingMaxRetries: 5,
		PingBackoff:    500 * time.Millisecond,
	}

	client, err := cache.NewRedisClient(ctx, &cfg)
	require.NoError(t, err, "connect to redis container")
	t.Cleanup(func() { _ = client.Close() })

	return &Redis{Config: cfg, Client: client}
}
