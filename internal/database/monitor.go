package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/featuregate/internal/observability"
)

// RunPoolMonitor exports pool statistics every interval until ctx is done.
// It is meant to run as a sidecar goroutine next to the pool owner.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	record(pool.Stat())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			record(pool.Stat())
		}
	}
}

func record(stat *pgxpool.Stat) {
	observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
	observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
	observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))
	observability.DatabasePoolAcquireCount.Set(float64(stat.AcquireCount()))
	observability.DatabasePoolWaitCount.Set(float64(stat.EmptyAcquireCount()))
}
