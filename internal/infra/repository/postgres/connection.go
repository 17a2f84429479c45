// Package postgres implements the fleet's repository interfaces
// (account.Repository, campaign.Repository, dialogue.Repository, ...) over
// pgx/v5, grounded on Berektassuly-alem-hub's persistence/postgres package:
// one pooled Connection wrapping *pgxpool.Pool, one narrow repository struct
// per aggregate, each taking the connection rather than owning it.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connection wraps a pgxpool.Pool with the fleet's sane defaults, mirroring
// Berektassuly-alem-hub's Connection/Config split.
type Connection struct {
	pool *pgxpool.Pool
}

// Connect opens and pings a pooled connection to dsn.
func Connect(ctx context.Context, dsn string) (*Connection, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Close releases the pool. Safe to call once the process is shutting down.
func (c *Connection) Close() {
	c.pool.Close()
}

// Pool exposes the underlying pool for repositories in this package.
func (c *Connection) Pool() *pgxpool.Pool {
	return c.pool
}
