// Package storage provides the PostgreSQL stage store for the well pipeline.
//
// It manages connection pooling (via pgxpool), dedicated connections for
// LISTEN/NOTIFY, and the per-stage batch transactions: each batch selects
// pending rows with FOR UPDATE SKIP LOCKED, writes the next stage's rows,
// flips the completion flag, and commits as one unit.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// DB wraps a pgxpool.Pool for normal queries and remembers the direct
// Postgres DSN used to open LISTEN connections.
type DB struct {
	pool      *pgxpool.Pool
	notifyDSN string
	logger    *slog.Logger
}

// New creates a new DB with a connection pool.
// notifyDSN should point directly to Postgres (not a transaction pooler) for
// LISTEN/NOTIFY support. Empty means no subscriptions can be opened.
func New(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	// Register pgvector types on each new connection so memory_log embeddings
	// encode. The registration is best-effort: if the vector extension hasn't
	// been created yet (before the first migration), we log and proceed.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{
		pool:      pool,
		notifyDSN: notifyDSN,
		logger:    logger,
	}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool. Listen connections are owned by
// their callers.
func (db *DB) Close(_ context.Context) {
	db.pool.Close()
}
