package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MaxNotifyPayload is the largest payload accepted by Notify. Postgres refuses
// NOTIFY payloads of 8000 bytes or more; the margin leaves room for encoding.
const MaxNotifyPayload = 7900

// ErrPayloadTooLarge is returned by Notify for payloads over MaxNotifyPayload.
var ErrPayloadTooLarge = errors.New("storage: notify payload too large")

// Listen opens a dedicated connection and starts listening on channel.
// The caller owns the returned connection and must close it.
func (db *DB) Listen(ctx context.Context, channel string) (*pgx.Conn, error) {
	if db.notifyDSN == "" {
		return nil, fmt.Errorf("storage: notify connection not configured")
	}
	conn, err := pgx.Connect(ctx, db.notifyDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: connect notify: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return conn, nil
}

// Notify sends a notification on the specified channel.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	if len(payload) > MaxNotifyPayload {
		return fmt.Errorf("%w: %d bytes on %s", ErrPayloadTooLarge, len(payload), channel)
	}
	_, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}
