package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/genioCE/WellApp/internal/storage"
)

// Postgres is a Bus over LISTEN/NOTIFY. Publishing goes through the pool;
// each subscription holds its own direct connection.
type Postgres struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewPostgres returns a bus backed by db.
func NewPostgres(db *storage.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// Publish sends payload on channel.
func (p *Postgres) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := checkSize(channel, payload); err != nil {
		return err
	}
	return p.db.Notify(ctx, channel, string(payload))
}

// Subscribe opens a dedicated LISTEN connection for channel.
func (p *Postgres) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	conn, err := p.db.Listen(ctx, channel)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("bus: subscribed", "channel", channel)
	return &pgSubscription{conn: conn, channel: channel, logger: p.logger}, nil
}

type pgSubscription struct {
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	conn   *pgx.Conn
	closed bool
}

func (s *pgSubscription) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := s.conn.WaitForNotification(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && !s.conn.IsClosed() {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: wait on %s: %w", s.channel, err)
	}
	return &Message{Channel: n.Channel, Payload: []byte(n.Payload)}, nil
}

func (s *pgSubscription) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close(ctx)
}
