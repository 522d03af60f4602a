package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres holds a session-level advisory lock on a dedicated pooled
// connection. The lock lives as long as that connection.
type Postgres struct {
	pool   *pgxpool.Pool
	id     int64
	conn   *pgxpool.Conn
	keeper *keeper
}

func NewPostgres(logger *zap.Logger, pool *pgxpool.Pool, id int64, checkInterval time.Duration) *Postgres {
	l := &Postgres{pool: pool, id: id}
	l.keeper = newKeeper(logger.Named("postgres_lease").With(zap.Int64("lock_id", id)), checkInterval, l.check)
	return l
}

func (l *Postgres) Acquire(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lease connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.id).Scan(&ok); err != nil {
		conn.Release()
		return fmt.Errorf("acquire advisory lock %d: %w", l.id, err)
	}
	if !ok {
		conn.Release()
		return fmt.Errorf("acquire advisory lock %d: %w", l.id, ErrHeld)
	}
	l.conn = conn
	l.keeper.start()
	return nil
}

func (l *Postgres) check(ctx context.Context) error {
	if err := l.conn.Ping(ctx); err != nil {
		return fmt.Errorf("lease connection: %w", err)
	}
	return nil
}

func (l *Postgres) Release(ctx context.Context) error {
	l.keeper.stop()
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	var ok bool
	if err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.id).Scan(&ok); err != nil {
		return fmt.Errorf("release advisory lock %d: %w", l.id, err)
	}
	return nil
}

func (l *Postgres) Lost() <-chan struct{} {
	return l.keeper.lost
}
