// Package store provides the postgres seam used by repos
// zero value is safe but does nothing
package store

import (
	"context"
	"time"

	perr "pkgsearch/internal/platform/errors"
	"pkgsearch/internal/platform/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row exposes the minimal scan contract a single row needs
type Row interface {
	Scan(dest ...any) error
}

// Rows exposes the minimal iteration and scan for a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// CommandTag is a tiny interface to inspect command results
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier is the read and write surface repos use for sql
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner wraps transaction execution around a function
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// Config configures the postgres pool
type Config struct {
	URL      string
	MaxConns int32
}

// Store owns the postgres pool behind the TxRunner seam
type Store struct {
	PG   TxRunner
	pool *pgxpool.Pool
	log  logger.Logger
}

// Option mutates Store during Open
type Option func(*Store) error

// WithLogger sets the logger used by the store
func WithLogger(l logger.Logger) Option {
	return func(s *Store) error { s.log = l; return nil }
}

// Open connects the pool and verifies it with a ping retry ladder
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{log: *logger.Named("store")}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "parse postgres url")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "open postgres pool")
	}

	const (
		maxAttempts    = 20
		pingTimeout    = 3 * time.Second
		backoffStart   = 150 * time.Millisecond
		backoffCeiling = 2 * time.Second
	)

	var lastErr error
	backoff := backoffStart
	for range maxAttempts {
		toCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = pool.Ping(toCtx)
		cancel()

		if lastErr == nil {
			s.pool = pool
			s.PG = &pgRunner{pool: pool}
			return s, nil
		}
		if ctx.Err() != nil {
			pool.Close()
			return nil, ctx.Err()
		}
		time.Sleep(backoff)
		if backoff < backoffCeiling {
			backoff *= 2
			if backoff > backoffCeiling {
				backoff = backoffCeiling
			}
		}
	}

	pool.Close()
	return nil, perr.Wrapf(lastErr, perr.ErrorCodeUnavailable, "postgres ping failed after %d attempts", maxAttempts)
}

// Close releases the pool
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// pgRunner adapts pgxpool to the seam
type pgRunner struct {
	pool *pgxpool.Pool
}

func (r *pgRunner) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgTag{tag.String(), tag.RowsAffected()}, nil
}

func (r *pgRunner) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgRows{rows}, nil
}

func (r *pgRunner) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return r.pool.QueryRow(ctx, sql, args...)
}

// Tx runs fn inside a transaction, rolling back on error
func (r *pgRunner) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	q := txQuerier{tx}
	if err := fn(q); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txQuerier struct {
	tx pgx.Tx
}

func (q txQuerier) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	tag, err := q.tx.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgTag{tag.String(), tag.RowsAffected()}, nil
}

func (q txQuerier) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := q.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgRows{rows}, nil
}

func (q txQuerier) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return q.tx.QueryRow(ctx, sql, args...)
}

type pgTag struct {
	s string
	n int64
}

func (t pgTag) String() string      { return t.s }
func (t pgTag) RowsAffected() int64 { return t.n }

type pgRows struct {
	rows pgx.Rows
}

func (r pgRows) Next() bool             { return r.rows.Next() }
func (r pgRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgRows) Err() error             { return r.rows.Err() }
func (r pgRows) Close()                 { r.rows.Close() }
