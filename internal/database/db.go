// Package database manages the PostgreSQL connection pool for the Cloud SQL
// Connection service. It provides the at-most-once pool initializer driven
// by Secret Manager credentials and a pool wrapper that bounds how long a
// caller may wait for a connection checkout.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBInterface defines the database operations used by the rest of the
// application. It mirrors pgxpool.Pool methods so tests can substitute a
// pgxmock pool.
type DBInterface interface {
	// Query executes a query that returns rows
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)

	// QueryRow executes a query that returns at most one row
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row

	// Exec executes a query without returning any rows
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)

	// Ping verifies a connection to the database is still alive
	Ping(ctx context.Context) error

	// Close closes all connections in the pool
	Close()
}

// conn is one checked-out connection. *pgxpool.Conn satisfies it via the
// pgxConn adapter; tests use stubs.
type conn interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Release()
}

// acquirer is the slice of *pgxpool.Pool the Pool wrapper needs: checkout,
// liveness, shutdown. Kept narrow so exhaustion and leak behavior can be
// tested without a live database.
type acquirer interface {
	Acquire(ctx context.Context) (conn, error)
	Ping(ctx context.Context) error
	Close()
}

// pgxAcquirer adapts *pgxpool.Pool to the acquirer interface.
type pgxAcquirer struct {
	pool *pgxpool.Pool
}

func (a pgxAcquirer) Acquire(ctx context.Context) (conn, error) {
	c, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a pgxAcquirer) Ping(ctx context.Context) error { return a.pool.Ping(ctx) }
func (a pgxAcquirer) Close()                         { a.pool.Close() }

// Pool wraps a pgxpool.Pool with an explicit acquire timeout: every
// operation checks a connection out under a bounded deadline, and a wait
// that exceeds it fails with ErrPoolExhausted instead of blocking the
// request indefinitely. Connections are released on every exit path.
//
// Connection recycling (discarding connections older than the configured
// recycle interval) is delegated to pgxpool via MaxConnLifetime.
type Pool struct {
	src            acquirer
	acquireTimeout time.Duration
	cleanup        func() error
}

// NewPool wraps an established pgxpool.Pool. cleanup, if non-nil, runs when
// the pool is closed (used to stop the Cloud SQL connector dialer).
func NewPool(pool *pgxpool.Pool, acquireTimeout time.Duration, cleanup func() error) *Pool {
	return &Pool{
		src:            pgxAcquirer{pool: pool},
		acquireTimeout: acquireTimeout,
		cleanup:        cleanup,
	}
}

// acquire checks out one connection, waiting at most acquireTimeout.
func (p *Pool) acquire(ctx context.Context) (conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	c, err := p.src.Acquire(acquireCtx)
	if err != nil {
		// Distinguish "pool busy for the whole timeout" from the
		// caller's own context expiring.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("no connection available within %s: %w", p.acquireTimeout, ErrPoolExhausted)
		}
		return nil, err
	}
	return c, nil
}

// Query executes a query on a checked-out connection. The connection is
// returned to the pool when the rows are closed, or immediately on error.
func (p *Pool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	c, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		c.Release()
		return nil, err
	}
	return &pooledRows{Rows: rows, conn: c}, nil
}

// QueryRow executes a query expected to return at most one row. The
// connection is released when the row is scanned.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	c, err := p.acquire(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return &pooledRow{row: c.QueryRow(ctx, sql, args...), conn: c}
}

// Exec executes a statement and releases the connection before returning.
func (p *Pool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	c, err := p.acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer c.Release()
	return c.Exec(ctx, sql, args...)
}

// Ping verifies database connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.src.Ping(ctx)
}

// Close shuts the pool down and runs the cleanup hook. Safe to call once
// at process shutdown.
func (p *Pool) Close() {
	p.src.Close()
	if p.cleanup != nil {
		_ = p.cleanup()
	}
}

// pooledRows releases the underlying connection when the row set is closed.
// pgx guarantees Close is called on every path (including iteration errors),
// so the connection cannot leak.
type pooledRows struct {
	pgx.Rows
	conn conn
}

func (r *pooledRows) Close() {
	r.Rows.Close()
	if r.conn != nil {
		r.conn.Release()
		r.conn = nil
	}
}

// pooledRow releases the underlying connection after Scan.
type pooledRow struct {
	row  pgx.Row
	conn conn
}

func (r *pooledRow) Scan(dest ...interface{}) error {
	defer r.conn.Release()
	return r.row.Scan(dest...)
}

// errRow defers an acquire failure until Scan, matching pgx.Row semantics.
type errRow struct {
	err error
}

func (r errRow) Scan(dest ...interface{}) error { return r.err }
