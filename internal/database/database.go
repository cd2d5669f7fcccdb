// Package database wraps sqlx with transaction-aware context plumbing.
// Repositories take the DB interface; when a transaction has been opened
// with GetTx, queries issued with the returned context run inside it.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DB is the query surface repositories depend on.
type DB interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	Ping() error
	Close() error
	Unwrap() *sqlx.DB
}

// Tx is a handle to an open transaction.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Config holds connection settings.
type Config struct {
	Driver          string
	Host            string
	Port            string
	Username        string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RetryCount      int
}

type db struct {
	conn *sqlx.DB
}

type txKey struct{}

type tx struct {
	inner *sqlx.Tx
}

func (t *tx) Commit(ctx context.Context) error { return t.inner.Commit() }

func (t *tx) Rollback(ctx context.Context) error {
	err := t.inner.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Connect opens a connection pool, retrying on startup failures.
func Connect(cfg Config) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	var conn *sqlx.DB
	var err error
	attempts := cfg.RetryCount
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		conn, err = sqlx.Connect(cfg.Driver, dsn)
		if err == nil {
			break
		}
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &db{conn: conn}, nil
}

func (d *db) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return t.inner.GetContext(ctx, dest, query, args...)
	}
	return d.conn.GetContext(ctx, dest, query, args...)
}

func (d *db) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return t.inner.SelectContext(ctx, dest, query, args...)
	}
	return d.conn.SelectContext(ctx, dest, query, args...)
}

func (d *db) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return t.inner.ExecContext(ctx, query, args...)
	}
	return d.conn.ExecContext(ctx, query, args...)
}

// GetTx begins a transaction and returns a context that routes queries
// through it. Nested calls reuse the already-open transaction.
func (d *db) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	if existing, ok := ctx.Value(txKey{}).(*tx); ok {
		return ctx, existing, nil
	}
	inner, err := d.conn.BeginTxx(ctx, opts)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	t := &tx{inner: inner}
	return context.WithValue(ctx, txKey{}, t), t, nil
}

func (d *db) Ping() error { return d.conn.Ping() }

func (d *db) Close() error { return d.conn.Close() }

func (d *db) Unwrap() *sqlx.DB { return d.conn }
