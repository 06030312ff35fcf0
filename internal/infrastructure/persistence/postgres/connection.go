// Package postgres implements the PostgreSQL persistence layer for LearnPath.
// Every state change is a conditional UPDATE keyed by ID with a guard
// predicate, so duplicate or concurrent calls are safe without locks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/retry"
)

var (
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")
	ErrMigrationFailed  = errors.New("postgres: migration failed")
)

// Config sizes the pool. Zero durations and counts keep the pgxpool defaults.
type Config struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// QueryTimeout bounds Exec calls whose context has no deadline.
	QueryTimeout time.Duration
	Logger       *logger.Logger
}

func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		MaxConns:          25,
		MinConns:          2,
		MaxConnLifetime:   5 * time.Minute,
		MaxConnIdleTime:   time.Minute,
		HealthCheckPeriod: time.Minute,
		QueryTimeout:      30 * time.Second,
	}
}

func (c Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		pc.MinConns = c.MinConns
	}
	for dst, src := range map[*time.Duration]time.Duration{
		&pc.MaxConnLifetime:   c.MaxConnLifetime,
		&pc.MaxConnIdleTime:   c.MaxConnIdleTime,
		&pc.HealthCheckPeriod: c.HealthCheckPeriod,
	} {
		if src > 0 {
			*dst = src
		}
	}
	return pc, nil
}

// Connection is the pool shared by every repository.
type Connection struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	logger       *logger.Logger
	closed       atomic.Bool
}

// NewConnection opens the pool and waits for the database to answer.
func NewConnection(ctx context.Context, cfg Config) (*Connection, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	// The database container may still be starting when the service boots.
	err = retry.DatabaseRetrier().Do(ctx, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			cfg.Logger.Warn("postgres ping failed", logger.String("host", pc.ConnConfig.Host), logger.Err(err))
			return retry.Retryable(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool, queryTimeout: cfg.QueryTimeout, logger: cfg.Logger.Named("postgres")}, nil
}

func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

// InTx runs fn in a read-committed transaction, committing when fn returns
// nil and rolling back otherwise.
func (c *Connection) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// Exec runs a statement, applying QueryTimeout when ctx has no deadline.
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}
	return c.pool.Exec(ctx, sql, args...)
}

// Query runs a query; the caller closes the rows.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.pool.Query(ctx, sql, args...)
}

func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

// SQLSTATE codes the repositories translate into domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

func IsUniqueViolation(err error) bool {
	e := pgError(err)
	return e != nil && e.Code == codeUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	e := pgError(err)
	return e != nil && e.Code == codeForeignKeyViolation
}

// ViolatedConstraint names the constraint behind err, or "".
func ViolatedConstraint(err error) string {
	if e := pgError(err); e != nil {
		return e.ConstraintName
	}
	return ""
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
