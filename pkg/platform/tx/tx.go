// Package tx carries SQL transactions through context and provides the
// transaction runners services use for multi-step writes. Stores never open
// transactions themselves: they check the context and fall back to the bare
// connection, so the same store code serves both paths.
package tx

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"

	"refledger/pkg/platform/sentinel"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner executes a function inside a transactional boundary. Stores reached
// through the callback context participate in the same transaction.
type Runner interface {
	// RunInTx runs fn inside a transaction at the store's default isolation
	// level. Any error from fn rolls the transaction back.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// RunSerializable runs fn inside a SERIALIZABLE transaction bounded by
	// timeout. Used where a lost-update race has financial consequences:
	// concurrent runs against the same rows result in exactly one winner.
	RunSerializable(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error
}

// SQLRunner runs transactions against a *sql.DB.
type SQLRunner struct {
	db *sql.DB
}

// NewSQLRunner constructs a Runner over db.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.run(ctx, nil, fn)
}

func (r *SQLRunner) RunSerializable(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (r *SQLRunner) run(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context) error) error {
	sqlTx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		_ = sqlTx.Rollback()
		return translateSerialization(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return translateSerialization(err)
	}
	return nil
}

// translateSerialization maps PostgreSQL serialization failures (40001) to
// the conflict sentinel so callers can distinguish a losing race from an
// infrastructure fault.
func translateSerialization(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "40001" {
		return sentinel.ErrConflict
	}
	return err
}

// MemoryRunner provides transaction semantics for in-memory stores: a coarse
// lock serializes all runs. There is no rollback; memory stores are expected
// to validate before mutating (Execute callback pattern), so a failed run
// leaves no partial write.
type MemoryRunner struct {
	mu sync.Mutex
}

// NewMemoryRunner constructs an in-memory Runner for tests and dev wiring.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}

func (r *MemoryRunner) RunSerializable(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
