package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Beginner starts transactions; *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// ErrSerialization marks a transaction PostgreSQL aborted because it
// conflicted with a concurrent one. Callers may retry the whole operation.
var ErrSerialization = errors.New("platform/db: concurrent transaction conflict")

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return markSerialization(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return markSerialization(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// 40001 serialization_failure, 40P01 deadlock_detected.
func markSerialization(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return errors.Join(ErrSerialization, err)
	}
	return err
}
