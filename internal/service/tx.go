package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"coupon-book-service/pkg/database"
)

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error. The rollback is a no-op once committed.
func withTx(ctx context.Context, pool TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// withRetry runs fn up to maxRetries+1 times, retrying only transient
// concurrency failures (serialization, deadlock, lock timeout). Past the
// budget the last failure is surfaced as ErrContention. Logical errors
// (ownership, exhaustion, invalid state) pass through untouched: they
// will not change on retry.
func withRetry(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil || !database.IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrContention, err)
}

// setLockTimeout bounds how long statements in this transaction may wait
// on contended row locks, so a blocking FOR UPDATE cannot hang a caller
// indefinitely. SET LOCAL scopes the setting to the transaction.
func setLockTimeout(ctx context.Context, tx pgx.Tx, ms int) error {
	if ms <= 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	return nil
}
