package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"agromind-sense/internal/domain"
)

// DefaultTxRetries bounds the optimistic retry loop for serializable
// transactions.
const DefaultTxRetries = 5

// serialization_failure and deadlock_detected: the transaction lost a
// conflict and must be re-run from its first read, not patched.
func isRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// runSerializable executes fn inside a serializable transaction,
// re-running the whole closure on conflict up to maxRetries times.
// Exhaustion surfaces as ErrTxRetryExhausted; a silently dropped merge
// would corrupt the aggregates.
func runSerializable(ctx context.Context, db *sql.DB, maxRetries int, fn func(tx *sql.Tx) error) error {
	if maxRetries <= 0 {
		maxRetries = DefaultTxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isRetryableTxError(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isRetryableTxError(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrTxRetryExhausted, lastErr)
}
