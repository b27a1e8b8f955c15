package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/repo"
)

// Retry defaults for transient conflicts.
const (
	DefaultConflictMaxAttempts = 5
	DefaultConflictBaseDelay   = 10 * time.Millisecond
	maxConflictDelay           = 500 * time.Millisecond
)

// UnitOfWork runs a read-modify-write cycle as one database transaction,
// serialized per entity key inside the process and retried with bounded
// exponential backoff when the database reports a transient conflict.
//
// Once an attempt has started its transaction it runs under a context that
// is not cancelled with the caller's, so a request abandoned after reaching
// the commit point still commits, and never partially.
type UnitOfWork struct {
	DB          *gorm.DB
	MaxAttempts int
	BaseDelay   time.Duration

	locks KeyedMutex
}

// NewUnitOfWork returns a UnitOfWork over db with the given retry policy.
// Non-positive values select the defaults.
func NewUnitOfWork(db *gorm.DB, maxAttempts int, baseDelay time.Duration) *UnitOfWork {
	return &UnitOfWork{DB: db, MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// TxFunc is the body of a unit of work. It may run more than once, so it
// must reset any state it captures at the start of each call.
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// Do acquires key (when non-empty) and runs fn in a transaction. Errors that
// repo.IsTransient classifies as retryable are retried; once attempts are
// exhausted they surface wrapped in ErrConflict. Any other error is returned
// unchanged after the first attempt.
func (u *UnitOfWork) Do(ctx context.Context, op, key string, fn TxFunc) error {
	if key != "" {
		unlock, err := u.locks.Lock(ctx, key)
		if err != nil {
			return err
		}
		defer unlock()
	}

	log := zerolog.Ctx(ctx)
	attempts := 0
	var lastTransient error

	operation := func() error {
		// Never start a new attempt for a caller that already went away.
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		txCtx := context.WithoutCancel(ctx)
		err := u.DB.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
			return fn(txCtx, tx)
		})
		if err == nil {
			return nil
		}
		if repo.IsTransient(err) {
			lastTransient = err
			retriesTotal.WithLabelValues(op).Inc()
			log.Warn().Err(err).Str("op", op).Str("key", key).Int("attempt", attempts).Msg("transient conflict")
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(u.policy(), ctx))
	if err != nil && lastTransient != nil && errors.Is(err, lastTransient) {
		return fmt.Errorf("%w: %s gave up after %d attempts: %v", ErrConflict, op, attempts, err)
	}
	return err
}

func (u *UnitOfWork) policy() backoff.BackOff {
	maxAttempts := u.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConflictMaxAttempts
	}
	base := u.BaseDelay
	if base <= 0 {
		base = DefaultConflictBaseDelay
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = maxConflictDelay
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, uint64(maxAttempts-1))
}
