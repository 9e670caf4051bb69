package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/metrics"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 20 * time.Millisecond
)

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// backoff doubles the base delay per attempt and adds up to one base delay of jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay == 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(p.BaseDelay)))
}

// runTransaction re-runs fn while the store reports a write conflict. Any
// other error ends the loop immediately. Running out of attempts yields
// domain.ErrTransactionAborted.
func runTransaction(
	ctx context.Context,
	store port.DocumentStore,
	policy RetryPolicy,
	m *metrics.Metrics,
	operation string,
	fn func(ctx context.Context, tx port.Txn) error,
) error {
	policy = policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := store.RunTransaction(ctx, fn)
		if err == nil {
			m.TransactionAttempts.WithLabelValues(operation, "committed").Inc()
			return nil
		}
		if !errors.Is(err, port.ErrConflict) {
			m.TransactionAttempts.WithLabelValues(operation, "failed").Inc()
			return err
		}

		m.TransactionAttempts.WithLabelValues(operation, "conflict").Inc()
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.backoff(attempt)):
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", domain.ErrTransactionAborted, policy.MaxAttempts, lastErr)
}
