package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 0, BaseDelay: -time.Second}.normalized()
	if p != (RetryPolicy{MaxAttempts: DefaultRetryPolicy().MaxAttempts, BaseDelay: 0}) {
		t.Errorf("unexpected normalized policy: %+v", p)
	}
	if d := p.backoff(3); d != 0 {
		t.Errorf("expected no delay without a base, got %v", d)
	}
}

func TestRetryPolicy_BackoffBounds(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt := 1; attempt <= 3; attempt++ {
		lo := p.BaseDelay << (attempt - 1)
		for i := 0; i < 20; i++ {
			d := p.backoff(attempt)
			if d < lo || d >= lo+p.BaseDelay {
				t.Fatalf("attempt %d: delay %v outside [%v, %v)", attempt, d, lo, lo+p.BaseDelay)
			}
		}
	}
}

func TestRunTransaction_StopsOnOtherErrors(t *testing.T) {
	store := &conflictStore{DocumentStore: newWarehouse(t)}
	m := newTestMetrics()
	boom := errors.New("boom")

	err := runTransaction(context.Background(), store, fastPolicy(5), m, "test", func(ctx context.Context, tx port.Txn) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got: %v", err)
	}
	if n := store.attempts.Load(); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
	if got := testutil.ToFloat64(m.TransactionAttempts.WithLabelValues("test", "failed")); got != 1 {
		t.Errorf("expected one failed attempt recorded, got %v", got)
	}
}

func TestRunTransaction_CountsConflicts(t *testing.T) {
	store := &conflictStore{DocumentStore: newWarehouse(t), conflicts: -1}
	m := newTestMetrics()

	err := runTransaction(context.Background(), store, fastPolicy(4), m, "test", func(ctx context.Context, tx port.Txn) error {
		return nil
	})
	if !errors.Is(err, domain.ErrTransactionAborted) {
		t.Fatalf("expected ErrTransactionAborted, got: %v", err)
	}
	if got := testutil.ToFloat64(m.TransactionAttempts.WithLabelValues("test", "conflict")); got != 4 {
		t.Errorf("expected 4 conflicts recorded, got %v", got)
	}
}

func TestRunTransaction_HonoursCancellation(t *testing.T) {
	store := &conflictStore{DocumentStore: newWarehouse(t), conflicts: -1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runTransaction(ctx, store, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, newTestMetrics(), "test",
		func(ctx context.Context, tx port.Txn) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}
