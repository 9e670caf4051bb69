package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/metrics"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

const (
	defaultActor      = "User"
	auditWriteTimeout = 5 * time.Second
)

// Auditor records a completed operation. Implementations must not block the
// caller and must not report failures back to it.
type Auditor interface {
	Log(ctx context.Context, actor string, action domain.ActionKind, detail string)
}

// AuditLogger appends entries to the logs collection from a pool of workers
// draining a bounded queue. A full queue drops the entry.
type AuditLogger struct {
	store   port.DocumentStore
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue  chan domain.AuditLogEntry
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewAuditLogger(store port.DocumentStore, workers, queueSize int, logger *zap.Logger, m *metrics.Metrics) *AuditLogger {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	a := &AuditLogger{
		store:   store,
		logger:  logger,
		metrics: m,
		queue:   make(chan domain.AuditLogEntry, queueSize),
	}

	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go func(id int) {
			defer a.wg.Done()
			a.workerLoop(id)
		}(i)
	}
	return a
}

func (a *AuditLogger) Log(_ context.Context, actor string, action domain.ActionKind, detail string) {
	if actor == "" {
		actor = defaultActor
	}
	entry := domain.AuditLogEntry{Actor: actor, Action: action, Detail: detail}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(entry, "closed")
		return
	}

	select {
	case a.queue <- entry:
		a.metrics.AuditQueueDepth.Inc()
	default:
		a.drop(entry, "queue_full")
	}
}

func (a *AuditLogger) drop(entry domain.AuditLogEntry, reason string) {
	a.metrics.AuditFailures.WithLabelValues(reason).Inc()
	a.logger.Warn("audit_entry_dropped",
		zap.String("reason", reason),
		zap.String("action", string(entry.Action)),
		zap.String("details", entry.Detail),
	)
}

func (a *AuditLogger) workerLoop(id int) {
	for entry := range a.queue {
		a.metrics.AuditQueueDepth.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := a.write(ctx, entry); err != nil {
			a.metrics.AuditFailures.WithLabelValues("write").Inc()
			a.logger.Error("audit_write_failed",
				zap.Int("worker", id),
				zap.String("action", string(entry.Action)),
				zap.String("details", entry.Detail),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (a *AuditLogger) write(ctx context.Context, entry domain.AuditLogEntry) error {
	entry.Timestamp = a.store.ServerTimestamp()

	data, err := entry.Encode()
	if err != nil {
		return err
	}
	if _, err := a.store.Add(ctx, collectionLogs, data); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Recent returns the newest entries first. A limit of zero returns all of them.
func (a *AuditLogger) Recent(ctx context.Context, limit int) ([]*domain.AuditLogEntry, error) {
	docs, err := a.store.QueryOrdered(ctx, collectionLogs, "timestamp", port.Descending)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	entries := make([]*domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		if limit > 0 && len(entries) == limit {
			break
		}
		entry, err := domain.DecodeAuditLogEntry(doc.ID, doc.Data)
		if err != nil {
			a.logger.Warn("skipping_malformed_log", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close stops accepting entries and waits until the queue is drained.
func (a *AuditLogger) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
}
