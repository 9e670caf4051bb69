package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/rl1809/warehouse-tracker/internal/adapter/storage"
	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/metrics"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

// Mock Auditor
type recordingAuditor struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
}

func (r *recordingAuditor) Log(_ context.Context, actor string, action domain.ActionKind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, domain.AuditLogEntry{Actor: actor, Action: action, Detail: detail})
}

func (r *recordingAuditor) all() []domain.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditLogEntry(nil), r.entries...)
}

// conflictStore fails the first `conflicts` transactions with port.ErrConflict.
type conflictStore struct {
	port.DocumentStore
	conflicts int64
	attempts  atomic.Int64
}

func (c *conflictStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx port.Txn) error) error {
	n := c.attempts.Add(1)
	if c.conflicts < 0 || n <= c.conflicts {
		return port.ErrConflict
	}
	return c.DocumentStore.RunTransaction(ctx, fn)
}

// failingLogStore refuses every append to the logs collection.
type failingLogStore struct {
	port.DocumentStore
}

func (f *failingLogStore) Add(ctx context.Context, collection string, data []byte) (string, error) {
	if collection == collectionLogs {
		return "", errors.New("logs collection unavailable")
	}
	return f.DocumentStore.Add(ctx, collection, data)
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func seedSite(t *testing.T, store port.DocumentStore, id, name, prefix string, counter int) {
	t.Helper()
	site := &domain.Site{Name: name, ReceiptPrefix: prefix, LastReceiptNumber: counter}
	data, err := site.Encode()
	if err != nil {
		t.Fatalf("encode site: %v", err)
	}
	seed(t, store, collectionSites, id, data)
}

func seedItem(t *testing.T, store port.DocumentStore, id, sku, name, price string, qty int) {
	t.Helper()
	item := &domain.InventoryItem{
		SKU:       sku,
		Name:      name,
		Brand:     "Acme",
		Price:     decimal.RequireFromString(price),
		Quantity:  qty,
		CreatedAt: time.Now().UTC(),
	}
	data, err := item.Encode()
	if err != nil {
		t.Fatalf("encode item: %v", err)
	}
	seed(t, store, collectionInventory, id, data)
}

func seed(t *testing.T, store port.DocumentStore, collection, id string, data []byte) {
	t.Helper()
	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx port.Txn) error {
		return tx.Set(ctx, collection, id, data)
	})
	if err != nil {
		t.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}

func getItem(t *testing.T, store port.DocumentStore, id string) *domain.InventoryItem {
	t.Helper()
	doc, err := store.Get(context.Background(), collectionInventory, id)
	if err != nil {
		t.Fatalf("get item %s: %v", id, err)
	}
	item, err := domain.DecodeItem(doc.ID, doc.Data)
	if err != nil {
		t.Fatalf("decode item: %v", err)
	}
	return item
}

func getSite(t *testing.T, store port.DocumentStore, id string) *domain.Site {
	t.Helper()
	doc, err := store.Get(context.Background(), collectionSites, id)
	if err != nil {
		t.Fatalf("get site %s: %v", id, err)
	}
	site, err := domain.DecodeSite(doc.ID, doc.Data)
	if err != nil {
		t.Fatalf("decode site: %v", err)
	}
	return site
}

func countReceipts(t *testing.T, store port.DocumentStore) int {
	t.Helper()
	docs, err := store.QueryOrdered(context.Background(), collectionReceipts, "createdAt", port.Ascending)
	if err != nil {
		t.Fatalf("query receipts: %v", err)
	}
	return len(docs)
}

// newWarehouse returns a memory store holding site "mnl" (prefix MNL) and
// item "bolt" (qty 10 at 100.00).
func newWarehouse(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	seedSite(t, store, "mnl", "Manila", "MNL", 0)
	seedItem(t, store, "bolt", "SKU-BOLT", "Bolt", "100.00", 10)
	return store
}
