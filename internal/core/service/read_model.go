package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

type InventoryStats struct {
	UniqueItems   int             `json:"uniqueItems"`
	TotalQuantity int             `json:"totalQuantity"`
	TotalValue    decimal.Decimal `json:"totalValue"`
}

// ReadModel mirrors the inventory and sites collections for display. Every
// snapshot replaces the previous one wholesale. It is never used to decide
// whether a receipt can be issued; the store transaction does that.
type ReadModel struct {
	store        port.DocumentStore
	reorderLevel int
	logger       *zap.Logger

	mu    sync.RWMutex
	items []domain.InventoryItem
	sites []domain.Site

	listenerMu   sync.Mutex
	listeners    map[int]func(collection string)
	nextListener int

	unsubs []func()
}

func NewReadModel(store port.DocumentStore, reorderLevel int, logger *zap.Logger) *ReadModel {
	if reorderLevel <= 0 {
		reorderLevel = domain.DefaultReorderLevel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadModel{
		store:        store,
		reorderLevel: reorderLevel,
		logger:       logger,
		listeners:    make(map[int]func(string)),
	}
}

// Start subscribes to both collections ordered by name.
func (r *ReadModel) Start(ctx context.Context) error {
	unsubItems, err := r.store.Subscribe(ctx, collectionInventory, "name", port.Ascending, r.applyItems)
	if err != nil {
		return fmt.Errorf("subscribe inventory: %w", err)
	}
	unsubSites, err := r.store.Subscribe(ctx, collectionSites, "name", port.Ascending, r.applySites)
	if err != nil {
		unsubItems()
		return fmt.Errorf("subscribe sites: %w", err)
	}

	r.unsubs = []func(){unsubItems, unsubSites}
	return nil
}

func (r *ReadModel) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *ReadModel) applyItems(snap port.Snapshot) {
	items := make([]domain.InventoryItem, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		item, err := domain.DecodeItem(doc.ID, doc.Data)
		if err != nil {
			r.logger.Warn("skipping_malformed_item", zap.Error(err))
			continue
		}
		items = append(items, *item)
	}

	r.mu.Lock()
	r.items = items
	r.mu.Unlock()

	r.notify(collectionInventory)
}

func (r *ReadModel) applySites(snap port.Snapshot) {
	sites := make([]domain.Site, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		site, err := domain.DecodeSite(doc.ID, doc.Data)
		if err != nil {
			r.logger.Warn("skipping_malformed_site", zap.Error(err))
			continue
		}
		sites = append(sites, *site)
	}

	r.mu.Lock()
	r.sites = sites
	r.mu.Unlock()

	r.notify(collectionSites)
}

// Items returns the latest inventory snapshot. The slice is never modified
// after it is published, so callers may keep it.
func (r *ReadModel) Items() []domain.InventoryItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items
}

func (r *ReadModel) Sites() []domain.Site {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sites
}

func (r *ReadModel) Item(id string) (domain.InventoryItem, bool) {
	for _, item := range r.Items() {
		if item.ID == id {
			return item, true
		}
	}
	return domain.InventoryItem{}, false
}

// CanAddToCart is an advisory check against possibly stale data.
func (r *ReadModel) CanAddToCart(id string, qty int) bool {
	item, ok := r.Item(id)
	return ok && qty > 0 && qty <= item.Quantity
}

func (r *ReadModel) LowStock() []domain.InventoryItem {
	var low []domain.InventoryItem
	for _, item := range r.Items() {
		if item.BelowReorderLevel(r.reorderLevel) {
			low = append(low, item)
		}
	}
	return low
}

func (r *ReadModel) Stats() InventoryStats {
	stats := InventoryStats{TotalValue: decimal.Zero}
	for _, item := range r.Items() {
		stats.UniqueItems++
		stats.TotalQuantity += item.Quantity
		stats.TotalValue = stats.TotalValue.Add(item.Value())
	}
	return stats
}

// OnChange registers fn to run after each applied snapshot. The returned
// func removes it.
func (r *ReadModel) OnChange(fn func(collection string)) func() {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()

	r.nextListener++
	id := r.nextListener
	r.listeners[id] = fn

	return func() {
		r.listenerMu.Lock()
		delete(r.listeners, id)
		r.listenerMu.Unlock()
	}
}

func (r *ReadModel) notify(collection string) {
	r.listenerMu.Lock()
	fns := make([]func(string), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenerMu.Unlock()

	for _, fn := range fns {
		fn(collection)
	}
}
