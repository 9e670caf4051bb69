package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/metrics"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

// ItemInput carries the editable fields of an inventory item. Nil fields
// are left unchanged on update.
type ItemInput struct {
	SKU          string           `json:"sku"`
	Name         *string          `json:"name"`
	Brand        *string          `json:"brand"`
	Price        *decimal.Decimal `json:"price"`
	Quantity     *int             `json:"qty"`
	ReorderLevel *int             `json:"reorderLevel"`
	Location     *string          `json:"location"`
}

type SiteInput struct {
	Name          string `json:"name"`
	ReceiptPrefix string `json:"receiptPrefix"`
}

// StockService covers catalog maintenance and manual stock adjustments.
type StockService struct {
	store        port.DocumentStore
	audit        Auditor
	policy       RetryPolicy
	reorderLevel int
	logger       *zap.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

func NewStockService(
	store port.DocumentStore,
	audit Auditor,
	policy RetryPolicy,
	reorderLevel int,
	logger *zap.Logger,
	m *metrics.Metrics,
) *StockService {
	if reorderLevel <= 0 {
		reorderLevel = domain.DefaultReorderLevel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &StockService{
		store:        store,
		audit:        audit,
		policy:       policy.normalized(),
		reorderLevel: reorderLevel,
		logger:       logger,
		metrics:      m,
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
}

// AdjustStock adds delta to the on-hand quantity of one item. A result
// below zero fails with domain.ErrNegativeResult and writes nothing.
func (s *StockService) AdjustStock(ctx context.Context, itemID string, delta int, actor string) (*domain.InventoryItem, error) {
	ctx, span := s.tracer.Start(ctx, "StockService.AdjustStock",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.Int("delta", delta),
		),
	)
	defer span.End()

	if delta == 0 {
		return nil, fmt.Errorf("%w: adjustment must not be zero", domain.ErrInvalidItem)
	}

	var updated *domain.InventoryItem
	err := runTransaction(ctx, s.store, s.policy, s.metrics, "adjust_stock", func(ctx context.Context, tx port.Txn) error {
		updated = nil

		item, err := loadItem(ctx, tx, itemID)
		if err != nil {
			return err
		}

		if delta > 0 && item.Quantity > math.MaxInt-delta {
			return fmt.Errorf("%w: adjustment %d overflows %s", domain.ErrInvalidItem, delta, item.SKU)
		}
		newQty := item.Quantity + delta
		if newQty < 0 {
			return fmt.Errorf("%w: %s has %d on hand, adjustment %d", domain.ErrNegativeResult, item.SKU, item.Quantity, delta)
		}
		if err := tx.Update(ctx, collectionInventory, item.ID, map[string]any{"qty": newQty}); err != nil {
			return fmt.Errorf("update quantity: %w", err)
		}

		item.Quantity = newQty
		updated = item
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	action, direction, size := domain.ActionStockIn, "in", delta
	if delta < 0 {
		action, direction, size = domain.ActionStockOut, "out", -delta
	}
	s.metrics.StockAdjustments.WithLabelValues(direction).Inc()
	s.logger.Info("stock_adjusted",
		zap.String("item_id", updated.ID),
		zap.Int("delta", delta),
		zap.Int("qty", updated.Quantity),
	)
	s.audit.Log(ctx, actor, action, fmt.Sprintf("%dx %s. New Qty: %d.", size, updated.Name, updated.Quantity))

	return updated, nil
}

func (s *StockService) CreateItem(ctx context.Context, in ItemInput, actor string) (*domain.InventoryItem, error) {
	item := &domain.InventoryItem{
		SKU:          strings.TrimSpace(in.SKU),
		ReorderLevel: s.reorderLevel,
		CreatedAt:    s.store.ServerTimestamp(),
	}
	if item.SKU == "" {
		item.SKU = fmt.Sprintf("SKU-%d", s.now().UnixMilli())
	}
	applyItemInput(item, in)

	if err := item.Validate(); err != nil {
		return nil, err
	}
	data, err := item.Encode()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	err = runTransaction(ctx, s.store, s.policy, s.metrics, "create_item", func(ctx context.Context, tx port.Txn) error {
		return tx.Set(ctx, collectionInventory, id, data)
	})
	if err != nil {
		return nil, err
	}
	item.ID = id

	s.audit.Log(ctx, actor, domain.ActionItemAdded, itemDetail(item))
	return item, nil
}

// UpdateItem edits an item in place. The SKU cannot change once created.
func (s *StockService) UpdateItem(ctx context.Context, itemID string, in ItemInput, actor string) (*domain.InventoryItem, error) {
	var updated *domain.InventoryItem
	err := runTransaction(ctx, s.store, s.policy, s.metrics, "update_item", func(ctx context.Context, tx port.Txn) error {
		updated = nil

		item, err := loadItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if sku := strings.TrimSpace(in.SKU); sku != "" && sku != item.SKU {
			return fmt.Errorf("%w: sku cannot be changed", domain.ErrInvalidItem)
		}

		applyItemInput(item, in)
		if err := item.Validate(); err != nil {
			return err
		}
		data, err := item.Encode()
		if err != nil {
			return err
		}
		if err := tx.Set(ctx, collectionInventory, item.ID, data); err != nil {
			return fmt.Errorf("write item: %w", err)
		}

		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, actor, domain.ActionItemUpdated, itemDetail(updated))
	return updated, nil
}

// DeleteItem removes an item inside a transaction so it conflicts with any
// receipt that reads the same item concurrently.
func (s *StockService) DeleteItem(ctx context.Context, itemID, actor string) error {
	var deleted *domain.InventoryItem
	err := runTransaction(ctx, s.store, s.policy, s.metrics, "delete_item", func(ctx context.Context, tx port.Txn) error {
		item, err := loadItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, collectionInventory, item.ID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		deleted = item
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Log(ctx, actor, domain.ActionItemDeleted, itemDetail(deleted))
	return nil
}

// CreateSite registers a dispatch site with its receipt counter at zero.
func (s *StockService) CreateSite(ctx context.Context, in SiteInput) (*domain.Site, error) {
	site := &domain.Site{
		Name:          strings.TrimSpace(in.Name),
		ReceiptPrefix: strings.TrimSpace(in.ReceiptPrefix),
	}
	if err := site.Validate(); err != nil {
		return nil, err
	}
	data, err := site.Encode()
	if err != nil {
		return nil, err
	}

	id, err := s.store.Add(ctx, collectionSites, data)
	if err != nil {
		return nil, fmt.Errorf("add site: %w", err)
	}
	site.ID = id
	return site, nil
}

// Item reads a single item straight from the store.
func (s *StockService) Item(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	doc, err := s.store.Get(ctx, collectionInventory, itemID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return domain.DecodeItem(doc.ID, doc.Data)
}

func applyItemInput(item *domain.InventoryItem, in ItemInput) {
	if in.Name != nil {
		item.Name = strings.TrimSpace(*in.Name)
	}
	if in.Brand != nil {
		item.Brand = *in.Brand
	}
	if in.Price != nil {
		item.Price = *in.Price
	}
	if in.Quantity != nil {
		item.Quantity = *in.Quantity
	}
	if in.ReorderLevel != nil {
		item.ReorderLevel = *in.ReorderLevel
	}
	if in.Location != nil {
		item.Location = *in.Location
	}
}

func itemDetail(item *domain.InventoryItem) string {
	return fmt.Sprintf("%s (%s)", item.Name, item.SKU)
}
