package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/metrics"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

const tracerName = "warehouse.service"

type CartLine struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type SubmitRequest struct {
	SiteID      string             `json:"siteId"`
	Lines       []CartLine         `json:"lines"`
	Signatories domain.Signatories `json:"signatories"`
	ShowPrices  bool               `json:"showPrices"`
	Actor       string             `json:"actor"`
	// RequestID makes a submission idempotent while it is held by the guard.
	RequestID string `json:"requestId"`
}

type ReceiptService struct {
	store   port.DocumentStore
	guard   port.SubmissionGuard
	audit   Auditor
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewReceiptService wires the coordinator. guard may be nil, in which case
// request IDs are ignored.
func NewReceiptService(
	store port.DocumentStore,
	guard port.SubmissionGuard,
	audit Auditor,
	policy RetryPolicy,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &ReceiptService{
		store:   store,
		guard:   guard,
		audit:   audit,
		policy:  policy.normalized(),
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

// Submit issues a delivery receipt. The receipt, the site counter and every
// stock deduction are written in one transaction, or nothing is written.
func (s *ReceiptService) Submit(ctx context.Context, req SubmitRequest) (*domain.DeliveryReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "ReceiptService.Submit",
		trace.WithAttributes(
			attribute.String("site_id", req.SiteID),
			attribute.Int("cart_lines", len(req.Lines)),
		),
	)
	defer span.End()

	start := time.Now()
	receipt, err := s.submit(ctx, req)
	s.metrics.ReceiptDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.ReceiptsSubmitted.WithLabelValues(submitOutcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("receipt_submit_failed",
			zap.String("site_id", req.SiteID),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.ReceiptsSubmitted.WithLabelValues("issued").Inc()
	span.SetAttributes(attribute.String("receipt_number", receipt.ReceiptNumber))
	s.logger.Info("receipt_submitted",
		zap.String("receipt_number", receipt.ReceiptNumber),
		zap.String("site_id", receipt.SiteID),
		zap.String("total_value", receipt.TotalValue.StringFixed(2)),
	)

	s.audit.Log(ctx, req.Actor, domain.ActionReceiptCreated,
		fmt.Sprintf("%s for %s.", receipt.ReceiptNumber, receipt.Recipient))

	return receipt, nil
}

func (s *ReceiptService) submit(ctx context.Context, req SubmitRequest) (receipt *domain.DeliveryReceipt, err error) {
	if strings.TrimSpace(req.SiteID) == "" {
		return nil, fmt.Errorf("%w: dispatch site is required", domain.ErrInvalidCart)
	}
	lines, err := normalizeCart(req.Lines)
	if err != nil {
		return nil, err
	}

	if req.RequestID != "" && s.guard != nil {
		ok, acqErr := s.guard.Acquire(ctx, req.RequestID)
		if acqErr != nil {
			return nil, fmt.Errorf("submission guard: %w", acqErr)
		}
		if !ok {
			return nil, domain.ErrDuplicateSubmission
		}
		defer func() {
			if err != nil {
				s.releaseGuard(context.WithoutCancel(ctx), req.RequestID)
			}
		}()
	}

	err = runTransaction(ctx, s.store, s.policy, s.metrics, "submit_receipt", func(ctx context.Context, tx port.Txn) error {
		receipt = nil

		site, number, counter, err := allocateReceiptNumber(ctx, tx, req.SiteID)
		if err != nil {
			return err
		}

		items := make([]*domain.InventoryItem, len(lines))
		for i, line := range lines {
			item, err := loadItem(ctx, tx, line.ItemID)
			if err != nil {
				return err
			}
			if item.Quantity < line.Quantity {
				return &domain.InsufficientStockError{
					SKU:       item.SKU,
					Requested: line.Quantity,
					Available: item.Quantity,
				}
			}
			items[i] = item
		}

		snapshot := make([]domain.LineItem, len(lines))
		for i, item := range items {
			snapshot[i] = domain.NewLineItem(item, lines[i].Quantity)
		}

		r := &domain.DeliveryReceipt{
			ReceiptNumber: number,
			SiteID:        site.ID,
			SiteName:      site.Name,
			Signatories:   req.Signatories,
			Lines:         snapshot,
			TotalValue:    domain.TotalValue(snapshot),
			ShowPrices:    req.ShowPrices,
			CreatedAt:     s.store.ServerTimestamp(),
		}
		data, err := r.Encode()
		if err != nil {
			return err
		}

		id := uuid.NewString()
		if err := tx.Set(ctx, collectionReceipts, id, data); err != nil {
			return fmt.Errorf("write receipt: %w", err)
		}
		if err := tx.Update(ctx, collectionSites, site.ID, map[string]any{"lastReceiptNumber": counter}); err != nil {
			return fmt.Errorf("advance site counter: %w", err)
		}
		for i, item := range items {
			if err := tx.Update(ctx, collectionInventory, item.ID, map[string]any{"qty": item.Quantity - lines[i].Quantity}); err != nil {
				return fmt.Errorf("deduct stock for %s: %w", item.SKU, err)
			}
		}

		r.ID = id
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *ReceiptService) releaseGuard(ctx context.Context, key string) {
	if err := s.guard.Release(ctx, key); err != nil {
		s.logger.Error("submission_guard_release_failed",
			zap.String("request_id", key),
			zap.Error(err),
		)
	}
}

// List returns issued receipts, newest first. A limit of zero returns all.
func (s *ReceiptService) List(ctx context.Context, limit int) ([]*domain.DeliveryReceipt, error) {
	docs, err := s.store.QueryOrdered(ctx, collectionReceipts, "createdAt", port.Descending)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	receipts := make([]*domain.DeliveryReceipt, 0, len(docs))
	for _, doc := range docs {
		if limit > 0 && len(receipts) == limit {
			break
		}
		r, err := domain.DecodeReceipt(doc.ID, doc.Data)
		if err != nil {
			s.logger.Warn("skipping_malformed_receipt", zap.Error(err))
			continue
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// normalizeCart rejects empty carts and non-positive quantities. Lines for
// the same item are merged into the first occurrence.
func normalizeCart(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", domain.ErrInvalidCart)
	}

	merged := make([]CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line.ItemID) == "" {
			return nil, fmt.Errorf("%w: line without item", domain.ErrInvalidCart)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", domain.ErrInvalidCart, line.ItemID)
		}
		if i, ok := index[line.ItemID]; ok {
			if line.Quantity > math.MaxInt-merged[i].Quantity {
				return nil, fmt.Errorf("%w: quantity for %s is too large", domain.ErrInvalidCart, line.ItemID)
			}
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

func submitOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTransactionAborted):
		return "aborted"
	case errors.Is(err, domain.ErrInvalidCart):
		return "invalid"
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return "duplicate"
	default:
		return "error"
	}
}
