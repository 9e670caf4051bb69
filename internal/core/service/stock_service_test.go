package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestAdjustStock_NegativeResult(t *testing.T) {
	store := newWarehouse(t)
	audit := &recordingAuditor{}
	svc := NewStockService(store, audit, fastPolicy(3), 0, nil, nil)

	_, err := svc.AdjustStock(context.Background(), "bolt", -20, "Admin")
	if !errors.Is(err, domain.ErrNegativeResult) {
		t.Fatalf("expected ErrNegativeResult, got: %v", err)
	}
	if qty := getItem(t, store, "bolt").Quantity; qty != 10 {
		t.Errorf("expected qty unchanged at 10, got %d", qty)
	}
	if len(audit.all()) != 0 {
		t.Error("rejected adjustment must not be audited")
	}
}

func TestAdjustStock_Overflow(t *testing.T) {
	store := newWarehouse(t)
	seedItem(t, store, "crate", "SKU-CRATE", "Crate", "1.00", math.MaxInt-1)
	audit := &recordingAuditor{}
	svc := NewStockService(store, audit, fastPolicy(3), 0, nil, nil)

	_, err := svc.AdjustStock(context.Background(), "crate", 5, "Admin")
	if !errors.Is(err, domain.ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got: %v", err)
	}
	if qty := getItem(t, store, "crate").Quantity; qty != math.MaxInt-1 {
		t.Errorf("expected qty unchanged, got %d", qty)
	}
	if len(audit.all()) != 0 {
		t.Error("rejected adjustment must not be audited")
	}
}

func TestAdjustStock_InAndOut(t *testing.T) {
	store := newWarehouse(t)
	audit := &recordingAuditor{}
	m := newTestMetrics()
	svc := NewStockService(store, audit, fastPolicy(3), 0, nil, m)

	item, err := svc.AdjustStock(context.Background(), "bolt", 5, "Admin")
	if err != nil {
		t.Fatalf("stock in failed: %v", err)
	}
	if item.Quantity != 15 {
		t.Errorf("expected 15, got %d", item.Quantity)
	}

	item, err = svc.AdjustStock(context.Background(), "bolt", -15, "Admin")
	if err != nil {
		t.Fatalf("stock out to zero failed: %v", err)
	}
	if item.Quantity != 0 {
		t.Errorf("expected 0, got %d", item.Quantity)
	}
	if qty := getItem(t, store, "bolt").Quantity; qty != 0 {
		t.Errorf("expected stored qty 0, got %d", qty)
	}

	entries := audit.all()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Action != domain.ActionStockIn || entries[0].Detail != "5x Bolt. New Qty: 15." {
		t.Errorf("unexpected stock in entry: %+v", entries[0])
	}
	if entries[1].Action != domain.ActionStockOut || entries[1].Detail != "15x Bolt. New Qty: 0." {
		t.Errorf("unexpected stock out entry: %+v", entries[1])
	}
}

func TestAdjustStock_Rejections(t *testing.T) {
	store := newWarehouse(t)
	svc := NewStockService(store, &recordingAuditor{}, fastPolicy(3), 0, nil, nil)

	if _, err := svc.AdjustStock(context.Background(), "bolt", 0, "Admin"); !errors.Is(err, domain.ErrInvalidItem) {
		t.Errorf("expected ErrInvalidItem for zero delta, got: %v", err)
	}
	if _, err := svc.AdjustStock(context.Background(), "ghost", 1, "Admin"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestAdjustStock_RetryExhaustion(t *testing.T) {
	base := newWarehouse(t)
	store := &conflictStore{DocumentStore: base, conflicts: -1}
	svc := NewStockService(store, &recordingAuditor{}, fastPolicy(2), 0, nil, nil)

	_, err := svc.AdjustStock(context.Background(), "bolt", 1, "Admin")
	if !errors.Is(err, domain.ErrTransactionAborted) {
		t.Errorf("expected ErrTransactionAborted, got: %v", err)
	}
	if n := store.attempts.Load(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestCreateItem_Defaults(t *testing.T) {
	store := newWarehouse(t)
	audit := &recordingAuditor{}
	svc := NewStockService(store, audit, fastPolicy(3), 0, nil, nil)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }

	price := decimal.RequireFromString("12.50")
	item, err := svc.CreateItem(context.Background(), ItemInput{
		Name:     strPtr("Washer"),
		Price:    &price,
		Quantity: intPtr(40),
	}, "Admin")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if item.SKU != "SKU-1700000000000" {
		t.Errorf("expected generated SKU, got %s", item.SKU)
	}
	if item.ReorderLevel != domain.DefaultReorderLevel {
		t.Errorf("expected default reorder level, got %d", item.ReorderLevel)
	}

	stored := getItem(t, store, item.ID)
	if stored.Name != "Washer" || stored.Quantity != 40 || !stored.Price.Equal(price) {
		t.Errorf("unexpected stored item: %+v", stored)
	}

	entries := audit.all()
	if len(entries) != 1 || entries[0].Action != domain.ActionItemAdded || entries[0].Detail != "Washer (SKU-1700000000000)" {
		t.Errorf("unexpected audit entries: %+v", entries)
	}
}

func TestCreateItem_Invalid(t *testing.T) {
	store := newWarehouse(t)
	svc := NewStockService(store, &recordingAuditor{}, fastPolicy(3), 0, nil, nil)

	if _, err := svc.CreateItem(context.Background(), ItemInput{SKU: "X"}, "Admin"); !errors.Is(err, domain.ErrInvalidItem) {
		t.Errorf("expected ErrInvalidItem without a name, got: %v", err)
	}
	if _, err := svc.CreateItem(context.Background(), ItemInput{Name: strPtr("X"), Quantity: intPtr(-1)}, "Admin"); !errors.Is(err, domain.ErrInvalidItem) {
		t.Errorf("expected ErrInvalidItem for negative quantity, got: %v", err)
	}
}

func TestUpdateItem(t *testing.T) {
	store := newWarehouse(t)
	audit := &recordingAuditor{}
	svc := NewStockService(store, audit, fastPolicy(3), 0, nil, nil)

	item, err := svc.UpdateItem(context.Background(), "bolt", ItemInput{
		Location:     strPtr("Rack 4"),
		ReorderLevel: intPtr(3),
	}, "Admin")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if item.Location != "Rack 4" || item.ReorderLevel != 3 || item.Quantity != 10 {
		t.Errorf("unexpected item after update: %+v", item)
	}

	if _, err := svc.UpdateItem(context.Background(), "bolt", ItemInput{SKU: "SKU-OTHER"}, "Admin"); !errors.Is(err, domain.ErrInvalidItem) {
		t.Errorf("expected SKU change to be rejected, got: %v", err)
	}
	if _, err := svc.UpdateItem(context.Background(), "bolt", ItemInput{Quantity: intPtr(-4)}, "Admin"); !errors.Is(err, domain.ErrInvalidItem) {
		t.Errorf("expected negative quantity to be rejected, got: %v", err)
	}
	if _, err := svc.UpdateItem(context.Background(), "ghost", ItemInput{}, "Admin"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	if got := getItem(t, store, "bolt"); got.SKU != "SKU-BOLT" || got.Quantity != 10 {
		t.Errorf("rejected updates must not be written: %+v", got)
	}

	entries := audit.all()
	if len(entries) != 1 || entries[0].Action != domain.ActionItemUpdated {
		t.Errorf("expected one update entry, got %+v", entries)
	}
}

func TestDeleteItem(t *testing.T) {
	store := newWarehouse(t)
	audit := &recordingAuditor{}
	svc := NewStockService(store, audit, fastPolicy(3), 0, nil, nil)

	if err := svc.DeleteItem(context.Background(), "bolt", "Admin"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(context.Background(), collectionInventory, "bolt"); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected item to be gone, got: %v", err)
	}
	if err := svc.DeleteItem(context.Background(), "bolt", "Admin"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got: %v", err)
	}

	entries := audit.all()
	if len(entries) != 1 || entries[0].Detail != "Bolt (SKU-BOLT)" {
		t.Errorf("unexpected audit entries: %+v", entries)
	}
}

func TestCreateSite(t *testing.T) {
	store := newWarehouse(t)
	svc := NewStockService(store, &recordingAuditor{}, fastPolicy(3), 0, nil, nil)

	site, err := svc.CreateSite(context.Background(), SiteInput{Name: " Cebu ", ReceiptPrefix: "CEB"})
	if err != nil {
		t.Fatalf("create site failed: %v", err)
	}
	stored := getSite(t, store, site.ID)
	if stored.Name != "Cebu" || stored.ReceiptPrefix != "CEB" || stored.LastReceiptNumber != 0 {
		t.Errorf("unexpected stored site: %+v", stored)
	}

	if _, err := svc.CreateSite(context.Background(), SiteInput{Name: "No Prefix"}); !errors.Is(err, domain.ErrInvalidSite) {
		t.Errorf("expected ErrInvalidSite, got: %v", err)
	}
}

func TestCreateSite_FirstReceipt(t *testing.T) {
	store := newWarehouse(t)
	audit := &recordingAuditor{}
	stock := NewStockService(store, audit, fastPolicy(3), 0, nil, nil)
	receipts := NewReceiptService(store, nil, audit, fastPolicy(3), nil, nil)

	site, err := stock.CreateSite(context.Background(), SiteInput{Name: "Davao", ReceiptPrefix: "DVO"})
	if err != nil {
		t.Fatalf("create site failed: %v", err)
	}

	req := boltRequest(1)
	req.SiteID = site.ID
	receipt, err := receipts.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if receipt.ReceiptNumber != "DVO-00001" {
		t.Errorf("expected DVO-00001, got %s", receipt.ReceiptNumber)
	}
}
