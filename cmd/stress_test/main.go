package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/adapter/storage"
	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/core/service"
	"github.com/rl1809/warehouse-tracker/internal/logging"
)

const (
	initialStock  = 20
	totalRequests = 50
	maxAttempts   = 50
)

func main() {
	ctx := context.Background()

	logger, err := logging.NewLogger("warehouse-stress", "dev")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Every request races for the same site counter and the same item.
	store := storage.NewMemoryStore()
	policy := service.RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond}
	audit := service.NewAuditLogger(store, 4, totalRequests, zap.NewNop(), nil)
	stock := service.NewStockService(store, audit, policy, 0, zap.NewNop(), nil)
	receipts := service.NewReceiptService(store, nil, audit, policy, zap.NewNop(), nil)

	site, err := stock.CreateSite(ctx, service.SiteInput{Name: "Manila", ReceiptPrefix: "MNL"})
	if err != nil {
		logger.Fatal("failed to create site", zap.Error(err))
	}
	name, qty := "Stress Bolt", initialStock
	price := decimal.RequireFromString("1.00")
	item, err := stock.CreateItem(ctx, service.ItemInput{SKU: "SKU-STRESS", Name: &name, Price: &price, Quantity: &qty}, "stress")
	if err != nil {
		logger.Fatal("failed to create item", zap.Error(err))
	}

	// Counters
	var successCount, outOfStock, aborted, other atomic.Int32
	var numbers sync.Map

	// Spawn concurrent submissions
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			receipt, err := receipts.Submit(ctx, service.SubmitRequest{
				SiteID:      site.ID,
				Lines:       []service.CartLine{{ItemID: item.ID, Quantity: 1}},
				Signatories: domain.Signatories{Recipient: fmt.Sprintf("client-%d", n)},
				Actor:       "stress",
			})
			switch {
			case err == nil:
				successCount.Add(1)
				if _, dup := numbers.LoadOrStore(receipt.ReceiptNumber, n); dup {
					logger.Error("duplicate receipt number", zap.String("number", receipt.ReceiptNumber))
				}
			case errors.Is(err, domain.ErrInsufficientStock):
				outOfStock.Add(1)
			case errors.Is(err, domain.ErrTransactionAborted):
				aborted.Add(1)
			default:
				other.Add(1)
				logger.Error("unexpected error", zap.Error(err))
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)
	audit.Close()

	// Results
	success := successCount.Load()
	distinct := 0
	numbers.Range(func(_, _ any) bool {
		distinct++
		return true
	})

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Issued:           %d\n", success)
	fmt.Printf("Out of stock:     %d\n", outOfStock.Load())
	fmt.Printf("Aborted:          %d\n", aborted.Load())
	fmt.Printf("Other errors:     %d\n", other.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock && outOfStock.Load() == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d receipts issued, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d issued/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, outOfStock.Load())
	}

	if distinct == int(success) {
		fmt.Println("PASS: Every receipt number is unique")
	} else {
		fmt.Printf("FAIL: %d receipts share %d numbers\n", success, distinct)
	}

	finalItem, err := stock.Item(ctx, item.ID)
	if err != nil {
		logger.Fatal("failed to read item", zap.Error(err))
	}
	fmt.Printf("Final Stock:      %d\n", finalItem.Quantity)
	if finalItem.Quantity == initialStock-int(success) {
		fmt.Println("PASS: Stock matches issued receipts")
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", initialStock-int(success), finalItem.Quantity)
	}

	expected := domain.FormatReceiptNumber("MNL", int(success))
	if _, ok := numbers.Load(expected); ok || success == 0 {
		fmt.Printf("PASS: Counter ends at %s\n", expected)
	} else {
		fmt.Printf("FAIL: No receipt numbered %s\n", expected)
	}
}
