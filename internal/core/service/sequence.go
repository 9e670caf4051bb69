package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

const (
	collectionInventory = "inventory"
	collectionSites     = "sites"
	collectionReceipts  = "deliveryReceipts"
	collectionLogs      = "logs"
)

// allocateReceiptNumber reads the site inside tx and returns the next receipt
// number. The caller must write counter back to the site in the same
// transaction; the store's conflict detection keeps numbers unique.
func allocateReceiptNumber(ctx context.Context, tx port.Txn, siteID string) (site *domain.Site, number string, counter int, err error) {
	site, err = loadSite(ctx, tx, siteID)
	if err != nil {
		return nil, "", 0, err
	}
	number, counter = site.NextReceiptNumber()
	return site, number, counter, nil
}

func loadSite(ctx context.Context, tx port.Txn, siteID string) (*domain.Site, error) {
	doc, err := tx.Get(ctx, collectionSites, siteID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("site %s: %w", siteID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read site: %w", err)
	}
	return domain.DecodeSite(doc.ID, doc.Data)
}

func loadItem(ctx context.Context, tx port.Txn, itemID string) (*domain.InventoryItem, error) {
	doc, err := tx.Get(ctx, collectionInventory, itemID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read item: %w", err)
	}
	return domain.DecodeItem(doc.ID, doc.Data)
}
