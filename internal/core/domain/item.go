package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultReorderLevel = 10

type InventoryItem struct {
	ID           string          `json:"id,omitempty"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Brand        string          `json:"brand"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"qty"`
	ReorderLevel int             `json:"reorderLevel"`
	Location     string          `json:"location"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Validate checks the rules every stored item must hold.
func (i *InventoryItem) Validate() error {
	if strings.TrimSpace(i.SKU) == "" || strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: sku and name are required", ErrInvalidItem)
	}
	if i.Quantity < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", ErrInvalidItem)
	}
	if i.Price.IsNegative() {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidItem)
	}
	if i.ReorderLevel < 0 {
		return fmt.Errorf("%w: reorder level cannot be negative", ErrInvalidItem)
	}
	return nil
}

// BelowReorderLevel reports whether the item should be restocked. Items
// without their own threshold fall back to fallback.
func (i *InventoryItem) BelowReorderLevel(fallback int) bool {
	level := i.ReorderLevel
	if level == 0 {
		level = fallback
	}
	return i.Quantity < level
}

// Value is price × quantity on hand.
func (i *InventoryItem) Value() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i *InventoryItem) Encode() ([]byte, error) {
	stored := *i
	stored.ID = ""
	return encode(stored)
}

func DecodeItem(id string, data []byte) (*InventoryItem, error) {
	var item InventoryItem
	if err := decodeStrict(data, &item); err != nil {
		return nil, fmt.Errorf("item %s: %w", id, err)
	}
	item.ID = id
	return &item, nil
}
