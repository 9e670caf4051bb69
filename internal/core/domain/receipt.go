package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func FormatReceiptNumber(prefix string, n int) string {
	return fmt.Sprintf("%s-%05d", prefix, n)
}

type Signatories struct {
	Recipient  string `json:"recipient"`
	PreparedBy string `json:"preparedBy"`
	CheckedBy  string `json:"checkedBy"`
}

// LineItem is a copy of the item fields taken when the receipt was issued.
type LineItem struct {
	ItemID    string          `json:"itemId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"deliveryQty"`
}

func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func NewLineItem(item *InventoryItem, quantity int) LineItem {
	return LineItem{
		ItemID:    item.ID,
		SKU:       item.SKU,
		Name:      item.Name,
		Brand:     item.Brand,
		UnitPrice: item.Price,
		Quantity:  quantity,
	}
}

type DeliveryReceipt struct {
	ID            string `json:"id,omitempty"`
	ReceiptNumber string `json:"receiptNumber"`
	SiteID        string `json:"dispatchSiteId"`
	SiteName      string `json:"dispatchSiteName"`
	Signatories
	Lines      []LineItem      `json:"items"`
	TotalValue decimal.Decimal `json:"totalValue"`
	ShowPrices bool            `json:"showPrices"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func TotalValue(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

func (r *DeliveryReceipt) Encode() ([]byte, error) {
	stored := *r
	stored.ID = ""
	return encode(stored)
}

func DecodeReceipt(id string, data []byte) (*DeliveryReceipt, error) {
	var receipt DeliveryReceipt
	if err := decodeStrict(data, &receipt); err != nil {
		return nil, fmt.Errorf("receipt %s: %w", id, err)
	}
	receipt.ID = id
	return &receipt, nil
}
