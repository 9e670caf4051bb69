package domain

import (
	"fmt"
	"time"
)

type ActionKind string

const (
	ActionItemAdded      ActionKind = "Item Added"
	ActionItemUpdated    ActionKind = "Item Updated"
	ActionItemDeleted    ActionKind = "Item Deleted"
	ActionStockIn        ActionKind = "Stock In"
	ActionStockOut       ActionKind = "Stock Out"
	ActionReceiptCreated ActionKind = "Delivery Receipt Created"
)

// AuditLogEntry is append-only; nothing in the service mutates or deletes it.
type AuditLogEntry struct {
	ID        string     `json:"id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Actor     string     `json:"user"`
	Action    ActionKind `json:"action"`
	Detail    string     `json:"details"`
}

func (e *AuditLogEntry) Encode() ([]byte, error) {
	stored := *e
	stored.ID = ""
	return encode(stored)
}

func DecodeAuditLogEntry(id string, data []byte) (*AuditLogEntry, error) {
	var entry AuditLogEntry
	if err := decodeStrict(data, &entry); err != nil {
		return nil, fmt.Errorf("log %s: %w", id, err)
	}
	entry.ID = id
	return &entry, nil
}
