package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrNegativeResult      = errors.New("stock cannot go below zero")
	ErrTransactionAborted  = errors.New("transaction aborted")
	ErrInvalidCart         = errors.New("invalid cart")
	ErrInvalidItem         = errors.New("invalid item")
	ErrInvalidSite         = errors.New("invalid site")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrMalformedDocument   = errors.New("malformed document")
)

// InsufficientStockError names the cart line that failed validation.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
