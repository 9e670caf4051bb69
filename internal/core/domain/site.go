package domain

import (
	"fmt"
	"strings"
)

// Site is a dispatch location. LastReceiptNumber is the sequence value of
// the most recent receipt it issued.
type Site struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	ReceiptPrefix     string `json:"receiptPrefix"`
	LastReceiptNumber int    `json:"lastReceiptNumber"`
}

func (s *Site) Validate() error {
	if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.ReceiptPrefix) == "" {
		return fmt.Errorf("%w: name and receipt prefix are required", ErrInvalidSite)
	}
	if s.LastReceiptNumber < 0 {
		return fmt.Errorf("%w: receipt counter cannot be negative", ErrInvalidSite)
	}
	return nil
}

// NextReceiptNumber returns the formatted number the site would issue next
// together with the counter value to persist.
func (s *Site) NextReceiptNumber() (string, int) {
	next := s.LastReceiptNumber + 1
	return FormatReceiptNumber(s.ReceiptPrefix, next), next
}

func (s *Site) Encode() ([]byte, error) {
	stored := *s
	stored.ID = ""
	return encode(stored)
}

func DecodeSite(id string, data []byte) (*Site, error) {
	var site Site
	if err := decodeStrict(data, &site); err != nil {
		return nil, fmt.Errorf("site %s: %w", id, err)
	}
	site.ID = id
	return &site, nil
}
