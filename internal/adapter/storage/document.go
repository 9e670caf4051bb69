package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/warehouse-tracker/internal/port"
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateField(name string) error {
	if !fieldNamePattern.MatchString(name) {
		return fmt.Errorf("invalid field name %q", name)
	}
	return nil
}

// mergePatch overwrites the top level fields named in patch.
func mergePatch(data []byte, patch map[string]any) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for k, v := range patch {
		if err := validateField(k); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = raw
	}
	return json.Marshal(fields)
}

type sortKey struct {
	present bool
	str     string
	num     *decimal.Decimal
	ts      *time.Time
}

func extractSortKey(data []byte, field string) sortKey {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return sortKey{}
	}
	raw, ok := fields[field]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return sortKey{}
	}

	key := sortKey{present: true}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		key.str = s
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			key.ts = &t
		} else if d, err := decimal.NewFromString(s); err == nil {
			key.num = &d
		}
		return key
	}
	if d, err := decimal.NewFromString(string(raw)); err == nil {
		key.num = &d
		return key
	}
	key.str = string(raw)
	return key
}

func compareKeys(a, b sortKey) int {
	switch {
	case !a.present && !b.present:
		return 0
	case !a.present:
		return -1
	case !b.present:
		return 1
	case a.ts != nil && b.ts != nil:
		return a.ts.Compare(*b.ts)
	case a.num != nil && b.num != nil:
		return a.num.Cmp(*b.num)
	default:
		return strings.Compare(a.str, b.str)
	}
}

// sortDocuments orders documents by a top level field, ties broken by id.
func sortDocuments(docs []port.Document, field string, dir port.Direction) {
	keys := make(map[string]sortKey, len(docs))
	for _, d := range docs {
		keys[d.ID] = extractSortKey(d.Data, field)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		c := compareKeys(keys[docs[i].ID], keys[docs[j].ID])
		if c == 0 {
			c = strings.Compare(docs[i].ID, docs[j].ID)
		}
		if dir == port.Descending {
			return c > 0
		}
		return c < 0
	})
}

type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Round(0)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}
