package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/warehouse-tracker/internal/port"
)

type docKey struct {
	collection string
	id         string
}

type memoryRecord struct {
	data    []byte
	version uint64
}

// MemoryStore is an in-process document store. Transactions are optimistic:
// the version of every document read is checked again at commit time.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]memoryRecord
	seq         uint64
	subs        map[string]map[uint64]*memorySubscription
	nextSubID   uint64
	clock       monotonicClock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]memoryRecord),
		subs:        make(map[string]map[uint64]*memorySubscription),
	}
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (port.Document, error) {
	if err := ctx.Err(); err != nil {
		return port.Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.collections[collection][id]
	if !ok {
		return port.Document{}, port.ErrNotFound
	}
	return port.Document{ID: id, Data: cloneBytes(rec.data)}, nil
}

func (m *MemoryStore) QueryOrdered(ctx context.Context, collection, orderBy string, dir port.Direction) ([]port.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	docs := m.snapshotLocked(collection)
	m.mu.Unlock()

	sortDocuments(docs, orderBy, dir)
	return docs, nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.putLocked(collection, id, memoryRecord{data: cloneBytes(data), version: m.seq})
	m.notifyLocked(map[string]struct{}{collection: {}})
	return id, nil
}

func (m *MemoryStore) ServerTimestamp() time.Time {
	return m.clock.Now()
}

func (m *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx port.Txn) error) error {
	tx := &memoryTxn{
		store:  m,
		reads:  make(map[docKey]uint64),
		writes: make(map[docKey]*memoryWrite),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *MemoryStore) commit(tx *memoryTxn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, seen := range tx.reads {
		if m.versionLocked(key) != seen {
			return port.ErrConflict
		}
	}
	if len(tx.order) == 0 {
		return nil
	}

	m.seq++
	touched := make(map[string]struct{})
	for _, key := range tx.order {
		w := tx.writes[key]
		touched[key.collection] = struct{}{}
		if w.deleted {
			delete(m.collections[key.collection], key.id)
			continue
		}
		m.putLocked(key.collection, key.id, memoryRecord{data: w.data, version: m.seq})
	}
	m.notifyLocked(touched)
	return nil
}

func (m *MemoryStore) versionLocked(key docKey) uint64 {
	return m.collections[key.collection][key.id].version
}

func (m *MemoryStore) putLocked(collection, id string, rec memoryRecord) {
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]memoryRecord)
		m.collections[collection] = docs
	}
	docs[id] = rec
}

func (m *MemoryStore) snapshotLocked(collection string) []port.Document {
	docs := make([]port.Document, 0, len(m.collections[collection]))
	for id, rec := range m.collections[collection] {
		docs = append(docs, port.Document{ID: id, Data: cloneBytes(rec.data)})
	}
	return docs
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection, orderBy string, dir port.Direction, onChange func(port.Snapshot)) (func(), error) {
	sub := &memorySubscription{
		collection: collection,
		orderBy:    orderBy,
		dir:        dir,
		onChange:   onChange,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[uint64]*memorySubscription)
	}
	m.subs[collection][id] = sub
	sub.offer(m.snapshotLocked(collection))
	m.mu.Unlock()

	go sub.run(ctx)

	return func() {
		m.mu.Lock()
		delete(m.subs[collection], id)
		m.mu.Unlock()
		sub.stop()
	}, nil
}

func (m *MemoryStore) notifyLocked(collections map[string]struct{}) {
	for c := range collections {
		if len(m.subs[c]) == 0 {
			continue
		}
		docs := m.snapshotLocked(c)
		for _, sub := range m.subs[c] {
			sub.offer(docs)
		}
	}
}

// memorySubscription keeps only the latest pending snapshot; a slow
// consumer skips intermediate states but never sees them out of order.
type memorySubscription struct {
	collection string
	orderBy    string
	dir        port.Direction
	onChange   func(port.Snapshot)

	mu       sync.Mutex
	pending  []port.Document
	hasValue bool
	signal   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *memorySubscription) offer(docs []port.Document) {
	s.mu.Lock()
	s.pending = append([]port.Document(nil), docs...)
	s.hasValue = true
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.signal:
			s.mu.Lock()
			docs, ok := s.pending, s.hasValue
			s.pending, s.hasValue = nil, false
			s.mu.Unlock()
			if !ok {
				continue
			}
			sortDocuments(docs, s.orderBy, s.dir)
			s.onChange(port.Snapshot{Collection: s.collection, Documents: docs})
		}
	}
}

func (s *memorySubscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

type memoryWrite struct {
	data    []byte
	deleted bool
}

type memoryTxn struct {
	store  *MemoryStore
	reads  map[docKey]uint64
	writes map[docKey]*memoryWrite
	order  []docKey
}

func (t *memoryTxn) Get(ctx context.Context, collection, id string) (port.Document, error) {
	if err := ctx.Err(); err != nil {
		return port.Document{}, err
	}

	key := docKey{collection, id}
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return port.Document{}, port.ErrNotFound
		}
		return port.Document{ID: id, Data: cloneBytes(w.data)}, nil
	}

	data, ok := t.read(key)
	if !ok {
		return port.Document{}, port.ErrNotFound
	}
	return port.Document{ID: id, Data: data}, nil
}

// read loads the committed document and remembers the version seen.
func (t *memoryTxn) read(key docKey) ([]byte, bool) {
	t.store.mu.Lock()
	rec, ok := t.store.collections[key.collection][key.id]
	t.store.mu.Unlock()

	if _, seen := t.reads[key]; !seen {
		t.reads[key] = rec.version
	}
	if !ok {
		return nil, false
	}
	return cloneBytes(rec.data), true
}

func (t *memoryTxn) Set(ctx context.Context, collection, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.write(docKey{collection, id}, &memoryWrite{data: cloneBytes(data)})
	return nil
}

func (t *memoryTxn) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := docKey{collection, id}
	var base []byte
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return port.ErrNotFound
		}
		base = w.data
	} else {
		data, ok := t.read(key)
		if !ok {
			return port.ErrNotFound
		}
		base = data
	}

	merged, err := mergePatch(base, patch)
	if err != nil {
		return err
	}
	t.write(key, &memoryWrite{data: merged})
	return nil
}

func (t *memoryTxn) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.write(docKey{collection, id}, &memoryWrite{deleted: true})
	return nil
}

func (t *memoryTxn) write(key docKey, w *memoryWrite) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = w
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
