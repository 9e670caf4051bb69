package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is the single-process counterpart of the Redis submission guard.
type MemoryGuard struct {
	mu   sync.Mutex
	keys map[string]time.Time
	ttl  time.Duration
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = idempotencyKeyTTL
	}
	return &MemoryGuard{keys: make(map[string]time.Time), ttl: ttl}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if expires, ok := g.keys[key]; ok && now.Before(expires) {
		return false, nil
	}
	g.keys[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}

// LocalNotifier fans change signals out to listeners in this process.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners map[string]map[chan struct{}]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[string]map[chan struct{}]struct{})}
}

func (n *LocalNotifier) Publish(ctx context.Context, collection string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.listeners[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (n *LocalNotifier) Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.listeners[collection] == nil {
		n.listeners[collection] = make(map[chan struct{}]struct{})
	}
	n.listeners[collection][ch] = struct{}{}
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		delete(n.listeners[collection], ch)
		n.mu.Unlock()
	}, nil
}
