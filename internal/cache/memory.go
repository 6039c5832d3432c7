package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/einthusan-addon/internal/metrics"
)

// DefaultMaxKeys bounds a MemoryStore created with a non-positive limit.
const DefaultMaxKeys = 10000

// MemoryConfig tunes a MemoryStore.
type MemoryConfig struct {
	MaxKeys       int
	SweepInterval time.Duration
	Now           func() time.Time
}

type memoryEntry struct {
	key    string
	value  []byte
	expiry time.Time
	index  int
}

// expiryHeap orders entries by expiry, earliest first.
type expiryHeap []*memoryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiry.Before(h[j].expiry) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*memoryEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// MemoryStore is an in-process Store. Its contents do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	order   expiryHeap
	maxKeys int
	now     func() time.Time
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// NewMemoryStore creates a MemoryStore and starts its janitor when SweepInterval is positive.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		maxKeys: cfg.MaxKeys,
		now:     cfg.Now,
	}
	if cfg.SweepInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.janitor(cfg.SweepInterval)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiry) {
		s.remove(e)
		metrics.ObserveEviction("expired", 1)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set implements Store. When the key bound is exceeded the earliest-expiring entry is evicted.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	expiry := s.now().Add(ttl)
	stored := append([]byte(nil), value...)
	if e, ok := s.entries[key]; ok {
		e.value = stored
		e.expiry = expiry
		heap.Fix(&s.order, e.index)
		return nil
	}
	e := &memoryEntry{key: key, value: stored, expiry: expiry}
	s.entries[key] = e
	heap.Push(&s.order, e)

	evicted := 0
	for len(s.entries) > s.maxKeys {
		oldest := s.order[0]
		s.remove(oldest)
		evicted++
	}
	metrics.ObserveEviction("capacity", evicted)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.remove(e)
	}
	return nil
}

// Len implements Store. Expired entries not yet swept are counted.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// DeleteExpired removes every expired entry and returns how many were removed.
func (s *MemoryStore) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for len(s.order) > 0 && !now.Before(s.order[0].expiry) {
		s.remove(s.order[0])
		count++
	}
	metrics.ObserveEviction("expired", count)
	return count
}

// Close stops the janitor and drops all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.entries = make(map[string]*memoryEntry)
	s.order = nil
	s.mu.Unlock()

	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	return nil
}

// remove must be called with mu held.
func (s *MemoryStore) remove(e *memoryEntry) {
	delete(s.entries, e.key)
	if e.index >= 0 {
		heap.Remove(&s.order, e.index)
	}
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.DeleteExpired()
		case <-s.stop:
			return
		}
	}
}
