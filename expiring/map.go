// Package expiring provides a bounded, concurrency-safe map whose entries carry
// a deadline.
//
// Expired entries are treated as absent on read and removed lazily; a
// background sweep removes them even when nothing reads them. When the map is
// full, inserting a new key first sweeps expired entries and then evicts the
// oldest entry in insertion order. Upsert moves an entry to the back of that
// order, so callers that upsert on every access get least-recently-used
// eviction while callers that only Set get FIFO-by-creation eviction.
//
// Both the response cache and the in-memory limiter store are built on Map.
package expiring

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Reason tells an OnEvict callback why an entry left the map.
type Reason int

const (
	// Expired means the entry's deadline passed.
	Expired Reason = iota
	// Capacity means the entry was pushed out to make room for a new key.
	Capacity
)

func (r Reason) String() string {
	switch r {
	case Expired:
		return "expired"
	case Capacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Options configures a Map.
type Options[K comparable, V any] struct {
	// MaxSize bounds the number of resident entries. Zero means unbounded.
	MaxSize int
	// SweepInterval is how often expired entries are removed in the
	// background. Zero disables the sweep goroutine.
	SweepInterval time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// OnEvict is called, with the map lock held, for every entry removed by
	// expiry or capacity eviction. It must not call back into the Map.
	OnEvict func(key K, value V, reason Reason)
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Map is a key/value map with per-entry deadlines.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*list.Element
	order   *list.List // front is oldest
	maxSize int
	now     func() time.Time
	onEvict func(K, V, Reason)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Map and, if opts.SweepInterval > 0, starts its background
// sweep. The sweep stops when ctx is canceled or Close is called.
func New[K comparable, V any](ctx context.Context, opts Options[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		items:   make(map[K]*list.Element),
		order:   list.New(),
		maxSize: opts.MaxSize,
		now:     opts.Now,
		onEvict: opts.OnEvict,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if m.now == nil {
		m.now = time.Now
	}

	if opts.SweepInterval > 0 {
		go m.runSweep(ctx, opts.SweepInterval)
	} else {
		close(m.done)
	}
	return m
}

// Get returns the live value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key, m.now())
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Has reports whether key holds a live value.
func (m *Map[K, V]) Has(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(key, m.now())
	return ok
}

// Set stores value under key until now+ttl, replacing any previous value.
func (m *Map[K, V]) Set(key K, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(key, value, ttl, m.now())
}

// Upsert runs fn with the live value under key (found is false when the key
// is missing or expired), stores the returned value with the returned ttl and
// moves it to the back of the eviction order. The whole operation is atomic.
func (m *Map[K, V]) Upsert(key K, fn func(value V, found bool) (V, time.Duration)) V {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var current V
	e, found := m.live(key, now)
	if found {
		current = e.value
	}

	next, ttl := fn(current, found)
	m.put(key, next, ttl, now)
	return next
}

// Delete removes key and reports whether a live value was removed.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key, m.now())
	if ok {
		m.remove(e.key)
	}
	return ok
}

// Clear removes every entry without invoking OnEvict.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[K]*list.Element)
	m.order.Init()
}

// Len returns the number of resident entries, including expired entries that
// have not been swept yet.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Sweep removes all expired entries and returns how many were removed.
func (m *Map[K, V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweep(m.now())
}

// Close stops the background sweep and clears the map. It is safe to call
// more than once.
func (m *Map[K, V]) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	m.Clear()
}

// live returns the entry for key if it has not expired, deleting it lazily
// otherwise. Must be called with mu held.
func (m *Map[K, V]) live(key K, now time.Time) (*entry[K, V], bool) {
	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry[K, V])
	if now.After(e.expiresAt) {
		m.evict(el, Expired)
		return nil, false
	}
	return e, true
}

// put must be called with mu held.
func (m *Map[K, V]) put(key K, value V, ttl time.Duration, now time.Time) {
	if el, ok := m.items[key]; ok {
		m.order.Remove(el)
		delete(m.items, key)
	} else if m.maxSize > 0 && len(m.items) >= m.maxSize {
		m.sweep(now)
		for len(m.items) >= m.maxSize {
			m.evict(m.order.Front(), Capacity)
		}
	}

	e := &entry[K, V]{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	m.items[key] = m.order.PushBack(e)
}

// sweep must be called with mu held.
func (m *Map[K, V]) sweep(now time.Time) int {
	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*entry[K, V]).expiresAt) {
			m.evict(el, Expired)
			removed++
		}
		el = next
	}
	return removed
}

// evict must be called with mu held.
func (m *Map[K, V]) evict(el *list.Element, reason Reason) {
	e := el.Value.(*entry[K, V])
	m.order.Remove(el)
	delete(m.items, e.key)
	if m.onEvict != nil {
		m.onEvict(e.key, e.value, reason)
	}
}

// remove must be called with mu held.
func (m *Map[K, V]) remove(key K) {
	if el, ok := m.items[key]; ok {
		m.order.Remove(el)
		delete(m.items, key)
	}
}

func (m *Map[K, V]) runSweep(ctx context.Context, interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		}
	}
}
