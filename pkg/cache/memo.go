package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// Loader computes the value for a key from the datastore.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

type memoEntry[V any] struct {
	value     V
	fetchedAt time.Time
	gen       uint64
}

// Memo is a keyed cache of derived values with the same freshness rules as
// NodeCache. Values stay in the underlying ttlcache for the retention period
// so a failed refresh can fall back to the last good value.
type Memo[K comparable, V any] struct {
	name  string
	load  Loader[K, V]
	opts  options
	items *ttlcache.Cache[K, memoEntry[V]]

	gen        atomic.Uint64
	mu         sync.Mutex
	refreshing map[K]struct{}
	cold       singleflight.Group
	closeOnce  sync.Once
}

// NewMemo creates a memo and starts its expiry janitor. Call Close to stop it.
func NewMemo[K comparable, V any](name string, load Loader[K, V], opts ...Option) *Memo[K, V] {
	o := buildOptions(opts)

	ttlOpts := []ttlcache.Option[K, memoEntry[V]]{
		ttlcache.WithTTL[K, memoEntry[V]](o.retention),
		ttlcache.WithDisableTouchOnHit[K, memoEntry[V]](),
	}
	if o.capacity > 0 {
		ttlOpts = append(ttlOpts, ttlcache.WithCapacity[K, memoEntry[V]](o.capacity))
	}

	m := &Memo[K, V]{
		name:       name,
		load:       load,
		opts:       o,
		items:      ttlcache.New[K, memoEntry[V]](ttlOpts...),
		refreshing: make(map[K]struct{}),
	}
	go m.items.Start()
	return m
}

func (m *Memo[K, V]) Name() string { return m.name }

// Get returns the value for key. A fresh value is returned directly. For a
// stale value one caller reloads while others get the stale value; if the
// reload fails the stale value is returned without error. Only a key with
// no value at all can return an error.
func (m *Memo[K, V]) Get(ctx context.Context, key K) (V, error) {
	item := m.items.Get(key, ttlcache.WithDisableTouchOnHit[K, memoEntry[V]]())
	if item == nil {
		return m.loadCold(ctx, key)
	}

	entry := item.Value()
	if m.isFresh(entry) {
		m.opts.metrics.Hit(m.name)
		return entry.value, nil
	}
	if !m.claim(key) {
		m.opts.metrics.StaleServed(m.name)
		return entry.value, nil
	}
	defer m.release(key)

	v, err := m.reload(ctx, key)
	if err != nil {
		m.opts.metrics.StaleServed(m.name)
		m.opts.logger.Warn("cache refresh failed, serving stale value",
			"cache", m.name, "key", key, "error", err)
		return entry.value, nil
	}
	return v, nil
}

func (m *Memo[K, V]) loadCold(ctx context.Context, key K) (V, error) {
	m.opts.metrics.Miss(m.name)
	v, err, _ := m.cold.Do(fmt.Sprint(key), func() (any, error) {
		if item := m.items.Get(key, ttlcache.WithDisableTouchOnHit[K, memoEntry[V]]()); item != nil {
			return item.Value().value, nil
		}
		return m.reload(ctx, key)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (m *Memo[K, V]) reload(ctx context.Context, key K) (V, error) {
	gen := m.gen.Load()
	start := m.opts.now()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.fetchTimeout)
	defer cancel()

	v, err := m.load(fctx, key)
	if err != nil {
		m.opts.metrics.RefreshFailed(m.name)
		return v, fmt.Errorf("load %s[%v]: %w", m.name, key, err)
	}

	now := m.opts.now()
	m.items.Set(key, memoEntry[V]{value: v, fetchedAt: now, gen: gen}, ttlcache.DefaultTTL)
	m.opts.metrics.ObserveRefresh(m.name, now.Sub(start))
	m.opts.metrics.SetEntries(m.name, m.items.Len())
	return v, nil
}

func (m *Memo[K, V]) isFresh(e memoEntry[V]) bool {
	return e.gen == m.gen.Load() && m.opts.now().Sub(e.fetchedAt) < m.opts.ttl
}

func (m *Memo[K, V]) claim(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.refreshing[key]; busy {
		return false
	}
	m.refreshing[key] = struct{}{}
	return true
}

func (m *Memo[K, V]) release(key K) {
	m.mu.Lock()
	delete(m.refreshing, key)
	m.mu.Unlock()
}

// Invalidate marks every entry stale without dropping the fallback values.
func (m *Memo[K, V]) Invalidate() {
	m.gen.Add(1)
	m.opts.metrics.Invalidated(m.name, "explicit")
}

// Purge drops every entry.
func (m *Memo[K, V]) Purge() {
	m.gen.Add(1)
	m.items.DeleteAll()
	m.opts.metrics.SetEntries(m.name, 0)
	m.opts.metrics.Invalidated(m.name, "purge")
}

// SweepExpired removes entries past their retention period. Entries past
// their TTL are already treated as stale by Get.
func (m *Memo[K, V]) SweepExpired() int {
	before := m.items.Len()
	m.items.DeleteExpired()
	removed := before - m.items.Len()
	if removed > 0 {
		m.opts.metrics.Invalidated(m.name, "expired")
	}
	m.opts.metrics.SetEntries(m.name, m.items.Len())
	return max(removed, 0)
}

// State reports the state of a single key.
func (m *Memo[K, V]) State(key K) State {
	m.mu.Lock()
	_, busy := m.refreshing[key]
	m.mu.Unlock()
	if busy {
		return StateRefreshing
	}
	item := m.items.Get(key, ttlcache.WithDisableTouchOnHit[K, memoEntry[V]]())
	switch {
	case item == nil:
		return StateEmpty
	case m.isFresh(item.Value()):
		return StateFresh
	default:
		return StateStale
	}
}

func (m *Memo[K, V]) Len() int {
	return m.items.Len()
}

// Close stops the expiry janitor.
func (m *Memo[K, V]) Close() {
	m.closeOnce.Do(m.items.Stop)
}
