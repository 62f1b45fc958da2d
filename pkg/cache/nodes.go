// Package cache holds the in-process caches that sit between the datastore
// and request handlers, and the manager that sweeps them.
package cache

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

// State is the lifecycle stage of a cached value.
type State int

const (
	StateEmpty State = iota
	StateFresh
	StateStale
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateRefreshing:
		return "refreshing"
	default:
		return "empty"
	}
}

// Snapshot is an immutable, point-in-time view of every known node.
// Callers must not modify the nodes it returns.
type Snapshot struct {
	byID      map[meshtastic.NodeID]*models.Node
	byHex     map[string]*models.Node
	sorted    []*models.Node
	fetchedAt time.Time
	gen       uint64
}

func newSnapshot(nodes []*models.Node, fetchedAt time.Time, gen uint64) *Snapshot {
	s := &Snapshot{
		byID:      make(map[meshtastic.NodeID]*models.Node, len(nodes)),
		byHex:     make(map[string]*models.Node, len(nodes)),
		sorted:    make([]*models.Node, 0, len(nodes)),
		fetchedAt: fetchedAt,
		gen:       gen,
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, dup := s.byID[n.ID]; dup {
			continue
		}
		s.byID[n.ID] = n
		s.byHex[n.ID.Hex()] = n
		s.sorted = append(s.sorted, n)
	}
	slices.SortFunc(s.sorted, func(a, b *models.Node) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return s
}

// Lookup finds a node by numeric id.
func (s *Snapshot) Lookup(id meshtastic.NodeID) (*models.Node, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// LookupHex finds a node by its hex id, with or without the leading '!'.
func (s *Snapshot) LookupHex(hex string) (*models.Node, bool) {
	hex = strings.ToLower(strings.TrimPrefix(hex, "!"))
	n, ok := s.byHex[hex]
	return n, ok
}

// Resolve maps a user supplied id to a node id. When raw has both a hex and
// a decimal reading, the first one present in the snapshot wins; if neither
// is, the hex reading is returned.
func (s *Snapshot) Resolve(raw string) (meshtastic.NodeID, error) {
	ids, err := meshtastic.NodeIDCandidates(raw)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			return id, nil
		}
	}
	return ids[0], nil
}

// ByHex returns a copy of the hex-keyed index.
func (s *Snapshot) ByHex() map[string]*models.Node {
	return maps.Clone(s.byHex)
}

// Nodes returns every node ordered by id.
func (s *Snapshot) Nodes() []*models.Node {
	return slices.Clone(s.sorted)
}

func (s *Snapshot) Len() int {
	return len(s.byID)
}

func (s *Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// NodeFetcher loads every node from the datastore.
type NodeFetcher func(ctx context.Context) ([]*models.Node, error)

// NodeCache serves node snapshots. Readers never wait on a warm cache: the
// first reader after expiry refreshes while the others get the previous
// snapshot. Only a cold cache makes readers wait, and they share one load.
type NodeCache struct {
	name            string
	fetch           NodeFetcher
	activeThreshold time.Duration
	opts            options

	snap       atomic.Pointer[Snapshot]
	gen        atomic.Uint64
	refreshing atomic.Bool
	cold       singleflight.Group
}

// NewNodeCache creates a node cache. A positive activeThreshold marks nodes
// seen within that duration as active when a snapshot is built.
func NewNodeCache(fetch NodeFetcher, activeThreshold time.Duration, opts ...Option) *NodeCache {
	return &NodeCache{
		name:            "nodes",
		fetch:           fetch,
		activeThreshold: activeThreshold,
		opts:            buildOptions(opts),
	}
}

func (c *NodeCache) Name() string { return c.name }

// GetAll returns the current snapshot. It never returns nil; a cold cache
// whose first load fails yields an empty snapshot.
func (c *NodeCache) GetAll(ctx context.Context) *Snapshot {
	s := c.snap.Load()
	if s == nil {
		return c.loadCold(ctx)
	}
	if c.isFresh(s) {
		c.opts.metrics.Hit(c.name)
		return s
	}
	if !c.refreshing.CompareAndSwap(false, true) {
		c.opts.metrics.StaleServed(c.name)
		return s
	}
	defer c.refreshing.Store(false)

	// Another reader may have completed a refresh between Load and CAS
	if cur := c.snap.Load(); cur != nil && cur != s && c.isFresh(cur) {
		return cur
	}

	ns, err := c.refresh(ctx)
	if err != nil {
		c.opts.metrics.StaleServed(c.name)
		c.opts.logger.Warn("node refresh failed, serving stale snapshot",
			"error", err, "age", c.opts.now().Sub(s.fetchedAt))
		return s
	}
	return ns
}

func (c *NodeCache) loadCold(ctx context.Context) *Snapshot {
	c.opts.metrics.Miss(c.name)
	v, _, _ := c.cold.Do(c.name, func() (any, error) {
		if s := c.snap.Load(); s != nil {
			return s, nil
		}
		ns, err := c.refresh(ctx)
		if err != nil {
			c.opts.logger.Error("initial node load failed", "error", err)
			return newSnapshot(nil, c.opts.now(), c.gen.Load()), nil
		}
		return ns, nil
	})
	return v.(*Snapshot)
}

func (c *NodeCache) refresh(ctx context.Context) (*Snapshot, error) {
	gen := c.gen.Load()
	start := c.opts.now()

	// A cancelled request must not abort a refresh other readers benefit from
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.fetchTimeout)
	defer cancel()

	nodes, err := c.fetch(fctx)
	if err != nil {
		c.opts.metrics.RefreshFailed(c.name)
		return nil, fmt.Errorf("fetch nodes: %w", err)
	}

	now := c.opts.now()
	if c.activeThreshold > 0 {
		for _, n := range nodes {
			if n != nil {
				n.Active = n.IsActiveAt(now, c.activeThreshold)
			}
		}
	}

	ns := newSnapshot(nodes, now, gen)
	c.snap.Store(ns)
	c.opts.metrics.ObserveRefresh(c.name, now.Sub(start))
	c.opts.metrics.SetEntries(c.name, ns.Len())
	c.opts.logger.Debug("node snapshot refreshed", "nodes", ns.Len(), "took", now.Sub(start))
	return ns, nil
}

func (c *NodeCache) isFresh(s *Snapshot) bool {
	return s.gen == c.gen.Load() && c.opts.now().Sub(s.fetchedAt) < c.opts.ttl
}

// Invalidate marks the current snapshot stale. The next GetAll refreshes and
// returns data loaded after this call; the old snapshot remains the fallback.
func (c *NodeCache) Invalidate() {
	c.gen.Add(1)
	c.opts.metrics.Invalidated(c.name, "explicit")
}

// Purge drops the snapshot entirely.
func (c *NodeCache) Purge() {
	c.gen.Add(1)
	c.snap.Store(nil)
	c.opts.metrics.SetEntries(c.name, 0)
	c.opts.metrics.Invalidated(c.name, "purge")
}

// SweepExpired drops a snapshot that has outlived its retention period and
// reports how many entries were removed. TTL expiry needs no sweep: GetAll
// checks freshness on every read.
func (c *NodeCache) SweepExpired() int {
	s := c.snap.Load()
	if s == nil || c.opts.now().Sub(s.fetchedAt) < c.opts.retention {
		return 0
	}
	if !c.snap.CompareAndSwap(s, nil) {
		return 0
	}
	c.opts.metrics.SetEntries(c.name, 0)
	c.opts.metrics.Invalidated(c.name, "expired")
	return 1
}

// State reports where the cache is in its Fresh, Stale, Refreshing cycle.
func (c *NodeCache) State() State {
	s := c.snap.Load()
	switch {
	case c.refreshing.Load():
		return StateRefreshing
	case s == nil:
		return StateEmpty
	case c.isFresh(s):
		return StateFresh
	default:
		return StateStale
	}
}

// Len is the number of nodes in the current snapshot.
func (c *NodeCache) Len() int {
	if s := c.snap.Load(); s != nil {
		return s.Len()
	}
	return 0
}
