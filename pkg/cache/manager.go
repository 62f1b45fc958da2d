package cache

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const (
	DefaultCleanupInterval = 15 * time.Minute
	DefaultMemoryLimit     = 1000 << 20
)

// Invalidator is a cache the Manager can sweep and flush.
type Invalidator interface {
	Name() string
	Invalidate()
	Purge()
	SweepExpired() int
	Len() int
}

// Stats is a point-in-time view of the registered caches.
type Stats struct {
	Caches        map[string]int `json:"caches"`
	HeapAllocMB   float64        `json:"heap_alloc_mb"`
	MemoryLimitMB float64        `json:"memory_limit_mb"`
	LastCleanup   *time.Time     `json:"last_cleanup,omitempty"`
	LastPressure  *time.Time     `json:"last_memory_pressure,omitempty"`
}

// Manager periodically sweeps expired cache entries and flushes every cache
// when the heap grows past the configured limit.
type Manager struct {
	interval    time.Duration
	memoryLimit uint64
	heapAlloc   func() uint64
	freeMemory  func()
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time

	mu           sync.RWMutex
	caches       []Invalidator
	lastCleanup  time.Time
	lastPressure time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithCleanupInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMemoryLimit sets the heap size in bytes above which all caches are
// flushed. Zero disables the check.
func WithMemoryLimit(bytes uint64) ManagerOption {
	return func(m *Manager) { m.memoryLimit = bytes }
}

// WithHeapReader replaces the heap size probe.
func WithHeapReader(f func() uint64) ManagerOption {
	return func(m *Manager) { m.heapAlloc = f }
}

// WithMemoryReleaser replaces the GC call made under memory pressure.
func WithMemoryReleaser(f func()) ManagerOption {
	return func(m *Manager) { m.freeMemory = f }
}

func WithManagerMetrics(metrics Metrics) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		interval:    DefaultCleanupInterval,
		memoryLimit: DefaultMemoryLimit,
		heapAlloc:   readHeapAlloc,
		freeMemory:  releaseMemory,
		metrics:     NopMetrics(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds caches to the sweep list.
func (m *Manager) Register(caches ...Invalidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, caches...)
}

func (m *Manager) registered() []Invalidator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Invalidator(nil), m.caches...)
}

// Run sweeps caches every cleanup interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("cache manager started", "interval", m.interval, "memory_limit_mb", m.memoryLimit>>20)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("cache manager stopped")
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Cleanup runs one sweep and memory check.
func (m *Manager) Cleanup() {
	removed := 0
	for _, c := range m.registered() {
		n := c.SweepExpired()
		if n > 0 {
			m.logger.Debug("swept expired cache entries", "cache", c.Name(), "removed", n)
		}
		removed += n
	}

	m.mu.Lock()
	m.lastCleanup = m.now()
	m.mu.Unlock()

	flushed := m.CheckMemory()
	m.logger.Info("cache cleanup complete", "removed", removed, "memory_flush", flushed)
}

// CheckMemory flushes all caches and releases memory when the heap exceeds
// the limit. It reports whether a flush happened.
func (m *Manager) CheckMemory() bool {
	heap := m.heapAlloc()
	m.metrics.SetHeapBytes(heap)
	if m.memoryLimit == 0 || heap <= m.memoryLimit {
		return false
	}

	m.logger.Warn("memory limit exceeded, flushing caches",
		"heap_mb", heap>>20, "limit_mb", m.memoryLimit>>20)
	for _, c := range m.registered() {
		c.Purge()
	}
	m.freeMemory()

	m.mu.Lock()
	m.lastPressure = m.now()
	m.mu.Unlock()

	m.logger.Info("memory released", "heap_mb", m.heapAlloc()>>20)
	return true
}

// InvalidateAll marks every registered cache stale.
func (m *Manager) InvalidateAll() {
	for _, c := range m.registered() {
		c.Invalidate()
	}
	m.logger.Info("all caches invalidated")
}

// PurgeAll drops every cached value.
func (m *Manager) PurgeAll() {
	for _, c := range m.registered() {
		c.Purge()
	}
	m.logger.Info("all caches purged")
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Caches:        map[string]int{},
		HeapAllocMB:   float64(m.heapAlloc()) / (1 << 20),
		MemoryLimitMB: float64(m.memoryLimit) / (1 << 20),
	}
	for _, c := range m.registered() {
		s.Caches[c.Name()] = c.Len()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.lastCleanup.IsZero() {
		t := m.lastCleanup
		s.LastCleanup = &t
	}
	if !m.lastPressure.IsZero() {
		t := m.lastPressure
		s.LastPressure = &t
	}
	return s
}

func readHeapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

func releaseMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
