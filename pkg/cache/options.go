package cache

import (
	"log/slog"
	"time"
)

const (
	DefaultTTL          = 60 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

type options struct {
	ttl          time.Duration
	retention    time.Duration
	fetchTimeout time.Duration
	capacity     uint64
	now          func() time.Time
	metrics      Metrics
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		metrics:      NopMetrics(),
		logger:       slog.Default(),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.retention < o.ttl {
		o.retention = 10 * o.ttl
	}
	return o
}

// Option configures a NodeCache or Memo.
type Option func(*options)

// WithTTL sets how long a loaded value counts as fresh.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithRetention sets how long a stale value is kept as a fallback for failed
// refreshes. It defaults to ten times the TTL.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

// WithFetchTimeout bounds a single datastore load.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

// WithCapacity caps the number of keys a Memo holds. Zero means unbounded.
func WithCapacity(n uint64) Option {
	return func(o *options) { o.capacity = n }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
