package cache

import (
	"log/slog"
	"time"
)

const (
	DefaultCapacity      = 1000
	DefaultCursorTTL     = 300 * time.Second
	DefaultSweepInterval = 15 * time.Second
)

type options struct {
	capacity int
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		capacity: DefaultCapacity,
		ttl:      DefaultCursorTTL,
		interval: DefaultSweepInterval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option defines a functional configuration type shared by the cache components.
type Option func(*options)

// WithCapacity bounds a ring; non-positive values keep the default.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithCursorTTL sets how long a cursor may stay idle before the sweep drops it.
func WithCursorTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock replaces the wall clock. Tests use it to move time by hand.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
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
