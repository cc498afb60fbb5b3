package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically drops global cursors that stayed idle past the TTL.
// It never touches message windows or private last-seen markers.
type Sweeper struct {
	index    *ExpiryIndex
	cache    *Global
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(index *ExpiryIndex, cache *Global, opts ...Option) *Sweeper {
	o := newOptions(opts)
	return &Sweeper{
		index:    index,
		cache:    cache,
		interval: o.interval,
		now:      o.now,
		logger:   o.logger,
	}
}

// Start launches the sweep loop. It runs until ctx is cancelled or Stop is called.
// Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	s.logger.Info("CURSOR_SWEEPER_STARTED",
		"interval", s.interval,
		"ttl", s.index.TTL(),
	)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single pass and returns how many cursors were evicted.
func (s *Sweeper) SweepOnce() int {
	now := s.now()
	ttl := s.index.TTL()

	popped, evicted := s.index.Sweep(now, func(userID int64) bool {
		return s.cache.evictIdle(userID, now, ttl)
	})

	if evicted > 0 {
		s.logger.Debug("CURSORS_EVICTED", "evicted", evicted, "popped", popped)
	}
	return evicted
}
