package service

import (
	"log/slog"
	"time"
)

const DefaultActiveWindow = 11 * time.Second

type Option func(*DeliveryService)

// WithActiveWindow sets how recent a user's activity must be to count as active.
func WithActiveWindow(d time.Duration) Option {
	return func(s *DeliveryService) {
		if d > 0 {
			s.activeWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *DeliveryService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *DeliveryService) {
		if l != nil {
			s.logger = l
		}
	}
}
