package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/webitel/im-chat-delivery/config"
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (Repository, error) {
			db, err := NewSQLite(cfg.Database.Path)
			if err != nil {
				return nil, fmt.Errorf("open store: %w", err)
			}

			repo := NewBreaker(db, BreakerSettings{
				MaxRequests:      cfg.Breaker.MaxRequests,
				Interval:         cfg.Breaker.Interval,
				Timeout:          cfg.Breaker.Timeout,
				FailureThreshold: cfg.Breaker.FailureThreshold,
			}, logger)

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := repo.Ping(ctx); err != nil {
						return fmt.Errorf("database health check: %w", err)
					}
					logger.Info("DATABASE_CONNECTED", "path", cfg.Database.Path)
					return nil
				},
				OnStop: func(context.Context) error {
					return repo.Close()
				},
			})

			return repo, nil
		},
	),
)
