package cache

import (
	"context"
	"log/slog"

	"github.com/webitel/im-chat-delivery/config"
	"go.uber.org/fx"
)

var Module = fx.Module("cache",
	fx.Provide(
		func(cfg *config.Config) *ExpiryIndex {
			return NewExpiryIndex(WithCursorTTL(cfg.Cache.CursorTTL))
		},
		func(cfg *config.Config, store Store, index *ExpiryIndex, logger *slog.Logger) *Global {
			return NewGlobal(store, index,
				WithCapacity(cfg.Cache.GlobalCapacity),
				WithLogger(logger),
			)
		},
		func(cfg *config.Config) *Private {
			return NewPrivate(WithCapacity(cfg.Cache.PrivateCapacity))
		},
		func(cfg *config.Config, index *ExpiryIndex, global *Global, logger *slog.Logger) *Sweeper {
			return NewSweeper(index, global,
				WithSweepInterval(cfg.Cache.SweepInterval),
				WithLogger(logger),
			)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Sweeper) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				// The start ctx is scoped to startup only; the loop lives until OnStop.
				s.Start(context.Background())
				return nil
			},
			OnStop: func(context.Context) error {
				s.Stop()
				return nil
			},
		})
	}),
)
