package pubsub

import (
	"context"
	"log/slog"

	"github.com/webitel/im-chat-delivery/config"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewProvider,
		func(p *Provider, cfg *config.Config, logger *slog.Logger) EventDispatcher {
			return NewEventDispatcher(p.Publisher(), cfg.Pubsub.EventsTopic, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, p *Provider, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				logger.Info("PUBSUB_READY", "backend", p.Backend())
				return nil
			},
			OnStop: func(context.Context) error {
				return p.Close()
			},
		})
	}),
)
