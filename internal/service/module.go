package service

import (
	"log/slog"

	"github.com/webitel/im-chat-delivery/config"
	"github.com/webitel/im-chat-delivery/internal/adapter/pubsub"
	"github.com/webitel/im-chat-delivery/internal/domain/cache"
	"github.com/webitel/im-chat-delivery/internal/domain/registry"
	"github.com/webitel/im-chat-delivery/internal/store"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		func(repo store.Repository, cfg *config.Config) (*Directory, error) {
			return NewDirectory(repo, cfg.Presence.DirectorySize)
		},

		// Domain services
		fx.Annotate(
			func(
				repo store.Repository,
				dir *Directory,
				global *cache.Global,
				expiry *cache.ExpiryIndex,
				private *cache.Private,
				hub registry.Hubber,
				dispatcher pubsub.EventDispatcher,
				cfg *config.Config,
				logger *slog.Logger,
			) *DeliveryService {
				return NewDeliveryService(repo, dir, global, expiry, private, hub, dispatcher,
					WithActiveWindow(cfg.Presence.ActiveWindow),
					WithLogger(logger),
				)
			},
			fx.As(new(Deliverer)),
		),
	),

	// [DECORATION_LAYER] Intercept Deliverer to add cross-cutting concerns
	fx.Decorate(func(orig Deliverer, logger *slog.Logger) Deliverer {
		return NewDelivererMiddleware(orig, logger)
	}),
)
