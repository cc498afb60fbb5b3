package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-chat-delivery/config"
	"github.com/webitel/im-chat-delivery/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		NewMessageHandler,
		NewWatermillRouter,
	),

	fx.Invoke(func(h *MessageHandler, router *message.Router, provider *pubsub.Provider, cfg *config.Config) error {
		return h.RegisterHandlers(router, provider, cfg.Pubsub)
	}),
	fx.Invoke(runRouter),
)

func runRouter(lc fx.Lifecycle, router *message.Router, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				// Run blocks until Close; the start ctx only bounds startup.
				if err := router.Run(context.Background()); err != nil {
					logger.Error("ROUTER_STOPPED", "err", err)
				}
			}()

			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
}
