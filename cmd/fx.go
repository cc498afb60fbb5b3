package cmd

import (
	"log/slog"

	"github.com/webitel/im-chat-delivery/config"
	httpsrv "github.com/webitel/im-chat-delivery/infra/server/http"
	"github.com/webitel/im-chat-delivery/internal/adapter/pubsub"
	"github.com/webitel/im-chat-delivery/internal/domain/cache"
	"github.com/webitel/im-chat-delivery/internal/domain/registry"
	amqpdi "github.com/webitel/im-chat-delivery/internal/handler/amqp"
	httphandler "github.com/webitel/im-chat-delivery/internal/handler/http"
	"github.com/webitel/im-chat-delivery/internal/service"
	"github.com/webitel/im-chat-delivery/internal/store"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(Options(cfg))
}

// Options is the full dependency graph, split out so it can be validated without starting.
func Options(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideLoggerProvider,
			ProvideWatermillLogger,
			ProvideTracerProvider,
			// The caches read through to the same (breaker-guarded) repository.
			func(repo store.Repository) cache.Store { return repo },
		),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l}
		}),
		fx.Invoke(func(trace.TracerProvider) {}),
		store.Module,
		cache.Module,
		registry.Module,
		pubsub.Module,
		service.Module,
		amqpdi.Module,
		httphandler.Module,
		httpsrv.Module,
	)
}
