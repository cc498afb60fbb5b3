package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/im-chat-delivery/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

func serviceResource() *resource.Resource {
	return resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.version", version),
	)
}

// ProvideLogger builds the process logger and makes it the slog default.
// The level follows cfg.LogLevel, which the config watcher updates in place.
// With tracing.export_logs set, records are also bridged into lp.
func ProvideLogger(cfg *config.Config, lp *sdklog.LoggerProvider) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var h slog.Handler
	if cfg.Service.LogJSON {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	if cfg.Tracing.ExportLogs {
		h = &teeHandler{
			level:    cfg.LogLevel,
			handlers: []slog.Handler{h, otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(lp))},
		}
	}

	logger := slog.New(h).With(
		"service", ServiceName,
		"namespace", ServiceNamespace,
		"version", version,
	)
	slog.SetDefault(logger)
	return logger
}

// ProvideLoggerProvider installs the global OpenTelemetry log provider. Exported records
// are written to stderr as JSON; without tracing.export_logs it has no processor.
func ProvideLoggerProvider(lc fx.Lifecycle, cfg *config.Config) (*sdklog.LoggerProvider, error) {
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(serviceResource())}
	if cfg.Tracing.ExportLogs {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)))
	}

	lp := sdklog.NewLoggerProvider(opts...)
	global.SetLoggerProvider(lp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return lp.Shutdown(ctx)
		},
	})
	return lp, nil
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

// ProvideTracerProvider installs the global tracer provider used by the service spans.
// No exporter is attached; spans still carry trace ids into logs and bus metadata.
func ProvideTracerProvider(lc fx.Lifecycle, cfg *config.Config) trace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(serviceResource()),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp
}

// teeHandler hands each record to every handler that accepts its level.
type teeHandler struct {
	level    slog.Leveler
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	if l < t.level.Level() {
		return false
	}
	for _, h := range t.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t *teeHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = fn(h)
	}
	return &teeHandler{level: t.level, handlers: hs}
}
