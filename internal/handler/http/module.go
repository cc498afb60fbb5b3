package httphandler

import (
	"log/slog"
	"net/http"

	"github.com/webitel/im-chat-delivery/config"
	"github.com/webitel/im-chat-delivery/internal/handler/lp"
	"github.com/webitel/im-chat-delivery/internal/handler/ws"
	"github.com/webitel/im-chat-delivery/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery-http",
	fx.Provide(
		NewHandler,
		func(deliverer service.Deliverer, logger *slog.Logger) *lp.LPHandler {
			return lp.NewLPHandler(deliverer, logger, lp.DefaultWait)
		},
		func(logger *slog.Logger, deliverer service.Deliverer, cfg *config.Config) *ws.WSHandler {
			return ws.NewWSHandler(logger, deliverer, cfg.Service.AllowedOrigins)
		},
		func(h *Handler, events *lp.LPHandler, socket *ws.WSHandler, cfg *config.Config) http.Handler {
			return NewRouter(h, events, socket, cfg.Service.AllowedOrigins)
		},
	),
)
