package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/im-chat-delivery/config"
	"github.com/webitel/im-chat-delivery/internal/adapter/pubsub"
	"github.com/webitel/im-chat-delivery/internal/service"
)

const HandlerMessageV1 = "ON_MSG_V1"

type MessageHandler struct {
	deliverer service.Deliverer
	logger    *slog.Logger
	wmLogger  watermill.LoggerAdapter
}

func NewMessageHandler(deliverer service.Deliverer, logger *slog.Logger, wmLogger watermill.LoggerAdapter) *MessageHandler {
	return &MessageHandler{deliverer: deliverer, logger: logger, wmLogger: wmLogger}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{}, logger)
}

// [REGISTRATION_PIPELINE]
func (h *MessageHandler) RegisterHandlers(router *message.Router, provider *pubsub.Provider, cfg config.PubsubConfig) error {
	poison, err := middleware.PoisonQueue(provider.Publisher(), cfg.PoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{HandlerMessageV1, cfg.InboundTopic, Bind(h, h.OnMessageV1)},
	}

	for _, c := range configs {
		router.AddConsumerHandler(c.name, c.topic, provider.Subscriber(), c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware(h.wmLogger).Middleware,
			poison,
			middleware.NewThrottle(cfg.Throttle, time.Second).Middleware,
			middleware.Timeout(cfg.HandlerTTL),
		)
	}

	h.logger.Info("BUS_PIPELINE_READY", "topic", cfg.InboundTopic, "backend", provider.Backend())
	return nil
}
