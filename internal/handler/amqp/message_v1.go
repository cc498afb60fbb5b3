package amqp

import (
	"context"
	"errors"

	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/service/dto"
)

// [ON_MESSAGE_V1]
// Posts a bus-submitted message to the global chat or to the conversation it names.
func (h *MessageHandler) OnMessageV1(ctx context.Context, raw *dto.MessageV1) error {
	if raw.IsGlobal() {
		_, err := h.deliverer.SendGlobal(ctx, raw.UserID, raw.Content)
		return err
	}

	_, err := h.deliverer.SendPrivate(ctx, *raw.ChatID, raw.UserID, raw.Content)
	if errors.Is(err, model.ErrNotifyFailed) {
		// Stored and pushed already. A redelivery would post it twice.
		return nil
	}
	return err
}
