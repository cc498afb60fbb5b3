package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

// DomainHandler defines the functional signature for business logic.
type DomainHandler[T any] func(ctx context.Context, payload *T) error

type validator interface {
	Validate() error
}

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to Domain logic, handling Panic Recovery, Decoding and Ack policy.
func Bind[T any](h *MessageHandler, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		// [PANIC_RECOVERY]
		// Safely handle runtime panics to keep the consumer alive.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()

		// [DECODING]
		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison Pill protection.
		}
		if v, ok := any(payload).(validator); ok {
			if err := v.Validate(); err != nil {
				h.logger.Warn("PAYLOAD_REJECTED", "err", err, "msg_id", msg.UUID)
				return nil // ACK: retrying cannot fix the payload.
			}
		}

		// [EXECUTION]
		if err := fn(msg.Context(), payload); err != nil {
			if terminal(err) {
				h.logger.Warn("MESSAGE_DROPPED", "err", err, "msg_id", msg.UUID)
				return nil
			}
			return err // NACK: Infrastructure failure triggers Retry policy.
		}
		return nil
	}
}

// terminal reports errors no redelivery can change.
func terminal(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrInvalidArgument) ||
		errors.Is(err, model.ErrConflict)
}
