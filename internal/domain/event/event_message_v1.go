package event

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

var (
	_ Eventer    = (*MessageV1Event)(nil)
	_ Exportable = (*MessageV1Event)(nil)
)

// MessageV1Event carries a freshly written message to one recipient.
//
// Message.UserID is the author; UserID is the connection the event is routed to.
type MessageV1Event struct {
	ID      uuid.UUID     `json:"id"`
	Message model.Message `json:"message"`
	UserID  int64         `json:"user_id"`
}

func NewMessageV1Event(msg model.Message, recipientID int64) *MessageV1Event {
	return &MessageV1Event{
		ID:      uuid.New(),
		Message: msg.Clone(),
		UserID:  recipientID,
	}
}

func (e *MessageV1Event) GetID() string              { return e.ID.String() }
func (e *MessageV1Event) GetPayload() any            { return e.Message }
func (e *MessageV1Event) GetUserID() int64           { return e.UserID }
func (e *MessageV1Event) GetOccurredAt() int64       { return e.Message.CreatedAt.UnixMilli() }
func (e *MessageV1Event) GetKind() EventKind         { return MessageCreated }
func (e *MessageV1Event) GetPriority() EventPriority { return PriorityHigh }

// GetRoutingKey follows im_chat.v1.{scope}.message.created where scope is
// "global" or "chat.{id}".
func (e *MessageV1Event) GetRoutingKey() string {
	if e.Message.ChatID == nil {
		return "im_chat.v1.global.message.created"
	}
	return fmt.Sprintf("im_chat.v1.chat.%d.message.created", *e.Message.ChatID)
}
