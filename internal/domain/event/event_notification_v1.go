package event

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

var (
	_ Eventer    = (*NotificationV1Event)(nil)
	_ Exportable = (*NotificationV1Event)(nil)
)

// NotificationPayload is what the recipient's client renders as an unread badge.
type NotificationPayload struct {
	ChatID     int64                  `json:"chat_id"`
	Kind       model.NotificationKind `json:"type"`
	FromUserID int64                  `json:"from_user_id"`
}

type NotificationV1Event struct {
	ID         uuid.UUID
	Payload    NotificationPayload
	UserID     int64
	OccurredAt int64
}

func NewNotificationV1Event(n model.Notification, fromUserID int64) *NotificationV1Event {
	return &NotificationV1Event{
		ID: uuid.New(),
		Payload: NotificationPayload{
			ChatID:     n.ChatID,
			Kind:       n.Kind,
			FromUserID: fromUserID,
		},
		UserID:     n.RecipientID,
		OccurredAt: n.CreatedAt.UnixMilli(),
	}
}

func (e *NotificationV1Event) GetID() string              { return e.ID.String() }
func (e *NotificationV1Event) GetPayload() any            { return e.Payload }
func (e *NotificationV1Event) GetUserID() int64           { return e.UserID }
func (e *NotificationV1Event) GetOccurredAt() int64       { return e.OccurredAt }
func (e *NotificationV1Event) GetKind() EventKind         { return NotificationCreated }
func (e *NotificationV1Event) GetPriority() EventPriority { return PriorityNormal }

func (e *NotificationV1Event) GetRoutingKey() string {
	return fmt.Sprintf("im_chat.v1.user.%d.notification.%s", e.UserID, e.Payload.Kind)
}
