package model

import "time"

type NotificationKind string

const (
	NotificationNewChat    NotificationKind = "new_chat"
	NotificationNewMessage NotificationKind = "new_message"
)

// Notification tells a recipient that something happened in one of their conversations.
type Notification struct {
	ID          int64            `json:"id"`
	RecipientID int64            `json:"recipient_id"`
	ChatID      int64            `json:"chat_id"`
	Kind        NotificationKind `json:"type"`
	Read        bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
}
