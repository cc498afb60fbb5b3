package model

import (
	"fmt"
	"strings"
	"time"
)

// MessageKind tells user-authored messages apart from system notices.
type MessageKind string

const (
	KindUserMessage MessageKind = "user_message"
	KindSystem      MessageKind = "system"
)

func (k MessageKind) Valid() bool {
	return k == KindUserMessage || k == KindSystem
}

// Message is a single chat record, either global or scoped to a private conversation.
// Identity is assigned by the store and is strictly increasing in insertion order.
type Message struct {
	ID        int64       `json:"id"`
	Content   string      `json:"content"`
	Username  *string     `json:"username"`
	UserID    *int64      `json:"user_id"`
	Kind      MessageKind `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
	ChatID    *int64      `json:"chat_id,omitempty"`
}

// NewUserMessage builds an unsaved message authored by userID.
// A nil chatID places the message in the global room.
func NewUserMessage(userID int64, username, content string, chatID *int64, at time.Time) Message {
	return Message{
		Content:   content,
		Username:  &username,
		UserID:    &userID,
		Kind:      KindUserMessage,
		CreatedAt: at,
		ChatID:    chatID,
	}
}

// NewSystemMessage builds an unsaved global notice with no author.
func NewSystemMessage(content string, at time.Time) Message {
	return Message{
		Content:   content,
		Kind:      KindSystem,
		CreatedAt: at,
	}
}

func (m Message) IsSystem() bool { return m.Kind == KindSystem }
func (m Message) IsGlobal() bool { return m.ChatID == nil }

// AuthoredBy reports whether userID wrote the message. System messages have no author.
func (m Message) AuthoredBy(userID int64) bool {
	return m.UserID != nil && *m.UserID == userID
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	out := m
	if m.Username != nil {
		v := *m.Username
		out.Username = &v
	}
	if m.UserID != nil {
		v := *m.UserID
		out.UserID = &v
	}
	if m.ChatID != nil {
		v := *m.ChatID
		out.ChatID = &v
	}
	return out
}

// Validate checks the invariants a record must hold before it is written.
func (m Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("message kind %q: %w", m.Kind, ErrInvalidArgument)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("message content is empty: %w", ErrInvalidArgument)
	}
	switch m.Kind {
	case KindUserMessage:
		if m.UserID == nil {
			return fmt.Errorf("user message without author: %w", ErrInvalidArgument)
		}
	case KindSystem:
		if m.UserID != nil || m.ChatID != nil {
			return fmt.Errorf("system message must be global and anonymous: %w", ErrInvalidArgument)
		}
	}
	return nil
}
