package dto

import (
	"errors"
	"strings"
)

// [BUS_V1] Inbound message envelope accepted on the inbound topic.
// A missing ChatID posts to the global chat.
type MessageV1 struct {
	ChatID  *int64 `json:"chat_id,omitempty"`
	UserID  int64  `json:"user_id"`
	Content string `json:"content"`
}

func (m *MessageV1) Validate() error {
	var errs []error
	if m.UserID <= 0 {
		errs = append(errs, errors.New("user_id is required"))
	}
	if strings.TrimSpace(m.Content) == "" {
		errs = append(errs, errors.New("content is empty"))
	}
	if m.ChatID != nil && *m.ChatID <= 0 {
		errs = append(errs, errors.New("chat_id must be positive"))
	}
	return errors.Join(errs...)
}

func (m *MessageV1) IsGlobal() bool { return m.ChatID == nil }
