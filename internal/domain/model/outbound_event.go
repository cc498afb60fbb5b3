package model

import "time"

const EventSource = "im-chat-delivery"

// OutboundEvent is the bus envelope for events leaving this service.
type OutboundEvent struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	UserID    int64  `json:"user_id"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

func NewOutboundEvent(id string, userID int64, kind string, payload any, occurredAt int64) *OutboundEvent {
	if occurredAt == 0 {
		occurredAt = time.Now().UnixMilli()
	}
	return &OutboundEvent{
		ID:        id,
		Source:    EventSource,
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: occurredAt,
	}
}
