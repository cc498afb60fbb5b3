package model

import "time"

// Conversation is a private chat between exactly two users.
type Conversation struct {
	ID        int64     `json:"id"`
	UserA     int64     `json:"user1_id"`
	UserB     int64     `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Conversation) Has(userID int64) bool {
	return c.UserA == userID || c.UserB == userID
}

// Counterpart returns the other participant, or false if userID is not in the conversation.
func (c Conversation) Counterpart(userID int64) (int64, bool) {
	switch userID {
	case c.UserA:
		return c.UserB, true
	case c.UserB:
		return c.UserA, true
	}
	return 0, false
}
