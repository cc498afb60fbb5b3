// Package dto holds the request bodies the transports decode before calling the service.
package dto

type JoinRequest struct {
	Username string `json:"username"`
}

// SendRequest posts to the global chat or, with a path chat id, to a private one.
// Username is accepted for compatibility; the stored username always comes from the user record.
type SendRequest struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
	UserID   int64  `json:"user_id"`
}

type MarkReadRequest struct {
	UserID int64 `json:"user_id"`
}

type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

type UnreadCountResponse struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
}
