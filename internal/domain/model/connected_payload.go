package model

// ConnectedPayload is the first frame a live connection receives after registration.
type ConnectedPayload struct {
	Ok           bool   `json:"ok"`
	ConnectionID string `json:"connection_id"`
	UserID       int64  `json:"user_id"`
}
