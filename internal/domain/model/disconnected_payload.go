package model

// DisconnectedPayload is sent before the server drops a live connection.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"` // "SHUTDOWN", "REPLACED"
}
