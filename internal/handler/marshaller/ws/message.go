package wsmarshaller

import (
	"encoding/json"
	"fmt"
)

const (
	FrameConnect    = "connect"
	FrameNewMessage = "new_message"
	FrameError      = "error"

	// FramePrivateMessage is the older name of FrameNewMessage, still sent by some clients.
	FramePrivateMessage = "private_message"
)

// Frame is any client frame. Connect frames carry UserID, the rest carry Data.
type Frame struct {
	Type   string          `json:"type"`
	UserID int64           `json:"user_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// PrivateMessage is the data of a new_message frame.
type PrivateMessage struct {
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content"`
}

func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func (f Frame) PrivateMessage() (PrivateMessage, error) {
	var m PrivateMessage
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return PrivateMessage{}, fmt.Errorf("decode %s data: %w", f.Type, err)
	}
	return m, nil
}
