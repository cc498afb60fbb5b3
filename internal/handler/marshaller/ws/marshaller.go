package wsmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-chat-delivery/internal/domain/event"
)

// Envelope is the shape of every frame the server writes: {"type": ..., "data": ...}.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// MarshallDeliveryEvent prepares data for WebSocket transmission.
func MarshallDeliveryEvent(ev event.Eventer) ([]byte, error) {
	return json.Marshal(Envelope{
		Type: ev.GetKind().String(),
		Data: ev.GetPayload(),
	})
}

func MarshallError(message string) ([]byte, error) {
	return json.Marshal(Envelope{
		Type: FrameError,
		Data: map[string]string{"error": message},
	})
}
