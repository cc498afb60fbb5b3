package event

type EventKind int16

const (
	Connected           EventKind = iota + 1 // [SYSTEM]
	MessageCreated                           // [BUSINESS]
	NotificationCreated                      // [BUSINESS]
	Disconnected                             // [SYSTEM]
)

// String returns the wire name used in socket envelopes and bus payloads.
func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case MessageCreated:
		return "new_message"
	case NotificationCreated:
		return "notification"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

type EventPriority int32

const (
	PriorityLow    EventPriority = 10
	PriorityNormal EventPriority = 20
	PriorityHigh   EventPriority = 30
)

// Eventer defines the contract for all data packets flowing through the Hub.
type Eventer interface {
	GetID() string
	GetKind() EventKind
	GetUserID() int64 // recipient
	GetPriority() EventPriority
	GetOccurredAt() int64
	GetPayload() any
}

// Exportable defines an event that should be re-published to the message bus.
type Exportable interface {
	// An empty key means the event stays local.
	GetRoutingKey() string
}
