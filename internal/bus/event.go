package bus

import "time"

// Event kinds published by the engine components.
const (
	KindTransportState       = "transport.state_changed"
	KindMessageUpserted      = "message.upserted"
	KindMessageSendFailed    = "message.send_failed"
	KindConversationUpdated  = "conversation.updated"
	KindConversationRemoved  = "conversation.removed"
	KindConversationFetchErr = "conversation.fetch_failed"
	KindUnreadChanged        = "unread.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
	// Missed counts events this subscriber lost to a full buffer since the
	// previous delivery.
	Missed int64
}
