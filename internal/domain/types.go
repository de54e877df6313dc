package domain

import "time"

// Direction tells whether a message came from the end user or from the console side.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DeliveryState is the delivery lifecycle of a message.
type DeliveryState string

const (
	Pending   DeliveryState = "pending"
	Sent      DeliveryState = "sent"
	Delivered DeliveryState = "delivered"
	Error     DeliveryState = "error"
)

func (s DeliveryState) rank() int {
	switch s {
	case Pending:
		return 0
	case Error:
		return 1
	case Sent:
		return 2
	case Delivered:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known delivery state.
func (s DeliveryState) Valid() bool {
	return s.rank() >= 0
}

// CanAdvance reports whether moving from s to next is a forward transition.
func (s DeliveryState) CanAdvance(next DeliveryState) bool {
	return next.rank() > s.rank()
}

// Merge returns the furthest of s and other. An unknown state never wins.
func (s DeliveryState) Merge(other DeliveryState) DeliveryState {
	if s.CanAdvance(other) {
		return other
	}
	if !s.Valid() {
		return other
	}
	return s
}

// ConversationStatus is the ticket status of a conversation.
type ConversationStatus string

const (
	StatusOpen   ConversationStatus = "open"
	StatusClosed ConversationStatus = "closed"
)

// Conversation is the summary of one end-user thread.
type Conversation struct {
	ID           string
	DisplayName  string
	LastSnippet  string
	LastAt       time.Time
	TicketNumber string
	Queue        string
	Status       ConversationStatus
	Channel      string
}

// Message is a single entry of a conversation.
type Message struct {
	ID             string
	ConversationID string
	Direction      Direction
	Payload        Payload
	Timestamp      time.Time
	State          DeliveryState
	ReplyToID      string

	// ClientID is the temporary id a provisional message was created with.
	// The backend echoes it on the confirmed copy when it can.
	ClientID string

	// Seq is the arrival sequence assigned by the message cache.
	Seq uint64
}

// Provisional reports whether the message is a locally created entry that
// has not been replaced by a server copy yet.
func (m *Message) Provisional() bool {
	return m.ClientID != "" && m.ID == m.ClientID
}

// WithDefaults fills the direction and delivery state a complete message must
// carry. Partial updates are stored without it so missing fields never
// overwrite known ones.
func (m Message) WithDefaults() Message {
	if m.Direction == "" {
		m.Direction = Inbound
	}
	if !m.State.Valid() {
		m.State = Sent
		if m.Direction == Inbound {
			m.State = Delivered
		}
	}
	return m
}

// Snippet returns a short single-line preview of the message.
func (m *Message) Snippet() string {
	return truncate(m.Payload.Preview(), 100)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}

// ConversationPatch is a partial conversation update. Nil fields are absent
// and never erase stored values.
type ConversationPatch struct {
	DisplayName  *string
	LastSnippet  *string
	LastAt       *time.Time
	TicketNumber *string
	Queue        *string
	Status       *ConversationStatus
	Channel      *string
}

// Apply merges the non-nil fields of p into c.
func (p ConversationPatch) Apply(c *Conversation) {
	if p.DisplayName != nil {
		c.DisplayName = *p.DisplayName
	}
	if p.LastSnippet != nil {
		c.LastSnippet = *p.LastSnippet
	}
	if p.LastAt != nil {
		c.LastAt = *p.LastAt
	}
	if p.TicketNumber != nil {
		c.TicketNumber = *p.TicketNumber
	}
	if p.Queue != nil {
		c.Queue = *p.Queue
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Channel != nil {
		c.Channel = *p.Channel
	}
}
