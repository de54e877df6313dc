// Package wire holds the JSON shapes exchanged with the support backend, over
// REST and over the push socket, and their conversion to domain types.
package wire

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/desk/internal/domain"
)

// Push event names.
const (
	EventNewMessage    = "new_message"
	EventUpdateMessage = "update_message"
	EventJoinRoom      = "join_room"
	EventLeaveRoom     = "leave_room"
	EventHeartbeat     = "heartbeat"
	EventHeartbeatAck  = "heartbeat_ack"

	// Lifecycle events are synthesized by the client, never sent on the wire.
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Frame is one push socket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Room is the payload of join_room and leave_room.
type Room struct {
	ConversationID string `json:"conversation_id"`
}

// Lifecycle is the payload of the locally synthesized connection events.
type Lifecycle struct {
	Reason string `json:"reason,omitempty"`
}

// Message is the wire shape of a message.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Direction      string          `json:"direction"`
	Type           string          `json:"type,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
	TimestampMs    int64           `json:"timestamp"`
	Status         string          `json:"status,omitempty"`
	ReplyTo        string          `json:"reply_to,omitempty"`
	ClientID       string          `json:"client_id,omitempty"`
}

// Conversation is the wire shape of a conversation summary. Pointer fields are
// optional: a nil field means "not part of this update".
type Conversation struct {
	ID            string  `json:"id"`
	DisplayName   *string `json:"display_name,omitempty"`
	LastMessage   *string `json:"last_message,omitempty"`
	LastAtMs      *int64  `json:"last_at,omitempty"`
	TicketNumber  *string `json:"ticket_number,omitempty"`
	Queue         *string `json:"queue,omitempty"`
	Status        *string `json:"status,omitempty"`
	Channel       *string `json:"channel,omitempty"`
	UnreadCount   int     `json:"unread_count,omitempty"`
	LastCheckedMs int64   `json:"last_checked,omitempty"`
}

// ReadState is the body of a read-state upsert.
type ReadState struct {
	Counter       int   `json:"counter"`
	LastCheckedMs int64 `json:"last_checked"`
}

// SendRequest is the body of an outbound message submission.
type SendRequest struct {
	ClientID      string          `json:"client_id"`
	Type          string          `json:"type"`
	Content       json.RawMessage `json:"content"`
	AttachmentRef string          `json:"attachment_ref,omitempty"`
	ReplyTo       string          `json:"reply_to,omitempty"`
}

// Presence is the body of an operator presence update.
type Presence struct {
	Online bool `json:"online"`
}

// StatusUpdate is the body of a delivery status change posted to the hub.
type StatusUpdate struct {
	Status string `json:"status"`
}

// ToDomain converts a wire message, resolving its payload once. Fields the
// wire omits stay zero; callers holding a complete message apply
// domain.Message.WithDefaults.
func (m *Message) ToDomain() domain.Message {
	state := domain.DeliveryState(m.Status)
	if !state.Valid() {
		state = ""
	}
	var dir domain.Direction
	switch m.Direction {
	case "":
	case string(domain.Outbound):
		dir = domain.Outbound
	default:
		dir = domain.Inbound
	}
	var ts time.Time
	if m.TimestampMs != 0 {
		ts = time.UnixMilli(m.TimestampMs)
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      dir,
		Payload:        domain.ParsePayload(m.Type, m.Content),
		Timestamp:      ts,
		State:          state,
		ReplyToID:      m.ReplyTo,
		ClientID:       m.ClientID,
	}
}

// Patch converts a conversation summary into a partial update.
func (c *Conversation) Patch() domain.ConversationPatch {
	p := domain.ConversationPatch{
		DisplayName:  c.DisplayName,
		LastSnippet:  c.LastMessage,
		TicketNumber: c.TicketNumber,
		Queue:        c.Queue,
		Channel:      c.Channel,
	}
	if c.LastAtMs != nil {
		at := time.UnixMilli(*c.LastAtMs)
		p.LastAt = &at
	}
	if c.Status != nil {
		st := domain.ConversationStatus(*c.Status)
		p.Status = &st
	}
	return p
}

// LastChecked returns the read-state instant carried by the summary.
func (c *Conversation) LastChecked() time.Time {
	if c.LastCheckedMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.LastCheckedMs)
}

// FromConversation converts a domain conversation to its wire shape.
func FromConversation(c domain.Conversation, unread int, lastChecked time.Time) Conversation {
	st := string(c.Status)
	out := Conversation{
		ID:           c.ID,
		DisplayName:  &c.DisplayName,
		LastMessage:  &c.LastSnippet,
		TicketNumber: &c.TicketNumber,
		Queue:        &c.Queue,
		Status:       &st,
		Channel:      &c.Channel,
		UnreadCount:  unread,
	}
	if !c.LastAt.IsZero() {
		ms := c.LastAt.UnixMilli()
		out.LastAtMs = &ms
	}
	if !lastChecked.IsZero() {
		out.LastCheckedMs = lastChecked.UnixMilli()
	}
	return out
}

// FromDomain converts a domain message to its wire shape.
func FromDomain(m domain.Message) Message {
	content, _ := json.Marshal(m.Payload)
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      string(m.Direction),
		Type:           string(m.Payload.Type),
		Content:        content,
		TimestampMs:    m.Timestamp.UnixMilli(),
		Status:         string(m.State),
		ReplyTo:        m.ReplyToID,
		ClientID:       m.ClientID,
	}
}

// Encode builds a frame for the given event and payload.
func Encode(event string, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Data = data
	}
	return json.Marshal(f)
}

// Decode parses a frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// Inbound is the body of the hub's end-user simulation endpoint.
type Inbound struct {
	DisplayName  string          `json:"display_name,omitempty"`
	TicketNumber string          `json:"ticket_number,omitempty"`
	Queue        string          `json:"queue,omitempty"`
	Channel      string          `json:"channel,omitempty"`
	Type         string          `json:"type,omitempty"`
	Content      json.RawMessage `json:"content"`
	TimestampMs  int64           `json:"timestamp,omitempty"`
}
