package api

import (
	"github.com/matheus3301/desk/internal/domain"
	intsync "github.com/matheus3301/desk/internal/sync"
)

type Empty struct{}

type GetStatusRequest struct{}

type StatusResponse struct {
	Profile            string `json:"profile"`
	State              string `json:"state"`
	ActiveConversation string `json:"active_conversation,omitempty"`
	Conversations      int    `json:"conversations"`
	Unread             int    `json:"unread"`
	PendingSends       int    `json:"pending_sends"`
	UptimeMs           int64  `json:"uptime_ms"`
}

type ListConversationsRequest struct{}

type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type Conversation struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name,omitempty"`
	LastSnippet  string `json:"last_snippet,omitempty"`
	LastAtMs     int64  `json:"last_at,omitempty"`
	TicketNumber string `json:"ticket_number,omitempty"`
	Queue        string `json:"queue,omitempty"`
	Status       string `json:"status,omitempty"`
	Channel      string `json:"channel,omitempty"`
	Unread       int    `json:"unread"`
	Active       bool   `json:"active,omitempty"`
}

// ConversationRequest addresses one conversation. An empty id means the
// active conversation where the method allows it.
type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type WindowResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Pages          int       `json:"pages"`
	HasMore        bool      `json:"has_more"`
	Total          int       `json:"total"`
	Loading        bool      `json:"loading,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Direction      string         `json:"direction"`
	Payload        domain.Payload `json:"payload"`
	Preview        string         `json:"preview"`
	TimestampMs    int64          `json:"timestamp"`
	State          string         `json:"state"`
	ReplyTo        string         `json:"reply_to,omitempty"`
	ClientID       string         `json:"client_id,omitempty"`
}

type SubmitMessageRequest struct {
	Text          string `json:"text"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`
}

type RetryMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type MessageResponse struct {
	Message Message `json:"message"`
}

type ConnectionResponse struct {
	State string `json:"state"`
}

type WatchEventsRequest struct {
	// Prefix filters event kinds, for example "message." or "unread.".
	Prefix string `json:"prefix,omitempty"`
}

type Event struct {
	Kind        string            `json:"kind"`
	TimestampMs int64             `json:"timestamp"`
	Data        map[string]string `json:"data,omitempty"`
	// Missed is how many events the daemon dropped for this stream before
	// this one; a client seeing it non-zero should reload everything.
	Missed int64 `json:"missed,omitempty"`
}

func messageToAPI(m domain.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      string(m.Direction),
		Payload:        m.Payload,
		Preview:        m.Payload.Preview(),
		TimestampMs:    m.Timestamp.UnixMilli(),
		State:          string(m.State),
		ReplyTo:        m.ReplyToID,
		ClientID:       m.ClientID,
	}
}

func conversationToAPI(s intsync.Summary) Conversation {
	c := Conversation{
		ID:           s.ID,
		DisplayName:  s.DisplayName,
		LastSnippet:  s.LastSnippet,
		TicketNumber: s.TicketNumber,
		Queue:        s.Queue,
		Status:       string(s.Status),
		Channel:      s.Channel,
		Unread:       s.Unread,
		Active:       s.Active,
	}
	if !s.LastAt.IsZero() {
		c.LastAtMs = s.LastAt.UnixMilli()
	}
	return c
}

func windowToAPI(id string, v intsync.View) *WindowResponse {
	out := &WindowResponse{
		ConversationID: id,
		Messages:       make([]Message, 0, len(v.Window.Messages)),
		Pages:          v.Window.Pages,
		HasMore:        v.Window.HasMore,
		Total:          v.Window.Total,
		Loading:        v.Loading,
	}
	for _, m := range v.Window.Messages {
		out.Messages = append(out.Messages, messageToAPI(m))
	}
	if v.Err != nil {
		out.Error = v.Err.Error()
	}
	return out
}
