package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/store"
	"github.com/matheus3301/desk/internal/wire"
)

func conversationToWire(c store.Conversation) wire.Conversation {
	out := wire.Conversation{
		ID:            c.ID,
		DisplayName:   &c.DisplayName,
		LastMessage:   &c.LastMessage,
		TicketNumber:  &c.TicketNumber,
		Queue:         &c.Queue,
		Status:        &c.Status,
		Channel:       &c.Channel,
		UnreadCount:   c.Unread,
		LastCheckedMs: c.LastChecked,
	}
	if c.LastAt != 0 {
		out.LastAtMs = &c.LastAt
	}
	return out
}

func messageToWire(m store.Message) wire.Message {
	out := wire.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      m.Direction,
		Type:           m.Type,
		TimestampMs:    m.Timestamp,
		Status:         m.Status,
		ReplyTo:        m.ReplyTo,
		ClientID:       m.ClientID,
	}
	if m.Content != "" {
		out.Content = json.RawMessage(m.Content)
	}
	return out
}

func (h *Hub) listConversations(w http.ResponseWriter, _ *http.Request) {
	convs, err := h.db.ListConversations()
	if err != nil {
		h.storeError(w, "list conversations", err)
		return
	}
	out := make([]wire.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationToWire(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Hub) listMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.db.GetConversation(id); err != nil {
		h.storeError(w, "conversation", err)
		return
	}
	msgs, err := h.db.ListMessages(id)
	if err != nil {
		h.storeError(w, "list messages", err)
		return
	}
	out := make([]wire.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToWire(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// sendMessage stores an operator message. Resubmitting a client id returns the
// stored copy without broadcasting it again.
func (h *Hub) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req wire.SendRequest
	if !readJSON(w, r, &req) {
		return
	}
	conv, err := h.db.GetConversation(id)
	if err != nil {
		h.storeError(w, "conversation", err)
		return
	}
	if conv.Status == string(domain.StatusClosed) {
		writeError(w, http.StatusConflict, "conversation is closed")
		return
	}
	typ := req.Type
	if typ == "" {
		typ = string(domain.PayloadText)
	}
	payload := domain.ParsePayload(typ, req.Content)
	if payload.Empty() && req.AttachmentRef == "" {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}

	m := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: id,
		ClientID:       req.ClientID,
		Direction:      string(domain.Outbound),
		Type:           typ,
		Content:        string(req.Content),
		Status:         string(domain.Sent),
		ReplyTo:        req.ReplyTo,
		Timestamp:      time.Now().UnixMilli(),
	}
	stored, created, err := h.db.InsertMessage(m)
	if err != nil {
		h.storeError(w, "insert message", err)
		return
	}
	out := messageToWire(stored)
	if created {
		if err := h.db.TouchConversation(id, payload.Preview(), stored.Timestamp); err != nil {
			h.logger.Warn("touch conversation", zap.String("conversation_id", id), zap.Error(err))
		}
		h.broadcast(wire.EventNewMessage, out, "")
		h.logger.Info("operator message stored", zap.String("conversation_id", id), zap.String("message_id", stored.ID))
	}
	writeJSON(w, http.StatusCreated, out)
}

// inbound simulates an end user writing to a conversation, creating it if
// needed.
func (h *Hub) inbound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req wire.Inbound
	if !readJSON(w, r, &req) {
		return
	}
	payload := domain.ParsePayload(req.Type, req.Content)
	if payload.Empty() {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}
	ts := req.TimestampMs
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	typ := req.Type
	if typ == "" {
		typ = string(payload.Type)
	}

	err := h.db.UpsertConversation(&store.Conversation{
		ID:           id,
		DisplayName:  req.DisplayName,
		TicketNumber: req.TicketNumber,
		Queue:        req.Queue,
		Channel:      req.Channel,
		Status:       string(domain.StatusOpen),
		LastMessage:  payload.Preview(),
		LastAt:       ts,
	})
	if err != nil {
		h.storeError(w, "upsert conversation", err)
		return
	}
	stored, _, err := h.db.InsertMessage(&store.Message{
		ID:             uuid.NewString(),
		ConversationID: id,
		Direction:      string(domain.Inbound),
		Type:           typ,
		Content:        string(req.Content),
		Status:         string(domain.Delivered),
		Timestamp:      ts,
	})
	if err != nil {
		h.storeError(w, "insert message", err)
		return
	}
	if err := h.db.IncrementUnread(id); err != nil {
		h.logger.Warn("increment unread", zap.String("conversation_id", id), zap.Error(err))
	}
	out := messageToWire(stored)
	h.broadcast(wire.EventNewMessage, out, "")
	writeJSON(w, http.StatusCreated, out)
}

// updateStatus changes a message's delivery status and notifies the
// conversation room.
func (h *Hub) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req wire.StatusUpdate
	if !readJSON(w, r, &req) {
		return
	}
	if !domain.DeliveryState(req.Status).Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}
	m, err := h.db.UpdateMessageStatus(r.PathValue("id"), req.Status)
	if err != nil {
		h.storeError(w, "update status", err)
		return
	}
	out := messageToWire(*m)
	h.broadcast(wire.EventUpdateMessage, out, m.ConversationID)
	writeJSON(w, http.StatusOK, out)
}

func (h *Hub) putReadState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req wire.ReadState
	if !readJSON(w, r, &req) {
		return
	}
	if _, err := h.db.GetConversation(id); err != nil {
		h.storeError(w, "conversation", err)
		return
	}
	if err := h.db.PutReadState(store.ReadState{ConversationID: id, Counter: req.Counter, LastChecked: req.LastCheckedMs}); err != nil {
		h.storeError(w, "read state", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) closeConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.db.SetConversationStatus(id, string(domain.StatusClosed)); err != nil {
		h.storeError(w, "close conversation", err)
		return
	}
	h.logger.Info("conversation closed", zap.String("conversation_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) putPresence(w http.ResponseWriter, r *http.Request) {
	var req wire.Presence
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.db.SetPresence(h.opts.Agent, req.Online); err != nil {
		h.storeError(w, "presence", err)
		return
	}
	h.logger.Info("presence changed", zap.String("agent", h.opts.Agent), zap.Bool("online", req.Online))
	w.WriteHeader(http.StatusNoContent)
}
