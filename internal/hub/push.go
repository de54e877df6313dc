package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/wire"
)

const (
	clientBuffer = 256
	readLimit    = 1 << 20
	writeTimeout = 5 * time.Second
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	rooms  map[string]struct{} // guarded by Hub.mu
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("push client connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.logger.Debug("push client gone", zap.String("remote", r.RemoteAddr))
	}()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer c.cancel()
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		f, err := wire.Decode(data)
		if err != nil {
			h.logger.Debug("bad frame", zap.Error(err))
			continue
		}
		switch f.Event {
		case wire.EventJoinRoom, wire.EventLeaveRoom:
			var room wire.Room
			if err := json.Unmarshal(f.Data, &room); err != nil || room.ConversationID == "" {
				continue
			}
			h.mu.Lock()
			if f.Event == wire.EventJoinRoom {
				c.rooms[room.ConversationID] = struct{}{}
			} else {
				delete(c.rooms, room.ConversationID)
			}
			h.mu.Unlock()
		case wire.EventHeartbeat:
			if data, err := wire.Encode(wire.EventHeartbeatAck, nil); err == nil {
				c.enqueue(data)
			}
		default:
			h.logger.Debug("unknown client event", zap.String("event", f.Event))
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "") }()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

// enqueue drops the frame for a client that cannot keep up.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// broadcast sends a frame to every client, or only to members of room when it
// is not empty.
func (h *Hub) broadcast(event string, payload any, room string) {
	data, err := wire.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if room != "" {
			if _, ok := c.rooms[room]; !ok {
				continue
			}
		}
		c.enqueue(data)
	}
}

// members counts the clients in a room.
func (h *Hub) members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if _, ok := c.rooms[room]; ok {
			n++
		}
	}
	return n
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
