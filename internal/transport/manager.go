// Package transport maintains the push connection to the support backend:
// connection lifecycle, room membership, heartbeat and event dispatch.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/status"
	"github.com/matheus3301/desk/internal/wire"
)

const (
	// DefaultHeartbeat is the keep-alive interval while online.
	DefaultHeartbeat = 25 * time.Second

	readLimit    = 1 << 20
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

// Handler receives the data of one push event.
type Handler func(data json.RawMessage)

// Subscription identifies one registered handler.
type Subscription struct {
	ID    uint64
	Event string
}

// Options configures a Manager.
type Options struct {
	URL         string
	Token       string
	Heartbeat   time.Duration
	DialTimeout time.Duration
}

// Manager owns the single push connection.
type Manager struct {
	opts    Options
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	send   chan []byte
	epoch  uint64
	rooms  map[string]struct{}
	// dialFailed is set while consecutive Connect calls keep failing.
	dialFailed bool

	hmu      sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextSub  uint64

	wg sync.WaitGroup
}

// New creates a manager in the DISCONNECTED state.
func New(opts Options, machine *status.Machine, logger *zap.Logger) *Manager {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opts:     opts,
		machine:  machine,
		logger:   logger.Named("transport"),
		rooms:    make(map[string]struct{}),
		handlers: make(map[string]map[uint64]Handler),
	}
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// On registers a handler for a push or lifecycle event.
func (m *Manager) On(event string, h Handler) Subscription {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.nextSub++
	sub := Subscription{ID: m.nextSub, Event: event}
	hs, ok := m.handlers[event]
	if !ok {
		hs = make(map[uint64]Handler)
		m.handlers[event] = hs
	}
	hs[sub.ID] = h
	return sub
}

// Off removes exactly the handler registered by sub.
func (m *Manager) Off(sub Subscription) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	if hs, ok := m.handlers[sub.Event]; ok {
		delete(hs, sub.ID)
		if len(hs) == 0 {
			delete(m.handlers, sub.Event)
		}
	}
}

// Connect dials the push endpoint. It is a no-op while CONNECTING or ONLINE.
// A dial failure moves to OFFLINE and emits connect_error; further failures
// before the next successful connect or Disconnect are only logged.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.machine.TransitionFrom(status.Connecting, status.Disconnected, status.Offline) {
		return nil
	}

	dialCtx := ctx
	if m.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.opts.DialTimeout)
		defer cancel()
	}
	header := http.Header{}
	if m.opts.Token != "" {
		header.Set("Authorization", "Bearer "+m.opts.Token)
	}
	conn, _, err := websocket.Dial(dialCtx, m.opts.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		terr := &domain.TransportError{Op: "connect", Err: err}
		if m.machine.TransitionFrom(status.Offline, status.Connecting) {
			m.mu.Lock()
			repeated := m.dialFailed
			m.dialFailed = true
			m.mu.Unlock()
			if repeated {
				m.logger.Debug("push connect failed again", zap.Error(terr))
			} else {
				m.logger.Warn("push connect failed", zap.Error(terr))
				m.dispatch(wire.EventConnectError, lifecycle(err.Error()))
			}
		}
		return terr
	}
	conn.SetReadLimit(readLimit)

	m.mu.Lock()
	if m.machine.Current() != status.Connecting {
		// Disconnect raced the dial.
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil
	}
	connCtx, cancel := context.WithCancel(context.Background())
	m.dialFailed = false
	m.epoch++
	epoch := m.epoch
	m.conn = conn
	m.cancel = cancel
	m.send = make(chan []byte, sendBuffer)
	send := m.send
	m.mu.Unlock()

	m.wg.Add(3)
	go m.readLoop(connCtx, epoch, conn)
	go m.writeLoop(connCtx, epoch, conn, send)
	go m.heartbeat(connCtx)

	if !m.machine.TransitionFrom(status.Online, status.Connecting) {
		return nil
	}
	m.logger.Info("push connected", zap.String("url", m.opts.URL))
	for _, id := range m.Rooms() {
		m.enqueue(wire.EventJoinRoom, wire.Room{ConversationID: id})
	}
	m.dispatch(wire.EventConnect, nil)
	return nil
}

// Disconnect closes the connection and moves to DISCONNECTED.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn, cancel := m.detachLocked()
	m.dialFailed = false
	m.mu.Unlock()
	closeConn(conn, cancel)
	if m.machine.TransitionFrom(status.Disconnected, status.Connecting, status.Online, status.Offline) {
		m.logger.Info("push disconnected")
	}
}

// Close disconnects and waits for the connection goroutines to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// JoinRoom records membership of a conversation room and joins it when online.
// Desired rooms are joined again after every reconnect.
func (m *Manager) JoinRoom(conversationID string) {
	m.mu.Lock()
	m.rooms[conversationID] = struct{}{}
	m.mu.Unlock()
	if m.State() == status.Online {
		m.enqueue(wire.EventJoinRoom, wire.Room{ConversationID: conversationID})
	}
}

// LeaveRoom drops membership of a conversation room.
func (m *Manager) LeaveRoom(conversationID string) {
	m.mu.Lock()
	delete(m.rooms, conversationID)
	m.mu.Unlock()
	if m.State() == status.Online {
		m.enqueue(wire.EventLeaveRoom, wire.Room{ConversationID: conversationID})
	}
}

// Rooms returns the desired room membership, sorted.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) readLoop(ctx context.Context, epoch uint64, conn *websocket.Conn) {
	defer m.wg.Done()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			m.drop(epoch, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		f, err := wire.Decode(data)
		if err != nil {
			m.logger.Warn("malformed push frame", zap.Error(err))
			continue
		}
		switch f.Event {
		case wire.EventHeartbeatAck:
			// Liveness only; subscribers may watch it, the state stays.
			m.logger.Debug("heartbeat acknowledged")
		case wire.EventConnect, wire.EventDisconnect, wire.EventConnectError:
			// Lifecycle events are local only.
			continue
		}
		m.dispatch(f.Event, f.Data)
	}
}

func (m *Manager) writeLoop(ctx context.Context, epoch uint64, conn *websocket.Conn, send <-chan []byte) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				m.drop(epoch, err)
				return
			}
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() == status.Online {
				m.enqueue(wire.EventHeartbeat, nil)
			}
		}
	}
}

// drop handles a broken connection. Errors from a connection that was already
// replaced or torn down are ignored.
func (m *Manager) drop(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn, cancel := m.detachLocked()
	m.mu.Unlock()
	go closeConn(conn, cancel)

	if !m.machine.TransitionFrom(status.Offline, status.Online, status.Connecting) {
		return
	}
	reason := "connection lost"
	if errors.Is(err, context.Canceled) {
		reason = "connection closed"
	} else if s := websocket.CloseStatus(err); s != -1 {
		reason = fmt.Sprintf("closed by server: %s", s)
	}
	m.logger.Warn("push connection dropped", zap.Error(&domain.TransportError{Op: "read", Err: err}))
	m.dispatch(wire.EventDisconnect, lifecycle(reason))
}

// detachLocked must be called with mu held.
func (m *Manager) detachLocked() (*websocket.Conn, context.CancelFunc) {
	conn, cancel := m.conn, m.cancel
	m.conn = nil
	m.cancel = nil
	m.send = nil
	return conn, cancel
}

func closeConn(conn *websocket.Conn, cancel context.CancelFunc) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) enqueue(event string, payload any) {
	data, err := wire.Encode(event, payload)
	if err != nil {
		m.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.send == nil {
		return
	}
	select {
	case m.send <- data:
	default:
		m.logger.Warn("send buffer full, dropping frame", zap.String("event", event))
	}
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.hmu.RLock()
	hs := m.handlers[event]
	ids := make([]uint64, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Handler, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, hs[id])
	}
	m.hmu.RUnlock()

	for _, fn := range fns {
		fn(data)
	}
}

func lifecycle(reason string) json.RawMessage {
	data, _ := json.Marshal(wire.Lifecycle{Reason: reason})
	return data
}
