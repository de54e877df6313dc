package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/status"
	"github.com/matheus3301/desk/internal/wire"
)

const waitFor = 2 * time.Second

type fakeHub struct {
	srv    *httptest.Server
	frames chan wire.Frame
	conns  chan *websocket.Conn
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{
		frames: make(chan wire.Frame, 64),
		conns:  make(chan *websocket.Conn, 4),
	}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- c
		for {
			_, data, err := c.Read(context.Background())
			if err != nil {
				return
			}
			f, err := wire.Decode(data)
			if err == nil {
				h.frames <- f
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
}

func (h *fakeHub) nextFrame(t *testing.T, event string) wire.Frame {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case f := <-h.frames:
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s frame", event)
		}
	}
}

func (h *fakeHub) push(t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := wire.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, c.Write(context.Background(), websocket.MessageText, data))
}

func newManager(t *testing.T, url, token string) *Manager {
	t.Helper()
	m := New(Options{URL: url, Token: token, DialTimeout: time.Second}, status.NewMachine(bus.New()), nil)
	t.Cleanup(m.Close)
	return m
}

func TestConnectAndDispatch(t *testing.T) {
	h := newFakeHub(t)
	m := newManager(t, h.url(), "secret")

	var connects atomic.Int32
	m.On(wire.EventConnect, func(json.RawMessage) { connects.Add(1) })
	got := make(chan wire.Message, 1)
	m.On(wire.EventNewMessage, func(data json.RawMessage) {
		var msg wire.Message
		if json.Unmarshal(data, &msg) == nil {
			got <- msg
		}
	})

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, status.Online, m.State())
	assert.Equal(t, int32(1), connects.Load())

	// Idempotent while online.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(1), connects.Load())

	conn := <-h.conns
	h.push(t, conn, wire.EventNewMessage, wire.Message{ID: "m1", ConversationID: "c1"})
	select {
	case msg := <-got:
		assert.Equal(t, "m1", msg.ID)
	case <-time.After(waitFor):
		t.Fatal("new_message not dispatched")
	}
}

func TestRoomsReplayedOnConnect(t *testing.T) {
	h := newFakeHub(t)
	m := newManager(t, h.url(), "secret")

	m.JoinRoom("c1")
	m.JoinRoom("c2")
	m.LeaveRoom("c2")
	assert.Equal(t, []string{"c1"}, m.Rooms())

	require.NoError(t, m.Connect(context.Background()))
	f := h.nextFrame(t, wire.EventJoinRoom)
	var room wire.Room
	require.NoError(t, json.Unmarshal(f.Data, &room))
	assert.Equal(t, "c1", room.ConversationID)

	m.LeaveRoom("c1")
	f = h.nextFrame(t, wire.EventLeaveRoom)
	require.NoError(t, json.Unmarshal(f.Data, &room))
	assert.Equal(t, "c1", room.ConversationID)
	assert.Empty(t, m.Rooms())
}

func TestDialFailureGoesOffline(t *testing.T) {
	h := newFakeHub(t)
	m := newManager(t, h.url(), "wrong")

	var errs atomic.Int32
	m.On(wire.EventConnectError, func(json.RawMessage) { errs.Add(1) })

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.Offline, m.State())
	assert.Equal(t, int32(1), errs.Load())

	// An explicit retry attempts again but the failure is not reported twice.
	require.Error(t, m.Connect(context.Background()))
	assert.Equal(t, status.Offline, m.State())
	assert.Equal(t, int32(1), errs.Load())

	// After an explicit disconnect the next failure is a new transition.
	m.Disconnect()
	require.Error(t, m.Connect(context.Background()))
	assert.Equal(t, int32(2), errs.Load())
}

func TestServerDropGoesOffline(t *testing.T) {
	h := newFakeHub(t)
	m := newManager(t, h.url(), "secret")

	dropped := make(chan string, 1)
	m.On(wire.EventDisconnect, func(data json.RawMessage) {
		var l wire.Lifecycle
		_ = json.Unmarshal(data, &l)
		dropped <- l.Reason
	})

	require.NoError(t, m.Connect(context.Background()))
	conn := <-h.conns
	_ = conn.CloseNow()

	select {
	case <-dropped:
	case <-time.After(waitFor):
		t.Fatal("disconnect not dispatched")
	}
	assert.Equal(t, status.Offline, m.State())

	// Explicit reconnect recovers.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, status.Online, m.State())
}

func TestDisconnectIsQuiet(t *testing.T) {
	h := newFakeHub(t)
	m := newManager(t, h.url(), "secret")

	var drops atomic.Int32
	m.On(wire.EventDisconnect, func(json.RawMessage) { drops.Add(1) })

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	assert.Equal(t, status.Disconnected, m.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), drops.Load())

	// Leaves while disconnected only update the desired set.
	m.JoinRoom("c1")
	assert.Equal(t, []string{"c1"}, m.Rooms())
}

func TestHeartbeat(t *testing.T) {
	h := newFakeHub(t)
	m := New(Options{URL: h.url(), Token: "secret", Heartbeat: 20 * time.Millisecond}, status.NewMachine(nil), nil)
	t.Cleanup(m.Close)

	require.NoError(t, m.Connect(context.Background()))
	h.nextFrame(t, wire.EventHeartbeat)
}

func TestHeartbeatAckDispatched(t *testing.T) {
	h := newFakeHub(t)
	m := newManager(t, h.url(), "secret")

	acks := make(chan struct{}, 1)
	m.On(wire.EventHeartbeatAck, func(json.RawMessage) { acks <- struct{}{} })

	require.NoError(t, m.Connect(context.Background()))
	conn := <-h.conns
	h.push(t, conn, wire.EventHeartbeatAck, nil)

	select {
	case <-acks:
	case <-time.After(waitFor):
		t.Fatal("heartbeat_ack not dispatched")
	}
	assert.Equal(t, status.Online, m.State())
}

func TestOffRemovesOnlyThatHandler(t *testing.T) {
	m := New(Options{}, status.NewMachine(nil), nil)

	var mu sync.Mutex
	var calls []string
	a := m.On("x", func(json.RawMessage) { mu.Lock(); calls = append(calls, "a"); mu.Unlock() })
	m.On("x", func(json.RawMessage) { mu.Lock(); calls = append(calls, "b"); mu.Unlock() })

	m.dispatch("x", nil)
	m.Off(a)
	m.Off(a)
	m.dispatch("x", nil)

	assert.Equal(t, []string{"a", "b", "b"}, calls)
}
