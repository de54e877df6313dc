package sync

import (
	"context"
	"encoding/json"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/outbox"
	"github.com/matheus3301/desk/internal/status"
	"github.com/matheus3301/desk/internal/transport"
	"github.com/matheus3301/desk/internal/wire"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu       stdsync.Mutex
	convs    []wire.Conversation
	history  map[string][]domain.Message
	gates    map[string]chan struct{}
	fetchErr map[string]error
	sendErr  error
	fetches  map[string]int
	closed   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history:  make(map[string][]domain.Message),
		gates:    make(map[string]chan struct{}),
		fetchErr: make(map[string]error),
		fetches:  make(map[string]int),
	}
}

func (f *fakeBackend) ListConversations(context.Context) ([]wire.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs, nil
}

func (f *fakeBackend) FetchMessages(_ context.Context, id string) ([]domain.Message, error) {
	f.mu.Lock()
	gate := f.gates[id]
	f.fetches[id]++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	return f.history[id], nil
}

func (f *fakeBackend) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

func (f *fakeBackend) CloseConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeBackend) SendMessage(_ context.Context, id string, req wire.SendRequest) (domain.Message, error) {
	f.mu.Lock()
	gate := f.gates["send"]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return domain.Message{}, f.sendErr
	}
	return domain.Message{ID: "srv-" + req.ClientID, ConversationID: id, State: domain.Sent}, nil
}

func (f *fakeBackend) PersistReadState(context.Context, string, int, time.Time) error { return nil }
func (f *fakeBackend) SetPresence(context.Context, bool) error                        { return nil }

// fakeTransport dispatches events synchronously to registered handlers.
type fakeTransport struct {
	mu       stdsync.Mutex
	next     int
	handlers map[string]map[int]transport.Handler
	subs     map[transport.Subscription]int
	rooms    map[string]bool
	state    status.State
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]map[int]transport.Handler),
		subs:     make(map[transport.Subscription]int),
		rooms:    make(map[string]bool),
		state:    status.Disconnected,
	}
}

func (f *fakeTransport) On(event string, h transport.Handler) transport.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]transport.Handler)
	}
	f.handlers[event][f.next] = h
	sub := transport.Subscription{ID: uint64(f.next), Event: event}
	f.subs[sub] = f.next
	return sub
}

func (f *fakeTransport) Off(sub transport.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.subs[sub]
	if !ok {
		return
	}
	delete(f.subs, sub)
	for _, hs := range f.handlers {
		delete(hs, id)
	}
}

func (f *fakeTransport) Dispatch(event string, data json.RawMessage) {
	f.mu.Lock()
	var fns []transport.Handler
	for _, h := range f.handlers[event] {
		fns = append(fns, h)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	f.state = status.Online
	f.mu.Unlock()
	f.Dispatch(wire.EventConnect, nil)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.state = status.Disconnected
	f.mu.Unlock()
}

func (f *fakeTransport) State() status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) JoinRoom(id string) {
	f.mu.Lock()
	f.rooms[id] = true
	f.mu.Unlock()
}

func (f *fakeTransport) LeaveRoom(id string) {
	f.mu.Lock()
	delete(f.rooms, id)
	f.mu.Unlock()
}

func (f *fakeTransport) Rooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.rooms {
		out = append(out, id)
	}
	return out
}

type harness struct {
	e       *Engine
	backend *fakeBackend
	tr      *fakeTransport
	bus     *bus.Bus
}

func newHarness(t *testing.T, convIDs ...string) *harness {
	t.Helper()
	fb := newFakeBackend()
	for _, id := range convIDs {
		fb.convs = append(fb.convs, wire.Conversation{ID: id})
	}
	tr := newFakeTransport()
	b := bus.New()
	e := NewEngine(Options{PageSize: 10}, fb, tr, b, nil)
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	require.Eventually(t, func() bool { return e.dir.Len() == len(convIDs) }, time.Second, 5*time.Millisecond)
	return &harness{e: e, backend: fb, tr: tr, bus: b}
}

// push delivers a frame the way the transport read loop would.
func (h *harness) push(t *testing.T, event string, m wire.Message) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	h.e.enqueue(context.Background(), event)(data)
	h.e.flush()
}

func inboundWire(conv, id string, sec int64) wire.Message {
	return wire.Message{
		ID:             id,
		ConversationID: conv,
		Direction:      "inbound",
		Type:           "text",
		Content:        json.RawMessage(`"msg ` + id + `"`),
		TimestampMs:    t0.Add(time.Duration(sec) * time.Second).UnixMilli(),
	}
}

func history(conv string, n int) []domain.Message {
	out := make([]domain.Message, 0, n)
	for i := range n {
		out = append(out, domain.Message{
			ID:             conv + "-h" + string(rune('a'+i)),
			ConversationID: conv,
			Direction:      domain.Inbound,
			Payload:        domain.TextPayload("old"),
			Timestamp:      t0.Add(-time.Duration(n-i) * time.Minute),
			State:          domain.Delivered,
		})
	}
	return out
}

func (h *harness) selectAndWait(t *testing.T, id string) View {
	t.Helper()
	_, err := h.e.SelectConversation(context.Background(), id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !h.e.View(id).Loading }, time.Second, 5*time.Millisecond)
	return h.e.View(id)
}

func TestBootstrapSeedsDirectoryAndUnread(t *testing.T) {
	fb := newFakeBackend()
	name := "Ana"
	at := t0.UnixMilli()
	fb.convs = []wire.Conversation{
		{ID: "c1", DisplayName: &name, LastAtMs: &at, UnreadCount: 2},
		{ID: "c2", UnreadCount: 0},
	}
	e := NewEngine(Options{}, fb, newFakeTransport(), bus.New(), nil)
	require.NoError(t, e.Bootstrap(context.Background()))

	list := e.Conversations()
	require.Len(t, list, 2)
	assert.Equal(t, "c1", list[0].ID)
	assert.Equal(t, "Ana", list[0].DisplayName)
	assert.Equal(t, 2, list[0].Unread)
}

func TestInboundPushCountsUnreadOnce(t *testing.T) {
	h := newHarness(t, "active", "other")
	h.selectAndWait(t, "active")

	h.push(t, wire.EventNewMessage, inboundWire("other", "m1", 1))
	h.push(t, wire.EventNewMessage, inboundWire("other", "m1", 1))
	h.push(t, wire.EventNewMessage, inboundWire("active", "m2", 2))

	assert.Equal(t, 1, h.e.tracker.Count("other"))
	assert.Equal(t, 0, h.e.tracker.Count("active"))

	v := h.e.View("active")
	require.Len(t, v.Window.Messages, 1)
	assert.Equal(t, "msg m2", v.Window.Messages[0].Payload.Text)

	// Selecting zeroes the counter.
	h.selectAndWait(t, "other")
	assert.Equal(t, 0, h.e.tracker.Count("other"))
}

func TestPushForUnknownConversationAddsIt(t *testing.T) {
	h := newHarness(t)
	h.push(t, wire.EventNewMessage, inboundWire("fresh", "m1", 1))

	c, ok := h.e.dir.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, "msg m1", c.LastSnippet)
	assert.Equal(t, 1, h.e.tracker.Count("fresh"))
}

func TestUpdateBeforeInsert(t *testing.T) {
	h := newHarness(t, "c1")
	h.selectAndWait(t, "c1")

	update := inboundWire("c1", "5", 5)
	update.Direction = "outbound"
	update.Status = "delivered"
	insert := update
	insert.Status = "sent"

	h.push(t, wire.EventUpdateMessage, update)
	h.push(t, wire.EventNewMessage, insert)

	v := h.e.View("c1")
	require.Len(t, v.Window.Messages, 1)
	assert.Equal(t, "5", v.Window.Messages[0].ID)
	assert.Equal(t, domain.Delivered, v.Window.Messages[0].State)
}

func TestUpdateForUnknownInboundCountsUnread(t *testing.T) {
	h := newHarness(t, "c1")
	h.push(t, wire.EventUpdateMessage, inboundWire("c1", "x", 1))
	assert.Equal(t, 1, h.e.tracker.Count("c1"))
	assert.Equal(t, 1, h.e.cache.Len("c1"))
}

func TestStatusOnlyUpdateKeepsOutbound(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.selectAndWait(t, "b")

	out := inboundWire("a", "m1", 1)
	out.Direction = "outbound"
	out.Status = "sent"
	h.push(t, wire.EventNewMessage, out)
	h.push(t, wire.EventUpdateMessage, wire.Message{ID: "m1", ConversationID: "a", Status: "delivered"})

	got, ok := h.e.cache.Get("a", "m1")
	require.True(t, ok)
	assert.Equal(t, domain.Outbound, got.Direction)
	assert.Equal(t, domain.Delivered, got.State)
	assert.Equal(t, "msg m1", got.Payload.Text)
	assert.Equal(t, 0, h.e.tracker.Count("a"))

	c, _ := h.e.dir.Get("a")
	assert.Equal(t, "msg m1", c.LastSnippet)
}

func TestStatusOnlyUpdateBeforeInsert(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.selectAndWait(t, "b")

	h.push(t, wire.EventUpdateMessage, wire.Message{ID: "m5", ConversationID: "a", Status: "delivered"})
	assert.Equal(t, 0, h.e.tracker.Count("a"), "direction unknown yet")

	h.push(t, wire.EventNewMessage, inboundWire("a", "m5", 5))

	require.Equal(t, 1, h.e.cache.Len("a"))
	got, _ := h.e.cache.Get("a", "m5")
	assert.Equal(t, "msg m5", got.Payload.Text)
	assert.True(t, t0.Add(5*time.Second).Equal(got.Timestamp))
	assert.Equal(t, domain.Inbound, got.Direction)
	assert.Equal(t, domain.Delivered, got.State)
	assert.Equal(t, 1, h.e.tracker.Count("a"))
}

func TestStaleSnapshotIsDiscarded(t *testing.T) {
	h := newHarness(t, "a", "b")
	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.gates["a"] = gate
	h.backend.history["a"] = history("a", 3)
	h.backend.history["b"] = history("b", 2)
	h.backend.mu.Unlock()

	v, err := h.e.SelectConversation(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, v.Loading)

	vb := h.selectAndWait(t, "b")
	require.Len(t, vb.Window.Messages, 2)

	close(gate)
	require.Eventually(t, func() bool { return !h.e.View("a").Loading }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "b", h.e.Active())
	assert.False(t, h.e.cache.Loaded("a"), "stale snapshot must not be applied")
	assert.Len(t, h.e.View("b").Window.Messages, 2)

	// The next selection of a retries.
	h.backend.mu.Lock()
	delete(h.backend.gates, "a")
	h.backend.mu.Unlock()
	va := h.selectAndWait(t, "a")
	assert.Len(t, va.Window.Messages, 3)
	assert.Equal(t, 2, h.backend.fetchCount("a"))
}

func TestSnapshotServedFromCache(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.backend.mu.Lock()
	h.backend.history["a"] = history("a", 3)
	h.backend.mu.Unlock()

	h.selectAndWait(t, "a")
	h.selectAndWait(t, "b")
	v, err := h.e.SelectConversation(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, v.Loading)
	assert.Len(t, v.Window.Messages, 3)

	// The cached copy is refreshed in the background.
	require.Eventually(t, func() bool { return h.backend.fetchCount("a") == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.e.View("a").Loading)
}

func TestSwitchBackMergesMissedUpdates(t *testing.T) {
	h := newHarness(t, "a", "b")
	sent := domain.Message{
		ID:             "a-1",
		ConversationID: "a",
		Direction:      domain.Outbound,
		Payload:        domain.TextPayload("on my way"),
		Timestamp:      t0,
		State:          domain.Sent,
	}
	h.backend.mu.Lock()
	h.backend.history["a"] = []domain.Message{sent}
	h.backend.mu.Unlock()

	h.selectAndWait(t, "a")
	h.selectAndWait(t, "b")
	assert.Equal(t, []string{"b"}, h.tr.Rooms())

	// Delivered while this console was outside room a.
	delivered := sent
	delivered.State = domain.Delivered
	h.backend.mu.Lock()
	h.backend.history["a"] = []domain.Message{delivered}
	h.backend.mu.Unlock()

	v, err := h.e.SelectConversation(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, v.Loading)
	require.Len(t, v.Window.Messages, 1)

	require.Eventually(t, func() bool {
		w := h.e.View("a").Window
		return len(w.Messages) == 1 && w.Messages[0].State == domain.Delivered
	}, time.Second, 5*time.Millisecond)
}

func TestFetchFailureSurfacesOnView(t *testing.T) {
	h := newHarness(t, "a")
	h.backend.mu.Lock()
	h.backend.fetchErr["a"] = errors.New("502 bad gateway")
	h.backend.mu.Unlock()

	failed, unsub := h.bus.Subscribe(bus.KindConversationFetchErr, 4)
	defer unsub()

	v := h.selectAndWait(t, "a")
	var ferr *domain.FetchError
	require.ErrorAs(t, v.Err, &ferr)
	assert.Equal(t, "a", ferr.ConversationID)
	assert.Empty(t, v.Window.Messages)
	assert.Len(t, failed, 1)

	h.backend.mu.Lock()
	delete(h.backend.fetchErr, "a")
	h.backend.history["a"] = history("a", 1)
	h.backend.mu.Unlock()

	v = h.selectAndWait(t, "a")
	assert.NoError(t, v.Err)
	assert.Len(t, v.Window.Messages, 1)
}

func TestLoadOlderMessages(t *testing.T) {
	h := newHarness(t, "a")
	h.backend.mu.Lock()
	h.backend.history["a"] = history("a", 25)
	h.backend.mu.Unlock()

	v := h.selectAndWait(t, "a")
	assert.Len(t, v.Window.Messages, 10)
	assert.True(t, v.Window.HasMore)

	v = h.e.LoadOlderMessages("")
	assert.Len(t, v.Window.Messages, 20)
	v = h.e.LoadOlderMessages("a")
	assert.Len(t, v.Window.Messages, 25)
	assert.False(t, v.Window.HasMore)

	// Switching back resets to one page.
	v = h.selectAndWait(t, "a")
	assert.Len(t, v.Window.Messages, 10)
}

func TestSubmitOfflineKeepsFailedEntry(t *testing.T) {
	h := newHarness(t, "a")
	h.backend.mu.Lock()
	h.backend.sendErr = errors.New("connection refused")
	h.backend.mu.Unlock()
	h.selectAndWait(t, "a")

	m, err := h.e.SubmitMessage(context.Background(), outbox.Draft{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, domain.Pending, m.State)

	h.e.outbox.Wait()
	v := h.e.View("a")
	require.Len(t, v.Window.Messages, 1)
	assert.Equal(t, domain.Error, v.Window.Messages[0].State)
	assert.Equal(t, m.ID, v.Window.Messages[0].ID)

	c, _ := h.e.dir.Get("a")
	assert.Equal(t, "hello", c.LastSnippet)
}

func TestSubmitWithoutSelection(t *testing.T) {
	h := newHarness(t, "a")
	_, err := h.e.SubmitMessage(context.Background(), outbox.Draft{Text: "hello"})
	assert.ErrorIs(t, err, domain.ErrNoActiveConversation)
}

func TestOutboundPushReconcilesProvisional(t *testing.T) {
	h := newHarness(t, "a")
	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.sendErr = errors.New("late failure")
	h.backend.mu.Unlock()
	h.selectAndWait(t, "a")

	// Hold the send so the push copy arrives first.
	h.backend.mu.Lock()
	h.backend.gates["send"] = gate
	h.backend.mu.Unlock()

	m, err := h.e.SubmitMessage(context.Background(), outbox.Draft{Text: "on my way"})
	require.NoError(t, err)

	echo := wire.Message{
		ID:             "srv-77",
		ConversationID: "a",
		Direction:      "outbound",
		Type:           "text",
		Content:        json.RawMessage(`"on my way"`),
		TimestampMs:    m.Timestamp.UnixMilli(),
		Status:         "sent",
		ClientID:       m.ID,
	}
	h.push(t, wire.EventNewMessage, echo)
	close(gate)
	h.e.outbox.Wait()

	v := h.e.View("a")
	require.Len(t, v.Window.Messages, 1)
	assert.Equal(t, "srv-77", v.Window.Messages[0].ID)
	assert.Equal(t, domain.Sent, v.Window.Messages[0].State, "a send failure after the push copy must not mark it failed")
}

func TestCloseConversation(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.selectAndWait(t, "a")
	h.push(t, wire.EventNewMessage, inboundWire("b", "m1", 1))

	removed, unsub := h.bus.Subscribe(bus.KindConversationRemoved, 4)
	defer unsub()

	require.NoError(t, h.e.CloseConversation(context.Background(), "a"))
	assert.Equal(t, "", h.e.Active())
	_, ok := h.e.dir.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, h.e.cache.Len("a"))
	assert.Len(t, removed, 1)
	assert.Equal(t, []string{"a"}, h.backend.closed)

	assert.ErrorIs(t, h.e.CloseConversation(context.Background(), "a"), domain.ErrUnknownConversation)
	assert.Equal(t, 1, h.e.tracker.Count("b"))
}

func (h *harness) waitRevived(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.e.mu.Lock()
		defer h.e.mu.Unlock()
		return len(h.e.reviving) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLatePushDoesNotRecreateClosedConversation(t *testing.T) {
	h := newHarness(t, "a", "b")
	require.NoError(t, h.e.CloseConversation(context.Background(), "a"))

	h.backend.mu.Lock()
	h.backend.convs = []wire.Conversation{{ID: "b"}}
	h.backend.mu.Unlock()

	h.push(t, wire.EventNewMessage, inboundWire("a", "late", 1))
	h.waitRevived(t)

	_, ok := h.e.dir.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, h.e.cache.Len("a"))
	assert.Equal(t, 0, h.e.tracker.Count("a"))
	for _, c := range h.e.Conversations() {
		assert.NotEqual(t, "a", c.ID)
	}

	// Reopened on the backend: the next push restores it with its real fields.
	name := "Ana"
	open := string(domain.StatusOpen)
	h.backend.mu.Lock()
	h.backend.convs = []wire.Conversation{{ID: "a", DisplayName: &name, Status: &open, UnreadCount: 1}, {ID: "b"}}
	h.backend.mu.Unlock()

	h.push(t, wire.EventNewMessage, inboundWire("a", "again", 2))
	h.waitRevived(t)

	c, ok := h.e.dir.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Ana", c.DisplayName)
	assert.Equal(t, domain.StatusOpen, c.Status)
	assert.Equal(t, 1, h.e.tracker.Count("a"))

	h.push(t, wire.EventNewMessage, inboundWire("a", "third", 3))
	assert.Equal(t, 1, h.e.cache.Len("a"))
}

func TestSelectUnknownConversation(t *testing.T) {
	h := newHarness(t)
	_, err := h.e.SelectConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownConversation)
}

func TestSelectJoinsRoom(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.selectAndWait(t, "a")
	h.selectAndWait(t, "b")
	assert.Equal(t, []string{"b"}, h.tr.Rooms())
}

func TestStopRemovesOnlyOwnSubscriptions(t *testing.T) {
	tr := newFakeTransport()
	var other int
	tr.On(wire.EventNewMessage, func(json.RawMessage) { other++ })

	e := NewEngine(Options{}, newFakeBackend(), tr, bus.New(), nil)
	e.Start(context.Background())
	e.Stop()

	// After Stop only the foreign handler is left.
	data, _ := json.Marshal(inboundWire("a", "m1", 1))
	tr.Dispatch(wire.EventNewMessage, data)
	assert.Equal(t, 1, other)
	assert.Equal(t, 0, e.cache.Len("a"))
}
