// Package sync composes the conversation engine: it owns the message cache,
// directory, read-state tracker, selection and send pipeline, and funnels push
// events and operator operations through them one turn at a time.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/cache"
	"github.com/matheus3301/desk/internal/directory"
	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/outbox"
	"github.com/matheus3301/desk/internal/readstate"
	"github.com/matheus3301/desk/internal/selection"
	"github.com/matheus3301/desk/internal/status"
	"github.com/matheus3301/desk/internal/transport"
	"github.com/matheus3301/desk/internal/wire"
)

const inboxSize = 256

// Backend is the REST surface the engine needs.
type Backend interface {
	outbox.Sender
	readstate.Persister
	ListConversations(ctx context.Context) ([]wire.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	CloseConversation(ctx context.Context, conversationID string) error
}

// Transport is the push connection the engine listens to.
type Transport interface {
	selection.RoomMember
	On(event string, h transport.Handler) transport.Subscription
	Off(sub transport.Subscription)
	Connect(ctx context.Context) error
	Disconnect()
	State() status.State
}

// Options configures an Engine.
type Options struct {
	PageSize        int
	ReconcileWindow time.Duration
	AutoConnect     bool
}

// View is what the UI shows for one conversation.
type View struct {
	Window  cache.Window
	Loading bool
	Err     error
}

// Summary is one row of the conversation list.
type Summary struct {
	domain.Conversation
	Unread   int
	LastRead time.Time
	Active   bool
}

type inboxEvent struct {
	event string
	data  json.RawMessage
	ack   chan struct{}
}

// Engine is the explicit state owner of the console.
type Engine struct {
	mu stdsync.Mutex

	cache    *cache.Cache
	dir      *directory.Directory
	sel      *selection.Controller
	tracker  *readstate.Tracker
	outbox   *outbox.Pipeline
	backend  Backend
	tr       Transport
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options
	fetching map[string]selection.Token
	fetchErr map[string]error
	// stale holds loaded conversations whose room was left; room-scoped
	// updates sent meanwhile never reached this client.
	stale map[string]struct{}
	// closed holds conversations closed from this console. A later push
	// only brings one back once the backend lists it open again.
	closed   map[string]struct{}
	reviving map[string]struct{}

	inbox  chan inboxEvent
	subs   []transport.Subscription
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewEngine wires the engine components around a backend and a transport.
func NewEngine(opts Options, backend Backend, tr Transport, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cache:    cache.New(opts.PageSize),
		dir:      directory.New(),
		sel:      selection.New(tr),
		backend:  backend,
		tr:       tr,
		bus:      b,
		logger:   logger.Named("engine"),
		opts:     opts,
		fetching: make(map[string]selection.Token),
		fetchErr: make(map[string]error),
		stale:    make(map[string]struct{}),
		closed:   make(map[string]struct{}),
		reviving: make(map[string]struct{}),
		inbox:    make(chan inboxEvent, inboxSize),
	}
	e.tracker = readstate.New(e.sel, backend, b, logger)
	e.outbox = outbox.NewPipeline(e.cache, backend, b, logger, outbox.Options{
		ReconcileWindow: opts.ReconcileWindow,
		Turn:            e.turn,
	})
	return e
}

// Start registers the push handlers, starts the inbox loop and loads the
// conversation list in the background.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	for _, ev := range []string{
		wire.EventNewMessage,
		wire.EventUpdateMessage,
		wire.EventConnect,
		wire.EventDisconnect,
		wire.EventConnectError,
	} {
		e.subs = append(e.subs, e.tr.On(ev, e.enqueue(ctx, ev)))
	}

	e.wg.Add(2)
	go e.loop(ctx)
	go func() {
		defer e.wg.Done()
		_ = e.Bootstrap(ctx)
		if e.opts.AutoConnect {
			if err := e.tr.Connect(ctx); err != nil {
				e.logger.Warn("auto connect failed", zap.Error(err))
			}
		}
	}()
}

// Stop removes exactly the subscriptions Start registered and waits for the
// background work to finish.
func (e *Engine) Stop() {
	for _, sub := range e.subs {
		e.tr.Off(sub)
	}
	e.subs = nil
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.outbox.Wait()
	e.tracker.Wait()
}

func (e *Engine) enqueue(ctx context.Context, event string) transport.Handler {
	return func(data json.RawMessage) {
		select {
		case e.inbox <- inboxEvent{event: event, data: data}:
		case <-ctx.Done():
		}
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.inbox:
			if ev.ack != nil {
				close(ev.ack)
				continue
			}
			e.turn(func() { e.handle(ctx, ev) })
		}
	}
}

// flush waits until every event queued before it has been handled.
func (e *Engine) flush() {
	ack := make(chan struct{})
	e.inbox <- inboxEvent{ack: ack}
	<-ack
}

func (e *Engine) turn(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// handle must run inside a turn.
func (e *Engine) handle(ctx context.Context, ev inboxEvent) {
	switch ev.event {
	case wire.EventNewMessage, wire.EventUpdateMessage:
		var wm wire.Message
		if err := json.Unmarshal(ev.data, &wm); err != nil {
			e.logger.Warn("malformed push message", zap.String("event", ev.event), zap.Error(err))
			return
		}
		m := wm.ToDomain()
		if m.ID == "" || m.ConversationID == "" {
			e.logger.Warn("push message without ids", zap.String("event", ev.event))
			return
		}
		if ev.event == wire.EventNewMessage {
			if m.Timestamp.IsZero() {
				m.Timestamp = time.Now()
			}
			m = m.WithDefaults()
		}
		if _, closed := e.closed[m.ConversationID]; closed {
			e.logger.Debug("push for closed conversation",
				zap.String("conversation_id", m.ConversationID),
				zap.String("message_id", m.ID))
			e.revive(ctx, m.ConversationID)
			return
		}
		e.ingest(m, ev.event == wire.EventUpdateMessage)
	case wire.EventConnect:
		e.tracker.OnConnectionChange(ctx, status.Online)
	case wire.EventDisconnect, wire.EventConnectError:
		var l wire.Lifecycle
		_ = json.Unmarshal(ev.data, &l)
		e.logger.Info("push offline", zap.String("event", ev.event), zap.String("reason", l.Reason))
		e.tracker.OnConnectionChange(ctx, status.Offline)
	}
}

// ingest must run inside a turn.
func (e *Engine) ingest(m domain.Message, update bool) {
	if e.outbox.Reconcile(m) {
		e.upserted(m)
		return
	}

	// An entry first seen through a status-only update has no direction
	// yet; it counts as unread once the insert reveals it inbound.
	prev, known := e.cache.Get(m.ConversationID, m.ID)

	fresh := false
	if update {
		switch e.cache.ApplyUpdate(m) {
		case cache.OutcomeIgnored:
			return
		case cache.OutcomeReplaced:
			fresh = prev.Direction == "" && m.Direction != ""
		case cache.OutcomeInserted:
			fresh = true
			e.logger.Warn("update applied as insert",
				zap.String("conversation_id", m.ConversationID),
				zap.String("message_id", m.ID),
				zap.Error(domain.ErrMergeConflict))
		}
	} else {
		if !e.cache.ApplyInsert(m) {
			return
		}
		fresh = !known || prev.Direction == ""
	}

	e.upserted(m)
	if fresh {
		e.tracker.OnInbound(m)
	}
}

// revive must run inside a turn. It looks the conversation up on the backend
// and restores it when it is open there.
func (e *Engine) revive(ctx context.Context, id string) {
	if _, busy := e.reviving[id]; busy {
		return
	}
	e.reviving[id] = struct{}{}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		convs, err := e.backend.ListConversations(ctx)
		e.turn(func() {
			delete(e.reviving, id)
			if err != nil {
				e.logger.Warn("conversation lookup failed", zap.String("conversation_id", id), zap.Error(err))
				return
			}
			for i := range convs {
				c := &convs[i]
				if c.ID != id {
					continue
				}
				patch := c.Patch()
				if patch.Status != nil && *patch.Status == domain.StatusClosed {
					return
				}
				delete(e.closed, id)
				e.dir.Merge(id, patch)
				e.tracker.Seed(id, c.UnreadCount, c.LastChecked())
				e.conversationUpdated(id)
				e.logger.Info("conversation reopened", zap.String("conversation_id", id))
				return
			}
		})
	}()
}

// upserted must run inside a turn.
func (e *Engine) upserted(m domain.Message) {
	e.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"conversation_id": m.ConversationID,
		"message_id":      m.ID,
	})
	if cur, ok := e.cache.Get(m.ConversationID, m.ID); ok {
		m = cur
	}
	if _, changed := e.dir.NoteMessage(m); changed {
		e.conversationUpdated(m.ConversationID)
	}
}

func (e *Engine) conversationUpdated(id string) {
	e.bus.Emit(bus.KindConversationUpdated, map[string]string{"conversation_id": id})
}

// Bootstrap loads the conversation list and unread counters.
func (e *Engine) Bootstrap(ctx context.Context) error {
	convs, err := e.backend.ListConversations(ctx)
	if err != nil {
		ferr := &domain.FetchError{Op: "list conversations", Err: err}
		e.logger.Error("bootstrap failed", zap.Error(ferr))
		e.bus.Emit(bus.KindConversationFetchErr, map[string]string{"error": ferr.Error()})
		return ferr
	}

	e.turn(func() {
		for i := range convs {
			c := &convs[i]
			if c.ID == "" {
				continue
			}
			e.dir.Merge(c.ID, c.Patch())
			e.tracker.Seed(c.ID, c.UnreadCount, c.LastChecked())
			e.conversationUpdated(c.ID)
		}
	})
	e.logger.Info("conversations loaded", zap.Int("count", len(convs)))
	return nil
}

// SelectConversation makes id the active conversation. Its window is served
// from cache when a snapshot was loaded before; otherwise a fetch starts and
// the returned view is loading. A fetch that completes after the operator
// moved on is discarded.
func (e *Engine) SelectConversation(ctx context.Context, id string) (View, error) {
	e.mu.Lock()
	if _, ok := e.dir.Get(id); !ok {
		e.mu.Unlock()
		return View{}, fmt.Errorf("select %q: %w", id, domain.ErrUnknownConversation)
	}

	if prev := e.sel.Active(); prev != "" && prev != id && e.cache.Loaded(prev) {
		e.stale[prev] = struct{}{}
	}
	tok := e.tracker.MarkActive(ctx, id)
	e.cache.ResetWindow(id)
	delete(e.fetchErr, id)

	_, inFlight := e.fetching[id]
	needFetch := !e.cache.Loaded(id)
	if needFetch {
		e.fetching[id] = tok
	}
	_, refresh := e.stale[id]
	refresh = refresh && !needFetch
	delete(e.stale, id)
	view := e.viewLocked(id)
	e.mu.Unlock()

	if needFetch && !inFlight {
		e.wg.Add(1)
		go e.fetch(context.WithoutCancel(ctx), id)
	}
	if refresh {
		e.wg.Add(1)
		go e.refresh(context.WithoutCancel(ctx), id, tok)
	}
	return view, nil
}

func (e *Engine) fetch(ctx context.Context, id string) {
	defer e.wg.Done()
	msgs, err := e.backend.FetchMessages(ctx, id)

	e.turn(func() {
		tok, ok := e.fetching[id]
		delete(e.fetching, id)
		if !ok || !e.sel.IsCurrent(tok) {
			e.logger.Debug("discarding stale snapshot", zap.String("conversation_id", id))
			return
		}
		if err != nil {
			ferr := &domain.FetchError{Op: "messages", ConversationID: id, Err: err}
			e.fetchErr[id] = ferr
			e.logger.Error("snapshot fetch failed", zap.Error(ferr))
			e.bus.Emit(bus.KindConversationFetchErr, map[string]string{
				"conversation_id": id,
				"error":           ferr.Error(),
			})
			return
		}

		e.applySnapshot(id, msgs)
	})
}

// refresh merges a fresh snapshot into a conversation already served from
// cache. Failures keep the cached copy and leave the conversation stale.
func (e *Engine) refresh(ctx context.Context, id string, tok selection.Token) {
	defer e.wg.Done()
	msgs, err := e.backend.FetchMessages(ctx, id)

	e.turn(func() {
		if _, ok := e.dir.Get(id); !ok {
			return
		}
		if err != nil {
			e.stale[id] = struct{}{}
			e.logger.Warn("snapshot refresh failed", zap.String("conversation_id", id), zap.Error(err))
			return
		}
		if !e.sel.IsCurrent(tok) {
			e.stale[id] = struct{}{}
			return
		}
		e.applySnapshot(id, msgs)
	})
}

// applySnapshot must run inside a turn.
func (e *Engine) applySnapshot(id string, msgs []domain.Message) {
	e.cache.LoadSnapshot(id, msgs)
	e.bus.Emit(bus.KindMessageUpserted, map[string]string{"conversation_id": id})
	if len(msgs) > 0 {
		w := e.cache.GetWindow(id, 1)
		if n := len(w.Messages); n > 0 {
			if _, changed := e.dir.NoteMessage(w.Messages[n-1]); changed {
				e.conversationUpdated(id)
			}
		}
	}
}

// View returns the current view of a conversation, the active one when id is empty.
func (e *Engine) View(id string) View {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		id = e.sel.Active()
	}
	return e.viewLocked(id)
}

// LoadOlderMessages grows the window of a conversation by one page.
func (e *Engine) LoadOlderMessages(id string) View {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		id = e.sel.Active()
	}
	if id == "" {
		return View{}
	}
	e.cache.ExpandWindow(id)
	return e.viewLocked(id)
}

func (e *Engine) viewLocked(id string) View {
	if id == "" {
		return View{}
	}
	_, loading := e.fetching[id]
	return View{
		Window:  e.cache.Window(id),
		Loading: loading,
		Err:     e.fetchErr[id],
	}
}

// Active returns the active conversation id.
func (e *Engine) Active() string {
	return e.sel.Active()
}

// SubmitMessage sends a draft on the active conversation.
func (e *Engine) SubmitMessage(ctx context.Context, d outbox.Draft) (domain.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.sel.Active()
	if id == "" {
		return domain.Message{}, domain.ErrNoActiveConversation
	}
	m, err := e.outbox.Submit(ctx, id, d)
	if err != nil {
		return domain.Message{}, err
	}
	if _, changed := e.dir.NoteMessage(m); changed {
		e.conversationUpdated(id)
	}
	return m, nil
}

// RetryMessage resubmits a failed message.
func (e *Engine) RetryMessage(ctx context.Context, conversationID, messageID string) (domain.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outbox.Retry(ctx, conversationID, messageID)
}

// CloseConversation closes the ticket on the backend and forgets the
// conversation locally.
func (e *Engine) CloseConversation(ctx context.Context, id string) error {
	if _, ok := e.dir.Get(id); !ok {
		return fmt.Errorf("close %q: %w", id, domain.ErrUnknownConversation)
	}
	if err := e.backend.CloseConversation(ctx, id); err != nil {
		return fmt.Errorf("close conversation %q: %w", id, err)
	}

	e.turn(func() {
		closed := domain.StatusClosed
		e.dir.Merge(id, domain.ConversationPatch{Status: &closed})
		e.conversationUpdated(id)

		if e.sel.Active() == id {
			e.sel.Clear()
		}
		e.dir.Remove(id)
		e.cache.Drop(id)
		e.tracker.Forget(id)
		delete(e.fetching, id)
		delete(e.fetchErr, id)
		delete(e.stale, id)
		e.closed[id] = struct{}{}
		e.bus.Emit(bus.KindConversationRemoved, map[string]string{"conversation_id": id})
	})
	e.logger.Info("conversation closed", zap.String("conversation_id", id))
	return nil
}

// Connect opens the push connection.
func (e *Engine) Connect(ctx context.Context) error {
	return e.tr.Connect(ctx)
}

// Disconnect closes the push connection and reports the operator offline.
func (e *Engine) Disconnect(ctx context.Context) {
	e.tr.Disconnect()
	e.tracker.OnConnectionChange(ctx, status.Disconnected)
}

// ConnectionState returns the push connection state.
func (e *Engine) ConnectionState() status.State {
	return e.tr.State()
}

// PendingSends returns the number of sends in flight.
func (e *Engine) PendingSends() int {
	return e.outbox.Pending()
}

// Conversations lists the directory, newest activity first, with unread counters.
func (e *Engine) Conversations() []Summary {
	active := e.sel.Active()
	convs := e.dir.List()
	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, Summary{
			Conversation: c,
			Unread:       e.tracker.Count(c.ID),
			LastRead:     e.tracker.LastRead(c.ID),
			Active:       c.ID == active,
		})
	}
	return out
}
