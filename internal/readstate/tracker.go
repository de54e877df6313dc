// Package readstate keeps per-conversation unread counters and reports read
// positions and operator presence to the backend.
package readstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/selection"
	"github.com/matheus3301/desk/internal/status"
)

// Persister stores read positions and presence on the backend.
type Persister interface {
	PersistReadState(ctx context.Context, conversationID string, counter int, lastChecked time.Time) error
	SetPresence(ctx context.Context, online bool) error
}

// UnreadChange is the payload of unread.changed events.
type UnreadChange struct {
	ConversationID string
	Count          int
}

type counter struct {
	unread   int
	lastRead time.Time
}

// Tracker owns the unread counters.
type Tracker struct {
	mu       sync.RWMutex
	counters map[string]*counter

	sel     *selection.Controller
	persist Persister
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// New creates a tracker. persist may be nil.
func New(sel *selection.Controller, persist Persister, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		counters: make(map[string]*counter),
		sel:      sel,
		persist:  persist,
		bus:      b,
		logger:   logger.Named("readstate"),
		now:      time.Now,
	}
}

// MarkActive selects the conversation, zeroes its counter and records the read
// position. Persisting runs in the background; failures are logged only.
func (t *Tracker) MarkActive(ctx context.Context, conversationID string) selection.Token {
	tok := t.sel.Select(conversationID)
	now := t.now()

	t.mu.Lock()
	c := t.get(conversationID)
	changed := c.unread != 0
	c.unread = 0
	c.lastRead = now
	t.mu.Unlock()

	if changed {
		t.bus.Emit(bus.KindUnreadChanged, UnreadChange{ConversationID: conversationID})
	}
	t.persistAsync(ctx, conversationID, now)
	return tok
}

// OnInbound counts an inbound message of a conversation that is not active.
// It reports whether the counter changed.
func (t *Tracker) OnInbound(m domain.Message) bool {
	if m.Direction != domain.Inbound || m.ConversationID == "" || t.sel.IsActive(m.ConversationID) {
		return false
	}
	t.mu.Lock()
	c := t.get(m.ConversationID)
	c.unread++
	n := c.unread
	t.mu.Unlock()

	t.bus.Emit(bus.KindUnreadChanged, UnreadChange{ConversationID: m.ConversationID, Count: n})
	return true
}

// Seed loads counters from the initial conversation fetch. The active
// conversation keeps its zero counter.
func (t *Tracker) Seed(conversationID string, count int, lastRead time.Time) {
	if t.sel.IsActive(conversationID) {
		return
	}
	t.mu.Lock()
	c := t.get(conversationID)
	c.unread = max(count, 0)
	if lastRead.After(c.lastRead) {
		c.lastRead = lastRead
	}
	n := c.unread
	t.mu.Unlock()

	t.bus.Emit(bus.KindUnreadChanged, UnreadChange{ConversationID: conversationID, Count: n})
}

// Count returns the unread counter of a conversation.
func (t *Tracker) Count(conversationID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c, ok := t.counters[conversationID]; ok {
		return c.unread
	}
	return 0
}

// Counts returns a copy of all non-zero counters.
func (t *Tracker) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.counters))
	for id, c := range t.counters {
		if c.unread > 0 {
			out[id] = c.unread
		}
	}
	return out
}

// LastRead returns when the conversation was last marked read.
func (t *Tracker) LastRead(conversationID string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c, ok := t.counters[conversationID]; ok {
		return c.lastRead
	}
	return time.Time{}
}

// Forget drops the counter of a removed conversation.
func (t *Tracker) Forget(conversationID string) {
	t.mu.Lock()
	_, ok := t.counters[conversationID]
	delete(t.counters, conversationID)
	t.mu.Unlock()
	if ok {
		t.bus.Emit(bus.KindUnreadChanged, UnreadChange{ConversationID: conversationID})
	}
}

// OnConnectionChange reports operator presence, online only while the
// transport is ONLINE. Failures are logged only.
func (t *Tracker) OnConnectionChange(ctx context.Context, state status.State) {
	if t.persist == nil {
		return
	}
	online := state == status.Online
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.persist.SetPresence(ctx, online); err != nil {
			t.logger.Warn("presence update failed", zap.Bool("online", online), zap.Error(err))
		}
	}()
}

// Wait blocks until background persists have finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) persistAsync(ctx context.Context, conversationID string, at time.Time) {
	if t.persist == nil || conversationID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.persist.PersistReadState(ctx, conversationID, 0, at); err != nil {
			ferr := &domain.FetchError{Op: "persist read state", ConversationID: conversationID, Err: err}
			t.logger.Warn("read state not persisted", zap.Error(ferr))
		}
	}()
}

// get must be called with mu held.
func (t *Tracker) get(id string) *counter {
	c, ok := t.counters[id]
	if !ok {
		c = &counter{}
		t.counters[id] = c
	}
	return c
}
