package readstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/selection"
	"github.com/matheus3301/desk/internal/status"
)

type fakePersister struct {
	mu       sync.Mutex
	reads    []string
	presence []bool
	err      error
}

func (f *fakePersister) PersistReadState(_ context.Context, id string, counter int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if counter != 0 {
		return errors.New("unexpected counter")
	}
	f.reads = append(f.reads, id)
	return f.err
}

func (f *fakePersister) SetPresence(_ context.Context, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, online)
	return f.err
}

func inbound(conv string) domain.Message {
	return domain.Message{ID: "x", ConversationID: conv, Direction: domain.Inbound, State: domain.Delivered}
}

func newTracker(p Persister) (*Tracker, *selection.Controller) {
	sel := selection.New(nil)
	return New(sel, p, bus.New(), nil), sel
}

func TestMarkActiveZeroes(t *testing.T) {
	p := &fakePersister{}
	tr, sel := newTracker(p)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.Seed("c1", 4, time.Time{})
	require.Equal(t, 4, tr.Count("c1"))

	tok := tr.MarkActive(context.Background(), "c1")
	tr.Wait()

	assert.Equal(t, 0, tr.Count("c1"))
	assert.Equal(t, fixed, tr.LastRead("c1"))
	assert.True(t, sel.IsCurrent(tok))
	assert.Equal(t, "c1", sel.Active())
	assert.Equal(t, []string{"c1"}, p.reads)
}

func TestInboundIncrementsOnlyInactive(t *testing.T) {
	tr, _ := newTracker(nil)
	tr.MarkActive(context.Background(), "active")

	assert.False(t, tr.OnInbound(inbound("active")))
	assert.True(t, tr.OnInbound(inbound("other")))
	assert.True(t, tr.OnInbound(inbound("other")))

	out := inbound("other")
	out.Direction = domain.Outbound
	assert.False(t, tr.OnInbound(out))

	assert.Equal(t, 0, tr.Count("active"))
	assert.Equal(t, 2, tr.Count("other"))
	assert.Equal(t, map[string]int{"other": 2}, tr.Counts())
}

func TestSeedSkipsActive(t *testing.T) {
	tr, _ := newTracker(nil)
	tr.MarkActive(context.Background(), "c1")
	tr.Seed("c1", 9, time.Now())
	tr.Seed("c2", -3, time.Time{})
	assert.Equal(t, 0, tr.Count("c1"))
	assert.Equal(t, 0, tr.Count("c2"))
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	p := &fakePersister{err: errors.New("backend down")}
	tr, _ := newTracker(p)
	tr.OnInbound(inbound("c1"))

	tr.MarkActive(context.Background(), "c1")
	tr.Wait()
	assert.Equal(t, 0, tr.Count("c1"))
}

func TestPresenceFollowsConnection(t *testing.T) {
	p := &fakePersister{}
	tr, _ := newTracker(p)

	tr.OnConnectionChange(context.Background(), status.Online)
	tr.Wait()
	tr.OnConnectionChange(context.Background(), status.Offline)
	tr.Wait()

	assert.Equal(t, []bool{true, false}, p.presence)
}

func TestUnreadEvents(t *testing.T) {
	sel := selection.New(nil)
	b := bus.New()
	ch, unsub := b.Subscribe("unread.", 10)
	defer unsub()
	tr := New(sel, nil, b, nil)

	tr.OnInbound(inbound("c1"))
	tr.MarkActive(context.Background(), "c1")
	tr.Forget("c1")
	tr.Forget("never-seen")

	require.Len(t, ch, 3)
	first := (<-ch).Payload.(UnreadChange)
	assert.Equal(t, UnreadChange{ConversationID: "c1", Count: 1}, first)
}
