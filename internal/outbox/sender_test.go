package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/cache"
	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/wire"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []wire.SendRequest
	err   error
	gate  chan struct{} // when set, sends block until it is closed
}

func (m *mockSender) SendMessage(_ context.Context, conversationID string, req wire.SendRequest) (domain.Message, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return domain.Message{}, m.err
	}
	return domain.Message{
		ID:             "srv-" + strings.TrimPrefix(req.ClientID, ProvisionalPrefix),
		ConversationID: conversationID,
		Direction:      domain.Outbound,
		State:          domain.Sent,
	}, nil
}

func (m *mockSender) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func newPipeline(t *testing.T, s Sender) (*Pipeline, *cache.Cache, *bus.Bus) {
	t.Helper()
	c := cache.New(0)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	return NewPipeline(c, s, b, logger, Options{}), c, b
}

func TestSubmitOfflineStaysVisibleWithError(t *testing.T) {
	mock := &mockSender{err: errors.New("dial tcp: connection refused")}
	p, c, b := newPipeline(t, mock)

	ch, unsub := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsub()

	m, err := p.Submit(context.Background(), "c1", Draft{Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if m.State != domain.Pending {
		t.Errorf("provisional state = %s, want pending", m.State)
	}
	if !strings.HasPrefix(m.ID, ProvisionalPrefix) || m.ClientID != m.ID {
		t.Errorf("provisional id = %q client id = %q", m.ID, m.ClientID)
	}

	p.Wait()

	got, ok := c.Get("c1", m.ID)
	if !ok {
		t.Fatal("failed message disappeared from the cache")
	}
	if got.State != domain.Error {
		t.Errorf("state = %s, want error", got.State)
	}

	select {
	case evt := <-ch:
		payload := evt.Payload.(map[string]string)
		if payload["message_id"] != m.ID {
			t.Errorf("send_failed message_id = %q, want %q", payload["message_id"], m.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}
}

func TestSubmitAckRekeysToServerID(t *testing.T) {
	mock := &mockSender{}
	p, c, _ := newPipeline(t, mock)

	m, err := p.Submit(context.Background(), "c1", Draft{Text: "hello", ReplyToID: "in-1"})
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	if _, ok := c.Get("c1", m.ID); ok {
		t.Error("provisional id still cached after ack")
	}
	want := "srv-" + strings.TrimPrefix(m.ID, ProvisionalPrefix)
	got, ok := c.Get("c1", want)
	if !ok {
		t.Fatalf("server copy %s not cached", want)
	}
	if got.State != domain.Sent || got.ClientID != m.ID || got.Payload.Text != "hello" {
		t.Errorf("server copy = %+v", got)
	}
	if c.Len("c1") != 1 {
		t.Errorf("cache len = %d, want 1", c.Len("c1"))
	}

	if len(mock.calls) != 1 {
		t.Fatalf("got %d send calls, want 1", len(mock.calls))
	}
	req := mock.calls[0]
	if req.ClientID != m.ID || req.ReplyTo != "in-1" || string(req.Content) != `"hello"` {
		t.Errorf("request = %+v", req)
	}
}

func TestReconcileByClientIDBeforeAck(t *testing.T) {
	mock := &mockSender{gate: make(chan struct{})}
	p, c, _ := newPipeline(t, mock)

	m, _ := p.Submit(context.Background(), "c1", Draft{Text: "hello"})
	if p.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", p.Pending())
	}

	pushed := domain.Message{
		ID:             "srv-" + strings.TrimPrefix(m.ID, ProvisionalPrefix),
		ConversationID: "c1",
		Direction:      domain.Outbound,
		Payload:        domain.TextPayload("hello"),
		Timestamp:      m.Timestamp.Add(time.Second),
		State:          domain.Delivered,
		ClientID:       m.ID,
	}
	if !p.Reconcile(pushed) {
		t.Fatal("Reconcile() = false, want match by client id")
	}

	close(mock.gate)
	p.Wait()

	if c.Len("c1") != 1 {
		t.Fatalf("cache len = %d, want 1", c.Len("c1"))
	}
	got, _ := c.Get("c1", pushed.ID)
	if got.State != domain.Delivered {
		t.Errorf("state = %s, want delivered (ack must not downgrade)", got.State)
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", p.Pending())
	}
}

func TestReconcileByContent(t *testing.T) {
	mock := &mockSender{gate: make(chan struct{})}
	defer close(mock.gate)
	p, c, _ := newPipeline(t, mock)

	first, _ := p.Submit(context.Background(), "c1", Draft{Text: "ok"})
	second, _ := p.Submit(context.Background(), "c1", Draft{Text: "ok"})

	tests := []struct {
		name    string
		msg     domain.Message
		want    bool
		rekeyed string
	}{
		{"other text", pushedCopy("s0", "nope", first.Timestamp), false, ""},
		{"too far apart", pushedCopy("s1", "ok", first.Timestamp.Add(time.Hour)), false, ""},
		{"matches oldest first", pushedCopy("s2", "ok", first.Timestamp), true, first.ID},
		{"then the next", pushedCopy("s3", "ok", second.Timestamp), true, second.ID},
		{"nothing left", pushedCopy("s4", "ok", second.Timestamp), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Reconcile(tt.msg); got != tt.want {
				t.Fatalf("Reconcile() = %v, want %v", got, tt.want)
			}
			if tt.rekeyed != "" {
				if _, ok := c.Get("c1", tt.rekeyed); ok {
					t.Errorf("%s still cached", tt.rekeyed)
				}
				if _, ok := c.Get("c1", tt.msg.ID); !ok {
					t.Errorf("%s not cached", tt.msg.ID)
				}
			}
		})
	}
}

func TestReconcileIgnoresInbound(t *testing.T) {
	p, _, _ := newPipeline(t, &mockSender{})
	in := pushedCopy("s1", "ok", time.Now())
	in.Direction = domain.Inbound
	if p.Reconcile(in) {
		t.Error("inbound message reconciled")
	}
}

func TestRetry(t *testing.T) {
	mock := &mockSender{err: errors.New("timeout")}
	p, c, _ := newPipeline(t, mock)

	failed, _ := p.Submit(context.Background(), "c1", Draft{Text: "again"})
	p.Wait()

	mock.setErr(nil)
	retried, err := p.Retry(context.Background(), "c1", failed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.ID == failed.ID {
		t.Error("retry reused the failed id")
	}
	p.Wait()

	if _, ok := c.Get("c1", failed.ID); ok {
		t.Error("failed entry still cached after a successful retry")
	}
	if c.Len("c1") != 1 {
		t.Errorf("cache len = %d, want 1", c.Len("c1"))
	}

	// Only failed messages can be retried.
	sent := "srv-" + strings.TrimPrefix(retried.ID, ProvisionalPrefix)
	if _, err := p.Retry(context.Background(), "c1", sent); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry(sent) error = %v, want ErrNotRetryable", err)
	}
}

func TestRetryTwiceSendsOnce(t *testing.T) {
	mock := &mockSender{err: errors.New("timeout")}
	p, c, _ := newPipeline(t, mock)

	failed, _ := p.Submit(context.Background(), "c1", Draft{Text: "again"})
	p.Wait()

	gate := make(chan struct{})
	mock.mu.Lock()
	mock.err = nil
	mock.gate = gate
	mock.mu.Unlock()

	if _, err := p.Retry(context.Background(), "c1", failed.ID); err != nil {
		t.Fatal(err)
	}
	// The first retry is still in flight.
	if _, err := p.Retry(context.Background(), "c1", failed.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("second Retry error = %v, want ErrNotRetryable", err)
	}
	close(gate)
	p.Wait()

	// Settled: the failed entry is gone.
	if _, err := p.Retry(context.Background(), "c1", failed.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry after settle error = %v, want ErrNotRetryable", err)
	}

	mock.mu.Lock()
	sends := len(mock.calls)
	mock.mu.Unlock()
	if sends != 2 {
		t.Errorf("sends = %d, want 2", sends)
	}
	w := c.Window("c1")
	if len(w.Messages) != 1 {
		t.Fatalf("window len = %d, want 1", len(w.Messages))
	}
	if w.Messages[0].State != domain.Sent {
		t.Errorf("state = %s, want sent", w.Messages[0].State)
	}
}

func TestFailedRetryLeavesOneErrorEntry(t *testing.T) {
	mock := &mockSender{err: errors.New("timeout")}
	p, c, _ := newPipeline(t, mock)

	failed, _ := p.Submit(context.Background(), "c1", Draft{Text: "again"})
	p.Wait()

	retried, err := p.Retry(context.Background(), "c1", failed.ID)
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	w := c.Window("c1")
	if len(w.Messages) != 1 {
		t.Fatalf("window len = %d, want 1", len(w.Messages))
	}
	if w.Messages[0].ID != retried.ID || w.Messages[0].State != domain.Error {
		t.Errorf("entry = %s/%s, want %s/error", w.Messages[0].ID, w.Messages[0].State, retried.ID)
	}

	// The new error entry can be retried in turn.
	mock.setErr(nil)
	if _, err := p.Retry(context.Background(), "c1", retried.ID); err != nil {
		t.Errorf("Retry(new entry) error = %v", err)
	}
	p.Wait()
	if c.Len("c1") != 1 {
		t.Errorf("cache len = %d, want 1", c.Len("c1"))
	}
}

func TestSubmitValidation(t *testing.T) {
	p, _, _ := newPipeline(t, &mockSender{})
	if _, err := p.Submit(context.Background(), "c1", Draft{Text: "  "}); !errors.Is(err, ErrEmptyDraft) {
		t.Errorf("blank draft error = %v, want ErrEmptyDraft", err)
	}
	if _, err := p.Submit(context.Background(), "", Draft{Text: "x"}); !errors.Is(err, domain.ErrNoActiveConversation) {
		t.Errorf("no conversation error = %v, want ErrNoActiveConversation", err)
	}
}

func pushedCopy(id, text string, ts time.Time) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: "c1",
		Direction:      domain.Outbound,
		Payload:        domain.TextPayload(text),
		Timestamp:      ts,
		State:          domain.Sent,
	}
}
