// Package outbox implements optimistic sends: a provisional entry appears in
// the cache immediately and is reconciled with the server copy later.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/cache"
	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/wire"
)

// DefaultReconcileWindow is how far apart a provisional entry and a pushed
// copy may be and still match by content.
const DefaultReconcileWindow = 2 * time.Minute

// ProvisionalPrefix starts every locally generated message id.
const ProvisionalPrefix = "tmp-"

var (
	// ErrEmptyDraft is returned for a draft with neither text nor attachment.
	ErrEmptyDraft = errors.New("empty message")
	// ErrNotRetryable is returned when retrying a message that has not failed.
	ErrNotRetryable = errors.New("message is not in error state")
)

// Sender submits messages to the backend.
type Sender interface {
	SendMessage(ctx context.Context, conversationID string, req wire.SendRequest) (domain.Message, error)
}

// Draft is what the operator composed.
type Draft struct {
	Text          string
	AttachmentRef string
	ReplyToID     string
}

func (d Draft) payload() domain.Payload {
	if d.AttachmentRef != "" {
		return domain.Payload{Type: domain.PayloadDocument, MediaID: d.AttachmentRef, Caption: d.Text}
	}
	return domain.TextPayload(d.Text)
}

// Options configures a Pipeline.
type Options struct {
	ReconcileWindow time.Duration

	// Turn runs a mutation atomically with respect to the caller's other
	// mutations. Nil runs it directly.
	Turn func(fn func())
}

// Pipeline owns the optimistic send lifecycle.
type Pipeline struct {
	cache  *cache.Cache
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger
	window time.Duration
	turn   func(fn func())
	now    func() time.Time

	mu     sync.Mutex
	drafts map[string]Draft
	// supersedes maps a retry's provisional id to the failed entry it
	// replaces; retried holds failed ids with a retry in flight.
	supersedes map[string]string
	retried    map[string]struct{}

	inflight atomic.Int64
	wg       sync.WaitGroup
}

// NewPipeline creates a send pipeline writing provisional entries into c.
func NewPipeline(c *cache.Cache, sender Sender, b *bus.Bus, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReconcileWindow <= 0 {
		opts.ReconcileWindow = DefaultReconcileWindow
	}
	turn := opts.Turn
	if turn == nil {
		turn = func(fn func()) { fn() }
	}
	return &Pipeline{
		cache:  c,
		sender: sender,
		bus:    b,
		logger: logger.Named("outbox"),
		window: opts.ReconcileWindow,
		turn:   turn,
		now:    time.Now,
		drafts: make(map[string]Draft),

		supersedes: make(map[string]string),
		retried:    make(map[string]struct{}),
	}
}

// Submit inserts a pending provisional entry and sends it in the background.
// The returned message is the provisional entry.
func (p *Pipeline) Submit(ctx context.Context, conversationID string, d Draft) (domain.Message, error) {
	return p.submit(ctx, conversationID, d, "")
}

func (p *Pipeline) submit(ctx context.Context, conversationID string, d Draft, supersedes string) (domain.Message, error) {
	if conversationID == "" {
		return domain.Message{}, domain.ErrNoActiveConversation
	}
	if strings.TrimSpace(d.Text) == "" && d.AttachmentRef == "" {
		return domain.Message{}, ErrEmptyDraft
	}

	id := ProvisionalPrefix + uuid.NewString()
	m := domain.Message{
		ID:             id,
		ClientID:       id,
		ConversationID: conversationID,
		Direction:      domain.Outbound,
		Payload:        d.payload(),
		Timestamp:      p.now(),
		State:          domain.Pending,
		ReplyToID:      d.ReplyToID,
	}
	p.cache.ApplyInsert(m)
	p.mu.Lock()
	p.drafts[id] = d
	if supersedes != "" {
		p.supersedes[id] = supersedes
	}
	p.mu.Unlock()
	p.bus.Emit(bus.KindMessageUpserted, map[string]string{"conversation_id": conversationID, "message_id": id})

	p.inflight.Add(1)
	p.wg.Add(1)
	go p.send(context.WithoutCancel(ctx), m, d)

	return m, nil
}

// Retry submits the draft of a failed message again as a new provisional
// entry. The failed entry stays visible until the retry settles and is then
// removed, whatever the outcome; a failed retry leaves its own error entry.
// A failed id can be retried once.
func (p *Pipeline) Retry(ctx context.Context, conversationID, id string) (domain.Message, error) {
	cur, ok := p.cache.Get(conversationID, id)
	if !ok || cur.State != domain.Error {
		return domain.Message{}, ErrNotRetryable
	}
	p.mu.Lock()
	if _, busy := p.retried[id]; busy {
		p.mu.Unlock()
		return domain.Message{}, ErrNotRetryable
	}
	p.retried[id] = struct{}{}
	d, ok := p.drafts[id]
	delete(p.drafts, id)
	p.mu.Unlock()
	if !ok {
		d = Draft{ReplyToID: cur.ReplyToID}
		if cur.Payload.IsMedia() {
			d.AttachmentRef = cur.Payload.MediaID
			d.Text = cur.Payload.Caption
		} else {
			d.Text = cur.Payload.Text
		}
	}
	m, err := p.submit(ctx, conversationID, d, id)
	if err != nil {
		p.mu.Lock()
		delete(p.retried, id)
		p.mu.Unlock()
	}
	return m, err
}

// Reconcile matches an outbound message from the push stream against the
// provisional entries of its conversation: first by echoed client id, then by
// identical content within the reconcile window. A match is replaced by the
// server copy and Reconcile reports true.
func (p *Pipeline) Reconcile(m domain.Message) bool {
	if m.Direction == domain.Inbound || m.ID == "" || m.ConversationID == "" {
		return false
	}

	var provID string
	if m.ClientID != "" && m.ClientID != m.ID {
		if cur, ok := p.cache.Get(m.ConversationID, m.ClientID); ok && cur.Provisional() {
			provID = cur.ID
		}
	}
	if provID == "" {
		if m.Direction != domain.Outbound {
			return false
		}
		if _, known := p.cache.Get(m.ConversationID, m.ID); known {
			return false
		}
		cur, ok := p.cache.FindProvisional(m.ConversationID, func(c *domain.Message) bool {
			return c.Direction == domain.Outbound && c.State == domain.Pending &&
				samePayload(c.Payload, m.Payload) && within(c.Timestamp, m.Timestamp, p.window)
		})
		if !ok {
			return false
		}
		provID = cur.ID
	}

	if m.Direction == "" {
		m.Direction = domain.Outbound
	}
	p.cache.Rekey(m.ConversationID, provID, m)
	p.mu.Lock()
	delete(p.drafts, provID)
	p.mu.Unlock()
	p.settle(m.ConversationID, provID)
	p.logger.Debug("provisional message reconciled",
		zap.String("conversation_id", m.ConversationID),
		zap.String("client_id", provID),
		zap.String("message_id", m.ID))
	return true
}

// Pending returns the number of sends in flight.
func (p *Pipeline) Pending() int {
	return int(p.inflight.Load())
}

// Wait blocks until all in-flight sends have completed.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) send(ctx context.Context, m domain.Message, d Draft) {
	defer p.wg.Done()
	defer p.inflight.Add(-1)

	req := wire.SendRequest{
		ClientID:      m.ClientID,
		Type:          string(m.Payload.Type),
		AttachmentRef: d.AttachmentRef,
		ReplyTo:       d.ReplyToID,
	}
	if d.AttachmentRef == "" {
		req.Content, _ = json.Marshal(d.Text)
	} else {
		req.Content, _ = json.Marshal(m.Payload)
	}

	var confirmed domain.Message
	err := errors.New("no sender configured")
	if p.sender != nil {
		confirmed, err = p.sender.SendMessage(ctx, m.ConversationID, req)
	}

	p.turn(func() {
		if err != nil {
			p.fail(m, err)
			return
		}
		p.confirm(m, confirmed)
	})
}

func (p *Pipeline) fail(m domain.Message, err error) {
	serr := &domain.SendError{ConversationID: m.ConversationID, MessageID: m.ID, Err: err}
	cur, ok := p.cache.Get(m.ConversationID, m.ID)
	if !ok || !cur.Provisional() {
		// Already replaced by a pushed copy, so the send did land.
		p.logger.Warn("send reported failure after confirmation", zap.Error(serr))
		return
	}
	cur.State = domain.Error
	p.cache.ApplyUpdate(cur)
	p.settle(m.ConversationID, m.ID)
	p.logger.Error("failed to send message", zap.Error(serr))
	p.bus.Emit(bus.KindMessageSendFailed, map[string]string{
		"conversation_id": m.ConversationID,
		"message_id":      m.ID,
		"error":           err.Error(),
	})
}

func (p *Pipeline) confirm(m, confirmed domain.Message) {
	if confirmed.ID == "" {
		confirmed.ID = m.ID
	}
	confirmed.ConversationID = m.ConversationID
	confirmed.ClientID = m.ClientID
	confirmed.Direction = domain.Outbound
	confirmed.State = domain.Sent.Merge(confirmed.State)
	if confirmed.Payload.Empty() {
		confirmed.Payload = m.Payload
	}
	if confirmed.ID == m.ID {
		// Backend kept our id; only the state moves.
		p.cache.ApplyUpdate(confirmed)
	} else {
		p.cache.Rekey(m.ConversationID, m.ID, confirmed)
	}
	p.mu.Lock()
	delete(p.drafts, m.ID)
	p.mu.Unlock()
	p.settle(m.ConversationID, m.ID)

	p.logger.Info("message sent", zap.String("client_id", m.ID), zap.String("message_id", confirmed.ID))
	p.bus.Emit(bus.KindMessageUpserted, map[string]string{
		"conversation_id": m.ConversationID,
		"message_id":      confirmed.ID,
		"replaced_id":     m.ID,
	})
}

// settle removes the failed entry a retry with provisional id provID
// superseded.
func (p *Pipeline) settle(conversationID, provID string) {
	p.mu.Lock()
	old, ok := p.supersedes[provID]
	delete(p.supersedes, provID)
	delete(p.retried, old)
	p.mu.Unlock()
	if !ok {
		return
	}
	if p.cache.Remove(conversationID, old) {
		p.logger.Debug("retried message superseded",
			zap.String("conversation_id", conversationID),
			zap.String("message_id", old),
			zap.String("client_id", provID))
	}
}

func samePayload(a, b domain.Payload) bool {
	if a.Type != b.Type {
		return false
	}
	if a.IsMedia() {
		return a.MediaID == b.MediaID && a.Caption == b.Caption
	}
	return strings.TrimSpace(a.Text) == strings.TrimSpace(b.Text)
}

func within(a, b time.Time, d time.Duration) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d
}
