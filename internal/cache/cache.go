// Package cache keeps the per-conversation message history: ordered,
// deduplicated, merged from snapshots and push events, and exposed as a
// backward-expanding window.
package cache

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/desk/internal/domain"
)

// DefaultPageSize is the number of messages per window page.
const DefaultPageSize = 100

// UpdateOutcome describes what ApplyUpdate did.
type UpdateOutcome int

const (
	// OutcomeReplaced means an existing entry was updated in place.
	OutcomeReplaced UpdateOutcome = iota
	// OutcomeInserted means the id was unknown and the update became an insert.
	OutcomeInserted
	// OutcomeIgnored means the message had no id.
	OutcomeIgnored
)

// Window is a contiguous suffix of a conversation's history.
type Window struct {
	ConversationID string
	Messages       []domain.Message
	Pages          int
	HasMore        bool
	Total          int
}

type thread struct {
	msgs   []*domain.Message // ordered by (Timestamp, Seq)
	byID   map[string]*domain.Message
	pages  int
	loaded bool
}

// Cache holds the message history of every conversation seen so far.
type Cache struct {
	mu       sync.RWMutex
	pageSize int
	seq      uint64
	threads  map[string]*thread
}

// New creates a cache. A non-positive pageSize selects DefaultPageSize.
func New(pageSize int) *Cache {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cache{
		pageSize: pageSize,
		threads:  make(map[string]*thread),
	}
}

// PageSize returns the window page size.
func (c *Cache) PageSize() int {
	return c.pageSize
}

// LoadSnapshot merges a fetched history into the conversation and marks it as
// loaded. Entries already present (for example delivered by push while the
// fetch was in flight) are merged, never discarded. Calling it twice with the
// same data leaves the same state.
func (c *Cache) LoadSnapshot(conversationID string, msgs []domain.Message) {
	sorted := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		m.ConversationID = conversationID
		sorted = append(sorted, m)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return strings.Compare(a.ID, b.ID) < 0
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.threadLocked(conversationID)
	for i := range sorted {
		m := sorted[i]
		if existing, ok := t.byID[m.ID]; ok {
			t.replace(existing, m)
			continue
		}
		c.seq++
		m.Seq = c.seq
		t.insert(&m)
	}
	t.loaded = true
}

// ApplyInsert adds a message. When its id is already present, only the
// fields the stored entry lacks are filled in (an earlier update may have
// carried nothing but a status), and the state merges forward. It reports
// whether the cache changed.
func (c *Cache) ApplyInsert(m domain.Message) bool {
	if m.ID == "" || m.ConversationID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.threadLocked(m.ConversationID)
	if existing, ok := t.byID[m.ID]; ok {
		return t.fill(existing, m)
	}
	c.seq++
	m.Seq = c.seq
	t.insert(&m)
	return true
}

// Remove deletes a single message. It reports whether the id was cached.
func (c *Cache) Remove(conversationID, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[conversationID]
	if !ok {
		return false
	}
	m, ok := t.byID[id]
	if !ok {
		return false
	}
	t.remove(m)
	return true
}

// ApplyUpdate replaces the entry with the same id. Delivery state never moves
// backward. An unknown id is inserted instead of dropped.
func (c *Cache) ApplyUpdate(m domain.Message) UpdateOutcome {
	if m.ID == "" || m.ConversationID == "" {
		return OutcomeIgnored
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.threadLocked(m.ConversationID)
	existing, ok := t.byID[m.ID]
	if !ok {
		c.seq++
		m.Seq = c.seq
		t.insert(&m)
		return OutcomeInserted
	}
	t.replace(existing, m)
	return OutcomeReplaced
}

// Rekey replaces the entry oldID with m, which carries a different id. When m's
// id is already cached both entries collapse into one. It reports whether
// oldID was found; if not, m is applied as an update.
func (c *Cache) Rekey(conversationID, oldID string, m domain.Message) bool {
	if m.ID == "" {
		return false
	}
	m.ConversationID = conversationID
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.threadLocked(conversationID)
	old, ok := t.byID[oldID]
	if !ok {
		if existing, found := t.byID[m.ID]; found {
			t.replace(existing, m)
		} else {
			c.seq++
			m.Seq = c.seq
			t.insert(&m)
		}
		return false
	}

	t.remove(old)
	if m.ClientID == "" {
		m.ClientID = old.ClientID
	}
	m.State = old.State.Merge(m.State)
	if existing, found := t.byID[m.ID]; found {
		t.replace(existing, m)
		return true
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = old.Timestamp
	}
	if m.Payload.Empty() {
		m.Payload = old.Payload
	}
	m.Seq = old.Seq
	t.insert(&m)
	return true
}

// Get returns a copy of a cached message.
func (c *Cache) Get(conversationID, id string) (domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.threads[conversationID]
	if !ok {
		return domain.Message{}, false
	}
	m, ok := t.byID[id]
	if !ok {
		return domain.Message{}, false
	}
	return *m, true
}

// Find returns the newest message matching fn.
func (c *Cache) Find(conversationID string, fn func(*domain.Message) bool) (domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.threads[conversationID]
	if !ok {
		return domain.Message{}, false
	}
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if fn(t.msgs[i]) {
			return *t.msgs[i], true
		}
	}
	return domain.Message{}, false
}

// FindProvisional returns the oldest provisional message matching fn.
func (c *Cache) FindProvisional(conversationID string, fn func(*domain.Message) bool) (domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.threads[conversationID]
	if !ok {
		return domain.Message{}, false
	}
	for _, m := range t.msgs {
		if m.Provisional() && fn(m) {
			return *m, true
		}
	}
	return domain.Message{}, false
}

// Loaded reports whether a snapshot has been merged for the conversation.
func (c *Cache) Loaded(conversationID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.threads[conversationID]
	return ok && t.loaded
}

// Len returns the number of cached messages for the conversation.
func (c *Cache) Len(conversationID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.threads[conversationID]; ok {
		return len(t.msgs)
	}
	return 0
}

// Drop forgets a conversation entirely.
func (c *Cache) Drop(conversationID string) {
	c.mu.Lock()
	delete(c.threads, conversationID)
	c.mu.Unlock()
}

// Window returns the conversation's current window.
func (c *Cache) Window(conversationID string) Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pages := 1
	if t, ok := c.threads[conversationID]; ok {
		pages = t.pageCount()
	}
	return c.windowLocked(conversationID, pages)
}

// GetWindow returns the last pages*pageSize messages of a conversation.
func (c *Cache) GetWindow(conversationID string, pages int) Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.windowLocked(conversationID, pages)
}

// ExpandWindow grows the window by one page and returns it. It stops growing
// once the whole history is visible.
func (c *Cache) ExpandWindow(conversationID string) Window {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.threadLocked(conversationID)
	pages := t.pageCount()
	if pages*c.pageSize < len(t.msgs) {
		pages++
	}
	t.pages = pages
	return c.windowLocked(conversationID, pages)
}

// ResetWindow shrinks the window back to one page.
func (c *Cache) ResetWindow(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threadLocked(conversationID).pages = 1
}

func (c *Cache) windowLocked(conversationID string, pages int) Window {
	if pages < 1 {
		pages = 1
	}
	w := Window{ConversationID: conversationID, Pages: pages}
	t, ok := c.threads[conversationID]
	if !ok {
		return w
	}
	start := max(len(t.msgs)-pages*c.pageSize, 0)
	w.Messages = make([]domain.Message, 0, len(t.msgs)-start)
	for _, m := range t.msgs[start:] {
		w.Messages = append(w.Messages, *m)
	}
	w.HasMore = start > 0
	w.Total = len(t.msgs)
	return w
}

func (c *Cache) threadLocked(conversationID string) *thread {
	t, ok := c.threads[conversationID]
	if !ok {
		t = &thread{byID: make(map[string]*domain.Message), pages: 1}
		c.threads[conversationID] = t
	}
	return t
}

func (t *thread) pageCount() int {
	if t.pages < 1 {
		return 1
	}
	return t.pages
}

func less(a, b *domain.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

// insert places m in order: append when it is not older than the tail,
// binary-search otherwise.
func (t *thread) insert(m *domain.Message) {
	n := len(t.msgs)
	if n == 0 || !less(m, t.msgs[n-1]) {
		t.msgs = append(t.msgs, m)
	} else {
		i := sort.Search(n, func(i int) bool { return less(m, t.msgs[i]) })
		t.msgs = slices.Insert(t.msgs, i, m)
	}
	t.byID[m.ID] = m
}

func (t *thread) remove(m *domain.Message) {
	i := sort.Search(len(t.msgs), func(i int) bool { return !less(t.msgs[i], m) })
	if i < len(t.msgs) && t.msgs[i] == m {
		t.msgs = slices.Delete(t.msgs, i, i+1)
	} else if j := slices.Index(t.msgs, m); j >= 0 {
		t.msgs = slices.Delete(t.msgs, j, j+1)
	}
	delete(t.byID, m.ID)
}

// replace merges next into the stored entry, keeping its arrival sequence and
// never moving its delivery state backward. Zero-valued fields of next keep
// the stored value.
func (t *thread) replace(existing *domain.Message, next domain.Message) {
	next.Seq = existing.Seq
	next.State = existing.State.Merge(next.State)
	if next.ClientID == "" {
		next.ClientID = existing.ClientID
	}
	if next.Payload.Empty() {
		next.Payload = existing.Payload
	}
	if next.ReplyToID == "" {
		next.ReplyToID = existing.ReplyToID
	}
	if next.Direction == "" {
		next.Direction = existing.Direction
	}
	if next.Timestamp.IsZero() {
		next.Timestamp = existing.Timestamp
	}
	if next.Timestamp.Equal(existing.Timestamp) {
		*existing = next
		return
	}
	t.remove(existing)
	t.insert(&next)
}

// fill completes existing with the fields of m it does not have yet. Known
// fields are kept.
func (t *thread) fill(existing *domain.Message, m domain.Message) bool {
	next := *existing
	changed := false
	if next.Payload.Empty() && !m.Payload.Empty() {
		next.Payload, changed = m.Payload, true
	}
	if next.Timestamp.IsZero() && !m.Timestamp.IsZero() {
		next.Timestamp, changed = m.Timestamp, true
	}
	if next.Direction == "" && m.Direction != "" {
		next.Direction, changed = m.Direction, true
	}
	if next.ReplyToID == "" && m.ReplyToID != "" {
		next.ReplyToID, changed = m.ReplyToID, true
	}
	if next.ClientID == "" && m.ClientID != "" {
		next.ClientID, changed = m.ClientID, true
	}
	if st := existing.State.Merge(m.State); st != existing.State {
		next.State, changed = st, true
	}
	if !changed {
		return false
	}
	t.replace(existing, next)
	return true
}
