// Package directory holds the conversation summaries shown in the sidebar.
package directory

import (
	"slices"
	"sync"

	"github.com/matheus3301/desk/internal/domain"
)

// Directory is the set of known conversations, one record per id.
type Directory struct {
	mu    sync.RWMutex
	convs map[string]*domain.Conversation
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{convs: make(map[string]*domain.Conversation)}
}

// Merge applies a partial update, creating the record if absent, and returns
// the merged record.
func (d *Directory) Merge(id string, p domain.ConversationPatch) domain.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.getOrCreate(id)
	p.Apply(c)
	return *c
}

// NoteMessage refreshes the snippet and activity time of the message's
// conversation. Messages older than the stored activity time are ignored. It
// reports whether the record changed.
func (d *Directory) NoteMessage(m domain.Message) (domain.Conversation, bool) {
	if m.ConversationID == "" {
		return domain.Conversation{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.getOrCreate(m.ConversationID)
	if m.Payload.Empty() {
		// Status-only update; nothing to preview.
		return *c, false
	}
	if !m.Timestamp.IsZero() && m.Timestamp.Before(c.LastAt) {
		return *c, false
	}
	snippet := m.Snippet()
	if c.LastSnippet == snippet && (m.Timestamp.IsZero() || c.LastAt.Equal(m.Timestamp)) {
		return *c, false
	}
	c.LastSnippet = snippet
	if !m.Timestamp.IsZero() {
		c.LastAt = m.Timestamp
	}
	return *c, true
}

// Remove deletes a conversation and reports whether it existed.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.convs[id]
	delete(d.convs, id)
	return ok
}

// Get returns a copy of a conversation record.
func (d *Directory) Get(id string) (domain.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.convs[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return *c, true
}

// List returns all conversations, most recent activity first.
func (d *Directory) List() []domain.Conversation {
	d.mu.RLock()
	out := make([]domain.Conversation, 0, len(d.convs))
	for _, c := range d.convs {
		out = append(out, *c)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Conversation) int {
		if c := b.LastAt.Compare(a.LastAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of known conversations.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.convs)
}

func (d *Directory) getOrCreate(id string) *domain.Conversation {
	c, ok := d.convs[id]
	if !ok {
		c = &domain.Conversation{ID: id, Status: domain.StatusOpen}
		d.convs[id] = c
	}
	return c
}
