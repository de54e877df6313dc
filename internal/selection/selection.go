// Package selection tracks which conversation the operator is looking at.
package selection

import "sync"

// RoomMember joins and leaves push rooms. The transport manager implements it.
type RoomMember interface {
	JoinRoom(conversationID string)
	LeaveRoom(conversationID string)
}

// Token identifies one selection. Work started for a selection is only applied
// while its token is still current.
type Token struct {
	ConversationID string
	Gen            uint64
}

// Controller is the single source of truth for the active conversation.
type Controller struct {
	mu     sync.RWMutex
	active string
	gen    uint64
	rooms  RoomMember
}

// New creates a controller. rooms may be nil.
func New(rooms RoomMember) *Controller {
	return &Controller{rooms: rooms}
}

// Select makes id the active conversation and returns its token. Selecting
// the active conversation again keeps room membership but issues a new token.
func (c *Controller) Select(id string) Token {
	c.mu.Lock()
	prev := c.active
	c.active = id
	c.gen++
	tok := Token{ConversationID: id, Gen: c.gen}
	c.mu.Unlock()

	if c.rooms != nil && prev != id {
		if prev != "" {
			c.rooms.LeaveRoom(prev)
		}
		if id != "" {
			c.rooms.JoinRoom(id)
		}
	}
	return tok
}

// Active returns the active conversation id, or "" when nothing is selected.
func (c *Controller) Active() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// IsActive reports whether id is the active conversation.
func (c *Controller) IsActive(id string) bool {
	return id != "" && c.Active() == id
}

// IsCurrent reports whether tok belongs to the latest selection.
func (c *Controller) IsCurrent(tok Token) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return tok.Gen == c.gen && tok.ConversationID == c.active
}

// Clear drops the selection, leaving its room.
func (c *Controller) Clear() {
	c.Select("")
}
