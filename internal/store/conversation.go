package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpsertConversation inserts a conversation or updates its descriptive fields.
// Activity fields (last_message, last_at) are only moved forward.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	if c.Status == "" {
		c.Status = "open"
	}
	_, err := db.Exec(`
		INSERT INTO conversations (id, display_name, ticket_number, queue, status, channel, last_message, last_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = COALESCE(NULLIF(excluded.display_name, ''), conversations.display_name),
			ticket_number = COALESCE(NULLIF(excluded.ticket_number, ''), conversations.ticket_number),
			queue = COALESCE(NULLIF(excluded.queue, ''), conversations.queue),
			status = excluded.status,
			channel = COALESCE(NULLIF(excluded.channel, ''), conversations.channel),
			last_message = CASE WHEN excluded.last_at > conversations.last_at THEN excluded.last_message ELSE conversations.last_message END,
			last_at = MAX(conversations.last_at, excluded.last_at),
			updated_at = excluded.updated_at`,
		c.ID, c.DisplayName, c.TicketNumber, c.Queue, c.Status, c.Channel, c.LastMessage, c.LastAt, now, now)
	return err
}

const conversationColumns = `
	c.id, c.display_name, c.ticket_number, c.queue, c.status, c.channel, c.last_message, c.last_at,
	COALESCE(r.counter, 0), COALESCE(r.last_checked, 0)`

func scanConversation(s interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	err := s.Scan(&c.ID, &c.DisplayName, &c.TicketNumber, &c.Queue, &c.Status, &c.Channel,
		&c.LastMessage, &c.LastAt, &c.Unread, &c.LastChecked)
	return c, err
}

// ListConversations returns open conversations, most recent activity first,
// with their read state.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT` + conversationColumns + `
		FROM conversations c
		LEFT JOIN read_state r ON r.conversation_id = c.id
		WHERE c.status <> 'closed'
		ORDER BY c.last_at DESC, c.id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns one conversation or ErrNotFound.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT`+conversationColumns+`
		FROM conversations c
		LEFT JOIN read_state r ON r.conversation_id = c.id
		WHERE c.id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetConversationStatus changes a conversation's status.
func (db *DB) SetConversationStatus(id, status string) error {
	res, err := db.Exec(`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConversation records new activity on a conversation. Older activity is
// ignored.
func (db *DB) TouchConversation(id, preview string, at int64) error {
	_, err := db.Exec(`
		UPDATE conversations
		SET last_message = ?, last_at = ?, updated_at = ?
		WHERE id = ? AND last_at <= ?`,
		preview, at, time.Now().UnixMilli(), id, at)
	return err
}
