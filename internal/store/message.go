package store

import (
	"database/sql"
	"errors"
	"time"
)

const messageColumns = `id, conversation_id, client_id, direction, type, content, status, reply_to, timestamp`

func scanMessage(s interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := s.Scan(&m.ID, &m.ConversationID, &m.ClientID, &m.Direction, &m.Type, &m.Content,
		&m.Status, &m.ReplyTo, &m.Timestamp)
	return m, err
}

// InsertMessage stores a new message. A message whose client id was already
// stored for the conversation is not inserted again; the stored copy is
// returned with created=false.
func (db *DB) InsertMessage(m *Message) (stored Message, created bool, err error) {
	if m.ClientID != "" {
		existing, err := db.MessageByClientID(m.ConversationID, m.ClientID)
		if err == nil {
			return *existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Message{}, false, err
		}
	}
	_, err = db.Exec(`
		INSERT INTO messages (`+messageColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.ClientID, m.Direction, m.Type, m.Content, m.Status, m.ReplyTo, m.Timestamp,
		time.Now().UnixMilli())
	if err != nil {
		return Message{}, false, err
	}
	return *m, true, nil
}

// GetMessage returns one message or ErrNotFound.
func (db *DB) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageByClientID looks a message up by the id its sender generated.
func (db *DB) MessageByClientID(conversationID, clientID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND client_id = ?`, conversationID, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the whole history of a conversation, oldest first.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpdateMessageStatus sets a message's delivery status and returns the row.
func (db *DB) UpdateMessageStatus(id, status string) (*Message, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetMessage(id)
}
