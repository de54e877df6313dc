package store

import (
	"database/sql"
	"errors"
	"time"
)

// PutReadState stores the operator's read marker.
func (db *DB) PutReadState(rs ReadState) error {
	_, err := db.Exec(`
		INSERT INTO read_state (conversation_id, counter, last_checked)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			counter = excluded.counter,
			last_checked = excluded.last_checked`,
		rs.ConversationID, rs.Counter, rs.LastChecked)
	return err
}

// IncrementUnread bumps the unread counter of a conversation.
func (db *DB) IncrementUnread(conversationID string) error {
	_, err := db.Exec(`
		INSERT INTO read_state (conversation_id, counter, last_checked)
		VALUES (?, 1, 0)
		ON CONFLICT(conversation_id) DO UPDATE SET counter = read_state.counter + 1`,
		conversationID)
	return err
}

// GetReadState returns the read marker; an unknown conversation reads as zero.
func (db *DB) GetReadState(conversationID string) (ReadState, error) {
	rs := ReadState{ConversationID: conversationID}
	err := db.QueryRow(`SELECT counter, last_checked FROM read_state WHERE conversation_id = ?`, conversationID).
		Scan(&rs.Counter, &rs.LastChecked)
	if errors.Is(err, sql.ErrNoRows) {
		return rs, nil
	}
	return rs, err
}

// SetPresence records whether an operator is online.
func (db *DB) SetPresence(agent string, online bool) error {
	_, err := db.Exec(`
		INSERT INTO presence (agent, online, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent) DO UPDATE SET
			online = excluded.online,
			updated_at = excluded.updated_at`,
		agent, online, time.Now().UnixMilli())
	return err
}

// Presence reports whether an operator is online.
func (db *DB) Presence(agent string) (bool, error) {
	var online bool
	err := db.QueryRow(`SELECT online FROM presence WHERE agent = ?`, agent).Scan(&online)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return online, err
}
