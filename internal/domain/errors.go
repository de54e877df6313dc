package domain

import (
	"errors"
	"fmt"
)

// ErrMergeConflict marks an update that referenced a message the cache did not
// know. The update is applied as an insert.
var ErrMergeConflict = errors.New("update for unknown message")

// ErrNoActiveConversation is returned by operations that need a selection.
var ErrNoActiveConversation = errors.New("no active conversation")

// ErrUnknownConversation is returned when a conversation id is not in the directory.
var ErrUnknownConversation = errors.New("unknown conversation")

// TransportError is a connection or heartbeat failure of the push transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FetchError is a failed snapshot fetch or read-state persist.
type FetchError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *FetchError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("fetch %s %q: %v", e.Op, e.ConversationID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SendError is an optimistic message that failed to confirm.
type SendError struct {
	ConversationID string
	MessageID      string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s in %q: %v", e.MessageID, e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
