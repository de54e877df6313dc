package store

// Conversation is a support ticket thread.
type Conversation struct {
	ID           string
	DisplayName  string
	TicketNumber string
	Queue        string
	Status       string
	Channel      string
	LastMessage  string
	LastAt       int64

	// Filled by ListConversations from read_state.
	Unread      int
	LastChecked int64
}

// Message is one stored message. Content holds the payload as JSON.
type Message struct {
	ID             string
	ConversationID string
	ClientID       string
	Direction      string
	Type           string
	Content        string
	Status         string
	ReplyTo        string
	Timestamp      int64
}

// ReadState is the operator's read marker for a conversation.
type ReadState struct {
	ConversationID string
	Counter        int
	LastChecked    int64
}
