package model

import (
	"context"
	"errors"
	"strings"
	"sync"

	"google.golang.org/grpc"

	"github.com/matheus3301/desk/internal/api"
	"github.com/matheus3301/desk/internal/bus"
)

// Console is the subset of the daemon API the view model drives.
type Console interface {
	GetStatus(ctx context.Context, in *api.GetStatusRequest, opts ...grpc.CallOption) (*api.StatusResponse, error)
	ListConversations(ctx context.Context, in *api.ListConversationsRequest, opts ...grpc.CallOption) (*api.ListConversationsResponse, error)
	SelectConversation(ctx context.Context, in *api.ConversationRequest, opts ...grpc.CallOption) (*api.WindowResponse, error)
	GetWindow(ctx context.Context, in *api.ConversationRequest, opts ...grpc.CallOption) (*api.WindowResponse, error)
	LoadOlderMessages(ctx context.Context, in *api.ConversationRequest, opts ...grpc.CallOption) (*api.WindowResponse, error)
	SubmitMessage(ctx context.Context, in *api.SubmitMessageRequest, opts ...grpc.CallOption) (*api.MessageResponse, error)
	RetryMessage(ctx context.Context, in *api.RetryMessageRequest, opts ...grpc.CallOption) (*api.MessageResponse, error)
	CloseConversation(ctx context.Context, in *api.ConversationRequest, opts ...grpc.CallOption) (*api.Empty, error)
	Connect(ctx context.Context, in *api.Empty, opts ...grpc.CallOption) (*api.ConnectionResponse, error)
	Disconnect(ctx context.Context, in *api.Empty, opts ...grpc.CallOption) (*api.ConnectionResponse, error)
}

// ErrNoSelection is returned by actions that need an open conversation.
var ErrNoSelection = errors.New("no conversation open")

// Refresh says which parts of the screen an event invalidated.
type Refresh struct {
	Status        bool
	Conversations bool
	Window        bool
}

// Any reports whether anything needs reloading.
func (r Refresh) Any() bool {
	return r.Status || r.Conversations || r.Window
}

// ViewModel caches what the daemon reported last and turns events into
// reload decisions.
type ViewModel struct {
	mu sync.RWMutex

	console       Console
	status        *api.StatusResponse
	conversations []api.Conversation
	window        *api.WindowResponse
	activeID      string
	replyTo       string
}

// NewViewModel creates a view model backed by the daemon console.
func NewViewModel(c Console) *ViewModel {
	return &ViewModel{console: c}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.console.GetStatus(ctx, &api.GetStatusRequest{})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	if resp.ActiveConversation != "" {
		vm.activeID = resp.ActiveConversation
	}
	vm.mu.Unlock()
	return nil
}

// LoadConversations fetches the ordered conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	resp, err := vm.console.ListConversations(ctx, &api.ListConversationsRequest{})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = resp.Conversations
	vm.mu.Unlock()
	return nil
}

// Select makes id the active conversation and stores its window.
func (vm *ViewModel) Select(ctx context.Context, id string) error {
	resp, err := vm.console.SelectConversation(ctx, &api.ConversationRequest{ConversationID: id})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.activeID != id {
		vm.replyTo = ""
	}
	vm.activeID = id
	vm.window = resp
	vm.mu.Unlock()
	return nil
}

// LoadWindow refreshes the active conversation's window.
func (vm *ViewModel) LoadWindow(ctx context.Context) error {
	id := vm.ActiveID()
	if id == "" {
		return ErrNoSelection
	}
	resp, err := vm.console.GetWindow(ctx, &api.ConversationRequest{ConversationID: id})
	if err != nil {
		return err
	}
	vm.setWindow(id, resp)
	return nil
}

// LoadOlder grows the active window by one page.
func (vm *ViewModel) LoadOlder(ctx context.Context) error {
	id := vm.ActiveID()
	if id == "" {
		return ErrNoSelection
	}
	resp, err := vm.console.LoadOlderMessages(ctx, &api.ConversationRequest{ConversationID: id})
	if err != nil {
		return err
	}
	vm.setWindow(id, resp)
	return nil
}

func (vm *ViewModel) setWindow(id string, w *api.WindowResponse) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	// A reply that lands after the operator switched away is stale.
	if vm.activeID == id {
		vm.window = w
	}
}

// Send submits text to the active conversation, quoting the pending reply
// target if one is set.
func (vm *ViewModel) Send(ctx context.Context, text string) (*api.Message, error) {
	vm.mu.RLock()
	replyTo := vm.replyTo
	vm.mu.RUnlock()

	resp, err := vm.console.SubmitMessage(ctx, &api.SubmitMessageRequest{Text: text, ReplyTo: replyTo})
	if err != nil {
		return nil, err
	}
	vm.mu.Lock()
	if vm.replyTo == replyTo {
		vm.replyTo = ""
	}
	vm.mu.Unlock()
	return &resp.Message, nil
}

// Retry resubmits a failed message in the active conversation.
func (vm *ViewModel) Retry(ctx context.Context, messageID string) (*api.Message, error) {
	id := vm.ActiveID()
	if id == "" {
		return nil, ErrNoSelection
	}
	resp, err := vm.console.RetryMessage(ctx, &api.RetryMessageRequest{ConversationID: id, MessageID: messageID})
	if err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// LastFailed returns the newest message of the window in the error state.
func (vm *ViewModel) LastFailed() (api.Message, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.window == nil {
		return api.Message{}, false
	}
	for i := len(vm.window.Messages) - 1; i >= 0; i-- {
		if vm.window.Messages[i].State == "error" {
			return vm.window.Messages[i], true
		}
	}
	return api.Message{}, false
}

// CloseActive closes the active conversation and clears the selection.
func (vm *ViewModel) CloseActive(ctx context.Context) error {
	id := vm.ActiveID()
	if id == "" {
		return ErrNoSelection
	}
	if _, err := vm.console.CloseConversation(ctx, &api.ConversationRequest{ConversationID: id}); err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.activeID == id {
		vm.activeID = ""
		vm.window = nil
		vm.replyTo = ""
	}
	vm.mu.Unlock()
	return nil
}

// Connect asks the daemon to bring the transport up.
func (vm *ViewModel) Connect(ctx context.Context) (string, error) {
	resp, err := vm.console.Connect(ctx, &api.Empty{})
	if err != nil {
		return "", err
	}
	return resp.State, nil
}

// Disconnect asks the daemon to take the transport down.
func (vm *ViewModel) Disconnect(ctx context.Context) (string, error) {
	resp, err := vm.console.Disconnect(ctx, &api.Empty{})
	if err != nil {
		return "", err
	}
	return resp.State, nil
}

// SetReplyTo marks messageID as the target of the next send. Empty clears it.
func (vm *ViewModel) SetReplyTo(messageID string) {
	vm.mu.Lock()
	vm.replyTo = messageID
	vm.mu.Unlock()
}

// ReplyTo returns the pending reply target.
func (vm *ViewModel) ReplyTo() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.replyTo
}

// Find resolves a conversation by exact id, then by case-insensitive name or
// ticket substring.
func (vm *ViewModel) Find(query string) (api.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == query {
			return c, true
		}
	}
	q := strings.ToLower(query)
	for _, c := range vm.conversations {
		if strings.Contains(strings.ToLower(c.DisplayName), q) || strings.Contains(strings.ToLower(c.TicketNumber), q) {
			return c, true
		}
	}
	return api.Conversation{}, false
}

// Classify decides what an engine event invalidates.
func (vm *ViewModel) Classify(evt *api.Event) Refresh {
	active := vm.ActiveID()
	touchesActive := active != "" && evt.Data["conversation_id"] == active

	switch {
	case evt.Missed > 0:
		return Refresh{Status: true, Conversations: true, Window: active != ""}
	case strings.HasPrefix(evt.Kind, "transport."):
		return Refresh{Status: true}
	case evt.Kind == bus.KindConversationRemoved:
		if touchesActive {
			vm.mu.Lock()
			vm.activeID = ""
			vm.window = nil
			vm.mu.Unlock()
		}
		return Refresh{Status: true, Conversations: true}
	case strings.HasPrefix(evt.Kind, "conversation."):
		return Refresh{Conversations: true, Window: touchesActive}
	case strings.HasPrefix(evt.Kind, "message."):
		return Refresh{Status: true, Conversations: true, Window: touchesActive}
	case strings.HasPrefix(evt.Kind, "unread."):
		return Refresh{Status: true, Conversations: true}
	}
	return Refresh{}
}

// Status returns the last fetched daemon status.
func (vm *ViewModel) Status() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Conversations returns the last fetched conversation list.
func (vm *ViewModel) Conversations() []api.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// Window returns the active conversation's last fetched window.
func (vm *ViewModel) Window() *api.WindowResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.window
}

// ActiveID returns the id of the open conversation.
func (vm *ViewModel) ActiveID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeID
}
