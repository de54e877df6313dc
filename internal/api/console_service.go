package api

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/outbox"
	"github.com/matheus3301/desk/internal/readstate"
	"github.com/matheus3301/desk/internal/status"
	intsync "github.com/matheus3301/desk/internal/sync"
)

const watchBuffer = 128

// Engine is the part of the conversation engine the console service exposes.
type Engine interface {
	Conversations() []intsync.Summary
	Active() string
	SelectConversation(ctx context.Context, id string) (intsync.View, error)
	View(id string) intsync.View
	LoadOlderMessages(id string) intsync.View
	SubmitMessage(ctx context.Context, d outbox.Draft) (domain.Message, error)
	RetryMessage(ctx context.Context, conversationID, messageID string) (domain.Message, error)
	CloseConversation(ctx context.Context, id string) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	ConnectionState() status.State
	PendingSends() int
}

// ConsoleService implements the ConsoleService gRPC service.
type ConsoleService struct {
	profile string
	engine  Engine
	bus     *bus.Bus
	started time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewConsoleService creates a new ConsoleService.
func NewConsoleService(profile string, engine Engine, b *bus.Bus) *ConsoleService {
	return &ConsoleService{
		profile: profile,
		engine:  engine,
		bus:     b,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Shutdown ends every open WatchEvents stream.
func (s *ConsoleService) Shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Register attaches the service to a gRPC server.
func (s *ConsoleService) Register(srv *grpc.Server) {
	RegisterConsoleServer(srv, s)
}

func (s *ConsoleService) GetStatus(_ context.Context, _ *GetStatusRequest) (*StatusResponse, error) {
	convs := s.engine.Conversations()
	unread := 0
	for _, c := range convs {
		unread += c.Unread
	}
	return &StatusResponse{
		Profile:            s.profile,
		State:              string(s.engine.ConnectionState()),
		ActiveConversation: s.engine.Active(),
		Conversations:      len(convs),
		Unread:             unread,
		PendingSends:       s.engine.PendingSends(),
		UptimeMs:           time.Since(s.started).Milliseconds(),
	}, nil
}

func (s *ConsoleService) ListConversations(_ context.Context, _ *ListConversationsRequest) (*ListConversationsResponse, error) {
	convs := s.engine.Conversations()
	out := &ListConversationsResponse{Conversations: make([]Conversation, 0, len(convs))}
	for _, c := range convs {
		out.Conversations = append(out.Conversations, conversationToAPI(c))
	}
	return out, nil
}

func (s *ConsoleService) SelectConversation(ctx context.Context, req *ConversationRequest) (*WindowResponse, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation_id is required")
	}
	v, err := s.engine.SelectConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus("select conversation", err)
	}
	return windowToAPI(req.ConversationID, v), nil
}

func (s *ConsoleService) GetWindow(_ context.Context, req *ConversationRequest) (*WindowResponse, error) {
	id, err := s.resolve(req.ConversationID)
	if err != nil {
		return nil, err
	}
	return windowToAPI(id, s.engine.View(id)), nil
}

func (s *ConsoleService) LoadOlderMessages(_ context.Context, req *ConversationRequest) (*WindowResponse, error) {
	id, err := s.resolve(req.ConversationID)
	if err != nil {
		return nil, err
	}
	return windowToAPI(id, s.engine.LoadOlderMessages(id)), nil
}

func (s *ConsoleService) SubmitMessage(ctx context.Context, req *SubmitMessageRequest) (*MessageResponse, error) {
	m, err := s.engine.SubmitMessage(ctx, outbox.Draft{
		Text:          req.Text,
		AttachmentRef: req.AttachmentRef,
		ReplyToID:     req.ReplyTo,
	})
	if err != nil {
		return nil, toStatus("submit message", err)
	}
	return &MessageResponse{Message: messageToAPI(m)}, nil
}

func (s *ConsoleService) RetryMessage(ctx context.Context, req *RetryMessageRequest) (*MessageResponse, error) {
	id, err := s.resolve(req.ConversationID)
	if err != nil {
		return nil, err
	}
	m, err := s.engine.RetryMessage(ctx, id, req.MessageID)
	if err != nil {
		return nil, toStatus("retry message", err)
	}
	return &MessageResponse{Message: messageToAPI(m)}, nil
}

func (s *ConsoleService) CloseConversation(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	id, err := s.resolve(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.CloseConversation(ctx, id); err != nil {
		return nil, toStatus("close conversation", err)
	}
	return &Empty{}, nil
}

func (s *ConsoleService) Connect(ctx context.Context, _ *Empty) (*ConnectionResponse, error) {
	if err := s.engine.Connect(ctx); err != nil {
		return nil, toStatus("connect", err)
	}
	return &ConnectionResponse{State: string(s.engine.ConnectionState())}, nil
}

func (s *ConsoleService) Disconnect(ctx context.Context, _ *Empty) (*ConnectionResponse, error) {
	s.engine.Disconnect(ctx)
	return &ConnectionResponse{State: string(s.engine.ConnectionState())}, nil
}

// WatchEvents forwards bus events to the client until it goes away.
func (s *ConsoleService) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStreamingServer[Event]) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, watchBuffer)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(eventToAPI(evt)); err != nil {
				return err
			}
		}
	}
}

// resolve falls back to the active conversation when id is empty.
func (s *ConsoleService) resolve(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if id = s.engine.Active(); id == "" {
		return "", grpcstatus.Error(codes.FailedPrecondition, domain.ErrNoActiveConversation.Error())
	}
	return id, nil
}

func toStatus(op string, err error) error {
	var te *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrUnknownConversation):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, outbox.ErrEmptyDraft):
		return grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, domain.ErrNoActiveConversation), errors.Is(err, outbox.ErrNotRetryable):
		return grpcstatus.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.As(err, &te):
		return grpcstatus.Errorf(codes.Unavailable, "%s: %v", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	}
	return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
}

func eventToAPI(evt bus.Event) *Event {
	out := &Event{Kind: evt.Kind, TimestampMs: evt.Timestamp.UnixMilli(), Missed: evt.Missed}
	switch p := evt.Payload.(type) {
	case map[string]string:
		out.Data = p
	case status.StatusChange:
		out.Data = map[string]string{"from": string(p.From), "to": string(p.To)}
	case readstate.UnreadChange:
		out.Data = map[string]string{
			"conversation_id": p.ConversationID,
			"count":           strconv.Itoa(p.Count),
		}
	case string:
		out.Data = map[string]string{"detail": p}
	}
	return out
}
