package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the full gRPC name of the console service.
const ServiceName = "desk.v1.ConsoleService"

// ConsoleServer is the server API for the console service.
type ConsoleServer interface {
	GetStatus(context.Context, *GetStatusRequest) (*StatusResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	SelectConversation(context.Context, *ConversationRequest) (*WindowResponse, error)
	GetWindow(context.Context, *ConversationRequest) (*WindowResponse, error)
	LoadOlderMessages(context.Context, *ConversationRequest) (*WindowResponse, error)
	SubmitMessage(context.Context, *SubmitMessageRequest) (*MessageResponse, error)
	RetryMessage(context.Context, *RetryMessageRequest) (*MessageResponse, error)
	CloseConversation(context.Context, *ConversationRequest) (*Empty, error)
	Connect(context.Context, *Empty) (*ConnectionResponse, error)
	Disconnect(context.Context, *Empty) (*ConnectionResponse, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[Event]) error
}

func unary[Req, Resp any](name string, call func(ConsoleServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ConsoleServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ConsoleServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ConsoleServer).WatchEvents(in, &grpc.GenericServerStream[WatchEventsRequest, Event]{ServerStream: stream})
}

// ServiceDesc describes the console service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConsoleServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", ConsoleServer.GetStatus),
		unary("ListConversations", ConsoleServer.ListConversations),
		unary("SelectConversation", ConsoleServer.SelectConversation),
		unary("GetWindow", ConsoleServer.GetWindow),
		unary("LoadOlderMessages", ConsoleServer.LoadOlderMessages),
		unary("SubmitMessage", ConsoleServer.SubmitMessage),
		unary("RetryMessage", ConsoleServer.RetryMessage),
		unary("CloseConversation", ConsoleServer.CloseConversation),
		unary("Connect", ConsoleServer.Connect),
		unary("Disconnect", ConsoleServer.Disconnect),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// RegisterConsoleServer registers srv on s.
func RegisterConsoleServer(s grpc.ServiceRegistrar, srv ConsoleServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ConsoleClient is the client API for the console service.
type ConsoleClient struct {
	cc grpc.ClientConnInterface
}

// NewConsoleClient wraps a connection to a daemon.
func NewConsoleClient(cc grpc.ClientConnInterface) *ConsoleClient {
	return &ConsoleClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ConsoleClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "GetStatus", in, opts)
}

func (c *ConsoleClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, "ListConversations", in, opts)
}

func (c *ConsoleClient) SelectConversation(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*WindowResponse, error) {
	return invoke[WindowResponse](ctx, c.cc, "SelectConversation", in, opts)
}

func (c *ConsoleClient) GetWindow(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*WindowResponse, error) {
	return invoke[WindowResponse](ctx, c.cc, "GetWindow", in, opts)
}

func (c *ConsoleClient) LoadOlderMessages(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*WindowResponse, error) {
	return invoke[WindowResponse](ctx, c.cc, "LoadOlderMessages", in, opts)
}

func (c *ConsoleClient) SubmitMessage(ctx context.Context, in *SubmitMessageRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c.cc, "SubmitMessage", in, opts)
}

func (c *ConsoleClient) RetryMessage(ctx context.Context, in *RetryMessageRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c.cc, "RetryMessage", in, opts)
}

func (c *ConsoleClient) CloseConversation(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "CloseConversation", in, opts)
}

func (c *ConsoleClient) Connect(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ConnectionResponse, error) {
	return invoke[ConnectionResponse](ctx, c.cc, "Connect", in, opts)
}

func (c *ConsoleClient) Disconnect(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ConnectionResponse, error) {
	return invoke[ConnectionResponse](ctx, c.cc, "Disconnect", in, opts)
}

// WatchEvents streams engine notifications until ctx ends.
func (c *ConsoleClient) WatchEvents(ctx context.Context, in *WatchEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Event], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/WatchEvents", opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchEventsRequest, Event]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
