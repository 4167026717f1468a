package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service names. Requests and responses are google.protobuf.Struct values.
const (
	SessionServiceName      = "courtdesk.v1.SessionService"
	NotificationServiceName = "courtdesk.v1.NotificationService"
	ChatServiceName         = "courtdesk.v1.ChatService"
	EventServiceName        = "courtdesk.v1.EventService"
)

// FullMethod returns the gRPC method path of service/method.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

type SessionServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type NotificationServer interface {
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkAllRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type ChatServer interface {
	Open(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Attach(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Close(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type EventServer interface {
	Watch(*structpb.Struct, grpc.ServerStream) error
}

// unary builds the method descriptor that decodes a Struct request and
// dispatches it to call on the registered server.
func unary[S any](service, name string, call func(S, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := FullMethod(service, name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*structpb.Struct))
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, h)
		},
	}
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServer.GetStatus),
		unary(SessionServiceName, "Login", SessionServer.Login),
		unary(SessionServiceName, "Logout", SessionServer.Logout),
	},
}

var NotificationServiceDesc = grpc.ServiceDesc{
	ServiceName: NotificationServiceName,
	HandlerType: (*NotificationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(NotificationServiceName, "List", NotificationServer.List),
		unary(NotificationServiceName, "MarkRead", NotificationServer.MarkRead),
		unary(NotificationServiceName, "MarkAllRead", NotificationServer.MarkAllRead),
		unary(NotificationServiceName, "Delete", NotificationServer.Delete),
		unary(NotificationServiceName, "Refresh", NotificationServer.Refresh),
	},
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "Open", ChatServer.Open),
		unary(ChatServiceName, "List", ChatServer.List),
		unary(ChatServiceName, "Attach", ChatServer.Attach),
		unary(ChatServiceName, "Send", ChatServer.Send),
		unary(ChatServiceName, "Close", ChatServer.Close),
	},
}

var EventServiceDesc = grpc.ServiceDesc{
	ServiceName: EventServiceName,
	HandlerType: (*EventServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(EventServer).Watch(in, stream)
		},
	}},
}

// Register adds the services to s.
func Register(s grpc.ServiceRegistrar, sess SessionServer, notif NotificationServer, ch ChatServer, ev EventServer) {
	s.RegisterService(&SessionServiceDesc, sess)
	s.RegisterService(&NotificationServiceDesc, notif)
	s.RegisterService(&ChatServiceDesc, ch)
	s.RegisterService(&EventServiceDesc, ev)
}
