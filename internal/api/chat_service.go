package api

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/courtdesk/courtdesk/internal/attachment"
	"github.com/courtdesk/courtdesk/internal/chat"
)

// ChatService implements courtdesk.v1.ChatService.
type ChatService struct {
	chat *chat.Manager
	loc  *time.Location
}

// NewChatService creates a new chat service.
func NewChatService(mgr *chat.Manager, loc *time.Location) *ChatService {
	if loc == nil {
		loc = time.Local
	}
	return &ChatService{chat: mgr, loc: loc}
}

func conversationValue(c chat.Conversation) map[string]any {
	return map[string]any{"room": c.Room, "self": c.Self, "peer": c.Peer}
}

// Open switches to the conversation with peer_id. A failed history load
// still leaves the conversation open.
func (s *ChatService) Open(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	peer, err := idArg(req, "peer_id")
	if err != nil {
		return nil, err
	}
	conv, err := s.chat.Open(ctx, peer)
	if err != nil && conv.Room == "" {
		return nil, toStatus("open", err)
	}
	resp := conversationValue(conv)
	if err != nil {
		resp["warning"] = err.Error()
	}
	return reply(resp)
}

func (s *ChatService) List(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	conv, ok := s.chat.Active()
	st := s.chat.Stream()
	if !ok || st == nil {
		return nil, toStatus("list", chat.ErrNoConversation)
	}
	resp := conversationValue(conv)
	resp["unread"] = st.Unread()
	resp["days"] = groupsValue(st.Items(), s.loc)
	var pending []any
	for _, f := range s.chat.Pending() {
		pending = append(pending, f.Name)
	}
	resp["pending"] = pending
	return reply(resp)
}

// Attach adds the files at paths to the message being composed.
func (s *ChatService) Attach(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	paths := stringsArg(req, "paths")
	if len(paths) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "paths is required")
	}
	files := make([]attachment.File, 0, len(paths))
	for _, p := range paths {
		f, err := attachment.FromPath(p)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "attach: %v", err)
		}
		files = append(files, f)
	}
	if err := s.chat.Attach(files...); err != nil {
		return nil, toStatus("attach", err)
	}
	pending := make([]any, 0, attachment.MaxPerItem)
	for _, f := range s.chat.Pending() {
		pending = append(pending, f.Name)
	}
	return reply(map[string]any{"pending": pending})
}

func (s *ChatService) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.chat.Send(ctx, stringArg(req, "content")); err != nil {
		return nil, toStatus("send", err)
	}
	st := s.chat.Stream()
	if st == nil {
		return reply(map[string]any{"count": 0})
	}
	return reply(map[string]any{"count": st.Len()})
}

func (s *ChatService) Close(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.chat.Close()
	return reply(map[string]any{"success": true})
}
