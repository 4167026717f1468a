package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/courtdesk/courtdesk/internal/auth"
	"github.com/courtdesk/courtdesk/internal/bus"
	"github.com/courtdesk/courtdesk/internal/chat"
	"github.com/courtdesk/courtdesk/internal/court"
	"github.com/courtdesk/courtdesk/internal/notify"
	"github.com/courtdesk/courtdesk/internal/socket"
	"github.com/courtdesk/courtdesk/internal/status"
)

// SessionService implements courtdesk.v1.SessionService.
type SessionService struct {
	profile   string
	startedAt time.Time
	tokens    *auth.Tokens
	client    *court.Client
	feed      *notify.Feed
	chat      *chat.Manager
	bus       *bus.Bus
	log       *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(profile string, tokens *auth.Tokens, client *court.Client, feed *notify.Feed, mgr *chat.Manager, b *bus.Bus, logger *zap.Logger) *SessionService {
	return &SessionService{
		profile:   profile,
		startedAt: time.Now(),
		tokens:    tokens,
		client:    client,
		feed:      feed,
		chat:      mgr,
		bus:       b,
		log:       logger,
	}
}

func channelState(ch *socket.Channel) string {
	if ch == nil {
		return string(status.Idle)
	}
	return string(ch.State())
}

func (s *SessionService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"profile":   s.profile,
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
		"logged_in": false,
	}
	if claims, err := s.tokens.Claims(); err == nil {
		resp["logged_in"] = true
		resp["user_id"] = claims.UserID
		resp["remembered"] = s.tokens.Remembered()
		if claims.ExpiresAt != nil {
			resp["expires_at"] = claims.ExpiresAt.Format(time.RFC3339)
			resp["expired"] = claims.Expired(time.Now())
		}
	}

	st := s.feed.Stream()
	resp["notifications"] = map[string]any{
		"state":         channelState(s.feed.Channel()),
		"count":         st.Len(),
		"unread":        st.Unread(),
		"server_unread": s.feed.ServerUnread(),
	}
	if conv, ok := s.chat.Active(); ok {
		resp["chat"] = map[string]any{
			"room":  conv.Room,
			"peer":  conv.Peer,
			"state": channelState(s.chat.Channel()),
		}
	}
	return reply(resp)
}

// Login signs in and starts the notification feed.
func (s *SessionService) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	err := s.client.Login(ctx, court.LoginRequest{
		Username: stringArg(req, "username"),
		Password: stringArg(req, "password"),
		Remember: boolArg(req, "remember"),
	})
	if err != nil {
		return nil, toStatus("login", err)
	}

	var userID int64
	if claims, err := s.tokens.Claims(); err == nil {
		userID = claims.UserID
	}
	s.chat.Reset()
	s.feed.Reset()
	s.feed.Start(ctx)
	s.bus.Emit(bus.SessionLoggedIn, userID)
	s.log.Info("logged in", zap.Int64("user_id", userID))
	return reply(map[string]any{"user_id": userID})
}

// Logout closes every channel, empties the streams and forgets the credential.
func (s *SessionService) Logout(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.chat.Reset()
	s.feed.Reset()
	if err := s.client.Logout(); err != nil {
		return nil, toStatus("logout", err)
	}
	s.bus.Emit(bus.SessionLoggedOut, nil)
	s.log.Info("logged out")
	return reply(map[string]any{"success": true})
}
