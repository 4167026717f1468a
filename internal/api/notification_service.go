package api

import (
	"context"
	"slices"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/courtdesk/courtdesk/internal/notify"
	"github.com/courtdesk/courtdesk/internal/stream"
)

// NotificationService implements courtdesk.v1.NotificationService.
type NotificationService struct {
	feed *notify.Feed
	loc  *time.Location
}

// NewNotificationService creates a new notification service.
func NewNotificationService(feed *notify.Feed, loc *time.Location) *NotificationService {
	if loc == nil {
		loc = time.Local
	}
	return &NotificationService{feed: feed, loc: loc}
}

func (s *NotificationService) List(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.feed.Stream()
	return reply(map[string]any{
		"unread": st.Unread(),
		"days":   groupsValue(newestFirst(st.Items()), s.loc),
	})
}

// newestFirst orders notifications by time, newest first. The snapshot
// arrives newest-first but pushes are appended, so the stored order is
// mixed once a push lands.
func newestFirst(items []stream.Item) []stream.Item {
	slices.SortStableFunc(items, func(a, b stream.Item) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return items
}

func (s *NotificationService) MarkRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idArg(req, "id")
	if err != nil {
		return nil, err
	}
	if err := s.feed.MarkRead(ctx, id); err != nil {
		return nil, toStatus("mark read", err)
	}
	return reply(map[string]any{"unread": s.feed.Stream().Unread()})
}

func (s *NotificationService) MarkAllRead(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.feed.MarkAllRead(ctx)
	if err != nil {
		return nil, toStatus("mark all read", err)
	}
	return reply(map[string]any{"marked": n, "unread": s.feed.Stream().Unread()})
}

func (s *NotificationService) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idArg(req, "id")
	if err != nil {
		return nil, err
	}
	if err := s.feed.Delete(ctx, id); err != nil {
		return nil, toStatus("delete", err)
	}
	return reply(map[string]any{"unread": s.feed.Stream().Unread()})
}

func (s *NotificationService) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.feed.Refresh(ctx); err != nil {
		return nil, toStatus("refresh", err)
	}
	st := s.feed.Stream()
	return reply(map[string]any{"count": st.Len(), "unread": st.Unread()})
}
