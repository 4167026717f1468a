// Package notify hosts the notification feed: the initial REST snapshot,
// live pushes from the notifications channel and read/delete actions.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/courtdesk/courtdesk/internal/bus"
	"github.com/courtdesk/courtdesk/internal/protocol"
	"github.com/courtdesk/courtdesk/internal/socket"
	"github.com/courtdesk/courtdesk/internal/stream"
)

// StreamKey identifies the notification stream on the bus.
const StreamKey = "notifications"

// API is the part of the court client the feed needs.
type API interface {
	Notifications(ctx context.Context) ([]protocol.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id int64) error
}

// Options configures a Feed.
type Options struct {
	WSBaseURL string
	Socket    socket.Options
	Bus       *bus.Bus
}

// Feed owns the notification stream and its push channel.
type Feed struct {
	api    API
	tokens socket.TokenSource
	opts   Options
	log    *zap.Logger
	st     *stream.Stream

	mu           sync.Mutex
	channel      *socket.Channel
	serverUnread int
	// gen changes on Stop and Reset; a fetch started under an older
	// generation is discarded.
	gen uint64
}

// NewFeed creates a stopped feed.
func NewFeed(api API, tokens socket.TokenSource, opts Options, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Socket.Bus == nil {
		opts.Socket.Bus = opts.Bus
	}
	return &Feed{
		api:    api,
		tokens: tokens,
		opts:   opts,
		log:    logger.Named("notify"),
		st:     stream.New(StreamKey, opts.Bus),
	}
}

// Stream returns the notification stream.
func (f *Feed) Stream() *stream.Stream { return f.st }

// Channel returns the push channel, or nil when stopped.
func (f *Feed) Channel() *socket.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel
}

// ServerUnread is the unread count the server reported on the last fetch.
func (f *Feed) ServerUnread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serverUnread
}

// Fetch loads the notification list and the server's unread count
// concurrently and replaces the stream contents with the list. A result
// that arrives after the feed was stopped or reset is dropped.
func (f *Feed) Fetch(ctx context.Context) error {
	f.mu.Lock()
	gen := f.gen
	f.mu.Unlock()

	var (
		list  []protocol.Notification
		count int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = f.api.Notifications(gctx)
		if err != nil {
			return fmt.Errorf("list notifications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		count, err = f.api.UnreadCount(gctx)
		if err != nil {
			return fmt.Errorf("unread count: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		f.log.Debug("discarding stale notification snapshot")
		return nil
	}
	f.st.Load(protocol.Notifications(list))
	f.serverUnread = count
	f.mu.Unlock()
	if count != f.st.Unread() {
		f.log.Debug("unread count differs from list", zap.Int("server", count), zap.Int("local", f.st.Unread()))
	}
	return nil
}

// Refresh refetches the snapshot.
func (f *Feed) Refresh(ctx context.Context) error {
	return f.Fetch(ctx)
}

// Start fetches the snapshot and opens the push channel. A failed fetch is
// logged and does not keep the channel from opening. Starting a running
// feed is a no-op.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.channel != nil {
		f.mu.Unlock()
		return
	}
	url := strings.TrimSuffix(f.opts.WSBaseURL, "/") + "/ws/notifications/"
	ch := socket.New(url, f.tokens, f.opts.Socket, f.log)
	ch.OnMessage(f.handle)
	f.channel = ch
	f.mu.Unlock()

	if err := f.Fetch(ctx); err != nil {
		f.log.Warn("initial fetch", zap.Error(err))
	}
	ch.Connect(ctx)
}

func (f *Feed) handle(fr protocol.Frame) {
	if fr.Type != protocol.TypeNotification {
		return
	}
	var n protocol.Notification
	if err := fr.Decode(&n); err != nil {
		f.log.Warn("dropping notification frame", zap.Error(err))
		return
	}
	f.st.MergeInbound(n.Item())
}

// MarkRead marks one notification read on the server, then locally.
func (f *Feed) MarkRead(ctx context.Context, id int64) error {
	if err := f.api.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	f.st.MarkRead(stream.ServerID(id))
	return nil
}

// MarkAllRead marks every notification read and returns how many local
// entries changed.
func (f *Feed) MarkAllRead(ctx context.Context) (int, error) {
	if err := f.api.MarkAllNotificationsRead(ctx); err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return f.st.MarkAllRead(), nil
}

// Delete removes a notification on the server, then locally.
func (f *Feed) Delete(ctx context.Context, id int64) error {
	if err := f.api.DeleteNotification(ctx, id); err != nil {
		return fmt.Errorf("delete notification %d: %w", id, err)
	}
	f.st.Remove(stream.ServerID(id))
	return nil
}

// Stop closes the push channel intentionally. The stream is kept.
func (f *Feed) Stop() {
	f.mu.Lock()
	ch := f.channel
	f.channel = nil
	f.gen++
	f.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// Reset stops the feed and empties the stream, as on logout.
func (f *Feed) Reset() {
	f.Stop()
	f.mu.Lock()
	f.gen++
	f.st.Reset(StreamKey)
	f.serverUnread = 0
	f.mu.Unlock()
}
