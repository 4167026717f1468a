// Package chat hosts the active conversation: one push channel, one stream
// and the pending attachments of the message being composed.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courtdesk/courtdesk/internal/attachment"
	"github.com/courtdesk/courtdesk/internal/bus"
	"github.com/courtdesk/courtdesk/internal/config"
	"github.com/courtdesk/courtdesk/internal/court"
	"github.com/courtdesk/courtdesk/internal/protocol"
	"github.com/courtdesk/courtdesk/internal/socket"
	"github.com/courtdesk/courtdesk/internal/stream"
)

var (
	// ErrSendFailed wraps the cause of a send that was rolled back.
	ErrSendFailed = errors.New("message not sent")
	// ErrNoConversation is returned when no conversation is open.
	ErrNoConversation = errors.New("no conversation open")
	// ErrEmptyMessage is returned for a send with no text and no files.
	ErrEmptyMessage = errors.New("message is empty")
)

// fileOnlyContent is sent as the text of a message that only carries a file.
const fileOnlyContent = "Sent a file"

// API is the part of the court client a conversation needs.
type API interface {
	Me(ctx context.Context) (protocol.User, error)
	Messages(ctx context.Context, recipientID int64) ([]protocol.Message, error)
	SendMessage(ctx context.Context, req court.MessageRequest) (protocol.Message, error)
	RoomMessages(ctx context.Context, room string) ([]protocol.Message, error)
	MarkMessageRead(ctx context.Context, id int64) error
}

// Options configures a Manager.
type Options struct {
	WSBaseURL    string
	Transport    string // config.TransportSocket or config.TransportPoll
	SendVia      string // config.SendViaREST or config.SendViaSocket
	PollInterval time.Duration
	Socket       socket.Options
	Bus          *bus.Bus
}

// Conversation describes the open conversation.
type Conversation struct {
	Self int64
	Peer int64
	Room string
}

// Manager owns the open conversation. Opening another conversation closes
// the previous channel intentionally and starts a fresh stream; responses
// that arrive for a stream that is no longer active are discarded.
type Manager struct {
	api    API
	tokens socket.TokenSource
	opts   Options
	log    *zap.Logger

	mu      sync.Mutex
	self    int64
	conv    Conversation
	stream  *stream.Stream
	channel *socket.Channel
	poller  *Poller
	pending *attachment.Pending
}

// NewManager creates a manager with no open conversation.
func NewManager(api API, tokens socket.TokenSource, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Transport == "" {
		opts.Transport = config.TransportSocket
	}
	if opts.SendVia == "" {
		opts.SendVia = config.SendViaREST
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Socket.Bus == nil {
		opts.Socket.Bus = opts.Bus
	}
	return &Manager{api: api, tokens: tokens, opts: opts, log: logger.Named("chat")}
}

// RoomName is the shared room of two users: their ids sorted ascending and
// joined with "_".
func RoomName(a, b int64) string {
	ids := []int64{a, b}
	slices.Sort(ids)
	return strconv.FormatInt(ids[0], 10) + "_" + strconv.FormatInt(ids[1], 10)
}

func (m *Manager) me(ctx context.Context) (int64, error) {
	m.mu.Lock()
	self := m.self
	m.mu.Unlock()
	if self != 0 {
		return self, nil
	}
	u, err := m.api.Me(ctx)
	if err != nil {
		return 0, fmt.Errorf("current user: %w", err)
	}
	m.mu.Lock()
	m.self = u.ID
	m.mu.Unlock()
	return u.ID, nil
}

// Open switches to the conversation with peer: the previous one is closed,
// history is loaded into a new stream and the transport is started.
func (m *Manager) Open(ctx context.Context, peer int64) (Conversation, error) {
	self, err := m.me(ctx)
	if err != nil {
		return Conversation{}, err
	}
	conv := Conversation{Self: self, Peer: peer, Room: RoomName(self, peer)}
	st := stream.New(conv.Room, m.opts.Bus)

	m.mu.Lock()
	m.closeLocked()
	m.conv = conv
	m.stream = st
	m.pending = &attachment.Pending{}
	m.mu.Unlock()
	m.opts.Bus.Emit(bus.ChatOpened, conv)
	m.log.Info("conversation opened", zap.String("room", conv.Room))

	history, err := m.api.Messages(ctx, peer)
	if err != nil {
		m.log.Warn("load history", zap.String("room", conv.Room), zap.Error(err))
	} else if !m.apply(st, func() { st.Load(protocol.Messages(history)) }) {
		return conv, nil
	}

	var ch *socket.Channel
	m.mu.Lock()
	if m.stream != st {
		m.mu.Unlock()
		return conv, nil
	}
	switch m.opts.Transport {
	case config.TransportPoll:
		m.poller = NewPoller(m.api, st, conv, m.opts.PollInterval, m.log)
		m.poller.Start()
	default:
		url := strings.TrimSuffix(m.opts.WSBaseURL, "/") + "/ws/chat/" + conv.Room + "/"
		ch = socket.New(url, m.tokens, m.opts.Socket, m.log)
		ch.OnMessage(m.frameHandler(st))
		m.channel = ch
	}
	m.mu.Unlock()

	if ch != nil {
		ch.Connect(ctx)
	}
	if err != nil {
		return conv, fmt.Errorf("load history: %w", err)
	}
	return conv, nil
}

// apply runs fn only if st is still the active stream. It reports whether fn ran.
func (m *Manager) apply(st *stream.Stream, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != st {
		m.log.Info("discarding response for inactive conversation", zap.String("room", st.Key()))
		m.opts.Bus.Emit(bus.ChatStaleDiscarded, st.Key())
		return false
	}
	fn()
	return true
}

// frameHandler settles echoed sends and merges pushed messages into st.
func (m *Manager) frameHandler(st *stream.Stream) socket.Handler {
	return func(f protocol.Frame) {
		if f.Type != protocol.TypeChatMessage {
			return
		}
		var msg protocol.Message
		if err := f.Decode(&msg); err != nil {
			m.log.Warn("dropping chat frame", zap.Error(err))
			return
		}
		item := msg.Item()
		if f.TempID != "" {
			if tmp, err := stream.ParseID(f.TempID); err == nil && st.Settle(tmp, item) {
				return
			}
		}
		st.MergeInbound(item)
	}
}

// Attach validates files and adds them to the message being composed.
func (m *Manager) Attach(files ...attachment.File) error {
	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()
	if pending == nil {
		return ErrNoConversation
	}
	return pending.Add(files...)
}

// Pending returns the files attached to the message being composed.
func (m *Manager) Pending() []attachment.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	return m.pending.Files()
}

// Send sends content with the pending attachments. Each entry appears in
// the stream at once and is settled in place when the server confirms it;
// on failure it is removed again and the error wraps ErrSendFailed.
func (m *Manager) Send(ctx context.Context, content string) error {
	m.mu.Lock()
	st, conv, ch, pending := m.stream, m.conv, m.channel, m.pending
	m.mu.Unlock()
	if st == nil {
		return ErrNoConversation
	}

	files := pending.Clear()
	content = strings.TrimSpace(content)
	if content == "" && len(files) == 0 {
		return ErrEmptyMessage
	}

	if len(files) == 0 {
		if m.opts.SendVia == config.SendViaSocket && ch != nil {
			return m.sendSocket(st, ch, conv, content)
		}
		return m.sendREST(ctx, st, conv, court.MessageRequest{RecipientID: conv.Peer, Content: content})
	}

	if content == "" {
		content = fileOnlyContent
	}
	for i := range files {
		f := files[i]
		err := m.sendREST(ctx, st, conv, court.MessageRequest{RecipientID: conv.Peer, Content: content, Attachment: &f})
		if err != nil {
			// The failed file and everything after it stay pending.
			if aerr := pending.Add(files[i:]...); aerr != nil {
				m.log.Warn("requeue unsent attachments", zap.Int("files", len(files)-i), zap.Error(aerr))
			}
			return err
		}
	}
	return nil
}

func (m *Manager) optimistic(conv Conversation, content string, f *attachment.File) stream.Item {
	item := stream.Item{
		ID:          stream.TempID(),
		SenderID:    conv.Self,
		RecipientID: conv.Peer,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	if f != nil {
		item.Attachments = []stream.Attachment{{Name: f.Name}}
	}
	return item
}

func (m *Manager) sendREST(ctx context.Context, st *stream.Stream, conv Conversation, req court.MessageRequest) error {
	item := m.optimistic(conv, req.Content, req.Attachment)
	if err := st.AppendOptimistic(item); err != nil {
		return err
	}

	msg, err := m.api.SendMessage(ctx, req)
	if err != nil {
		st.Fail(item.ID)
		m.opts.Bus.Emit(bus.ChatSendFailed, item.ID.String())
		m.log.Warn("send failed", zap.String("room", conv.Room), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	m.apply(st, func() { st.Settle(item.ID, msg.Item()) })
	return nil
}

func (m *Manager) sendSocket(st *stream.Stream, ch *socket.Channel, conv Conversation, content string) error {
	item := m.optimistic(conv, content, nil)
	if err := st.AppendOptimistic(item); err != nil {
		return err
	}
	if !ch.Send(protocol.NewChatFrame(conv.Peer, content, item.ID.String())) {
		st.Fail(item.ID)
		m.opts.Bus.Emit(bus.ChatSendFailed, item.ID.String())
		return fmt.Errorf("%w: channel not open", ErrSendFailed)
	}
	return nil
}

// Active returns the open conversation.
func (m *Manager) Active() (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv, m.stream != nil
}

// Stream returns the active stream, or nil.
func (m *Manager) Stream() *stream.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Channel returns the push channel of the open conversation, or nil when
// polling or closed.
func (m *Manager) Channel() *socket.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Close ends the open conversation. It is safe to call with none open.
func (m *Manager) Close() {
	m.mu.Lock()
	room := m.conv.Room
	open := m.stream != nil
	m.closeLocked()
	m.mu.Unlock()
	if open {
		m.opts.Bus.Emit(bus.ChatClosed, room)
		m.log.Info("conversation closed", zap.String("room", room))
	}
}

// Reset closes the conversation and forgets the signed-in user.
func (m *Manager) Reset() {
	m.Close()
	m.mu.Lock()
	m.self = 0
	m.mu.Unlock()
}

func (m *Manager) closeLocked() {
	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}
	if m.poller != nil {
		m.poller.Stop()
		m.poller = nil
	}
	m.stream = nil
	m.pending = nil
	m.conv = Conversation{}
}
