package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/courtdesk/courtdesk/internal/attachment"
	"github.com/courtdesk/courtdesk/internal/config"
	"github.com/courtdesk/courtdesk/internal/court"
	"github.com/courtdesk/courtdesk/internal/protocol"
	"github.com/courtdesk/courtdesk/internal/socket"
	"github.com/courtdesk/courtdesk/internal/status"
	"github.com/courtdesk/courtdesk/internal/stream"
)

type fakeAPI struct {
	mu       sync.Mutex
	self     int64
	nextID   int64
	history  map[int64][]protocol.Message
	room     []protocol.Message
	sent     []court.MessageRequest
	marked   []int64
	sendHook func(court.MessageRequest) error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{self: 3, nextID: 42, history: map[int64][]protocol.Message{}}
}

func (f *fakeAPI) Me(context.Context) (protocol.User, error) {
	return protocol.User{ID: f.self, Username: "clerk"}, nil
}

func (f *fakeAPI) Messages(_ context.Context, recipientID int64) ([]protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[recipientID], nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req court.MessageRequest) (protocol.Message, error) {
	if f.sendHook != nil {
		if err := f.sendHook(req); err != nil {
			return protocol.Message{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	m := protocol.Message{
		ID:        f.nextID,
		Sender:    f.self,
		Recipient: req.RecipientID,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	if req.Attachment != nil {
		url := "/media/attachments/" + req.Attachment.Name
		m.Attachment = &url
	}
	f.nextID++
	return m, nil
}

func (f *fakeAPI) RoomMessages(context.Context, string) ([]protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.room, nil
}

func (f *fakeAPI) MarkMessageRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return nil
}

var noCredential = socket.TokenFunc(func(context.Context) (string, error) {
	return "", errors.New("no credential")
})

func newTestManager(api API, opts Options) *Manager {
	if opts.WSBaseURL == "" {
		opts.WSBaseURL = "ws://127.0.0.1:1"
	}
	return NewManager(api, noCredential, opts, zap.NewNop())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func pushFrame(t *testing.T, msg protocol.Message, tempID string) protocol.Frame {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": protocol.TypeChatMessage, "message": msg, "temp_id": tempID})
	if err != nil {
		t.Fatal(err)
	}
	f, err := protocol.DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestRoomName(t *testing.T) {
	if got := RoomName(7, 3); got != "3_7" {
		t.Errorf("RoomName(7, 3) = %q, want 3_7", got)
	}
	if RoomName(3, 7) != RoomName(7, 3) {
		t.Error("room name depends on argument order")
	}
}

func TestSendConfirmThenPush(t *testing.T) {
	api := newFakeAPI()
	m := newTestManager(api, Options{})
	defer m.Close()

	conv, err := m.Open(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Room != "3_7" {
		t.Errorf("room = %q, want 3_7", conv.Room)
	}
	st := m.Stream()

	api.sendHook = func(court.MessageRequest) error {
		items := st.Items()
		if len(items) != 1 || !items[0].ID.IsTemporary() || items[0].Content != "Hello" {
			t.Errorf("optimistic entry not visible during send: %+v", items)
		}
		return nil
	}
	if err := m.Send(context.Background(), "Hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	items := st.Items()
	if len(items) != 1 || items[0].ID != stream.ServerID(42) {
		t.Fatalf("after confirm items = %+v", items)
	}

	m.frameHandler(st)(pushFrame(t, protocol.Message{ID: 42, Sender: 3, Recipient: 7, Content: "Hello"}, ""))
	if st.Len() != 1 {
		t.Errorf("after push Len() = %d, want 1", st.Len())
	}
}

func TestSendFailureRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.history[7] = []protocol.Message{{ID: 1, Sender: 7, Recipient: 3, Content: "Are you there?", IsRead: true}}
	api.sendHook = func(court.MessageRequest) error { return errors.New("502 bad gateway") }
	m := newTestManager(api, Options{})
	defer m.Close()

	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	err := m.Send(context.Background(), "Yes")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("Send() error = %v, want ErrSendFailed", err)
	}
	items := m.Stream().Items()
	if len(items) != 1 || items[0].ID != stream.ServerID(1) {
		t.Errorf("items after rollback = %+v", items)
	}
}

func TestSendWithoutConversation(t *testing.T) {
	m := newTestManager(newFakeAPI(), Options{})
	if err := m.Send(context.Background(), "x"); !errors.Is(err, ErrNoConversation) {
		t.Errorf("Send() error = %v, want ErrNoConversation", err)
	}
	if err := m.Attach(attachment.File{Name: "a.pdf"}); !errors.Is(err, ErrNoConversation) {
		t.Errorf("Attach() error = %v, want ErrNoConversation", err)
	}
}

func TestSendEmpty(t *testing.T) {
	m := newTestManager(newFakeAPI(), Options{})
	defer m.Close()
	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if err := m.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Send() error = %v, want ErrEmptyMessage", err)
	}
}

func TestStaleConfirmationDiscarded(t *testing.T) {
	api := newFakeAPI()
	started := make(chan struct{})
	release := make(chan struct{})
	api.sendHook = func(court.MessageRequest) error {
		close(started)
		<-release
		return nil
	}
	m := newTestManager(api, Options{})
	defer m.Close()

	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	streamA := m.Stream()

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "for A") }()
	<-started

	if _, err := m.Open(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	streamB := m.Stream()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if streamB.Len() != 0 {
		t.Errorf("conversation B received A's confirmation: %+v", streamB.Items())
	}
	if _, ok := streamB.Get(stream.ServerID(42)); ok {
		t.Error("confirmed id 42 found in B")
	}
	if items := streamA.Items(); len(items) != 1 || !items[0].ID.IsTemporary() {
		t.Errorf("inactive stream A was settled: %+v", items)
	}
}

func TestOpenLoadsHistory(t *testing.T) {
	api := newFakeAPI()
	api.history[7] = []protocol.Message{
		{ID: 1, Sender: 7, Recipient: 3, Content: "Filing received"},
		{ID: 2, Sender: 3, Recipient: 7, Content: "Thanks", IsRead: true},
	}
	m := newTestManager(api, Options{})
	defer m.Close()

	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	st := m.Stream()
	if st.Len() != 2 || st.Unread() != 1 {
		t.Errorf("Len() = %d Unread() = %d, want 2 and 1", st.Len(), st.Unread())
	}
	if st.Key() != "3_7" {
		t.Errorf("stream key = %q", st.Key())
	}
}

func TestAttachCapKeepsExisting(t *testing.T) {
	m := newTestManager(newFakeAPI(), Options{})
	defer m.Close()
	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	if err := m.Attach(attachment.File{Name: "a.pdf"}, attachment.File{Name: "b.pdf"}); err != nil {
		t.Fatal(err)
	}
	err := m.Attach(attachment.File{Name: "c.pdf"}, attachment.File{Name: "d.pdf"})
	var verr *attachment.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Attach() error = %v, want ValidationError", err)
	}
	if n := len(m.Pending()); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
}

func TestSendWithAttachments(t *testing.T) {
	api := newFakeAPI()
	m := newTestManager(api, Options{})
	defer m.Close()
	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	_ = m.Attach(attachment.File{Name: "order.pdf"}, attachment.File{Name: "exhibit.pdf"})
	if err := m.Send(context.Background(), ""); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	items := m.Stream().Items()
	if len(items) != 2 {
		t.Fatalf("items = %+v, want one message per file", items)
	}
	for i, name := range []string{"order.pdf", "exhibit.pdf"} {
		if items[i].ID.IsTemporary() {
			t.Errorf("item %d not settled", i)
		}
		if len(items[i].Attachments) != 1 || items[i].Attachments[0].Name != name {
			t.Errorf("item %d attachments = %+v", i, items[i].Attachments)
		}
		if items[i].Content != fileOnlyContent {
			t.Errorf("item %d content = %q", i, items[i].Content)
		}
	}
	if len(m.Pending()) != 0 {
		t.Error("pending attachments not cleared")
	}
}

func TestSendAttachmentFailureRequeuesRest(t *testing.T) {
	tests := []struct {
		name    string
		failing string
		want    []string
		sent    int
	}{
		{name: "first fails", failing: "a.pdf", want: []string{"a.pdf", "b.pdf"}, sent: 0},
		{name: "second fails", failing: "b.pdf", want: []string{"b.pdf"}, sent: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.sendHook = func(req court.MessageRequest) error {
				if req.Attachment != nil && req.Attachment.Name == tt.failing {
					return errors.New("413 too large")
				}
				return nil
			}
			m := newTestManager(api, Options{})
			defer m.Close()
			if _, err := m.Open(context.Background(), 7); err != nil {
				t.Fatal(err)
			}
			_ = m.Attach(attachment.File{Name: "a.pdf"}, attachment.File{Name: "b.pdf"})

			if err := m.Send(context.Background(), "see files"); !errors.Is(err, ErrSendFailed) {
				t.Fatalf("Send() error = %v, want ErrSendFailed", err)
			}
			if m.Stream().Len() != tt.sent {
				t.Errorf("stream = %+v, want %d settled", m.Stream().Items(), tt.sent)
			}
			p := m.Pending()
			var names []string
			for _, f := range p {
				names = append(names, f.Name)
			}
			if !slices.Equal(names, tt.want) {
				t.Errorf("pending = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestPollerMergesAndMarksRead(t *testing.T) {
	api := newFakeAPI()
	api.room = []protocol.Message{
		{ID: 10, Sender: 7, Recipient: 3, Content: "Incoming"},
		{ID: 11, Sender: 3, Recipient: 7, Content: "Mine", IsRead: true},
	}
	conv := Conversation{Self: 3, Peer: 7, Room: "3_7"}
	st := stream.New(conv.Room, nil)
	p := NewPoller(api, st, conv, time.Hour, zap.NewNop())

	p.Poll(context.Background())
	p.Poll(context.Background())

	if st.Len() != 2 {
		t.Errorf("Len() = %d, want 2", st.Len())
	}
	if it, _ := st.Get(stream.ServerID(10)); !it.IsRead {
		t.Error("incoming message not marked read locally")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.marked) == 0 || api.marked[0] != 10 {
		t.Errorf("marked = %v, want [10 ...]", api.marked)
	}
	for _, id := range api.marked {
		if id == 11 {
			t.Error("own message marked read")
		}
	}
}

func TestPollTransport(t *testing.T) {
	api := newFakeAPI()
	api.room = []protocol.Message{{ID: 10, Sender: 7, Recipient: 3, Content: "Incoming"}}
	m := newTestManager(api, Options{Transport: config.TransportPoll, PollInterval: 10 * time.Millisecond})

	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	st := m.Stream()
	waitFor(t, "poll to merge", func() bool { return st.Len() == 1 })
	if m.Channel() != nil {
		t.Error("poll transport opened a push channel")
	}
	m.Close()
	if _, ok := m.Active(); ok {
		t.Error("conversation still active after Close")
	}
}

// echoServer answers every chat frame with a chat_message push that
// carries the server id and echoes temp_id.
func echoServer(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()
	paths := make(chan string, 8)
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		paths <- r.URL.Path
		go func() {
			defer func() { _ = conn.Close() }()
			for {
				var in protocol.ChatFrame
				if err := conn.ReadJSON(&in); err != nil {
					return
				}
				out := map[string]any{
					"type":    protocol.TypeChatMessage,
					"temp_id": in.TempID,
					"message": map[string]any{"id": 99, "sender": 3, "recipient": in.RecipientID, "content": in.Content},
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return srv, paths
}

func TestSocketSendSettlesFromEcho(t *testing.T) {
	srv, paths := echoServer(t)
	tokens := socket.TokenFunc(func(context.Context) (string, error) { return "acc", nil })
	m := NewManager(newFakeAPI(), tokens, Options{
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		SendVia:   config.SendViaSocket,
	}, zap.NewNop())
	defer m.Close()

	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if p := <-paths; p != "/ws/chat/3_7/" {
		t.Errorf("push path = %q", p)
	}
	first := m.Channel()
	if first.State() != status.Open {
		t.Fatalf("channel state = %s, want OPEN", first.State())
	}

	if err := m.Send(context.Background(), "Hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	st := m.Stream()
	waitFor(t, "echo to settle", func() bool {
		items := st.Items()
		return len(items) == 1 && items[0].ID == stream.ServerID(99)
	})

	if _, err := m.Open(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	if first.State() != status.Closed || first.CloseCode() != websocket.CloseNormalClosure {
		t.Errorf("previous channel state = %s code = %d, want CLOSED 1000", first.State(), first.CloseCode())
	}
	if first.PendingReconnect() {
		t.Error("previous channel still has a reconnect pending")
	}
}

func TestSocketSendWhileDisconnectedRollsBack(t *testing.T) {
	m := newTestManager(newFakeAPI(), Options{SendVia: config.SendViaSocket})
	defer m.Close()
	if _, err := m.Open(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	err := m.Send(context.Background(), "Hello")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("Send() error = %v, want ErrSendFailed", err)
	}
	if m.Stream().Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Stream().Len())
	}
}
