package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courtdesk/courtdesk/internal/stream"
)

// Poller is the fallback transport: it fetches the room's messages on an
// interval, merges them into the stream and marks incoming unread messages
// read on the server.
type Poller struct {
	api      API
	st       *stream.Stream
	conv     Conversation
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller for conv feeding st.
func NewPoller(api API, st *stream.Stream, conv Conversation, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{api: api, st: st, conv: conv, interval: interval, log: logger}
}

// Start polls immediately and then on every tick until Stop.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one fetch-merge-mark cycle.
func (p *Poller) Poll(ctx context.Context) {
	msgs, err := p.api.RoomMessages(ctx, p.conv.Room)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("poll room", zap.String("room", p.conv.Room), zap.Error(err))
		}
		return
	}
	for _, msg := range msgs {
		item := msg.Item()
		p.st.MergeInbound(item)
		if item.IsRead || item.SenderID == p.conv.Self {
			continue
		}
		if err := p.api.MarkMessageRead(ctx, msg.ID); err != nil {
			p.log.Warn("mark message read", zap.Int64("id", msg.ID), zap.Error(err))
			continue
		}
		p.st.MarkRead(item.ID)
	}
}

// Stop cancels polling and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
