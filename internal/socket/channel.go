// Package socket maintains one authenticated push connection per endpoint
// and hides reconnect churn from its owner.
package socket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/courtdesk/courtdesk/internal/bus"
	"github.com/courtdesk/courtdesk/internal/protocol"
	"github.com/courtdesk/courtdesk/internal/status"
)

// TokenSource supplies the bearer token sent when connecting. An error or an
// empty token means there is no credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Renewer is implemented by token sources that can replace an access token
// the push server rejected. stale is the rejected token.
type Renewer interface {
	Renew(ctx context.Context, stale string) error
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Handler receives every well-formed inbound frame.
type Handler func(protocol.Frame)

// Options tunes a Channel. Zero values take the defaults.
type Options struct {
	ReconnectDelay    time.Duration // first reconnect delay, default 3s
	MaxReconnectDelay time.Duration // cap for the doubling delay, default 30s
	HandshakeTimeout  time.Duration // default 10s
	WriteTimeout      time.Duration // default 10s
	Dialer            *websocket.Dialer
	Bus               *bus.Bus
}

func (o *Options) applyDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = 30 * time.Second
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = o.ReconnectDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = o.HandshakeTimeout
		o.Dialer = &d
	}
}

// Channel is a resilient push connection to one endpoint.
//
// Close is the only way to stop it: any other close (network drop, server
// close with a code other than 1000, failed dial) schedules exactly one
// reconnect, replacing a pending one. Sends while the channel is not open are
// dropped, never queued.
type Channel struct {
	url    string
	tokens TokenSource
	opts   Options
	log    *zap.Logger
	state  *status.Machine

	mu          sync.Mutex
	conn        *websocket.Conn
	handler     Handler
	timer       *time.Timer
	timerGen    uint64
	attempt     uint64
	backoff     retry.Backoff
	intentional bool
	base        context.Context

	writeMu sync.Mutex
}

// New creates a channel for the endpoint at rawURL. It does not connect.
func New(rawURL string, tokens TokenSource, opts Options, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	c := &Channel{
		url:    rawURL,
		tokens: tokens,
		opts:   opts,
		log:    logger.With(zap.String("channel", rawURL)),
		state:  status.NewMachine(opts.Bus, rawURL),
		base:   context.Background(),
	}
	c.backoff = c.newBackoff()
	return c
}

func (c *Channel) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(c.opts.MaxReconnectDelay, retry.NewExponential(c.opts.ReconnectDelay))
}

// URL returns the endpoint without credentials.
func (c *Channel) URL() string { return c.url }

// State returns the connection state.
func (c *Channel) State() status.State { return c.state.Current() }

// CloseCode returns the code of the last close, or 0.
func (c *Channel) CloseCode() int { return c.state.CloseCode() }

// PendingReconnect reports whether a reconnect timer is armed.
func (c *Channel) PendingReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// OnMessage installs h as the frame handler, replacing the previous one.
// There is a single slot: the read loop always calls the latest handler and
// the connection is not restarted.
func (c *Channel) OnMessage(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect opens the connection unless it is already open, opening or was
// closed with Close.
// Failures are logged and retried after the reconnect delay; they are never
// returned. ctx bounds the dial; later reconnects outlive it.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if s := c.state.Current(); s == status.Open || s == status.Connecting {
		c.mu.Unlock()
		return
	}
	if c.intentional {
		c.mu.Unlock()
		c.log.Warn("connect on a closed channel ignored")
		return
	}
	c.base = context.WithoutCancel(ctx)
	c.mu.Unlock()

	c.dial(ctx)
}

func (c *Channel) dial(ctx context.Context) {
	token, err := c.tokens.Token(ctx)
	if err != nil || token == "" {
		c.log.Warn("no credential, not connecting", zap.Error(err))
		return
	}
	target, err := withToken(c.url, token)
	if err != nil {
		c.log.Error("invalid endpoint", zap.Error(err))
		return
	}

	c.mu.Lock()
	if s := c.state.Current(); s == status.Open || s == status.Connecting || c.intentional {
		c.mu.Unlock()
		return
	}
	if err := c.state.Transition(status.Connecting); err != nil {
		c.mu.Unlock()
		c.log.Error("state transition", zap.Error(err))
		return
	}
	c.stopTimer()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	c.log.Debug("connecting")
	conn, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil && rejected(resp) {
		c.renew(ctx, token)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if attempt != c.attempt || c.state.Current() != status.Connecting {
		// Closed while dialing.
		if conn != nil {
			closeConn(conn, websocket.CloseNormalClosure, c.opts.WriteTimeout)
		}
		return
	}
	if err != nil {
		c.log.Warn("connect failed", zap.Error(err))
		_ = c.state.Close(websocket.CloseAbnormalClosure)
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.backoff = c.newBackoff()
	c.stopTimer()
	_ = c.state.Transition(status.Open)
	c.log.Info("channel open")
	go c.readLoop(conn)
}

// rejected reports whether the handshake failed on the credential.
func rejected(resp *http.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
}

// renew asks the token source for a new access token before the next
// attempt. A failed renewal clears the credential, so the next attempt
// stops without scheduling another.
func (c *Channel) renew(ctx context.Context, stale string) {
	r, ok := c.tokens.(Renewer)
	if !ok {
		c.log.Warn("credential rejected")
		return
	}
	c.mu.Lock()
	closed := c.intentional
	c.mu.Unlock()
	if closed {
		return
	}
	if err := r.Renew(ctx, stale); err != nil {
		c.log.Warn("credential rejected, renewal failed", zap.Error(err))
		return
	}
	c.log.Info("credential rejected, token renewed")
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(frame)
		}
	}
}

// dropped handles the end of a connection's read loop.
func (c *Channel) dropped(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	_ = conn.Close()

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}
	_ = c.state.Close(code)
	if code == websocket.CloseNormalClosure {
		c.log.Info("channel closed by server")
		return
	}
	c.log.Warn("channel dropped", zap.Int("code", code), zap.Error(err))
	c.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer. Callers hold c.mu.
func (c *Channel) scheduleReconnect() {
	if c.intentional {
		return
	}
	c.stopTimer()
	delay, stop := c.backoff.Next()
	if stop {
		return
	}
	gen := c.timerGen
	c.timer = time.AfterFunc(delay, func() { c.fire(gen) })
	c.log.Info("reconnect scheduled", zap.Duration("delay", delay))
}

func (c *Channel) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.intentional {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx := c.base
	c.mu.Unlock()

	c.dial(ctx)
}

// stopTimer cancels the pending reconnect. A timer that already fired sees
// the bumped generation and does nothing. Callers hold c.mu.
func (c *Channel) stopTimer() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Send encodes payload as JSON and writes it if the channel is open.
// It reports whether the frame was handed to the connection.
func (c *Channel) Send(payload any) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.state.Current() == status.Open
	c.mu.Unlock()
	if !open || conn == nil {
		c.log.Warn("channel not open, dropping outbound frame")
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("encode outbound frame", zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn("write failed", zap.Error(err))
		return false
	}
	return true
}

// Close closes the channel with 1000 normal closure and cancels any pending
// reconnect. A closed channel cannot be reopened; owners create a new one.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.intentional = true
	c.stopTimer()
	c.attempt++
	conn := c.conn
	c.conn = nil
	if c.state.Current() != status.Idle || conn != nil {
		_ = c.state.Close(websocket.CloseNormalClosure)
	}
	if conn != nil {
		closeConn(conn, websocket.CloseNormalClosure, c.opts.WriteTimeout)
		c.log.Info("channel closed")
	}
}

func closeConn(conn *websocket.Conn, code int, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = conn.Close()
}

// withToken appends the bearer token as the "token" query parameter.
func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
