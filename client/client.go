// Package client is the relay's reconnecting websocket client. It announces
// itself on every successful open, retries a fixed number of times with a
// fixed delay when the socket drops, and then gives up for good.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/chloezql/breakingnews-sub001/domain"
)

const (
	DefaultRetryDelay  = 5 * time.Second
	DefaultMaxAttempts = 5

	StatusGaveUp = "max reconnection attempts reached"
)

var ErrAlreadyStarted = errors.New("client already started")

type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	GaveUp
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case GaveUp:
		return "gave_up"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the subset of *websocket.Conn the client uses.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// Scheduler runs f after d and returns a function that cancels it. It is
// never called with the client's lock held, so f may run before it returns.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type wsDialer struct {
	d *websocket.Dialer
}

func (w wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := w.d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	URL         string
	DeviceID    string
	DeviceType  string
	RetryDelay  time.Duration
	MaxAttempts int

	OnMessage func(domain.Envelope)
	OnState   func(state State, status string)

	Dialer    Dialer
	Scheduler Scheduler
}

type Client struct {
	opts Options

	mu        sync.Mutex
	state     State
	status    string
	attempts  int
	transport Transport
	stopTimer func() bool
	timerSeq  uint64
	done      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.DeviceID == "" {
		opts.DeviceID = ksuid.New().String()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Dialer == nil {
		opts.Dialer = wsDialer{d: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = afterFunc
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:   opts,
		state:  Idle,
		status: Idle.String(),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) DeviceID() string { return c.opts.DeviceID }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is the human-readable line a screen shows next to the state.
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Done is closed when the client gives up or is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Start begins connecting. The dial itself runs on the scheduler, so Start
// never blocks on the network.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.setLocked(Connecting, "connecting")
	c.mu.Unlock()

	c.notify(Connecting, "connecting")
	c.schedule(0, c.connect)
	return nil
}

// Close cancels a pending reconnect and closes the open socket. Transport
// events arriving afterwards are ignored. A client that gave up keeps its
// GaveUp state and status.
func (c *Client) Close() error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return nil
	case GaveUp:
		c.mu.Unlock()
		c.cancel()
		return nil
	}
	c.setLocked(Closed, "closed")
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	c.notify(Closed, "closed")

	if t != nil {
		return t.Close()
	}
	return nil
}

// Send writes msg as JSON when connected. Otherwise it logs and drops msg.
func (c *Client) Send(msg any) {
	c.mu.Lock()
	t, state := c.transport, c.state
	c.mu.Unlock()

	if t == nil || state != Connected {
		slog.Warn("send skipped, not connected", "deviceId", c.opts.DeviceID, "state", state)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal error", "deviceId", c.opts.DeviceID, "error", err)
		return
	}
	if err := c.write(t, data); err != nil {
		slog.Warn("send failed", "deviceId", c.opts.DeviceID, "error", err)
	}
}

func (c *Client) write(t Transport, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return t.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.stopTimer = nil
	c.mu.Unlock()

	t, err := c.opts.Dialer.Dial(c.ctx, c.opts.URL)
	if err != nil {
		slog.Warn("dial failed", "url", c.opts.URL, "error", err)
		c.lost(nil)
		return
	}

	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		t.Close()
		return
	}
	c.transport = t
	c.attempts = 0
	c.mu.Unlock()

	// Send refuses until the state is Connected, so the announce is always
	// the first frame on a new socket.
	announce, _ := json.Marshal(domain.AnnounceMessage{
		Type:       domain.TypeDeviceConnect,
		DeviceID:   c.opts.DeviceID,
		DeviceType: c.opts.DeviceType,
	})
	if err := c.write(t, announce); err != nil {
		slog.Warn("announce failed", "deviceId", c.opts.DeviceID, "error", err)
	}

	c.mu.Lock()
	if c.state != Connecting || c.transport != t {
		c.mu.Unlock()
		return
	}
	c.setLocked(Connected, "connected")
	c.mu.Unlock()

	slog.Info("connected to relay", "url", c.opts.URL, "deviceId", c.opts.DeviceID)
	c.notify(Connected, "connected")

	go c.readLoop(t)
}

func (c *Client) readLoop(t Transport) {
	for {
		_, data, err := t.ReadMessage()
		if err != nil {
			slog.Debug("read error", "deviceId", c.opts.DeviceID, "error", err)
			c.lost(t)
			return
		}

		env, err := domain.ParseEnvelope(data)
		if err != nil {
			slog.Warn("invalid message from relay", "error", err)
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(env)
		}
	}
}

// lost handles a failed dial (t == nil) or a dropped socket.
func (c *Client) lost(t Transport) {
	c.mu.Lock()
	switch {
	case c.state == Closed || c.state == GaveUp:
		c.mu.Unlock()
		return
	case t == nil && c.state != Connecting:
		c.mu.Unlock()
		return
	case t != nil && c.transport != t:
		c.mu.Unlock()
		return
	}

	if t != nil {
		t.Close()
	}
	c.transport = nil
	c.attempts++

	if c.attempts >= c.opts.MaxAttempts {
		c.setLocked(GaveUp, StatusGaveUp)
		c.mu.Unlock()

		slog.Error("giving up on relay", "url", c.opts.URL, "attempts", c.opts.MaxAttempts)
		close(c.done)
		c.notify(GaveUp, StatusGaveUp)
		return
	}

	status := fmt.Sprintf("connection lost, retrying in %s (attempt %d of %d)",
		c.opts.RetryDelay, c.attempts, c.opts.MaxAttempts)
	c.setLocked(Disconnected, status)
	c.mu.Unlock()

	c.notify(Disconnected, status)
	c.schedule(c.opts.RetryDelay, c.retry)
}

// schedule hands f to the scheduler and keeps its stop func for Close. A
// scheduler that runs f inline may schedule again before returning; only
// the newest stop func is kept.
func (c *Client) schedule(d time.Duration, f func()) {
	c.mu.Lock()
	c.timerSeq++
	seq := c.timerSeq
	c.mu.Unlock()

	stop := c.opts.Scheduler(d, f)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.timerSeq {
		return
	}
	if c.state == Closed {
		stop()
		return
	}
	c.stopTimer = stop
}

func (c *Client) retry() {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.setLocked(Connecting, "connecting")
	c.mu.Unlock()

	c.notify(Connecting, "connecting")
	c.connect()
}

func (c *Client) setLocked(s State, status string) {
	c.state = s
	c.status = status
}

func (c *Client) notify(s State, status string) {
	if c.opts.OnState != nil {
		c.opts.OnState(s, status)
	}
}
