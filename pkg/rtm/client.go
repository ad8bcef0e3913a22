// Copyright 2024-2026 Aiku AI

package rtm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	reconnectBaseDelay  = 1 * time.Second
	reconnectMaxDelay   = 30 * time.Second
	writeTimeout        = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultReplyTimeout = 10 * time.Second
	eventBufferSize     = 128
)

var (
	// ErrNotConnected is returned for real-time calls issued while no
	// websocket connection is live. Calls are never queued.
	ErrNotConnected = errors.New("rtm: not connected")
	// ErrReplyTimeout is returned when an awaited reply never arrives.
	ErrReplyTimeout = errors.New("rtm: timed out waiting for reply")
	// ErrClosed is returned for calls outstanding when the client closes.
	ErrClosed = errors.New("rtm: client closed")
)

// Client owns one persistent RTM websocket session. Lifecycle progress and
// backend push events are both delivered on Events; transient connection
// loss is retried internally with capped exponential backoff.
type Client struct {
	api          *APIClient
	dialer       *websocket.Dialer
	log          zerolog.Logger
	pingInterval time.Duration
	replyTimeout time.Duration

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex // guards conn
	conn    *websocket.Conn
	writeMu sync.Mutex // serializes all websocket writes

	msgID     atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan map[string]any
}

// Option customizes a Client.
type Option func(*Client)

// WithPingInterval sets the keep-alive ping period.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithReplyTimeout sets how long awaited calls wait for their reply.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.replyTimeout = d
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates an RTM client on top of a Web API client. The session
// is not established until Start is called.
func NewClient(api *APIClient, opts ...Option) *Client {
	c := &Client{
		api:          api,
		dialer:       websocket.DefaultDialer,
		log:          zerolog.Nop(),
		pingInterval: defaultPingInterval,
		replyTimeout: defaultReplyTimeout,
		events:       make(chan Event, eventBufferSize),
		stop:         make(chan struct{}),
		pending:      make(map[int64]chan map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the stream of lifecycle and push events. The channel is
// never closed; consumers should stop on EventTypeDisconnected or their own
// shutdown signal.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Start launches the connection manager. Progress is reported on Events;
// Start itself never blocks.
func (c *Client) Start(ctx context.Context) {
	go c.run(ctx)
}

// CallAPI invokes a Web API method over the REST channel.
func (c *Client) CallAPI(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	return c.api.Call(ctx, method, args)
}

// run drives the connect/read/reconnect cycle until the client is closed.
func (c *Client) run(ctx context.Context) {
	delay := reconnectBaseDelay
	c.emit(Event{Type: EventTypeConnecting})
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		payload, err := c.api.Call(ctx, "rtm.connect", nil)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && fatalAuthError(apiErr.Reason) {
				c.log.Error().Str("reason", apiErr.Reason).Msg("Authentication rejected, giving up")
				c.emit(Event{Type: EventTypeError, Data: map[string]any{"error": apiErr.Reason, "fatal": true}})
				return
			}
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("rtm.connect failed")
			if !c.sleep(ctx, delay) {
				return
			}
			delay = minDuration(delay*2, reconnectMaxDelay)
			continue
		}
		c.emit(Event{Type: EventTypeAuthenticated, Data: payload})

		wsURL, _ := payload["url"].(string)
		if wsURL == "" {
			c.log.Warn().Dur("retry_in", delay).Msg("rtm.connect returned no websocket URL")
			if !c.sleep(ctx, delay) {
				return
			}
			delay = minDuration(delay*2, reconnectMaxDelay)
			continue
		}

		conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("Websocket dial failed")
			if !c.sleep(ctx, delay) {
				return
			}
			delay = minDuration(delay*2, reconnectMaxDelay)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		delay = reconnectBaseDelay
		c.emit(Event{Type: EventTypeConnected, Data: payload})

		pingCtx, cancelPing := context.WithCancel(ctx)
		go c.pingLoop(pingCtx, conn)
		err = c.readLoop(conn)
		cancelPing()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		// Transient loss: the session goes straight back to dialing without
		// passing through disconnected.
		c.log.Warn().Err(err).Msg("Connection lost, reconnecting")
		c.emit(Event{Type: EventTypeReconnecting})
	}
}

// readLoop pumps frames from one connection until it fails. Replies are
// routed to their waiting call; everything else goes out as an event.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("Discarding unparseable frame")
			continue
		}
		if replyTo, ok := msg["reply_to"]; ok {
			c.routeReply(replyTo, msg)
			continue
		}
		eventType, _ := msg["type"].(string)
		if eventType == "" {
			continue
		}
		c.emit(Event{Type: eventType, Data: msg})
	}
}

func (c *Client) routeReply(replyTo any, msg map[string]any) {
	id, ok := replyTo.(float64)
	if !ok {
		return
	}
	c.pendingMu.Lock()
	ch, found := c.pending[int64(id)]
	delete(c.pending, int64(id))
	c.pendingMu.Unlock()
	if found {
		ch <- msg
	}
}

// pingLoop keeps one connection alive. It exits when the connection is
// replaced, the write fails, or the client stops.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			if _, err := c.Call(ctx, "ping", nil, false); err != nil {
				return
			}
		}
	}
}

// Call sends one real-time message. When awaitReply is set, it blocks until
// the matching reply_to frame arrives, the reply timeout fires, or the
// context/client is done. Fire-and-forget calls return (nil, nil) as soon
// as the frame is written; the transport produces no reply for them.
func (c *Client) Call(ctx context.Context, method string, args map[string]any, awaitReply bool) (map[string]any, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	id := c.msgID.Add(1)
	envelope := make(map[string]any, len(args)+2)
	for key, value := range args {
		envelope[key] = value
	}
	envelope["id"] = id
	envelope["type"] = method

	var replyCh chan map[string]any
	if awaitReply {
		replyCh = make(chan map[string]any, 1)
		c.pendingMu.Lock()
		c.pending[id] = replyCh
		c.pendingMu.Unlock()
		defer func() {
			c.pendingMu.Lock()
			delete(c.pending, id)
			c.pendingMu.Unlock()
		}()
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(envelope)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}
	if !awaitReply {
		return nil, nil
	}

	timer := time.NewTimer(c.replyTimeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", method, ErrReplyTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stop:
		return nil, ErrClosed
	}
}

// Close tears the connection down. Safe to call more than once. In-flight
// calls are not aborted; they settle on their own.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		c.emit(Event{Type: EventTypeDisconnecting})
		close(c.stop)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			_ = conn.Close()
		}

		// Best-effort: the consumer may already be gone.
		select {
		case c.events <- Event{Type: EventTypeDisconnected}:
		default:
		}
	})
	return nil
}

// emit delivers an event, giving up only when the client stops.
func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.stop:
	}
}

// sleep waits for d, returning false if the client stopped meanwhile.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// fatalAuthError reports whether an rtm.connect rejection is unrecoverable.
// These are surfaced once and never retried.
func fatalAuthError(reason string) bool {
	switch reason {
	case "invalid_auth", "not_authed", "account_inactive", "token_revoked", "token_expired":
		return true
	default:
		return false
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
