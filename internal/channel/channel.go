// Package channel maintains the persistent websocket to the sync server:
// auto-reconnect at a fixed interval, per-object subscriptions buffered
// while disconnected, and a grace-period "connection down" notification.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/mistakeknot/orgsync/internal/events"
)

// Conn is the subset of the websocket connection the channel needs. Tests
// substitute an in-memory implementation.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to the server.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DefaultDialer dials a real websocket.
func DefaultDialer(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return wsConn{c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}

// Handlers receive channel lifecycle and message callbacks. OnOpen fires on
// the first successful connect only; OnReconnect fires instead when the
// connection follows a detected disconnection, so the caller can re-fetch
// state it may have missed. OnDown fires once the close grace period
// elapses without a reopen.
type Handlers struct {
	OnMessage   func(evt events.Event)
	OnOpen      func()
	OnReconnect func()
	OnDown      func()
}

// Config tunes the channel timings.
type Config struct {
	URL           string
	DialTimeout   time.Duration // per connection attempt
	RetryInterval time.Duration // fixed delay between attempts
	CloseGrace    time.Duration // quiet period before OnDown fires
	PollInterval  time.Duration // close-confirmation poll in Reconnect
}

func (c *Config) fillDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 4 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 2 * time.Second
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
}

type subKey struct {
	model string
	id    string
}

// Channel is the process-wide event connection. Any number of goroutines
// may call Subscribe/Unsubscribe concurrently.
type Channel struct {
	cfg      Config
	dial     Dialer
	handlers Handlers
	log      *slog.Logger

	mu             sync.Mutex
	conn           Conn
	open           bool
	everOpened     bool
	lostConnection bool
	pending        map[subKey]events.SubscribeAction
	downTimer      *time.Timer
}

// New builds a channel. A nil dialer uses DefaultDialer.
func New(cfg Config, handlers Handlers, dial Dialer, log *slog.Logger) *Channel {
	cfg.fillDefaults()
	if dial == nil {
		dial = DefaultDialer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		cfg:      cfg,
		dial:     dial,
		handlers: handlers,
		log:      log,
		pending:  make(map[subKey]events.SubscribeAction),
	}
}

// Run connects and keeps the channel alive until ctx is canceled. Connection
// attempts retry at a fixed interval with an effectively unbounded count.
func (c *Channel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		conn, err := c.dial(dialCtx, c.cfg.URL)
		cancel()
		if err != nil {
			c.log.Debug("channel dial failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryInterval):
			}
			continue
		}

		c.onOpened(ctx, conn)
		c.readLoop(ctx, conn)
		c.onClosed()
	}
}

func (c *Channel) onOpened(ctx context.Context, conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.open = true
	if c.downTimer != nil {
		c.downTimer.Stop()
		c.downTimer = nil
	}
	first := !c.everOpened
	c.everOpened = true
	wasLost := c.lostConnection
	c.lostConnection = false
	flush := c.pending
	c.pending = make(map[subKey]events.SubscribeAction)
	c.mu.Unlock()

	// Requests queued while disconnected are flushed in arbitrary order.
	for key, action := range flush {
		c.send(ctx, events.SubscribeRequest{Model: key.model, ID: key.id, Action: action})
	}

	switch {
	case first && c.handlers.OnOpen != nil:
		c.handlers.OnOpen()
	case wasLost && c.handlers.OnReconnect != nil:
		c.handlers.OnReconnect()
	}
}

func (c *Channel) onClosed() {
	c.mu.Lock()
	c.conn = nil
	c.open = false
	c.lostConnection = true
	if c.downTimer != nil {
		c.downTimer.Stop()
	}
	c.downTimer = time.AfterFunc(c.cfg.CloseGrace, func() {
		c.mu.Lock()
		stillDown := !c.open
		c.mu.Unlock()
		if stillDown && c.handlers.OnDown != nil {
			c.handlers.OnDown()
		}
	})
	c.mu.Unlock()
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.log.Debug("channel read ended", "err", err)
			return
		}
		var evt events.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			// Undecodable frames are dropped, never fatal: the channel
			// must survive protocol skew.
			c.log.Warn("undecodable frame", "err", err)
			continue
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(evt)
		}
	}
}

func (c *Channel) send(ctx context.Context, req events.SubscribeRequest) {
	data, err := json.Marshal(req)
	if err != nil {
		c.log.Error("marshal subscribe request", "err", err)
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Write(ctx, data); err != nil {
		c.log.Warn("subscribe write failed", "model", req.Model, "id", req.ID, "err", err)
	}
}

// Subscribe requests event delivery for one object. If the connection is
// open the frame is sent immediately; otherwise it is buffered and flushed
// on the next open. Subscriptions sent while connected are not replayed
// after a reconnect; callers resubscribe from OnReconnect.
func (c *Channel) Subscribe(ctx context.Context, modelName, id string) {
	c.request(ctx, modelName, id, events.ActionSubscribe)
}

// Unsubscribe stops event delivery for one object.
func (c *Channel) Unsubscribe(ctx context.Context, modelName, id string) {
	c.request(ctx, modelName, id, events.ActionUnsubscribe)
}

func (c *Channel) request(ctx context.Context, modelName, id string, action events.SubscribeAction) {
	key := subKey{model: modelName, id: id}
	c.mu.Lock()
	if !c.open {
		// Latest action wins: subscribe-then-unsubscribe while down
		// collapses into the final request.
		c.pending[key] = action
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.send(ctx, events.SubscribeRequest{Model: modelName, ID: id, Action: action})
}

// Reconnect force-closes the current connection and waits until the close
// has been processed before returning; the run loop then reopens. Waiting
// avoids the race where a new open event lands before the old close is
// observed.
func (c *Channel) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client requested reconnect")
	}
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		closed := !c.open
		c.mu.Unlock()
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Connected reports whether the channel currently has an open connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
