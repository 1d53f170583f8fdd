// Package realtime provides the websocket transport adapter for the
// collaborative board.
//
// The client owns a single logical connection to the event hub, translates
// structured domain commands into wire events and vice versa, and surfaces
// connection-state transitions to subscribers. Reconnection is bounded:
// after the attempt ceiling is reached the client reports a terminal error
// and stops retrying until Connect is called again.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// State is the connection lifecycle state. It is owned exclusively by the
// client and mutated only by its internal handlers.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotConnected is returned by Send and room operations attempted while
// the connection is down. Callers treat it as a dropped command, not a
// fatal condition.
var ErrNotConnected = errors.New("not connected to hub")

// Handler receives inbound events for a subscribed event type.
type Handler func(Event)

// StateHandler receives connection-state transitions.
type StateHandler func(State)

// ErrorHandler receives transport-level errors. All such errors are
// funneled here rather than returned across the asynchronous boundary.
type ErrorHandler func(error)

// Config holds client configuration.
type Config struct {
	// URL is the hub websocket endpoint, e.g. ws://host:port/ws.
	URL string

	// Token is the opaque session credential sent on dial.
	Token string

	// Actor identifies the local user; the hub attributes broadcasts to it.
	Actor string

	// ActorName is the display name attached to outbound commands.
	ActorName string

	// MaxReconnectAttempts bounds automatic reconnection (default: 5).
	MaxReconnectAttempts int

	// ReconnectDelay is the fixed inter-attempt delay (default: 1s).
	ReconnectDelay time.Duration

	// DialTimeout bounds a single connection attempt (default: 10s).
	DialTimeout time.Duration

	// Logger for client activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		DialTimeout:          10 * time.Second,
		Logger:               log.New(os.Stderr, "[realtime] ", log.LstdFlags),
	}
}

// Client maintains exactly one logical hub connection per session.
type Client struct {
	cfg    *Config
	logger *log.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	attempts int
	rooms    map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	subsMu    sync.Mutex
	subs      map[EventType]map[int]Handler
	stateSubs map[int]StateHandler
	errSubs   map[int]ErrorHandler
	nextSub   int
}

// NewClient creates a client. Config fields left zero fall back to defaults.
func NewClient(cfg *Config) *Client {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	return &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		rooms:     make(map[string]bool),
		subs:      make(map[EventType]map[int]Handler),
		stateSubs: make(map[int]StateHandler),
		errSubs:   make(map[int]ErrorHandler),
	}
}

// Connect establishes the hub connection in the background. Calling while
// already connected (or connecting) is a no-op. Dial failures never
// propagate out of Connect; they are reported through error subscribers
// and the state returns to Disconnected.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		c.logger.Printf("Connect ignored: already %s", c.state)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	c.wg.Add(1)
	go c.run(ctx)
}

// Disconnect tears down the connection and clears all registered
// listeners. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.rooms = make(map[string]bool)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnecting")
	}
	c.wg.Wait()

	c.setState(StateDisconnected)

	c.subsMu.Lock()
	c.subs = make(map[EventType]map[int]Handler)
	c.stateSubs = make(map[int]StateHandler)
	c.errSubs = make(map[int]ErrorHandler)
	c.subsMu.Unlock()
}

// IsConnected reports a synchronous snapshot of the connection state.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns the current reconnection attempt counter. It
// resets to zero on any successful connection.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// On subscribes a handler to an event type and returns a disposer.
func (c *Client) On(t EventType, h Handler) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.subs[t] == nil {
		c.subs[t] = make(map[int]Handler)
	}
	id := c.nextSub
	c.nextSub++
	c.subs[t][id] = h

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs[t], id)
	}
}

// OnStateChange subscribes to connection-state transitions.
func (c *Client) OnStateChange(h StateHandler) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = h

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.stateSubs, id)
	}
}

// OnError subscribes to transport-level errors.
func (c *Client) OnError(h ErrorHandler) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.errSubs[id] = h

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.errSubs, id)
	}
}

// JoinRoom subscribes to a named broadcast channel (one room per board).
// No-op with a logged warning if not connected. Joining a room twice is a
// no-op; rooms are rejoined automatically after a reconnect.
func (c *Client) JoinRoom(name string) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		c.logger.Printf("Not connected, join room %q dropped", name)
		return
	}
	if c.rooms[name] {
		c.mu.Unlock()
		return
	}
	c.rooms[name] = true
	c.mu.Unlock()

	if err := c.Send(CmdJoinBoard, name, nil); err != nil {
		c.logger.Printf("Failed to join room %q: %v", name, err)
		c.mu.Lock()
		delete(c.rooms, name)
		c.mu.Unlock()
	}
}

// LeaveRoom unsubscribes from a named broadcast channel. Idempotent;
// no-op if not connected or not joined.
func (c *Client) LeaveRoom(name string) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		c.logger.Printf("Not connected, leave room %q dropped", name)
		return
	}
	if !c.rooms[name] {
		c.mu.Unlock()
		return
	}
	delete(c.rooms, name)
	c.mu.Unlock()

	if err := c.Send(CmdLeaveBoard, name, nil); err != nil {
		c.logger.Printf("Failed to leave room %q: %v", name, err)
	}
}

// Send emits a fire-and-forget command. There is no acknowledgement at
// this layer; any server response arrives later as an independent inbound
// event. Returns ErrNotConnected (after a logged warning) when the
// connection is down.
func (c *Client) Send(t EventType, boardName string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Printf("Not connected, dropping %s command", t)
		return ErrNotConnected
	}

	ev := Event{
		Type:      t,
		Board:     boardName,
		Actor:     c.cfg.Actor,
		ActorName: c.cfg.ActorName,
		Timestamp: time.Now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		ev.Data = raw
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", t, err)
	}
	return nil
}

// run owns the connection lifecycle: initial dial, read loop, and bounded
// reconnection. It exits on deliberate disconnect, dial failure, or retry
// exhaustion.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
		c.reportError(fmt.Errorf("failed to connect to hub: %w", err))
		return
	}
	c.adopt(conn)
	c.setState(StateConnected)

	for {
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		c.logger.Printf("Connection lost: %v", err)
		c.dispatch(Event{Type: EventConnectionLost, Timestamp: time.Now()})
		c.setState(StateReconnecting)

		conn, err = c.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A later Connect starts a fresh session; room membership
			// does not carry over, so JoinRoom must work again.
			c.mu.Lock()
			c.rooms = make(map[string]bool)
			c.mu.Unlock()
			c.setState(StateDisconnected)
			c.reportError(err)
			c.dispatch(Event{Type: EventDisconnected, Timestamp: time.Now()})
			return
		}

		c.adopt(conn)
		c.setState(StateConnected)
		c.dispatch(Event{Type: EventConnectionRestored, Timestamp: time.Now()})
		c.rejoinRooms()
	}
}

// dial opens one websocket connection to the hub.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("hub URL is empty")
	}

	u := c.cfg.URL + "?actor=" + url.QueryEscape(c.cfg.Actor)
	if c.cfg.ActorName != "" {
		u += "&actor_name=" + url.QueryEscape(c.cfg.ActorName)
	}

	hdr := http.Header{}
	if c.cfg.Token != "" {
		hdr.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, u, &websocket.DialOptions{
		HTTPHeader: hdr,
	})
	return conn, err
}

// adopt installs a live connection and resets the attempt counter.
func (c *Client) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()
}

// readLoop decodes inbound events in connection order and dispatches them
// to subscribers. Returns the read error that ended the connection.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Printf("Dropping malformed event: %v", err)
			continue
		}
		c.dispatch(ev)
	}
}

// reconnect retries the dial up to the configured ceiling with a fixed
// delay between attempts. Exhausting the ceiling is terminal: further
// reconnection requires an explicit Connect call.
func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		c.mu.Lock()
		c.attempts = attempt
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}

		c.logger.Printf("Reconnect attempt %d/%d", attempt, c.cfg.MaxReconnectAttempts)
		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		c.logger.Printf("Reconnect attempt %d failed: %v", attempt, err)
	}
	return nil, fmt.Errorf("giving up after %d reconnect attempts", c.cfg.MaxReconnectAttempts)
}

// rejoinRooms re-sends join commands for all rooms joined before the drop.
func (c *Client) rejoinRooms() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		rooms = append(rooms, name)
	}
	c.mu.Unlock()

	for _, name := range rooms {
		if err := c.Send(CmdJoinBoard, name, nil); err != nil {
			c.logger.Printf("Failed to rejoin room %q: %v", name, err)
		}
	}
}

// setState records a transition and notifies state subscribers. No-op if
// the state is unchanged.
func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notifyState(s)
}

func (c *Client) notifyState(s State) {
	c.subsMu.Lock()
	handlers := make([]StateHandler, 0, len(c.stateSubs))
	for _, h := range c.stateSubs {
		handlers = append(handlers, h)
	}
	c.subsMu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

// dispatch delivers an event to its subscribers in the read-loop
// goroutine, preserving connection order.
func (c *Client) dispatch(ev Event) {
	c.subsMu.Lock()
	handlers := make([]Handler, 0, len(c.subs[ev.Type]))
	for _, h := range c.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	c.subsMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (c *Client) reportError(err error) {
	c.logger.Printf("Transport error: %v", err)

	c.subsMu.Lock()
	handlers := make([]ErrorHandler, 0, len(c.errSubs))
	for _, h := range c.errSubs {
		handlers = append(handlers, h)
	}
	c.subsMu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}
