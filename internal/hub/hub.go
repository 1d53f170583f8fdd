// Package hub provides an in-process realtime event hub.
//
// The hub accepts websocket clients, tracks per-board room membership, and
// rebroadcasts client commands as attributed domain events to every member
// of the room, including the sender. The echo back to the originator is
// what lets clients acknowledge their own optimistic updates.
//
// Production deployments run the hub as an external service; this package
// backs the devhub command and the integration tests.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kanwork/boardlive/internal/realtime"
)

// Config holds hub configuration.
type Config struct {
	// Port to listen on (0 picks a random free port).
	Port int

	// Token, when non-empty, is required as a Bearer credential on dial.
	Token string

	// Logger for hub activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8090,
		Logger: log.New(os.Stderr, "[hub] ", log.LstdFlags),
	}
}

// client is one connected websocket session.
type client struct {
	conn      *websocket.Conn
	actor     string
	actorName string

	mu    sync.Mutex
	rooms map[string]bool
}

func (c *client) inRoom(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[name]
}

func (c *client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		rooms = append(rooms, name)
	}
	return rooms
}

// Hub manages websocket sessions and room-scoped broadcasting.
type Hub struct {
	addr     string
	token    string
	listener net.Listener
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*client]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// New creates a hub server.
func New(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		addr:    fmt.Sprintf(":%d", config.Port),
		token:   config.Token,
		clients: make(map[*client]bool),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
}

// Start begins the HTTP server and websocket handler.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.logger.Printf("Hub listening on %s", ln.Addr())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() error {
	h.logger.Println("Stopping hub")

	h.cancel()

	h.clientsMu.Lock()
	for c := range h.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "Hub shutting down")
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub shutdown error: %w", err)
	}

	h.wg.Wait()
	h.logger.Println("Hub stopped")
	return nil
}

// Addr returns the hub's listening address.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// URL returns the websocket endpoint for clients.
func (h *Hub) URL() string {
	return "ws://" + h.Addr() + "/ws"
}

// ClientCount returns the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades HTTP connections and runs the session loop.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.token != "" {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+h.token {
			http.Error(w, "invalid credential", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:      conn,
		actor:     r.URL.Query().Get("actor"),
		actorName: r.URL.Query().Get("actor_name"),
		rooms:     make(map[string]bool),
	}
	if c.actorName == "" {
		c.actorName = c.actor
	}

	h.clientsMu.Lock()
	h.clients[c] = true
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Client connected: %s (total: %d)", c.actor, clientCount)

	// Welcome event so clients observe the session as established.
	h.sendTo(c, realtime.Event{
		Type:      realtime.EventConnected,
		Actor:     c.actor,
		Timestamp: time.Now(),
	})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.readLoop(c)
	}()
}

// readLoop decodes commands from one client and rebroadcasts them as
// domain events until the connection drops.
func (h *Hub) readLoop(c *client) {
	defer h.removeClient(c)

	for {
		_, data, err := c.conn.Read(h.ctx)
		if err != nil {
			return
		}

		var ev realtime.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			h.logger.Printf("Dropping malformed command from %s: %v", c.actor, err)
			continue
		}

		h.handleCommand(c, ev)
	}
}

// handleCommand applies one client command.
func (h *Hub) handleCommand(c *client, ev realtime.Event) {
	switch ev.Type {
	case realtime.CmdJoinBoard:
		c.mu.Lock()
		c.rooms[ev.Board] = true
		c.mu.Unlock()
		h.logger.Printf("%s joined board %q", c.actor, ev.Board)

	case realtime.CmdLeaveBoard:
		c.mu.Lock()
		delete(c.rooms, ev.Board)
		c.mu.Unlock()
		h.logger.Printf("%s left board %q", c.actor, ev.Board)

	case realtime.CmdUpdateTask, realtime.CmdMoveTask, realtime.CmdCreateTask,
		realtime.CmdDeleteTask, realtime.CmdPresencePing:
		out := realtime.Event{
			Type:      commandEvent(ev.Type),
			Board:     ev.Board,
			Actor:     c.actor,
			ActorName: c.actorName,
			Timestamp: time.Now(),
			Data:      ev.Data,
		}
		h.broadcast(ev.Board, out)

	default:
		h.logger.Printf("Unknown command %q from %s", ev.Type, c.actor)
	}
}

// commandEvent maps an outbound command to the domain event it produces.
func commandEvent(t realtime.EventType) realtime.EventType {
	switch t {
	case realtime.CmdUpdateTask:
		return realtime.EventTaskUpdated
	case realtime.CmdMoveTask:
		return realtime.EventTaskMoved
	case realtime.CmdCreateTask:
		return realtime.EventTaskCreated
	case realtime.CmdDeleteTask:
		return realtime.EventTaskDeleted
	case realtime.CmdPresencePing:
		return realtime.EventUserPresence
	default:
		return t
	}
}

// broadcast sends an event to every member of a room, including the
// originator. Failed writes drop the client.
func (h *Hub) broadcast(room string, ev realtime.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("Failed to marshal %s event: %v", ev.Type, err)
		return
	}

	h.clientsMu.RLock()
	members := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.inRoom(room) {
			members = append(members, c)
		}
	}
	h.clientsMu.RUnlock()

	for _, c := range members {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			h.logger.Printf("Failed to send to %s: %v", c.actor, err)
			h.removeClient(c)
		}
	}
}

// sendTo writes one event to a single client.
func (h *Hub) sendTo(c *client, ev realtime.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("Failed to marshal %s event: %v", ev.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Printf("Failed to send to %s: %v", c.actor, err)
	}
}

// removeClient drops a session and announces the departure to its rooms.
func (h *Hub) removeClient(c *client) {
	h.clientsMu.Lock()
	if _, exists := h.clients[c]; !exists {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, c)
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Printf("Client disconnected: %s (total: %d)", c.actor, clientCount)

	offline, _ := json.Marshal(realtime.PresenceData{Status: "offline"})
	for _, room := range c.joinedRooms() {
		h.broadcast(room, realtime.Event{
			Type:      realtime.EventUserPresence,
			Board:     room,
			Actor:     c.actor,
			ActorName: c.actorName,
			Timestamp: time.Now(),
			Data:      offline,
		})
	}
}

// handleHealth returns hub health status.
func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.clientsMu.RLock()
	clientCount := len(h.clients)
	h.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}
