// Package reconcile implements the optimistic update coordinator for the
// collaborative board.
//
// The coordinator sits between the task store and the realtime transport.
// Every local mutation is applied to the store immediately, recorded as a
// PendingUpdate, and forwarded over the transport. When the hub echoes the
// mutation back to its originator the pending record is acknowledged and
// the store is left alone; when another actor's mutation arrives it is
// merged into the store exactly once and the user is notified. A periodic
// sweep prunes stale pending records, and reconnection resends the ones
// not yet acknowledged.
package reconcile

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kanwork/boardlive/internal/board"
	"github.com/kanwork/boardlive/internal/realtime"
)

// Transport is the slice of the realtime client the coordinator needs.
// *realtime.Client satisfies it; tests substitute a double.
type Transport interface {
	IsConnected() bool
	Send(t realtime.EventType, boardName string, payload any) error
	On(t realtime.EventType, h realtime.Handler) func()
	OnStateChange(h realtime.StateHandler) func()
}

// Notification is a user-visible message. Duration zero means persistent;
// de-duplication by ID is the notification surface's responsibility.
type Notification struct {
	ID       string
	Message  string
	Duration time.Duration
}

// Notifier receives user-visible notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

const toastDuration = 4 * time.Second

// Config holds coordinator configuration.
type Config struct {
	// Board is the room all commands are scoped to.
	Board string

	// Actor is the local user's identity; inbound events attributed to it
	// are treated as echoes of local mutations.
	Actor string

	// RetentionWindow is how long an unacknowledged record is kept before
	// the sweep drops it (default: 5m).
	RetentionWindow time.Duration

	// SweepInterval is how often the staleness sweep runs (default: 1m).
	SweepInterval time.Duration

	// MaxRetries caps resend attempts per record (default: 3).
	MaxRetries int

	// Logger for coordinator activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RetentionWindow: 5 * time.Minute,
		SweepInterval:   time.Minute,
		MaxRetries:      3,
		Logger:          log.New(os.Stderr, "[reconcile] ", log.LstdFlags),
	}
}

// Coordinator gives callers the illusion of zero-latency mutation while
// staying eventually consistent with the hub and other actors.
type Coordinator struct {
	cfg       *Config
	transport Transport
	store     board.Store
	notifier  Notifier
	logger    *log.Logger

	// mu serializes local mutations and remote merges so both paths see a
	// consistent pending set and store snapshot.
	mu      sync.Mutex
	pending map[pendingKey]*PendingUpdate

	disposers []func()
	done      chan struct{}
	wg        sync.WaitGroup
	started   bool
}

// New creates a coordinator. The transport, store, and notifier are
// required collaborators; cfg fields left zero fall back to defaults.
func New(transport Transport, store board.Store, notifier Notifier, cfg *Config) *Coordinator {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = def.RetentionWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}

	return &Coordinator{
		cfg:       cfg,
		transport: transport,
		store:     store,
		notifier:  notifier,
		logger:    cfg.Logger,
		pending:   make(map[pendingKey]*PendingUpdate),
		done:      make(chan struct{}),
	}
}

// Start subscribes to transport events and launches the staleness sweep.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	// Stop closed the previous done channel; each run gets its own.
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.disposers = append(c.disposers,
		c.transport.On(realtime.EventTaskUpdated, c.handleTaskUpdated),
		c.transport.On(realtime.EventTaskMoved, c.handleTaskMoved),
		c.transport.On(realtime.EventTaskCreated, c.handleTaskCreated),
		c.transport.On(realtime.EventTaskDeleted, c.handleTaskDeleted),
		c.transport.On(realtime.EventConnectionLost, c.handleConnectionLost),
		c.transport.On(realtime.EventConnectionRestored, c.handleConnectionRestored),
		c.transport.OnStateChange(c.handleStateChange),
	)

	c.wg.Add(1)
	go c.sweepLoop(done)

	return nil
}

// Stop unsubscribes and stops the sweep. Pending records are discarded;
// they are never persisted beyond process memory.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	done := c.done
	c.mu.Unlock()

	for _, dispose := range c.disposers {
		dispose()
	}
	c.disposers = nil

	close(done)
	c.wg.Wait()
}

// IsConnected reports the transport's connection state for offline
// affordances.
func (c *Coordinator) IsConnected() bool {
	return c.transport.IsConnected()
}

// PendingCount returns the number of unacknowledged local mutations.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingUpdates returns a snapshot of the pending set.
func (c *Coordinator) PendingUpdates() []PendingUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingUpdate, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, *p)
	}
	return out
}

// OptimisticUpdate patches the task locally, registers a pending record,
// and forwards the change if connected. Returns the pending record's id.
func (c *Coordinator) OptimisticUpdate(taskID string, patch board.Patch) string {
	c.mu.Lock()

	title, _ := c.patchTaskLocked(taskID, patch)

	p := newPending(KindUpdate, taskID)
	p.Patch = patch
	p.Title = title
	c.pending[pendingKey{KindUpdate, taskID}] = p
	c.mu.Unlock()

	c.forward(p)
	return p.ID
}

// OptimisticMove patches the task's status locally, registers a pending
// record, and forwards the move if connected.
func (c *Coordinator) OptimisticMove(taskID string, from, to board.Status) string {
	c.mu.Lock()

	status := to
	title, _ := c.patchTaskLocked(taskID, board.Patch{Status: &status})

	p := newPending(KindMove, taskID)
	p.From = from
	p.To = to
	p.Title = title
	c.pending[pendingKey{KindMove, taskID}] = p
	c.mu.Unlock()

	c.forward(p)
	return p.ID
}

// OptimisticCreate appends the task locally, registers a pending record,
// and forwards the creation if connected.
func (c *Coordinator) OptimisticCreate(task board.Task) string {
	task.SetDefaults()

	c.mu.Lock()
	tasks := c.store.Snapshot()
	next := make([]board.Task, 0, len(tasks)+1)
	next = append(next, tasks...)
	next = append(next, task.Clone())
	c.store.Replace(next)

	p := newPending(KindCreate, task.ID)
	p.Task = task.Clone()
	p.Title = task.Title
	c.pending[pendingKey{KindCreate, task.ID}] = p
	c.mu.Unlock()

	c.forward(p)
	return p.ID
}

// OptimisticDelete removes the task locally, registers a pending record,
// and forwards the deletion if connected. Deleting an id that does not
// exist is not an error: it returns the empty string and changes nothing.
func (c *Coordinator) OptimisticDelete(taskID string) string {
	c.mu.Lock()

	tasks := c.store.Snapshot()
	found := false
	title := ""
	next := make([]board.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == taskID {
			found = true
			title = t.Title
			continue
		}
		next = append(next, t)
	}
	if !found {
		c.mu.Unlock()
		return ""
	}
	c.store.Replace(next)

	p := newPending(KindDelete, taskID)
	p.Title = title
	c.pending[pendingKey{KindDelete, taskID}] = p
	c.mu.Unlock()

	c.forward(p)
	return p.ID
}

// ResendPending resends every record with a retry budget left. Records
// that exhaust the budget are left for the staleness sweep; the user gets
// a one-shot terminal notification per record.
func (c *Coordinator) ResendPending() {
	c.mu.Lock()
	records := make([]*PendingUpdate, 0, len(c.pending))
	for _, p := range c.pending {
		records = append(records, p)
	}
	c.mu.Unlock()

	for _, p := range records {
		c.mu.Lock()
		exhausted := p.RetryCount >= c.cfg.MaxRetries
		notify := exhausted && !p.failureNotified
		if notify {
			p.failureNotified = true
		}
		c.mu.Unlock()

		if exhausted {
			if notify {
				c.logger.Printf("Giving up on %s %s after %d attempts", p.Kind, p.TaskID, p.RetryCount)
				c.notifier.Notify(Notification{
					ID:       "sync-failed-" + p.ID,
					Message:  fmt.Sprintf("Could not sync %s of %q", p.Kind, p.displayTitle()),
					Duration: toastDuration,
				})
			}
			continue
		}

		if err := c.send(p); err != nil {
			c.mu.Lock()
			p.RetryCount++
			c.mu.Unlock()
			c.logger.Printf("Resend of %s %s failed (attempt %d): %v", p.Kind, p.TaskID, p.RetryCount, err)
		}
	}
}

// Sweep drops pending records older than the retention window. Removal is
// passive: the optimistic change already applied and is not rolled back.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, p := range c.pending {
		if p.Age() > c.cfg.RetentionWindow {
			delete(c.pending, key)
			removed++
			c.logger.Printf("Pruned stale %s for %s (age %v)", p.Kind, p.TaskID, p.Age().Round(time.Second))
		}
	}
	return removed
}

// patchTaskLocked applies a patch to the store under c.mu using whole-list
// replacement. Returns the target task's title and whether the target was
// found; an absent target leaves the collection untouched.
func (c *Coordinator) patchTaskLocked(taskID string, patch board.Patch) (string, bool) {
	tasks := c.store.Snapshot()
	found := false
	title := ""
	next := make([]board.Task, len(tasks))
	for i, t := range tasks {
		if t.ID == taskID {
			next[i] = patch.Apply(t)
			title = next[i].Title
			found = true
		} else {
			next[i] = t
		}
	}
	if !found {
		return "", false
	}
	c.store.Replace(next)
	return title, true
}

// forward sends a freshly registered pending record, or tells the user it
// will sync later when offline.
func (c *Coordinator) forward(p *PendingUpdate) {
	if !c.transport.IsConnected() {
		c.logger.Printf("Offline: %s %s queued for sync", p.Kind, p.TaskID)
		c.notifier.Notify(Notification{
			ID:       "offline-queued",
			Message:  "You're offline - this change will sync when reconnected",
			Duration: toastDuration,
		})
		return
	}

	if err := c.send(p); err != nil {
		c.mu.Lock()
		p.RetryCount++
		c.mu.Unlock()
		c.logger.Printf("Send of %s %s failed: %v", p.Kind, p.TaskID, err)
	}
}

// send emits the wire command for one pending record.
func (c *Coordinator) send(p *PendingUpdate) error {
	switch p.Kind {
	case KindUpdate:
		return c.transport.Send(realtime.CmdUpdateTask, c.cfg.Board, realtime.TaskUpdatedData{
			TaskID: p.TaskID,
			Patch:  p.Patch,
			Title:  p.Title,
		})
	case KindMove:
		return c.transport.Send(realtime.CmdMoveTask, c.cfg.Board, realtime.TaskMovedData{
			TaskID: p.TaskID,
			From:   p.From,
			To:     p.To,
			Title:  p.Title,
		})
	case KindCreate:
		return c.transport.Send(realtime.CmdCreateTask, c.cfg.Board, realtime.TaskCreatedData{
			Task: p.Task,
		})
	case KindDelete:
		return c.transport.Send(realtime.CmdDeleteTask, c.cfg.Board, realtime.TaskDeletedData{
			TaskID: p.TaskID,
			Title:  p.Title,
		})
	default:
		return fmt.Errorf("unknown pending kind %q", p.Kind)
	}
}

// acknowledge removes the matching pending record for an own echo.
// Returns true when a record was found.
func (c *Coordinator) acknowledge(kind Kind, taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pendingKey{kind, taskID}
	if _, ok := c.pending[key]; !ok {
		return false
	}
	delete(c.pending, key)
	return true
}

// ===== Inbound reconciliation =====

// handleTaskUpdated reconciles a task_updated broadcast: own echoes
// acknowledge the pending record and leave the store alone; remote changes
// merge and notify.
func (c *Coordinator) handleTaskUpdated(ev realtime.Event) {
	d, err := ev.DecodeTaskUpdated()
	if err != nil {
		c.logger.Printf("Ignoring task_updated: %v", err)
		return
	}

	if ev.Actor == c.cfg.Actor {
		if c.acknowledge(KindUpdate, d.TaskID) {
			c.logger.Printf("Acknowledged update of %s", d.TaskID)
		}
		return
	}

	c.mu.Lock()
	title, found := c.patchTaskLocked(d.TaskID, d.Patch)
	c.mu.Unlock()
	if !found || title == "" {
		title = d.Title
	}

	c.notifier.Notify(Notification{
		ID:       "remote-" + d.TaskID,
		Message:  fmt.Sprintf("%s updated %q", actorLabel(ev), title),
		Duration: toastDuration,
	})
}

// handleTaskMoved reconciles a task_moved broadcast.
func (c *Coordinator) handleTaskMoved(ev realtime.Event) {
	d, err := ev.DecodeTaskMoved()
	if err != nil {
		c.logger.Printf("Ignoring task_moved: %v", err)
		return
	}

	if ev.Actor == c.cfg.Actor {
		if c.acknowledge(KindMove, d.TaskID) {
			c.logger.Printf("Acknowledged move of %s", d.TaskID)
		}
		return
	}

	status := d.To
	c.mu.Lock()
	title, found := c.patchTaskLocked(d.TaskID, board.Patch{Status: &status})
	c.mu.Unlock()
	if !found || title == "" {
		title = d.Title
	}

	c.notifier.Notify(Notification{
		ID:       "remote-" + d.TaskID,
		Message:  fmt.Sprintf("%s moved %q to %s", actorLabel(ev), title, d.To),
		Duration: toastDuration,
	})
}

// handleTaskCreated reconciles a task_created broadcast.
func (c *Coordinator) handleTaskCreated(ev realtime.Event) {
	d, err := ev.DecodeTaskCreated()
	if err != nil {
		c.logger.Printf("Ignoring task_created: %v", err)
		return
	}

	if ev.Actor == c.cfg.Actor {
		if c.acknowledge(KindCreate, d.Task.ID) {
			c.logger.Printf("Acknowledged creation of %s", d.Task.ID)
		}
		return
	}

	c.mu.Lock()
	tasks := c.store.Snapshot()
	exists := false
	for _, t := range tasks {
		if t.ID == d.Task.ID {
			exists = true
			break
		}
	}
	if !exists {
		next := make([]board.Task, 0, len(tasks)+1)
		next = append(next, tasks...)
		next = append(next, d.Task.Clone())
		c.store.Replace(next)
	}
	c.mu.Unlock()

	c.notifier.Notify(Notification{
		ID:       "remote-" + d.Task.ID,
		Message:  fmt.Sprintf("%s created %q", actorLabel(ev), d.Task.Title),
		Duration: toastDuration,
	})
}

// handleTaskDeleted reconciles a task_deleted broadcast.
func (c *Coordinator) handleTaskDeleted(ev realtime.Event) {
	d, err := ev.DecodeTaskDeleted()
	if err != nil {
		c.logger.Printf("Ignoring task_deleted: %v", err)
		return
	}

	if ev.Actor == c.cfg.Actor {
		if c.acknowledge(KindDelete, d.TaskID) {
			c.logger.Printf("Acknowledged deletion of %s", d.TaskID)
		}
		return
	}

	title := d.Title
	c.mu.Lock()
	tasks := c.store.Snapshot()
	next := make([]board.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == d.TaskID {
			if t.Title != "" {
				title = t.Title
			}
			continue
		}
		next = append(next, t)
	}
	c.store.Replace(next)
	c.mu.Unlock()

	c.notifier.Notify(Notification{
		ID:       "remote-" + d.TaskID,
		Message:  fmt.Sprintf("%s deleted %q", actorLabel(ev), title),
		Duration: toastDuration,
	})
}

// handleConnectionLost surfaces the drop; the offline banner is derived
// from IsConnected by the hosting surface.
func (c *Coordinator) handleConnectionLost(realtime.Event) {
	c.notifier.Notify(Notification{
		ID:      "connection",
		Message: "Connection lost - changes will sync when reconnected",
	})
}

// handleConnectionRestored surfaces the recovery.
func (c *Coordinator) handleConnectionRestored(realtime.Event) {
	c.notifier.Notify(Notification{
		ID:       "connection",
		Message:  "Connection restored",
		Duration: toastDuration,
	})
}

// handleStateChange triggers the retry sweep whenever the transport comes
// back up.
func (c *Coordinator) handleStateChange(s realtime.State) {
	if s == realtime.StateConnected {
		c.ResendPending()
	}
}

// sweepLoop runs the staleness prune on the configured interval.
func (c *Coordinator) sweepLoop(done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.Printf("Staleness sweep removed %d records", removed)
			}
		}
	}
}

func (p *PendingUpdate) displayTitle() string {
	if p.Title != "" {
		return p.Title
	}
	return p.TaskID
}

func actorLabel(ev realtime.Event) string {
	if ev.ActorName != "" {
		return ev.ActorName
	}
	if ev.Actor != "" {
		return ev.Actor
	}
	return "Someone"
}
