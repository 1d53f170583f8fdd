package main

import (
	"fmt"
	"time"

	"github.com/kanwork/boardlive/internal/board"
	"github.com/kanwork/boardlive/internal/config"
	"github.com/kanwork/boardlive/internal/realtime"
	"github.com/kanwork/boardlive/internal/reconcile"
)

// session wires the transport, store, and coordinator for one CLI command.
type session struct {
	cfg    *config.Config
	client *realtime.Client
	store  *board.MemStore
	coord  *reconcile.Coordinator
}

// dialSession builds the stack, connects, and joins the configured board
// room. The returned session is live; callers must Close it.
func dialSession(cfg *config.Config, notifier reconcile.Notifier) (*session, error) {
	client := realtime.NewClient(&realtime.Config{
		URL:                  cfg.HubURL,
		Token:                cfg.Token,
		Actor:                cfg.Actor,
		ActorName:            cfg.ActorName,
		MaxReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		Logger:               cfg.NewLogger("[realtime] "),
	})

	store := board.NewMemStore(nil)

	coord := reconcile.New(client, store, notifier, &reconcile.Config{
		Board:  cfg.Board,
		Actor:  cfg.Actor,
		Logger: cfg.NewLogger("[reconcile] "),
	})
	if err := coord.Start(); err != nil {
		return nil, err
	}

	client.Connect()
	if err := waitConnected(client, 5*time.Second); err != nil {
		coord.Stop()
		client.Disconnect()
		return nil, err
	}
	client.JoinRoom(cfg.Board)

	return &session{cfg: cfg, client: client, store: store, coord: coord}, nil
}

// deleteTask removes a task through the optimistic path. The hub sends no
// board snapshot, so a fresh session's store is empty and the coordinator's
// missing-id guard would swallow the delete; seed the target first so the
// command always reaches the wire.
func (s *session) deleteTask(taskID string) string {
	if _, ok := s.store.Find(taskID); !ok {
		tasks := append(s.store.Snapshot(), board.Task{
			ID:     taskID,
			Title:  taskID,
			Status: board.StatusTodo,
		})
		s.store.Replace(tasks)
	}
	return s.coord.OptimisticDelete(taskID)
}

// Close leaves the room and tears the stack down.
func (s *session) Close() {
	s.client.LeaveRoom(s.cfg.Board)
	s.coord.Stop()
	s.client.Disconnect()
}

// waitConnected polls for the transport to come up.
func waitConnected(client *realtime.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.IsConnected() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("could not connect to hub within %v", timeout)
}

// waitAcknowledged waits for the hub echo to clear all pending records.
func waitAcknowledged(coord *reconcile.Coordinator, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if coord.PendingCount() == 0 {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
