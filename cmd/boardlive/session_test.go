package main

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/kanwork/boardlive/internal/config"
	"github.com/kanwork/boardlive/internal/hub"
	"github.com/kanwork/boardlive/internal/reconcile"
)

func startTestHub(t *testing.T) *hub.Hub {
	t.Helper()

	h := hub.New(&hub.Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test-hub] ", log.LstdFlags),
	})
	if err := h.Start(); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	time.Sleep(100 * time.Millisecond)
	return h
}

func testConfig(h *hub.Hub) *config.Config {
	return &config.Config{
		HubURL:            h.URL(),
		Board:             "sprint-1",
		Actor:             "alice",
		ActorName:         "Alice",
		ReconnectAttempts: 3,
		ReconnectDelay:    50 * time.Millisecond,
	}
}

func silentNotifier() reconcile.Notifier {
	return reconcile.NotifierFunc(func(reconcile.Notification) {})
}

// A fresh CLI session has no board snapshot; deleting by id must still
// reach the hub and be acknowledged by the echo.
func TestSessionDeleteWithEmptyStore(t *testing.T) {
	h := startTestHub(t)

	sess, err := dialSession(testConfig(h), silentNotifier())
	if err != nil {
		t.Fatalf("Failed to dial session: %v", err)
	}
	defer sess.Close()

	id := sess.deleteTask("t-deadbeef")
	if id == "" {
		t.Fatal("Expected a pending update id for the delete")
	}

	if !waitAcknowledged(sess.coord, 3*time.Second) {
		t.Fatalf("Delete never acknowledged, %d pending", sess.coord.PendingCount())
	}
}

func TestSessionDialFailure(t *testing.T) {
	cfg := &config.Config{
		HubURL:            "ws://127.0.0.1:1/ws",
		Board:             "sprint-1",
		Actor:             "alice",
		ReconnectAttempts: 1,
		ReconnectDelay:    50 * time.Millisecond,
	}

	if _, err := dialSession(cfg, silentNotifier()); err == nil {
		t.Fatal("Expected dial failure for unreachable hub")
	}
}
