package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/kanwork/boardlive/internal/board"
	"github.com/kanwork/boardlive/internal/realtime"
)

func newTestHub(t *testing.T, token string) *Hub {
	t.Helper()

	h := New(&Config{
		Port:   0,
		Token:  token,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	if err := h.Start(); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	time.Sleep(100 * time.Millisecond)
	return h
}

func dial(t *testing.T, ctx context.Context, h *Hub, actor string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, h.URL()+"?actor="+actor, nil)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", actor, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) realtime.Event {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var ev realtime.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	return ev
}

func writeEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, ev realtime.Event) {
	t.Helper()

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Failed to write event: %v", err)
	}
}

func TestHubStartStop(t *testing.T) {
	h := New(&Config{Port: 0, Logger: log.New(os.Stderr, "[test] ", log.LstdFlags)})

	if err := h.Start(); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if h.Addr() == "" {
		t.Fatal("Hub address is empty")
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("Failed to stop hub: %v", err)
	}
}

func TestWelcomeEvent(t *testing.T) {
	h := newTestHub(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, h, "alice")

	welcome := readEvent(t, ctx, conn)
	if welcome.Type != realtime.EventConnected {
		t.Errorf("Expected connected welcome, got %s", welcome.Type)
	}
	if welcome.Actor != "alice" {
		t.Errorf("Expected actor alice, got %q", welcome.Actor)
	}

	if count := h.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestCommandEchoedToRoomWithAttribution(t *testing.T) {
	h := newTestHub(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, h, "alice")
	bob := dial(t, ctx, h, "bob")
	readEvent(t, ctx, alice) // welcome
	readEvent(t, ctx, bob)

	writeEvent(t, ctx, alice, realtime.Event{Type: realtime.CmdJoinBoard, Board: "sprint-1"})
	writeEvent(t, ctx, bob, realtime.Event{Type: realtime.CmdJoinBoard, Board: "sprint-1"})
	time.Sleep(100 * time.Millisecond)

	payload, _ := json.Marshal(realtime.TaskCreatedData{
		Task: board.Task{ID: "T1", Title: "New task", Status: board.StatusTodo},
	})
	writeEvent(t, ctx, alice, realtime.Event{
		Type:  realtime.CmdCreateTask,
		Board: "sprint-1",
		Data:  payload,
	})

	// Both the sender and the other member receive the attributed event.
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		ev := readEvent(t, ctx, conn)
		if ev.Type != realtime.EventTaskCreated {
			t.Errorf("%s: expected task_created, got %s", name, ev.Type)
		}
		if ev.Actor != "alice" {
			t.Errorf("%s: expected actor alice, got %q", name, ev.Actor)
		}
		d, err := ev.DecodeTaskCreated()
		if err != nil {
			t.Fatalf("%s: failed to decode payload: %v", name, err)
		}
		if d.Task.ID != "T1" {
			t.Errorf("%s: unexpected task id %q", name, d.Task.ID)
		}
	}
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	h := newTestHub(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, h, "alice")
	bob := dial(t, ctx, h, "bob")
	readEvent(t, ctx, alice)
	readEvent(t, ctx, bob)

	writeEvent(t, ctx, alice, realtime.Event{Type: realtime.CmdJoinBoard, Board: "sprint-1"})
	writeEvent(t, ctx, bob, realtime.Event{Type: realtime.CmdJoinBoard, Board: "sprint-1"})
	time.Sleep(100 * time.Millisecond)
	writeEvent(t, ctx, bob, realtime.Event{Type: realtime.CmdLeaveBoard, Board: "sprint-1"})
	time.Sleep(100 * time.Millisecond)

	payload, _ := json.Marshal(realtime.TaskDeletedData{TaskID: "T1"})
	writeEvent(t, ctx, alice, realtime.Event{
		Type:  realtime.CmdDeleteTask,
		Board: "sprint-1",
		Data:  payload,
	})

	// Alice still gets her echo.
	ev := readEvent(t, ctx, alice)
	if ev.Type != realtime.EventTaskDeleted {
		t.Errorf("Expected task_deleted echo, got %s", ev.Type)
	}

	// Bob left the room: a short read should time out.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer shortCancel()
	if _, _, err := bob.Read(shortCtx); err == nil {
		t.Error("Expected no delivery to bob after leaving the room")
	}
}

func TestTokenRequired(t *testing.T) {
	h := newTestHub(t, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Without the credential the upgrade is rejected.
	_, resp, err := websocket.Dial(ctx, h.URL()+"?actor=alice", nil)
	if err == nil {
		t.Fatal("Expected dial to fail without token")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}

	// With it the session is established.
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer secret")
	conn, _, err := websocket.Dial(ctx, h.URL()+"?actor=alice", &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("Expected dial with token to succeed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
}

func TestPresenceOfflineOnDisconnect(t *testing.T) {
	h := newTestHub(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, h, "alice")
	bob := dial(t, ctx, h, "bob")
	readEvent(t, ctx, alice)
	readEvent(t, ctx, bob)

	writeEvent(t, ctx, alice, realtime.Event{Type: realtime.CmdJoinBoard, Board: "sprint-1"})
	writeEvent(t, ctx, bob, realtime.Event{Type: realtime.CmdJoinBoard, Board: "sprint-1"})
	time.Sleep(100 * time.Millisecond)

	_ = bob.Close(websocket.StatusNormalClosure, "bye")

	ev := readEvent(t, ctx, alice)
	if ev.Type != realtime.EventUserPresence {
		t.Fatalf("Expected user_presence_updated, got %s", ev.Type)
	}
	if ev.Actor != "bob" {
		t.Errorf("Expected departure attributed to bob, got %q", ev.Actor)
	}
	d, err := ev.DecodePresence()
	if err != nil {
		t.Fatalf("Failed to decode presence: %v", err)
	}
	if d.Status != "offline" {
		t.Errorf("Expected offline status, got %q", d.Status)
	}
}
