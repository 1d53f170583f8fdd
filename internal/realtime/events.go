package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kanwork/boardlive/internal/board"
)

// EventType identifies an inbound broadcast or outbound command on the wire.
type EventType string

// Inbound domain events broadcast by the hub. These names are a contract
// with the server and must not change.
const (
	EventTaskUpdated  EventType = "task_updated"
	EventTaskMoved    EventType = "task_moved"
	EventTaskCreated  EventType = "task_created"
	EventTaskDeleted  EventType = "task_deleted"
	EventBoardUpdated EventType = "board_updated"
	EventUserPresence EventType = "user_presence_updated"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Generic passthrough events. Delivered to subscribers without a typed
// payload; the raw data is forwarded as-is.
const (
	EventProjectUpdated EventType = "projectUpdated"
	EventSprintUpdated  EventType = "sprintUpdated"
	EventUserActivity   EventType = "userActivity"
	EventNotification   EventType = "notification"
)

// Connection-health pseudo-events. Synthesized locally from transport-level
// signals; they never appear on the wire.
const (
	EventConnectionLost     EventType = "connectionLost"
	EventConnectionRestored EventType = "connectionRestored"
)

// Outbound commands sent by clients.
const (
	CmdUpdateTask   EventType = "update_task"
	CmdMoveTask     EventType = "move_task"
	CmdCreateTask   EventType = "create_task"
	CmdDeleteTask   EventType = "delete_task"
	CmdJoinBoard    EventType = "join_board"
	CmdLeaveBoard   EventType = "leave_board"
	CmdPresencePing EventType = "presence_ping"
)

// Event is the wire envelope for both directions. Data holds the
// type-specific payload.
type Event struct {
	Type      EventType       `json:"type"`
	Board     string          `json:"board,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	ActorName string          `json:"actor_name,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskUpdatedData is the payload for task_updated events and update_task
// commands: a target id plus a field diff.
type TaskUpdatedData struct {
	TaskID string      `json:"task_id"`
	Patch  board.Patch `json:"patch"`
	Title  string      `json:"title,omitempty"`
}

// TaskMovedData is the payload for task_moved events and move_task commands.
type TaskMovedData struct {
	TaskID string       `json:"task_id"`
	From   board.Status `json:"from"`
	To     board.Status `json:"to"`
	Title  string       `json:"title,omitempty"`
}

// TaskCreatedData carries the full new record.
type TaskCreatedData struct {
	Task board.Task `json:"task"`
}

// TaskDeletedData identifies the removed record.
type TaskDeletedData struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title,omitempty"`
}

// PresenceData is the payload for presence pings and presence broadcasts.
type PresenceData struct {
	Status string `json:"status"` // viewing, away, offline
}

// DecodeTaskUpdated parses the event payload as TaskUpdatedData.
func (e Event) DecodeTaskUpdated() (TaskUpdatedData, error) {
	var d TaskUpdatedData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return d, nil
}

// DecodeTaskMoved parses the event payload as TaskMovedData.
func (e Event) DecodeTaskMoved() (TaskMovedData, error) {
	var d TaskMovedData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return d, nil
}

// DecodeTaskCreated parses the event payload as TaskCreatedData.
func (e Event) DecodeTaskCreated() (TaskCreatedData, error) {
	var d TaskCreatedData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return d, nil
}

// DecodeTaskDeleted parses the event payload as TaskDeletedData.
func (e Event) DecodeTaskDeleted() (TaskDeletedData, error) {
	var d TaskDeletedData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return d, nil
}

// DecodePresence parses the event payload as PresenceData.
func (e Event) DecodePresence() (PresenceData, error) {
	var d PresenceData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return d, nil
}
