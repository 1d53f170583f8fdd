package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/kanwork/boardlive/internal/board"
)

// Kind classifies a local mutation.
type Kind string

const (
	KindUpdate Kind = "update"
	KindMove   Kind = "move"
	KindCreate Kind = "create"
	KindDelete Kind = "delete"
)

// PendingUpdate is one not-yet-confirmed local mutation. Its lifecycle is
// Created -> (Acknowledged | StaleExpired): it is removed exactly once,
// either when the matching server echo arrives or when the staleness sweep
// prunes it. It never survives the process.
type PendingUpdate struct {
	// ID is an opaque unique token; uniqueness is the only contract.
	ID string

	// Kind is the mutation kind.
	Kind Kind

	// TaskID is the target (or, for creates, the new record's id).
	TaskID string

	// Patch is the field diff for Update mutations.
	Patch board.Patch

	// From and To are the columns for Move mutations.
	From board.Status
	To   board.Status

	// Task is the full record for Create mutations.
	Task board.Task

	// Title is carried for notification text.
	Title string

	// CreatedAt drives staleness pruning.
	CreatedAt time.Time

	// RetryCount is incremented in place on each failed resend.
	RetryCount int

	// failureNotified guards the one-shot terminal-failure notification.
	failureNotified bool
}

// pendingKey indexes the pending set by (kind, target id) so that
// acknowledgement lookup is O(1) and at most one in-flight record exists
// per target and kind.
type pendingKey struct {
	kind   Kind
	taskID string
}

func newPending(kind Kind, taskID string) *PendingUpdate {
	return &PendingUpdate{
		ID:        string(kind) + "-" + uuid.NewString(),
		Kind:      kind,
		TaskID:    taskID,
		CreatedAt: time.Now(),
	}
}

// Age returns how long the record has been pending.
func (p *PendingUpdate) Age() time.Duration {
	return time.Since(p.CreatedAt)
}
