// Package board provides the task data model shared by the realtime layer
// and the optimistic update coordinator.
//
// Tasks use flat fields with last-write-wins semantics: each field can be
// patched independently, and timestamps help resolve conflicts.
package board

import (
	"fmt"
	"time"
)

// Status is a board column. The set is open: servers may introduce new
// columns, so Status is a string type rather than a closed enum.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Task represents one board card.
type Task struct {
	// ===== Core Identification =====
	ID string `json:"id" yaml:"id"`

	// ===== Content =====
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Status      Status `json:"status" yaml:"status"`

	// ===== Priority & Estimation =====
	Priority    int `json:"priority" yaml:"priority"` // 0-4 (P0=critical, P4=backlog)
	StoryPoints int `json:"story_points,omitempty" yaml:"story_points,omitempty"`

	// ===== Assignment & Classification =====
	Assignee string   `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Labels   []string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// ===== Timestamps (conflict resolution) =====
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`

	// ===== Scheduling =====
	DueAt *time.Time `json:"due_at,omitempty" yaml:"due_at,omitempty"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.Priority < 0 || t.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", t.Priority)
	}
	if t.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
}

// Clone returns a deep copy of the task. Label slices are copied so the
// original is never aliased by a patched task.
func (t Task) Clone() Task {
	out := t
	if t.Labels != nil {
		out.Labels = append([]string(nil), t.Labels...)
	}
	if t.DueAt != nil {
		due := *t.DueAt
		out.DueAt = &due
	}
	return out
}

// Patch is a typed field diff. Nil fields are left untouched by Apply.
type Patch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	StoryPoints *int       `json:"story_points,omitempty"`
	Assignee    *string    `json:"assignee,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.StoryPoints == nil && p.Assignee == nil &&
		p.Labels == nil && p.DueAt == nil
}

// Apply returns a copy of t with the patch's non-nil fields applied and
// UpdatedAt refreshed. The receiver is never mutated.
func (p Patch) Apply(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.StoryPoints != nil {
		out.StoryPoints = *p.StoryPoints
	}
	if p.Assignee != nil {
		out.Assignee = *p.Assignee
	}
	if p.Labels != nil {
		out.Labels = append([]string(nil), p.Labels...)
	}
	if p.DueAt != nil {
		due := *p.DueAt
		out.DueAt = &due
	}
	out.UpdatedAt = time.Now()
	return out
}
