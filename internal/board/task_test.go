package board

import (
	"testing"
	"time"
)

func TestTaskValidate(t *testing.T) {
	valid := Task{
		ID:       "t-1",
		Title:    "Fix login bug",
		Status:   StatusTodo,
		Priority: 1,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid task, got: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Task)
	}{
		{"missing id", func(tk *Task) { tk.ID = "" }},
		{"missing title", func(tk *Task) { tk.Title = "" }},
		{"missing status", func(tk *Task) { tk.Status = "" }},
		{"priority too high", func(tk *Task) { tk.Priority = 5 }},
		{"priority negative", func(tk *Task) { tk.Priority = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := valid
			tt.mutate(&task)
			if err := task.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestTaskSetDefaults(t *testing.T) {
	task := Task{ID: "t-1", Title: "Test"}
	task.SetDefaults()

	if task.Status != StatusTodo {
		t.Errorf("Expected default status %s, got %s", StatusTodo, task.Status)
	}
	if task.Labels == nil {
		t.Error("Expected labels to be initialized")
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}
}

func TestPatchApplyDoesNotMutateOriginal(t *testing.T) {
	original := Task{
		ID:       "t-1",
		Title:    "Original",
		Status:   StatusTodo,
		Priority: 2,
		Labels:   []string{"backend"},
	}

	newTitle := "Patched"
	status := StatusDone
	patched := Patch{Title: &newTitle, Status: &status}.Apply(original)

	if original.Title != "Original" || original.Status != StatusTodo {
		t.Errorf("Original task was mutated: %+v", original)
	}
	if patched.Title != "Patched" {
		t.Errorf("Expected patched title, got %q", patched.Title)
	}
	if patched.Status != StatusDone {
		t.Errorf("Expected patched status, got %q", patched.Status)
	}
	if patched.Priority != 2 {
		t.Errorf("Unpatched field changed: priority %d", patched.Priority)
	}

	patched.Labels[0] = "frontend"
	if original.Labels[0] != "backend" {
		t.Error("Patched task aliases the original's labels")
	}
}

func TestPatchApplyRefreshesTimestamp(t *testing.T) {
	stale := time.Now().Add(-time.Hour)
	task := Task{ID: "t-1", Title: "Test", Status: StatusTodo, UpdatedAt: stale}

	title := "New"
	patched := Patch{Title: &title}.Apply(task)

	if !patched.UpdatedAt.After(stale) {
		t.Error("Expected UpdatedAt to be refreshed")
	}
}

func TestPatchIsZero(t *testing.T) {
	if !(Patch{}).IsZero() {
		t.Error("Empty patch should be zero")
	}
	title := "x"
	if (Patch{Title: &title}).IsZero() {
		t.Error("Non-empty patch should not be zero")
	}
}

func TestMemStoreReplaceIsCopyOnWrite(t *testing.T) {
	store := NewMemStore([]Task{{ID: "t-1", Title: "A", Status: StatusTodo}})

	first := store.Snapshot()
	store.Replace([]Task{
		{ID: "t-1", Title: "A", Status: StatusTodo},
		{ID: "t-2", Title: "B", Status: StatusTodo},
	})
	second := store.Snapshot()

	if len(first) != 1 {
		t.Errorf("Earlier snapshot changed: %d tasks", len(first))
	}
	if len(second) != 2 {
		t.Errorf("Expected 2 tasks after replace, got %d", len(second))
	}
}

func TestMemStoreReplaceCopiesInput(t *testing.T) {
	input := []Task{{ID: "t-1", Title: "A", Status: StatusTodo}}
	store := NewMemStore(nil)
	store.Replace(input)

	input[0].Title = "mutated"
	if got := store.Snapshot()[0].Title; got != "A" {
		t.Errorf("Store aliases caller slice: title %q", got)
	}
}

func TestMemStoreFind(t *testing.T) {
	store := NewMemStore([]Task{
		{ID: "t-1", Title: "A", Status: StatusTodo},
		{ID: "t-2", Title: "B", Status: StatusDone},
	})

	task, ok := store.Find("t-2")
	if !ok || task.Title != "B" {
		t.Errorf("Expected to find t-2, got ok=%v task=%+v", ok, task)
	}

	if _, ok := store.Find("t-404"); ok {
		t.Error("Expected miss for unknown id")
	}
}
