package board

import "sync"

// Store is the task collection the coordinator patches. Implementations
// must treat the collection as copy-on-write: Replace installs a new slice,
// Snapshot returns one the caller may read but must not mutate. This keeps
// whole-list replacement observable to any change-detection layered on top.
type Store interface {
	// Snapshot returns the current task collection.
	Snapshot() []Task

	// Replace installs a new task collection wholesale.
	Replace(tasks []Task)
}

// MemStore is the in-memory reference Store. It is safe for concurrent use.
type MemStore struct {
	mu    sync.RWMutex
	tasks []Task
}

// NewMemStore creates a store seeded with the given tasks.
func NewMemStore(tasks []Task) *MemStore {
	s := &MemStore{}
	s.Replace(tasks)
	return s
}

// Snapshot implements Store.Snapshot.
func (s *MemStore) Snapshot() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks
}

// Replace implements Store.Replace. The slice header is copied so later
// appends by the caller cannot alias the stored collection.
func (s *MemStore) Replace(tasks []Task) {
	copied := make([]Task, len(tasks))
	copy(copied, tasks)

	s.mu.Lock()
	s.tasks = copied
	s.mu.Unlock()
}

// Find returns the task with the given id, or false if absent.
func (s *MemStore) Find(id string) (Task, bool) {
	for _, t := range s.Snapshot() {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Len returns the number of tasks in the store.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
