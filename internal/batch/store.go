package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTaskNotFound reports a lookup for an unknown or evicted task.
var ErrTaskNotFound = errors.New("task not found")

// Store keeps batch tasks for status polling. Implementations must be
// safe for concurrent use; the in-memory store is the default, but the
// interface leaves room for durable backends.
type Store interface {
	// Create registers a new pending task.
	Create(inputFolder, outputFolder string) *Task
	// Get returns the task by id or ErrTaskNotFound.
	Get(id string) (*Task, error)
	// List returns snapshots of all tasks, newest first.
	List() []Snapshot
	// Evict drops finished tasks older than maxAge and reports how many
	// were removed.
	Evict(maxAge time.Duration) int
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create implements Store.
func (s *MemoryStore) Create(inputFolder, outputFolder string) *Task {
	t := newTask(newTaskID(), inputFolder, outputFolder)
	s.mu.Lock()
	s.tasks[t.id] = t
	s.mu.Unlock()
	return t
}

// Get implements Store.
func (s *MemoryStore) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// List implements Store.
func (s *MemoryStore) List() []Snapshot {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	snaps := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snaps = append(snaps, t.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Evict implements Store.
func (s *MemoryStore) Evict(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	tasks := make(map[string]*Task, len(s.tasks))
	for id, t := range s.tasks {
		tasks[id] = t
	}
	s.mu.Unlock()

	// Age checks take each task's lock, so they happen outside ours.
	var stale []string
	for id, t := range tasks {
		if t.finishedBefore(cutoff) {
			stale = append(stale, id)
		}
	}

	s.mu.Lock()
	for _, id := range stale {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	return len(stale)
}

func newTaskID() string {
	buf := make([]byte, 6)
	rand.Read(buf)
	return "batch_" + hex.EncodeToString(buf)
}
