package batch

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreCreateGet(t *testing.T) {
	store := NewMemoryStore()
	task := store.Create("/in", "/out")

	if task.ID() == "" {
		t.Fatal("task has no id")
	}
	got, err := store.Get(task.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != task {
		t.Error("Get() returned a different task")
	}

	snap := got.Snapshot()
	if snap.Status != StatusPending {
		t.Errorf("new task status = %s, want pending", snap.Status)
	}
	if snap.InputFolder != "/in" || snap.OutputFolder != "/out" {
		t.Errorf("folders = %q/%q, want /in and /out", snap.InputFolder, snap.OutputFolder)
	}
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get("batch_missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrTaskNotFound", err)
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	first := store.Create("/a", "/out")
	time.Sleep(2 * time.Millisecond)
	second := store.Create("/b", "/out")

	snaps := store.List()
	if len(snaps) != 2 {
		t.Fatalf("List() returned %d tasks, want 2", len(snaps))
	}
	if snaps[0].TaskID != second.ID() || snaps[1].TaskID != first.ID() {
		t.Error("List() not ordered newest first")
	}
}

func TestMemoryStoreEvict(t *testing.T) {
	store := NewMemoryStore()
	finished := store.Create("/a", "/out")
	finished.complete()
	running := store.Create("/b", "/out")
	running.start(10)

	time.Sleep(2 * time.Millisecond)
	if n := store.Evict(time.Millisecond); n != 1 {
		t.Fatalf("Evict() removed %d tasks, want 1", n)
	}
	if _, err := store.Get(finished.ID()); !errors.Is(err, ErrTaskNotFound) {
		t.Error("finished task survived eviction")
	}
	if _, err := store.Get(running.ID()); err != nil {
		t.Error("running task was evicted")
	}
}

func TestTaskSnapshotIsolation(t *testing.T) {
	task := newTask("batch_x", "/in", "/out")
	task.start(3)
	task.recordSuccess(0.8)
	task.recordFailed("b.png: boom")

	snap := task.Snapshot()
	snap.Errors[0] = "mutated"

	if got := task.Snapshot().Errors[0]; got != "b.png: boom" {
		t.Errorf("snapshot mutation leaked into the task: %q", got)
	}
}

func TestTaskAverageConfidence(t *testing.T) {
	task := newTask("batch_y", "/in", "/out")
	task.start(3)
	task.recordSuccess(0.6)
	task.recordSuccess(0.8)
	task.recordSkipped()

	snap := task.Snapshot()
	if snap.AverageConfidence != 0.7 {
		t.Errorf("average confidence = %v, want 0.7 over successful files", snap.AverageConfidence)
	}
	if snap.Processed != 3 {
		t.Errorf("processed = %d, want 3", snap.Processed)
	}
}
