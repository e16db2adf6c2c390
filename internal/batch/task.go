// Package batch processes whole folders of images. A sampling pass
// detects whether the source set carries its watermark in one consistent
// position; if so a single unified box is reused for every file, which is
// both faster and steadier than detecting each image in isolation.
package batch

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a batch task.
type Status int

const (
	// StatusPending marks a created task not yet picked up by a worker.
	StatusPending Status = iota
	// StatusProcessing marks a task whose file loop is running.
	StatusProcessing
	// StatusCompleted marks a finished task, regardless of per-file
	// failures.
	StatusCompleted
	// StatusFailed marks a task that could not start at all.
	StatusFailed
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its wire name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Task tracks one batch run. A single worker mutates it while status
// pollers read concurrently, so every access goes through the mutex and
// readers only ever see full snapshots.
type Task struct {
	id           string
	inputFolder  string
	outputFolder string

	mu         sync.Mutex
	status     Status
	totalFiles int
	processed  int
	successful int
	skipped    int
	failed     int
	confSum    float64
	confCount  int
	errors     []string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// Snapshot is a consistent read-only copy of a task's state.
type Snapshot struct {
	TaskID            string    `json:"task_id"`
	InputFolder       string    `json:"input_folder"`
	OutputFolder      string    `json:"output_folder"`
	Status            Status    `json:"status"`
	TotalFiles        int       `json:"total_files"`
	Processed         int       `json:"processed"`
	Successful        int       `json:"successful"`
	Skipped           int       `json:"skipped"`
	Failed            int       `json:"failed"`
	AverageConfidence float64   `json:"average_confidence"`
	Errors            []string  `json:"errors,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	StartedAt         time.Time `json:"started_at,omitzero"`
	FinishedAt        time.Time `json:"finished_at,omitzero"`
}

func newTask(id, inputFolder, outputFolder string) *Task {
	return &Task{
		id:           id,
		inputFolder:  inputFolder,
		outputFolder: outputFolder,
		status:       StatusPending,
		createdAt:    time.Now(),
	}
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// InputFolder returns the source folder.
func (t *Task) InputFolder() string { return t.inputFolder }

// OutputFolder returns the destination folder.
func (t *Task) OutputFolder() string { return t.outputFolder }

// Snapshot returns a consistent copy for pollers.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	avg := 0.0
	if t.confCount > 0 {
		avg = t.confSum / float64(t.confCount)
	}
	s := Snapshot{
		TaskID:            t.id,
		InputFolder:       t.inputFolder,
		OutputFolder:      t.outputFolder,
		Status:            t.status,
		TotalFiles:        t.totalFiles,
		Processed:         t.processed,
		Successful:        t.successful,
		Skipped:           t.skipped,
		Failed:            t.failed,
		AverageConfidence: avg,
		CreatedAt:         t.createdAt,
		StartedAt:         t.startedAt,
		FinishedAt:        t.finishedAt,
	}
	s.Errors = append(s.Errors, t.errors...)
	return s
}

func (t *Task) start(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusProcessing
	t.totalFiles = total
	t.startedAt = time.Now()
}

func (t *Task) recordSuccess(confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.successful++
	t.confSum += confidence
	t.confCount++
}

func (t *Task) recordSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.skipped++
}

func (t *Task) recordFailed(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.failed++
	t.errors = append(t.errors, msg)
}

func (t *Task) complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusCompleted
	t.finishedAt = time.Now()
}

func (t *Task) fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusFailed
	t.errors = append(t.errors, msg)
	t.finishedAt = time.Now()
}

func (t *Task) finishedBefore(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusCompleted && t.status != StatusFailed {
		return false
	}
	return t.finishedAt.Before(cutoff)
}
