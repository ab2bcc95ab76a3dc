package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/poiesic/lattice/core"
)

// Task identifies one accepted upload.
type Task struct {
	ID        string
	DocID     string
	ProjectID string
}

// TaskStatus is what a caller polling a task sees.
type TaskStatus struct {
	TaskID          string
	DocID           string
	ProjectID       string
	Status          core.DocumentStatus
	Stage           core.Stage
	ProgressPercent int
	Error           string
	UpdatedAt       time.Time
}

// Terminal reports whether the task will not change again.
func (s TaskStatus) Terminal() bool {
	return s.Stage == core.StageReady || s.Stage == core.StageFailed || s.Stage == core.StageCancelled
}

// task is the mutable record behind a Task.
type task struct {
	Task
	filename string
	path     string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    core.DocumentStatus
	stage     core.Stage
	progress  int
	err       string
	updatedAt time.Time
}

func newTask(t Task, filename, path string) *task {
	ctx, cancel := context.WithCancel(context.Background())
	return &task{
		Task:      t,
		filename:  filename,
		path:      path,
		ctx:       ctx,
		cancel:    cancel,
		status:    core.StatusUploading,
		stage:     core.StageQueued,
		updatedAt: time.Now(),
	}
}

// advance moves the task into stage. Terminal tasks do not move.
func (t *task) advance(stage core.Stage, status core.DocumentStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() {
		return
	}
	t.stage = stage
	t.status = status
	t.progress = stage.Progress()
	t.updatedAt = time.Now()
}

// finish records a terminal stage, keeping the progress of the stage the task stopped in.
func (t *task) finish(stage core.Stage, status core.DocumentStatus, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() {
		return
	}
	t.stage = stage
	t.status = status
	t.err = msg
	if stage == core.StageReady {
		t.progress = stage.Progress()
	}
	t.updatedAt = time.Now()
}

func (t *task) terminal() bool {
	return t.stage == core.StageReady || t.stage == core.StageFailed || t.stage == core.StageCancelled
}

func (t *task) snapshot() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskStatus{
		TaskID:          t.ID,
		DocID:           t.DocID,
		ProjectID:       t.ProjectID,
		Status:          t.status,
		Stage:           t.stage,
		ProgressPercent: t.progress,
		Error:           t.err,
		UpdatedAt:       t.updatedAt,
	}
}

// taskTable keeps tasks in memory. Running tasks never expire; finished
// tasks are dropped ttl after they finish.
type taskTable struct {
	cache *cache.Cache
}

func newTaskTable(ttl time.Duration) *taskTable {
	return &taskTable{cache: cache.New(ttl, ttl/2)}
}

func (tt *taskTable) add(t *task) {
	tt.cache.Set(t.ID, t, cache.NoExpiration)
}

func (tt *taskTable) get(id string) (*task, bool) {
	if x, found := tt.cache.Get(id); found {
		return x.(*task), true
	}
	return nil, false
}

// expire starts the retention clock of a finished task.
func (tt *taskTable) expire(t *task) {
	tt.cache.Set(t.ID, t, cache.DefaultExpiration)
}

// forDocument returns the unfinished tasks of a document.
func (tt *taskTable) forDocument(docID string) []*task {
	var found []*task
	for _, item := range tt.cache.Items() {
		t := item.Object.(*task)
		if t.DocID != docID {
			continue
		}
		t.mu.Lock()
		running := !t.terminal()
		t.mu.Unlock()
		if running {
			found = append(found, t)
		}
	}
	return found
}
