package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Task is an executable unit built from a TaskDescriptor.
type Task interface {
	ID() string
	Kind() TaskKind
	Descriptor() TaskDescriptor
	// TargetPath is the artifact path the task writes or deletes.
	TargetPath() string
	State() TaskState
	// Validate checks the task's preconditions before execution.
	Validate(ec *ExecutionContext) error
	// Execute performs the work. A returned error is turned into a failed result.
	Execute(ctx context.Context, ec *ExecutionContext) (*TaskResult, error)
	// CompatibleWith reports whether the task may run concurrently with other.
	CompatibleWith(other Task) bool
}

// TaskResult is the outcome of one task.
type TaskResult struct {
	Success        bool              `json:"success" yaml:"success"`
	Kind           TaskKind          `json:"kind" yaml:"kind"`
	TaskID         string            `json:"task_id" yaml:"task_id"`
	Error          string            `json:"error,omitempty" yaml:"error,omitempty"`
	Duration       time.Duration     `json:"duration" yaml:"duration"`
	FilesProcessed int               `json:"files_processed" yaml:"files_processed"`
	OutputPaths    []string          `json:"output_paths,omitempty" yaml:"output_paths,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func newResult(t Task) *TaskResult {
	return &TaskResult{
		Kind:     t.Kind(),
		TaskID:   t.ID(),
		Metadata: map[string]string{},
	}
}

func failedResult(t Task, err error) *TaskResult {
	r := newResult(t)
	r.Error = err.Error()
	return r
}

// baseTask carries the descriptor and the state machine shared by all task kinds.
type baseTask struct {
	desc TaskDescriptor

	mu    sync.Mutex
	state TaskState
}

func newBaseTask(desc TaskDescriptor) baseTask {
	return baseTask{desc: desc, state: TaskPending}
}

func (b *baseTask) ID() string                 { return b.desc.ID }
func (b *baseTask) Kind() TaskKind             { return b.desc.Kind }
func (b *baseTask) Descriptor() TaskDescriptor { return b.desc }
func (b *baseTask) TargetPath() string         { return b.desc.ArtifactPath }

func (b *baseTask) State() TaskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition moves the task along pending -> running -> completed|failed.
func (b *baseTask) transition(to TaskState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ok := false
	switch b.state {
	case TaskPending:
		ok = to == TaskRunning
	case TaskRunning:
		ok = to == TaskCompleted || to == TaskFailed
	}
	if !ok {
		return fmt.Errorf("task %s: invalid transition %s -> %s", b.desc.ID, b.state, to)
	}
	b.state = to
	return nil
}

// compatible is the rule shared by every task kind: different kinds always
// run together, the same kind only on different targets.
func compatible(a, b Task) bool {
	if a.Kind() != b.Kind() {
		return true
	}
	return a.TargetPath() != b.TargetPath()
}
