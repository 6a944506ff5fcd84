package orchestration

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownTaskKind is returned when no factory is registered for a kind.
	ErrUnknownTaskKind = errors.New("unknown task kind")
	// ErrDuplicateTaskKind is returned when a kind is registered twice.
	ErrDuplicateTaskKind = errors.New("task kind already registered")
)

// TaskFactory builds a task from its descriptor.
type TaskFactory func(desc TaskDescriptor) (Task, error)

// TaskRegistry maps task kinds to factories. It is built once at startup and
// passed to the planner through Config.
type TaskRegistry struct {
	mu        sync.RWMutex
	factories map[TaskKind]TaskFactory
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		factories: make(map[TaskKind]TaskFactory),
	}
}

// DefaultTaskRegistry returns a registry with the built-in task kinds.
func DefaultTaskRegistry() *TaskRegistry {
	r := NewTaskRegistry()
	_ = r.Register(KindAnalyzeFile, NewAnalyzeFileTask)
	_ = r.Register(KindBuildSynthesis, NewBuildSynthesisTask)
	_ = r.Register(KindCleanupOrphan, NewCleanupOrphanTask)
	return r
}

// Register adds a factory for kind.
func (r *TaskRegistry) Register(kind TaskKind, factory TaskFactory) error {
	if kind == "" || factory == nil {
		return fmt.Errorf("register task kind %q: kind and factory are required", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTaskKind, kind)
	}
	r.factories[kind] = factory
	return nil
}

// Create builds the task for desc.
func (r *TaskRegistry) Create(desc TaskDescriptor) (Task, error) {
	r.mu.RLock()
	factory, exists := r.factories[desc.Kind]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownTaskKind, desc.Kind, r.Kinds())
	}

	task, err := factory(desc)
	if err != nil {
		return nil, fmt.Errorf("create %s task %s: %w", desc.Kind, desc.ID, err)
	}
	return task, nil
}

// Kinds returns the registered kinds in name order.
func (r *TaskRegistry) Kinds() []TaskKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]TaskKind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
