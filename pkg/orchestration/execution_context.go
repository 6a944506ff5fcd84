package orchestration

import (
	"sync"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/mattsolo1/grove-kb/pkg/llm"
	"github.com/sirupsen/logrus"
)

// ExecutionContext carries everything a task needs during one run. It is
// owned by the executor for the duration of the run.
type ExecutionContext struct {
	// Root is the project root.
	Root     string
	Progress knowledge.ProgressFunc
	Tree     *knowledge.Tree
	// Generator wraps the LLM client with retries and continuation.
	Generator *llm.Generator
	Config    *Config
	DryRun    bool
	Logger    *logrus.Entry

	mu     sync.Mutex
	shared map[string]any
}

// NewExecutionContext creates the context of one run.
func NewExecutionContext(cfg *Config, tree *knowledge.Tree, progress knowledge.ProgressFunc, dryRun bool, logger *logrus.Entry) *ExecutionContext {
	if logger == nil {
		logger = log
	}
	ec := &ExecutionContext{
		Root:     knowledge.Canonical(cfg.Root),
		Progress: progress,
		Tree:     tree,
		Config:   cfg,
		DryRun:   dryRun,
		Logger:   logger,
		shared:   make(map[string]any),
	}
	if cfg.Client != nil {
		ec.Generator = cfg.generator()
	}
	return ec
}

// Set stores a value shared between tasks of the run.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.shared[key] = value
}

// Get returns a shared value.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.shared[key]
	return v, ok
}

// Emit sends a progress line.
func (ec *ExecutionContext) Emit(line string) {
	ec.Progress.Emit(line)
}
