package orchestration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/mattsolo1/grove-kb/pkg/llm"
	"github.com/stretchr/testify/require"
)

// fakeTask is a scriptable Task for planner and executor tests.
type fakeTask struct {
	baseTask
	validateErr error
	run         func(ctx context.Context) (*TaskResult, error)
}

func newFakeTask(id string, kind TaskKind, target string, deps ...string) *fakeTask {
	return &fakeTask{baseTask: newBaseTask(TaskDescriptor{
		Kind:         kind,
		ID:           id,
		ArtifactPath: target,
		Dependencies: deps,
	})}
}

func (f *fakeTask) CompatibleWith(other Task) bool      { return compatible(f, other) }
func (f *fakeTask) Validate(ec *ExecutionContext) error { return f.validateErr }

func (f *fakeTask) Execute(ctx context.Context, ec *ExecutionContext) (*TaskResult, error) {
	if f.run != nil {
		return f.run(ctx)
	}
	r := newResult(f)
	r.Success = true
	r.FilesProcessed = 1
	return r, nil
}

// validPlan wraps tasks in an already validated plan.
func validPlan(t *testing.T, tasks ...Task) *ExecutionPlan {
	t.Helper()
	plan := &ExecutionPlan{Tasks: tasks, Groups: GroupTasks(tasks)}
	require.True(t, plan.Validate(), plan.ValidationErrors)
	return plan
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func mtimeOf(t *testing.T, path string) time.Time {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.ModTime()
}

// scriptedLLM answers reviews as compliant and everything else with a short
// markdown document.
func scriptedLLM() *llm.MockClient {
	return &llm.MockClient{
		Handler: func(prompt, tag string) (string, error) {
			if strings.HasPrefix(prompt, "Review the knowledge document") {
				return CompliantMarker, nil
			}
			return "# Generated\n\nDocument for " + tag + ".", nil
		},
	}
}

// testConfig returns a config for root that never sleeps between retries.
func testConfig(root string, client llm.Client) *Config {
	cfg := DefaultConfig(knowledge.Canonical(root))
	cfg.Client = client
	cfg.Retry.InitialBackoff = 0
	cfg.DryRunDelay = time.Millisecond
	return cfg
}

func newTestContext(t *testing.T, cfg *Config, tree *knowledge.Tree, dryRun bool) (*ExecutionContext, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var lines []string
	ec := NewExecutionContext(cfg, tree, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}, dryRun, nil)
	return ec, &lines
}

func discoverTree(t *testing.T, cfg *Config) *knowledge.Tree {
	t.Helper()
	d := knowledge.NewDiscoverer(cfg.Root, cfg.Layout, cfg.Handlers, nil)
	tree, _, err := d.Discover(context.Background())
	require.NoError(t, err)
	return tree
}
