package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/mattsolo1/grove-kb/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProject(t *testing.T) string {
	t.Helper()
	root := knowledge.Canonical(t.TempDir())
	writeFile(t, filepath.Join(root, "main.go"), "package main\n\nfunc main() {}\n", time.Time{})
	writeFile(t, filepath.Join(root, "pkg", "util", "util.go"), "package util\n", time.Time{})
	writeFile(t, filepath.Join(root, "pkg", "util", "strings.go"), "package util\n", time.Time{})
	writeFile(t, filepath.Join(root, "README.md"), "# demo\n", time.Time{})
	return root
}

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) emit(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func TestIndexer_FullRunThenIdempotent(t *testing.T) {
	root := newProject(t)
	client := scriptedLLM()
	ix, err := NewIndexer(testConfig(root, client))
	require.NoError(t, err)

	progress := &collector{}
	summary, err := ix.Index(context.Background(), progress.emit, false)
	require.NoError(t, err)

	assert.False(t, summary.DryRun)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 4, summary.FilesAnalyzed)
	// root, pkg and pkg/util
	assert.Equal(t, 3, summary.DocumentsSynthesized)
	assert.Equal(t, 7, summary.ArtifactsCreated)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 1.0, summary.SuccessRate)
	assert.Len(t, summary.Phases, 4)
	assert.Equal(t, 7, summary.Execution.Executed)
	assert.Equal(t, 7, summary.Tree.Counts[knowledge.StatusUpdatedSuccess])
	assert.FileExists(t, filepath.Join(root, ".knowledge", "project", "pkg", "util", "util.go.analysis.md"))
	assert.FileExists(t, filepath.Join(root, ".knowledge", "project", knowledge.SynthesisFileName))
	assert.Contains(t, progress.lines, "decision: 7 tasks")

	calls := client.CallCount()
	again, err := ix.Index(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Zero(t, again.TasksPlanned)
	assert.Equal(t, 1.0, again.SuccessRate)
	assert.Equal(t, calls, client.CallCount(), "nothing is regenerated")
}

func TestIndexer_OrphansAreCleaned(t *testing.T) {
	root := newProject(t)
	ix, err := NewIndexer(testConfig(root, scriptedLLM()))
	require.NoError(t, err)
	_, err = ix.Index(context.Background(), nil, false)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "pkg")))
	summary, err := ix.Index(context.Background(), nil, false)
	require.NoError(t, err)

	// two analyses and two directory documents
	assert.Equal(t, 4, summary.OrphansCleaned)
	assert.Empty(t, summary.Errors)
	assert.NoDirExists(t, filepath.Join(root, ".knowledge", "project", "pkg"))
	assert.FileExists(t, filepath.Join(root, ".knowledge", "project", "main.go.analysis.md"))
}

func TestIndexer_ExcludedDirectoryIsCleaned(t *testing.T) {
	root := newProject(t)
	_, err := mustIndexer(t, testConfig(root, scriptedLLM())).Index(context.Background(), nil, false)
	require.NoError(t, err)

	cfg := testConfig(root, scriptedLLM())
	cfg.Layout.Exclude = []string{"pkg/"}
	cfg.Handlers = knowledge.DefaultHandlers(root, cfg.Layout)
	summary, err := mustIndexer(t, cfg).Index(context.Background(), nil, false)
	require.NoError(t, err)

	// two analyses and the pkg and pkg/util documents
	assert.Equal(t, 4, summary.OrphansCleaned)
	assert.Empty(t, summary.Errors)
	kdir := filepath.Join(root, ".knowledge", "project")
	assert.NoFileExists(t, filepath.Join(kdir, "pkg", knowledge.SynthesisFileName))
	assert.NoFileExists(t, filepath.Join(kdir, "pkg", "util", knowledge.SynthesisFileName))
	assert.NoDirExists(t, filepath.Join(kdir, "pkg"))
	assert.FileExists(t, filepath.Join(kdir, knowledge.SynthesisFileName))
}

func mustIndexer(t *testing.T, cfg *Config) *Indexer {
	t.Helper()
	ix, err := NewIndexer(cfg)
	require.NoError(t, err)
	return ix
}

func TestIndexer_PartialFailureStillSummarizes(t *testing.T) {
	root := newProject(t)
	client := &llm.MockClient{Handler: func(prompt, tag string) (string, error) {
		if strings.Contains(prompt, "--- BEGIN FILE ---") && strings.Contains(prompt, "File: main.go\n") {
			return "", errors.New("model overloaded")
		}
		return "# ok", nil
	}}
	cfg := testConfig(root, client)
	cfg.Review.Enabled = false
	ix, err := NewIndexer(cfg)
	require.NoError(t, err)

	summary, err := ix.Index(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Regexp(t, `^analyze_file:analyze_file-[0-9a-f]{16} - analyze main.go: generation failed after 3 attempts: model overloaded$`, summary.Errors[0])
	assert.InDelta(t, 6.0/7.0, summary.SuccessRate, 0.0001)
	assert.Equal(t, 1, summary.Tree.Counts[knowledge.StatusUpdatedFailed])
}

func TestIndexer_DryRunLeavesFilesUntouched(t *testing.T) {
	root := newProject(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	stale := filepath.Join(root, ".knowledge", "project", "main.go.analysis.md")
	writeFile(t, stale, "# old", base)
	orphan := filepath.Join(root, ".knowledge", "project", "gone.go.analysis.md")
	writeFile(t, orphan, "# gone", base)

	before := snapshotFiles(t, root)
	client := scriptedLLM()
	ix, err := NewIndexer(testConfig(root, client))
	require.NoError(t, err)

	summary, err := ix.Index(context.Background(), nil, true)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 4, summary.FilesAnalyzed)
	assert.Equal(t, 3, summary.DocumentsSynthesized)
	assert.Equal(t, 1, summary.OrphansCleaned)
	assert.Len(t, summary.Phases, 4)
	assert.Equal(t, 1.0, summary.SuccessRate)
	assert.NotEmpty(t, summary.Tree.Artifacts)
	assert.Zero(t, client.CallCount())
	assert.Equal(t, before, snapshotFiles(t, root))
}

func TestIndexer_MissingRootIsFatal(t *testing.T) {
	ix, err := NewIndexer(testConfig(filepath.Join(t.TempDir(), "missing"), scriptedLLM()))
	require.NoError(t, err)

	summary, err := ix.Index(context.Background(), nil, true)
	assert.Nil(t, summary)
	assert.True(t, errors.Is(err, knowledge.ErrRootNotFound))
}

func TestIndexer_Configuration(t *testing.T) {
	root := newProject(t)
	ix, err := NewIndexer(testConfig(root, scriptedLLM()))
	require.NoError(t, err)

	info := ix.Configuration()
	assert.True(t, info.Valid)
	assert.True(t, info.RootExists)
	assert.True(t, info.RootIsDir)
	assert.True(t, info.LLMConfigured)
	assert.Equal(t, []string{knowledge.ProjectHandlerName, knowledge.ImportsHandlerName}, info.Handlers)
	assert.Equal(t, []TaskKind{KindAnalyzeFile, KindBuildSynthesis, KindCleanupOrphan}, info.TaskKinds)

	file := filepath.Join(root, "main.go")
	cfg := testConfig(file, nil)
	cfg.Registry = NewTaskRegistry()
	ix, err = NewIndexer(cfg)
	require.NoError(t, err)
	info = ix.Configuration()
	assert.False(t, info.Valid)
	assert.Len(t, info.Problems, 2)
}

func TestIndexer_Status(t *testing.T) {
	root := newProject(t)
	ix, err := NewIndexer(testConfig(root, scriptedLLM()))
	require.NoError(t, err)

	report, err := ix.Status(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, report.Pending, 7)
	assert.Equal(t, 7, report.Counts[knowledge.StatusMissing])
	assert.Contains(t, report.Graph().ToMermaid(), "graph TD")
	assert.NoDirExists(t, filepath.Join(root, ".knowledge"))
}

// snapshotFiles maps every path under root to its size and mtime.
func snapshotFiles(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out[p] = fmt.Sprintf("%d/%s", info.Size(), info.ModTime().Format(time.RFC3339Nano))
		return nil
	})
	require.NoError(t, err)
	return out
}
