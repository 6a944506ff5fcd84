package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
)

// AnalyzeFileTask (re)generates the analysis artifact of one source file.
type AnalyzeFileTask struct {
	baseTask
}

// NewAnalyzeFileTask is the TaskFactory for KindAnalyzeFile.
func NewAnalyzeFileTask(desc TaskDescriptor) (Task, error) {
	if desc.SourcePath == "" || desc.ArtifactPath == "" {
		return nil, errors.New("analyze task needs a source and an artifact path")
	}
	return &AnalyzeFileTask{baseTask: newBaseTask(desc)}, nil
}

func (t *AnalyzeFileTask) CompatibleWith(other Task) bool { return compatible(t, other) }

func (t *AnalyzeFileTask) Validate(ec *ExecutionContext) error {
	info, err := os.Stat(t.desc.SourcePath)
	if err != nil {
		return fmt.Errorf("source file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source %s is not a regular file", t.desc.SourcePath)
	}
	if !knowledge.IsWithin(t.desc.ArtifactPath, ec.Config.KnowledgeRoot()) {
		return fmt.Errorf("artifact %s is outside the knowledge base", t.desc.ArtifactPath)
	}
	return nil
}

// Execute skips the LLM when the artifact is already newer than the source.
// Otherwise the analysis is generated, written and stamped one second past
// the newest of the source file and its directory.
func (t *AnalyzeFileTask) Execute(ctx context.Context, ec *ExecutionContext) (*TaskResult, error) {
	src, target := t.desc.SourcePath, t.desc.ArtifactPath
	r := newResult(t)
	r.OutputPaths = []string{target}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	stamp := freshMtime(srcInfo.ModTime(), t.sourceDirMtime(ec))

	if info, err := os.Stat(target); err == nil && info.ModTime().After(srcInfo.ModTime()) {
		r.Success = true
		r.Metadata["cache"] = "hit"
		// A directory change alone still leaves the artifact stale; restamp it.
		if info.ModTime().Before(stamp) {
			if err := os.Chtimes(target, stamp, stamp); err != nil {
				ec.Emit(fmt.Sprintf("analyze: could not restamp %s: %v", target, err))
			}
		}
		recordArtifact(ec, target)
		return r, nil
	}

	if ec.Generator == nil {
		return nil, errors.New("no LLM client configured")
	}

	content, cut, err := readLimited(src, ec.Config.MaxFileBytes)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	prompt, err := render(analyzeTemplate, map[string]any{
		"RelPath":   relPath(ec.Root, src),
		"Content":   content,
		"Truncated": cut,
		"MaxBytes":  ec.Config.MaxFileBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	gen, err := ec.Generator.Generate(ctx, prompt, t.ID())
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", relPath(ec.Root, src), err)
	}

	text := strings.TrimSpace(gen.Text) + "\n"
	if err := writeArtifact(target, []byte(text), stamp); err != nil {
		return nil, fmt.Errorf("write analysis: %w", err)
	}
	ec.Set(analysisKey(target), text)
	recordArtifact(ec, target)

	r.Success = true
	r.FilesProcessed = 1
	r.Metadata["cache"] = "miss"
	r.Metadata["llm_calls"] = strconv.Itoa(gen.Calls)
	r.Metadata["fragments"] = strconv.Itoa(gen.Fragments)
	if gen.Truncated {
		r.Metadata["truncated"] = "true"
		ec.Emit(fmt.Sprintf("analyze: %s may be incomplete, continuation attempts ran out", relPath(ec.Root, src)))
	}
	return r, nil
}

func (t *AnalyzeFileTask) sourceDirMtime(ec *ExecutionContext) time.Time {
	if ec.Tree != nil {
		if a, ok := ec.Tree.Artifact(t.desc.ArtifactPath); ok && !a.SourceDirMtime.IsZero() {
			return a.SourceDirMtime
		}
	}
	if info, err := os.Stat(filepath.Dir(t.desc.SourcePath)); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// recordArtifact copies the on-disk state of a written artifact into the tree.
func recordArtifact(ec *ExecutionContext, path string) {
	if ec.Tree == nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	_ = ec.Tree.UpdateArtifact(path, func(a *knowledge.Artifact) {
		a.Exists = true
		a.Size = info.Size()
		a.Mtime = info.ModTime()
	})
}

func analysisKey(artifactPath string) string {
	return "analysis:" + artifactPath
}

// readLimited reads at most limit bytes of path; limit <= 0 reads everything.
func readLimited(path string, limit int64) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	if limit <= 0 {
		data, err := io.ReadAll(f)
		return string(data), false, err
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", false, err
	}
	if int64(len(data)) > limit {
		return string(data[:limit]), true, nil
	}
	return string(data), false, nil
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}
