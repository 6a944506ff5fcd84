package orchestration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
)

// ErrUnsafeCleanupTarget is returned for deletion targets outside the
// knowledge base naming conventions.
var ErrUnsafeCleanupTarget = errors.New("refusing to delete path outside knowledge conventions")

// CleanupOrphanTask deletes an artifact whose source is gone.
type CleanupOrphanTask struct {
	baseTask
}

// NewCleanupOrphanTask is the TaskFactory for KindCleanupOrphan.
func NewCleanupOrphanTask(desc TaskDescriptor) (Task, error) {
	if desc.ArtifactPath == "" {
		return nil, errors.New("cleanup task needs an artifact path")
	}
	return &CleanupOrphanTask{baseTask: newBaseTask(desc)}, nil
}

func (t *CleanupOrphanTask) CompatibleWith(other Task) bool { return compatible(t, other) }

func (t *CleanupOrphanTask) Validate(ec *ExecutionContext) error {
	return checkCleanupTarget(t.desc.ArtifactPath, ec.Config.KnowledgeRoot())
}

// Execute deletes the artifact and prunes knowledge directories it leaves
// empty. A target that is already gone succeeds with zero files processed.
func (t *CleanupOrphanTask) Execute(ctx context.Context, ec *ExecutionContext) (*TaskResult, error) {
	target := t.desc.ArtifactPath
	kroot := ec.Config.KnowledgeRoot()
	if err := checkCleanupTarget(target, kroot); err != nil {
		return nil, err
	}

	r := newResult(t)
	r.Success = true
	if err := os.Remove(target); err != nil {
		if os.IsNotExist(err) {
			r.Metadata["already_absent"] = "true"
			return r, nil
		}
		return nil, fmt.Errorf("delete %s: %w", target, err)
	}
	r.FilesProcessed = 1
	r.OutputPaths = []string{target}

	if ec.Tree != nil {
		_ = ec.Tree.UpdateArtifact(target, func(a *knowledge.Artifact) {
			a.Exists = false
			a.Size = 0
		})
	}
	if pruned := pruneEmptyDirs(filepath.Dir(target), kroot); pruned > 0 {
		r.Metadata["pruned_dirs"] = fmt.Sprint(pruned)
	}
	return r, nil
}

// checkCleanupTarget accepts only artifact-named files strictly inside a
// handler directory of the knowledge base.
func checkCleanupTarget(path, knowledgeRoot string) error {
	path = knowledge.Canonical(path)
	knowledgeRoot = knowledge.Canonical(knowledgeRoot)

	rel, err := filepath.Rel(knowledgeRoot, path)
	if err != nil || !knowledge.IsWithin(path, knowledgeRoot) || filepath.Dir(rel) == "." {
		return fmt.Errorf("%w: %s is not inside %s", ErrUnsafeCleanupTarget, path, knowledgeRoot)
	}
	if _, ok := knowledge.ClassifyArtifact(filepath.Base(path)); !ok {
		return fmt.Errorf("%w: %s is not an artifact file", ErrUnsafeCleanupTarget, path)
	}
	if info, err := os.Lstat(path); err == nil && !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrUnsafeCleanupTarget, path)
	}
	return nil
}

// pruneEmptyDirs removes empty directories from dir upwards, keeping the
// handler directories directly under the knowledge root.
func pruneEmptyDirs(dir, knowledgeRoot string) int {
	pruned := 0
	for knowledge.IsWithin(dir, knowledgeRoot) && dir != knowledgeRoot && filepath.Dir(dir) != knowledgeRoot {
		if err := os.Remove(dir); err != nil {
			break
		}
		pruned++
		dir = filepath.Dir(dir)
	}
	return pruned
}
