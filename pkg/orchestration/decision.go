package orchestration

import (
	"fmt"
	"sort"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
)

// Decide turns the tree into task descriptors. It is a pure function of the
// tree: fresh and already updated artifacts produce nothing, orphans produce
// exactly one cleanup each, stale or missing artifacts produce a rebuild.
// Any artifact that cannot be classified aborts the pass.
func Decide(tree *knowledge.Tree) ([]TaskDescriptor, error) {
	seen := make(map[string]bool)
	var out []TaskDescriptor
	add := func(d TaskDescriptor) {
		if seen[d.ID] {
			return
		}
		seen[d.ID] = true
		out = append(out, d)
	}

	for _, a := range tree.Artifacts() {
		d, ok, err := decideArtifact(a)
		if err != nil {
			return nil, fmt.Errorf("decide %s: %w", a.Path, err)
		}
		if ok {
			add(d)
		}
	}

	// Orphan sweep over the flag rather than the status, so an orphan whose
	// status was overwritten still gets cleaned.
	for _, a := range tree.Orphans() {
		if a.Status == knowledge.StatusDeleted {
			continue
		}
		priority := PriorityOrphanAnalysis
		if a.Kind == knowledge.KindSynthesis {
			priority = PriorityOrphanSynthesis
		}
		add(cleanupDescriptor(a, priority))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func decideArtifact(a knowledge.Artifact) (TaskDescriptor, bool, error) {
	if a.Orphaned && a.Status != knowledge.StatusOrphaned {
		// Never rebuild an orphan; the sweep below cleans it.
		return TaskDescriptor{}, false, nil
	}
	switch a.Status {
	case knowledge.StatusFresh, knowledge.StatusUpdatedSuccess, knowledge.StatusDeleted:
		return TaskDescriptor{}, false, nil
	case knowledge.StatusOrphaned:
		return cleanupDescriptor(a, PriorityCleanupOrphan), true, nil
	case knowledge.StatusStale, knowledge.StatusMissing, knowledge.StatusUpdatedFailed:
	default:
		return TaskDescriptor{}, false, fmt.Errorf("unknown status %q", a.Status)
	}

	if a.Source == "" {
		return TaskDescriptor{}, false, fmt.Errorf("%s artifact in status %s has no source", a.Kind, a.Status)
	}

	var d TaskDescriptor
	switch a.Kind {
	case knowledge.KindAnalysis:
		d = NewDescriptor(KindAnalyzeFile, PriorityAnalyzeFile, a.Source, a.Path, reasonFor(a))
	case knowledge.KindSynthesis:
		d = NewDescriptor(KindBuildSynthesis, PriorityBuildSynthesis, a.Source, a.Path, reasonFor(a))
	default:
		return TaskDescriptor{}, false, fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	d.Params[ParamHandler] = a.Handler
	d.Params[ParamArtifactKind] = string(a.Kind)
	d.Params[ParamStatus] = string(a.Status)
	return d, true, nil
}

func cleanupDescriptor(a knowledge.Artifact, priority int) TaskDescriptor {
	d := NewDescriptor(KindCleanupOrphan, priority, a.Source, a.Path, "source no longer exists")
	d.Params[ParamHandler] = a.Handler
	d.Params[ParamArtifactKind] = string(a.Kind)
	d.Params[ParamStatus] = string(knowledge.StatusOrphaned)
	return d
}

func reasonFor(a knowledge.Artifact) string {
	switch a.Status {
	case knowledge.StatusMissing:
		return fmt.Sprintf("%s artifact does not exist", a.Kind)
	case knowledge.StatusUpdatedFailed:
		return "previous update failed"
	default:
		if a.Kind == knowledge.KindSynthesis {
			return "source directory changed"
		}
		if a.SourceMtime.After(a.Mtime) {
			return "source file changed"
		}
		return "source directory changed"
	}
}
