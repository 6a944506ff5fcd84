package orchestration

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func desc(id string, priority int, deps ...string) TaskDescriptor {
	return TaskDescriptor{Kind: KindAnalyzeFile, ID: id, Priority: priority, ArtifactPath: "/kb/" + id, Dependencies: deps}
}

func TestTopologicalSort_DependenciesComeFirst(t *testing.T) {
	descs := []TaskDescriptor{
		desc("synth-root", 50, "synth-pkg", "a", "b"),
		desc("synth-pkg", 50, "b"),
		desc("a", 10),
		desc("b", 10),
		desc("cleanup", 100),
	}
	order, err := BuildDependencyGraph(descs).TopologicalSort()
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"a", "b", "synth-pkg", "synth-root", "cleanup"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, d := range descs {
		for _, dep := range d.Dependencies {
			assert.Less(t, pos[dep], pos[d.ID], "%s must run after %s", d.ID, dep)
		}
	}
}

func TestTopologicalSort_ReadyQueueOrderedByPriority(t *testing.T) {
	order, err := BuildDependencyGraph([]TaskDescriptor{
		desc("z-low", 10),
		desc("a-high", 100),
		desc("m-mid", 50),
	}).TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"z-low", "m-mid", "a-high"}, order)
}

func TestDetectCycles(t *testing.T) {
	tests := []struct {
		name  string
		descs []TaskDescriptor
		want  [][]string
	}{
		{
			name:  "acyclic",
			descs: []TaskDescriptor{desc("a", 0), desc("b", 0, "a")},
			want:  nil,
		},
		{
			name:  "self dependency",
			descs: []TaskDescriptor{desc("a", 0, "a")},
			want:  [][]string{{"a", "a"}},
		},
		{
			name:  "two node cycle",
			descs: []TaskDescriptor{desc("b", 0, "a"), desc("a", 0, "b")},
			want:  [][]string{{"a", "b", "a"}},
		},
		{
			name: "two independent cycles",
			descs: []TaskDescriptor{
				desc("a", 0, "b"), desc("b", 0, "c"), desc("c", 0, "a"),
				desc("x", 0, "x"),
				desc("free", 0),
			},
			want: [][]string{{"a", "b", "c", "a"}, {"x", "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDependencyGraph(tt.descs).DetectCycles()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("cycles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTopologicalSort_CycleIsFatal(t *testing.T) {
	_, err := BuildDependencyGraph([]TaskDescriptor{desc("solo", 0, "solo"), desc("ok", 0)}).TopologicalSort()
	require.Error(t, err)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"solo"}, cycleErr.TaskIDs())
	assert.Contains(t, err.Error(), "solo -> solo")
}

func TestBuildDependencyGraph_RecordsMissingDependencies(t *testing.T) {
	graph := BuildDependencyGraph([]TaskDescriptor{desc("a", 0, "ghost", "b"), desc("b", 0)})
	assert.Equal(t, map[string][]string{"a": {"ghost"}}, graph.MissingDependencies())
	assert.Equal(t, []string{"b"}, graph.Dependencies("a"))

	order, err := graph.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestToMermaid(t *testing.T) {
	graph := BuildDependencyGraph([]TaskDescriptor{
		{Kind: KindAnalyzeFile, ID: "analyze_file-1", SourcePath: "/p/pkg/a.go"},
		{Kind: KindBuildSynthesis, ID: "build_synthesis-1", SourcePath: "/p/pkg", Dependencies: []string{"analyze_file-1"}},
	})
	out := graph.ToMermaid()
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `analyze_file_1["analyze_file-1 (pkg/a.go)"]:::analyze_file`)
	assert.Contains(t, out, "analyze_file_1 --> build_synthesis_1")
}
