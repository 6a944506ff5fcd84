package orchestration

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TaskKind identifies a task implementation in the registry.
type TaskKind string

const (
	KindAnalyzeFile    TaskKind = "analyze_file"
	KindBuildSynthesis TaskKind = "build_synthesis"
	KindCleanupOrphan  TaskKind = "cleanup_orphan"
)

// Priorities order ready tasks; lower runs first.
const (
	PriorityAnalyzeFile     = 10
	PriorityBuildSynthesis  = 50
	PriorityOrphanAnalysis  = 90
	PriorityOrphanSynthesis = 95
	PriorityCleanupOrphan   = 100
)

// Param keys used in TaskDescriptor.Params.
const (
	ParamHandler      = "handler"
	ParamArtifactKind = "artifact_kind"
	ParamStatus       = "status"
)

// taskNamespace scopes the name-based UUIDs used for task ids.
var taskNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/mattsolo1/grove-kb/tasks"))

// TaskDescriptor is a planned unit of work before it is turned into a Task.
type TaskDescriptor struct {
	Kind         TaskKind          `json:"kind" yaml:"kind"`
	ID           string            `json:"id" yaml:"id"`
	Priority     int               `json:"priority" yaml:"priority"`
	SourcePath   string            `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	ArtifactPath string            `json:"artifact_path" yaml:"artifact_path"`
	Params       map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Reason       string            `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// TaskID derives a stable id from the task kind and the canonical artifact
// path, so the same work gets the same id on every run.
func TaskID(kind TaskKind, artifactPath string) string {
	u := uuid.NewSHA1(taskNamespace, []byte(string(kind)+":"+artifactPath))
	return fmt.Sprintf("%s-%s", kind, strings.ReplaceAll(u.String(), "-", "")[:16])
}

// NewDescriptor builds a descriptor with its id filled in.
func NewDescriptor(kind TaskKind, priority int, source, artifact, reason string) TaskDescriptor {
	return TaskDescriptor{
		Kind:         kind,
		ID:           TaskID(kind, artifact),
		Priority:     priority,
		SourcePath:   source,
		ArtifactPath: artifact,
		Params:       map[string]string{},
		Reason:       reason,
	}
}

// Param returns a parameter value or "".
func (d TaskDescriptor) Param(key string) string {
	if d.Params == nil {
		return ""
	}
	return d.Params[key]
}

func (d TaskDescriptor) String() string {
	return fmt.Sprintf("%s:%s", d.Kind, d.ID)
}
