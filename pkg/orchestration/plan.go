package orchestration

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/sirupsen/logrus"
)

// ErrInvalidPlan is matched by every *PlanValidationError.
var ErrInvalidPlan = errors.New("invalid execution plan")

// PlanValidationError lists everything wrong with a plan.
type PlanValidationError struct {
	Problems []string
}

func (e *PlanValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPlan, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalidPlan) hold.
func (e *PlanValidationError) Is(target error) bool {
	return target == ErrInvalidPlan
}

// ExecutionPlan is the ordered, grouped set of tasks of one run.
type ExecutionPlan struct {
	// Tasks are in dependency order.
	Tasks []Task
	// Groups are task ids that may run concurrently; groups run in order.
	Groups [][]string
	// ValidationErrors is filled by Validate.
	ValidationErrors []string

	graph     *DependencyGraph
	validated bool
}

// Validate checks the plan is non-empty, ids are unique and every group and
// dependency id names a task in the plan. It records the problems and
// reports whether the plan is valid.
func (p *ExecutionPlan) Validate() bool {
	var problems []string
	if len(p.Tasks) == 0 {
		problems = append(problems, "plan has no tasks")
	}

	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if ids[t.ID()] {
			problems = append(problems, fmt.Sprintf("duplicate task id %s", t.ID()))
		}
		ids[t.ID()] = true
	}

	for i, group := range p.Groups {
		for _, id := range group {
			if !ids[id] {
				problems = append(problems, fmt.Sprintf("group %d references unknown task %s", i+1, id))
			}
		}
	}

	for _, t := range p.Tasks {
		for _, dep := range t.Descriptor().Dependencies {
			if !ids[dep] {
				problems = append(problems, fmt.Sprintf("task %s depends on unknown task %s", t.ID(), dep))
			}
		}
	}

	p.ValidationErrors = problems
	p.validated = true
	return len(problems) == 0
}

// Err returns a *PlanValidationError when the plan is invalid or was never validated.
func (p *ExecutionPlan) Err() error {
	if !p.validated {
		return &PlanValidationError{Problems: []string{"plan was not validated"}}
	}
	if len(p.ValidationErrors) > 0 {
		return &PlanValidationError{Problems: p.ValidationErrors}
	}
	return nil
}

// Task returns the task with id.
func (p *ExecutionPlan) Task(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// Graph returns the dependency graph the plan was built from.
func (p *ExecutionPlan) Graph() *DependencyGraph {
	return p.graph
}

// Planner turns descriptors into a validated execution plan.
type Planner struct {
	Registry *TaskRegistry
}

// NewPlanner creates a planner using registry.
func NewPlanner(registry *TaskRegistry) *Planner {
	return &Planner{Registry: registry}
}

// Plan populates synthesis dependencies, builds the tasks, orders them and
// groups them. Unknown kinds and cycles are fatal; validation problems are
// returned as a *PlanValidationError alongside the plan.
func (pl *Planner) Plan(descs []TaskDescriptor) (*ExecutionPlan, error) {
	descs = PopulateDependencies(descs)

	byID := make(map[string]Task, len(descs))
	tasks := make([]Task, 0, len(descs))
	for _, d := range descs {
		task, err := pl.Registry.Create(d)
		if err != nil {
			return nil, err
		}
		byID[d.ID] = task
		tasks = append(tasks, task)
	}

	graph := BuildDependencyGraph(descs)
	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	ordered := make([]Task, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, byID[id])
	}
	// Duplicate ids collapse in the graph; keep them so validation sees them.
	if len(ordered) < len(tasks) {
		ordered = tasks
	}

	plan := &ExecutionPlan{
		Tasks:  ordered,
		Groups: GroupTasks(ordered),
		graph:  graph,
	}
	if !plan.Validate() {
		return plan, plan.Err()
	}

	log.WithFields(logrus.Fields{
		"tasks":  len(plan.Tasks),
		"groups": len(plan.Groups),
	}).Debug("Execution plan built")
	return plan, nil
}

// PopulateDependencies returns a copy of descs in which every synthesis
// descriptor depends on the analyze descriptors of files under its source
// directory and on the synthesis descriptors of its descendant directories.
func PopulateDependencies(descs []TaskDescriptor) []TaskDescriptor {
	out := make([]TaskDescriptor, len(descs))
	copy(out, descs)

	for i := range out {
		if out[i].Kind != KindBuildSynthesis {
			continue
		}
		dir := out[i].SourcePath
		deps := append([]string(nil), out[i].Dependencies...)
		for _, other := range descs {
			if other.ID == out[i].ID || other.SourcePath == "" {
				continue
			}
			switch other.Kind {
			case KindAnalyzeFile:
				if knowledge.IsWithin(other.SourcePath, dir) {
					deps = append(deps, other.ID)
				}
			case KindBuildSynthesis:
				if other.SourcePath != dir && knowledge.IsWithin(other.SourcePath, dir) {
					deps = append(deps, other.ID)
				}
			}
		}
		out[i].Dependencies = dedupeSorted(deps)
	}
	return out
}

func dedupeSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
