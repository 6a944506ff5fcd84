package orchestration

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Executor runs a validated plan group by group.
type Executor struct {
	// MaxParallel bounds concurrent tasks within a group; <= 0 means unbounded.
	MaxParallel int
	// DryRunDelay is the simulated duration of each task in a dry run.
	DryRunDelay time.Duration
	Monitor     *Monitor
}

// NewExecutor creates an executor from cfg.
func NewExecutor(cfg *Config) *Executor {
	return &Executor{
		MaxParallel: cfg.MaxParallel,
		DryRunDelay: cfg.DryRunDelay,
		Monitor:     NewMonitor(),
	}
}

// Execute runs plan and returns one result per task in execution order. An
// invalid plan is refused. Task failures never abort the run.
func (e *Executor) Execute(ctx context.Context, plan *ExecutionPlan, ec *ExecutionContext) ([]*TaskResult, error) {
	if err := plan.Err(); err != nil {
		return nil, err
	}

	e.Monitor.Start()
	defer e.Monitor.Stop()

	var results []*TaskResult
	if len(plan.Groups) == 0 {
		for _, task := range plan.Tasks {
			results = append(results, e.ExecuteTask(ctx, task, ec))
		}
		return results, nil
	}

	for i, group := range plan.Groups {
		tasks := make([]Task, 0, len(group))
		for _, id := range group {
			task, ok := plan.Task(id)
			if !ok {
				return results, fmt.Errorf("group %d references unknown task %s", i+1, id)
			}
			tasks = append(tasks, task)
		}

		groupResults := e.ExecuteGroup(ctx, tasks, ec)
		succeeded, failed := 0, 0
		for _, r := range groupResults {
			if r.Success {
				succeeded++
			} else {
				failed++
			}
		}
		ec.Emit(fmt.Sprintf("group %d/%d: %d succeeded, %d failed", i+1, len(plan.Groups), succeeded, failed))
		results = append(results, groupResults...)
	}
	return results, nil
}

// ExecuteGroup fans the tasks out, waits for all of them and returns their
// results in group order.
func (e *Executor) ExecuteGroup(ctx context.Context, tasks []Task, ec *ExecutionContext) []*TaskResult {
	results := make([]*TaskResult, len(tasks))

	var g errgroup.Group
	if e.MaxParallel > 0 {
		g.SetLimit(e.MaxParallel)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = failedResult(task, fmt.Errorf("panic: %v", r))
				}
			}()
			results[i] = e.ExecuteTask(ctx, task, ec)
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if r == nil {
			results[i] = failedResult(tasks[i], fmt.Errorf("task produced no result"))
		}
	}
	return results
}

// ExecuteTask runs one task, simulating it in a dry run. It always returns a
// result: errors and panics become failed results.
func (e *Executor) ExecuteTask(ctx context.Context, task Task, ec *ExecutionContext) (result *TaskResult) {
	start := time.Now()
	logger := ec.Logger.WithFields(logrus.Fields{
		"task_id": task.ID(),
		"kind":    task.Kind(),
		"target":  task.TargetPath(),
	})

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("stack", string(debug.Stack())).Errorf("Task panicked: %v", r)
			result = failedResult(task, fmt.Errorf("panic: %v", r))
			e.finish(task, result)
		}
		result.Duration = time.Since(start)
		e.Monitor.Record(result)
		e.applyToTree(task, result, ec)
	}()

	if st, ok := task.(interface{ transition(TaskState) error }); ok {
		if err := st.transition(TaskRunning); err != nil {
			return failedResult(task, err)
		}
	}

	if err := task.Validate(ec); err != nil {
		if !ec.DryRun {
			logger.WithError(err).Warn("Task precondition failed")
			result = failedResult(task, fmt.Errorf("precondition: %w", err))
			e.finish(task, result)
			return result
		}
		ec.Emit(fmt.Sprintf("dry-run: %s:%s would fail precondition: %v", task.Kind(), task.ID(), err))
	}

	if ec.DryRun {
		result = e.simulate(ctx, task)
		e.finish(task, result)
		return result
	}

	result, err := task.Execute(ctx, ec)
	if err != nil {
		logger.WithError(err).Warn("Task failed")
		result = failedResult(task, err)
	} else if result == nil {
		result = failedResult(task, fmt.Errorf("task returned no result"))
	}
	e.finish(task, result)

	if result.Success {
		logger.WithField("files_processed", result.FilesProcessed).Debug("Task completed")
	}
	return result
}

func (e *Executor) simulate(ctx context.Context, task Task) *TaskResult {
	if e.DryRunDelay > 0 {
		select {
		case <-time.After(e.DryRunDelay):
		case <-ctx.Done():
			return failedResult(task, ctx.Err())
		}
	}
	r := newResult(task)
	r.Success = true
	r.FilesProcessed = 1
	r.OutputPaths = []string{task.TargetPath()}
	r.Metadata["dry_run"] = "true"
	return r
}

func (e *Executor) finish(task Task, r *TaskResult) {
	st, ok := task.(interface {
		transition(TaskState) error
		State() TaskState
	})
	if !ok || st.State() != TaskRunning {
		return
	}
	if r.Success {
		_ = st.transition(TaskCompleted)
	} else {
		_ = st.transition(TaskFailed)
	}
}

// applyToTree records the outcome on the task's artifact. Only the task's own
// artifact is touched, which the grouping guarantees is not shared.
func (e *Executor) applyToTree(task Task, r *TaskResult, ec *ExecutionContext) {
	if ec.Tree == nil {
		return
	}
	var status knowledge.Status
	switch {
	case r.Success && task.Kind() == KindCleanupOrphan:
		status = knowledge.StatusDeleted
	case r.Success:
		status = knowledge.StatusUpdatedSuccess
	case task.Kind() == KindCleanupOrphan:
		return
	default:
		status = knowledge.StatusUpdatedFailed
	}
	if err := ec.Tree.SetStatus(task.TargetPath(), status); err != nil {
		ec.Logger.WithError(err).WithField("target", task.TargetPath()).Debug("Task target not in tree")
	}
}
