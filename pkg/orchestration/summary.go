package orchestration

import (
	"fmt"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
)

// PhaseTiming is the wall-clock duration of one run phase.
type PhaseTiming struct {
	Phase    string        `json:"phase" yaml:"phase"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// RunSummary is the public result of Index. It is returned even when tasks
// failed; only structural errors prevent it.
type RunSummary struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	DryRun    bool      `json:"dry_run" yaml:"dry_run"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time `json:"ended_at" yaml:"ended_at"`

	FilesAnalyzed        int `json:"files_analyzed" yaml:"files_analyzed"`
	DocumentsSynthesized int `json:"documents_synthesized" yaml:"documents_synthesized"`
	ArtifactsCreated     int `json:"artifacts_created" yaml:"artifacts_created"`
	OrphansCleaned       int `json:"orphans_cleaned" yaml:"orphans_cleaned"`

	TasksPlanned int           `json:"tasks_planned" yaml:"tasks_planned"`
	Groups       int           `json:"groups" yaml:"groups"`
	Results      []*TaskResult `json:"results" yaml:"results"`
	Errors       []string      `json:"errors" yaml:"errors"`
	Phases       []PhaseTiming `json:"phases" yaml:"phases"`
	Execution    MonitorStats  `json:"execution" yaml:"execution"`

	Tree        knowledge.Snapshot `json:"tree" yaml:"tree"`
	SuccessRate float64            `json:"success_rate" yaml:"success_rate"`
}

// Duration returns the total run time.
func (s *RunSummary) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// Failed returns the number of failed tasks.
func (s *RunSummary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// applyResults maps per-task results onto the summary counters. An analysis
// or synthesis artifact counts as created when it did not exist before the run.
func (s *RunSummary) applyResults(results []*TaskResult, plan *ExecutionPlan, existedBefore map[string]bool) {
	s.Results = results
	s.Errors = []string{}

	succeeded := 0
	for _, r := range results {
		if !r.Success {
			s.Errors = append(s.Errors, fmt.Sprintf("%s:%s - %s", r.Kind, r.TaskID, r.Error))
			continue
		}
		succeeded++

		processed := r.FilesProcessed > 0
		switch r.Kind {
		case KindAnalyzeFile:
			if processed {
				s.FilesAnalyzed++
			}
		case KindBuildSynthesis:
			if processed {
				s.DocumentsSynthesized++
			}
		case KindCleanupOrphan:
			s.OrphansCleaned += r.FilesProcessed
			continue
		}

		if processed && plan != nil {
			if task, ok := plan.Task(r.TaskID); ok && !existedBefore[task.TargetPath()] {
				s.ArtifactsCreated++
			}
		}
	}

	if len(results) == 0 {
		s.SuccessRate = 1
	} else {
		s.SuccessRate = float64(succeeded) / float64(len(results))
	}
}
