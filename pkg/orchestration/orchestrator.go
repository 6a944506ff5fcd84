package orchestration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/mattsolo1/grove-kb/pkg/logging"
	"github.com/sirupsen/logrus"
)

var log = logging.NewLogger("grove-kb.orchestration")

// Phase names used in RunSummary.Phases.
const (
	PhaseDiscovery = "discovery"
	PhaseDecision  = "decision"
	PhasePlanning  = "planning"
	PhaseExecution = "execution"
)

// Indexer runs discovery, decision, planning and execution over one project.
type Indexer struct {
	cfg *Config
}

// NewIndexer validates cfg and creates an indexer.
func NewIndexer(cfg *Config) (*Indexer, error) {
	if cfg == nil {
		return nil, errors.New("indexer config is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultTaskRegistry()
	}
	if len(cfg.Handlers) == 0 {
		cfg.Handlers = knowledge.DefaultHandlers(cfg.Root, cfg.Layout)
	}
	return &Indexer{cfg: cfg}, nil
}

// Config returns the indexer's configuration.
func (ix *Indexer) Config() *Config {
	return ix.cfg
}

// Index brings the knowledge base up to date with the source tree. The
// summary is returned even when tasks failed; the error is set only for
// structural failures, in which case no summary is produced.
func (ix *Indexer) Index(ctx context.Context, progress knowledge.ProgressFunc, dryRun bool) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New().String(),
		DryRun:    dryRun,
		StartedAt: time.Now(),
		Results:   []*TaskResult{},
		Errors:    []string{},
		Phases:    []PhaseTiming{},
	}
	logger := log.WithFields(logrus.Fields{
		"run_id":  summary.RunID,
		"root":    ix.cfg.Root,
		"dry_run": dryRun,
	})
	logger.Info("Starting index run")

	if !dryRun {
		// Created up front so the project root mtime does not move mid-run.
		if err := os.MkdirAll(ix.cfg.KnowledgeRoot(), 0755); err != nil {
			return nil, fmt.Errorf("create knowledge directory: %w", err)
		}
	}

	// Discovery
	start := time.Now()
	tree, stats, err := ix.discover(ctx, progress)
	if err != nil {
		return nil, err
	}
	summary.addPhase(PhaseDiscovery, start)
	progress.Emit(fmt.Sprintf("discovery: %d source files, %d knowledge files", stats.SourceFiles, stats.KnowledgeFiles))

	existedBefore := make(map[string]bool)
	for _, a := range tree.Artifacts() {
		if a.Exists {
			existedBefore[a.Path] = true
		}
	}

	// Decision
	start = time.Now()
	descs, err := Decide(tree)
	if err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	summary.addPhase(PhaseDecision, start)
	progress.Emit(fmt.Sprintf("decision: %d tasks", len(descs)))

	if len(descs) == 0 {
		summary.applyResults(nil, nil, existedBefore)
		return ix.finish(summary, tree, logger), nil
	}

	// Planning
	start = time.Now()
	plan, err := NewPlanner(ix.cfg.Registry).Plan(descs)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	summary.addPhase(PhasePlanning, start)
	summary.TasksPlanned = len(plan.Tasks)
	summary.Groups = len(plan.Groups)
	progress.Emit(fmt.Sprintf("planning: %d tasks in %d groups", len(plan.Tasks), len(plan.Groups)))

	// Execution
	start = time.Now()
	ec := NewExecutionContext(ix.cfg, tree, progress, dryRun, logger)
	executor := NewExecutor(ix.cfg)
	results, err := executor.Execute(ctx, plan, ec)
	if err != nil {
		return nil, fmt.Errorf("execution: %w", err)
	}
	summary.addPhase(PhaseExecution, start)
	summary.Execution = executor.Monitor.Stats()

	summary.applyResults(results, plan, existedBefore)
	return ix.finish(summary, tree, logger), nil
}

func (ix *Indexer) discover(ctx context.Context, progress knowledge.ProgressFunc) (*knowledge.Tree, knowledge.DiscoveryStats, error) {
	d := knowledge.NewDiscoverer(ix.cfg.Root, ix.cfg.Layout, ix.cfg.Handlers, progress)
	tree, stats, err := d.Discover(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("discovery: %w", err)
	}
	return tree, stats, nil
}

func (ix *Indexer) finish(summary *RunSummary, tree *knowledge.Tree, logger *logrus.Entry) *RunSummary {
	summary.EndedAt = time.Now()
	summary.Tree = tree.Snapshot()
	logger.WithFields(logrus.Fields{
		"files_analyzed":        summary.FilesAnalyzed,
		"documents_synthesized": summary.DocumentsSynthesized,
		"orphans_cleaned":       summary.OrphansCleaned,
		"errors":                len(summary.Errors),
		"success_rate":          summary.SuccessRate,
		"duration_msec":         summary.Duration().Milliseconds(),
	}).Info("Index run finished")
	return summary
}

func (s *RunSummary) addPhase(phase string, start time.Time) {
	s.Phases = append(s.Phases, PhaseTiming{Phase: phase, Duration: time.Since(start)})
}

// StatusReport is the result of a read-only pass: discovery and decision.
type StatusReport struct {
	Root    string                   `json:"root" yaml:"root"`
	Counts  map[knowledge.Status]int `json:"counts" yaml:"counts"`
	Pending []TaskDescriptor         `json:"pending" yaml:"pending"`
	Stats   knowledge.DiscoveryStats `json:"stats" yaml:"stats"`
	graph   *DependencyGraph
}

// Graph returns the dependency graph of the pending work.
func (r *StatusReport) Graph() *DependencyGraph {
	return r.graph
}

// Status reports what an index run would do without planning side effects.
func (ix *Indexer) Status(ctx context.Context, progress knowledge.ProgressFunc) (*StatusReport, error) {
	tree, stats, err := ix.discover(ctx, progress)
	if err != nil {
		return nil, err
	}
	descs, err := Decide(tree)
	if err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	descs = PopulateDependencies(descs)
	return &StatusReport{
		Root:    tree.Root,
		Counts:  tree.Counts(),
		Pending: descs,
		Stats:   stats,
		graph:   BuildDependencyGraph(descs),
	}, nil
}

// ConfigurationInfo describes the indexer's setup and whether it can run.
type ConfigurationInfo struct {
	Root          string     `json:"root" yaml:"root"`
	KnowledgeDir  string     `json:"knowledge_dir" yaml:"knowledge_dir"`
	Handlers      []string   `json:"handlers" yaml:"handlers"`
	TaskKinds     []TaskKind `json:"task_kinds" yaml:"task_kinds"`
	RootExists    bool       `json:"root_exists" yaml:"root_exists"`
	RootIsDir     bool       `json:"root_is_dir" yaml:"root_is_dir"`
	LLMConfigured bool       `json:"llm_configured" yaml:"llm_configured"`
	MaxParallel   int        `json:"max_parallel" yaml:"max_parallel"`
	Valid         bool       `json:"valid" yaml:"valid"`
	Problems      []string   `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// Configuration introspects the indexer without touching the knowledge base.
func (ix *Indexer) Configuration() ConfigurationInfo {
	info := ConfigurationInfo{
		Root:          ix.cfg.Root,
		KnowledgeDir:  ix.cfg.KnowledgeRoot(),
		TaskKinds:     ix.cfg.Registry.Kinds(),
		LLMConfigured: ix.cfg.Client != nil,
		MaxParallel:   ix.cfg.MaxParallel,
	}
	for _, h := range ix.cfg.Handlers {
		info.Handlers = append(info.Handlers, h.Name())
	}

	if fi, err := os.Stat(ix.cfg.Root); err == nil {
		info.RootExists = true
		info.RootIsDir = fi.IsDir()
	}

	if !info.RootExists {
		info.Problems = append(info.Problems, fmt.Sprintf("root %s does not exist", ix.cfg.Root))
	} else if !info.RootIsDir {
		info.Problems = append(info.Problems, fmt.Sprintf("root %s is not a directory", ix.cfg.Root))
	}
	if len(info.Handlers) == 0 {
		info.Problems = append(info.Problems, "no handlers registered")
	}
	if len(info.TaskKinds) == 0 {
		info.Problems = append(info.Problems, "no task kinds registered")
	}
	info.Valid = len(info.Problems) == 0
	return info
}
