package orchestration

import (
	"time"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/mattsolo1/grove-kb/pkg/llm"
)

// ReviewConfig bounds the quality review loop of synthesis documents.
type ReviewConfig struct {
	Enabled     bool
	MaxAttempts int
}

// Config is built once at startup and passed by reference to the planner,
// executor and tasks. There is no package-level registry.
type Config struct {
	// Root is the project root.
	Root     string
	Layout   knowledge.Layout
	Handlers []knowledge.Handler
	Registry *TaskRegistry

	// Client is the injected LLM capability.
	Client   llm.Client
	Retry    llm.RetryPolicy
	Detector llm.TruncationDetector
	Review   ReviewConfig

	// MaxParallel bounds the tasks running at once inside a group.
	MaxParallel int
	// DryRunDelay is the simulated duration of each task in a dry run.
	DryRunDelay time.Duration
	// MaxFileBytes caps how much of a source file is sent to the LLM.
	MaxFileBytes int64
}

const (
	DefaultMaxParallel  = 4
	DefaultDryRunDelay  = 5 * time.Millisecond
	DefaultMaxFileBytes = 64 * 1024
	DefaultReviewRounds = 3
)

// DefaultConfig returns a configuration for root with the built-in handlers
// and task kinds. The LLM client is left unset.
func DefaultConfig(root string) *Config {
	layout := knowledge.DefaultLayout()
	return &Config{
		Root:         root,
		Layout:       layout,
		Handlers:     knowledge.DefaultHandlers(root, layout),
		Registry:     DefaultTaskRegistry(),
		Retry:        llm.DefaultRetryPolicy(),
		Detector:     llm.DefaultDetector(),
		Review:       ReviewConfig{Enabled: true, MaxAttempts: DefaultReviewRounds},
		MaxParallel:  DefaultMaxParallel,
		DryRunDelay:  DefaultDryRunDelay,
		MaxFileBytes: DefaultMaxFileBytes,
	}
}

// KnowledgeRoot returns the absolute knowledge base directory.
func (c *Config) KnowledgeRoot() string {
	return c.Layout.KnowledgeRoot(c.Root)
}

func (c *Config) generator() *llm.Generator {
	g := llm.NewGenerator(c.Client, c.Retry)
	if c.Detector != nil {
		g.Detector = c.Detector
	}
	return g
}
