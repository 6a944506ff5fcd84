// Package config loads kb.yml and turns it into an orchestration.Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattsolo1/grove-kb/pkg/exec"
	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/mattsolo1/grove-kb/pkg/llm"
	"github.com/mattsolo1/grove-kb/pkg/logging"
	"github.com/mattsolo1/grove-kb/pkg/orchestration"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:generate sh -c "cd ../.. && go run ./tools/schema-generator/"

// FileName is the configuration file looked up in the project root.
const FileName = "kb.yml"

// IgnoreFileName holds extra exclusion rules, one per line, applied after
// the exclude list of kb.yml.
const IgnoreFileName = ".kbignore"

// Environment overrides.
const (
	EnvLLMCommand       = "KB_LLM_COMMAND"
	EnvLLMModel         = "KB_LLM_MODEL"
	EnvMaxParallel      = "KB_MAX_PARALLEL"
	EnvMockResponseFile = "KB_MOCK_LLM_RESPONSE_FILE"
)

var log = logging.NewLogger("grove-kb.config")

// LLMConfig selects the command line model client.
type LLMConfig struct {
	Command string   `yaml:"command,omitempty" json:"command,omitempty" jsonschema:"description=Executable that reads a prompt on stdin and prints the completion,default=llm"`
	Model   string   `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"description=Model passed with -m"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty" jsonschema:"description=Extra arguments appended to the command"`
	// ConversationFlag passes the task id as a conversation tag, e.g. "--cid".
	ConversationFlag string `yaml:"conversation_flag,omitempty" json:"conversation_flag,omitempty"`
	// MockResponseFile replaces the command with a scripted client.
	MockResponseFile string `yaml:"mock_response_file,omitempty" json:"mock_response_file,omitempty"`
}

// ReviewConfig mirrors orchestration.ReviewConfig in file form.
type ReviewConfig struct {
	Enabled     *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"description=Run the quality review loop on directory documents,default=true"`
	MaxAttempts int   `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
}

// FileConfig is the layout of kb.yml. Zero values fall back to defaults.
type FileConfig struct {
	KnowledgeDir      string           `yaml:"knowledge_dir,omitempty" json:"knowledge_dir,omitempty" jsonschema:"default=.knowledge"`
	ImportsDir        string           `yaml:"imports_dir,omitempty" json:"imports_dir,omitempty" jsonschema:"default=.imports"`
	IncludeExtensions []string         `yaml:"include_extensions,omitempty" json:"include_extensions,omitempty" jsonschema:"description=Only index these extensions; empty indexes every text file"`
	Exclude           []string         `yaml:"exclude,omitempty" json:"exclude,omitempty" jsonschema:"description=Gitignore style exclusion rules"`
	MaxFileBytes      int64            `yaml:"max_file_bytes,omitempty" json:"max_file_bytes,omitempty"`
	MaxParallel       int              `yaml:"max_parallel,omitempty" json:"max_parallel,omitempty"`
	DryRunDelay       time.Duration    `yaml:"dry_run_delay,omitempty" json:"dry_run_delay,omitempty"`
	LLM               LLMConfig        `yaml:"llm,omitempty" json:"llm,omitempty"`
	Retry             *llm.RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`
	Review            ReviewConfig     `yaml:"review,omitempty" json:"review,omitempty"`
}

// Load reads <root>/kb.yml, <root>/.kbignore and the .env file next to them.
// A missing kb.yml yields an empty FileConfig; variables already in the
// environment win over .env entries.
func Load(root string) (*FileConfig, error) {
	envPath := filepath.Join(root, ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).WithField("path", envPath).Warn("Could not load .env file")
	}

	var fc FileConfig
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	ignorePath := filepath.Join(root, IgnoreFileName)
	rules, err := knowledge.ReadExcludeFile(ignorePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ignorePath, err)
	}
	fc.Exclude = append(fc.Exclude, rules...)
	fc.applyEnv()

	log.WithFields(logrus.Fields{
		"path":          path,
		"knowledge_dir": fc.KnowledgeDir,
		"max_parallel":  fc.MaxParallel,
	}).Debug("Loaded configuration")
	return &fc, nil
}

func (fc *FileConfig) applyEnv() {
	if v := os.Getenv(EnvMaxParallel); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.WithField("value", v).Warnf("Ignoring invalid %s", EnvMaxParallel)
		} else {
			fc.MaxParallel = n
		}
	}
	if v := os.Getenv(EnvLLMCommand); v != "" {
		fc.LLM.Command = v
	}
	if v := os.Getenv(EnvLLMModel); v != "" {
		fc.LLM.Model = v
	}
	if v := os.Getenv(EnvMockResponseFile); v != "" {
		fc.LLM.MockResponseFile = v
	}
}

// Layout returns the knowledge layout described by the file.
func (fc *FileConfig) Layout() knowledge.Layout {
	layout := knowledge.DefaultLayout()
	if fc.KnowledgeDir != "" {
		layout.KnowledgeDir = filepath.Clean(fc.KnowledgeDir)
	}
	if fc.ImportsDir != "" {
		layout.ImportsDir = filepath.Clean(fc.ImportsDir)
	}
	layout.Extensions = fc.IncludeExtensions
	layout.Exclude = fc.Exclude
	return layout
}

// Validate reports settings that cannot be used.
func (fc *FileConfig) Validate() error {
	var problems []string
	for name, dir := range map[string]string{"knowledge_dir": fc.KnowledgeDir, "imports_dir": fc.ImportsDir} {
		if dir == "" {
			continue
		}
		if filepath.IsAbs(dir) || strings.HasPrefix(filepath.Clean(dir), "..") {
			problems = append(problems, fmt.Sprintf("%s must be a relative path inside the project: %q", name, dir))
		}
	}
	if fc.MaxParallel < 0 {
		problems = append(problems, "max_parallel must not be negative")
	}
	if fc.MaxFileBytes < 0 {
		problems = append(problems, "max_file_bytes must not be negative")
	}
	if fc.DryRunDelay < 0 {
		problems = append(problems, "dry_run_delay must not be negative")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid %s: %s", FileName, strings.Join(problems, "; "))
	}
	return nil
}

// Options are command line overrides applied on top of the file.
type Options struct {
	MaxParallel int
	// Runner executes the LLM command; nil uses the real runner.
	Runner exec.CommandRunner
}

// Build creates the orchestration configuration for root.
func Build(root string, fc *FileConfig, opts Options) (*orchestration.Config, error) {
	if fc == nil {
		fc = &FileConfig{}
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	cfg := orchestration.DefaultConfig(abs)
	cfg.Layout = fc.Layout()
	cfg.Handlers = knowledge.DefaultHandlers(abs, cfg.Layout)

	if fc.MaxParallel > 0 {
		cfg.MaxParallel = fc.MaxParallel
	}
	if opts.MaxParallel > 0 {
		cfg.MaxParallel = opts.MaxParallel
	}
	if fc.MaxFileBytes > 0 {
		cfg.MaxFileBytes = fc.MaxFileBytes
	}
	if fc.DryRunDelay > 0 {
		cfg.DryRunDelay = fc.DryRunDelay
	}
	if r := fc.Retry; r != nil {
		if r.MaxAttempts > 0 {
			cfg.Retry.MaxAttempts = r.MaxAttempts
		}
		if r.InitialBackoff > 0 {
			cfg.Retry.InitialBackoff = r.InitialBackoff
		}
		if r.MaxBackoff > 0 {
			cfg.Retry.MaxBackoff = r.MaxBackoff
		}
		if r.Multiplier > 0 {
			cfg.Retry.Multiplier = r.Multiplier
		}
	}
	if fc.Review.Enabled != nil {
		cfg.Review.Enabled = *fc.Review.Enabled
	}
	if fc.Review.MaxAttempts > 0 {
		cfg.Review.MaxAttempts = fc.Review.MaxAttempts
	}

	client, err := newClient(abs, fc.LLM, opts.Runner)
	if err != nil {
		return nil, err
	}
	cfg.Client = client
	return cfg, nil
}

func newClient(root string, c LLMConfig, runner exec.CommandRunner) (llm.Client, error) {
	if c.MockResponseFile != "" {
		path := c.MockResponseFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		log.WithField("path", path).Info("Using scripted LLM responses")
		return llm.NewMockClientFromFile(path)
	}
	return llm.NewCommandClient(runner, llm.CommandOptions{
		Command:          c.Command,
		Model:            c.Model,
		Args:             c.Args,
		ConversationFlag: c.ConversationFlag,
		WorkingDir:       root,
	}), nil
}

