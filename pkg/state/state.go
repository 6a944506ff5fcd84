// Package state persists the record of the last index run next to the
// knowledge base.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the state file inside the knowledge directory. The leading dot
// keeps it out of artifact classification.
const FileName = ".kb-state.yml"

// LastRun summarizes one completed, non dry run.
type LastRun struct {
	RunID                string        `yaml:"run_id"`
	StartedAt            time.Time     `yaml:"started_at"`
	EndedAt              time.Time     `yaml:"ended_at"`
	Duration             time.Duration `yaml:"duration"`
	DryRun               bool          `yaml:"dry_run"`
	FilesAnalyzed        int           `yaml:"files_analyzed"`
	DocumentsSynthesized int           `yaml:"documents_synthesized"`
	ArtifactsCreated     int           `yaml:"artifacts_created"`
	OrphansCleaned       int           `yaml:"orphans_cleaned"`
	Errors               int           `yaml:"errors"`
	SuccessRate          float64       `yaml:"success_rate"`
}

// State represents the local kb state.
type State struct {
	LastRun *LastRun `yaml:"last_run,omitempty"`
}

// Path returns the state file for a knowledge directory.
func Path(knowledgeDir string) string {
	return filepath.Join(knowledgeDir, FileName)
}

// Load loads the state from the knowledge directory. A missing file yields an
// empty state.
func Load(knowledgeDir string) (*State, error) {
	path := Path(knowledgeDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return &st, nil
}

// Save writes st into the knowledge directory, creating it if needed.
func Save(knowledgeDir string, st *State) error {
	if err := os.MkdirAll(knowledgeDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := Path(knowledgeDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// RecordRun replaces the last run record.
func RecordRun(knowledgeDir string, run LastRun) error {
	st, err := Load(knowledgeDir)
	if err != nil {
		// An unreadable state file is overwritten rather than blocking the run.
		st = &State{}
	}
	st.LastRun = &run
	return Save(knowledgeDir, st)
}
