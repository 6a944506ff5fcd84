package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/mattsolo1/grove-kb/pkg/config"
	"github.com/mattsolo1/grove-kb/pkg/exec"
	"github.com/mattsolo1/grove-kb/pkg/orchestration"
)

// commandRunner is swapped in tests to keep the LLM command off the host.
var commandRunner exec.CommandRunner

// resolveRoot turns the --root flag into an absolute path.
func resolveRoot() (string, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", rootDir, err)
	}
	return abs, nil
}

// loadIndexer reads kb.yml from the project root and builds an indexer.
func loadIndexer(parallel int) (*orchestration.Indexer, *config.FileConfig, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, nil, err
	}

	fc, err := config.Load(root)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Build(root, fc, config.Options{MaxParallel: parallel, Runner: commandRunner})
	if err != nil {
		return nil, nil, err
	}

	ix, err := orchestration.NewIndexer(cfg)
	if err != nil {
		return nil, nil, err
	}
	return ix, fc, nil
}

// isTTY reports whether f is an interactive terminal.
func isTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
