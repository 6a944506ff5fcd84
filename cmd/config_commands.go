package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattsolo1/grove-kb/pkg/config"
	"github.com/spf13/cobra"
)

const sampleConfig = `# kb configuration. Every setting is optional.
knowledge_dir: .knowledge
imports_dir: .imports
# include_extensions: [.go, .py, .ts]
exclude:
  - node_modules/
  - vendor/
  - "*.lock"
max_file_bytes: 65536
max_parallel: 4
llm:
  command: llm
  # model: gpt-4o-mini
retry:
  max_attempts: 3
  initial_backoff: 500ms
  max_backoff: 8s
review:
  enabled: true
  max_attempts: 3
`

// NewConfigCmd creates the `config` command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration and whether kb can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, err := loadIndexer(0)
			if err != nil {
				return err
			}
			info := ix.Configuration()
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			renderConfig(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented kb.yml to the project root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot()
			if err != nil {
				return err
			}
			path := filepath.Join(root, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("check %s: %w", path, err)
			}
			if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", color.GreenString("✓"), path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing kb.yml")
	return cmd
}
