package cmd

import (
	"github.com/mattsolo1/grove-kb/pkg/logging"
	"github.com/spf13/cobra"
)

// Persistent flags shared by every subcommand.
var (
	rootDir    string
	verbose    bool
	noColor    bool
	jsonOutput bool
)

// NewRootCmd builds the kb command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kb",
		Short: "Keep a project's knowledge base in sync with its source tree",
		Long: `kb maintains a directory of LLM generated markdown next to a project:
one analysis per source file and one knowledge document per directory.
Each run only regenerates what is stale or missing and removes documents
whose source is gone.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetVerbose(verbose)
			configureColor(noColor)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", ".", "Project root directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output machine readable JSON")

	rootCmd.AddCommand(NewIndexCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewWatchCmd())
	rootCmd.AddCommand(NewVersionCmd())
	return rootCmd
}
