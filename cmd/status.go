package cmd

import (
	"fmt"

	"github.com/mattsolo1/grove-kb/pkg/orchestration"
	"github.com/mattsolo1/grove-kb/pkg/state"
	"github.com/spf13/cobra"
)

// statusOutput is the --json shape of `kb status`.
type statusOutput struct {
	*orchestration.StatusReport
	LastRun *state.LastRun `json:"last_run,omitempty"`
}

func NewStatusCmd() *cobra.Command {
	var graphFormat string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show artifact freshness and pending work",
		Long: `Run discovery and decision without executing anything and report the
artifact counts by status, the tasks an index run would perform and the
last recorded run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, err := loadIndexer(0)
			if err != nil {
				return err
			}

			report, err := ix.Status(cmd.Context(), nil)
			if err != nil {
				return err
			}

			switch graphFormat {
			case "":
			case "mermaid":
				fmt.Fprint(cmd.OutOrStdout(), report.Graph().ToMermaid())
				return nil
			default:
				return fmt.Errorf("invalid graph format %q: use mermaid", graphFormat)
			}

			var last *state.LastRun
			if st, err := state.Load(ix.Config().KnowledgeRoot()); err != nil {
				indexLog.WithError(err).Warn("Could not read last run")
			} else {
				last = st.LastRun
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), statusOutput{StatusReport: report, LastRun: last})
			}
			renderStatus(cmd.OutOrStdout(), report, last)
			return nil
		},
	}

	cmd.Flags().StringVar(&graphFormat, "graph", "", "Print the pending task graph instead (mermaid)")
	return cmd
}
