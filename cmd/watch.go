package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattsolo1/grove-kb/pkg/state"
	"github.com/mattsolo1/grove-kb/pkg/watch"
	"github.com/spf13/cobra"
)

func NewWatchCmd() *cobra.Command {
	var (
		debounce time.Duration
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-index whenever the source tree changes",
		Long: `Run an index pass, then watch the project's source directories and run
another pass once changes have settled for the debounce interval.
Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, err := loadIndexer(parallel)
			if err != nil {
				return err
			}
			cfg := ix.Config()
			out := cmd.OutOrStdout()
			progress := progressPrinter(cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			index := func(ctx context.Context) {
				summary, err := ix.Index(ctx, progress, false)
				if err != nil {
					fmt.Fprintf(out, "%s %v\n", color.RedString("✗"), err)
					return
				}
				if err := state.RecordRun(cfg.KnowledgeRoot(), runRecord(summary)); err != nil {
					indexLog.WithError(err).Warn("Could not record last run")
				}
				renderSummary(out, summary)
			}

			index(ctx)
			w := watch.New(cfg.Root, cfg.KnowledgeRoot(), cfg.Handlers, debounce, func(ctx context.Context, paths []string) {
				fmt.Fprintf(out, "\n%s %d change(s) detected, re-indexing\n", color.CyanString("↻"), len(paths))
				index(ctx)
			})
			fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", cfg.Root)
			return w.Run(ctx)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a re-index")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Max tasks running at once (overrides kb.yml)")
	return cmd
}
