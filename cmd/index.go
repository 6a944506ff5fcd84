package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/mattsolo1/grove-kb/pkg/logging"
	"github.com/mattsolo1/grove-kb/pkg/orchestration"
	"github.com/mattsolo1/grove-kb/pkg/state"
	"github.com/spf13/cobra"
)

var indexLog = logging.NewLogger("grove-kb.cmd.index")

type indexOptions struct {
	dryRun   bool
	tui      bool
	parallel int
}

func NewIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Bring the knowledge base up to date",
		Long: `Scan the project, regenerate stale or missing analyses and directory
documents and remove documents whose source no longer exists.

Examples:
  # See what would change without calling the LLM or writing files
  kb index --dry-run

  # Index another project with eight tasks in flight
  kb index --root ../service --parallel 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "Report the work without calling the LLM or touching files")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Show a live progress view")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 0, "Max tasks running at once (overrides kb.yml)")
	return cmd
}

func runIndex(cmd *cobra.Command, opts indexOptions) error {
	ix, _, err := loadIndexer(opts.parallel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var summary *orchestration.RunSummary
	if opts.tui && !jsonOutput && isTTY(os.Stdout) {
		summary, err = indexWithTUI(ctx, ix, opts.dryRun)
	} else {
		summary, err = ix.Index(ctx, progressPrinter(cmd.ErrOrStderr()), opts.dryRun)
	}
	if err != nil {
		return err
	}

	if !summary.DryRun {
		if err := state.RecordRun(ix.Config().KnowledgeRoot(), runRecord(summary)); err != nil {
			indexLog.WithError(err).Warn("Could not record last run")
		}
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else {
		renderSummary(cmd.OutOrStdout(), summary)
	}

	if n := len(summary.Errors); n > 0 {
		return fmt.Errorf("%d of %d tasks failed", n, len(summary.Results))
	}
	return nil
}

// progressPrinter writes progress lines dimmed to w.
func progressPrinter(w io.Writer) func(string) {
	faint := color.New(color.Faint)
	return func(line string) {
		faint.Fprintln(w, line)
	}
}

func indexWithTUI(ctx context.Context, ix *orchestration.Indexer, dryRun bool) (*orchestration.RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The TUI owns the terminal while it runs.
	logging.SetOutput(io.Discard)
	defer logging.SetOutput(os.Stderr)

	p := tea.NewProgram(newIndexModel())
	done := make(chan indexDoneMsg, 1)
	go func() {
		summary, err := ix.Index(ctx, func(line string) { p.Send(progressMsg(line)) }, dryRun)
		msg := indexDoneMsg{summary: summary, err: err}
		done <- msg
		p.Send(msg)
	}()

	final, err := p.Run()
	if err != nil {
		indexLog.WithError(err).Warn("Progress view stopped")
	}
	if m, ok := final.(indexModel); !ok || !m.done {
		cancel()
	}
	result := <-done
	return result.summary, result.err
}

func runRecord(s *orchestration.RunSummary) state.LastRun {
	return state.LastRun{
		RunID:                s.RunID,
		StartedAt:            s.StartedAt,
		EndedAt:              s.EndedAt,
		Duration:             s.Duration(),
		DryRun:               s.DryRun,
		FilesAnalyzed:        s.FilesAnalyzed,
		DocumentsSynthesized: s.DocumentsSynthesized,
		ArtifactsCreated:     s.ArtifactsCreated,
		OrphansCleaned:       s.OrphansCleaned,
		Errors:               len(s.Errors),
		SuccessRate:          s.SuccessRate,
	}
}
