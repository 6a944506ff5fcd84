package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/mattsolo1/grove-kb/pkg/orchestration"
	"github.com/mattsolo1/grove-kb/pkg/state"
	"github.com/muesli/termenv"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Width(24)
)

// configureColor turns colour off for --no-color, NO_COLOR and non terminals.
func configureColor(disabled bool) {
	if disabled || os.Getenv("NO_COLOR") != "" || !isTTY(os.Stdout) {
		color.NoColor = true
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func statusColor(s knowledge.Status) *color.Color {
	switch s {
	case knowledge.StatusFresh, knowledge.StatusUpdatedSuccess:
		return color.New(color.FgGreen)
	case knowledge.StatusStale:
		return color.New(color.FgYellow)
	case knowledge.StatusMissing:
		return color.New(color.FgCyan)
	case knowledge.StatusOrphaned, knowledge.StatusUpdatedFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}

func renderSummary(w io.Writer, s *orchestration.RunSummary) {
	title := "Index run"
	if s.DryRun {
		title = "Dry run (nothing was written)"
	}

	row := func(label string, value any) string {
		return labelStyle.Render(label) + fmt.Sprint(value)
	}
	rows := []string{
		titleStyle.Render(title),
		"",
		row("Files analyzed", s.FilesAnalyzed),
		row("Documents synthesized", s.DocumentsSynthesized),
		row("Artifacts created", s.ArtifactsCreated),
		row("Orphans cleaned", s.OrphansCleaned),
		row("Tasks", fmt.Sprintf("%d in %d groups", s.TasksPlanned, s.Groups)),
		row("Success rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100)),
		row("Duration", s.Duration().Round(time.Millisecond)),
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(rows, "\n")))

	if len(s.Errors) > 0 {
		fmt.Fprintf(w, "\n%s\n", color.RedString("%d task(s) failed:", len(s.Errors)))
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s %s\n", color.RedString("✗"), e)
		}
	} else if s.TasksPlanned == 0 {
		fmt.Fprintf(w, "%s Knowledge base is up to date.\n", color.GreenString("✓"))
	}
}

func renderStatus(w io.Writer, report *orchestration.StatusReport, last *state.LastRun) {
	fmt.Fprintf(w, "%s %s\n\n", titleStyle.Render("Knowledge base"), report.Root)

	for _, s := range knowledge.AllStatuses {
		n := report.Counts[s]
		if n == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s %d\n", statusColor(s).Sprintf("%-16s", s), n)
	}

	if len(report.Pending) == 0 {
		fmt.Fprintf(w, "\n%s Nothing to do.\n", color.GreenString("✓"))
	} else {
		fmt.Fprintf(w, "\n%s\n", color.CyanString("Pending work (%d tasks):", len(report.Pending)))
		for _, d := range report.Pending {
			rel, err := filepath.Rel(report.Root, d.ArtifactPath)
			if err != nil {
				rel = d.ArtifactPath
			}
			fmt.Fprintf(w, "  %-16s %-9s %s\n", d.Kind, d.Reason, rel)
		}
	}

	if last != nil {
		fmt.Fprintf(w, "\nLast run %s at %s: %d analyzed, %d synthesized, %d cleaned, %d errors\n",
			last.RunID, last.EndedAt.Local().Format(time.DateTime),
			last.FilesAnalyzed, last.DocumentsSynthesized, last.OrphansCleaned, last.Errors)
	}
}

func renderConfig(w io.Writer, info orchestration.ConfigurationInfo) {
	rows := []string{
		titleStyle.Render("kb configuration"),
		"",
		labelStyle.Render("Root") + info.Root,
		labelStyle.Render("Knowledge directory") + info.KnowledgeDir,
		labelStyle.Render("Handlers") + strings.Join(info.Handlers, ", "),
		labelStyle.Render("Task kinds") + joinKinds(info.TaskKinds),
		labelStyle.Render("Max parallel") + fmt.Sprint(info.MaxParallel),
		labelStyle.Render("LLM configured") + fmt.Sprint(info.LLMConfigured),
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(rows, "\n")))

	if info.Valid {
		fmt.Fprintf(w, "%s Configuration is valid.\n", color.GreenString("✓"))
		return
	}
	for _, p := range info.Problems {
		fmt.Fprintf(w, "%s %s\n", color.RedString("✗"), p)
	}
}

func joinKinds(kinds []orchestration.TaskKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
