package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/history"
	"github.com/sanvibhowmick/forge/internal/pipeline"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			Width(12)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	treeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusPass:
		return passStyle
	case domain.StatusFail:
		return failStyle
	default:
		return errorStyle
	}
}

func outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case pipeline.OutcomeHardened, pipeline.OutcomePassed:
		return passStyle
	case pipeline.OutcomeExhausted, history.StatusRunning:
		return failStyle
	default:
		return errorStyle
	}
}

// renderEvent formats one progress line. Started events are skipped except
// for BUILD, which is the slow stage worth announcing.
func renderEvent(ev pipeline.Event) string {
	stage := stageStyle.Render(string(ev.Stage))
	switch ev.Phase {
	case pipeline.PhaseStarted:
		if ev.Stage != pipeline.StageBuild {
			return ""
		}
		return fmt.Sprintf("%s %s", stage, dimStyle.Render(fmt.Sprintf("building (iteration %d)...", ev.Iteration+1)))
	case pipeline.PhaseFailed:
		return fmt.Sprintf("%s %s %s", stage, errorStyle.Render("✗"), ev.Error)
	}

	mark := passStyle.Render("✓")
	if ev.Status != "" {
		mark = statusStyle(ev.Status).Render(string(ev.Status))
	}
	line := fmt.Sprintf("%s %s %s", stage, mark, ev.Summary)
	if ev.Duration > 0 {
		line += " " + dimStyle.Render(ev.Duration.Round(time.Millisecond).String())
	}
	return line
}

// renderTree frames the artifact listing under a header naming root.
func renderTree(root, tree string) string {
	if strings.TrimSpace(tree) == "" {
		tree = "(empty)"
	}
	return headerStyle.Render("Repository structure: "+root) + "\n" + treeStyle.Render(strings.TrimRight(tree, "\n"))
}

func renderOutcome(state *pipeline.State, err error) string {
	outcome := pipeline.Outcome(state, err)
	line := fmt.Sprintf("%s  run %s, %d build(s), %d review(s)",
		outcomeStyle(outcome).Render(strings.ToUpper(outcome)),
		state.RunID, state.Iteration, state.Reviews)
	if latest, ok := state.Latest(); ok && !latest.Passed() {
		line += "\n" + dimStyle.Render(truncate(latest.Diagnostic, 2000))
	}
	return line
}

func renderRuns(runs []*history.Run) string {
	if len(runs) == 0 {
		return dimStyle.Render("No runs recorded.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", headerStyle.Render(fmt.Sprintf("%-36s  %-9s  %-11s  %4s  %-16s  %s", "RUN", "STATUS", "STAGE", "ITER", "STARTED", "REQUIREMENT")))
	for _, r := range runs {
		fmt.Fprintf(&b, "%-36s  %s  %-11s  %4d  %-16s  %s\n",
			r.ID,
			outcomeStyle(r.Status).Render(fmt.Sprintf("%-9s", r.Status)),
			r.Stage,
			r.Iteration,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			truncate(r.Requirement, 60))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRun(r *history.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", headerStyle.Render("Run "+r.ID))
	fmt.Fprintf(&b, "Requirement: %s\n", r.Requirement)
	fmt.Fprintf(&b, "Status:      %s\n", outcomeStyle(r.Status).Render(r.Status))
	if r.Project != "" {
		fmt.Fprintf(&b, "Project:     %s\n", r.Project)
	}
	fmt.Fprintf(&b, "Builds:      %d\n", r.Iteration)
	fmt.Fprintf(&b, "Reviews:     %d\n", r.Reviews)
	fmt.Fprintf(&b, "Started:     %s\n", r.StartedAt.Local().Format(time.RFC3339))
	if r.FinishedAt != nil {
		fmt.Fprintf(&b, "Finished:    %s\n", r.FinishedAt.Local().Format(time.RFC3339))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:       %s\n", errorStyle.Render(r.Error))
	}

	if len(r.Events) > 0 {
		b.WriteString("\n")
		for _, ev := range r.Events {
			if line := renderEvent(ev); line != "" {
				b.WriteString(line + "\n")
			}
		}
	}
	if len(r.Records) > 0 {
		b.WriteString("\n")
		for _, rec := range r.Records {
			fmt.Fprintf(&b, "#%d %s\n", rec.Index, statusStyle(rec.Status).Render(string(rec.Status)))
			if !rec.Passed() && rec.Diagnostic != "" {
				b.WriteString(dimStyle.Render(truncate(rec.Diagnostic, 1000)) + "\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
