package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ochairo/kiln/internal/domain/entities"
)

var (
	reportTitleStyle = lipgloss.NewStyle().Bold(true)
	stepNameStyle    = lipgloss.NewStyle().Width(22)
	durationStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).PaddingLeft(4)

	statusStyles = map[entities.StepStatus]lipgloss.Style{
		entities.StepSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		entities.StepFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		entities.StepTolerated: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		entities.StepSkipped:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}

	statusWidth = lipgloss.NewStyle().Width(10)
)

// renderReport formats a run report for the terminal
func renderReport(r *entities.RunReport) string {
	var b strings.Builder

	title := fmt.Sprintf("kiln %s", r.Tag)
	if r.Succeeded() {
		title += " succeeded"
	} else {
		title += fmt.Sprintf(" failed at %s", r.FailedStep)
	}
	b.WriteString(reportTitleStyle.Render(title))
	b.WriteString("\n")

	for _, step := range r.Steps {
		style, ok := statusStyles[step.Status]
		if !ok {
			style = lipgloss.NewStyle()
		}
		line := stepNameStyle.Render(step.Name) +
			statusWidth.Render(style.Render(string(step.Status)))
		if step.Duration > 0 {
			line += durationStyle.Render(step.Duration.Round(time.Millisecond).String())
		}
		b.WriteString(line)
		b.WriteString("\n")
		if step.Error != "" && step.Status != entities.StepSucceeded {
			b.WriteString(errorTextStyle.Render(firstLine(step.Error)))
			b.WriteString("\n")
		}
	}

	if r.Duration > 0 {
		b.WriteString(durationStyle.Render("total " + r.Duration.Round(time.Second).String()))
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// writeReportJSON saves the report for later CI steps
func writeReportJSON(path string, r *entities.RunReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
