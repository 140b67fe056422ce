package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/recovery"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	warningStyle = color.New(color.FgYellow, color.Bold)
	errorStyle   = color.New(color.FgRed, color.Bold)
	mutedStyle   = color.New(color.FgHiBlack)
	boldStyle    = color.New(color.Bold)
)

const (
	bullet    = "•"
	arrow     = "→"
	checkmark = "✓"
	xmark     = "✗"
)

func statusColor(status record.Status) *color.Color {
	switch status {
	case record.StatusComplete:
		return successStyle
	case record.StatusBlocked:
		return warningStyle
	case record.StatusFailed:
		return errorStyle
	case record.StatusInProgress:
		return headerStyle
	default:
		return boldStyle
	}
}

func stepMarker(status record.StepStatus) string {
	switch status {
	case record.StepCompleted:
		return successStyle.Sprint(checkmark)
	case record.StepInProgress:
		return headerStyle.Sprint(arrow)
	case record.StepBlocked:
		return warningStyle.Sprint("!")
	case record.StepFailed:
		return errorStyle.Sprint(xmark)
	default:
		return mutedStyle.Sprint(bullet)
	}
}

func printRecordHeader(w io.Writer, rec record.Record) {
	fmt.Fprintln(w, headerStyle.Sprintf("Pipeline %s", rec.SessionID))
	fmt.Fprintf(w, "  Workflow: %s\n", rec.WorkflowID)
	fmt.Fprintf(w, "  Status:   %s\n", statusColor(rec.Status).Sprint(rec.Status))
	fmt.Fprintf(w, "  Step:     %d/%d %s\n", rec.CurrentStepIndex, rec.TotalSteps, rec.CurrentStep)
	fmt.Fprintf(w, "  Revision: %d (updated %s)\n", rec.Revision, rec.UpdatedAt.Local().Format("Jan 2 15:04:05"))
}

func printRecord(w io.Writer, rec record.Record) {
	printRecordHeader(w, rec)
	if rec.Goal != "" {
		fmt.Fprintf(w, "  Goal:     %s\n", rec.Goal)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, boldStyle.Sprint("Steps"))
	for i, step := range rec.Steps {
		line := fmt.Sprintf("  %s %d. %-20s %-10s %s", stepMarker(step.Status), i+1, step.Label, step.Persona, step.Status)
		if step.Notes != "" {
			line += mutedStyle.Sprintf("  %s", step.Notes)
		}
		fmt.Fprintln(w, line)
	}
	if len(rec.Decisions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, boldStyle.Sprint("Decisions"))
		for _, d := range rec.Decisions {
			line := fmt.Sprintf("  %s %-9s %s", d.Timestamp.Local().Format("15:04:05"), d.Decision, d.ReferenceID)
			if d.Note != "" {
				line += mutedStyle.Sprintf("  %s", d.Note)
			}
			fmt.Fprintln(w, line)
		}
	}
}

func printReport(w io.Writer, report recovery.Report, showDiff bool) {
	style := successStyle
	switch report.Status {
	case recovery.StatusInconsistent, recovery.StatusRecovered:
		style = warningStyle
	case recovery.StatusMissing:
		style = errorStyle
	}
	fmt.Fprintf(w, "%s %s\n", style.Sprint(strings.ToUpper(string(report.Status))), report.SessionID)
	if len(report.Missing) > 0 {
		fmt.Fprintf(w, "  missing: %s\n", strings.Join(report.Missing, ", "))
	}
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "  %s %s\n", bullet, issue)
	}
	if report.Record.SessionID != "" {
		fmt.Fprintln(w)
		printRecordHeader(w, report.Record)
	}
	if showDiff && report.Diff != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, report.Diff)
	}
}
