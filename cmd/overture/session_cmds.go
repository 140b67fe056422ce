package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/overture/internal/recovery"
	"github.com/kingrea/overture/internal/workflow"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session>",
		Short: "Show the pipeline record for a session",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			rec, err := rt.coord.Status(args[0])
			if err != nil {
				return err
			}
			printRecord(cmd.OutOrStdout(), rec)
			return nil
		}),
	}
}

func newSummaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <session>",
		Short: "Print the resume summary to paste into a new session",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			summary, err := rt.coord.Summary(args[0])
			if err != nil {
				return err
			}
			data, err := summary.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}
}

func newResumeCmd(opts *options) *cobra.Command {
	var file, attachID string
	var summary recovery.Summary
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Check a resume summary against the stored record and attach to it",
		Long: `Check a resume summary against the stored record. The summary comes from
--file (use - for stdin) or from the --session, --workflow and --step flags.
When the record disagrees with the summary the record wins.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			if file != "" {
				parsed, err := readSummary(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				summary = parsed
			}
			report, err := rt.recoverer.ResumeFromSummary(summary)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printReport(out, report, false)
			if report.Status == recovery.StatusMissing {
				return fmt.Errorf("summary is incomplete")
			}
			rec, err := rt.coord.Attach(report.SessionID, attachID)
			if err != nil {
				rt.logger.Warn("could not record resumption", "session", report.SessionID, "error", err)
				return nil
			}
			fmt.Fprintln(out, mutedStyle.Sprintf("attached as %s", rec.Sessions[len(rec.Sessions)-1].SessionID))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the summary from a file (- for stdin)")
	cmd.Flags().StringVar(&summary.SessionID, "session", "", "Pipeline session id")
	cmd.Flags().StringVar(&summary.WorkflowID, "workflow", "", "Workflow id from the summary")
	cmd.Flags().StringVar(&summary.CurrentStep, "step", "", "Current step from the summary")
	cmd.Flags().StringVar(&attachID, "attach-id", "", "Id for the new session entry (defaults to the pipeline id)")
	return cmd
}

func readSummary(stdin io.Reader, file string) (recovery.Summary, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return recovery.Summary{}, fmt.Errorf("read summary: %w", err)
	}
	return recovery.ParseSummary(data)
}

func newRecoverCmd(opts *options) *cobra.Command {
	var showDiff bool
	cmd := &cobra.Command{
		Use:   "recover <session>",
		Short: "Reconcile a session record with the envelopes on disk",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			report, err := rt.recoverer.RecoverFromCrash(args[0])
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report, showDiff)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "Show the record changes as a unified diff")
	return cmd
}

func newLatestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the most recently updated active pipeline",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			report, err := rt.recoverer.ResumeLatestActive()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if report == nil {
				fmt.Fprintln(out, mutedStyle.Sprint("no active pipelines"))
				return nil
			}
			printRecord(out, report.Record)
			return nil
		}),
	}
}

func newRoutesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List step to persona routes",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			out := cmd.OutOrStdout()
			entries := rt.routes.Entries()
			width := 0
			for _, rule := range entries {
				width = max(width, len(rule.Pattern))
			}
			for _, rule := range entries {
				pattern := rule.Pattern
				if strings.ContainsAny(pattern, "*?[{") {
					pattern = warningStyle.Sprint(pattern) + strings.Repeat(" ", width-len(rule.Pattern))
				} else {
					pattern = fmt.Sprintf("%-*s", width, pattern)
				}
				fmt.Fprintf(out, "  %s %s %s\n", pattern, arrow, boldStyle.Sprint(rule.Persona))
			}
			return nil
		}),
	}
}

func newWorkflowsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List named workflow definitions",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			defs, broken, err := workflow.LoadAll(rt.cfg.Workspace)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			defaultID := rt.cfg.Project.Workflow.ID
			fmt.Fprintf(out, "%s %s %s\n", boldStyle.Sprint(defaultID), mutedStyle.Sprint("(config default)"), strings.Join(rt.cfg.DefaultSteps(), " "+arrow+" "))
			for _, def := range defs {
				fmt.Fprintf(out, "%s %s\n", boldStyle.Sprint(def.ID), strings.Join(def.Steps, " "+arrow+" "))
				if def.Description != "" {
					fmt.Fprintln(out, mutedStyle.Sprintf("  %s", def.Description))
				}
			}
			for name, problem := range broken {
				rt.logger.Warn("skipping workflow definition", "file", name, "error", problem)
			}
			return nil
		}),
	}
}
