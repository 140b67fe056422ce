package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/overture/internal/config"
	"github.com/kingrea/overture/internal/pipeline"
	"github.com/kingrea/overture/internal/workflow"
)

func newInitCmd(opts *options) *cobra.Command {
	var params pipeline.InitParams
	var save bool
	cmd := &cobra.Command{
		Use:   "init [step...]",
		Short: "Create a pipeline record",
		Long: `Create a new pipeline session. Without steps, the steps come from
.overture/workflows/<workflow>.yaml when --workflow names one, otherwise from
the default workflow in .overture/config.yaml.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := opts.projectDir()
			if err != nil {
				return err
			}
			if err := config.InitDir(dir); err != nil {
				return fmt.Errorf("initialise .overture: %w", err)
			}
			return withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
				params.Steps = args
				if len(params.Steps) == 0 && params.WorkflowID != "" {
					def, err := workflow.Load(rt.cfg.Workspace, params.WorkflowID)
					switch {
					case err == nil:
						params.Steps = def.Steps
					case !errors.Is(err, workflow.ErrNotFound):
						return err
					}
				}
				if len(params.Steps) == 0 {
					params.Steps = rt.cfg.DefaultSteps()
				}
				session, err := rt.coord.InitPipeline(params)
				if err != nil {
					return err
				}
				if save {
					id := params.WorkflowID
					if id == "" {
						id = session.Record.WorkflowID
					}
					if err := rt.cfg.SetWorkflow(id, params.Steps); err != nil {
						rt.logger.Warn("could not save workflow", "error", err)
					}
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, successStyle.Sprintf("%s Pipeline %s created", checkmark, session.ID))
				printRecord(out, session.Record)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&params.Goal, "goal", "", "What the pipeline should achieve")
	cmd.Flags().StringVar(&params.Context, "context", "", "Background shared with every step")
	cmd.Flags().StringVar(&params.SessionID, "session", "", "Use this session id instead of generating one")
	cmd.Flags().StringVar(&params.WorkflowID, "workflow", "", "Workflow id (defaults to config)")
	cmd.Flags().BoolVar(&save, "save", false, "Store the steps as the default workflow in config")
	return cmd
}

func newDispatchCmd(opts *options) *cobra.Command {
	var req pipeline.DispatchRequest
	var messageOnly bool
	cmd := &cobra.Command{
		Use:   "dispatch <session> <step-index> <step-name>",
		Short: "Delegate a step to its persona",
		Args:  cobra.ExactArgs(3),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			req.SessionID, req.StepIndex, req.StepName = args[0], index, args[2]
			res, err := rt.coord.DispatchStep(req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if messageOnly {
				fmt.Fprint(out, res.Message)
				return nil
			}
			fmt.Fprintf(out, "%s step %d %s %s %s (%s)\n", successStyle.Sprint(arrow), res.StepIndex, res.StepName, mutedStyle.Sprint("delegated to"), boldStyle.Sprint(res.Persona), res.ReferenceID)
			if !res.Tracked {
				fmt.Fprintln(out, warningStyle.Sprint("  record not updated; run `overture recover` for this session"))
			}
			fmt.Fprintln(out)
			fmt.Fprint(out, res.Message)
			return nil
		}),
	}
	cmd.Flags().StringVar(&req.Task, "task", "", "Task for the persona")
	cmd.Flags().StringVar(&req.Context, "context", "", "Context for the persona")
	cmd.Flags().StringArrayVar(&req.Constraints, "constraint", nil, "Constraint for the persona (repeatable)")
	cmd.Flags().BoolVar(&messageOnly, "message-only", false, "Print only the delegation document")
	return cmd
}

func newOutcomeCmd(opts *options, decision pipeline.Decision) *cobra.Command {
	var req pipeline.OutcomeRequest
	short := "Approve a returned step and advance the pipeline"
	if decision == pipeline.DecisionReject {
		short = "Reject a returned step and send it back for revision"
	}
	cmd := &cobra.Command{
		Use:   string(decision) + " <session> <reference>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			req.SessionID, req.ReferenceID, req.Decision = args[0], args[1], decision
			res, err := rt.coord.ProcessOutcome(req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case res.Duplicate:
				fmt.Fprintln(out, mutedStyle.Sprintf("%s already approved; nothing changed", req.ReferenceID))
			case res.Outcome == pipeline.OutcomeRevisionSent:
				fmt.Fprintln(out, warningStyle.Sprintf("revision requested as %s", res.RevisionRef))
			case res.Outcome == pipeline.OutcomeHeld:
				fmt.Fprintln(out, warningStyle.Sprint("pipeline held; see the session journal"))
			default:
				fmt.Fprintln(out, successStyle.Sprintf("%s %s approved", checkmark, req.ReferenceID))
			}
			if res.Validation != nil {
				for _, problem := range res.Validation.Errors {
					fmt.Fprintf(out, "  %s %s\n", errorStyle.Sprint(xmark), problem)
				}
				for _, warning := range res.Validation.Warnings {
					fmt.Fprintf(out, "  %s %s\n", warningStyle.Sprint("!"), warning)
				}
			}
			fmt.Fprintln(out)
			printRecordHeader(out, res.Record)
			return nil
		}),
	}
	cmd.Flags().StringVar(&req.Reviewer, "reviewer", "", "Who made the decision")
	cmd.Flags().StringVar(&req.Note, "note", "", "Decision note (sent to the worker on rejection)")
	return cmd
}

func newFailCmd(opts *options) *cobra.Command {
	var req pipeline.FailureRequest
	var action, reference string
	cmd := &cobra.Command{
		Use:   "fail <session> <step-index> <step-name>",
		Short: "Escalate a failed step (retry, skip or abort)",
		Long:  "Escalate a failed step. Without --action the failure is classified from --ref and the default action for that failure is applied.",
		Args:  cobra.ExactArgs(3),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			req.SessionID, req.StepIndex, req.StepName = args[0], index, args[2]
			out := cmd.OutOrStdout()
			if action != "" {
				req.Action, err = pipeline.ParseAction(action)
				if err != nil {
					return err
				}
			} else {
				failure := rt.coord.DetectFailureType(req.SessionID, reference)
				suggested, ok := pipeline.DefaultAction(failure)
				if !ok {
					fmt.Fprintln(out, successStyle.Sprintf("%s no failure detected for %s", checkmark, reference))
					return nil
				}
				fmt.Fprintf(out, "detected %s %s %s\n", warningStyle.Sprint(failure), arrow, suggested)
				req.Action = suggested
			}
			res, err := rt.coord.HandleFailure(req)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, boldStyle.Sprintf("%s applied", res.Action))
			if res.Dispatch != nil {
				fmt.Fprintf(out, "  re-dispatched as %s to %s\n", res.Dispatch.ReferenceID, res.Dispatch.Persona)
			}
			fmt.Fprintln(out)
			printRecordHeader(out, res.Record)
			return nil
		}),
	}
	cmd.Flags().StringVar(&action, "action", "", "retry, skip or abort")
	cmd.Flags().StringVar(&reference, "ref", "", "Envelope the failure was observed on")
	cmd.Flags().StringVar(&req.FailureNotes, "notes", "", "What went wrong")
	cmd.Flags().StringVar(&req.Task, "task", "", "Task for a retry")
	cmd.Flags().StringVar(&req.Context, "context", "", "Context for a retry")
	cmd.Flags().StringArrayVar(&req.Constraints, "constraint", nil, "Constraint for a retry (repeatable)")
	return cmd
}

func parseIndex(value string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || index < 1 {
		return 0, fmt.Errorf("step index must be a positive integer, got %q", value)
	}
	return index, nil
}
