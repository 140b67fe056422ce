package eventbridge

import (
	"fmt"
	"strings"

	"github.com/kingrea/overture/internal/pipeline"
	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/recovery"
	"github.com/kingrea/overture/internal/workspace"
)

// Processor turns bridge events into coordinator operations.
type Processor struct {
	coord     *pipeline.Coordinator
	recoverer *recovery.Recoverer
}

// NewProcessor wires a processor to a coordinator and recoverer.
func NewProcessor(coord *pipeline.Coordinator, recoverer *recovery.Recoverer) *Processor {
	return &Processor{coord: coord, recoverer: recoverer}
}

type initPayload struct {
	Steps      []string `json:"steps"`
	Goal       string   `json:"goal"`
	Context    string   `json:"context"`
	WorkflowID string   `json:"workflow_id"`
}

type dispatchPayload struct {
	StepIndex   int      `json:"step_index"`
	StepName    string   `json:"step_name"`
	Task        string   `json:"task"`
	Context     string   `json:"context"`
	Constraints []string `json:"constraints"`
}

type outcomePayload struct {
	Decision    string `json:"decision"`
	ReferenceID string `json:"reference_id"`
	Reviewer    string `json:"reviewer"`
	Note        string `json:"note"`
}

type failurePayload struct {
	dispatchPayload
	Action       string `json:"action"`
	ReferenceID  string `json:"reference_id"`
	FailureNotes string `json:"failure_notes"`
}

type resumePayload struct {
	WorkflowID  string `json:"workflow_id"`
	CurrentStep string `json:"current_step"`
}

// RecordView is the compact record shape returned to bridge clients.
type RecordView struct {
	SessionID        string `json:"session_id"`
	WorkflowID       string `json:"workflow_id"`
	Status           string `json:"status"`
	CurrentStep      string `json:"current_step"`
	CurrentStepIndex int    `json:"current_step_index"`
	TotalSteps       int    `json:"total_steps"`
	Revision         int    `json:"revision"`
}

// ViewOf projects a record for JSON responses.
func ViewOf(rec record.Record) RecordView {
	return RecordView{
		SessionID:        rec.SessionID,
		WorkflowID:       rec.WorkflowID,
		Status:           string(rec.Status),
		CurrentStep:      rec.CurrentStep,
		CurrentStepIndex: rec.CurrentStepIndex,
		TotalSteps:       rec.TotalSteps,
		Revision:         rec.Revision,
	}
}

// HandleEvent satisfies EventProcessor.
func (p *Processor) HandleEvent(evt Event) (any, error) {
	if evt.SessionID != "" || evt.Type != TypePipelineInit {
		if err := workspace.CheckSessionID(evt.SessionID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEvent, err)
		}
	}
	switch evt.Type {
	case TypePipelineInit:
		return p.init(evt)
	case TypeStepDispatch:
		var in dispatchPayload
		if err := evt.DecodePayload(&in); err != nil {
			return nil, err
		}
		return p.dispatch(evt.SessionID, in)
	case TypeStepOutcome:
		return p.outcome(evt)
	case TypeStepFailure:
		return p.failure(evt)
	case TypeSessionResume:
		var in resumePayload
		if err := evt.DecodePayload(&in); err != nil {
			return nil, err
		}
		report, err := p.recoverer.ResumeFromSummary(recovery.Summary{SessionID: evt.SessionID, WorkflowID: in.WorkflowID, CurrentStep: in.CurrentStep})
		if err != nil {
			return nil, err
		}
		return reportView(report), nil
	case TypeSessionRecover:
		report, err := p.recoverer.RecoverFromCrash(evt.SessionID)
		if err != nil {
			return nil, err
		}
		return reportView(report), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrBadEvent, evt.Type)
	}
}

func (p *Processor) init(evt Event) (any, error) {
	var in initPayload
	if err := evt.DecodePayload(&in); err != nil {
		return nil, err
	}
	if len(in.Steps) == 0 {
		return nil, fmt.Errorf("%w: steps are required", ErrBadEvent)
	}
	session, err := p.coord.InitPipeline(pipeline.InitParams{
		Steps:      in.Steps,
		Goal:       in.Goal,
		Context:    in.Context,
		SessionID:  evt.SessionID,
		WorkflowID: in.WorkflowID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": session.ID,
		"index_path": session.IndexPath,
		"record":     ViewOf(session.Record),
	}, nil
}

func (p *Processor) dispatch(sessionID string, in dispatchPayload) (map[string]any, error) {
	if strings.TrimSpace(in.StepName) == "" || in.StepIndex < 1 {
		return nil, fmt.Errorf("%w: step_index and step_name are required", ErrBadEvent)
	}
	res, err := p.coord.DispatchStep(pipeline.DispatchRequest{
		SessionID:   sessionID,
		StepIndex:   in.StepIndex,
		StepName:    in.StepName,
		Task:        in.Task,
		Context:     in.Context,
		Constraints: in.Constraints,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"reference_id": res.ReferenceID,
		"persona":      res.Persona,
		"path":         res.Path,
		"message":      res.Message,
		"tracked":      res.Tracked,
	}, nil
}

func (p *Processor) outcome(evt Event) (any, error) {
	var in outcomePayload
	if err := evt.DecodePayload(&in); err != nil {
		return nil, err
	}
	decision := pipeline.Decision(strings.ToLower(strings.TrimSpace(in.Decision)))
	if decision != pipeline.DecisionApprove && decision != pipeline.DecisionReject {
		return nil, fmt.Errorf("%w: decision must be approve or reject", ErrBadEvent)
	}
	res, err := p.coord.ProcessOutcome(pipeline.OutcomeRequest{
		SessionID:   evt.SessionID,
		ReferenceID: in.ReferenceID,
		Decision:    decision,
		Reviewer:    in.Reviewer,
		Note:        in.Note,
	})
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"outcome":   string(res.Outcome),
		"duplicate": res.Duplicate,
		"record":    ViewOf(res.Record),
	}
	if res.RevisionRef != "" {
		out["revision_ref"] = res.RevisionRef
	}
	if res.Validation != nil && !res.Validation.Valid() {
		out["validation_errors"] = res.Validation.Errors
	}
	return out, nil
}

func (p *Processor) failure(evt Event) (any, error) {
	var in failurePayload
	if err := evt.DecodePayload(&in); err != nil {
		return nil, err
	}
	failureType := pipeline.FailureNone
	if in.ReferenceID != "" || in.Action == "" {
		failureType = p.coord.DetectFailureType(evt.SessionID, in.ReferenceID)
	}
	var action pipeline.Action
	if in.Action != "" {
		parsed, err := pipeline.ParseAction(in.Action)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEvent, err)
		}
		action = parsed
	} else {
		suggested, ok := pipeline.DefaultAction(failureType)
		if !ok {
			return map[string]any{"failure_type": string(failureType)}, nil
		}
		action = suggested
	}
	res, err := p.coord.HandleFailure(pipeline.FailureRequest{
		SessionID:    evt.SessionID,
		StepIndex:    in.StepIndex,
		StepName:     in.StepName,
		Action:       action,
		Task:         in.Task,
		Context:      in.Context,
		FailureNotes: in.FailureNotes,
		Constraints:  in.Constraints,
	})
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"failure_type": string(failureType),
		"action":       string(res.Action),
		"record":       ViewOf(res.Record),
	}
	if res.Dispatch != nil {
		out["reference_id"] = res.Dispatch.ReferenceID
		out["message"] = res.Dispatch.Message
	}
	return out, nil
}

func reportView(report recovery.Report) map[string]any {
	out := map[string]any{
		"status":     string(report.Status),
		"session_id": report.SessionID,
	}
	if len(report.Missing) > 0 {
		out["missing"] = report.Missing
	}
	if len(report.Issues) > 0 {
		out["issues"] = report.Issues
	}
	if report.Record.SessionID != "" {
		out["record"] = ViewOf(report.Record)
	}
	return out
}
