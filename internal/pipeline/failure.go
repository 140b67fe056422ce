package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/overture/internal/envelope"
	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/workspace"
)

// FailureType classifies why a persona did not complete a step.
type FailureType string

const (
	FailureNone            FailureType = "none"
	FailureMissingEnvelope FailureType = "missing-envelope"
	FailureBlocked         FailureType = "blocked"
	FailurePartialReturn   FailureType = "partial-return"
)

// Action is an escalation policy.
type Action string

const (
	ActionRetry Action = "retry"
	ActionSkip  Action = "skip"
	ActionAbort Action = "abort"
)

// ParseAction converts user input to an Action.
func ParseAction(value string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionRetry:
		return ActionRetry, nil
	case ActionSkip:
		return ActionSkip, nil
	case ActionAbort:
		return ActionAbort, nil
	default:
		return "", fmt.Errorf("pipeline: unknown action %q (want retry, skip or abort)", value)
	}
}

// DefaultAction suggests an escalation for a failure type. FailureNone has
// no default.
func DefaultAction(ft FailureType) (Action, bool) {
	switch ft {
	case FailureMissingEnvelope, FailurePartialReturn:
		return ActionRetry, true
	case FailureBlocked:
		return ActionAbort, true
	default:
		return "", false
	}
}

// DetectFailureType inspects the referenced envelope. A missing reference or
// file is missing-envelope, an envelope reporting blocked is blocked, and one
// that cannot be parsed or fails validation is partial-return.
func (c *Coordinator) DetectFailureType(sessionID, referenceID string) FailureType {
	path := c.envelopes.Resolve(sessionID, referenceID)
	if path == "" || !c.envelopes.Exists(path) {
		return FailureMissingEnvelope
	}
	res, err := c.envelopes.Validate(path)
	if err != nil {
		if errors.Is(err, envelope.ErrNotFound) {
			return FailureMissingEnvelope
		}
		return FailurePartialReturn
	}
	if !res.Parsed {
		return FailurePartialReturn
	}
	if res.Envelope.Status == envelope.StatusBlocked {
		return FailureBlocked
	}
	if !res.Valid() || res.Envelope.Status == envelope.StatusPartial {
		return FailurePartialReturn
	}
	return FailureNone
}

// FailureRequest asks the coordinator to escalate a failed step.
type FailureRequest struct {
	SessionID    string
	StepIndex    int
	StepName     string
	Action       Action
	Task         string
	Context      string
	FailureNotes string
	Constraints  []string
}

// EscalationResult reports the applied action.
type EscalationResult struct {
	Action   Action
	Record   record.Record
	Dispatch *DispatchResult
}

// HandleFailure executes retry, skip or abort. Status transitions and the
// re-dispatch are authoritative; decision entries are advisory.
func (c *Coordinator) HandleFailure(req FailureRequest) (EscalationResult, error) {
	if err := workspace.CheckSessionID(req.SessionID); err != nil {
		return EscalationResult{}, err
	}
	switch req.Action {
	case ActionRetry:
		return c.retry(req)
	case ActionSkip:
		return c.skip(req)
	case ActionAbort:
		return c.abort(req)
	default:
		return EscalationResult{}, fmt.Errorf("pipeline: unknown action %q", req.Action)
	}
}

func (c *Coordinator) retry(req FailureRequest) (EscalationResult, error) {
	rec, err := c.records.Update(req.SessionID, record.Patch{Status: record.Ptr(record.StatusInProgress)})
	if err != nil {
		return EscalationResult{}, err
	}
	brief := req.Context
	if notes := strings.TrimSpace(req.FailureNotes); notes != "" {
		brief = strings.TrimSpace(brief + "\n\nPrevious attempt failed:\n" + notes)
	}
	dispatched, err := c.DispatchStep(DispatchRequest{
		SessionID:   req.SessionID,
		StepIndex:   req.StepIndex,
		StepName:    req.StepName,
		Task:        req.Task,
		Context:     brief,
		Constraints: req.Constraints,
	})
	if err != nil {
		return EscalationResult{Action: ActionRetry, Record: rec}, err
	}
	if dispatched.Tracked {
		rec = dispatched.Record
	}
	c.appendDecision(&rec, record.Decision{
		ReferenceID: dispatched.ReferenceID,
		Decision:    record.DecisionRetried,
		Reviewer:    c.orchestrator,
		Note:        req.FailureNotes,
	})
	c.Journal(req.SessionID).Warn("retried step %d %s as %s", req.StepIndex, req.StepName, dispatched.ReferenceID)
	return EscalationResult{Action: ActionRetry, Record: rec, Dispatch: &dispatched}, nil
}

func (c *Coordinator) skip(req FailureRequest) (EscalationResult, error) {
	rec, err := c.records.Read(req.SessionID)
	if err != nil {
		return EscalationResult{}, err
	}
	rec, err = c.advance(rec)
	if err != nil {
		return EscalationResult{Action: ActionSkip, Record: rec}, err
	}
	note := strings.TrimSpace(req.FailureNotes)
	if note == "" {
		note = "skipped after failure"
	}
	c.appendDecision(&rec, record.Decision{
		ReferenceID: stepReference(req),
		Decision:    record.DecisionSkipped,
		Reviewer:    c.orchestrator,
		Note:        note,
	})
	c.touch(req.SessionID, &rec)
	c.Journal(req.SessionID).Warn("skipped step %d %s; now at step %d/%d (%s)", req.StepIndex, req.StepName, rec.CurrentStepIndex, rec.TotalSteps, rec.Status)
	return EscalationResult{Action: ActionSkip, Record: rec}, nil
}

func (c *Coordinator) abort(req FailureRequest) (EscalationResult, error) {
	current, err := c.records.Read(req.SessionID)
	if err != nil {
		return EscalationResult{}, err
	}
	index := req.StepIndex
	if index < 1 || index > current.TotalSteps {
		index = current.CurrentStepIndex
	}
	rec, err := c.records.Update(req.SessionID, record.Patch{
		Status: record.Ptr(record.StatusFailed),
		Steps:  []record.StepPatch{{Index: index, Status: record.StepFailed}},
	})
	if err != nil {
		return EscalationResult{Action: ActionAbort, Record: current}, err
	}
	c.appendDecision(&rec, record.Decision{
		ReferenceID: stepReference(req),
		Decision:    record.DecisionAborted,
		Reviewer:    c.orchestrator,
		Note:        req.FailureNotes,
	})
	c.touch(req.SessionID, &rec)
	c.logger.Warn("pipeline aborted", "session", req.SessionID, "step", req.StepName)
	c.Journal(req.SessionID).Error("aborted at step %d %s: %s", index, req.StepName, strings.TrimSpace(req.FailureNotes))
	return EscalationResult{Action: ActionAbort, Record: rec}, nil
}

func stepReference(req FailureRequest) string {
	return fmt.Sprintf("step-%d-%s", req.StepIndex, strings.TrimSpace(req.StepName))
}
