package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/overture/internal/envelope"
	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/workspace"
)

// Decision is a reviewer's verdict on a returned step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Outcome summarises what processing a decision did.
type Outcome string

const (
	OutcomeAdvanced     Outcome = "advanced"
	OutcomeRevisionSent Outcome = "revision-sent"
	OutcomeHeld         Outcome = "held"
)

// OutcomeRequest carries a review decision.
type OutcomeRequest struct {
	SessionID   string
	ReferenceID string
	Decision    Decision
	Reviewer    string
	Note        string
}

// OutcomeResult reports the state after a decision was applied.
type OutcomeResult struct {
	Outcome Outcome
	Record  record.Record
	// Duplicate is set when the reference was already approved and nothing
	// changed.
	Duplicate bool
	// RevisionRef is the revision envelope written on rejection.
	RevisionRef string
	// Validation holds envelope findings for the reference, when it exists.
	Validation *envelope.Result
}

// ProcessOutcome applies an approve or reject decision. Only an unreadable
// record or an unknown decision is returned as an error; later store failures
// are logged and the last record read is returned.
func (c *Coordinator) ProcessOutcome(req OutcomeRequest) (OutcomeResult, error) {
	switch req.Decision {
	case DecisionApprove, DecisionReject:
	default:
		return OutcomeResult{}, fmt.Errorf("pipeline: unknown decision %q", req.Decision)
	}
	if err := workspace.CheckSessionID(req.SessionID); err != nil {
		return OutcomeResult{}, err
	}
	rec, err := c.records.Read(req.SessionID)
	if err != nil {
		return OutcomeResult{}, err
	}
	validation := c.validateReference(req.SessionID, req.ReferenceID)
	if req.Decision == DecisionReject {
		result := c.reject(rec, req)
		result.Validation = validation
		return result, nil
	}

	if rec.HasDecision(req.ReferenceID, record.DecisionApproved) {
		c.logger.Info("duplicate approval ignored", "session", req.SessionID, "ref", req.ReferenceID)
		return OutcomeResult{Outcome: OutcomeAdvanced, Record: rec, Duplicate: true, Validation: validation}, nil
	}
	advanced, err := c.advance(rec)
	if err != nil {
		c.logger.Warn("approval did not advance", "session", req.SessionID, "error", err)
		c.Journal(req.SessionID).Error("approval of %s failed: %v", displayRef(req.ReferenceID), err)
		if errors.Is(err, record.ErrConflict) {
			if latest, readErr := c.records.Read(req.SessionID); readErr == nil {
				advanced = latest
			}
		}
		return OutcomeResult{Outcome: OutcomeHeld, Record: advanced, Validation: validation}, nil
	}
	rec = advanced
	c.appendDecision(&rec, record.Decision{
		ReferenceID: req.ReferenceID,
		Decision:    record.DecisionApproved,
		Reviewer:    req.Reviewer,
		Note:        req.Note,
	})
	c.touch(req.SessionID, &rec)
	c.logger.Info("step approved", "session", req.SessionID, "index", rec.CurrentStepIndex, "status", rec.Status)
	c.Journal(req.SessionID).Info("approved %s; now at step %d/%d (%s)", displayRef(req.ReferenceID), rec.CurrentStepIndex, rec.TotalSteps, rec.Status)
	return OutcomeResult{Outcome: OutcomeAdvanced, Record: rec, Validation: validation}, nil
}

// advance moves the pipeline past its current step in one write. Completing
// the last step from created, blocked or failed takes two writes, since
// complete is only reachable from in-progress; if the second one fails the
// pipeline is left in-progress on its last step and approving again finishes
// it. advance returns the last record it managed to read or write alongside
// any error.
func (c *Coordinator) advance(rec record.Record) (record.Record, error) {
	if rec.Status == record.StatusComplete {
		return rec, nil
	}
	sessionID := rec.SessionID
	current := rec.CurrentStepIndex
	next := current + 1
	if next > rec.TotalSteps && rec.Status != record.StatusInProgress {
		updated, err := c.records.Update(sessionID, record.Patch{
			Status:         record.Ptr(record.StatusInProgress),
			ExpectRevision: record.Ptr(rec.Revision),
		})
		if err != nil {
			return rec, err
		}
		rec = updated
	}

	now := c.now()
	patch := record.Patch{ExpectRevision: record.Ptr(rec.Revision)}
	patch.Steps = append(patch.Steps, record.StepPatch{Index: current, Status: record.StepCompleted, CompletedAt: &now})
	if next > rec.TotalSteps {
		patch.Status = record.Ptr(record.StatusComplete)
	} else {
		patch.Status = record.Ptr(record.StatusInProgress)
		patch.CurrentStepIndex = record.Ptr(next)
		if step, ok := rec.StepAt(next); ok {
			patch.CurrentStep = record.Ptr(step.Label)
			if step.Status == record.StepPending {
				patch.Steps = append(patch.Steps, record.StepPatch{Index: next, Status: record.StepInProgress})
			}
		}
	}
	updated, err := c.records.Update(sessionID, patch)
	if err != nil {
		return rec, err
	}
	return updated, nil
}

func (c *Coordinator) reject(rec record.Record, req OutcomeRequest) OutcomeResult {
	sessionID := rec.SessionID
	result := OutcomeResult{Outcome: OutcomeHeld, Record: rec}
	updated, err := c.records.Update(sessionID, record.Patch{
		Status: record.Ptr(record.StatusBlocked),
		Steps:  []record.StepPatch{{Index: rec.CurrentStepIndex, Status: record.StepBlocked}},
	})
	if err != nil {
		c.logger.Warn("reject could not block pipeline", "session", sessionID, "error", err)
		c.Journal(sessionID).Error("reject of %s failed: %v", displayRef(req.ReferenceID), err)
		return result
	}
	result.Record = updated
	c.appendDecision(&result.Record, record.Decision{
		ReferenceID: req.ReferenceID,
		Decision:    record.DecisionRejected,
		Reviewer:    req.Reviewer,
		Note:        req.Note,
	})

	if ref, ok := c.requestRevision(result.Record, req); ok {
		result.Outcome = OutcomeRevisionSent
		result.RevisionRef = ref
	}
	c.logger.Info("step rejected", "session", sessionID, "outcome", result.Outcome)
	c.Journal(sessionID).Warn("rejected %s at step %d (%s)", displayRef(req.ReferenceID), result.Record.CurrentStepIndex, result.Outcome)
	return result
}

// requestRevision writes a revision envelope back to the persona that
// produced the referenced envelope. It reports false when the reference is
// missing or unreadable.
func (c *Coordinator) requestRevision(rec record.Record, req OutcomeRequest) (string, bool) {
	path := c.envelopes.Resolve(rec.SessionID, req.ReferenceID)
	if !c.envelopes.Exists(path) {
		return "", false
	}
	original, err := c.envelopes.Read(path)
	if err != nil {
		c.logger.Warn("revision source unreadable", "session", rec.SessionID, "ref", req.ReferenceID, "error", err)
		return "", false
	}
	worker := original.Target
	if original.Type == envelope.TypeResult {
		worker = original.Source
	}
	if worker == "" || worker == c.orchestrator {
		return "", false
	}
	task := original.Task
	if task == "" {
		task = fmt.Sprintf("Revise your %s output for step %q.", original.Type, original.Step)
	}
	notes := strings.TrimSpace(req.Note)
	if notes == "" {
		notes = "Rejected without a note."
	}
	if req.Reviewer != "" {
		notes = fmt.Sprintf("%s (reviewer: %s)", notes, req.Reviewer)
	}
	sequence := original.Sequence
	if sequence < 1 {
		sequence = rec.CurrentStepIndex
	}
	ref, meta, err := c.envelopes.Write(envelope.Payload{
		Session:     rec.SessionID,
		Workflow:    rec.WorkflowID,
		Sequence:    sequence,
		Type:        envelope.TypeRevision,
		Step:        original.Step,
		Source:      c.orchestrator,
		Target:      worker,
		Task:        task,
		Context:     fmt.Sprintf("Revision requested for %s.", original.ID),
		Constraints: original.Constraints,
		Notes:       notes,
	})
	if err != nil {
		c.logger.Warn("revision envelope failed", "session", rec.SessionID, "error", err)
		return "", false
	}
	c.advisory(rec.SessionID, "record revision artifact", func() error {
		_, err := c.records.AppendArtifact(rec.SessionID, record.Artifact{
			Name:   ref.ID,
			Kind:   string(envelope.TypeRevision),
			Status: string(meta.Status),
			Notes:  "revision of " + original.ID,
		})
		return err
	})
	return ref.ID, true
}

func (c *Coordinator) appendDecision(rec *record.Record, decision record.Decision) {
	c.advisory(rec.SessionID, "append "+string(decision.Decision)+" decision", func() error {
		updated, err := c.records.AppendDecision(rec.SessionID, decision)
		if err == nil {
			*rec = updated
		}
		return err
	})
}

// validateReference runs the envelope validator; findings are advisory.
func (c *Coordinator) validateReference(sessionID, referenceID string) *envelope.Result {
	path := c.envelopes.Resolve(sessionID, referenceID)
	if !c.envelopes.Exists(path) {
		return nil
	}
	res, err := c.envelopes.Validate(path)
	if err != nil {
		c.logger.Warn("envelope validation failed", "session", sessionID, "ref", referenceID, "error", err)
		return nil
	}
	for _, msg := range res.Errors {
		c.logger.Warn("envelope error", "session", sessionID, "ref", referenceID, "detail", msg)
	}
	for _, msg := range res.Warnings {
		c.logger.Debug("envelope warning", "session", sessionID, "ref", referenceID, "detail", msg)
	}
	return &res
}

func displayRef(ref string) string {
	if strings.TrimSpace(ref) == "" {
		return "(no reference)"
	}
	return ref
}
