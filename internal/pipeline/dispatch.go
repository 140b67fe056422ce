package pipeline

import (
	"fmt"
	"strings"

	"github.com/kingrea/overture/internal/envelope"
	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/workspace"
)

// DispatchRequest assigns one step to its persona.
type DispatchRequest struct {
	SessionID   string
	StepIndex   int
	StepName    string
	Task        string
	Context     string
	Constraints []string
}

// DispatchResult describes the delegation that was written.
type DispatchResult struct {
	SessionID   string
	StepIndex   int
	StepName    string
	Persona     string
	ReferenceID string
	Path        string
	// Message is the full delegation document handed to the persona.
	Message string
	// Tracked is false when the record could not be updated; the delegation
	// itself was still written.
	Tracked bool
	Record  record.Record
}

// DispatchStep writes a delegation envelope for the step and records the
// hand-off. Only routing and the envelope write can fail the call; record
// bookkeeping is advisory.
func (c *Coordinator) DispatchStep(req DispatchRequest) (DispatchResult, error) {
	if err := workspace.CheckSessionID(req.SessionID); err != nil {
		return DispatchResult{}, err
	}
	step := strings.TrimSpace(req.StepName)
	persona, ok := c.routes.Resolve(step)
	if !ok {
		return DispatchResult{}, fmt.Errorf("%w %q", ErrNoRoute, step)
	}
	if req.StepIndex < 1 {
		return DispatchResult{}, fmt.Errorf("pipeline: step index must be >= 1, got %d", req.StepIndex)
	}

	workflowID := c.workflowID
	rec, readErr := c.records.Read(req.SessionID)
	if readErr != nil {
		c.logger.Warn("dispatch without readable record", "session", req.SessionID, "error", readErr)
	} else {
		workflowID = rec.WorkflowID
	}

	ref, meta, err := c.envelopes.Write(envelope.Payload{
		Session:     req.SessionID,
		Workflow:    workflowID,
		Sequence:    req.StepIndex,
		Type:        envelope.TypeDelegation,
		Step:        step,
		Source:      c.orchestrator,
		Target:      persona,
		Task:        req.Task,
		Context:     req.Context,
		Constraints: req.Constraints,
	})
	if err != nil {
		return DispatchResult{}, err
	}
	message, err := envelope.Render(meta, envelope.Sections{
		Task:        req.Task,
		Context:     req.Context,
		Constraints: req.Constraints,
	})
	if err != nil {
		return DispatchResult{}, err
	}

	result := DispatchResult{
		SessionID:   req.SessionID,
		StepIndex:   req.StepIndex,
		StepName:    step,
		Persona:     persona,
		ReferenceID: ref.ID,
		Path:        ref.Path,
		Message:     string(message),
		Record:      rec,
	}
	if readErr != nil {
		c.Journal(req.SessionID).Warn("dispatched step %d %s to %s (%s) without record tracking: %v", req.StepIndex, step, persona, ref.ID, readErr)
		return result, nil
	}

	now := c.now()
	result.Tracked = c.advisory(req.SessionID, "record delegation", func() error {
		patch := record.Patch{
			Status: record.Ptr(record.StatusInProgress),
			Steps: []record.StepPatch{{
				Index:     req.StepIndex,
				Status:    record.StepInProgress,
				StartedAt: &now,
				Notes:     record.Ptr("delegated to " + persona),
			}},
		}
		if req.StepIndex <= rec.TotalSteps {
			patch.CurrentStepIndex = record.Ptr(req.StepIndex)
			patch.CurrentStep = record.Ptr(step)
		}
		updated, err := c.records.Update(req.SessionID, patch)
		if err != nil {
			return err
		}
		result.Record = updated
		return nil
	})
	c.advisory(req.SessionID, "record delegation artifact", func() error {
		updated, err := c.records.AppendArtifact(req.SessionID, record.Artifact{
			Name:   ref.ID,
			Kind:   string(envelope.TypeDelegation),
			Status: string(meta.Status),
			Notes:  fmt.Sprintf("step %d %s -> %s", req.StepIndex, step, persona),
		})
		if err != nil {
			return err
		}
		result.Record = updated
		return nil
	})
	c.touch(req.SessionID, &result.Record)
	c.logger.Info("step dispatched", "session", req.SessionID, "step", step, "persona", persona, "ref", ref.ID)
	c.Journal(req.SessionID).Info("dispatched step %d %s to %s (%s)", req.StepIndex, step, persona, ref.ID)
	return result, nil
}
