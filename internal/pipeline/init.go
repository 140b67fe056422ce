package pipeline

import (
	"fmt"
	"strings"

	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/routing"
	"github.com/kingrea/overture/internal/workspace"
)

// InitParams describes a new pipeline.
type InitParams struct {
	Steps   []string
	Goal    string
	Context string
	// SessionID is generated when empty.
	SessionID string
	// WorkflowID falls back to the coordinator default when empty.
	WorkflowID string
}

// Session is the handle returned for a freshly created pipeline.
type Session struct {
	ID        string
	Dir       string
	IndexPath string
	Record    record.Record
}

// InitPipeline validates the step list, routes every step, creates the
// session directory and writes the initial record.
func (c *Coordinator) InitPipeline(params InitParams) (Session, error) {
	if len(params.Steps) == 0 {
		return Session{}, fmt.Errorf("%w: at least one step is required", ErrInvalidSteps)
	}
	specs := make([]record.StepSpec, len(params.Steps))
	for i, name := range params.Steps {
		name = strings.TrimSpace(name)
		if name == "" {
			return Session{}, fmt.Errorf("%w: step %d is blank", ErrInvalidSteps, i+1)
		}
		specs[i] = record.StepSpec{Label: name, Persona: c.routes.PersonaFor(name)}
	}

	sessionID := strings.TrimSpace(params.SessionID)
	if sessionID == "" {
		sessionID = workspace.NewSessionID(c.now())
	}
	workflowID := strings.TrimSpace(params.WorkflowID)
	if workflowID == "" {
		workflowID = c.workflowID
	}
	if err := c.ws.EnsureSession(sessionID); err != nil {
		return Session{}, err
	}
	rec, err := c.records.Create(record.CreateParams{
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Goal:       params.Goal,
		Context:    params.Context,
		Steps:      specs,
	})
	if err != nil {
		return Session{}, err
	}

	c.advisory(sessionID, "record session entry", func() error {
		updated, err := c.records.AppendSession(sessionID, record.SessionEntry{})
		if err == nil {
			rec = updated
		}
		return err
	})
	for _, spec := range specs {
		if spec.Persona == routing.Unassigned {
			c.logger.Warn("step has no route", "session", sessionID, "step", spec.Label)
		}
	}
	c.logger.Info("pipeline initialised", "session", sessionID, "workflow", workflowID, "steps", len(specs))
	c.Journal(sessionID).Info("pipeline %s initialised with %d steps: %s", workflowID, len(specs), strings.Join(params.Steps, ", "))

	return Session{
		ID:        sessionID,
		Dir:       c.ws.SessionDir(sessionID),
		IndexPath: c.records.Path(sessionID),
		Record:    rec,
	}, nil
}

// Attach records a new resumption of an existing pipeline. The previous
// session entry, if any, is closed first. attachID defaults to the pipeline's
// own session id.
func (c *Coordinator) Attach(sessionID, attachID string) (record.Record, error) {
	rec, err := c.records.Read(sessionID)
	if err != nil {
		return record.Record{}, err
	}
	if n := len(rec.Sessions); n > 0 && rec.Sessions[n-1].Status == record.SessionActive {
		if rec, err = c.records.TouchSession(sessionID, record.SessionEnded); err != nil {
			return record.Record{}, err
		}
	}
	if rec, err = c.records.AppendSession(sessionID, record.SessionEntry{SessionID: strings.TrimSpace(attachID)}); err != nil {
		return record.Record{}, err
	}
	c.Journal(sessionID).Info("attached session %s", rec.Sessions[len(rec.Sessions)-1].SessionID)
	return rec, nil
}

// touch stamps the latest session entry, closing it when the pipeline has
// reached a terminal state.
func (c *Coordinator) touch(sessionID string, rec *record.Record) {
	if len(rec.Sessions) == 0 {
		return
	}
	status := record.SessionActive
	if !rec.Status.Active() {
		status = record.SessionEnded
	}
	c.advisory(sessionID, "stamp session activity", func() error {
		updated, err := c.records.TouchSession(sessionID, status)
		if err == nil {
			*rec = updated
		}
		return err
	})
}
