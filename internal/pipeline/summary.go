package pipeline

import (
	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/recovery"
)

// Summary produces the compact snapshot handed across an interruption.
func (c *Coordinator) Summary(sessionID string) (recovery.Summary, error) {
	rec, err := c.records.Read(sessionID)
	if err != nil {
		return recovery.Summary{}, err
	}
	return SummaryOf(rec), nil
}

// SummaryOf builds a summary from an in-memory record.
func SummaryOf(rec record.Record) recovery.Summary {
	return recovery.Summary{
		SessionID:   rec.SessionID,
		WorkflowID:  rec.WorkflowID,
		CurrentStep: rec.CurrentStep,
		Status:      string(rec.Status),
	}
}

// Status returns the current record for a session.
func (c *Coordinator) Status(sessionID string) (record.Record, error) {
	return c.records.Read(sessionID)
}
