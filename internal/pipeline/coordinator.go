// Package pipeline drives a sequential, approval-gated pipeline: it creates
// the record, dispatches steps to personas, applies review outcomes and
// escalates worker failures.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/kingrea/overture/internal/envelope"
	"github.com/kingrea/overture/internal/logbook"
	"github.com/kingrea/overture/internal/logging"
	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/routing"
	"github.com/kingrea/overture/internal/workspace"
)

// DefaultOrchestrator is the persona named as the source of delegations.
const DefaultOrchestrator = "maestro"

var (
	// ErrNoRoute is returned when a step has no persona mapped to it.
	ErrNoRoute = errors.New("pipeline: no route for step")
	// ErrInvalidSteps is returned for an empty or blank step list.
	ErrInvalidSteps = errors.New("pipeline: invalid step list")
)

// Coordinator composes the record store, envelope store and routing table.
type Coordinator struct {
	ws           *workspace.Workspace
	records      *record.Store
	envelopes    *envelope.Store
	routes       *routing.Table
	orchestrator string
	workflowID   string
	logger       logging.Logger
	clock        func() time.Time
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger used for advisory failures.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRoutes replaces the built-in routing table.
func WithRoutes(table *routing.Table) Option {
	return func(c *Coordinator) {
		if table != nil {
			c.routes = table
		}
	}
}

// WithOrchestrator names the persona that signs delegations.
func WithOrchestrator(name string) Option {
	return func(c *Coordinator) {
		if name != "" {
			c.orchestrator = name
		}
	}
}

// WithWorkflowID sets the workflow id recorded for new pipelines.
func WithWorkflowID(id string) Option {
	return func(c *Coordinator) {
		if id != "" {
			c.workflowID = id
		}
	}
}

// New wires a coordinator to a workspace.
func New(ws *workspace.Workspace, opts ...Option) (*Coordinator, error) {
	if ws == nil {
		return nil, fmt.Errorf("pipeline: workspace is required")
	}
	c := &Coordinator{
		ws:           ws,
		routes:       routing.Default(),
		orchestrator: DefaultOrchestrator,
		workflowID:   "default",
		logger:       logging.NewNop(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.records = record.NewStore(ws, record.WithClock(c.clock))
	c.envelopes = envelope.NewStore(ws, envelope.WithClock(c.clock))
	return c, nil
}

// Records exposes the underlying record store.
func (c *Coordinator) Records() *record.Store {
	return c.records
}

// Envelopes exposes the underlying envelope store.
func (c *Coordinator) Envelopes() *envelope.Store {
	return c.envelopes
}

// Workspace returns the workspace the coordinator operates on.
func (c *Coordinator) Workspace() *workspace.Workspace {
	return c.ws
}

// ResolveWorker looks up the persona for a step. Absence is not an error.
func (c *Coordinator) ResolveWorker(step string) (string, bool) {
	return c.routes.Resolve(step)
}

// Journal opens the session's human-readable journal. It returns nil, which
// discards writes, for an invalid session id.
func (c *Coordinator) Journal(sessionID string) *logbook.Logbook {
	if !workspace.ValidSessionID(sessionID) {
		return nil
	}
	book, err := logbook.New(c.ws.JournalPath(sessionID))
	if err != nil {
		c.logger.Warn("open journal failed", "session", sessionID, "error", err)
		return nil
	}
	return book.WithClock(c.clock)
}

// advisory runs a bookkeeping operation whose failure must not stop the
// caller. It reports whether fn succeeded.
func (c *Coordinator) advisory(sessionID, op string, fn func() error) bool {
	if err := fn(); err != nil {
		c.logger.Warn("bookkeeping failed", "session", sessionID, "op", op, "error", err)
		c.Journal(sessionID).Warn("%s failed: %v", op, err)
		return false
	}
	return true
}

func (c *Coordinator) now() time.Time {
	return c.clock().UTC()
}
