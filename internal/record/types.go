package record

import (
	"time"
)

// Status enumerates the pipeline-level lifecycle states.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in-progress"
	StatusBlocked    Status = "blocked"
	StatusFailed     Status = "failed"
	StatusComplete   Status = "complete"
)

// Active reports whether the pipeline can still make progress without an
// explicit restart.
func (s Status) Active() bool {
	switch s {
	case StatusCreated, StatusInProgress, StatusBlocked:
		return true
	default:
		return false
	}
}

// StepStatus enumerates the state of a single step row.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepBlocked    StepStatus = "blocked"
	StepFailed     StepStatus = "failed"
)

// Valid reports whether the value is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepBlocked, StepFailed:
		return true
	default:
		return false
	}
}

// DecisionKind labels an entry in the decision log.
type DecisionKind string

const (
	DecisionApproved DecisionKind = "approved"
	DecisionRejected DecisionKind = "rejected"
	DecisionSkipped  DecisionKind = "skipped"
	DecisionAborted  DecisionKind = "aborted"
	DecisionRetried  DecisionKind = "retried"
)

// SessionStatus marks whether a resumption entry is still live.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Record is the in-memory form of a session's pipeline index.
type Record struct {
	WorkflowID       string
	Status           Status
	CurrentStep      string
	CurrentStepIndex int
	TotalSteps       int
	SessionID        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	// Revision increments on every persisted write.
	Revision  int
	Goal      string
	Context   string
	Steps     []Step
	Artifacts []Artifact
	Decisions []Decision
	Sessions  []SessionEntry
}

// Step is one row of the steps table.
type Step struct {
	Label       string
	Persona     string
	Status      StepStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Notes       string
}

// Artifact records a unit of work produced or exchanged during the pipeline.
type Artifact struct {
	Name      string
	Kind      string
	Status    string
	UpdatedAt time.Time
	Notes     string
}

// Decision is an append-only approval-gate entry.
type Decision struct {
	Timestamp   time.Time
	ReferenceID string
	Decision    DecisionKind
	Reviewer    string
	Note        string
}

// SessionEntry tracks one attachment (initial run or resumption) to the pipeline.
type SessionEntry struct {
	SessionID    string
	StartedAt    time.Time
	LastActiveAt time.Time
	Status       SessionStatus
}

// StepSpec describes a step at creation time.
type StepSpec struct {
	Label   string
	Persona string
}

// CreateParams seeds a new record.
type CreateParams struct {
	WorkflowID string
	SessionID  string
	Goal       string
	Context    string
	Steps      []StepSpec
}

// Patch selectively mutates a record. Nil fields are left untouched.
type Patch struct {
	Status           *Status
	CurrentStep      *string
	CurrentStepIndex *int
	Steps            []StepPatch
	// ExpectRevision rejects the update with ErrConflict when the persisted
	// revision no longer matches.
	ExpectRevision *int
}

// StepPatch updates a single step row addressed by its 1-based index.
type StepPatch struct {
	Index       int
	Status      StepStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Notes       *string
}

// StepAt returns the step at a 1-based index.
func (r Record) StepAt(index int) (Step, bool) {
	if index < 1 || index > len(r.Steps) {
		return Step{}, false
	}
	return r.Steps[index-1], true
}

// HasDecision reports whether the log already holds kind for referenceID.
func (r Record) HasDecision(referenceID string, kind DecisionKind) bool {
	if referenceID == "" {
		return false
	}
	for _, d := range r.Decisions {
		if d.ReferenceID == referenceID && d.Decision == kind {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	clone := r
	clone.Steps = cloneSlice(r.Steps)
	clone.Artifacts = cloneSlice(r.Artifacts)
	clone.Decisions = cloneSlice(r.Decisions)
	clone.Sessions = cloneSlice(r.Sessions)
	return clone
}

func cloneSlice[T any](values []T) []T {
	if values == nil {
		return nil
	}
	out := make([]T, len(values))
	copy(out, values)
	return out
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
