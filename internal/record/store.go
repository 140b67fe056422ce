package record

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/kingrea/overture/internal/workspace"
)

const filePerm = 0o644

// Store reads and mutates pipeline records inside a workspace.
type Store struct {
	ws    *workspace.Workspace
	clock func() time.Time
}

// Option customizes a Store during construction.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore builds a store for the workspace.
func NewStore(ws *workspace.Workspace, opts ...Option) *Store {
	store := &Store{
		ws:    ws,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Path returns the index location for a session.
func (s *Store) Path(sessionID string) string {
	return s.ws.IndexPath(sessionID)
}

// Create writes a fresh record with every step pending. It fails with
// ErrExists if the session already has a record.
func (s *Store) Create(params CreateParams) (Record, error) {
	if strings.TrimSpace(params.SessionID) == "" {
		return Record{}, fmt.Errorf("record: session id is required")
	}
	if err := workspace.CheckSessionID(strings.TrimSpace(params.SessionID)); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(params.WorkflowID) == "" {
		return Record{}, fmt.Errorf("record: workflow id is required")
	}
	if len(params.Steps) == 0 {
		return Record{}, fmt.Errorf("record: at least one step is required")
	}
	steps := make([]Step, len(params.Steps))
	for i, spec := range params.Steps {
		label := strings.TrimSpace(spec.Label)
		if label == "" {
			return Record{}, fmt.Errorf("record: step %d has an empty label", i+1)
		}
		steps[i] = Step{Label: label, Persona: strings.TrimSpace(spec.Persona), Status: StepPending}
	}
	now := s.now()
	rec := Record{
		WorkflowID:       strings.TrimSpace(params.WorkflowID),
		Status:           StatusCreated,
		CurrentStep:      steps[0].Label,
		CurrentStepIndex: 1,
		TotalSteps:       len(steps),
		SessionID:        strings.TrimSpace(params.SessionID),
		CreatedAt:        now,
		UpdatedAt:        now,
		Revision:         1,
		Goal:             strings.TrimSpace(params.Goal),
		Context:          strings.TrimSpace(params.Context),
		Steps:            steps,
	}
	data, err := Encode(rec)
	if err != nil {
		return Record{}, err
	}
	if err := createExclusive(s.Path(rec.SessionID), data, filePerm); err != nil {
		if errors.Is(err, ErrExists) {
			return Record{}, fmt.Errorf("%w: session %s", ErrExists, rec.SessionID)
		}
		return Record{}, err
	}
	return rec, nil
}

// Read loads the record for a session.
func (s *Store) Read(sessionID string) (Record, error) {
	if err := workspace.CheckSessionID(sessionID); err != nil {
		return Record{}, err
	}
	return s.ReadFile(s.Path(sessionID))
}

// ReadFile loads a record from an explicit path. A document that exists but
// does not parse yields a *StructuralError.
func (s *Store) ReadFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Record{}, fmt.Errorf("record: read %s: %w", path, err)
	}
	rec, err := Decode(data)
	if err != nil {
		return Record{}, &StructuralError{Path: path, Err: err}
	}
	return rec, nil
}

// Update applies the supplied patch fields, validates the status transition,
// and persists the result atomically. On any error the stored record is left
// untouched.
func (s *Store) Update(sessionID string, patch Patch) (Record, error) {
	return s.mutate(sessionID, func(rec *Record) error {
		if patch.ExpectRevision != nil && *patch.ExpectRevision != rec.Revision {
			return fmt.Errorf("%w: expected revision %d, found %d", ErrConflict, *patch.ExpectRevision, rec.Revision)
		}
		if patch.Status != nil {
			if err := ValidateTransition(rec.Status, *patch.Status); err != nil {
				return err
			}
			rec.Status = *patch.Status
		}
		if patch.CurrentStepIndex != nil {
			index := *patch.CurrentStepIndex
			if index < 1 || index > rec.TotalSteps {
				return fmt.Errorf("record: current step index %d outside 1..%d", index, rec.TotalSteps)
			}
			rec.CurrentStepIndex = index
		}
		if patch.CurrentStep != nil {
			rec.CurrentStep = strings.TrimSpace(*patch.CurrentStep)
		}
		for _, sp := range patch.Steps {
			if err := applyStepPatch(rec, sp); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendDecision adds an entry to the decision log.
func (s *Store) AppendDecision(sessionID string, decision Decision) (Record, error) {
	if decision.Decision == "" {
		return Record{}, fmt.Errorf("record: decision kind is required")
	}
	return s.mutate(sessionID, func(rec *Record) error {
		if decision.Timestamp.IsZero() {
			decision.Timestamp = rec.UpdatedAt
		}
		decision.Timestamp = decision.Timestamp.UTC()
		decision.ReferenceID = strings.TrimSpace(decision.ReferenceID)
		decision.Reviewer = strings.TrimSpace(decision.Reviewer)
		decision.Note = strings.TrimSpace(decision.Note)
		rec.Decisions = append(rec.Decisions, decision)
		return nil
	})
}

// AppendArtifact adds an entry to the artifact log.
func (s *Store) AppendArtifact(sessionID string, artifact Artifact) (Record, error) {
	if strings.TrimSpace(artifact.Name) == "" {
		return Record{}, fmt.Errorf("record: artifact name is required")
	}
	return s.mutate(sessionID, func(rec *Record) error {
		artifact.Name = strings.TrimSpace(artifact.Name)
		artifact.Kind = strings.TrimSpace(artifact.Kind)
		artifact.Status = strings.TrimSpace(artifact.Status)
		artifact.Notes = strings.TrimSpace(artifact.Notes)
		if artifact.UpdatedAt.IsZero() {
			artifact.UpdatedAt = rec.UpdatedAt
		}
		artifact.UpdatedAt = artifact.UpdatedAt.UTC()
		rec.Artifacts = append(rec.Artifacts, artifact)
		return nil
	})
}

// AppendSession records a new attachment to the pipeline.
func (s *Store) AppendSession(sessionID string, entry SessionEntry) (Record, error) {
	return s.mutate(sessionID, func(rec *Record) error {
		entry.SessionID = strings.TrimSpace(entry.SessionID)
		if entry.SessionID == "" {
			entry.SessionID = rec.SessionID
		}
		if entry.StartedAt.IsZero() {
			entry.StartedAt = rec.UpdatedAt
		}
		if entry.LastActiveAt.IsZero() {
			entry.LastActiveAt = entry.StartedAt
		}
		if entry.Status == "" {
			entry.Status = SessionActive
		}
		entry.StartedAt = entry.StartedAt.UTC()
		entry.LastActiveAt = entry.LastActiveAt.UTC()
		rec.Sessions = append(rec.Sessions, entry)
		return nil
	})
}

// TouchSession stamps the most recent session entry as active now and sets
// its status.
func (s *Store) TouchSession(sessionID string, status SessionStatus) (Record, error) {
	return s.mutate(sessionID, func(rec *Record) error {
		if len(rec.Sessions) == 0 {
			return fmt.Errorf("record: session %s has no session entries", rec.SessionID)
		}
		last := &rec.Sessions[len(rec.Sessions)-1]
		last.LastActiveAt = rec.UpdatedAt
		if status != "" {
			last.Status = status
		}
		return nil
	})
}

// Replace persists rec wholesale, superseding whatever is on disk (including
// an unreadable document). Only crash recovery should need this.
func (s *Store) Replace(rec Record) (Record, error) {
	if rec.TotalSteps != len(rec.Steps) || rec.TotalSteps < 1 {
		return Record{}, fmt.Errorf("record: replacement has %d steps but total_steps %d", len(rec.Steps), rec.TotalSteps)
	}
	if !ValidStatus(rec.Status) {
		return Record{}, fmt.Errorf("record: unknown status %q", rec.Status)
	}
	if err := workspace.CheckSessionID(rec.SessionID); err != nil {
		return Record{}, err
	}
	rec = rec.Clone()
	trimCells(&rec)
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Revision++
	data, err := Encode(rec)
	if err != nil {
		return Record{}, err
	}
	if err := WriteFileAtomic(s.Path(rec.SessionID), data, filePerm); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) mutate(sessionID string, fn func(*Record) error) (Record, error) {
	if err := workspace.CheckSessionID(sessionID); err != nil {
		return Record{}, err
	}
	path := s.Path(sessionID)
	current, err := s.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	next := current.Clone()
	next.UpdatedAt = s.now()
	if err := fn(&next); err != nil {
		return Record{}, err
	}
	next.Revision = current.Revision + 1
	data, err := Encode(next)
	if err != nil {
		return Record{}, err
	}
	if err := WriteFileAtomic(path, data, filePerm); err != nil {
		return Record{}, err
	}
	return next, nil
}

// trimCells trims every value stored in a table cell; the codec reads cells
// back trimmed.
func trimCells(rec *Record) {
	for i := range rec.Steps {
		st := &rec.Steps[i]
		st.Label, st.Persona, st.Notes = strings.TrimSpace(st.Label), strings.TrimSpace(st.Persona), strings.TrimSpace(st.Notes)
	}
	for i := range rec.Artifacts {
		a := &rec.Artifacts[i]
		a.Name, a.Kind, a.Status, a.Notes = strings.TrimSpace(a.Name), strings.TrimSpace(a.Kind), strings.TrimSpace(a.Status), strings.TrimSpace(a.Notes)
	}
	for i := range rec.Decisions {
		d := &rec.Decisions[i]
		d.ReferenceID, d.Reviewer, d.Note = strings.TrimSpace(d.ReferenceID), strings.TrimSpace(d.Reviewer), strings.TrimSpace(d.Note)
	}
	for i := range rec.Sessions {
		rec.Sessions[i].SessionID = strings.TrimSpace(rec.Sessions[i].SessionID)
	}
}

func applyStepPatch(rec *Record, sp StepPatch) error {
	if sp.Index < 1 || sp.Index > len(rec.Steps) {
		return fmt.Errorf("record: step index %d outside 1..%d", sp.Index, len(rec.Steps))
	}
	step := &rec.Steps[sp.Index-1]
	if sp.Status != "" {
		if !sp.Status.Valid() {
			return fmt.Errorf("record: unknown step status %q", sp.Status)
		}
		step.Status = sp.Status
	}
	if sp.StartedAt != nil {
		step.StartedAt = sp.StartedAt.UTC()
	}
	if sp.CompletedAt != nil {
		step.CompletedAt = sp.CompletedAt.UTC()
	}
	if sp.Notes != nil {
		step.Notes = strings.TrimSpace(*sp.Notes)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}
