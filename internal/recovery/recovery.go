// Package recovery restores pipeline position after an interruption, either
// from a resume summary or, after a crash, from the session's envelopes.
package recovery

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kingrea/overture/internal/envelope"
	"github.com/kingrea/overture/internal/logbook"
	"github.com/kingrea/overture/internal/logging"
	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/workspace"
)

// Status is the outcome of a resume or recovery check.
type Status string

const (
	StatusOK           Status = "ok"
	StatusInconsistent Status = "inconsistent"
	StatusMissing      Status = "missing"
	StatusRecovered    Status = "recovered"
)

const (
	recoveredWorkflowID = "recovered"
	placeholderStep     = "recovered-step"
)

// Report describes what was found and, where applicable, repaired.
type Report struct {
	Status    Status
	SessionID string
	// Record is the authoritative record after the check. It is the zero
	// value when the summary was missing fields.
	Record  record.Record
	Missing []string
	Issues  []string
	// Diff is a unified diff of the record before and after a repair.
	Diff string
}

// Recoverer inspects and repairs pipeline records in a workspace.
type Recoverer struct {
	ws        *workspace.Workspace
	records   *record.Store
	envelopes *envelope.Store
	logger    logging.Logger
	clock     func() time.Time
}

// Option customizes a Recoverer.
type Option func(*Recoverer)

// WithClock injects a deterministic clock.
func WithClock(clock func() time.Time) Option {
	return func(r *Recoverer) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Recoverer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a Recoverer for a workspace.
func New(ws *workspace.Workspace, opts ...Option) *Recoverer {
	r := &Recoverer{
		ws:     ws,
		logger: logging.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.records = record.NewStore(ws, record.WithClock(r.clock))
	r.envelopes = envelope.NewStore(ws, envelope.WithClock(r.clock))
	return r
}

// ResumeFromSummary re-anchors on the live record named by summary. A summary
// lacking session, workflow or current step reports missing; a mismatch with
// the record reports inconsistent and the record is returned regardless.
func (r *Recoverer) ResumeFromSummary(summary Summary) (Report, error) {
	if missing := summary.Missing(); len(missing) > 0 {
		return Report{Status: StatusMissing, SessionID: summary.SessionID, Missing: missing}, nil
	}
	rec, err := r.records.Read(summary.SessionID)
	if err != nil {
		return Report{}, err
	}
	report := Report{Status: StatusOK, SessionID: rec.SessionID, Record: rec}
	if rec.WorkflowID != summary.WorkflowID {
		report.Issues = append(report.Issues, fmt.Sprintf("workflow_id: summary has %q, record has %q", summary.WorkflowID, rec.WorkflowID))
	}
	if rec.CurrentStep != summary.CurrentStep {
		report.Issues = append(report.Issues, fmt.Sprintf("current_step: summary has %q, record has %q", summary.CurrentStep, rec.CurrentStep))
	}
	if len(report.Issues) > 0 {
		report.Status = StatusInconsistent
		r.logger.Warn("summary disagrees with record", "session", rec.SessionID, "issues", strings.Join(report.Issues, "; "))
	}
	r.journal(rec.SessionID).Info("resumed from summary (%s)", report.Status)
	return report, nil
}

// RecoverFromCrash reconciles a session's record with its envelopes. An
// unreadable or missing record is rebuilt from the envelope sequence; a record
// whose step index lags the highest sequence is advanced.
func (r *Recoverer) RecoverFromCrash(sessionID string) (Report, error) {
	entries, err := r.envelopes.Scan(sessionID)
	if err != nil {
		return Report{}, err
	}
	rec, err := r.records.Read(sessionID)
	if err != nil {
		if record.IsStructural(err) || errors.Is(err, record.ErrNotFound) {
			if errors.Is(err, record.ErrNotFound) && len(entries) == 0 && !r.sessionExists(sessionID) {
				return Report{}, err
			}
			return r.rebuild(sessionID, entries, err)
		}
		return Report{}, err
	}

	maxSeq := 0
	for _, e := range entries {
		if e.Sequence > maxSeq {
			maxSeq = e.Sequence
		}
	}
	report := Report{Status: StatusOK, SessionID: sessionID, Record: rec}
	if maxSeq > rec.TotalSteps {
		report.Issues = append(report.Issues, fmt.Sprintf("envelope sequence %d exceeds total_steps %d", maxSeq, rec.TotalSteps))
	}
	target := min(maxSeq, rec.TotalSteps)
	if rec.Status == record.StatusComplete || target <= rec.CurrentStepIndex {
		if len(report.Issues) > 0 {
			report.Status = StatusInconsistent
		}
		return report, nil
	}

	repaired, err := r.records.Update(sessionID, lagPatch(rec, target))
	if err != nil {
		return Report{}, err
	}
	report.Status = StatusInconsistent
	report.Record = repaired
	report.Issues = append(report.Issues, fmt.Sprintf("current_step_index %d lagged envelope sequence %d; advanced to %d", rec.CurrentStepIndex, maxSeq, target))
	report.Diff = diffRecords(rec, repaired)
	r.logger.Warn("record lagged envelopes", "session", sessionID, "from", rec.CurrentStepIndex, "to", target)
	r.journal(sessionID).Warn("crash recovery advanced step index from %d to %d", rec.CurrentStepIndex, target)
	return report, nil
}

// ResumeLatestActive returns the active session (created, in-progress or
// blocked) with the most recent update, or nil when none exists. Unreadable
// records are skipped.
func (r *Recoverer) ResumeLatestActive() (*Report, error) {
	ids, err := r.ws.SessionIDs()
	if err != nil {
		return nil, err
	}
	var latest *record.Record
	for _, id := range ids {
		rec, err := r.records.Read(id)
		if err != nil {
			r.logger.Debug("skipping session", "session", id, "error", err)
			continue
		}
		if !rec.Status.Active() {
			continue
		}
		if latest == nil || rec.UpdatedAt.After(latest.UpdatedAt) {
			candidate := rec
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, nil
	}
	return &Report{Status: StatusOK, SessionID: latest.SessionID, Record: *latest}, nil
}

// rebuild synthesizes a minimal record from envelopes: one step per
// discovered envelope in scan order, earlier steps completed and the last one
// in progress.
func (r *Recoverer) rebuild(sessionID string, entries []envelope.Entry, cause error) (Report, error) {
	if err := r.ws.EnsureSession(sessionID); err != nil {
		return Report{}, err
	}
	preserved := r.preserveDamaged(sessionID)

	now := r.clock().UTC()
	workflowID := ""
	var steps []record.Step
	var artifacts []record.Artifact
	for i, e := range entries {
		label := ""
		artifact := record.Artifact{Name: e.ID, Kind: string(e.Type), Status: "unknown", Notes: "recovered"}
		if env, err := r.envelopes.Read(e.Path); err == nil {
			label = env.Step
			if workflowID == "" {
				workflowID = env.Workflow
			}
			artifact.Status = string(env.Status)
			artifact.UpdatedAt = env.CreatedAt
		} else {
			artifact.Notes = "recovered; envelope unreadable"
		}
		artifacts = append(artifacts, artifact)

		switch {
		case label == "":
			label = e.ID
		case e.Type != envelope.TypeDelegation:
			label = fmt.Sprintf("%s (%s)", label, e.Type)
		}
		step := record.Step{
			Label:   label,
			Persona: e.Persona,
			Status:  record.StepCompleted,
			Notes:   fmt.Sprintf("recovered from %s (sequence %d)", e.ID, e.Sequence),
		}
		if i == len(entries)-1 {
			step.Status = record.StepInProgress
		}
		steps = append(steps, step)
	}
	status := record.StatusInProgress
	if len(steps) == 0 {
		steps = []record.Step{{Label: placeholderStep, Status: record.StepPending, Notes: "no envelopes found"}}
		status = record.StatusCreated
	}
	if workflowID == "" {
		workflowID = recoveredWorkflowID
	}

	rebuilt, err := r.records.Replace(record.Record{
		WorkflowID:       workflowID,
		Status:           status,
		CurrentStep:      steps[len(steps)-1].Label,
		CurrentStepIndex: len(steps),
		TotalSteps:       len(steps),
		SessionID:        sessionID,
		CreatedAt:        now,
		Context:          fmt.Sprintf("Rebuilt from %d envelope(s) after the index was unreadable.", len(entries)),
		Steps:            steps,
		Artifacts:        artifacts,
		Sessions:         []record.SessionEntry{{SessionID: sessionID, StartedAt: now, LastActiveAt: now, Status: record.SessionActive}},
	})
	if err != nil {
		return Report{}, err
	}
	issues := []string{fmt.Sprintf("record unreadable: %v", cause)}
	if preserved != "" {
		issues = append(issues, "damaged record kept at "+preserved)
	}
	r.logger.Warn("record rebuilt from envelopes", "session", sessionID, "steps", len(steps), "cause", cause)
	r.journal(sessionID).Warn("crash recovery rebuilt the record from %d envelope(s) into %d step(s)", len(entries), len(steps))
	return Report{Status: StatusRecovered, SessionID: sessionID, Record: rebuilt, Issues: issues}, nil
}

// lagPatch advances the record to target, completing skipped-over steps.
func lagPatch(rec record.Record, target int) record.Patch {
	patch := record.Patch{CurrentStepIndex: record.Ptr(target)}
	if step, ok := rec.StepAt(target); ok {
		patch.CurrentStep = record.Ptr(step.Label)
	}
	if rec.Status == record.StatusCreated {
		patch.Status = record.Ptr(record.StatusInProgress)
	}
	for i := rec.CurrentStepIndex; i < target; i++ {
		if step, ok := rec.StepAt(i); ok && step.Status != record.StepCompleted {
			patch.Steps = append(patch.Steps, record.StepPatch{Index: i, Status: record.StepCompleted, Notes: record.Ptr("completed per envelope log")})
		}
	}
	if step, ok := rec.StepAt(target); ok && step.Status == record.StepPending {
		patch.Steps = append(patch.Steps, record.StepPatch{Index: target, Status: record.StepInProgress})
	}
	return patch
}

// preserveDamaged copies an unreadable index aside so it stays inspectable.
func (r *Recoverer) preserveDamaged(sessionID string) string {
	path := r.records.Path(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	dest := fmt.Sprintf("%s.corrupt-%s", path, r.clock().UTC().Format("20060102T150405"))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		r.logger.Warn("could not preserve damaged record", "session", sessionID, "error", err)
		return ""
	}
	return dest
}

func (r *Recoverer) sessionExists(sessionID string) bool {
	info, err := os.Stat(r.ws.SessionDir(sessionID))
	return err == nil && info.IsDir()
}

func (r *Recoverer) journal(sessionID string) *logbook.Logbook {
	book, err := logbook.New(r.ws.JournalPath(sessionID))
	if err != nil {
		return nil
	}
	return book.WithClock(r.clock)
}

func diffRecords(before, after record.Record) string {
	a, errA := record.Encode(before)
	b, errB := record.Encode(after)
	if errA != nil || errB != nil {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: "index.md (before)",
		ToFile:   "index.md (after)",
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return diff
}
