package record

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/overture/internal/workspace"
)

const testSession = "ses-20261019-101500-0a1b2c3d"

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newStoreHarness(t *testing.T) (*Store, *workspace.Workspace) {
	t.Helper()
	ws := workspace.New(t.TempDir())
	if err := ws.EnsureSession(testSession); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC)}
	return NewStore(ws, WithClock(clock.Now)), ws
}

func createFourStep(t *testing.T, store *Store) Record {
	t.Helper()
	rec, err := store.Create(CreateParams{
		WorkflowID: "bmad-greenfield",
		SessionID:  testSession,
		Goal:       "Ship the onboarding flow",
		Steps: []StepSpec{
			{Label: "create-prd", Persona: "libretto"},
			{Label: "create-spec", Persona: "amadeus"},
			{Label: "dev-story", Persona: "coda"},
			{Label: "code-review", Persona: "rondo"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

func TestCreateSeedsPendingSteps(t *testing.T) {
	store, _ := newStoreHarness(t)
	rec := createFourStep(t, store)
	if rec.Status != StatusCreated {
		t.Fatalf("status = %s, want created", rec.Status)
	}
	if rec.CurrentStepIndex != 1 || rec.TotalSteps != 4 || rec.CurrentStep != "create-prd" {
		t.Fatalf("unexpected position: %+v", rec)
	}
	for i, step := range rec.Steps {
		if step.Status != StepPending {
			t.Fatalf("step %d status = %s, want pending", i+1, step.Status)
		}
	}
	stored, err := store.Read(testSession)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if stored.Revision != 1 || stored.TotalSteps != 4 {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
}

func TestCreateTwiceFails(t *testing.T) {
	store, _ := newStoreHarness(t)
	createFourStep(t, store)
	_, err := store.Create(CreateParams{WorkflowID: "x", SessionID: testSession, Steps: []StepSpec{{Label: "a"}}})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestCreateRejectsBlankSteps(t *testing.T) {
	store, _ := newStoreHarness(t)
	if _, err := store.Create(CreateParams{WorkflowID: "x", SessionID: testSession}); err == nil {
		t.Fatalf("expected error for empty step list")
	}
	if _, err := store.Create(CreateParams{WorkflowID: "x", SessionID: testSession, Steps: []StepSpec{{Label: "a"}, {Label: "  "}}}); err == nil {
		t.Fatalf("expected error for blank step label")
	}
}

func TestReadMissingRecord(t *testing.T) {
	store, _ := newStoreHarness(t)
	if _, err := store.Read(testSession); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadCorruptRecordIsStructural(t *testing.T) {
	store, ws := newStoreHarness(t)
	if err := os.WriteFile(ws.IndexPath(testSession), []byte("---\nworkflow_id: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := store.Read(testSession)
	if !IsStructural(err) {
		t.Fatalf("expected structural error, got %v", err)
	}
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected structural error to wrap ErrMalformed, got %v", err)
	}
}

func TestUpdateAppliesOnlySuppliedFields(t *testing.T) {
	store, _ := newStoreHarness(t)
	created := createFourStep(t, store)
	updated, err := store.Update(testSession, Patch{Status: Ptr(StatusInProgress)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusInProgress {
		t.Fatalf("status = %s", updated.Status)
	}
	if updated.CurrentStepIndex != created.CurrentStepIndex || updated.CurrentStep != created.CurrentStep {
		t.Fatalf("position changed unexpectedly: %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updatedAt not stamped: %v vs %v", updated.UpdatedAt, created.UpdatedAt)
	}
	if updated.Revision != created.Revision+1 {
		t.Fatalf("revision = %d, want %d", updated.Revision, created.Revision+1)
	}
}

func TestUpdateIllegalTransitionLeavesRecordUntouched(t *testing.T) {
	store, ws := newStoreHarness(t)
	createFourStep(t, store)
	before, err := os.ReadFile(ws.IndexPath(testSession))
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Update(testSession, Patch{Status: Ptr(StatusComplete), CurrentStepIndex: Ptr(2)})
	var transition *TransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transition.From != StatusCreated || transition.To != StatusComplete {
		t.Fatalf("unexpected transition pair: %+v", transition)
	}
	if !strings.Contains(err.Error(), "created -> complete") {
		t.Fatalf("error should name the pair: %v", err)
	}
	after, err := os.ReadFile(ws.IndexPath(testSession))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("record changed after rejected transition")
	}
}

func TestUpdateRejectsOutOfRangeIndex(t *testing.T) {
	store, _ := newStoreHarness(t)
	createFourStep(t, store)
	if _, err := store.Update(testSession, Patch{CurrentStepIndex: Ptr(5)}); err == nil {
		t.Fatalf("expected range error")
	}
	if _, err := store.Update(testSession, Patch{Steps: []StepPatch{{Index: 0, Status: StepCompleted}}}); err == nil {
		t.Fatalf("expected step range error")
	}
}

func TestUpdateExpectRevisionConflict(t *testing.T) {
	store, _ := newStoreHarness(t)
	rec := createFourStep(t, store)
	if _, err := store.Update(testSession, Patch{Status: Ptr(StatusInProgress), ExpectRevision: Ptr(rec.Revision)}); err != nil {
		t.Fatalf("update with matching revision: %v", err)
	}
	_, err := store.Update(testSession, Patch{Status: Ptr(StatusBlocked), ExpectRevision: Ptr(rec.Revision)})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateStepPatches(t *testing.T) {
	store, _ := newStoreHarness(t)
	createFourStep(t, store)
	started := time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)
	rec, err := store.Update(testSession, Patch{Steps: []StepPatch{{
		Index:     2,
		Status:    StepInProgress,
		StartedAt: &started,
		Notes:     Ptr("delegated to amadeus"),
	}}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	step, _ := rec.StepAt(2)
	if step.Status != StepInProgress || !step.StartedAt.Equal(started) || step.Notes != "delegated to amadeus" {
		t.Fatalf("unexpected step: %+v", step)
	}
	if _, err := store.Update(testSession, Patch{Steps: []StepPatch{{Index: 1, Status: "done"}}}); err == nil {
		t.Fatalf("expected unknown step status error")
	}
}

func TestAppendsNeverRemoveEntries(t *testing.T) {
	store, _ := newStoreHarness(t)
	createFourStep(t, store)
	for i, kind := range []DecisionKind{DecisionRejected, DecisionApproved, DecisionSkipped} {
		rec, err := store.AppendDecision(testSession, Decision{ReferenceID: "001-result-libretto", Decision: kind, Reviewer: "qa"})
		if err != nil {
			t.Fatalf("append decision: %v", err)
		}
		if len(rec.Decisions) != i+1 {
			t.Fatalf("decisions = %d, want %d", len(rec.Decisions), i+1)
		}
		if rec.Decisions[0].Decision != DecisionRejected {
			t.Fatalf("first decision rewritten: %+v", rec.Decisions[0])
		}
	}
	rec, err := store.AppendArtifact(testSession, Artifact{Name: "001-delegation-libretto", Kind: "delegation", Status: "pending"})
	if err != nil {
		t.Fatalf("append artifact: %v", err)
	}
	if len(rec.Artifacts) != 1 || len(rec.Decisions) != 3 {
		t.Fatalf("unexpected log sizes: %d artifacts, %d decisions", len(rec.Artifacts), len(rec.Decisions))
	}
	if !rec.HasDecision("001-result-libretto", DecisionApproved) {
		t.Fatalf("expected approved decision to be found")
	}
	if _, err := store.AppendDecision(testSession, Decision{ReferenceID: "x"}); err == nil {
		t.Fatalf("expected error for decision without kind")
	}
}

func TestSessionEntries(t *testing.T) {
	store, _ := newStoreHarness(t)
	createFourStep(t, store)
	if _, err := store.TouchSession(testSession, SessionEnded); err == nil {
		t.Fatalf("expected error touching a record without sessions")
	}
	rec, err := store.AppendSession(testSession, SessionEntry{})
	if err != nil {
		t.Fatalf("append session: %v", err)
	}
	if len(rec.Sessions) != 1 || rec.Sessions[0].SessionID != testSession || rec.Sessions[0].Status != SessionActive {
		t.Fatalf("unexpected session entry: %+v", rec.Sessions)
	}
	first := rec.Sessions[0]
	rec, err = store.TouchSession(testSession, SessionEnded)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if rec.Sessions[0].Status != SessionEnded || !rec.Sessions[0].LastActiveAt.After(first.LastActiveAt) {
		t.Fatalf("touch did not stamp entry: %+v", rec.Sessions[0])
	}
}

func TestInterruptedWriteLeavesOriginalIntact(t *testing.T) {
	store, ws := newStoreHarness(t)
	createFourStep(t, store)
	path := ws.IndexPath(testSession)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	original := rename
	rename = func(oldpath, newpath string) error {
		return errors.New("simulated crash before rename")
	}
	t.Cleanup(func() { rename = original })

	if _, err := store.Update(testSession, Patch{Status: Ptr(StatusInProgress)}); err == nil {
		t.Fatalf("expected update to fail when rename is interrupted")
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("original record modified by interrupted write")
	}
	rec, err := store.Read(testSession)
	if err != nil {
		t.Fatalf("record no longer parses: %v", err)
	}
	if rec.Status != StatusCreated {
		t.Fatalf("status = %s, want created", rec.Status)
	}
	if filepath.Ext(path) == ".tmp" {
		t.Fatalf("canonical path must not be a temp file")
	}
}

func TestOrphanedTempFileIsIgnored(t *testing.T) {
	store, ws := newStoreHarness(t)
	createFourStep(t, store)
	orphan := filepath.Join(ws.SessionDir(testSession), ".index.md.123.tmp")
	if err := os.WriteFile(orphan, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := store.Read(testSession)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.TotalSteps != 4 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestReplaceSupersedesCorruptRecord(t *testing.T) {
	store, ws := newStoreHarness(t)
	if err := os.WriteFile(ws.IndexPath(testSession), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := store.Replace(Record{
		WorkflowID:       "recovered",
		Status:           StatusInProgress,
		CurrentStep:      "step-1",
		CurrentStepIndex: 1,
		TotalSteps:       1,
		SessionID:        testSession,
		Steps:            []Step{{Label: "step-1", Status: StepInProgress}},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	stored, err := store.Read(testSession)
	if err != nil {
		t.Fatalf("read replaced: %v", err)
	}
	if stored.WorkflowID != "recovered" || stored.Revision != rec.Revision {
		t.Fatalf("unexpected replacement: %+v", stored)
	}
}

func TestPaddedCellValuesSurviveRoundTrip(t *testing.T) {
	store, _ := newStoreHarness(t)
	createFourStep(t, store)
	if _, err := store.AppendDecision(testSession, Decision{ReferenceID: " 001-result-libretto ", Decision: DecisionApproved, Reviewer: " alice "}); err != nil {
		t.Fatalf("append decision: %v", err)
	}
	if _, err := store.AppendArtifact(testSession, Artifact{Name: "prd.md", Kind: " document ", Status: " ready "}); err != nil {
		t.Fatalf("append artifact: %v", err)
	}
	written, err := store.AppendSession(testSession, SessionEntry{SessionID: " resume-1 "})
	if err != nil {
		t.Fatalf("append session: %v", err)
	}
	read, err := store.Read(testSession)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(written, read) {
		t.Fatalf("record changed across a write/read cycle:\nwritten %+v\nread    %+v", written, read)
	}
	if read.Decisions[0].Reviewer != "alice" || read.Sessions[0].SessionID != "resume-1" {
		t.Fatalf("values not trimmed: %+v %+v", read.Decisions[0], read.Sessions[0])
	}
}

func TestReplaceTrimsCells(t *testing.T) {
	store, _ := newStoreHarness(t)
	rec := createFourStep(t, store)
	rec.Steps[0].Persona = " libretto "
	rec.Decisions = []Decision{{Timestamp: rec.CreatedAt, ReferenceID: " ref ", Decision: DecisionSkipped, Reviewer: " bob "}}
	written, err := store.Replace(rec)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	read, err := store.Read(testSession)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(written, read) {
		t.Fatalf("record changed across replace/read:\nwritten %+v\nread    %+v", written, read)
	}
}

func TestInvalidSessionIDsAreRejected(t *testing.T) {
	store, _ := newStoreHarness(t)
	for _, id := range []string{"../escaped", "ses-../../x", ""} {
		if _, err := store.Read(id); !errors.Is(err, workspace.ErrInvalidSessionID) {
			t.Fatalf("Read(%q): expected ErrInvalidSessionID, got %v", id, err)
		}
		if _, err := store.Update(id, Patch{}); !errors.Is(err, workspace.ErrInvalidSessionID) {
			t.Fatalf("Update(%q): expected ErrInvalidSessionID, got %v", id, err)
		}
	}
	_, err := store.Create(CreateParams{WorkflowID: "w", SessionID: "../../x", Steps: []StepSpec{{Label: "a"}}})
	if !errors.Is(err, workspace.ErrInvalidSessionID) {
		t.Fatalf("Create: expected ErrInvalidSessionID, got %v", err)
	}
}
