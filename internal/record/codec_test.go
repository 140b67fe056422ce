package record

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func sampleRecord() Record {
	base := time.Date(2026, 10, 19, 9, 30, 0, 123456789, time.UTC)
	return Record{
		WorkflowID:       "bmad-greenfield",
		Status:           StatusInProgress,
		CurrentStep:      "create-spec",
		CurrentStepIndex: 2,
		TotalSteps:       3,
		SessionID:        "ses-20261019-093000-deadbeef",
		CreatedAt:        base,
		UpdatedAt:        base.Add(time.Minute),
		Revision:         7,
		Goal:             "# Not a heading\nBuild the | pipe-aware thing\n\\ leading backslash",
		Context:          "## Steps\nlooks like a section but is context",
		Steps: []Step{
			{Label: "create-prd", Persona: "libretto", Status: StepCompleted, StartedAt: base, CompletedAt: base.Add(time.Second), Notes: "approved | shipped"},
			{Label: "create-spec", Persona: "amadeus", Status: StepInProgress, StartedAt: base.Add(2 * time.Second), Notes: "delegated\nto amadeus"},
			{Label: "dev-story", Persona: "coda", Status: StepPending},
		},
		Artifacts: []Artifact{
			{Name: "001-delegation-libretto", Kind: "delegation", Status: "complete", UpdatedAt: base, Notes: `path\with\backslashes`},
			{Name: "002-delegation-amadeus", Kind: "delegation", Status: "pending", UpdatedAt: base.Add(time.Second)},
		},
		Decisions: []Decision{
			{Timestamp: base, ReferenceID: "001-result-libretto", Decision: DecisionRejected, Reviewer: "qa", Note: "missing | acceptance criteria"},
			{Timestamp: base.Add(time.Second), ReferenceID: "001-result-libretto", Decision: DecisionApproved, Reviewer: "qa"},
		},
		Sessions: []SessionEntry{
			{SessionID: "ses-20261019-093000-deadbeef", StartedAt: base, LastActiveAt: base.Add(time.Minute), Status: SessionActive},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := sampleRecord()
	data, err := Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v\n%s", err, data)
	}
	if !reflect.DeepEqual(rec, decoded) {
		t.Fatalf("round trip mismatch\nwant: %+v\ngot:  %+v", rec, decoded)
	}
}

func TestEncodeDecodeEmptyLogs(t *testing.T) {
	rec := sampleRecord()
	rec.Goal = ""
	rec.Context = ""
	rec.Artifacts = nil
	rec.Decisions = nil
	rec.Sessions = nil
	data, err := Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(rec, decoded) {
		t.Fatalf("round trip mismatch\nwant: %+v\ngot:  %+v", rec, decoded)
	}
}

func TestEncodeLayout(t *testing.T) {
	data, err := Encode(sampleRecord())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "---\nworkflow_id: bmad-greenfield\n") {
		t.Fatalf("unexpected header start:\n%s", text)
	}
	last := -1
	for _, heading := range []string{documentTitle, "## Goal", "## Steps", "## Artifacts", "## Decisions", "## Sessions", "## Context"} {
		idx := strings.Index(text, "\n"+heading+"\n")
		if idx < 0 {
			t.Fatalf("heading %q missing:\n%s", heading, text)
		}
		if idx <= last {
			t.Fatalf("heading %q out of order", heading)
		}
		last = idx
	}
	if !strings.Contains(text, "| 1 | create-prd | libretto | completed |") {
		t.Fatalf("steps table not rendered as expected:\n%s", text)
	}
}

func TestDecodeRejectsMalformedDocuments(t *testing.T) {
	valid, err := Encode(sampleRecord())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cases := map[string]string{
		"no header":          "# Pipeline Index\n",
		"unterminated":       "---\nworkflow_id: x\n",
		"bad status":         strings.Replace(string(valid), "workflow_status: in-progress", "workflow_status: paused", 1),
		"index out of range": strings.Replace(string(valid), "current_step_index: 2", "current_step_index: 9", 1),
		"step count":         strings.Replace(string(valid), "total_steps: 3", "total_steps: 2", 1),
		"missing section":    strings.Replace(string(valid), "## Sessions\n", "## Extra\n", 1),
		"bad step status":    strings.Replace(string(valid), "| dev-story | coda | pending |", "| dev-story | coda | waiting |", 1),
		"bad timestamp":      strings.Replace(string(valid), "created_at: ", "created_at: yesterday", 1),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(doc)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestEscapeCellRoundTrip(t *testing.T) {
	for _, value := range []string{"", "plain", "a|b", `a\b`, "line\nbreak", `\|\n`, `trailing\`} {
		got := unescapeCell(escapeCell(value))
		if got != value {
			t.Fatalf("escape round trip for %q returned %q", value, got)
		}
	}
}
