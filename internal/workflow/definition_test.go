package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/overture/internal/workspace"
)

func TestParseDefinitionYAMLRejectsMissingSteps(t *testing.T) {
	const payload = `
id: empty
steps: []
`
	_, err := ParseDefinitionYAML([]byte(payload))
	if err == nil {
		t.Fatalf("expected error when steps are missing")
	}
	if !strings.Contains(err.Error(), "at least one step is required") {
		t.Fatalf("unexpected error for missing steps: %v", err)
	}
}

func TestParseDefinitionYAMLRejectsBlankStep(t *testing.T) {
	const payload = `
id: blank
steps: [create-prd, "  "]
`
	_, err := ParseDefinitionYAML([]byte(payload))
	if err == nil || !strings.Contains(err.Error(), "step[1]") {
		t.Fatalf("expected blank step error, got %v", err)
	}
}

func TestParseDefinitionYAMLTrimsAndDefaultsName(t *testing.T) {
	const payload = `
id: " quick-fix "
steps:
  - " dev-story "
  - code-review
`
	def, err := ParseDefinitionYAML([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.ID != "quick-fix" || def.Name != "quick-fix" {
		t.Fatalf("unexpected id/name: %q %q", def.ID, def.Name)
	}
	if def.Steps[0] != "dev-story" {
		t.Fatalf("step not trimmed: %q", def.Steps[0])
	}
}

func writeDefinition(t *testing.T, ws *workspace.Workspace, name, body string) {
	t.Helper()
	if err := os.MkdirAll(ws.WorkflowsDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.WorkflowsDir(), name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadByID(t *testing.T) {
	ws := workspace.New(t.TempDir())
	writeDefinition(t, ws, "hotfix.yml", "steps: [dev-story, code-review]\n")

	def, err := Load(ws, "hotfix")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.ID != "hotfix" {
		t.Fatalf("id should come from the file name, got %q", def.ID)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %v", def.Steps)
	}

	if _, err := Load(ws, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := Load(ws, "../config"); err == nil {
		t.Fatalf("expected path ids to be rejected")
	}
}

func TestLoadAllSkipsBrokenFiles(t *testing.T) {
	ws := workspace.New(t.TempDir())
	writeDefinition(t, ws, "b.yaml", "id: beta\nsteps: [create-prd]\n")
	writeDefinition(t, ws, "a.yaml", "id: alpha\nname: Alpha\nsteps: [dev-story]\n")
	writeDefinition(t, ws, "broken.yaml", "id: broken\nsteps: [\n")
	writeDefinition(t, ws, "notes.txt", "ignored")

	defs, broken, err := LoadAll(ws)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(defs) != 2 || defs[0].ID != "alpha" || defs[1].ID != "beta" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if _, ok := broken["broken.yaml"]; !ok {
		t.Fatalf("expected broken.yaml to be reported, got %v", broken)
	}
}

func TestLoadAllMissingDirectory(t *testing.T) {
	defs, broken, err := LoadAll(workspace.New(t.TempDir()))
	if err != nil {
		t.Fatalf("missing dir should not fail: %v", err)
	}
	if len(defs) != 0 || len(broken) != 0 {
		t.Fatalf("expected nothing, got %v %v", defs, broken)
	}
}
