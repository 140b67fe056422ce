package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Project.Workflow.ID != defaultWorkflowID {
		t.Fatalf("expected default workflow %q, got %q", defaultWorkflowID, c.Project.Workflow.ID)
	}
	if got := strings.Join(c.DefaultSteps(), ","); got != "create-prd,create-spec,dev-story,code-review" {
		t.Fatalf("unexpected default steps: %s", got)
	}
	if c.BridgeAddr() != "127.0.0.1:8765" {
		t.Fatalf("unexpected bridge addr: %s", c.BridgeAddr())
	}
}

func TestInitDirWritesParsableDefault(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitDir(projectDir); err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	for _, dir := range []string{"sessions", "logs", "workflows"} {
		if info, err := os.Stat(filepath.Join(projectDir, ".overture", dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected .overture/%s to exist: %v", dir, err)
		}
	}
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load after init: %v", err)
	}
	if c.Project.Workflow.Orchestrator != "maestro" {
		t.Fatalf("unexpected orchestrator %q", c.Project.Workflow.Orchestrator)
	}

	custom := []byte("version: 2\n")
	if err := os.WriteFile(c.ProjectConfigPath(), custom, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := InitDir(projectDir); err != nil {
		t.Fatalf("second InitDir: %v", err)
	}
	data, err := os.ReadFile(c.ProjectConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(custom) {
		t.Fatalf("InitDir overwrote an existing config")
	}
}

func TestLoadParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	overtureDir := filepath.Join(projectDir, ".overture")
	if err := os.MkdirAll(overtureDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
workflow:
  id: brownfield-fix
  orchestrator: " conductor "
  steps:
    - triage
    - dev-story
routes:
  - step: triage
    persona: libretto
  - step: audit-*
    persona: rondo
bridge:
  enabled: true
  port: 9001
logging:
  level: DEBUG
`)
	if err := os.WriteFile(filepath.Join(overtureDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Workflow.ID != "brownfield-fix" || c.Project.Workflow.Orchestrator != "conductor" {
		t.Fatalf("unexpected workflow: %+v", c.Project.Workflow)
	}
	if len(c.Project.Routes) != 2 || c.Project.Routes[1].Step != "audit-*" {
		t.Fatalf("unexpected routes: %+v", c.Project.Routes)
	}
	if !c.Project.Bridge.Enabled || c.BridgeAddr() != "127.0.0.1:9001" {
		t.Fatalf("unexpected bridge: %+v", c.Project.Bridge)
	}
	if c.Project.Logging.Level != "debug" {
		t.Fatalf("level not normalized: %q", c.Project.Logging.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("OVERTURE_BRIDGE_PORT", "9100")
	t.Setenv("OVERTURE_LOG_LEVEL", "warn")
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Bridge.Port != 9100 {
		t.Fatalf("expected env port override, got %d", c.Project.Bridge.Port)
	}
	if c.Project.Logging.Level != "warn" {
		t.Fatalf("expected env level override, got %q", c.Project.Logging.Level)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"route without persona": "routes:\n  - step: triage\n",
		"bad port":              "bridge:\n  port: 70000\n",
		"bad level":             "logging:\n  level: loud\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			projectDir := t.TempDir()
			overtureDir := filepath.Join(projectDir, ".overture")
			if err := os.MkdirAll(overtureDir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(overtureDir, "config.yaml"), []byte(doc), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(projectDir); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestSetWorkflowPersists(t *testing.T) {
	projectDir := t.TempDir()
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.SetWorkflow("  ", nil); err == nil {
		t.Fatalf("expected error for blank workflow id")
	}
	if err := c.SetWorkflow("quick-fix", []string{"dev-story", "code-review"}); err != nil {
		t.Fatalf("SetWorkflow: %v", err)
	}
	reloaded, err := Load(projectDir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Project.Workflow.ID != "quick-fix" || len(reloaded.DefaultSteps()) != 2 {
		t.Fatalf("workflow not persisted: %+v", reloaded.Project.Workflow)
	}
}
