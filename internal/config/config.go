// internal/config/config.go
//
// This package handles configuration and the .overture directory structure.
// Every project that runs pipelines gets a .overture/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/overture/internal/workspace"
)

const (
	// EnvPrefix scopes environment overrides, e.g. OVERTURE_BRIDGE_PORT.
	EnvPrefix = "OVERTURE"

	defaultWorkflowID   = "bmad-greenfield"
	defaultOrchestrator = "maestro"
	defaultBridgeHost   = "127.0.0.1"
	defaultBridgePort   = 8765
	defaultLogLevel     = "info"
)

var defaultSteps = []string{"create-prd", "create-spec", "dev-story", "code-review"}

const defaultProjectConfigYAML = `# overture project configuration
version: 1

workflow:
  id: bmad-greenfield
  # Persona named as the source of every delegation.
  orchestrator: maestro
  steps:
    - create-prd
    - create-spec
    - dev-story
    - code-review

# Extra routes layered over the built-in table. Step may be a glob such as review-*.
routes: []
#  - step: security-review
#    persona: rondo

bridge:
  enabled: false
  host: 127.0.0.1
  port: 8765

logging:
  level: info
  file: true
`

// RouteConfig maps a step name (or glob) to a persona.
type RouteConfig struct {
	Step    string `yaml:"step" mapstructure:"step"`
	Persona string `yaml:"persona" mapstructure:"persona"`
}

// WorkflowConfig captures the default pipeline definition.
type WorkflowConfig struct {
	ID           string   `yaml:"id" mapstructure:"id"`
	Orchestrator string   `yaml:"orchestrator" mapstructure:"orchestrator"`
	Steps        []string `yaml:"steps" mapstructure:"steps"`
}

// BridgeConfig controls the event bridge listener.
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host" mapstructure:"host"`
	Port    int    `yaml:"port" mapstructure:"port"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  bool   `yaml:"file" mapstructure:"file"`
}

// ProjectConfig models .overture/config.yaml.
type ProjectConfig struct {
	Version  int            `yaml:"version" mapstructure:"version"`
	Workflow WorkflowConfig `yaml:"workflow" mapstructure:"workflow"`
	Routes   []RouteConfig  `yaml:"routes" mapstructure:"routes"`
	Bridge   BridgeConfig   `yaml:"bridge" mapstructure:"bridge"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// Config holds the runtime configuration for a project.
type Config struct {
	// ProjectDir is the directory containing .overture
	ProjectDir string

	Workspace *workspace.Workspace

	Project ProjectConfig
}

// InitDir creates the .overture directory structure in the given project
// directory and writes a default config.yaml if none exists.
//
// Structure created:
// .overture/
// ├── config.yaml
// ├── logs/
// ├── workflows/
// └── sessions/
//
//	└── ses-YYYYMMDD-HHMMSS-xxxxxxxx/
//	    ├── index.md
//	    ├── journal.log
//	    └── envelopes/
func InitDir(projectDir string) error {
	ws := workspace.New(projectDir)
	for _, dir := range []string{ws.SessionsDir(), ws.LogsDir(), ws.WorkflowsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(ws.ConfigPath())
}

// Load reads .overture/config.yaml (if present) and applies OVERTURE_*
// environment overrides on top of the defaults.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		Workspace:  workspace.New(projectDir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return c.Workspace.ConfigPath()
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return c.Workspace.LogsDir()
}

// DefaultSteps returns the configured default step list.
func (c *Config) DefaultSteps() []string {
	return append([]string(nil), c.Project.Workflow.Steps...)
}

// BridgeAddr returns host:port for the event bridge.
func (c *Config) BridgeAddr() string {
	return fmt.Sprintf("%s:%d", c.Project.Bridge.Host, c.Project.Bridge.Port)
}

// SetWorkflow updates the default workflow and persists it back to
// .overture/config.yaml.
func (c *Config) SetWorkflow(id string, steps []string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("config: workflow id is required")
	}
	c.Project.Workflow.ID = id
	if len(steps) > 0 {
		c.Project.Workflow.Steps = append([]string(nil), steps...)
	}
	return c.Save()
}

func (c *Config) loadProjectConfig() error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.BindEnv("logging.level", EnvPrefix+"_LOG_LEVEL", EnvPrefix+"_LOGGING_LEVEL"); err != nil {
		return fmt.Errorf("config: bind env: %w", err)
	}

	path := c.ProjectConfigPath()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := v.Unmarshal(&parsed); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func setDefaults(v *viper.Viper) {
	def := defaultProjectConfig()
	v.SetDefault("version", def.Version)
	v.SetDefault("workflow.id", def.Workflow.ID)
	v.SetDefault("workflow.orchestrator", def.Workflow.Orchestrator)
	v.SetDefault("workflow.steps", def.Workflow.Steps)
	v.SetDefault("bridge.enabled", def.Bridge.Enabled)
	v.SetDefault("bridge.host", def.Bridge.Host)
	v.SetDefault("bridge.port", def.Bridge.Port)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Workflow: WorkflowConfig{
			ID:           defaultWorkflowID,
			Orchestrator: defaultOrchestrator,
			Steps:        append([]string(nil), defaultSteps...),
		},
		Bridge: BridgeConfig{
			Host: defaultBridgeHost,
			Port: defaultBridgePort,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
			File:  true,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Workflow.ID) == "" {
		pc.Workflow.ID = defaultWorkflowID
	}
	if strings.TrimSpace(pc.Workflow.Orchestrator) == "" {
		pc.Workflow.Orchestrator = defaultOrchestrator
	}
	if len(pc.Workflow.Steps) == 0 {
		pc.Workflow.Steps = append([]string(nil), defaultSteps...)
	}
	if strings.TrimSpace(pc.Bridge.Host) == "" {
		pc.Bridge.Host = defaultBridgeHost
	}
	if pc.Bridge.Port == 0 {
		pc.Bridge.Port = defaultBridgePort
	}
	if strings.TrimSpace(pc.Logging.Level) == "" {
		pc.Logging.Level = defaultLogLevel
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Workflow.ID = strings.TrimSpace(pc.Workflow.ID)
	pc.Workflow.Orchestrator = strings.TrimSpace(pc.Workflow.Orchestrator)
	for i := range pc.Workflow.Steps {
		pc.Workflow.Steps[i] = strings.TrimSpace(pc.Workflow.Steps[i])
	}
	for i := range pc.Routes {
		pc.Routes[i].Step = strings.TrimSpace(pc.Routes[i].Step)
		pc.Routes[i].Persona = strings.TrimSpace(pc.Routes[i].Persona)
	}
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	for i, step := range pc.Workflow.Steps {
		if step == "" {
			return fmt.Errorf("workflow.steps[%d]: step name is required", i)
		}
	}
	for i, route := range pc.Routes {
		if route.Step == "" {
			return fmt.Errorf("routes[%d]: step is required", i)
		}
		if route.Persona == "" {
			return fmt.Errorf("routes[%d]: persona is required", i)
		}
	}
	if pc.Bridge.Port < 1 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	switch pc.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

// Save validates the project config and writes it to .overture/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.Workspace.Root(), 0o755); err != nil {
		return fmt.Errorf("config: ensure overture dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
