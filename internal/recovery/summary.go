package recovery

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Summary is the compact snapshot carried across an interruption. It is never
// authoritative: the pipeline record wins whenever both exist.
type Summary struct {
	SessionID   string `yaml:"session_id"`
	WorkflowID  string `yaml:"workflow_id"`
	CurrentStep string `yaml:"current_step"`
	Status      string `yaml:"status,omitempty"`
}

// Encode renders the summary as a small YAML document.
func (s Summary) Encode() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("recovery: encode summary: %w", err)
	}
	return bytes.TrimRight(data, "\n"), nil
}

// ParseSummary reads a summary produced by Encode. Surrounding prose and
// fences are tolerated so a summary pasted back from a transcript still
// parses.
func ParseSummary(data []byte) (Summary, error) {
	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(text, "```yaml")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimPrefix(strings.TrimSpace(text), "---")
	var s Summary
	if err := yaml.Unmarshal([]byte(text), &s); err != nil {
		return Summary{}, fmt.Errorf("recovery: parse summary: %w", err)
	}
	s.SessionID = strings.TrimSpace(s.SessionID)
	s.WorkflowID = strings.TrimSpace(s.WorkflowID)
	s.CurrentStep = strings.TrimSpace(s.CurrentStep)
	s.Status = strings.TrimSpace(s.Status)
	return s, nil
}

// Missing lists the required fields that are empty.
func (s Summary) Missing() []string {
	var missing []string
	if strings.TrimSpace(s.SessionID) == "" {
		missing = append(missing, "session_id")
	}
	if strings.TrimSpace(s.WorkflowID) == "" {
		missing = append(missing, "workflow_id")
	}
	if strings.TrimSpace(s.CurrentStep) == "" {
		missing = append(missing, "current_step")
	}
	return missing
}
