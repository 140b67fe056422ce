package workflow

import (
	"fmt"
	"strings"
)

// Definition names an ordered list of steps that can seed a pipeline.
type Definition struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Steps       []string          `yaml:"steps"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := def
	clone.Steps = append([]string(nil), def.Steps...)
	if len(def.Metadata) > 0 {
		clone.Metadata = make(map[string]string, len(def.Metadata))
		for k, v := range def.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Validate ensures the definition can seed a pipeline.
func (def Definition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("workflow: id is required")
	}
	if strings.ContainsAny(def.ID, `/\`) {
		return fmt.Errorf("workflow %s: id must not contain path separators", def.ID)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", def.ID)
	}
	for idx, step := range def.Steps {
		if step == "" {
			return fmt.Errorf("workflow %s step[%d]: name is required", def.ID, idx)
		}
	}
	return nil
}

// Normalized clones the definition, trims names and validates the result.
// Name defaults to the id.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.Name = strings.TrimSpace(clone.Name)
	clone.Description = strings.TrimSpace(clone.Description)
	for i := range clone.Steps {
		clone.Steps[i] = strings.TrimSpace(clone.Steps[i])
	}
	if clone.Name == "" {
		clone.Name = clone.ID
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}
