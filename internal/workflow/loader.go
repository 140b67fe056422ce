package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/overture/internal/workspace"
)

// ErrNotFound is returned when no definition file exists for an id.
var ErrNotFound = errors.New("workflow: definition not found")

var extensions = []string{".yaml", ".yml"}

// ParseDefinitionYAML decodes a workflow definition from YAML bytes.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("workflow: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return def.Normalized()
}

// LoadDefinitionFile loads a workflow definition from an explicit file path.
// A definition without an id takes it from the file name.
func LoadDefinitionFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Definition{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return Definition{}, fmt.Errorf("workflow: %s: definition payload is empty", path)
	}
	var def Definition
	if err := yaml.Unmarshal(content, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: %s: decode definition: %w", path, err)
	}
	if strings.TrimSpace(def.ID) == "" {
		def.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	def, err = def.Normalized()
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return def, nil
}

// Load resolves a definition by id from the workspace workflows directory.
func Load(ws *workspace.Workspace, id string) (Definition, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) {
		return Definition{}, fmt.Errorf("workflow: invalid id %q", id)
	}
	for _, ext := range extensions {
		def, err := LoadDefinitionFile(filepath.Join(ws.WorkflowsDir(), id+ext))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return def, err
	}
	return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// LoadAll reads every definition in the workflows directory, sorted by id.
// Files that fail to parse are reported through the returned error map and
// skipped.
func LoadAll(ws *workspace.Workspace) ([]Definition, map[string]error, error) {
	dir := ws.WorkflowsDir()
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "*.{yaml,yml}")
	if err != nil {
		return nil, nil, fmt.Errorf("workflow: list %s: %w", dir, err)
	}
	var defs []Definition
	broken := map[string]error{}
	for _, name := range matches {
		def, err := LoadDefinitionFile(filepath.Join(dir, name))
		if err != nil {
			broken[name] = err
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, broken, nil
}
