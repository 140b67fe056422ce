// Package envelope reads and writes the markdown documents that carry a unit
// of work between the orchestrator and a persona. Each envelope has a YAML
// frontmatter block followed by fixed sections.
package envelope

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type identifies the direction and purpose of an envelope.
type Type string

const (
	// TypeDelegation assigns a step to a persona.
	TypeDelegation Type = "delegation"
	// TypeResult carries a persona's output back to the orchestrator.
	TypeResult Type = "result"
	// TypeRevision asks the persona to rework a rejected result.
	TypeRevision Type = "revision"
)

// Valid reports whether t is a known envelope type.
func (t Type) Valid() bool {
	switch t {
	case TypeDelegation, TypeResult, TypeRevision:
		return true
	default:
		return false
	}
}

// Status is the self-reported state written into the envelope.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusBlocked  Status = "blocked"
	StatusPartial  Status = "partial"
)

// Valid reports whether s is a known envelope status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusComplete, StatusBlocked, StatusPartial:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound indicates the referenced envelope does not exist.
	ErrNotFound = errors.New("envelope: not found")
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("envelope: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("envelope: malformed frontmatter")
)

// Metadata is the frontmatter block.
type Metadata struct {
	ID        string
	Session   string
	Workflow  string
	Sequence  int
	Type      Type
	Step      string
	Source    string
	Target    string
	Status    Status
	CreatedAt time.Time
}

// Sections holds the body of an envelope.
type Sections struct {
	Task        string
	Context     string
	Constraints []string
	Output      string
	Notes       string
}

// Envelope is a parsed document.
type Envelope struct {
	Path string
	Metadata
	Sections
}

// Payload describes a new envelope to write.
type Payload struct {
	Session     string
	Workflow    string
	Sequence    int
	Type        Type
	Step        string
	Source      string
	Target      string
	Status      Status
	Task        string
	Context     string
	Constraints []string
	Output      string
	Notes       string
}

func (p Payload) validate() error {
	if strings.TrimSpace(p.Session) == "" {
		return fmt.Errorf("envelope: session is required")
	}
	if p.Sequence < 1 {
		return fmt.Errorf("envelope: sequence must be >= 1")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("envelope: unknown type %q", p.Type)
	}
	if p.Status != "" && !p.Status.Valid() {
		return fmt.Errorf("envelope: unknown status %q", p.Status)
	}
	if strings.TrimSpace(p.Source) == "" || strings.TrimSpace(p.Target) == "" {
		return fmt.Errorf("envelope: source and target are required")
	}
	return nil
}

// Ref locates a written envelope. ID is the file stem and doubles as the
// reference id used in decisions.
type Ref struct {
	ID   string
	Path string
}
