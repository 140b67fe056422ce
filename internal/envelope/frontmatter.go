package envelope

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

const (
	headingTask        = "## Task"
	headingContext     = "## Context"
	headingConstraints = "## Constraints"
	headingOutput      = "## Output"
	headingNotes       = "## Notes"
)

type frontMatter struct {
	Envelope envelopeMeta `yaml:"envelope"`
}

type envelopeMeta struct {
	ID       string `yaml:"id"`
	Session  string `yaml:"session"`
	Workflow string `yaml:"workflow,omitempty"`
	Sequence int    `yaml:"sequence"`
	Type     string `yaml:"type"`
	Step     string `yaml:"step,omitempty"`
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	Status   string `yaml:"status"`
	Created  string `yaml:"created"`
}

// Parse extracts the metadata block and sections from a document that starts
// with `---` YAML fences. Unknown type or status values are returned as-is so
// Validate can report them.
func Parse(content []byte) (Metadata, Sections, error) {
	if len(content) == 0 {
		return Metadata{}, Sections{}, ErrMissingFrontMatter
	}
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, Sections{}, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, Sections{}, ErrMalformedFrontMatter
	}
	var fm frontMatter
	if err := yaml.Unmarshal(parts[0], &fm); err != nil {
		return Metadata{}, Sections{}, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	meta, err := fm.Envelope.toMetadata()
	if err != nil {
		return Metadata{}, Sections{}, err
	}
	return meta, parseSections(string(parts[1])), nil
}

// Render writes metadata and sections as a complete document.
func Render(meta Metadata, sections Sections) ([]byte, error) {
	if meta.ID == "" {
		return nil, fmt.Errorf("envelope: metadata missing id")
	}
	fm := frontMatter{Envelope: envelopeMeta{
		ID:       meta.ID,
		Session:  meta.Session,
		Workflow: meta.Workflow,
		Sequence: meta.Sequence,
		Type:     string(meta.Type),
		Step:     meta.Step,
		Source:   meta.Source,
		Target:   meta.Target,
		Status:   string(meta.Status),
		Created:  meta.CreatedAt.UTC().Format(timeLayout),
	}}
	data, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	writeSection(&buf, headingTask, sections.Task)
	writeSection(&buf, headingContext, sections.Context)
	writeSection(&buf, headingConstraints, renderBullets(sections.Constraints))
	writeSection(&buf, headingOutput, sections.Output)
	writeSection(&buf, headingNotes, sections.Notes)
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (m envelopeMeta) toMetadata() (Metadata, error) {
	if m.ID == "" || m.Session == "" || m.Type == "" {
		return Metadata{}, fmt.Errorf("%w: id, session and type are required", ErrMalformedFrontMatter)
	}
	var created time.Time
	if strings.TrimSpace(m.Created) != "" {
		t, err := time.Parse(timeLayout, m.Created)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: created: %v", ErrMalformedFrontMatter, err)
		}
		created = t.UTC()
	}
	return Metadata{
		ID:        m.ID,
		Session:   m.Session,
		Workflow:  m.Workflow,
		Sequence:  m.Sequence,
		Type:      Type(m.Type),
		Step:      m.Step,
		Source:    m.Source,
		Target:    m.Target,
		Status:    Status(m.Status),
		CreatedAt: created,
	}, nil
}

func writeSection(buf *bytes.Buffer, heading, text string) {
	buf.WriteString(heading + "\n\n")
	text = strings.TrimSpace(text)
	if text != "" {
		buf.WriteString(text + "\n\n")
	}
}

func renderBullets(items []string) string {
	var b strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		b.WriteString("- " + item + "\n")
	}
	return b.String()
}

func parseSections(body string) Sections {
	collected := map[string][]string{}
	current := ""
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "## ") {
			current = strings.TrimSpace(line)
			continue
		}
		if current == "" {
			continue
		}
		collected[current] = append(collected[current], line)
	}
	text := func(heading string) string {
		return strings.TrimSpace(strings.Join(collected[heading], "\n"))
	}
	var constraints []string
	for _, line := range collected[headingConstraints] {
		line = strings.TrimSpace(line)
		if item, ok := strings.CutPrefix(line, "- "); ok {
			if item = strings.TrimSpace(item); item != "" {
				constraints = append(constraints, item)
			}
		}
	}
	return Sections{
		Task:        text(headingTask),
		Context:     text(headingContext),
		Constraints: constraints,
		Output:      text(headingOutput),
		Notes:       text(headingNotes),
	}
}
