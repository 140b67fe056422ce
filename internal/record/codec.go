package record

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const timeLayout = time.RFC3339Nano

const documentTitle = "# Pipeline Index"

// Section headings in the order they appear in the document.
const (
	sectionGoal      = "## Goal"
	sectionSteps     = "## Steps"
	sectionArtifacts = "## Artifacts"
	sectionDecisions = "## Decisions"
	sectionSessions  = "## Sessions"
	sectionContext   = "## Context"
)

var sectionOrder = []string{
	sectionGoal,
	sectionSteps,
	sectionArtifacts,
	sectionDecisions,
	sectionSessions,
	sectionContext,
}

var (
	stepColumns     = []string{"#", "Step", "Persona", "Status", "Started", "Completed", "Notes"}
	artifactColumns = []string{"Name", "Kind", "Status", "Updated", "Notes"}
	decisionColumns = []string{"Timestamp", "Reference", "Decision", "Reviewer", "Note"}
	sessionColumns  = []string{"Session", "Started", "Last Active", "Status"}
)

type header struct {
	WorkflowID       string `yaml:"workflow_id"`
	Status           string `yaml:"workflow_status"`
	CurrentStep      string `yaml:"current_step"`
	CurrentStepIndex int    `yaml:"current_step_index"`
	TotalSteps       int    `yaml:"total_steps"`
	SessionID        string `yaml:"session_id"`
	CreatedAt        string `yaml:"created_at"`
	UpdatedAt        string `yaml:"updated_at"`
	Revision         int    `yaml:"revision"`
}

// Encode renders a record as a markdown document with a YAML header block.
func Encode(rec Record) ([]byte, error) {
	if rec.SessionID == "" {
		return nil, fmt.Errorf("record: session id is required")
	}
	h := header{
		WorkflowID:       rec.WorkflowID,
		Status:           string(rec.Status),
		CurrentStep:      rec.CurrentStep,
		CurrentStepIndex: rec.CurrentStepIndex,
		TotalSteps:       rec.TotalSteps,
		SessionID:        rec.SessionID,
		CreatedAt:        formatTime(rec.CreatedAt),
		UpdatedAt:        formatTime(rec.UpdatedAt),
		Revision:         rec.Revision,
	}
	meta, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("record: encode header: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(meta, "\n"))
	buf.WriteString("\n---\n\n")
	buf.WriteString(documentTitle + "\n\n")

	writeText(&buf, sectionGoal, rec.Goal)

	rows := make([][]string, 0, len(rec.Steps))
	for i, step := range rec.Steps {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			step.Label,
			step.Persona,
			string(step.Status),
			formatTime(step.StartedAt),
			formatTime(step.CompletedAt),
			step.Notes,
		})
	}
	writeTable(&buf, sectionSteps, stepColumns, rows)

	rows = rows[:0]
	for _, a := range rec.Artifacts {
		rows = append(rows, []string{a.Name, a.Kind, a.Status, formatTime(a.UpdatedAt), a.Notes})
	}
	writeTable(&buf, sectionArtifacts, artifactColumns, rows)

	rows = rows[:0]
	for _, d := range rec.Decisions {
		rows = append(rows, []string{formatTime(d.Timestamp), d.ReferenceID, string(d.Decision), d.Reviewer, d.Note})
	}
	writeTable(&buf, sectionDecisions, decisionColumns, rows)

	rows = rows[:0]
	for _, s := range rec.Sessions {
		rows = append(rows, []string{s.SessionID, formatTime(s.StartedAt), formatTime(s.LastActiveAt), string(s.Status)})
	}
	writeTable(&buf, sectionSessions, sessionColumns, rows)

	writeText(&buf, sectionContext, rec.Context)
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a document produced by Encode. Every failure wraps ErrMalformed.
func Decode(content []byte) (Record, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Record{}, malformed("missing header block")
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Record{}, malformed("unterminated header block")
	}
	var h header
	if err := yaml.Unmarshal(parts[0], &h); err != nil {
		return Record{}, malformed("parse header: %v", err)
	}
	rec, err := h.toRecord()
	if err != nil {
		return Record{}, err
	}

	sections, err := splitSections(string(parts[1]))
	if err != nil {
		return Record{}, err
	}
	rec.Goal = readText(sections[sectionGoal])
	rec.Context = readText(sections[sectionContext])

	stepRows, err := readTable(sectionSteps, sections[sectionSteps], stepColumns)
	if err != nil {
		return Record{}, err
	}
	for i, row := range stepRows {
		if row[0] != strconv.Itoa(i+1) {
			return Record{}, malformed("steps row %d numbered %q", i+1, row[0])
		}
		status := StepStatus(row[3])
		if !status.Valid() {
			return Record{}, malformed("steps row %d: unknown status %q", i+1, row[3])
		}
		started, err := parseTime(row[4])
		if err != nil {
			return Record{}, err
		}
		completed, err := parseTime(row[5])
		if err != nil {
			return Record{}, err
		}
		rec.Steps = append(rec.Steps, Step{
			Label:       row[1],
			Persona:     row[2],
			Status:      status,
			StartedAt:   started,
			CompletedAt: completed,
			Notes:       row[6],
		})
	}

	artifactRows, err := readTable(sectionArtifacts, sections[sectionArtifacts], artifactColumns)
	if err != nil {
		return Record{}, err
	}
	for _, row := range artifactRows {
		updated, err := parseTime(row[3])
		if err != nil {
			return Record{}, err
		}
		rec.Artifacts = append(rec.Artifacts, Artifact{Name: row[0], Kind: row[1], Status: row[2], UpdatedAt: updated, Notes: row[4]})
	}

	decisionRows, err := readTable(sectionDecisions, sections[sectionDecisions], decisionColumns)
	if err != nil {
		return Record{}, err
	}
	for _, row := range decisionRows {
		ts, err := parseTime(row[0])
		if err != nil {
			return Record{}, err
		}
		rec.Decisions = append(rec.Decisions, Decision{Timestamp: ts, ReferenceID: row[1], Decision: DecisionKind(row[2]), Reviewer: row[3], Note: row[4]})
	}

	sessionRows, err := readTable(sectionSessions, sections[sectionSessions], sessionColumns)
	if err != nil {
		return Record{}, err
	}
	for _, row := range sessionRows {
		started, err := parseTime(row[1])
		if err != nil {
			return Record{}, err
		}
		active, err := parseTime(row[2])
		if err != nil {
			return Record{}, err
		}
		rec.Sessions = append(rec.Sessions, SessionEntry{SessionID: row[0], StartedAt: started, LastActiveAt: active, Status: SessionStatus(row[3])})
	}

	if len(rec.Steps) != rec.TotalSteps {
		return Record{}, malformed("total_steps is %d but %d steps are listed", rec.TotalSteps, len(rec.Steps))
	}
	return rec, nil
}

func (h header) toRecord() (Record, error) {
	if strings.TrimSpace(h.SessionID) == "" {
		return Record{}, malformed("session_id is required")
	}
	if strings.TrimSpace(h.WorkflowID) == "" {
		return Record{}, malformed("workflow_id is required")
	}
	status := Status(h.Status)
	if !ValidStatus(status) {
		return Record{}, malformed("unknown workflow_status %q", h.Status)
	}
	if h.TotalSteps < 1 {
		return Record{}, malformed("total_steps must be >= 1")
	}
	if h.CurrentStepIndex < 1 || h.CurrentStepIndex > h.TotalSteps {
		return Record{}, malformed("current_step_index %d outside 1..%d", h.CurrentStepIndex, h.TotalSteps)
	}
	created, err := parseTime(h.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	updated, err := parseTime(h.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	return Record{
		WorkflowID:       h.WorkflowID,
		Status:           status,
		CurrentStep:      h.CurrentStep,
		CurrentStepIndex: h.CurrentStepIndex,
		TotalSteps:       h.TotalSteps,
		SessionID:        h.SessionID,
		CreatedAt:        created,
		UpdatedAt:        updated,
		Revision:         h.Revision,
	}, nil
}

func splitSections(body string) (map[string][]string, error) {
	lines := strings.Split(body, "\n")
	sections := make(map[string][]string, len(sectionOrder))
	next := 0
	current := ""
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			if next >= len(sectionOrder) || line != sectionOrder[next] {
				return nil, malformed("unexpected section %q", line)
			}
			current = line
			sections[current] = []string{}
			next++
			continue
		}
		if current == "" {
			continue
		}
		sections[current] = append(sections[current], line)
	}
	if next != len(sectionOrder) {
		return nil, malformed("missing section %q", sectionOrder[next])
	}
	return sections, nil
}

func writeText(buf *bytes.Buffer, heading, text string) {
	buf.WriteString(heading + "\n\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, `\`) {
			line = `\` + line
		}
		buf.WriteString(line + "\n")
	}
	buf.WriteString("\n")
}

func readText(lines []string) string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	out := make([]string, 0, end-start)
	for _, line := range lines[start:end] {
		if strings.HasPrefix(line, `\`) {
			line = line[1:]
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func writeTable(buf *bytes.Buffer, heading string, columns []string, rows [][]string) {
	buf.WriteString(heading + "\n\n")
	buf.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	sep := make([]string, len(columns))
	for i := range sep {
		sep[i] = "---"
	}
	buf.WriteString("|" + strings.Join(sep, "|") + "|\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = escapeCell(cell)
		}
		buf.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	buf.WriteString("\n")
}

func readTable(heading string, lines []string, columns []string) ([][]string, error) {
	var rows [][]string
	seenHeader := false
	seenSeparator := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") {
			return nil, malformed("%s: stray line %q", heading, trimmed)
		}
		cells := splitRow(trimmed)
		switch {
		case !seenHeader:
			if len(cells) != len(columns) {
				return nil, malformed("%s: expected %d columns, found %d", heading, len(columns), len(cells))
			}
			for i, col := range columns {
				if cells[i] != col {
					return nil, malformed("%s: column %d is %q, want %q", heading, i+1, cells[i], col)
				}
			}
			seenHeader = true
		case !seenSeparator:
			seenSeparator = true
		default:
			if len(cells) != len(columns) {
				return nil, malformed("%s: row has %d cells, want %d", heading, len(cells), len(columns))
			}
			for i := range cells {
				cells[i] = unescapeCell(cells[i])
			}
			rows = append(rows, cells)
		}
	}
	if !seenHeader || !seenSeparator {
		return nil, malformed("%s: table header missing", heading)
	}
	return rows, nil
}

// splitRow splits a table line on unescaped pipes. Escapes are preserved so
// unescapeCell can resolve them afterwards.
func splitRow(line string) []string {
	inner := line[1 : len(line)-1]
	var cells []string
	var cell strings.Builder
	for i := 0; i < len(inner); i++ {
		ch := inner[i]
		if ch == '\\' && i+1 < len(inner) {
			cell.WriteByte(ch)
			cell.WriteByte(inner[i+1])
			i++
			continue
		}
		if ch == '|' {
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
			continue
		}
		cell.WriteByte(ch)
	}
	cells = append(cells, strings.TrimSpace(cell.String()))
	return cells
}

func escapeCell(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '|':
			b.WriteString(`\|`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeCell(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+1 < len(value) {
			switch value[i+1] {
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte(value[i+1])
			}
			i++
			continue
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, malformed("parse timestamp %q: %v", value, err)
	}
	return t.UTC(), nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
