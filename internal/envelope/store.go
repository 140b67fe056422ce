package envelope

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kingrea/overture/internal/workspace"
)

const fileExt = ".md"

// maxCollisions bounds the -n suffix search when a name is taken.
const maxCollisions = 99

var namePattern = regexp.MustCompile(`^(\d{3,})-(delegation|result|revision)-(.+?)(?:-(\d+))?$`)

// Store manages envelope IO for the sessions in a workspace.
type Store struct {
	ws  *workspace.Workspace
	now func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for created timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore builds a store for a workspace.
func NewStore(ws *workspace.Workspace, opts ...StoreOption) *Store {
	store := &Store{ws: ws, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Entry is a scanned envelope identified from its file name only.
type Entry struct {
	ID       string
	Path     string
	Sequence int
	Type     Type
	Persona  string
}

// Write renders payload into a new file named
// <seq:03d>-<type>-<persona>[-n].md and returns its reference.
func (s *Store) Write(payload Payload) (Ref, Metadata, error) {
	if err := payload.validate(); err != nil {
		return Ref{}, Metadata{}, err
	}
	if err := workspace.CheckSessionID(strings.TrimSpace(payload.Session)); err != nil {
		return Ref{}, Metadata{}, err
	}
	status := payload.Status
	if status == "" {
		status = StatusPending
		if payload.Type == TypeResult {
			status = StatusComplete
		}
	}
	persona := payload.Target
	if payload.Type == TypeResult {
		persona = payload.Source
	}
	dir := s.ws.EnvelopesDir(strings.TrimSpace(payload.Session))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, Metadata{}, fmt.Errorf("envelope: ensure dir: %w", err)
	}
	base := fmt.Sprintf("%03d-%s-%s", payload.Sequence, payload.Type, slug(persona))
	meta := Metadata{
		Session:   strings.TrimSpace(payload.Session),
		Workflow:  strings.TrimSpace(payload.Workflow),
		Sequence:  payload.Sequence,
		Type:      payload.Type,
		Step:      strings.TrimSpace(payload.Step),
		Source:    strings.TrimSpace(payload.Source),
		Target:    strings.TrimSpace(payload.Target),
		Status:    status,
		CreatedAt: s.now().UTC(),
	}
	sections := Sections{
		Task:        payload.Task,
		Context:     payload.Context,
		Constraints: payload.Constraints,
		Output:      payload.Output,
		Notes:       payload.Notes,
	}
	for n := 1; n <= maxCollisions; n++ {
		id := base
		if n > 1 {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		meta.ID = id
		content, err := Render(meta, sections)
		if err != nil {
			return Ref{}, Metadata{}, err
		}
		path := filepath.Join(dir, id+fileExt)
		err = writeExclusive(path, content)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return Ref{}, Metadata{}, fmt.Errorf("envelope: write %s: %w", path, err)
		}
		return Ref{ID: id, Path: path}, meta, nil
	}
	return Ref{}, Metadata{}, fmt.Errorf("envelope: too many envelopes named %s", base)
}

// Path returns the file for a reference id within a session.
func (s *Store) Path(sessionID, referenceID string) string {
	return filepath.Join(s.ws.EnvelopesDir(sessionID), strings.TrimSuffix(referenceID, fileExt)+fileExt)
}

// Resolve accepts either a reference id or a path and returns the path. A
// path must name a file directly inside the session's envelopes directory;
// anything else, or an invalid session id, resolves to "".
func (s *Store) Resolve(sessionID, reference string) string {
	reference = strings.TrimSpace(reference)
	if reference == "" || !workspace.ValidSessionID(sessionID) {
		return ""
	}
	if !filepath.IsAbs(reference) && !strings.ContainsRune(reference, filepath.Separator) {
		return s.Path(sessionID, reference)
	}
	path, err := filepath.Abs(reference)
	if err != nil {
		return ""
	}
	dir, err := filepath.Abs(s.ws.EnvelopesDir(sessionID))
	if err != nil || filepath.Dir(path) != dir {
		return ""
	}
	return path
}

// Exists reports whether the file at path is present.
func (s *Store) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Read parses the envelope at path.
func (s *Store) Read(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Envelope{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Envelope{}, fmt.Errorf("envelope: read %s: %w", path, err)
	}
	meta, sections, err := Parse(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Path: path, Metadata: meta, Sections: sections}, nil
}

// Scan lists the session's envelopes ordered by sequence, then name. Files
// that do not follow the naming convention are skipped; contents are not
// parsed, so damaged envelopes still appear.
func (s *Store) Scan(sessionID string) ([]Entry, error) {
	if err := workspace.CheckSessionID(sessionID); err != nil {
		return nil, err
	}
	dir := s.ws.EnvelopesDir(sessionID)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("envelope: stat %s: %w", dir, err)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "*"+fileExt)
	if err != nil {
		return nil, fmt.Errorf("envelope: scan %s: %w", dir, err)
	}
	var entries []Entry
	for _, name := range matches {
		entry, ok := ParseName(name)
		if !ok {
			continue
		}
		entry.Path = filepath.Join(dir, name)
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Sequence != entries[j].Sequence {
			return entries[i].Sequence < entries[j].Sequence
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// ParseName decodes an envelope file name (with or without extension).
func ParseName(name string) (Entry, bool) {
	id := strings.TrimSuffix(filepath.Base(name), fileExt)
	m := namePattern.FindStringSubmatch(id)
	if m == nil {
		return Entry{}, false
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil || seq < 1 {
		return Entry{}, false
	}
	return Entry{ID: id, Sequence: seq, Type: Type(m[2]), Persona: m[3]}, true
}

func writeExclusive(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func slug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
