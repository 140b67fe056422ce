// internal/workspace/workspace.go
//
// Defines the on-disk layout for pipeline sessions.
// All pipeline state is stored under <workDir>/.overture/sessions/ so it can be
// inspected (and diffed) by hand.

package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// Directory names within the project.
const (
	RootDir      = ".overture"
	SessionsDir  = "sessions"
	EnvelopesDir = "envelopes"
	LogsDir      = "logs"
	WorkflowsDir = "workflows"
)

// File names for per-session state.
const (
	FileIndex   = "index.md"
	FileJournal = "journal.log"
	FileConfig  = "config.yaml"
)

const sessionPrefix = "ses-"

var sessionIDPattern = regexp.MustCompile(`^ses-\d{8}-\d{6}-[0-9a-f]{8}$`)

// Workspace resolves paths inside a project's .overture directory.
type Workspace struct {
	workDir string
}

// New creates a workspace rooted at workDir (the directory containing .overture).
func New(workDir string) *Workspace {
	return &Workspace{workDir: workDir}
}

// WorkDir returns the project directory.
func (w *Workspace) WorkDir() string {
	return w.workDir
}

// Root returns the .overture directory.
func (w *Workspace) Root() string {
	return filepath.Join(w.workDir, RootDir)
}

// ConfigPath returns the location of config.yaml.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root(), FileConfig)
}

// LogsDir returns the directory for process logs.
func (w *Workspace) LogsDir() string {
	return filepath.Join(w.Root(), LogsDir)
}

// WorkflowsDir returns the directory holding named workflow definitions.
func (w *Workspace) WorkflowsDir() string {
	return filepath.Join(w.Root(), WorkflowsDir)
}

// SessionsDir returns the directory containing one folder per session.
func (w *Workspace) SessionsDir() string {
	return filepath.Join(w.Root(), SessionsDir)
}

// SessionDir returns the folder for a single session.
func (w *Workspace) SessionDir(sessionID string) string {
	return filepath.Join(w.SessionsDir(), sessionID)
}

// IndexPath returns the pipeline record for a session.
func (w *Workspace) IndexPath(sessionID string) string {
	return filepath.Join(w.SessionDir(sessionID), FileIndex)
}

// EnvelopesDir returns the folder holding the session's envelopes.
func (w *Workspace) EnvelopesDir(sessionID string) string {
	return filepath.Join(w.SessionDir(sessionID), EnvelopesDir)
}

// JournalPath returns the session's journal file.
func (w *Workspace) JournalPath(sessionID string) string {
	return filepath.Join(w.SessionDir(sessionID), FileJournal)
}

// ErrInvalidSessionID is returned for ids that do not follow the session
// naming convention.
var ErrInvalidSessionID = errors.New("workspace: invalid session id")

// CheckSessionID returns ErrInvalidSessionID unless id is a well-formed
// session id. Every path derived from a caller-supplied id goes through it.
func CheckSessionID(id string) error {
	if !ValidSessionID(id) {
		return fmt.Errorf("%w %q", ErrInvalidSessionID, id)
	}
	return nil
}

// EnsureSession creates the session and envelope directories.
func (w *Workspace) EnsureSession(sessionID string) error {
	if err := CheckSessionID(sessionID); err != nil {
		return err
	}
	if err := os.MkdirAll(w.EnvelopesDir(sessionID), 0o755); err != nil {
		return fmt.Errorf("workspace: ensure session dir: %w", err)
	}
	return nil
}

// SessionIDs lists every session directory that follows the naming
// convention, sorted lexically (which is also chronological).
func (w *Workspace) SessionIDs() ([]string, error) {
	root := w.SessionsDir()
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspace: stat sessions dir: %w", err)
	}
	matches, err := doublestar.Glob(os.DirFS(root), sessionPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("workspace: scan sessions: %w", err)
	}
	var ids []string
	for _, id := range matches {
		if !ValidSessionID(id) {
			continue
		}
		info, err := os.Stat(filepath.Join(root, id))
		if err != nil || !info.IsDir() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// NewSessionID generates an identifier of the form ses-YYYYMMDD-HHMMSS-xxxxxxxx.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return sessionPrefix + now.UTC().Format("20060102-150405") + "-" + suffix
}

// ValidSessionID reports whether id follows the session naming convention.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
