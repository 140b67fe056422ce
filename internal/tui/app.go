// internal/tui/app.go
//
// Terminal view of pipeline records. Bubbletea drives it the usual way:
// messages come in, Update folds them into the model, View renders it.
// Record writes are picked up through fsnotify so the screen follows the
// coordinator without polling; a slow tick covers missed events.

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/overture/internal/logging"
	"github.com/kingrea/overture/internal/record"
	"github.com/kingrea/overture/internal/workspace"
)

// appState represents which screen is showing.
type appState int

const (
	statePicker appState = iota // session list
	stateWatch                  // one pipeline
)

const (
	fallbackRefreshInterval = 10 * time.Second
	journalLines            = 6
)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogger routes watcher diagnostics to logger.
func WithLogger(logger logging.Logger) AppOption {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the clock used for relative timestamps.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// withoutWatcher disables fsnotify; tests drive refreshes by hand.
func withoutWatcher() AppOption {
	return func(a *App) {
		a.watch = false
	}
}

type sessionsLoadedMsg struct {
	items []list.Item
	err   error
}

type pickerTickMsg struct{}

// sessionItem implements list.Item for the picker.
type sessionItem struct {
	id      string
	status  record.Status
	step    string
	index   int
	total   int
	updated time.Time
	broken  bool
}

func (i sessionItem) Title() string { return i.id }
func (i sessionItem) Description() string {
	if i.broken {
		return "record unreadable; run `overture recover`"
	}
	return fmt.Sprintf("%s · step %d/%d %s · updated %s", i.status, i.index, i.total, i.step, i.updated.Local().Format("Jan 2 15:04"))
}
func (i sessionItem) FilterValue() string { return i.id }

// App is the root model.
type App struct {
	state   appState
	ws      *workspace.Workspace
	records *record.Store
	logger  logging.Logger
	clock   func() time.Time
	watch   bool

	picker     list.Model
	pickerErr  error
	view       *pipelineView
	fixedID    string
	statusLine string

	width  int
	height int
}

// NewApp builds the TUI. With a session id it opens that pipeline directly;
// otherwise it starts on the session picker.
func NewApp(ws *workspace.Workspace, sessionID string, opts ...AppOption) *App {
	a := &App{
		ws:      ws,
		logger:  logging.NewNop(),
		clock:   time.Now,
		watch:   true,
		fixedID: strings.TrimSpace(sessionID),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.records = record.NewStore(ws)

	picker := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	picker.Title = "♪ OVERTURE · pipelines"
	picker.SetShowStatusBar(false)
	picker.Styles.Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF")).
		Padding(0, 1)
	a.picker = picker

	if a.fixedID != "" {
		a.state = stateWatch
		a.view = newPipelineView(a, a.fixedID)
	}
	return a
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	if a.state == stateWatch && a.view != nil {
		return a.view.Init()
	}
	return a.loadSessions()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.picker.SetSize(max(0, msg.Width-4), max(0, msg.Height-6))
		if a.view != nil {
			a.view.resize(msg.Width, msg.Height)
		}
		return a, nil

	case sessionsLoadedMsg:
		a.pickerErr = msg.err
		if msg.err == nil {
			cmd := a.picker.SetItems(msg.items)
			return a, tea.Batch(cmd, a.schedulePickerRefresh())
		}
		return a, a.schedulePickerRefresh()

	case pickerTickMsg:
		if a.state == statePicker {
			return a, a.loadSessions()
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.closeView()
			return a, tea.Quit
		case "q":
			if a.state == statePicker || a.fixedID != "" {
				a.closeView()
				return a, tea.Quit
			}
		case "esc":
			if a.state == stateWatch && a.fixedID == "" {
				return a.returnToPicker()
			}
		case "enter":
			if a.state == statePicker && a.picker.FilterState() != list.Filtering {
				if item, ok := a.picker.SelectedItem().(sessionItem); ok {
					return a.openSession(item.id)
				}
			}
		}
	}

	switch a.state {
	case statePicker:
		var cmd tea.Cmd
		a.picker, cmd = a.picker.Update(msg)
		return a, cmd
	case stateWatch:
		if a.view != nil {
			return a, a.view.Update(msg)
		}
	}
	return a, nil
}

func (a *App) openSession(sessionID string) (tea.Model, tea.Cmd) {
	a.closeView()
	a.state = stateWatch
	a.view = newPipelineView(a, sessionID)
	a.view.resize(a.width, a.height)
	a.statusLine = ""
	return a, a.view.Init()
}

func (a *App) returnToPicker() (tea.Model, tea.Cmd) {
	a.closeView()
	a.state = statePicker
	a.statusLine = ""
	return a, a.loadSessions()
}

func (a *App) closeView() {
	if a.view != nil {
		a.view.Close()
		a.view = nil
	}
}

func (a *App) loadSessions() tea.Cmd {
	return func() tea.Msg {
		ids, err := a.ws.SessionIDs()
		if err != nil {
			return sessionsLoadedMsg{err: err}
		}
		items := make([]list.Item, 0, len(ids))
		for i := len(ids) - 1; i >= 0; i-- {
			items = append(items, a.sessionItem(ids[i]))
		}
		return sessionsLoadedMsg{items: items}
	}
}

func (a *App) sessionItem(id string) sessionItem {
	rec, err := a.records.Read(id)
	if err != nil {
		return sessionItem{id: id, broken: true}
	}
	return sessionItem{
		id:      id,
		status:  rec.Status,
		step:    rec.CurrentStep,
		index:   rec.CurrentStepIndex,
		total:   rec.TotalSteps,
		updated: rec.UpdatedAt,
	}
}

func (a *App) schedulePickerRefresh() tea.Cmd {
	return tea.Tick(fallbackRefreshInterval, func(time.Time) tea.Msg {
		return pickerTickMsg{}
	})
}

// View renders the current screen.
func (a *App) View() string {
	var body string
	switch a.state {
	case stateWatch:
		if a.view != nil {
			body = a.view.View()
		}
	default:
		body = a.renderPicker()
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render(a.footerHint())
	if a.statusLine != "" {
		footer = lipgloss.JoinVertical(lipgloss.Left, a.statusLine, footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

func (a *App) renderPicker() string {
	if a.pickerErr != nil {
		return labelStyleBlocked.Render(fmt.Sprintf("Cannot list sessions: %v", a.pickerErr))
	}
	if len(a.picker.Items()) == 0 {
		note := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("No pipelines yet. Start one with `overture init`.")
		return lipgloss.JoinVertical(lipgloss.Left, a.picker.Title, note)
	}
	return a.picker.View()
}

func (a *App) footerHint() string {
	switch {
	case a.state == statePicker:
		return "enter=open  /=filter  q=quit"
	case a.fixedID != "":
		return "↑/↓=select step  r=refresh  q=quit"
	default:
		return "↑/↓=select step  r=refresh  esc=sessions  q=quit"
	}
}

func titleCase(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "-", " "))
	if value == "" {
		return ""
	}
	words := strings.Fields(value)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
