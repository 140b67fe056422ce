package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/overture/internal/logbook"
	"github.com/kingrea/overture/internal/record"
)

var (
	labelStyleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleAttn    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	panelStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	panelHeadingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headerTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
)

const defaultTableHeight = 8

type recordLoadedMsg struct {
	sessionID string
	rec       record.Record
	journal   []string
	total     int
	err       error
}

type refreshTickMsg struct {
	sessionID string
}

type pipelineView struct {
	app       *App
	sessionID string
	rec       record.Record
	loaded    bool
	err       error
	journal   []string
	total     int
	refreshed time.Time

	steps   table.Model
	spinner spinner.Model
	watcher *sessionWatcher
	width   int
}

func newPipelineView(app *App, sessionID string) *pipelineView {
	steps := table.New(
		table.WithColumns(stepColumns(80)),
		table.WithFocused(true),
		table.WithHeight(defaultTableHeight),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF")).
		Bold(false)
	steps.SetStyles(styles)

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = labelStyleRunning

	return &pipelineView{
		app:       app,
		sessionID: sessionID,
		steps:     steps,
		spinner:   spin,
	}
}

func stepColumns(width int) []table.Column {
	notes := max(12, width-4-3-22-10-12-12)
	return []table.Column{
		{Title: "#", Width: 3},
		{Title: "Step", Width: 22},
		{Title: "Persona", Width: 10},
		{Title: "Status", Width: 12},
		{Title: "Started", Width: 12},
		{Title: "Notes", Width: notes},
	}
}

func (v *pipelineView) Init() tea.Cmd {
	cmds := []tea.Cmd{v.load(), v.spinner.Tick, v.scheduleRefresh()}
	if v.app.watch {
		w, err := watchSession(v.app.ws, v.sessionID, v.app.logger)
		if err != nil {
			v.app.logger.Warn("falling back to polling", "session", v.sessionID, "error", err)
		} else {
			v.watcher = w
			cmds = append(cmds, w.wait())
		}
	}
	return tea.Batch(cmds...)
}

func (v *pipelineView) Close() {
	if v.watcher != nil {
		v.watcher.Close()
		v.watcher = nil
	}
}

func (v *pipelineView) resize(width, height int) {
	if width <= 0 {
		return
	}
	v.width = width
	v.steps.SetColumns(stepColumns(width))
	v.steps.SetHeight(max(3, min(defaultTableHeight+len(v.rec.Steps), height-journalLines-14)))
}

func (v *pipelineView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case recordLoadedMsg:
		if m.sessionID != v.sessionID {
			return nil
		}
		v.apply(m)
		return nil
	case sessionChangedMsg:
		if m.sessionID != v.sessionID || v.watcher == nil {
			return nil
		}
		return tea.Batch(v.load(), v.watcher.wait())
	case refreshTickMsg:
		if m.sessionID != v.sessionID {
			return nil
		}
		return tea.Batch(v.load(), v.scheduleRefresh())
	case spinner.TickMsg:
		if v.loaded && !v.rec.Status.Active() {
			return nil
		}
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(m)
		return cmd
	case tea.KeyMsg:
		if m.String() == "r" {
			return v.load()
		}
	}
	var cmd tea.Cmd
	v.steps, cmd = v.steps.Update(msg)
	return cmd
}

func (v *pipelineView) load() tea.Cmd {
	sessionID := v.sessionID
	ws := v.app.ws
	records := v.app.records
	return func() tea.Msg {
		rec, err := records.Read(sessionID)
		var lines []string
		var total int
		if book, bookErr := logbook.New(ws.JournalPath(sessionID)); bookErr == nil {
			lines, total = book.Tail(journalLines)
		}
		return recordLoadedMsg{sessionID: sessionID, rec: rec, journal: lines, total: total, err: err}
	}
}

func (v *pipelineView) apply(m recordLoadedMsg) {
	v.err = m.err
	v.journal = m.journal
	v.total = m.total
	v.refreshed = v.app.clock()
	if m.err != nil {
		return
	}
	v.rec = m.rec
	v.loaded = true
	rows := make([]table.Row, 0, len(m.rec.Steps))
	for i, step := range m.rec.Steps {
		started := ""
		if !step.StartedAt.IsZero() {
			started = step.StartedAt.Local().Format("Jan 2 15:04")
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i+1),
			step.Label,
			step.Persona,
			string(step.Status),
			started,
			step.Notes,
		})
	}
	v.steps.SetRows(rows)
	if v.steps.Cursor() >= len(rows) {
		v.steps.SetCursor(max(0, len(rows)-1))
	}
}

func (v *pipelineView) scheduleRefresh() tea.Cmd {
	sessionID := v.sessionID
	return tea.Tick(fallbackRefreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{sessionID: sessionID}
	})
}

func (v *pipelineView) View() string {
	if !v.loaded {
		if v.err != nil {
			return labelStyleBlocked.Render(fmt.Sprintf("Pipeline %s unreadable: %v", v.sessionID, v.err))
		}
		return v.spinner.View() + " Loading " + v.sessionID + "…"
	}
	sections := []string{v.renderHeader(), v.steps.View(), v.renderStepDetails()}
	if v.err != nil {
		sections = append(sections, labelStyleBlocked.Render(fmt.Sprintf("Last refresh failed: %v", v.err)))
	}
	sections = append(sections, v.renderDecisions(), v.renderJournal())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (v *pipelineView) renderHeader() string {
	rec := v.rec
	status := statusStyle(rec.Status).Render(titleCase(string(rec.Status)))
	if rec.Status.Active() && rec.Status != record.StatusBlocked {
		status = v.spinner.View() + " " + status
	}
	lines := []string{
		headerTitleStyle.Render(fmt.Sprintf("Pipeline %s", rec.SessionID)),
		fmt.Sprintf("Workflow: %s · Status: %s · Step %d/%d %s", rec.WorkflowID, status, rec.CurrentStepIndex, rec.TotalSteps, rec.CurrentStep),
	}
	if rec.Goal != "" {
		lines = append(lines, detailTextStyle.Render("Goal: "+rec.Goal))
	}
	lines = append(lines, detailTextStyle.Render(fmt.Sprintf("Revision %d · updated %s", rec.Revision, humanizeDuration(v.refreshed.Sub(rec.UpdatedAt)))))
	return strings.Join(lines, "\n")
}

func (v *pipelineView) renderStepDetails() string {
	step, ok := v.rec.StepAt(v.steps.Cursor() + 1)
	if !ok {
		return detailTextStyle.Render("  no steps")
	}
	var details []string
	if step.Notes != "" {
		details = append(details, step.Notes)
	}
	if !step.StartedAt.IsZero() {
		details = append(details, "Started "+step.StartedAt.Local().Format(time.RFC822))
	}
	if !step.CompletedAt.IsZero() {
		details = append(details, "Completed "+step.CompletedAt.Local().Format(time.RFC822))
	}
	if len(details) == 0 {
		return detailTextStyle.Render("  no additional details")
	}
	return detailTextStyle.Render("  " + strings.Join(details, "\n  "))
}

func (v *pipelineView) renderDecisions() string {
	heading := panelHeadingStyle.Render(fmt.Sprintf("Decisions (%d)", len(v.rec.Decisions)))
	decisions := v.rec.Decisions
	if len(decisions) > 5 {
		decisions = decisions[len(decisions)-5:]
	}
	lines := []string{heading}
	if len(decisions) == 0 {
		lines = append(lines, detailTextStyle.Render("none yet"))
	}
	for _, d := range decisions {
		line := fmt.Sprintf("%s %s %s", d.Timestamp.Local().Format("15:04:05"), decisionStyle(d.Decision).Render(string(d.Decision)), d.ReferenceID)
		if d.Reviewer != "" {
			line += " · " + d.Reviewer
		}
		if d.Note != "" {
			line += " · " + d.Note
		}
		lines = append(lines, line)
	}
	return panelStyle.Width(max(20, v.width-2)).Render(strings.Join(lines, "\n"))
}

func (v *pipelineView) renderJournal() string {
	heading := panelHeadingStyle.Render(fmt.Sprintf("Journal (%d entries)", v.total))
	body := detailTextStyle.Render("empty")
	if len(v.journal) > 0 {
		body = detailTextStyle.Render(strings.Join(v.journal, "\n"))
	}
	return panelStyle.Width(max(20, v.width-2)).Render(lipgloss.JoinVertical(lipgloss.Left, heading, body))
}

func statusStyle(status record.Status) lipgloss.Style {
	switch status {
	case record.StatusComplete:
		return labelStyleDone
	case record.StatusBlocked:
		return labelStyleAttn
	case record.StatusFailed:
		return labelStyleBlocked
	case record.StatusInProgress:
		return labelStyleRunning
	default:
		return labelStyleDefault
	}
}

func decisionStyle(kind record.DecisionKind) lipgloss.Style {
	switch kind {
	case record.DecisionApproved:
		return labelStyleDone
	case record.DecisionRejected, record.DecisionRetried:
		return labelStyleAttn
	case record.DecisionAborted:
		return labelStyleBlocked
	default:
		return labelStyleDefault
	}
}
