// Package dashboard is the interactive project overview.
package dashboard

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/drewfead/vigil/internal/tracker"
	"github.com/drewfead/vigil/internal/tui"
)

// Source is the tracker state the dashboard renders.
type Source interface {
	Snapshot() []tracker.Project
	WatchState() tracker.WatchState
	LastUpdated() time.Time
	Changes() <-chan struct{}
	ToggleExpanded(projectID string) bool
	Refresh()
}

// Opener opens a project directory outside the dashboard.
type Opener interface {
	Open(dir string) error
}

// Messages
type (
	tickMsg     time.Time
	changedMsg  struct{}
	snapshotMsg struct {
		projects []tracker.Project
		state    tracker.WatchState
		updated  time.Time
	}
	markdownRenderedMsg struct {
		target  string
		content string
	}
	openedMsg struct {
		path string
		err  error
	}
)

// Model is the dashboard state.
type Model struct {
	source  Source
	opener  Opener
	refresh time.Duration
	now     func() time.Time

	projects   []tracker.Project
	state      tracker.WatchState
	updated    time.Time
	selected   int
	selectedID string

	width   int
	height  int
	spinner spinner.Model

	detailMode     bool
	detailID       string
	detailRendered string

	showHelp bool
	flash    string
}

// New creates a dashboard over source.
func New(source Source) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = tui.StyleAccent

	return Model{
		source:  source,
		refresh: time.Second,
		now:     time.Now,
		spinner: s,
		width:   80,
		height:  24,
	}
}

// WithOpener enables the "open in terminal" action.
func (m Model) WithOpener(o Opener) Model {
	m.opener = o
	return m
}

// WithRefreshInterval sets how often elapsed times are redrawn.
func (m Model) WithRefreshInterval(d time.Duration) Model {
	if d > 0 {
		m.refresh = d
	}
	return m
}

// WithClock replaces the time source.
func (m Model) WithClock(now func() time.Time) Model {
	m.now = now
	return m
}

// Run starts the dashboard in the alternate screen and blocks until it exits.
func Run(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.load,
		m.tick(),
		m.listenForChanges(),
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.detailMode {
			return m.handleDetailMode(msg)
		}
		return m.handleNormalMode(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.detailMode {
			if p := m.project(m.detailID); p != nil {
				return m, m.renderMarkdownCmd(p.ID, ChecklistMarkdown(*p, m.now()))
			}
		}
		return m, nil

	case tickMsg:
		return m, m.tick()

	case changedMsg:
		return m, tea.Batch(m.load, m.listenForChanges())

	case snapshotMsg:
		return m.handleSnapshot(msg)

	case markdownRenderedMsg:
		if m.detailMode && msg.target == m.detailID {
			m.detailRendered = msg.content
		}
		return m, nil

	case openedMsg:
		if msg.err != nil {
			m.flash = "open failed: " + msg.err.Error()
		} else {
			m.flash = "opened " + msg.path
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleSnapshot(msg snapshotMsg) (tea.Model, tea.Cmd) {
	m.projects = msg.projects
	m.state = msg.state
	m.updated = msg.updated

	// Keep the cursor on the same project when the list shifts.
	m.selected = clamp(m.selected, len(m.projects))
	for i, p := range m.projects {
		if p.ID == m.selectedID {
			m.selected = i
			break
		}
	}
	if m.selected < len(m.projects) {
		m.selectedID = m.projects[m.selected].ID
	} else {
		m.selectedID = ""
	}

	if m.detailMode {
		p := m.project(m.detailID)
		if p == nil {
			m = m.exitDetailMode()
			return m, nil
		}
		return m, m.renderMarkdownCmd(p.ID, ChecklistMarkdown(*p, m.now()))
	}
	return m, nil
}

func (m Model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.flash = ""
	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
			m.selectedID = m.projects[m.selected].ID
		}

	case "down", "j":
		if m.selected < len(m.projects)-1 {
			m.selected++
			m.selectedID = m.projects[m.selected].ID
		}

	case "enter", " ":
		if p := m.current(); p != nil {
			m.source.ToggleExpanded(p.ID)
			return m, m.load
		}

	case "d":
		if p := m.current(); p != nil {
			m.detailMode = true
			m.detailID = p.ID
			m.detailRendered = "Rendering..."
			return m, m.renderMarkdownCmd(p.ID, ChecklistMarkdown(*p, m.now()))
		}

	case "o":
		if p := m.current(); p != nil {
			return m, m.openCmd(p.Path)
		}

	case "r":
		source := m.source
		return m, func() tea.Msg {
			source.Refresh()
			return changedMsg{}
		}

	case "?":
		m.showHelp = !m.showHelp
	}
	return m, nil
}

func (m Model) handleDetailMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "d":
		return m.exitDetailMode(), nil
	case "o":
		if p := m.project(m.detailID); p != nil {
			return m, m.openCmd(p.Path)
		}
	}
	return m, nil
}

func (m Model) exitDetailMode() Model {
	m.detailMode = false
	m.detailID = ""
	m.detailRendered = ""
	return m
}

func (m Model) current() *tracker.Project {
	if m.selected < 0 || m.selected >= len(m.projects) {
		return nil
	}
	return &m.projects[m.selected]
}

func (m Model) project(id string) *tracker.Project {
	for i := range m.projects {
		if m.projects[i].ID == id {
			return &m.projects[i]
		}
	}
	return nil
}

func (m Model) load() tea.Msg {
	return snapshotMsg{
		projects: m.source.Snapshot(),
		state:    m.source.WatchState(),
		updated:  m.source.LastUpdated(),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) listenForChanges() tea.Cmd {
	ch := m.source.Changes()
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) openCmd(path string) tea.Cmd {
	if m.opener == nil {
		return func() tea.Msg {
			return openedMsg{path: path, err: errNoOpener}
		}
	}
	opener := m.opener
	return func() tea.Msg {
		return openedMsg{path: path, err: opener.Open(path)}
	}
}

func (m Model) renderMarkdownCmd(target, content string) tea.Cmd {
	width := m.width - 4
	if width < 40 {
		width = 40
	}
	return func() tea.Msg {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return markdownRenderedMsg{target: target, content: content}
		}
		out, err := r.Render(content)
		if err != nil {
			return markdownRenderedMsg{target: target, content: content}
		}
		return markdownRenderedMsg{target: target, content: out}
	}
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
