package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/drewfead/vigil/internal/tracker"
	"github.com/drewfead/vigil/internal/tui"
	"github.com/drewfead/vigil/internal/tui/components"
)

const nameWidth = 24

// View implements tea.Model
func (m Model) View() string {
	if m.detailMode {
		return m.renderDetail()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderProjects())
	if m.flash != "" {
		b.WriteString("\n")
		b.WriteString(tui.StyleAccent.Render(m.flash))
	}
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	state := tui.StyleMuted.Render(m.state.String())
	if m.state == tracker.WatchActive && m.anyWorking() {
		state = m.spinner.View() + " " + tui.StatusStyle("working").Render(m.state.String())
	}

	parts := []string{tui.Logo(), state}
	switch n := len(m.projects); n {
	case 0:
	case 1:
		parts = append(parts, tui.StyleMuted.Render("1 project"))
	default:
		parts = append(parts, tui.StyleMuted.Render(fmt.Sprintf("%d projects", n)))
	}
	if !m.updated.IsZero() {
		ago := m.now().Sub(m.updated)
		parts = append(parts, tui.StyleMuted.Render("updated "+formatDuration(ago)+" ago"))
	}
	return strings.Join(parts, tui.StyleMuted.Render(" · "))
}

func (m Model) renderProjects() string {
	if len(m.projects) == 0 {
		switch m.state {
		case tracker.WatchStopped:
			return tui.StyleMuted.Render("Waiting for a session to start...")
		default:
			return tui.StyleMuted.Render("No active sessions")
		}
	}

	now := m.now()
	var lines []string
	for i, p := range m.projects {
		lines = append(lines, m.renderProjectRow(p, i == m.selected))
		if p.Expanded {
			lines = append(lines, renderExpanded(p, now)...)
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderProjectRow(p tracker.Project, selected bool) string {
	v := p.View(m.now())
	status := string(v.Status)

	caret := "▸"
	if p.Expanded {
		caret = "▾"
	}

	cols := []string{
		caret,
		tui.StatusStyle(status).Render(tui.StatusIcon(status)),
		tui.StyleTitle.Render(pad(truncate(v.Name, nameWidth), nameWidth)),
		tui.StatusStyle(status).Render(pad(status, 8)),
		tui.StyleMuted.Render(pad(formatDuration(v.Elapsed), 7)),
	}
	if v.RunningSubagents > 0 {
		cols = append(cols, tui.StatusStyle("running").Render(fmt.Sprintf("▶ %d", v.RunningSubagents)))
	}
	if v.TasksTotal > 0 {
		cols = append(cols, components.NewProgressBar(v.TasksCompleted, v.TasksTotal).WithShowValue(true).Render())
	}

	row := strings.Join(cols, " ")
	if selected {
		return tui.StyleSelected.Render(row)
	}
	return row
}

func renderExpanded(p tracker.Project, now time.Time) []string {
	var lines []string
	if len(p.Subagents) == 0 && len(p.Tasks) == 0 {
		return []string{"    " + tui.StyleMuted.Render("no subagents or tasks yet")}
	}

	if len(p.Subagents) > 0 {
		lines = append(lines, "  "+tui.StyleHeader.Render("subagents"))
		for _, s := range p.Subagents {
			status := string(s.Status)
			lines = append(lines, fmt.Sprintf("    %s %s %s %s",
				tui.StatusStyle(status).Render(tui.StatusIcon(status)),
				tui.StyleNormal.Render(pad(truncate(s.Name, nameWidth), nameWidth)),
				tui.StatusStyle(status).Render(pad(status, 9)),
				tui.StyleMuted.Render(formatDuration(s.Duration(now))),
			))
		}
	}

	if len(p.Tasks) > 0 {
		done, total := p.TaskProgress()
		lines = append(lines, "  "+tui.StyleHeader.Render(fmt.Sprintf("tasks %d/%d", done, total)))
		for _, t := range p.Tasks {
			status := string(t.Status)
			label := tui.StyleNormal.Render(t.Label())
			if t.Status == tracker.TaskCompleted {
				label = tui.StyleMuted.Strikethrough(true).Render(t.Label())
			}
			lines = append(lines, fmt.Sprintf("    %s %s",
				tui.StatusStyle(status).Render(tui.StatusIcon(status)),
				label,
			))
		}
	}
	return lines
}

func (m Model) renderDetail() string {
	var b strings.Builder
	name := m.detailID
	if p := m.project(m.detailID); p != nil {
		name = p.DisplayName()
	}
	b.WriteString(tui.Logo() + tui.StyleMuted.Render(" · ") + tui.StyleTitle.Render(name))
	b.WriteString("\n\n")

	body := m.detailRendered
	if maxLines := m.height - 5; maxLines > 0 {
		lines := strings.Split(body, "\n")
		if len(lines) > maxLines {
			body = strings.Join(lines[:maxLines], "\n")
		}
	}
	b.WriteString(body)
	if m.flash != "" {
		b.WriteString("\n")
		b.WriteString(tui.StyleAccent.Render(m.flash))
	}
	b.WriteString("\n")
	b.WriteString(tui.StyleHelp.Render("esc back · o open in terminal"))
	return b.String()
}

func (m Model) renderHelp() string {
	if !m.showHelp {
		return tui.StyleHelp.Render("j/k move · enter expand · d checklist · ? help · q quit")
	}
	rows := [][2]string{
		{"j / ↓", "next project"},
		{"k / ↑", "previous project"},
		{"enter", "expand or collapse"},
		{"d", "rendered checklist"},
		{"o", "open project in terminal"},
		{"r", "rescan session logs"},
		{"q", "quit"},
	}
	var lines []string
	for _, r := range rows {
		lines = append(lines, tui.StyleAccent.Render(pad(r[0], 8))+tui.StyleMuted.Render(r[1]))
	}
	return tui.StyleBorder.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) anyWorking() bool {
	for _, p := range m.projects {
		if p.Status == tracker.SessionWorking || p.RunningSubagents() > 0 {
			return true
		}
	}
	return false
}
