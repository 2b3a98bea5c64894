package dashboard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drewfead/vigil/internal/tracker"
)

var errNoOpener = errors.New("no terminal configured")

// ChecklistMarkdown renders a project's tasks and subagents as markdown.
func ChecklistMarkdown(p tracker.Project, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.DisplayName())
	fmt.Fprintf(&b, "`%s` · %s · %s\n\n", p.Path, p.Status, formatDuration(p.Elapsed(now)))

	done, total := p.TaskProgress()
	fmt.Fprintf(&b, "## Tasks (%d/%d)\n\n", done, total)
	if total == 0 {
		b.WriteString("_No tasks._\n\n")
	}
	for _, t := range p.Tasks {
		switch t.Status {
		case tracker.TaskCompleted:
			fmt.Fprintf(&b, "- [x] ~~%s~~\n", t.Subject)
		case tracker.TaskInProgress:
			fmt.Fprintf(&b, "- [ ] **%s**\n", t.Label())
		default:
			fmt.Fprintf(&b, "- [ ] %s\n", t.Subject)
		}
	}
	if total > 0 {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Subagents (%d running)\n\n", p.RunningSubagents())
	if len(p.Subagents) == 0 {
		b.WriteString("_No subagents._\n")
	}
	for _, s := range p.Subagents {
		fmt.Fprintf(&b, "- **%s** %s, %s\n", s.Name, s.Status, formatDuration(s.Duration(now)))
	}
	return b.String()
}

// formatDuration renders d compactly: 45s, 4m12s, 1h04m.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func pad(s string, n int) string {
	if w := len([]rune(s)); w < n {
		return s + strings.Repeat(" ", n-w)
	}
	return s
}
