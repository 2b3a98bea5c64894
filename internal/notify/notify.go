// Package notify delivers desktop notifications when a session finishes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/drewfead/vigil/internal/executil"
	"github.com/drewfead/vigil/internal/logging"
	"github.com/drewfead/vigil/internal/tracker"
)

// Desktop sends notifications through osascript on macOS and notify-send
// elsewhere.
type Desktop struct {
	goos    string
	timeout time.Duration
	run     func(ctx context.Context, name string, args ...string) error
	log     *slog.Logger
}

// NewDesktop creates a notifier for the current platform.
func NewDesktop() *Desktop {
	return &Desktop{
		goos:    runtime.GOOS,
		timeout: 5 * time.Second,
		run:     executil.Run,
		log:     logging.Component("notify"),
	}
}

// SessionStopped reports that a project's session went idle.
func (d *Desktop) SessionStopped(v tracker.ProjectView) {
	title, body := Message(v)
	if err := d.Send(title, body); err != nil {
		d.log.Warn("failed to send notification", "project", v.ID, "error", err)
	}
}

// Send delivers one notification.
func (d *Desktop) Send(title, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if d.goos == "darwin" {
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(body), escapeAppleScript(title))
		return d.run(ctx, "osascript", "-e", script)
	}
	return d.run(ctx, "notify-send", "--app-name=vigil", title, body)
}

// Message renders the notification text for a stopped session.
func Message(v tracker.ProjectView) (title, body string) {
	title = fmt.Sprintf("%s is waiting", v.Name)

	var parts []string
	if v.TasksTotal > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d tasks done", v.TasksCompleted, v.TasksTotal))
	}
	if v.RunningSubagents > 0 {
		parts = append(parts, fmt.Sprintf("%d subagents still running", v.RunningSubagents))
	}
	if len(parts) == 0 {
		parts = append(parts, "Session finished responding")
	}
	return title, strings.Join(parts, ", ")
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
