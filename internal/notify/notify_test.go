package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/drewfead/vigil/internal/logging"
	"github.com/drewfead/vigil/internal/tracker"
)

type call struct {
	name string
	args []string
}

func fakeDesktop(goos string, err error) (*Desktop, *[]call) {
	var calls []call
	d := &Desktop{
		goos:    goos,
		timeout: time.Second,
		log:     logging.Component("notify"),
		run: func(ctx context.Context, name string, args ...string) error {
			calls = append(calls, call{name: name, args: args})
			return err
		},
	}
	return d, &calls
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name      string
		view      tracker.ProjectView
		wantTitle string
		wantBody  string
	}{
		{
			name:      "idle project",
			view:      tracker.ProjectView{Name: "app"},
			wantTitle: "app is waiting",
			wantBody:  "Session finished responding",
		},
		{
			name:      "tasks and subagents",
			view:      tracker.ProjectView{Name: "api", TasksCompleted: 2, TasksTotal: 3, RunningSubagents: 1},
			wantTitle: "api is waiting",
			wantBody:  "2/3 tasks done, 1 subagents still running",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := Message(tt.view)
			if title != tt.wantTitle {
				t.Errorf("expected title %q, got %q", tt.wantTitle, title)
			}
			if body != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, body)
			}
		})
	}
}

func TestSendDarwinUsesOsascript(t *testing.T) {
	d, calls := fakeDesktop("darwin", nil)
	if err := d.Send(`say "hi"`, "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(*calls) != 1 || (*calls)[0].name != "osascript" {
		t.Fatalf("expected one osascript call, got %+v", *calls)
	}
	script := (*calls)[0].args[1]
	if !strings.Contains(script, `with title "say \"hi\""`) {
		t.Errorf("expected escaped title in script, got %s", script)
	}
}

func TestSendLinuxUsesNotifySend(t *testing.T) {
	d, calls := fakeDesktop("linux", nil)
	d.SessionStopped(tracker.ProjectView{ID: "-app", Name: "app"})
	if len(*calls) != 1 || (*calls)[0].name != "notify-send" {
		t.Fatalf("expected one notify-send call, got %+v", *calls)
	}
	args := (*calls)[0].args
	if args[len(args)-2] != "app is waiting" {
		t.Errorf("expected title argument, got %v", args)
	}
}

func TestSessionStoppedSwallowsErrors(t *testing.T) {
	d, calls := fakeDesktop("linux", errors.New("no notification daemon"))
	d.SessionStopped(tracker.ProjectView{Name: "app"})
	if len(*calls) != 1 {
		t.Errorf("expected one attempt, got %d", len(*calls))
	}
}
