package hooks

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		want    Event
	}{
		{
			name:  "pre tool",
			input: `{"event":"PreToolUse","session_id":"s1","cwd":"/src/app","tool_name":"Task","tool_use_id":"t1","task_description":"Explore","subagent_type":"general"}`,
			want: Event{
				Kind:            KindPreTool,
				SessionID:       "s1",
				Cwd:             "/src/app",
				ToolName:        "Task",
				ToolUseID:       "t1",
				TaskDescription: "Explore",
				SubagentType:    "general",
			},
		},
		{
			name:  "unknown kind accepted",
			input: `{"event":"Notification","session_id":"s1","cwd":"/src/app"}`,
			want:  Event{Kind: "Notification", SessionID: "s1", Cwd: "/src/app"},
		},
		{name: "malformed", input: `{"event":`, wantErr: true},
		{name: "missing session", input: `{"event":"Stop","cwd":"/src/app"}`, wantErr: true},
		{name: "missing cwd", input: `{"event":"Stop","session_id":"s1"}`, wantErr: true},
		{name: "missing event", input: `{"session_id":"s1","cwd":"/src/app"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecodeMissingFieldIsTyped(t *testing.T) {
	_, err := Decode([]byte(`{"event":"Stop","cwd":"/a"}`))
	if !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestKnownKinds(t *testing.T) {
	for _, k := range Kinds {
		if !k.Known() {
			t.Errorf("expected %s to be known", k)
		}
	}
	if Kind("Notification").Known() {
		t.Error("expected Notification to be unknown")
	}
}

func TestFromHookInput(t *testing.T) {
	stdin := `{"session_id":"s1","transcript_path":"/x.jsonl","cwd":"/src/app","hook_event_name":"PreToolUse","tool_name":"Task","tool_use_id":"t1","tool_input":{"description":"Explore","prompt":"go","subagent_type":"general"}}`

	ev, err := FromHookInput("PreToolUse", []byte(stdin))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != KindPreTool || ev.ToolUseID != "t1" || ev.TaskDescription != "Explore" || ev.SubagentType != "general" {
		t.Errorf("unexpected event: %+v", ev)
	}

	ev, err = FromHookInput("", []byte(`{"session_id":"s1","cwd":"/a","hook_event_name":"Stop"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != KindSessionStopped {
		t.Errorf("expected hook_event_name fallback, got %s", ev.Kind)
	}

	if _, err := FromHookInput("Stop", nil); err == nil {
		t.Error("expected error without session or cwd")
	}
	if _, err := FromHookInput("Stop", []byte("{")); err == nil {
		t.Error("expected error for malformed stdin")
	}
}

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are length-limited, so avoid deep temp dirs.
	dir, err := os.MkdirTemp("", "vh")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestListenerDeliversEvents(t *testing.T) {
	path := socketPath(t)
	received := make(chan Event, 4)
	l := NewListener(path, func(ev Event) { received <- ev })
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if info.Mode().Perm() != 0777 {
		t.Errorf("expected socket mode 0777, got %v", info.Mode().Perm())
	}

	want := Event{Kind: KindPromptSubmitted, SessionID: "s1", Cwd: "/src/app"}
	if err := Emit(path, want, time.Second); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case got := <-received:
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestListenerDropsMalformed(t *testing.T) {
	path := socketPath(t)
	received := make(chan Event, 4)
	l := NewListener(path, func(ev Event) { received <- ev }, WithReadTimeout(200*time.Millisecond))
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	for _, payload := range []string{"not json\n", `{"event":"Stop"}` + "\n", ""} {
		conn, err := net.Dial("unix", path)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conn.Write([]byte(payload))
		conn.Close()
	}

	select {
	case ev := <-received:
		t.Errorf("expected nothing delivered, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestListenerBoundsMessageSize(t *testing.T) {
	path := socketPath(t)
	received := make(chan Event, 1)
	l := NewListener(path, func(ev Event) { received <- ev }, WithMaxMessageBytes(32))
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	ev := Event{Kind: KindPromptSubmitted, SessionID: "a-rather-long-session-identifier", Cwd: "/src/app"}
	// The listener may close before the whole message is written.
	_ = Emit(path, ev, time.Second)

	select {
	case got := <-received:
		t.Errorf("expected oversized message dropped, got %+v", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestListenerStopRemovesSocket(t *testing.T) {
	path := socketPath(t)
	l := NewListener(path, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	l.Stop()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected socket removed, got %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Errorf("expected second stop to be a no-op, got %v", err)
	}
}

func TestEmitWithoutListenerIsSilent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")
	ev := Event{Kind: KindSessionStopped, SessionID: "s1", Cwd: "/a"}
	if err := Emit(path, ev, time.Second); err != nil {
		t.Errorf("expected nil for missing socket, got %v", err)
	}
}
