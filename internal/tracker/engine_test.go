package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/drewfead/vigil/internal/hooks"
	"github.com/drewfead/vigil/internal/projectdir"
)

const (
	testCwd     = "/work/app"
	testSession = "s1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTailer struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeTailer) Start() error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	return nil
}

func (f *fakeTailer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

type recordingNotifier struct {
	views chan ProjectView
}

func (n *recordingNotifier) SessionStopped(v ProjectView) {
	n.views <- v
}

type memoryRecorder struct {
	mu         sync.Mutex
	activities []Activity
}

func (r *memoryRecorder) Record(a Activity) {
	r.mu.Lock()
	r.activities = append(r.activities, a)
	r.mu.Unlock()
}

func (r *memoryRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.activities {
		out = append(out, a.Kind)
	}
	return out
}

type fixture struct {
	t      *testing.T
	root   string
	clock  *fakeClock
	engine *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		root:  t.TempDir(),
		clock: &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.engine = New(Config{ProjectsDir: f.root}, opts...)
	t.Cleanup(f.engine.Close)
	return f
}

func (f *fixture) logPath(cwd, session string) string {
	return filepath.Join(f.root, projectdir.Encode(cwd), session+".jsonl")
}

// appendLog writes lines to the session's primary log and notifies the
// engine.
func (f *fixture) appendLog(cwd, session string, lines ...string) {
	f.t.Helper()
	path := f.logPath(cwd, session)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		f.t.Fatalf("mkdir: %v", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		f.t.Fatalf("open: %v", err)
	}
	for _, l := range lines {
		if _, err := file.WriteString(l + "\n"); err != nil {
			f.t.Fatalf("write: %v", err)
		}
	}
	file.Close()
	f.engine.OnFileChanged(path, ChangeModified)
}

func (f *fixture) only() Project {
	f.t.Helper()
	snap := f.engine.Snapshot()
	if len(snap) != 1 {
		f.t.Fatalf("expected 1 project, got %d", len(snap))
	}
	return snap[0]
}

func toolUseLine(cwd, id, name, input string) string {
	return fmt.Sprintf(`{"type":"assistant","cwd":%q,"timestamp":"2025-06-01T10:00:00.000Z","message":{"role":"assistant","content":[{"type":"tool_use","id":%q,"name":%q,"input":%s}]}}`, cwd, id, name, input)
}

func taskLine(cwd, id, description string) string {
	return toolUseLine(cwd, id, "Task", fmt.Sprintf(`{"description":%q,"prompt":"go"}`, description))
}

func createLine(cwd, id, subject string) string {
	return toolUseLine(cwd, id, "TaskCreate", fmt.Sprintf(`{"subject":%q,"description":"details","activeForm":"Working on it"}`, subject))
}

func updateLine(cwd, id, taskID, status string) string {
	return toolUseLine(cwd, id, "TaskUpdate", fmt.Sprintf(`{"taskId":%q,"status":%q}`, taskID, status))
}

func resultLine(cwd, id string, isError bool) string {
	return fmt.Sprintf(`{"type":"user","cwd":%q,"timestamp":"2025-06-01T10:00:05.000Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":%q,"content":"done","is_error":%t}]}}`, cwd, id, isError)
}

func hookEvent(kind hooks.Kind, toolName, toolUseID string) hooks.Event {
	return hooks.Event{
		Kind:            kind,
		SessionID:       testSession,
		Cwd:             testCwd,
		ToolName:        toolName,
		ToolUseID:       toolUseID,
		TaskDescription: "Explore repo",
	}
}

func TestSubagentLifecycleFromLog(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	if f.engine.WatchState() != WatchWatching {
		t.Fatalf("expected watching, got %s", f.engine.WatchState())
	}

	f.appendLog(testCwd, testSession, taskLine(testCwd, "t1", "Explore repo"))

	p := f.only()
	if p.Path != testCwd {
		t.Errorf("expected path %s, got %s", testCwd, p.Path)
	}
	if p.ID != "-work-app" {
		t.Errorf("expected id -work-app, got %s", p.ID)
	}
	if len(p.Subagents) != 1 {
		t.Fatalf("expected 1 subagent, got %d", len(p.Subagents))
	}
	sub := p.Subagents[0]
	if sub.ID != "t1" || sub.Status != SubagentRunning || sub.Name != "Explore repo" {
		t.Errorf("expected running t1 'Explore repo', got %+v", sub)
	}
	if f.engine.WatchState() != WatchActive {
		t.Errorf("expected active, got %s", f.engine.WatchState())
	}

	f.appendLog(testCwd, testSession, resultLine(testCwd, "t1", false))

	sub = f.only().Subagents[0]
	if sub.Status != SubagentCompleted {
		t.Fatalf("expected completed, got %s", sub.Status)
	}
	if sub.EndedAt == nil || sub.EndedAt.Before(sub.StartedAt) {
		t.Errorf("expected end time at or after start, got start=%v end=%v", sub.StartedAt, sub.EndedAt)
	}
}

func TestErrorResultMarksSubagentFailed(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession,
		taskLine(testCwd, "t1", "Explore"),
		resultLine(testCwd, "t1", true),
	)

	if got := f.only().Subagents[0].Status; got != SubagentError {
		t.Errorf("expected error, got %s", got)
	}
}

func TestToolResultForOtherToolIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession,
		toolUseLine(testCwd, "b1", "Bash", `{"command":"ls"}`),
		resultLine(testCwd, "b1", false),
	)

	if snap := f.engine.Snapshot(); len(snap) != 0 {
		t.Errorf("expected no project from unrelated tools, got %d", len(snap))
	}
}

func TestTaskRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession,
		createLine(testCwd, "c1", "A"),
		updateLine(testCwd, "u1", "1", "completed"),
	)

	p := f.only()
	if len(p.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(p.Tasks))
	}
	task := p.Tasks[0]
	if task.ID != "1" || task.Subject != "A" || task.Status != TaskCompleted {
		t.Errorf("expected task 1 'A' completed, got %+v", task)
	}
	if task.ActiveForm != "Working on it" {
		t.Errorf("expected active form recorded, got %q", task.ActiveForm)
	}
	done, total := p.TaskProgress()
	if done != 1 || total != 1 {
		t.Errorf("expected progress 1/1, got %d/%d", done, total)
	}
}

func TestTaskUpdateIgnoresUnknownStatusAndTask(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession,
		createLine(testCwd, "c1", "A"),
		updateLine(testCwd, "u1", "1", "in_progress"),
		updateLine(testCwd, "u2", "1", "deleted"),
		updateLine(testCwd, "u3", "7", "completed"),
	)

	p := f.only()
	if len(p.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(p.Tasks))
	}
	if p.Tasks[0].Status != TaskInProgress {
		t.Errorf("expected in_progress kept, got %s", p.Tasks[0].Status)
	}
	if p.Tasks[0].Label() != "Working on it" {
		t.Errorf("expected active form label, got %q", p.Tasks[0].Label())
	}
}

func TestTaskUpdateNeverCreatesProject(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession, updateLine(testCwd, "u1", "1", "completed"))

	if snap := f.engine.Snapshot(); len(snap) != 0 {
		t.Errorf("expected no project, got %d", len(snap))
	}
	if f.engine.WatchState() != WatchWatching {
		t.Errorf("expected watching, got %s", f.engine.WatchState())
	}
}

func TestDuplicateTaskCreation(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession,
		createLine(testCwd, "c1", "Write tests"),
		createLine(testCwd, "c2", "Write tests"),
	)

	p := f.only()
	if len(p.Tasks) != 1 {
		t.Fatalf("expected exactly 1 task, got %d", len(p.Tasks))
	}

	f.appendLog(testCwd, testSession, createLine(testCwd, "c3", "Ship it"))
	p = f.only()
	if len(p.Tasks) != 2 || p.Tasks[1].ID != "2" {
		t.Errorf("expected second task with id 2, got %+v", p.Tasks)
	}
}

func TestSessionTeardown(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession, taskLine(testCwd, "t1", "Explore"))
	f.only()

	nested := filepath.Join(f.root, projectdir.Encode(testCwd), testSession, "subagents", "agent-1.jsonl")
	f.engine.OnFileChanged(nested, ChangeRemoved)
	f.only()

	path := f.logPath(testCwd, testSession)
	os.Remove(path)
	f.engine.OnFileChanged(path, ChangeRemoved)

	if snap := f.engine.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected project removed, got %d", len(snap))
	}
	if f.engine.WatchState() != WatchWatching {
		t.Errorf("expected watching after last project removed, got %s", f.engine.WatchState())
	}

	// The invocation is no longer pending, so a late result is a no-op.
	f.engine.do(func() {
		if len(f.engine.pending) != 0 {
			t.Errorf("expected pending index cleared, got %d", len(f.engine.pending))
		}
		if len(f.engine.sessions) != 0 {
			t.Errorf("expected session index cleared, got %d", len(f.engine.sessions))
		}
	})
}

func TestRemovalOfSupersededSessionKeepsProject(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, "old", createLine(testCwd, "c1", "A"))
	f.appendLog(testCwd, "new", createLine(testCwd, "c2", "B"))

	p := f.only()
	if p.SessionID != "new" {
		t.Fatalf("expected session moved to 'new', got %s", p.SessionID)
	}

	old := f.logPath(testCwd, "old")
	os.Remove(old)
	f.engine.OnFileChanged(old, ChangeRemoved)

	if got := f.only(); len(got.Tasks) != 2 {
		t.Errorf("expected project kept with 2 tasks, got %d", len(got.Tasks))
	}
}

func TestFlatSubagentLogDoesNotTakeOverSession(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession, createLine(testCwd, "c1", "A"))
	f.appendLog(testCwd, "agent-abc", updateLine(testCwd, "u1", "1", "completed"))

	p := f.only()
	if p.SessionID != testSession {
		t.Fatalf("expected session %s kept, got %s", testSession, p.SessionID)
	}
	if p.Tasks[0].Status != TaskPending {
		t.Errorf("expected flat subagent log ignored, got task status %s", p.Tasks[0].Status)
	}

	path := f.logPath(testCwd, testSession)
	os.Remove(path)
	f.engine.OnFileChanged(path, ChangeRemoved)

	if snap := f.engine.Snapshot(); len(snap) != 0 {
		t.Errorf("expected project removed with its session log, got %d (session %q)", len(snap), snap[0].SessionID)
	}
}

func TestCrossPathRace(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.engine.OnLifecycleEvent(hookEvent(hooks.KindPromptSubmitted, "", ""))
	p := f.only()
	if p.Status != SessionWorking {
		t.Fatalf("expected working, got %s", p.Status)
	}

	f.appendLog(testCwd, testSession, taskLine(testCwd, "t1", "Explore"))

	p = f.only()
	if p.Status != SessionWorking {
		t.Errorf("expected working, got %s", p.Status)
	}
	if len(p.Subagents) != 1 {
		t.Errorf("expected 1 subagent, got %d", len(p.Subagents))
	}
}

func TestProcessLostClearsEverything(t *testing.T) {
	tailer := &fakeTailer{}
	f := newFixture(t, WithTailer(tailer))
	f.engine.OnProcessDetected()
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession, taskLine(testCwd, "t1", "Explore"))
	f.only()

	f.engine.OnProcessLost()

	if snap := f.engine.Snapshot(); len(snap) != 0 {
		t.Errorf("expected no projects, got %d", len(snap))
	}
	if f.engine.WatchState() != WatchStopped {
		t.Errorf("expected stopped, got %s", f.engine.WatchState())
	}
	f.engine.do(func() {
		if n := len(f.engine.parser.Tracked()); n != 0 {
			t.Errorf("expected offsets cleared, got %d", n)
		}
		if len(f.engine.pending) != 0 || len(f.engine.sessions) != 0 {
			t.Error("expected indices cleared")
		}
	})

	tailer.mu.Lock()
	defer tailer.mu.Unlock()
	if tailer.starts != 1 {
		t.Errorf("expected tailer started once, got %d", tailer.starts)
	}
	if tailer.stops < 1 {
		t.Errorf("expected tailer stopped, got %d", tailer.stops)
	}
}

func TestEventsIgnoredWhileStopped(t *testing.T) {
	f := newFixture(t)

	f.appendLog(testCwd, testSession, taskLine(testCwd, "t1", "Explore"))
	f.engine.OnLifecycleEvent(hookEvent(hooks.KindPreTool, "Task", "t2"))

	if snap := f.engine.Snapshot(); len(snap) != 0 {
		t.Errorf("expected no projects while stopped, got %d", len(snap))
	}
}

func TestStartupCatchUpIgnoresHistory(t *testing.T) {
	f := newFixture(t)

	path := f.logPath(testCwd, testSession)
	os.MkdirAll(filepath.Dir(path), 0755)
	if err := os.WriteFile(path, []byte(taskLine(testCwd, "old", "Old work")+"\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f.engine.OnProcessDetected()
	f.engine.OnFileChanged(path, ChangeModified)
	if snap := f.engine.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected history ignored, got %d projects", len(snap))
	}

	f.appendLog(testCwd, testSession, taskLine(testCwd, "new", "New work"))
	p := f.only()
	if len(p.Subagents) != 1 || p.Subagents[0].ID != "new" {
		t.Errorf("expected only the new subagent, got %+v", p.Subagents)
	}
}

func TestHistoricalCwdIsReused(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	cwd := "/work/my-app"
	f.appendLog(cwd, testSession, `{"type":"system","cwd":"/work/my-app"}`)
	f.appendLog(cwd, testSession, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Task","input":{"description":"x"}}]}}`)

	if p := f.only(); p.Path != cwd {
		t.Errorf("expected remembered cwd %s, got %s", cwd, p.Path)
	}
}

func TestDecodedDirectoryNameFallback(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	f.appendLog("/work/app", testSession, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Task","input":{}}]}}`)

	p := f.only()
	if p.Path != "/work/app" {
		t.Errorf("expected decoded path /work/app, got %s", p.Path)
	}
	if p.Subagents[0].Name != defaultSubagentName {
		t.Errorf("expected default name, got %q", p.Subagents[0].Name)
	}
}

func TestRefreshPicksUpNewAndRemovedLogs(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()

	path := f.logPath(testCwd, testSession)
	os.MkdirAll(filepath.Dir(path), 0755)
	if err := os.WriteFile(path, []byte(createLine(testCwd, "c1", "A")+"\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f.engine.Refresh()
	if p := f.only(); len(p.Tasks) != 1 {
		t.Fatalf("expected new log read from start, got %d tasks", len(p.Tasks))
	}

	os.Remove(path)
	f.engine.Refresh()
	if snap := f.engine.Snapshot(); len(snap) != 0 {
		t.Errorf("expected vanished log to remove project, got %d", len(snap))
	}
}

func TestPeriodicRefreshRuns(t *testing.T) {
	root := t.TempDir()
	e := New(Config{ProjectsDir: root, RefreshInterval: 10 * time.Millisecond})
	t.Cleanup(e.Close)
	e.OnProcessDetected()

	path := filepath.Join(root, projectdir.Encode(testCwd), testSession+".jsonl")
	os.MkdirAll(filepath.Dir(path), 0755)
	if err := os.WriteFile(path, []byte(createLine(testCwd, "c1", "A")+"\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.Snapshot()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(e.Snapshot()) != 1 {
		t.Fatal("expected refresh timer to discover the new log")
	}

	e.OnProcessLost()
	if e.WatchState() != WatchStopped {
		t.Errorf("expected stopped, got %s", e.WatchState())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()
	f.appendLog(testCwd, testSession,
		taskLine(testCwd, "t1", "Explore"),
		resultLine(testCwd, "t1", false),
		createLine(testCwd, "c1", "A"),
	)

	snap := f.engine.Snapshot()
	snap[0].Tasks[0].Subject = "mutated"
	*snap[0].Subagents[0].EndedAt = time.Time{}

	p := f.only()
	if p.Tasks[0].Subject != "A" {
		t.Errorf("expected engine state untouched, got subject %q", p.Tasks[0].Subject)
	}
	if p.Subagents[0].EndedAt.IsZero() {
		t.Error("expected engine end time untouched")
	}
}

func TestExpandCollapse(t *testing.T) {
	f := newFixture(t)
	f.engine.OnProcessDetected()
	f.appendLog(testCwd, testSession, createLine(testCwd, "c1", "A"))
	id := f.only().ID

	if !f.engine.SetExpanded(id, true) || !f.only().Expanded {
		t.Error("expected project expanded")
	}
	if f.engine.ToggleExpanded(id) || f.only().Expanded {
		t.Error("expected toggle to collapse")
	}
	if f.engine.SetExpanded("missing", true) {
		t.Error("expected unknown project to report false")
	}
}

func TestChangeNotification(t *testing.T) {
	f := newFixture(t)
	before := f.engine.Tick()

	f.engine.OnProcessDetected()

	select {
	case <-f.engine.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected change signal")
	}
	if f.engine.Tick() <= before {
		t.Errorf("expected tick to advance past %d, got %d", before, f.engine.Tick())
	}
	if f.engine.LastUpdated().IsZero() {
		t.Error("expected last updated set")
	}

	tick := f.engine.Tick()
	f.engine.OnFileChanged(filepath.Join(f.root, "nothing.txt"), ChangeModified)
	if f.engine.Tick() != tick {
		t.Errorf("expected no tick for a no-op, got %d -> %d", tick, f.engine.Tick())
	}
}

func TestRecorderReceivesActivity(t *testing.T) {
	rec := &memoryRecorder{}
	f := newFixture(t, WithRecorder(rec))
	f.engine.OnProcessDetected()

	f.appendLog(testCwd, testSession,
		taskLine(testCwd, "t1", "Explore"),
		resultLine(testCwd, "t1", false),
		createLine(testCwd, "c1", "A"),
		updateLine(testCwd, "u1", "1", "completed"),
	)

	want := []string{
		ActivityProjectCreated,
		ActivitySubagentStarted,
		ActivitySubagentFinished,
		ActivityTaskCreated,
		ActivityTaskUpdated,
	}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("activity %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
