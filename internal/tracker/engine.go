package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drewfead/vigil/internal/hooks"
	"github.com/drewfead/vigil/internal/logging"
	"github.com/drewfead/vigil/internal/transcript"
)

// ChangeKind classifies a file-change notification.
type ChangeKind int

const (
	ChangeModified ChangeKind = iota
	ChangeRemoved
)

func (k ChangeKind) String() string {
	if k == ChangeRemoved {
		return "removed"
	}
	return "modified"
}

// Tailer delivers file changes under the projects root while started.
// Stop must not return until no further changes will be delivered.
type Tailer interface {
	Start() error
	Stop()
}

// Notifier delivers a completion notification when a session stops.
type Notifier interface {
	SessionStopped(ProjectView)
}

// Recorder receives every applied change. Record must not block.
type Recorder interface {
	Record(Activity)
}

// Config is the engine's construction-time configuration.
type Config struct {
	ProjectsDir     string
	LogExt          string
	TaskTool        string
	TaskCreateTool  string
	TaskUpdateTool  string
	RefreshInterval time.Duration
	NotifyOnStop    bool
	CwdScanLimit    int64
}

func (c *Config) applyDefaults() {
	if c.LogExt == "" {
		c.LogExt = ".jsonl"
	}
	if c.TaskTool == "" {
		c.TaskTool = "Task"
	}
	if c.TaskCreateTool == "" {
		c.TaskCreateTool = "TaskCreate"
	}
	if c.TaskUpdateTool == "" {
		c.TaskUpdateTool = "TaskUpdate"
	}
	if c.CwdScanLimit <= 0 {
		c.CwdScanLimit = transcript.DefaultCwdScanLimit
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithTailer sets the file-change source started on process detection.
func WithTailer(t Tailer) Option {
	return func(e *Engine) { e.tailer = t }
}

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRecorder sets the activity recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

const maxTombstones = 512

type pendingSubagent struct {
	projectID string
	name      string
	startedAt time.Time
}

type tombstone struct {
	status SubagentStatus
	at     time.Time
}

// Engine is the reconciliation core. Every mutation runs on a single loop
// goroutine; public methods marshal their work onto it and wait.
type Engine struct {
	cfg      Config
	parser   *transcript.Parser
	tailer   Tailer
	notifier Notifier
	recorder Recorder
	now      func() time.Time
	log      *slog.Logger

	ops      chan func()
	quit     chan struct{}
	loopDone chan struct{}
	closed   sync.Once

	// runMu serializes detection and loss transitions.
	runMu         sync.Mutex
	refreshCancel context.CancelFunc
	refreshDone   chan struct{}

	// Owned by the loop goroutine.
	state         WatchState
	projects      []*Project
	sessions      map[string]string // session id -> project id
	pending       map[string]pendingSubagent
	tombstones    map[string]tombstone
	taskIDs       map[string]map[string]string // project id -> invocation id -> task id
	pendingStatus map[string]SessionStatus     // normalized path -> status
	logCwd        map[string]string
	notifyOnStop  bool
	dirty         bool

	watch       atomic.Int32
	tick        atomic.Uint64
	lastUpdated atomic.Int64
	changes     chan struct{}
}

// New creates an engine in the stopped state and starts its loop.
func New(cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:           cfg,
		parser:        transcript.NewParser(),
		now:           time.Now,
		log:           logging.Component("tracker"),
		ops:           make(chan func()),
		quit:          make(chan struct{}),
		loopDone:      make(chan struct{}),
		sessions:      make(map[string]string),
		pending:       make(map[string]pendingSubagent),
		tombstones:    make(map[string]tombstone),
		taskIDs:       make(map[string]map[string]string),
		pendingStatus: make(map[string]SessionStatus),
		logCwd:        make(map[string]string),
		notifyOnStop:  cfg.NotifyOnStop,
		changes:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	for {
		select {
		case op := <-e.ops:
			e.run(op)
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) run(op func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "goroutine", "tracker-loop")
		}
		if e.dirty {
			e.dirty = false
			e.publish()
		}
	}()
	op()
}

// do runs op on the loop and waits for it. It reports false if the engine
// is closed.
func (e *Engine) do(op func()) bool {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		op()
	}
	select {
	case e.ops <- wrapped:
	case <-e.quit:
		return false
	}
	select {
	case <-done:
		return true
	case <-e.loopDone:
		return false
	}
}

// changed marks the current op as having mutated visible state.
func (e *Engine) changed() {
	e.dirty = true
}

func (e *Engine) publish() {
	e.tick.Add(1)
	e.lastUpdated.Store(e.now().UnixNano())
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

func (e *Engine) setState(s WatchState) {
	if e.state == s {
		return
	}
	e.log.Debug("watch state", "from", e.state, "to", s)
	e.state = s
	e.watch.Store(int32(s))
	e.changed()
}

func (e *Engine) record(a Activity) {
	if e.recorder == nil {
		return
	}
	if a.At.IsZero() {
		a.At = e.now()
	}
	e.recorder.Record(a)
}

// Close stops watching and shuts the loop down.
func (e *Engine) Close() {
	e.OnProcessLost()
	e.closed.Do(func() {
		close(e.quit)
		<-e.loopDone
	})
}

// OnProcessDetected moves a stopped engine to watching: existing logs are
// caught up so only new data counts, then the tailer and periodic refresh
// start.
func (e *Engine) OnProcessDetected() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	started := false
	e.do(func() {
		if e.state != WatchStopped {
			return
		}
		e.catchUp()
		if len(e.projects) > 0 {
			e.setState(WatchActive)
		} else {
			e.setState(WatchWatching)
		}
		started = true
	})
	if !started {
		return
	}

	e.log.Info("process detected, watching session logs", "dir", e.cfg.ProjectsDir)
	if e.tailer != nil {
		if err := e.tailer.Start(); err != nil {
			e.log.Warn("failed to start log tailer, relying on periodic refresh", "error", err)
		}
	}
	e.startRefresh()
}

// OnProcessLost halts the tailer and refresh timer, then clears every
// project, index and offset.
func (e *Engine) OnProcessLost() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.tailer != nil {
		e.tailer.Stop()
	}
	e.stopRefresh()

	e.do(func() {
		if e.state == WatchStopped {
			return
		}
		e.log.Info("process lost, clearing state", "projects", len(e.projects))
		e.clear()
		e.setState(WatchStopped)
	})
}

func (e *Engine) clear() {
	for _, p := range e.projects {
		e.record(Activity{Kind: ActivityProjectRemoved, ProjectID: p.ID, Path: p.Path, SessionID: p.SessionID})
	}
	e.projects = nil
	e.sessions = make(map[string]string)
	e.pending = make(map[string]pendingSubagent)
	e.tombstones = make(map[string]tombstone)
	e.taskIDs = make(map[string]map[string]string)
	e.logCwd = make(map[string]string)
	e.parser.Reset()
	e.changed()
}

func (e *Engine) startRefresh() {
	if e.cfg.RefreshInterval <= 0 || e.refreshCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.refreshCancel = cancel
	e.refreshDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Refresh()
			}
		}
	}()
}

func (e *Engine) stopRefresh() {
	if e.refreshCancel == nil {
		return
	}
	e.refreshCancel()
	<-e.refreshDone
	e.refreshCancel = nil
	e.refreshDone = nil
}

// Refresh rescans the projects root: new logs are read from the start,
// known logs are tailed and logs that vanished are treated as removed.
func (e *Engine) Refresh() {
	e.do(func() {
		if e.state == WatchStopped {
			return
		}
		e.rescan()
	})
}

// OnFileChanged applies a change to a file under the projects root.
func (e *Engine) OnFileChanged(path string, kind ChangeKind) {
	e.do(func() {
		if e.state == WatchStopped {
			return
		}
		switch kind {
		case ChangeRemoved:
			e.handleRemoved(path)
		default:
			e.handleModified(path)
		}
	})
}

// OnLifecycleEvent applies one side-channel event.
func (e *Engine) OnLifecycleEvent(ev hooks.Event) {
	e.do(func() {
		e.applyLifecycle(ev)
	})
}

// Snapshot returns a deep copy of the projects in creation order.
func (e *Engine) Snapshot() []Project {
	var out []Project
	e.do(func() {
		out = make([]Project, 0, len(e.projects))
		for _, p := range e.projects {
			out = append(out, p.clone())
		}
	})
	return out
}

// WatchState returns the current top-level state.
func (e *Engine) WatchState() WatchState {
	return WatchState(e.watch.Load())
}

// Tick is a counter that increases whenever visible state changes.
func (e *Engine) Tick() uint64 {
	return e.tick.Load()
}

// LastUpdated is the time of the most recent visible change.
func (e *Engine) LastUpdated() time.Time {
	ns := e.lastUpdated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Changes receives a value after visible state changes. Sends are
// coalesced, so a reader sees at least one signal per burst.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

// SetExpanded sets a project's expand flag. It reports whether the project
// exists.
func (e *Engine) SetExpanded(projectID string, expanded bool) bool {
	found := false
	e.do(func() {
		p := e.byID(projectID)
		if p == nil {
			return
		}
		found = true
		if p.Expanded != expanded {
			p.Expanded = expanded
			e.changed()
		}
	})
	return found
}

// ToggleExpanded flips a project's expand flag and returns the new value.
func (e *Engine) ToggleExpanded(projectID string) bool {
	expanded := false
	e.do(func() {
		p := e.byID(projectID)
		if p == nil {
			return
		}
		p.Expanded = !p.Expanded
		expanded = p.Expanded
		e.changed()
	})
	return expanded
}

// SetNotifyOnStop enables or disables completion notifications.
func (e *Engine) SetNotifyOnStop(enabled bool) {
	e.do(func() {
		e.notifyOnStop = enabled
	})
}

func (e *Engine) byID(id string) *Project {
	for _, p := range e.projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}
