package tracker

import (
	"github.com/drewfead/vigil/internal/hooks"
	"github.com/drewfead/vigil/internal/logging"
	"github.com/drewfead/vigil/internal/projectdir"
)

// applyLifecycle handles one hook event. Events naming a tool other than the
// delegated-task tool are ignored, as are unknown event kinds.
func (e *Engine) applyLifecycle(ev hooks.Event) {
	if ev.ToolName != "" && ev.ToolName != e.cfg.TaskTool {
		return
	}

	switch ev.Kind {
	case hooks.KindPromptSubmitted:
		e.promptSubmitted(ev)
	case hooks.KindSessionStopped:
		e.sessionStopped(ev)
	case hooks.KindPreTool:
		e.preTool(ev)
	case hooks.KindPostTool:
		e.postTool(ev, SubagentCompleted)
	case hooks.KindPostToolFailure:
		e.postTool(ev, SubagentError)
	default:
		e.log.Debug("ignoring unknown hook event", "event", ev.Kind)
	}
}

func (e *Engine) promptSubmitted(ev hooks.Event) {
	if e.state == WatchStopped {
		// The hook can fire before the liveness probe notices the process.
		if normalized := projectdir.Normalize(ev.Cwd); normalized != "" {
			e.pendingStatus[normalized] = SessionWorking
		}
		return
	}
	p := e.resolve(ev.Cwd, ev.SessionID, true)
	if p == nil {
		return
	}
	e.setStatus(p, SessionWorking)
}

func (e *Engine) sessionStopped(ev hooks.Event) {
	if normalized := projectdir.Normalize(ev.Cwd); normalized != "" {
		delete(e.pendingStatus, normalized)
	}
	if e.state == WatchStopped {
		return
	}
	p := e.resolve(ev.Cwd, ev.SessionID, false)
	if p == nil {
		return
	}
	e.setStatus(p, SessionIdle)

	if e.notifyOnStop && e.notifier != nil {
		view := p.View(e.now())
		notifier := e.notifier
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logging.CapturePanic(r, "goroutine", "stop-notification")
				}
			}()
			notifier.SessionStopped(view)
		}()
	}
}

func (e *Engine) preTool(ev hooks.Event) {
	if e.state == WatchStopped || ev.ToolName != e.cfg.TaskTool {
		return
	}
	p := e.resolve(ev.Cwd, ev.SessionID, true)
	if p == nil {
		return
	}
	e.setStatus(p, SessionWorking)

	name := ev.TaskDescription
	if name == "" {
		name = ev.SubagentType
	}
	e.startSubagent(p, ev.ToolUseID, name, e.now())
}

func (e *Engine) postTool(ev hooks.Event, status SubagentStatus) {
	if e.state == WatchStopped || ev.ToolName != e.cfg.TaskTool {
		return
	}
	e.finishSubagent(ev.ToolUseID, status, e.now(), true)
}

func (e *Engine) setStatus(p *Project, status SessionStatus) {
	if p.Status == status {
		return
	}
	p.Status = status
	e.changed()
	e.record(Activity{Kind: ActivityStatusChanged, ProjectID: p.ID, Path: p.Path, SessionID: p.SessionID, Detail: string(status)})
}
