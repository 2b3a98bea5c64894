package tracker

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/drewfead/vigil/internal/projectdir"
	"github.com/drewfead/vigil/internal/transcript"
)

const defaultSubagentName = "Subagent"

// catchUp marks every existing primary log as read.
func (e *Engine) catchUp() {
	logs, err := projectdir.Discover(e.cfg.ProjectsDir, e.cfg.LogExt)
	if err != nil {
		e.log.Warn("failed to list session logs", "dir", e.cfg.ProjectsDir, "error", err)
		return
	}
	for _, lf := range logs {
		e.parser.CatchUp(lf.Path)
	}
	e.log.Debug("caught up session logs", "count", len(logs))
}

func (e *Engine) rescan() {
	logs, err := projectdir.Discover(e.cfg.ProjectsDir, e.cfg.LogExt)
	if err != nil {
		e.log.Debug("rescan failed", "dir", e.cfg.ProjectsDir, "error", err)
		return
	}

	seen := make(map[string]struct{}, len(logs))
	for _, lf := range logs {
		seen[lf.Path] = struct{}{}
		e.handleModified(lf.Path)
	}
	for _, path := range e.parser.Tracked() {
		if _, ok := seen[path]; ok {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			e.handleRemoved(path)
		}
	}
}

// handleModified reads whatever was appended to a primary log and applies
// it in file order. Nested logs are ignored.
func (e *Engine) handleModified(path string) {
	lf, ok := projectdir.Classify(e.cfg.ProjectsDir, e.cfg.LogExt, path)
	if !ok || !lf.Primary {
		return
	}

	entries := e.parser.ReadNew(path)
	if len(entries) == 0 {
		return
	}

	cwd := transcript.ExtractCwd(entries)
	if cwd == "" {
		cwd = e.logCwd[path]
	}
	if cwd == "" {
		cwd = transcript.ScanCwd(path, e.cfg.CwdScanLimit)
	}
	if cwd == "" {
		cwd = projectdir.Decode(lf.DirName)
	}
	e.logCwd[path] = cwd

	for _, act := range transcript.Extract(entries) {
		switch {
		case act.Use != nil:
			e.applyToolUse(lf, cwd, *act.Use)
		case act.Result != nil:
			e.applyToolResult(*act.Result)
		}
	}
}

// handleRemoved tears down the project whose primary log was deleted.
func (e *Engine) handleRemoved(path string) {
	lf, ok := projectdir.Classify(e.cfg.ProjectsDir, e.cfg.LogExt, path)
	if !ok || !lf.Primary {
		return
	}

	e.parser.Forget(path)
	delete(e.logCwd, path)

	var p *Project
	if id, ok := e.sessions[lf.SessionID]; ok {
		p = e.byID(id)
	}
	if p == nil {
		for _, candidate := range e.projects {
			if candidate.ID == lf.DirName || candidate.LogPath == path {
				p = candidate
				break
			}
		}
	}
	if p == nil {
		return
	}

	// The project has moved on to a newer session; only the old mapping goes.
	if p.SessionID != "" && p.SessionID != lf.SessionID {
		delete(e.sessions, lf.SessionID)
		return
	}
	e.removeProject(p)
}

func (e *Engine) applyToolUse(lf projectdir.LogFile, cwd string, use transcript.ToolUse) {
	switch use.ToolName {
	case e.cfg.TaskTool:
		p := e.resolve(cwd, lf.SessionID, true)
		if p == nil {
			return
		}
		e.attachLog(p, lf)
		name := use.String("description")
		if name == "" {
			name = use.String("subagent_type")
		}
		e.startSubagent(p, use.InvocationID, name, use.Timestamp)

	case e.cfg.TaskCreateTool:
		p := e.resolve(cwd, lf.SessionID, true)
		if p == nil {
			return
		}
		e.attachLog(p, lf)
		e.createTask(p, use)

	case e.cfg.TaskUpdateTool:
		p := e.resolve(cwd, lf.SessionID, false)
		if p == nil {
			return
		}
		e.updateTask(p, use)
	}
}

func (e *Engine) attachLog(p *Project, lf projectdir.LogFile) {
	if p.LogPath != lf.Path {
		p.LogPath = lf.Path
	}
}

// applyToolResult finishes the subagent started by the result's
// invocation. Results for any other tool are ignored.
func (e *Engine) applyToolResult(res transcript.ToolResult) {
	if _, ok := e.pending[res.InvocationID]; !ok {
		return
	}
	status := SubagentCompleted
	if res.IsError {
		status = SubagentError
	}
	at := res.Timestamp
	if at.IsZero() {
		at = e.now()
	}
	e.finishSubagent(res.InvocationID, status, at, false)
}

func (e *Engine) createTask(p *Project, use transcript.ToolUse) {
	subject := use.String("subject")
	if subject == "" {
		return
	}

	assigned := e.taskIDs[p.ID]
	if assigned == nil {
		assigned = make(map[string]string)
		e.taskIDs[p.ID] = assigned
	}
	if use.InvocationID != "" {
		if _, seen := assigned[use.InvocationID]; seen {
			return
		}
	}

	// Items are deduplicated by subject, so two distinct items sharing a
	// subject collapse into one.
	if existing := p.taskBySubject(subject); existing != nil {
		if use.InvocationID != "" {
			assigned[use.InvocationID] = existing.ID
		}
		return
	}

	item := TaskItem{
		ID:          strconv.Itoa(len(p.Tasks) + 1),
		Subject:     subject,
		Description: use.String("description"),
		Status:      TaskPending,
		ActiveForm:  use.String("activeForm"),
	}
	p.Tasks = append(p.Tasks, item)
	if use.InvocationID != "" {
		assigned[use.InvocationID] = item.ID
	}
	e.changed()
	e.record(Activity{Kind: ActivityTaskCreated, ProjectID: p.ID, Path: p.Path, SessionID: p.SessionID, SubjectID: item.ID, Detail: subject, At: use.Timestamp})
}

func (e *Engine) updateTask(p *Project, use transcript.ToolUse) {
	item := p.task(use.String("taskId"))
	if item == nil {
		return
	}

	updated := false
	if status, ok := ParseTaskStatus(use.String("status")); ok && item.Status != status {
		item.Status = status
		updated = true
	}
	if form := use.String("activeForm"); form != "" && item.ActiveForm != form {
		item.ActiveForm = form
		updated = true
	}
	if !updated {
		return
	}
	e.changed()
	e.record(Activity{Kind: ActivityTaskUpdated, ProjectID: p.ID, Path: p.Path, SessionID: p.SessionID, SubjectID: item.ID, Detail: string(item.Status), At: use.Timestamp})
}

// startSubagent creates a running subagent unless the invocation is already
// known. A terminal status reported before the subagent existed is applied
// immediately.
func (e *Engine) startSubagent(p *Project, invocationID, name string, startedAt time.Time) {
	if invocationID == "" {
		return
	}
	if _, sub := e.findSubagent(invocationID); sub != nil {
		return
	}
	if name == "" {
		name = defaultSubagentName
	}
	if startedAt.IsZero() {
		startedAt = e.now()
	}

	sub := Subagent{
		ID:        invocationID,
		Name:      name,
		Status:    SubagentRunning,
		StartedAt: startedAt,
	}
	if tomb, ok := e.tombstones[invocationID]; ok {
		delete(e.tombstones, invocationID)
		end := laterOf(tomb.at, startedAt)
		sub.Status = tomb.status
		sub.EndedAt = &end
	} else {
		e.pending[invocationID] = pendingSubagent{projectID: p.ID, name: name, startedAt: startedAt}
	}

	p.Subagents = append(p.Subagents, sub)
	e.changed()
	e.record(Activity{Kind: ActivitySubagentStarted, ProjectID: p.ID, Path: p.Path, SessionID: p.SessionID, SubjectID: invocationID, Detail: name, At: startedAt})
	if sub.Status.Terminal() {
		e.record(Activity{Kind: ActivitySubagentFinished, ProjectID: p.ID, Path: p.Path, SessionID: p.SessionID, SubjectID: invocationID, Detail: string(sub.Status), At: *sub.EndedAt})
	}
}

// finishSubagent moves a subagent to a terminal status. The pending index
// is consulted first, then every project. When the subagent is unknown and
// remember is set, the status is kept until the subagent appears.
func (e *Engine) finishSubagent(invocationID string, status SubagentStatus, at time.Time, remember bool) {
	if invocationID == "" {
		return
	}

	var p *Project
	var sub *Subagent
	if pend, ok := e.pending[invocationID]; ok {
		if p = e.byID(pend.projectID); p != nil {
			sub = p.subagent(invocationID)
		}
	}
	if sub == nil {
		p, sub = e.findSubagent(invocationID)
	}
	delete(e.pending, invocationID)

	if sub == nil {
		if remember {
			e.remember(invocationID, status, at)
		}
		return
	}
	if sub.Status.Terminal() {
		return
	}

	end := laterOf(at, sub.StartedAt)
	sub.Status = status
	sub.EndedAt = &end
	e.changed()
	e.record(Activity{Kind: ActivitySubagentFinished, ProjectID: p.ID, Path: p.Path, SessionID: p.SessionID, SubjectID: invocationID, Detail: string(status), At: end})
}

func (e *Engine) remember(invocationID string, status SubagentStatus, at time.Time) {
	if len(e.tombstones) >= maxTombstones {
		var oldest string
		var oldestAt time.Time
		for id, t := range e.tombstones {
			if oldest == "" || t.at.Before(oldestAt) {
				oldest, oldestAt = id, t.at
			}
		}
		delete(e.tombstones, oldest)
	}
	e.tombstones[invocationID] = tombstone{status: status, at: at}
}

func (e *Engine) findSubagent(invocationID string) (*Project, *Subagent) {
	for _, p := range e.projects {
		if sub := p.subagent(invocationID); sub != nil {
			return p, sub
		}
	}
	return nil, nil
}

func laterOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
