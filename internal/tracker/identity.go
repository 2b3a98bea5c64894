package tracker

import (
	"github.com/drewfead/vigil/internal/projectdir"
)

// resolve maps an event's path and session onto a project. Lookup order:
// the session index, then the normalized-path identifier, the identifier
// of the raw path, and finally normalized-path equality. A miss creates a
// project only when create is set.
func (e *Engine) resolve(rawPath, sessionID string, create bool) *Project {
	normalized := projectdir.Normalize(rawPath)

	if sessionID != "" {
		if id, ok := e.sessions[sessionID]; ok {
			if p := e.byID(id); p != nil {
				e.repair(p, normalized, sessionID)
				return p
			}
			delete(e.sessions, sessionID)
		}
	}

	if normalized == "" {
		return nil
	}
	id := projectdir.Encode(normalized)
	rawID := projectdir.Encode(rawPath)

	p := e.byID(id)
	if p == nil && rawID != id {
		p = e.byID(rawID)
	}
	if p == nil {
		p = e.byPath(normalized)
	}
	if p != nil {
		if sessionID != "" {
			if p.SessionID != sessionID {
				p.SessionID = sessionID
				e.changed()
			}
			e.sessions[sessionID] = p.ID
		}
		return p
	}

	if !create {
		return nil
	}
	return e.createProject(id, normalized, sessionID)
}

// repair updates a project found through the session index when the event
// reports a different path or session. The path is left alone if another
// project already owns it.
func (e *Engine) repair(p *Project, normalized, sessionID string) {
	if normalized != "" && p.Path != normalized {
		if other := e.byPath(normalized); other == nil {
			e.log.Debug("project path drift", "project", p.ID, "from", p.Path, "to", normalized)
			p.Path = normalized
			e.changed()
		}
	}
	if p.SessionID != sessionID {
		p.SessionID = sessionID
		e.changed()
	}
}

func (e *Engine) createProject(id, normalized, sessionID string) *Project {
	status := SessionUnknown
	if pending, ok := e.pendingStatus[normalized]; ok {
		status = pending
		delete(e.pendingStatus, normalized)
	}

	p := &Project{
		ID:        id,
		Path:      normalized,
		SessionID: sessionID,
		CreatedAt: e.now(),
		Status:    status,
	}
	e.projects = append(e.projects, p)
	if sessionID != "" {
		e.sessions[sessionID] = id
	}
	if e.state == WatchWatching {
		e.setState(WatchActive)
	}
	e.changed()

	e.log.Info("tracking project", "project", id, "path", normalized, "session_id", sessionID)
	e.record(Activity{Kind: ActivityProjectCreated, ProjectID: id, Path: normalized, SessionID: sessionID, Detail: string(status)})
	return p
}

func (e *Engine) byPath(normalized string) *Project {
	for _, p := range e.projects {
		if p.Path == normalized {
			return p
		}
	}
	return nil
}

// removeProject drops a project and every index entry that refers to it.
func (e *Engine) removeProject(p *Project) {
	for i, candidate := range e.projects {
		if candidate == p {
			e.projects = append(e.projects[:i], e.projects[i+1:]...)
			break
		}
	}
	for inv, pend := range e.pending {
		if pend.projectID == p.ID {
			delete(e.pending, inv)
		}
	}
	for session, id := range e.sessions {
		if id == p.ID {
			delete(e.sessions, session)
		}
	}
	delete(e.taskIDs, p.ID)
	e.changed()

	if len(e.projects) == 0 && e.state == WatchActive {
		e.setState(WatchWatching)
	}

	e.log.Info("project removed", "project", p.ID, "path", p.Path)
	e.record(Activity{Kind: ActivityProjectRemoved, ProjectID: p.ID, Path: p.Path, SessionID: p.SessionID})
}
