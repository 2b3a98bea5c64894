// Package tracker reconciles session log activity and hook lifecycle events
// into one in-memory directory of projects, subagents and checklist items.
package tracker

import (
	"time"

	"github.com/drewfead/vigil/internal/projectdir"
)

// WatchState is the engine's top-level state.
type WatchState int32

const (
	WatchStopped WatchState = iota
	WatchWatching
	WatchActive
)

func (s WatchState) String() string {
	switch s {
	case WatchWatching:
		return "watching"
	case WatchActive:
		return "active"
	default:
		return "stopped"
	}
}

// SessionStatus is the lifecycle status of a project's session.
type SessionStatus string

const (
	SessionUnknown SessionStatus = "unknown"
	SessionWorking SessionStatus = "working"
	SessionIdle    SessionStatus = "idle"
)

// SubagentStatus is the status of one delegated unit of work.
type SubagentStatus string

const (
	SubagentRunning   SubagentStatus = "running"
	SubagentWaiting   SubagentStatus = "waiting"
	SubagentCompleted SubagentStatus = "completed"
	SubagentError     SubagentStatus = "error"
)

// Terminal reports whether the status is final.
func (s SubagentStatus) Terminal() bool {
	return s == SubagentCompleted || s == SubagentError
}

// TaskStatus is the status of a checklist item.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// ParseTaskStatus returns the status named by s, or false if s is not one
// of the recognized values.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case TaskPending, TaskInProgress, TaskCompleted:
		return TaskStatus(s), true
	}
	return "", false
}

// Subagent is one delegated unit of parallel work.
type Subagent struct {
	ID        string
	Name      string
	Status    SubagentStatus
	StartedAt time.Time
	EndedAt   *time.Time
}

// Duration returns how long the subagent ran, or has been running as of now.
func (s Subagent) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// TaskItem is one checklist entry.
type TaskItem struct {
	ID          string
	Subject     string
	Description string
	Status      TaskStatus
	ActiveForm  string
}

// Label is the text shown for the item: the active form while in progress,
// the subject otherwise.
func (t TaskItem) Label() string {
	if t.Status == TaskInProgress && t.ActiveForm != "" {
		return t.ActiveForm
	}
	return t.Subject
}

// Project is a monitored working directory with one active session.
type Project struct {
	ID        string
	Path      string
	SessionID string
	LogPath   string
	Subagents []Subagent
	Tasks     []TaskItem
	Expanded  bool
	CreatedAt time.Time
	Status    SessionStatus
}

// DisplayName is the trailing segment of the project path.
func (p Project) DisplayName() string {
	return projectdir.DisplayName(p.Path)
}

// Elapsed is the time since the project was first seen.
func (p Project) Elapsed(now time.Time) time.Duration {
	if now.Before(p.CreatedAt) {
		return 0
	}
	return now.Sub(p.CreatedAt)
}

// RunningSubagents counts subagents that have not finished.
func (p Project) RunningSubagents() int {
	n := 0
	for _, s := range p.Subagents {
		if !s.Status.Terminal() {
			n++
		}
	}
	return n
}

// TaskProgress returns the completed and total checklist counts.
func (p Project) TaskProgress() (completed, total int) {
	for _, t := range p.Tasks {
		if t.Status == TaskCompleted {
			completed++
		}
	}
	return completed, len(p.Tasks)
}

// ProjectView is the summary a presentation layer renders for a project.
type ProjectView struct {
	ID               string
	Name             string
	Path             string
	SessionID        string
	Status           SessionStatus
	Elapsed          time.Duration
	RunningSubagents int
	TasksCompleted   int
	TasksTotal       int
}

// View summarizes the project as of now.
func (p Project) View(now time.Time) ProjectView {
	done, total := p.TaskProgress()
	return ProjectView{
		ID:               p.ID,
		Name:             p.DisplayName(),
		Path:             p.Path,
		SessionID:        p.SessionID,
		Status:           p.Status,
		Elapsed:          p.Elapsed(now),
		RunningSubagents: p.RunningSubagents(),
		TasksCompleted:   done,
		TasksTotal:       total,
	}
}

func (p *Project) subagent(id string) *Subagent {
	for i := range p.Subagents {
		if p.Subagents[i].ID == id {
			return &p.Subagents[i]
		}
	}
	return nil
}

func (p *Project) task(id string) *TaskItem {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

func (p *Project) taskBySubject(subject string) *TaskItem {
	for i := range p.Tasks {
		if p.Tasks[i].Subject == subject {
			return &p.Tasks[i]
		}
	}
	return nil
}

// clone deep-copies the project so callers never share slices with the
// engine.
func (p *Project) clone() Project {
	c := *p
	c.Subagents = make([]Subagent, len(p.Subagents))
	for i, s := range p.Subagents {
		c.Subagents[i] = s
		if s.EndedAt != nil {
			end := *s.EndedAt
			c.Subagents[i].EndedAt = &end
		}
	}
	c.Tasks = append([]TaskItem(nil), p.Tasks...)
	return c
}

// Activity is one applied change, reported to an optional Recorder.
type Activity struct {
	Kind      string
	ProjectID string
	Path      string
	SessionID string
	SubjectID string
	Detail    string
	At        time.Time
}

// Activity kinds.
const (
	ActivityProjectCreated   = "project_created"
	ActivityProjectRemoved   = "project_removed"
	ActivityStatusChanged    = "status_changed"
	ActivitySubagentStarted  = "subagent_started"
	ActivitySubagentFinished = "subagent_finished"
	ActivityTaskCreated      = "task_created"
	ActivityTaskUpdated      = "task_updated"
)
