// Package hooks carries lifecycle events from the monitored CLI's hook
// mechanism to the tracker over a local Unix socket.
//
// Wire format: one newline-terminated JSON object per connection.
//
//	{"event":"PreToolUse","session_id":"abc","cwd":"/src/app","tool_name":"Task","tool_use_id":"t1","task_description":"Explore"}
package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the lifecycle event name.
type Kind string

const (
	KindPromptSubmitted Kind = "UserPromptSubmit"
	KindSessionStopped  Kind = "Stop"
	KindPreTool         Kind = "PreToolUse"
	KindPostTool        Kind = "PostToolUse"
	KindPostToolFailure Kind = "PostToolUseFailure"
)

// Kinds lists every event name the companion script is registered for.
var Kinds = []Kind{
	KindPromptSubmitted,
	KindSessionStopped,
	KindPreTool,
	KindPostTool,
	KindPostToolFailure,
}

// Known reports whether k is one of the five recognized event names.
func (k Kind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ErrMissingField is returned by Decode when a required field is empty.
var ErrMissingField = errors.New("missing required field")

// Event is one lifecycle notification.
type Event struct {
	Kind            Kind   `json:"event"`
	SessionID       string `json:"session_id"`
	Cwd             string `json:"cwd"`
	ToolName        string `json:"tool_name,omitempty"`
	ToolUseID       string `json:"tool_use_id,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	SubagentType    string `json:"subagent_type,omitempty"`
}

// Decode parses and validates one wire message. Unknown event names are
// accepted here; consumers ignore them.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode hook event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks the required fields.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(string(e.Kind)) == "":
		return fmt.Errorf("%w: event", ErrMissingField)
	case strings.TrimSpace(e.SessionID) == "":
		return fmt.Errorf("%w: session_id", ErrMissingField)
	case strings.TrimSpace(e.Cwd) == "":
		return fmt.Errorf("%w: cwd", ErrMissingField)
	}
	return nil
}

// Encode renders the event as a single wire line.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// hookInput is the JSON the monitored CLI writes to a hook's stdin.
type hookInput struct {
	SessionID     string `json:"session_id"`
	Cwd           string `json:"cwd"`
	HookEventName string `json:"hook_event_name"`
	ToolName      string `json:"tool_name"`
	ToolUseID     string `json:"tool_use_id"`
	ToolInput     struct {
		Description  string `json:"description"`
		Prompt       string `json:"prompt"`
		SubagentType string `json:"subagent_type"`
	} `json:"tool_input"`
}

// FromHookInput builds a wire event from the hook's event-name argument and
// its optional stdin payload. The argument wins over hook_event_name.
func FromHookInput(eventName string, stdin []byte) (Event, error) {
	var in hookInput
	if len(strings.TrimSpace(string(stdin))) > 0 {
		if err := json.Unmarshal(stdin, &in); err != nil {
			return Event{}, fmt.Errorf("decode hook input: %w", err)
		}
	}

	kind := Kind(eventName)
	if kind == "" {
		kind = Kind(in.HookEventName)
	}

	ev := Event{
		Kind:            kind,
		SessionID:       in.SessionID,
		Cwd:             in.Cwd,
		ToolName:        in.ToolName,
		ToolUseID:       in.ToolUseID,
		TaskDescription: in.ToolInput.Description,
		SubagentType:    in.ToolInput.SubagentType,
	}
	return ev, ev.Validate()
}
