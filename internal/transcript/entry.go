// Package transcript reads session logs incrementally and extracts the tool
// activity the tracker cares about.
//
// A session log is newline-delimited JSON:
//
//	{"type":"assistant","cwd":"/src/app","timestamp":"...","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Task","input":{}}]}}
//	{"type":"user","timestamp":"...","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"done"}]}}
package transcript

import (
	"encoding/json"
	"strings"
	"time"
)

// EntryType is the top-level record kind.
type EntryType string

const (
	EntryTypeSystem    EntryType = "system"
	EntryTypeAssistant EntryType = "assistant"
	EntryTypeUser      EntryType = "user"
)

// Content block kinds inside message.content.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Entry is one decoded log record.
type Entry struct {
	Type      EntryType `json:"type"`
	RawTime   string    `json:"timestamp,omitempty"`
	Cwd       string    `json:"cwd,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	UUID      string    `json:"uuid,omitempty"`
	Message   *Message  `json:"message,omitempty"`
}

// Message is the nested message of assistant/user records.
type Message struct {
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"` // string for plain prompts, []Block otherwise
}

// Block is one item of message.content.
type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // string or [{text}]
	IsError   bool            `json:"is_error,omitempty"`
}

// Decode parses a single log line.
func Decode(line []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Role returns the message role, falling back to the record type.
func (e *Entry) Role() string {
	if e.Message != nil && e.Message.Role != "" {
		return e.Message.Role
	}
	return string(e.Type)
}

// Blocks returns the typed content items. Plain-string content has none.
func (e *Entry) Blocks() []Block {
	if e.Message == nil || len(e.Message.Content) == 0 {
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(e.Message.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// Timestamp parses the record timestamp. The zero time means absent or unparseable.
func (e *Entry) Timestamp() time.Time {
	if e.RawTime == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, e.RawTime); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", e.RawTime); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// resultText handles tool_result content, which is either a plain string or
// a list of fragments whose text is joined with newlines.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var fragments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &fragments); err == nil {
		parts := make([]string, 0, len(fragments))
		for _, f := range fragments {
			if f.Text != "" {
				parts = append(parts, f.Text)
			}
		}
		return strings.Join(parts, "\n")
	}

	return string(raw)
}
