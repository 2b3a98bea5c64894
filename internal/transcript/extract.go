package transcript

import (
	"encoding/json"
	"strconv"
	"time"
)

// ToolUse is a tool invocation found in an assistant record.
type ToolUse struct {
	InvocationID string
	ToolName     string
	Input        map[string]any
	Timestamp    time.Time
}

// String returns Input[key] when it is a string.
func (u ToolUse) String(key string) string {
	if u.Input == nil {
		return ""
	}
	switch v := u.Input[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// ToolResult is a tool result found in a user record.
type ToolResult struct {
	InvocationID string
	Text         string
	IsError      bool
	Timestamp    time.Time
}

// Activity is either a ToolUse or a ToolResult, in file order.
type Activity struct {
	Use    *ToolUse
	Result *ToolResult
}

// ExtractToolUses returns every tool_use item of assistant records.
func ExtractToolUses(entries []*Entry) []ToolUse {
	var uses []ToolUse
	for _, a := range Extract(entries) {
		if a.Use != nil {
			uses = append(uses, *a.Use)
		}
	}
	return uses
}

// ExtractToolResults returns every tool_result item of user records.
func ExtractToolResults(entries []*Entry) []ToolResult {
	var results []ToolResult
	for _, a := range Extract(entries) {
		if a.Result != nil {
			results = append(results, *a.Result)
		}
	}
	return results
}

// Extract returns tool uses and results interleaved in the order they were
// written, so a result never precedes its invocation within one file.
func Extract(entries []*Entry) []Activity {
	var out []Activity
	for _, e := range entries {
		role := e.Role()
		if role != string(EntryTypeAssistant) && role != string(EntryTypeUser) {
			continue
		}
		ts := e.Timestamp()
		for _, b := range e.Blocks() {
			switch {
			case role == string(EntryTypeAssistant) && b.Type == BlockToolUse:
				if b.ID == "" {
					continue
				}
				out = append(out, Activity{Use: &ToolUse{
					InvocationID: b.ID,
					ToolName:     b.Name,
					Input:        decodeInput(b.Input),
					Timestamp:    ts,
				}})
			case role == string(EntryTypeUser) && b.Type == BlockToolResult:
				if b.ToolUseID == "" {
					continue
				}
				out = append(out, Activity{Result: &ToolResult{
					InvocationID: b.ToolUseID,
					Text:         resultText(b.Content),
					IsError:      b.IsError,
					Timestamp:    ts,
				}})
			}
		}
	}
	return out
}

// ExtractCwd returns the cwd of the first entry that carries one.
func ExtractCwd(entries []*Entry) string {
	for _, e := range entries {
		if e.Cwd != "" {
			return e.Cwd
		}
	}
	return ""
}

func decodeInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
