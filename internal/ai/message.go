package ai

import (
	"maps"
	"time"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

// Role tags one Message Log entry.
type Role string

const (
	RoleInstruction Role = "instruction"
	RoleDecision    Role = "decision"
	RoleToolResult  Role = "tool_result"
	// RoleGuidance is corrective text from the Reflection Step, replayed to the model as its own words.
	RoleGuidance Role = "guidance"
)

type ToolResult struct {
	CallID   string             `json:"call_id,omitempty"`
	ToolName string             `json:"tool_name"`
	Outcome  aitools.Outcome    `json:"outcome"`
	Content  string             `json:"content"`
	Error    *aitools.ToolError `json:"error,omitempty"`
}

type Message struct {
	Role      Role        `json:"role"`
	Text      string      `json:"text,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	AtUnixMs  int64       `json:"at_unix_ms,omitempty"`
}

func NewInstruction(text string) Message {
	return Message{Role: RoleInstruction, Text: text, AtUnixMs: time.Now().UnixMilli()}
}

func NewDecision(text string, calls []ToolCall) Message {
	return Message{Role: RoleDecision, Text: text, ToolCalls: cloneToolCalls(calls), AtUnixMs: time.Now().UnixMilli()}
}

func NewToolResultMessage(res ToolResult) Message {
	return Message{Role: RoleToolResult, Result: cloneToolResult(&res), AtUnixMs: time.Now().UnixMilli()}
}

func NewGuidance(text string) Message {
	return Message{Role: RoleGuidance, Text: text, AtUnixMs: time.Now().UnixMilli()}
}

// HasToolCalls reports whether m is a Decision requesting at least one tool.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleDecision && len(m.ToolCalls) > 0
}

// CloneMessage returns a deep copy so callers can never reach into the log's storage.
func CloneMessage(in Message) Message {
	out := in
	out.ToolCalls = cloneToolCalls(in.ToolCalls)
	out.Result = cloneToolResult(in.Result)
	return out
}

func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i := range in {
		out[i] = CloneMessage(in[i])
	}
	return out
}

func cloneToolCalls(in []ToolCall) []ToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]ToolCall, len(in))
	for i, c := range in {
		out[i] = c
		out[i].Args = cloneAnyMap(c.Args)
	}
	return out
}

func cloneToolResult(in *ToolResult) *ToolResult {
	if in == nil {
		return nil
	}
	out := *in
	if in.Error != nil {
		e := *in.Error
		e.SuggestedFixes = append([]string(nil), in.Error.SuggestedFixes...)
		out.Error = &e
	}
	return &out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneAnyMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneAny(x[i])
		}
		return out
	case map[string]string:
		return maps.Clone(x)
	default:
		return v
	}
}
