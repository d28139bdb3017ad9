package ai

import (
	"context"
	"encoding/json"
	"strings"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

// ChatRole is the provider-facing author of a ChatMessage.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleTool      ChatRole = "tool"
)

type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

type ContentPart struct {
	Type       PartType `json:"type"`
	Text       string   `json:"text,omitempty"`
	ImageURL   string   `json:"image_url,omitempty"`
	MimeType   string   `json:"mime_type,omitempty"`
	ToolCallID string   `json:"tool_call_id,omitempty"`
	ToolName   string   `json:"tool_name,omitempty"`
	ArgsJSON   string   `json:"args_json,omitempty"`
}

// ChatMessage is the normalized message shape every provider adapter consumes.
type ChatMessage struct {
	Role  ChatRole      `json:"role"`
	Parts []ContentPart `json:"parts"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart wraps a data: or http(s) URL.
func ImagePart(url string, mimeType string) ContentPart {
	return ContentPart{Type: PartImage, ImageURL: url, MimeType: mimeType}
}

func UserMessage(parts ...ContentPart) ChatMessage {
	return ChatMessage{Role: ChatRoleUser, Parts: parts}
}

// JoinText concatenates the text parts of a message.
func (m ChatMessage) JoinText() string {
	parts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type != PartText {
			continue
		}
		if txt := strings.TrimSpace(p.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n")
}

type TurnRequest struct {
	Model    string               `json:"model"`
	System   string               `json:"system,omitempty"`
	Messages []ChatMessage        `json:"messages"`
	Tools    []aitools.Definition `json:"tools,omitempty"`

	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	// ResponseFormat is "" (text) or "json_object".
	ResponseFormat string `json:"response_format,omitempty"`
}

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	// RawArgs is the argument text exactly as the model produced it.
	RawArgs string `json:"raw_args,omitempty"`
}

// ArgsJSON returns the call arguments as JSON text, preferring the model's raw output.
func (c ToolCall) ArgsJSON() string {
	if raw := strings.TrimSpace(c.RawArgs); raw != "" {
		return raw
	}
	if len(c.Args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(c.Args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

type TurnUsage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

type TurnResult struct {
	FinishReason string     `json:"finish_reason"`
	Text         string     `json:"text,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        TurnUsage  `json:"usage,omitempty"`
}

// Provider is the normalized model adapter contract.
type Provider interface {
	Turn(ctx context.Context, req TurnRequest) (TurnResult, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, req TurnRequest) (TurnResult, error)

func (f ProviderFunc) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	return f(ctx, req)
}
