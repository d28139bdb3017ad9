package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/floegence/imagent/internal/ai"
)

type anthropicProvider struct {
	client anthropic.Client
}

func (p *anthropicProvider) Turn(ctx context.Context, req ai.TurnRequest) (ai.TurnResult, error) {
	if p == nil {
		return ai.TurnResult{}, errors.New("nil provider")
	}
	if err := checkRequest(req); err != nil {
		return ai.TurnResult{}, err
	}
	tools, names := aliasTools(req.Tools)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(req.Model)),
		MaxTokens: maxTokens(req),
		Messages:  buildAnthropicMessages(req.Messages),
	}
	for _, t := range tools {
		required, _ := toStringSlice(t.Schema["required"])
		param := anthropic.ToolParam{
			Name:        t.Alias,
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: t.Schema["properties"], Required: required},
		}
		if t.Description != "" {
			param.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &param})
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return ai.TurnResult{}, err
	}
	result := ai.TurnResult{
		FinishReason: mapAnthropicStopReason(msg.StopReason),
		Usage: ai.TurnUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if txt := strings.TrimSpace(variant.Text); txt != "" {
				text = append(text, txt)
			}
		case anthropic.ToolUseBlock:
			callID := strings.TrimSpace(variant.ID)
			if callID == "" {
				callID = fmt.Sprintf("anthropic_call_%d", len(result.ToolCalls)+1)
			}
			raw := strings.TrimSpace(string(variant.Input))
			result.ToolCalls = append(result.ToolCalls, ai.ToolCall{
				ID:      callID,
				Name:    names.real(variant.Name),
				Args:    parseArgs(raw),
				RawArgs: raw,
			})
		}
	}
	result.Text = strings.Join(text, "\n")
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	return result, nil
}

// buildAnthropicMessages folds consecutive same-role turns into one message, since the
// Messages API requires strict user/assistant alternation, and makes sure the conversation
// ends on a user turn.
func buildAnthropicMessages(messages []ai.ChatMessage) []anthropic.MessageParam {
	type turn struct {
		assistant bool
		blocks    []anthropic.ContentBlockParamUnion
	}
	turns := make([]turn, 0, len(messages)+1)
	push := func(assistant bool, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].assistant == assistant {
			turns[n-1].blocks = append(turns[n-1].blocks, blocks...)
			return
		}
		turns = append(turns, turn{assistant: assistant, blocks: blocks})
	}

	for _, msg := range messages {
		if msg.Role == ai.ChatRoleSystem {
			continue
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			switch part.Type {
			case ai.PartToolResult:
				if strings.TrimSpace(part.ToolCallID) == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolCallID, part.Text, false))
			case ai.PartToolCall:
				if strings.TrimSpace(part.ToolCallID) == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCallID, json.RawMessage(validArgsJSON(part.ArgsJSON)), sanitizeToolName(part.ToolName)))
			case ai.PartImage:
				uri := strings.TrimSpace(part.ImageURL)
				if b64, ok := extractDataURLBase64(uri); ok {
					mediaType := strings.TrimSpace(part.MimeType)
					if mediaType == "" {
						mediaType = "image/png"
					}
					blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, b64))
				} else if isRemoteURL(uri) {
					blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: uri}))
				}
			default:
				if txt := strings.TrimSpace(part.Text); txt != "" {
					blocks = append(blocks, anthropic.NewTextBlock(txt))
				}
			}
		}
		push(msg.Role == ai.ChatRoleAssistant, blocks)
	}
	if len(turns) == 0 || turns[len(turns)-1].assistant {
		push(false, []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock("Continue.")})
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.assistant {
			out = append(out, anthropic.NewAssistantMessage(t.blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(t.blocks...))
		}
	}
	return out
}

func mapAnthropicStopReason(reason anthropic.StopReason) string {
	switch strings.ToLower(strings.TrimSpace(string(reason))) {
	case "tool_use":
		return "tool_calls"
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "refusal":
		return "content_filter"
	default:
		return "unknown"
	}
}

func toStringSlice(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
