package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	oshared "github.com/openai/openai-go/shared"

	"github.com/floegence/imagent/internal/ai"
)

// openAIChat speaks Chat Completions for OpenAI-compatible gateways.
type openAIChat struct {
	client openai.Client
}

func (p *openAIChat) Turn(ctx context.Context, req ai.TurnRequest) (ai.TurnResult, error) {
	if p == nil {
		return ai.TurnResult{}, errors.New("nil provider")
	}
	if err := checkRequest(req); err != nil {
		return ai.TurnResult{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:     oshared.ChatModel(strings.TrimSpace(req.Model)),
		Messages:  buildChatMessages(req.System, req.Messages),
		MaxTokens: openai.Int(maxTokens(req)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if strings.EqualFold(strings.TrimSpace(req.ResponseFormat), "json_object") {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &oshared.ResponseFormatJSONObjectParam{},
		}
	}
	tools, names := aliasTools(req.Tools)
	for _, t := range tools {
		fn := oshared.FunctionDefinitionParam{
			Name:       t.Alias,
			Parameters: oshared.FunctionParameters(t.Schema),
		}
		if t.Description != "" {
			fn.Description = openai.String(t.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ai.TurnResult{}, err
	}
	if len(resp.Choices) == 0 {
		return ai.TurnResult{}, errors.New("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	result := ai.TurnResult{
		FinishReason: mapChatFinishReason(choice.FinishReason),
		Text:         strings.TrimSpace(choice.Message.Content),
		Usage: ai.TurnUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		callID := strings.TrimSpace(tc.ID)
		if callID == "" {
			callID = fmt.Sprintf("chat_call_%d", len(result.ToolCalls)+1)
		}
		raw := strings.TrimSpace(tc.Function.Arguments)
		result.ToolCalls = append(result.ToolCalls, ai.ToolCall{
			ID:      callID,
			Name:    names.real(tc.Function.Name),
			Args:    parseArgs(raw),
			RawArgs: raw,
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	return result, nil
}

func buildChatMessages(system string, messages []ai.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system = strings.TrimSpace(system); system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case ai.ChatRoleSystem:
			if txt := msg.JoinText(); txt != "" {
				out = append(out, openai.SystemMessage(txt))
			}
		case ai.ChatRoleTool:
			for _, part := range msg.Parts {
				if part.Type == ai.PartToolResult && strings.TrimSpace(part.ToolCallID) != "" {
					out = append(out, openai.ToolMessage(part.Text, part.ToolCallID))
				}
			}
		case ai.ChatRoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if txt := msg.JoinText(); txt != "" {
				asst.Content.OfString = openai.String(txt)
			}
			for _, part := range msg.Parts {
				if part.Type != ai.PartToolCall || strings.TrimSpace(part.ToolCallID) == "" {
					continue
				}
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: part.ToolCallID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      sanitizeToolName(part.ToolName),
						Arguments: validArgsJSON(part.ArgsJSON),
					},
				})
			}
			if len(asst.ToolCalls) == 0 && msg.JoinText() == "" {
				continue
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Parts))
			hasImage := false
			for _, part := range msg.Parts {
				switch part.Type {
				case ai.PartText:
					if txt := strings.TrimSpace(part.Text); txt != "" {
						parts = append(parts, openai.TextContentPart(txt))
					}
				case ai.PartImage:
					if uri := strings.TrimSpace(part.ImageURL); uri != "" {
						hasImage = true
						parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: uri}))
					}
				}
			}
			switch {
			case hasImage:
				out = append(out, openai.UserMessage(parts))
			case len(parts) > 0:
				// Text-only gateways (DeepSeek) reject content arrays.
				out = append(out, openai.UserMessage(msg.JoinText()))
			}
		}
	}
	if len(out) == 0 {
		out = append(out, openai.UserMessage("Continue."))
	}
	return out
}

func mapChatFinishReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "stop":
		return "stop"
	case "tool_calls", "function_call":
		return "tool_calls"
	case "length":
		return "length"
	case "content_filter":
		return "content_filter"
	default:
		return "unknown"
	}
}
