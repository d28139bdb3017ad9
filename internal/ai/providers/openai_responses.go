package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"

	"github.com/floegence/imagent/internal/ai"
)

type openAIResponses struct {
	client           openai.Client
	strictToolSchema bool
}

func (p *openAIResponses) Turn(ctx context.Context, req ai.TurnRequest) (ai.TurnResult, error) {
	if p == nil {
		return ai.TurnResult{}, errors.New("nil provider")
	}
	if err := checkRequest(req); err != nil {
		return ai.TurnResult{}, err
	}

	params := oresponses.ResponseNewParams{
		Model:             oshared.ResponsesModel(strings.TrimSpace(req.Model)),
		MaxOutputTokens:   openai.Int(maxTokens(req)),
		ParallelToolCalls: openai.Bool(false),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if strings.EqualFold(strings.TrimSpace(req.ResponseFormat), "json_object") {
		obj := oshared.NewResponseFormatJSONObjectParam()
		params.Text = oresponses.ResponseTextConfigParam{
			Format: oresponses.ResponseFormatTextConfigUnionParam{OfJSONObject: &obj},
		}
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.Instructions = openai.String(system)
	}
	input := buildResponsesInput(req.Messages)
	if len(input) == 0 {
		input = append(input, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}
	params.Input = oresponses.ResponseNewParamsInputUnion{OfInputItemList: input}

	tools, names := aliasTools(req.Tools)
	for _, t := range tools {
		fn := oresponses.ToolParamOfFunction(t.Alias, t.Schema, p.strictToolSchema)
		if t.Description != "" && fn.OfFunction != nil {
			fn.OfFunction.Description = openai.String(t.Description)
		}
		params.Tools = append(params.Tools, fn)
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return ai.TurnResult{}, err
	}

	result := ai.TurnResult{
		FinishReason: mapOpenAIStatus(resp.Status),
		Text:         strings.TrimSpace(extractResponsesText(*resp)),
		Usage: ai.TurnUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, item := range resp.Output {
		if strings.TrimSpace(item.Type) != "function_call" {
			continue
		}
		callID := strings.TrimSpace(item.CallID)
		if callID == "" {
			callID = strings.TrimSpace(item.ID)
		}
		if callID == "" {
			callID = fmt.Sprintf("openai_call_%d", len(result.ToolCalls)+1)
		}
		raw := strings.TrimSpace(item.Arguments)
		result.ToolCalls = append(result.ToolCalls, ai.ToolCall{
			ID:      callID,
			Name:    names.real(item.Name),
			Args:    parseArgs(raw),
			RawArgs: raw,
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	return result, nil
}

func buildResponsesInput(messages []ai.ChatMessage) oresponses.ResponseInputParam {
	items := make(oresponses.ResponseInputParam, 0, len(messages)+1)
	for _, msg := range messages {
		switch msg.Role {
		case ai.ChatRoleSystem:
			// carried by Instructions
		case ai.ChatRoleTool:
			for _, part := range msg.Parts {
				if part.Type != ai.PartToolResult || strings.TrimSpace(part.ToolCallID) == "" {
					continue
				}
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(part.ToolCallID, part.Text))
			}
		case ai.ChatRoleAssistant:
			for _, part := range msg.Parts {
				switch part.Type {
				case ai.PartText:
					if txt := strings.TrimSpace(part.Text); txt != "" {
						items = append(items, oresponses.ResponseInputItemParamOfMessage(txt, oresponses.EasyInputMessageRoleAssistant))
					}
				case ai.PartToolCall:
					name := sanitizeToolName(part.ToolName)
					if name == "" || strings.TrimSpace(part.ToolCallID) == "" {
						continue
					}
					items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(validArgsJSON(part.ArgsJSON), part.ToolCallID, name))
				}
			}
		default:
			content := make(oresponses.ResponseInputMessageContentListParam, 0, len(msg.Parts))
			for _, part := range msg.Parts {
				switch part.Type {
				case ai.PartText:
					if txt := strings.TrimSpace(part.Text); txt != "" {
						content = append(content, oresponses.ResponseInputContentUnionParam{
							OfInputText: &oresponses.ResponseInputTextParam{Text: txt},
						})
					}
				case ai.PartImage:
					if uri := strings.TrimSpace(part.ImageURL); uri != "" {
						content = append(content, oresponses.ResponseInputContentUnionParam{
							OfInputImage: &oresponses.ResponseInputImageParam{
								Detail:   oresponses.ResponseInputImageDetailAuto,
								ImageURL: openai.String(uri),
							},
						})
					}
				}
			}
			if len(content) > 0 {
				items = append(items, oresponses.ResponseInputItemParamOfMessage(content, oresponses.EasyInputMessageRoleUser))
			}
		}
	}
	return items
}

func extractResponsesText(resp oresponses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if strings.TrimSpace(item.Type) != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if strings.TrimSpace(part.Type) != "output_text" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.TrimSpace(part.Text))
		}
	}
	return sb.String()
}

func mapOpenAIStatus(status oresponses.ResponseStatus) string {
	switch strings.ToLower(strings.TrimSpace(string(status))) {
	case "completed":
		return "stop"
	case "incomplete":
		return "length"
	case "failed", "cancelled":
		return "error"
	default:
		return "unknown"
	}
}
