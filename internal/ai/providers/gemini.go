package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/floegence/imagent/internal/ai"
)

type geminiProvider struct {
	client *genai.Client
}

func newGemini(baseURL string, apiKey string) (*geminiProvider, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) Turn(ctx context.Context, req ai.TurnRequest) (ai.TurnResult, error) {
	if p == nil || p.client == nil {
		return ai.TurnResult{}, errors.New("nil provider")
	}
	if err := checkRequest(req); err != nil {
		return ai.TurnResult{}, err
	}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens(req))}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if system := strings.TrimSpace(req.System); system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if strings.EqualFold(strings.TrimSpace(req.ResponseFormat), "json_object") {
		cfg.ResponseMIMEType = "application/json"
	}
	tools, names := aliasTools(req.Tools)
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Alias,
				Description:          t.Description,
				ParametersJsonSchema: t.Schema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, strings.TrimSpace(req.Model), buildGeminiContents(req.Messages), cfg)
	if err != nil {
		return ai.TurnResult{}, err
	}
	result := ai.TurnResult{FinishReason: "unknown", Text: strings.TrimSpace(resp.Text())}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		result.FinishReason = mapGeminiFinishReason(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		result.Usage = ai.TurnUsage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	for _, fc := range resp.FunctionCalls() {
		if fc == nil {
			continue
		}
		callID := strings.TrimSpace(fc.ID)
		if callID == "" {
			callID = fmt.Sprintf("gemini_call_%d", len(result.ToolCalls)+1)
		}
		raw, _ := json.Marshal(fc.Args)
		result.ToolCalls = append(result.ToolCalls, ai.ToolCall{
			ID:      callID,
			Name:    names.real(fc.Name),
			Args:    fc.Args,
			RawArgs: string(raw),
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	return result, nil
}

func buildGeminiContents(messages []ai.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages)+1)
	for _, msg := range messages {
		if msg.Role == ai.ChatRoleSystem {
			continue
		}
		parts := make([]*genai.Part, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			switch part.Type {
			case ai.PartText:
				if txt := strings.TrimSpace(part.Text); txt != "" {
					parts = append(parts, genai.NewPartFromText(txt))
				}
			case ai.PartImage:
				uri := strings.TrimSpace(part.ImageURL)
				mime := strings.TrimSpace(part.MimeType)
				if data, ok := decodeDataURL(uri); ok {
					parts = append(parts, genai.NewPartFromBytes(data, mime))
				} else if isRemoteURL(uri) {
					parts = append(parts, genai.NewPartFromURI(uri, mime))
				}
			case ai.PartToolCall:
				parts = append(parts, genai.NewPartFromFunctionCall(sanitizeToolName(part.ToolName), parseArgs(part.ArgsJSON)))
			case ai.PartToolResult:
				parts = append(parts, genai.NewPartFromFunctionResponse(sanitizeToolName(part.ToolName), map[string]any{"output": part.Text}))
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.RoleUser
		if msg.Role == ai.ChatRoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromParts(parts, genai.Role(role)))
	}
	if len(out) == 0 {
		out = append(out, genai.NewContentFromText("Continue.", genai.RoleUser))
	}
	return out
}

func mapGeminiFinishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return "content_filter"
	default:
		return "unknown"
	}
}
