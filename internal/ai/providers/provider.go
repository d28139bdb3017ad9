// Package providers adapts vendor model APIs to ai.Provider.
package providers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"

	"github.com/floegence/imagent/internal/ai"
	aitools "github.com/floegence/imagent/internal/ai/tools"
)

const defaultMaxOutputTokens = 4096

const (
	KindOpenAI           = "openai"
	KindOpenAICompatible = "openai_compatible"
	KindAnthropic        = "anthropic"
	KindGemini           = "gemini"
)

var ErrUnsupportedProvider = errors.New("unsupported provider type")

func Kinds() []string {
	return []string{KindOpenAI, KindOpenAICompatible, KindAnthropic, KindGemini}
}

// New builds a provider adapter. openai talks to the Responses API; openai_compatible talks to
// Chat Completions, which is what DeepSeek and DashScope (Qwen-VL) gateways implement.
func New(kind string, baseURL string, apiKey string) (ai.Provider, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	baseURL = strings.TrimSpace(baseURL)
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("missing provider api key")
	}
	switch kind {
	case KindOpenAI:
		opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, ooption.WithBaseURL(baseURL))
		}
		return &openAIResponses{
			client:           openai.NewClient(opts...),
			strictToolSchema: shouldUseStrictToolSchema(baseURL),
		}, nil
	case KindOpenAICompatible:
		opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, ooption.WithBaseURL(baseURL))
		}
		return &openAIChat{client: openai.NewClient(opts...)}, nil
	case KindAnthropic:
		opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, aoption.WithBaseURL(baseURL))
		}
		return &anthropicProvider{client: anthropic.NewClient(opts...)}, nil
	case KindGemini:
		return newGemini(baseURL, apiKey)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedProvider, kind)
	}
}

// shouldUseStrictToolSchema enables strict function schemas only for the official OpenAI host.
func shouldUseStrictToolSchema(baseURL string) bool {
	if baseURL == "" {
		return true
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.ToLower(u.Hostname()) == "api.openai.com"
}

// toolNames maps provider-safe aliases back to catalog names.
type toolNames map[string]string

func (n toolNames) real(alias string) string {
	alias = strings.TrimSpace(alias)
	if name, ok := n[alias]; ok {
		return name
	}
	return alias
}

func aliasTools(defs []aitools.Definition) ([]aliasedTool, toolNames) {
	out := make([]aliasedTool, 0, len(defs))
	names := make(toolNames, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		alias := sanitizeToolName(name)
		names[alias] = name
		out = append(out, aliasedTool{Alias: alias, Description: strings.TrimSpace(def.Description), Schema: schemaMap(def.InputSchema)})
	}
	return out, names
}

type aliasedTool struct {
	Alias       string
	Description string
	Schema      map[string]any
}

func schemaMap(raw json.RawMessage) map[string]any {
	schema := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &schema)
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

func sanitizeToolName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var sb strings.Builder
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_' || ch == '-':
			sb.WriteRune(ch)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), "_-")
	if out == "" {
		return "tool"
	}
	return out
}

func parseArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw = strings.TrimSpace(raw); raw != "" {
		_ = json.Unmarshal([]byte(raw), &args)
	}
	return args
}

func validArgsJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !json.Valid([]byte(raw)) {
		return "{}"
	}
	return raw
}

func extractDataURLBase64(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "data:") {
		return "", false
	}
	meta, data, ok := strings.Cut(raw, ",")
	if !ok || !strings.Contains(meta, ";base64") {
		return "", false
	}
	data = strings.TrimSpace(data)
	if data == "" {
		return "", false
	}
	return data, true
}

func decodeDataURL(raw string) ([]byte, bool) {
	b64, ok := extractDataURLBase64(raw)
	if !ok {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, false
	}
	return b, true
}

func isRemoteURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func maxTokens(req ai.TurnRequest) int64 {
	if req.MaxOutputTokens > 0 {
		return int64(req.MaxOutputTokens)
	}
	return defaultMaxOutputTokens
}

func checkRequest(req ai.TurnRequest) error {
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("missing model")
	}
	return nil
}
