package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/floegence/imagent/internal/ai"
	aitools "github.com/floegence/imagent/internal/ai/tools"
)

// captureServer answers every request with a fixed JSON body and keeps the last request.
type captureServer struct {
	suffix string
	reply  string

	mu   sync.Mutex
	path string
	body map[string]any
	auth http.Header
}

func (c *captureServer) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	c.mu.Lock()
	c.path = r.URL.Path
	c.body = body
	c.auth = r.Header.Clone()
	c.mu.Unlock()

	if !strings.HasSuffix(r.URL.Path, c.suffix) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, c.reply)
}

func (c *captureServer) lastBody() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

func start(t *testing.T, suffix string, reply string) (*captureServer, *httptest.Server) {
	t.Helper()
	c := &captureServer{suffix: suffix, reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(srv.Close)
	return c, srv
}

func sampleRequest() ai.TurnRequest {
	temp := 0.2
	return ai.TurnRequest{
		Model:  "test-model",
		System: "You are an image analysis agent.",
		Messages: ai.ChatHistory([]ai.Message{
			ai.NewInstruction("Please analyze the image at the following path: img.png"),
			ai.NewDecision("classifying", []ai.ToolCall{{ID: "call_1", Name: "classify_image", Args: map[string]any{"image_path": "img.png"}}}),
			ai.NewToolResultMessage(ai.ToolResult{CallID: "call_1", ToolName: "classify_image", Outcome: aitools.OutcomeOK, Content: "论文"}),
			ai.NewGuidance("Reflection on last action: looks fine"),
		}),
		Tools: []aitools.Definition{
			{Name: "classify_image", Description: "Classify an image.", InputSchema: json.RawMessage(`{"type":"object","properties":{"image_path":{"type":"string"}},"required":["image_path"]}`)},
			{Name: "web.search", InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`)},
		},
		MaxOutputTokens: 512,
		Temperature:     &temp,
	}
}

func TestNew_RejectsUnknownKindAndMissingKey(t *testing.T) {
	t.Parallel()

	_, err := New("openai", "", " ")
	require.Error(t, err)
	_, err = New("mystery", "", "sk")
	require.ErrorIs(t, err, ErrUnsupportedProvider)
	for _, kind := range []string{KindOpenAI, KindOpenAICompatible, KindAnthropic} {
		p, err := New(kind, "http://127.0.0.1:1", "sk")
		require.NoError(t, err, kind)
		require.NotNil(t, p)
	}
}

func TestOpenAIChat_ToolCallRoundTrip(t *testing.T) {
	t.Parallel()

	c, srv := start(t, "/chat/completions", `{
		"id":"c1","object":"chat.completion","created":1,"model":"deepseek-chat",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_9","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"vit\"}"}}]}}],
		"usage":{"prompt_tokens":5,"completion_tokens":6,"total_tokens":11}}`)
	p, err := New(KindOpenAICompatible, srv.URL, "sk-test")
	require.NoError(t, err)

	res, err := p.Turn(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "tool_calls", res.FinishReason)
	require.Len(t, res.ToolCalls, 1)
	require.Equal(t, "call_9", res.ToolCalls[0].ID)
	require.Equal(t, "web.search", res.ToolCalls[0].Name, "aliases map back to catalog names")
	require.Equal(t, map[string]any{"query": "vit"}, res.ToolCalls[0].Args)
	require.Equal(t, int64(5), res.Usage.InputTokens)

	body := c.lastBody()
	require.Equal(t, "test-model", body["model"])
	msgs := body["messages"].([]any)
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	require.Equal(t, []string{"system", "user", "assistant", "tool", "assistant"}, roles)
	tools := body["tools"].([]any)
	require.Len(t, tools, 2)
	require.Equal(t, "web_search", tools[1].(map[string]any)["function"].(map[string]any)["name"])
	require.Equal(t, "Bearer sk-test", c.auth.Get("Authorization"))
}

func TestOpenAIChat_ImageContentParts(t *testing.T) {
	t.Parallel()

	c, srv := start(t, "/chat/completions", `{"id":"c1","object":"chat.completion","created":1,"model":"qwen-vl",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"类型\":\"论文\"}"}}]}`)
	p, err := New(KindOpenAICompatible, srv.URL, "sk-test")
	require.NoError(t, err)

	res, err := p.Turn(context.Background(), ai.TurnRequest{
		Model:    "qwen-vl-max",
		Messages: []ai.ChatMessage{ai.UserMessage(ai.TextPart("classify"), ai.ImagePart("data:image/png;base64,iVBORw0KGgo=", "image/png"))},
	})
	require.NoError(t, err)
	require.Equal(t, `{"类型":"论文"}`, res.Text)
	require.Equal(t, "stop", res.FinishReason)

	content := c.lastBody()["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	require.Equal(t, "image_url", content[1].(map[string]any)["type"])
}

func TestOpenAIChat_HTTPErrorIsReturned(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad model"}}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	p, err := New(KindOpenAICompatible, srv.URL, "sk-test")
	require.NoError(t, err)

	_, err = p.Turn(context.Background(), ai.TurnRequest{Model: "nope", Messages: []ai.ChatMessage{ai.UserMessage(ai.TextPart("hi"))}})
	require.Error(t, err)
}

func TestOpenAIResponses_ParsesFunctionCallsAndText(t *testing.T) {
	t.Parallel()

	c, srv := start(t, "/responses", `{
		"id":"resp_1","object":"response","created_at":1,"status":"completed","model":"gpt-4o",
		"output":[
			{"type":"message","id":"msg_1","role":"assistant","status":"completed","content":[{"type":"output_text","text":"Classifying now.","annotations":[]}]},
			{"type":"function_call","id":"fc_1","call_id":"call_1","name":"classify_image","arguments":"{\"image_path\":\"img.png\"}","status":"completed"}
		],
		"usage":{"input_tokens":3,"output_tokens":4,"total_tokens":7}}`)
	p, err := New(KindOpenAI, srv.URL, "sk-test")
	require.NoError(t, err)

	res, err := p.Turn(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "Classifying now.", res.Text)
	require.Equal(t, "tool_calls", res.FinishReason)
	require.Equal(t, []ai.ToolCall{{ID: "call_1", Name: "classify_image", Args: map[string]any{"image_path": "img.png"}, RawArgs: `{"image_path":"img.png"}`}}, res.ToolCalls)
	require.Equal(t, int64(4), res.Usage.OutputTokens)

	body := c.lastBody()
	require.Equal(t, "You are an image analysis agent.", body["instructions"])
	input := body["input"].([]any)
	types := make([]string, 0, len(input))
	for _, it := range input {
		m := it.(map[string]any)
		if tp, ok := m["type"].(string); ok {
			types = append(types, tp)
			continue
		}
		types = append(types, "message")
	}
	require.Equal(t, []string{"message", "message", "function_call", "function_call_output", "message"}, types)
}

func TestAnthropic_AlternatesRolesAndEndsOnUser(t *testing.T) {
	t.Parallel()

	c, srv := start(t, "/messages", `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"Saving."},{"type":"tool_use","id":"toolu_1","name":"save_data_to_db","input":{"image_type":"活动"}}],
		"stop_reason":"tool_use","usage":{"input_tokens":1,"output_tokens":2}}`)
	p, err := New(KindAnthropic, srv.URL, "sk-test")
	require.NoError(t, err)

	res, err := p.Turn(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "Saving.", res.Text)
	require.Equal(t, "tool_calls", res.FinishReason)
	require.Len(t, res.ToolCalls, 1)
	require.Equal(t, "toolu_1", res.ToolCalls[0].ID)
	require.Equal(t, map[string]any{"image_type": "活动"}, res.ToolCalls[0].Args)

	body := c.lastBody()
	msgs := body["messages"].([]any)
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	require.Equal(t, []string{"user", "assistant", "user", "assistant", "user"}, roles)
	require.Equal(t, float64(512), body["max_tokens"])
}

func TestGemini_FunctionCall(t *testing.T) {
	t.Parallel()

	c, srv := start(t, ":generateContent", `{
		"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"web_search","args":{"query":"vit"}}}]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":3}}`)
	p, err := New(KindGemini, srv.URL, "gm-test")
	require.NoError(t, err)

	req := sampleRequest()
	req.Tools = req.Tools[:1]
	req.Tools = append(req.Tools, aitools.Definition{Name: "web_search", InputSchema: json.RawMessage(`{"type":"object"}`)})
	res, err := p.Turn(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "tool_calls", res.FinishReason)
	require.Len(t, res.ToolCalls, 1)
	require.Equal(t, "web_search", res.ToolCalls[0].Name)
	require.Equal(t, "gemini_call_1", res.ToolCalls[0].ID)
	require.Equal(t, int64(3), res.Usage.OutputTokens)
	require.NotEmpty(t, c.lastBody()["contents"])
}

func TestSanitizeToolName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "web_search", sanitizeToolName("web.search"))
	require.Equal(t, "tool", sanitizeToolName("..."))
	require.Equal(t, "", sanitizeToolName(" "))
	require.Equal(t, "save_data_to_db", sanitizeToolName("save_data_to_db"))
}

func TestShouldUseStrictToolSchema(t *testing.T) {
	t.Parallel()

	require.True(t, shouldUseStrictToolSchema(""))
	require.True(t, shouldUseStrictToolSchema("https://api.openai.com/v1"))
	require.False(t, shouldUseStrictToolSchema("https://api.deepseek.com/v1"))
}
