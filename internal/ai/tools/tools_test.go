package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type searchArgs struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

var searchSchema = json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"count":{"type":"integer"}},"required":["query"]}`)

func newSearchTool(t *testing.T) Tool {
	t.Helper()
	return Typed(Definition{Name: "web_search", InputSchema: searchSchema}, func(ctx context.Context, args searchArgs) (Result, error) {
		return OK("q=" + args.Query), nil
	})
}

func TestNewCatalog_RejectsDuplicatesAndMissingInvoke(t *testing.T) {
	t.Parallel()

	tool := newSearchTool(t)
	_, err := NewCatalog(tool, tool)
	require.ErrorIs(t, err, ErrDuplicateTool)

	_, err = NewCatalog(Tool{Definition: Definition{Name: "x"}})
	require.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = NewCatalog(Tool{Definition: Definition{Name: "  "}, Invoke: tool.Invoke})
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestCatalog_DefinitionsKeepRegistrationOrder(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, json.RawMessage) (Result, error) { return OK("ok"), nil }
	c, err := NewCatalog(
		Tool{Definition: Definition{Name: "classify_image"}, Invoke: noop},
		Tool{Definition: Definition{Name: "extract_info_from_image"}, Invoke: noop},
		newSearchTool(t),
	)
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())
	require.Equal(t, []string{"classify_image", "extract_info_from_image", "web_search"}, c.Names())

	defs := c.Definitions()
	defs[2].InputSchema[0] = 'X'
	again := c.Definitions()
	require.Equal(t, byte('{'), again[2].InputSchema[0], "Definitions must hand out copies")

	_, ok := c.Lookup("missing")
	require.False(t, ok)
}

func TestTyped_ConvertsArguments(t *testing.T) {
	t.Parallel()

	tool := newSearchTool(t)
	res, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"attention is all you need"}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Equal(t, "q=attention is all you need", res.Content)
}

func TestTyped_InvalidArguments(t *testing.T) {
	t.Parallel()

	tool := newSearchTool(t)
	cases := map[string]string{
		"not an object":   `["query"]`,
		"missing":         `{}`,
		"null required":   `{"query":null}`,
		"unknown key":     `{"query":"x","site":"arxiv.org"}`,
		"wrong type":      `{"query":42}`,
		"malformed json":  `{"query":`,
		"count as string": `{"query":"x","count":"five"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tool.Invoke(context.Background(), json.RawMessage(raw))
			require.ErrorIs(t, err, ErrInvalidArguments)
		})
	}
}

func TestRequiredFields(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"query"}, RequiredFields(searchSchema))
	require.Nil(t, RequiredFields(nil))
	require.Nil(t, RequiredFields(json.RawMessage(`not json`)))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
	}{
		{"unknown tool", fmt.Errorf("%w: fly", ErrUnknownTool), ErrorCodeUnknownTool, false},
		{"invalid args", fmt.Errorf("%w: missing query", ErrInvalidArguments), ErrorCodeInvalidArguments, true},
		{"missing image", fmt.Errorf("open img.png: %w", os.ErrNotExist), ErrorCodeNotFound, false},
		{"deadline", context.DeadlineExceeded, ErrorCodeTimeout, true},
		{"canceled", context.Canceled, ErrorCodeCanceled, false},
		{"rate limit", errors.New("search failed (status 429)"), ErrorCodeRateLimited, true},
		{"storage", errors.New("sqlite: database is locked"), ErrorCodeStorage, false},
		{"other", errors.New("boom"), ErrorCodeUnknown, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyError(Invocation{ToolName: "web_search"}, tc.err)
			require.NotNil(t, got)
			require.Equal(t, tc.code, got.Code)
			require.Equal(t, tc.retryable, got.Retryable)
		})
	}
	require.Nil(t, ClassifyError(Invocation{}, nil))
}

func TestClassifyError_PassesThroughToolError(t *testing.T) {
	t.Parallel()

	src := &ToolError{Code: ErrorCodeStorage, Message: "  disk full  "}
	got := ClassifyError(Invocation{}, fmt.Errorf("save: %w", src))
	require.Equal(t, ErrorCodeStorage, got.Code)
	require.Equal(t, "disk full", got.Message)
}

func TestErrorContent_IsJSONWithErrorKey(t *testing.T) {
	t.Parallel()

	content := ErrorContent(&ToolError{Code: ErrorCodeUnknownTool, Message: "unknown tool: fly"})
	require.True(t, strings.Contains(strings.ToLower(content), "error"))

	var decoded map[string]ToolError
	require.NoError(t, json.Unmarshal([]byte(content), &decoded))
	require.Equal(t, ErrorCodeUnknownTool, decoded["error"].Code)
}
