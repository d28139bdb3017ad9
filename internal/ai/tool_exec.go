package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

// executeTools runs every call of the Decision in the order the model listed them. Each result is
// appended as soon as it is available; a failing call never prevents its siblings from running.
func (e *Engine) executeTools(ctx context.Context, sess *Session, step int, decision Message) {
	for _, call := range decision.ToolCalls {
		res := e.invokeOne(ctx, sess.RunID(), call)
		e.append(sess, step, NewToolResultMessage(res))
	}
}

func (e *Engine) invokeOne(ctx context.Context, runID string, call ToolCall) ToolResult {
	out := ToolResult{CallID: call.ID, ToolName: call.Name}
	args := json.RawMessage(call.ArgsJSON())
	inv := aitools.Invocation{ToolName: call.Name, Args: args}
	logger := e.cfg.Logger.With("run_id", runID, "tool", call.Name, "call_id", call.ID)

	fail := func(err error) ToolResult {
		toolErr := aitools.ClassifyError(inv, err)
		out.Outcome = aitools.OutcomeHardFailure
		out.Error = toolErr
		out.Content = aitools.ErrorContent(toolErr)
		logger.Warn("tool call failed", "code", toolErr.Code, "error", toolErr.Message)
		return out
	}

	tool, ok := e.cfg.Catalog.Lookup(call.Name)
	if !ok {
		return fail(fmt.Errorf("%w: %s", aitools.ErrUnknownTool, call.Name))
	}
	res, err := safeInvoke(ctx, logger, tool, args)
	if err != nil {
		return fail(err)
	}
	content, err := renderContent(res.Content)
	if err != nil {
		return fail(err)
	}
	out.Outcome = res.Outcome
	if out.Outcome == "" {
		out.Outcome = aitools.OutcomeOK
	}
	out.Content = content
	logger.Debug("tool call finished", "outcome", out.Outcome)
	return out
}

func safeInvoke(ctx context.Context, logger *slog.Logger, tool aitools.Tool, args json.RawMessage) (res aitools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool panicked", "panic", r, "stack", string(debug.Stack()))
			err = &aitools.ToolError{Code: aitools.ErrorCodePanic, Message: fmt.Sprintf("tool panicked: %v", r)}
		}
	}()
	return tool.Invoke(ctx, args)
}

// renderContent uses strings verbatim and encodes anything else as compact JSON without HTML escaping.
func renderContent(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.RawMessage:
		return string(x), nil
	case []byte:
		return string(x), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode tool content: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
