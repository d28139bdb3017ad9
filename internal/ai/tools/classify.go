package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// Invocation carries the minimum context required for error classification / recovery hints.
type Invocation struct {
	ToolName string
	Args     json.RawMessage
}

// ClassifyError turns a raw adapter error into a ToolError the model can act on.
func ClassifyError(inv Invocation, err error) *ToolError {
	if err == nil {
		return nil
	}
	var already *ToolError
	if errors.As(err, &already) && already != nil {
		out := *already
		out.Normalize()
		return &out
	}

	msg := strings.TrimSpace(err.Error())
	lower := strings.ToLower(msg)
	out := &ToolError{Code: ErrorCodeUnknown, Message: msg}

	switch {
	case errors.Is(err, ErrUnknownTool):
		out.Code = ErrorCodeUnknownTool
		out.SuggestedFixes = []string{"Call one of the tools listed in the tool catalog."}
	case errors.Is(err, ErrInvalidArguments):
		out.Code = ErrorCodeInvalidArguments
		out.Retryable = true
		out.SuggestedFixes = []string{"Retry with arguments that match the tool input schema."}
	case errors.Is(err, context.Canceled):
		out.Code = ErrorCodeCanceled
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout"):
		out.Code = ErrorCodeTimeout
		out.Retryable = true
		out.SuggestedFixes = []string{"Retry the same call once."}
	case errors.Is(err, os.ErrNotExist) || strings.Contains(lower, "no such file") || strings.Contains(lower, "not found"):
		out.Code = ErrorCodeNotFound
		out.SuggestedFixes = []string{"Use the exact image path given in the task."}
	case errors.Is(err, os.ErrPermission) || strings.Contains(lower, "permission denied"):
		out.Code = ErrorCodePermissionDenied
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		out.Code = ErrorCodeRateLimited
		out.Retryable = true
		out.SuggestedFixes = []string{"Retry later or continue without this tool."}
	case strings.Contains(lower, "sqlite") || strings.Contains(lower, "database"):
		out.Code = ErrorCodeStorage
		out.SuggestedFixes = []string{"Check the record fields and category, then retry the save."}
	}
	if inv.ToolName != "" && out.Code == ErrorCodeInvalidArguments {
		out.SuggestedFixes = append(out.SuggestedFixes, "Review the "+inv.ToolName+" schema before retrying.")
	}
	out.Normalize()
	return out
}

// ErrorContent renders a ToolError as the JSON result content seen by the model and the router.
func ErrorContent(toolErr *ToolError) string {
	if toolErr == nil {
		return ""
	}
	toolErr.Normalize()
	b, err := json.Marshal(map[string]any{"error": toolErr})
	if err != nil {
		return "error: " + toolErr.Message
	}
	return string(b)
}
