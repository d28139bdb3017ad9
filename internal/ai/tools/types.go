package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrDuplicateTool     = errors.New("duplicate tool")
	ErrInvalidDefinition = errors.New("invalid tool definition")
)

// Outcome is the typed status tag every tool invocation returns alongside its content.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeSoftFailure Outcome = "soft_failure"
	OutcomeHardFailure Outcome = "hard_failure"
)

func (o Outcome) OK() bool {
	return o == OutcomeOK
}

// ErrorCode is a stable, machine-readable tool error code.
type ErrorCode string

const (
	ErrorCodeUnknownTool      ErrorCode = "UNKNOWN_TOOL"
	ErrorCodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrorCodeTimeout          ErrorCode = "TIMEOUT"
	ErrorCodeCanceled         ErrorCode = "CANCELED"
	ErrorCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrorCodeStorage          ErrorCode = "STORAGE"
	ErrorCodePanic            ErrorCode = "PANIC"
	ErrorCodeUnknown          ErrorCode = "UNKNOWN"
)

// ToolError carries structured tool failure metadata.
type ToolError struct {
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	Retryable      bool      `json:"retryable,omitempty"`
	SuggestedFixes []string  `json:"suggested_fixes,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

func (e *ToolError) Normalize() {
	if e == nil {
		return
	}
	e.Message = strings.TrimSpace(e.Message)
	if e.Message == "" {
		e.Message = "Tool failed"
	}
	if e.Code == "" {
		e.Code = ErrorCodeUnknown
	}
	if len(e.SuggestedFixes) > 0 {
		out := make([]string, 0, len(e.SuggestedFixes))
		seen := make(map[string]struct{}, len(e.SuggestedFixes))
		for _, it := range e.SuggestedFixes {
			v := strings.TrimSpace(it)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
		e.SuggestedFixes = out
	}
	if len(e.SuggestedFixes) == 0 {
		e.SuggestedFixes = nil
	}
}

// Definition is the descriptor exposed to the reasoning model for one tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Result is what a tool adapter hands back to the dispatcher.
//
// Content is either a string (used verbatim) or any JSON-encodable payload.
type Result struct {
	Outcome Outcome
	Content any
}

func OK(content any) Result {
	return Result{Outcome: OutcomeOK, Content: content}
}

func SoftFailure(content any) Result {
	return Result{Outcome: OutcomeSoftFailure, Content: content}
}

func HardFailure(content any) Result {
	return Result{Outcome: OutcomeHardFailure, Content: content}
}

// InvokeFunc runs one tool call. args is the raw JSON object produced by the model.
// A returned error is reported as hard-failure content; it never aborts sibling calls.
type InvokeFunc func(ctx context.Context, args json.RawMessage) (Result, error)

// Tool is one Tool Catalog entry.
type Tool struct {
	Definition Definition
	Invoke     InvokeFunc
}
