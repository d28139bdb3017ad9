package ai

import (
	"errors"
	"strings"
)

var (
	ErrBudgetExceeded    = errors.New("step budget exceeded")
	ErrMalformedResponse = errors.New("malformed model response")
	ErrInvalidConfig     = errors.New("invalid engine config")
)

type RunErrorKind string

const (
	RunErrorModelFailure   RunErrorKind = "model_failure"
	RunErrorBudgetExceeded RunErrorKind = "budget_exceeded"
	RunErrorCanceled       RunErrorKind = "canceled"
	RunErrorInvalidConfig  RunErrorKind = "invalid_config"
)

// RunError is the single failure type a Run surfaces to its caller.
type RunError struct {
	RunID string
	Kind  RunErrorKind
	// Step is the 1-based Decision Step count at the time of failure.
	Step int
	Err  error
}

func (e *RunError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("run ")
	if e.RunID != "" {
		b.WriteString(e.RunID)
		b.WriteString(" ")
	}
	b.WriteString(string(e.Kind))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RunErrorKindOf returns the kind of a RunError in err's chain, or "".
func RunErrorKindOf(err error) RunErrorKind {
	var re *RunError
	if errors.As(err, &re) && re != nil {
		return re.Kind
	}
	return ""
}
