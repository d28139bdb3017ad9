package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"

	"github.com/google/uuid"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

const (
	DefaultMaxSteps = 24
	MaxStepsLimit   = 200
)

// Config is everything an Engine needs. Nothing is read from process-wide state.
type Config struct {
	Provider Provider
	Model    string
	System   string
	Catalog  *aitools.Catalog

	// Escalation defaults to OutcomePolicy.
	Escalation EscalationPolicy
	Reflection ReflectionConfig
	// Decoder parses raw tool-call argument text the provider could not decode itself.
	Decoder ResponseDecoder

	// MaxSteps bounds the number of Decision Steps per run (default DefaultMaxSteps).
	MaxSteps        int
	MaxOutputTokens int
	Temperature     *float64

	Logger   *slog.Logger
	Observer Observer
	NewRunID func() string
}

type Engine struct {
	cfg Config
}

type RunResult struct {
	RunID string
	// Answer is the free text of the terminal Decision.
	Answer   string
	Messages []Message
	Steps    int
	Routes   []Route
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("%w: missing provider", ErrInvalidConfig)
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("%w: missing tool catalog", ErrInvalidConfig)
	}
	switch {
	case cfg.MaxSteps == 0:
		cfg.MaxSteps = DefaultMaxSteps
	case cfg.MaxSteps < 0 || cfg.MaxSteps > MaxStepsLimit:
		return nil, fmt.Errorf("%w: max_steps must be within [1, %d], got %d", ErrInvalidConfig, MaxStepsLimit, cfg.MaxSteps)
	}
	if cfg.Escalation == nil {
		cfg.Escalation = OutcomePolicy{}
	}
	if cfg.Decoder == nil {
		cfg.Decoder = JSONTextDecoder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = func() string { return uuid.NewString() }
	}
	r := &cfg.Reflection
	if r.Provider == nil {
		r.Provider = cfg.Provider
	}
	if strings.TrimSpace(r.Model) == "" {
		r.Model = cfg.Model
	}
	if strings.TrimSpace(r.Sentinel) == "" {
		r.Sentinel = DefaultReflectionSentinel
	}
	if r.Rules == nil {
		r.Rules = DefaultIncompleteRules()
	}
	if r.EmptySentinels == nil {
		r.EmptySentinels = append([]string(nil), DefaultEmptySentinels...)
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Escalation() EscalationPolicy {
	return e.cfg.Escalation
}

type runOptions struct {
	runID  string
	labels map[string]string
}

type RunOption func(*runOptions)

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = strings.TrimSpace(id) }
}

// WithLabels attaches labels to the run.started event.
func WithLabels(labels map[string]string) RunOption {
	return func(o *runOptions) { o.labels = maps.Clone(labels) }
}

// Run executes one independent run seeded with a single Instruction. Runs share nothing, so
// one Engine may serve many concurrent Run calls.
func (e *Engine) Run(ctx context.Context, instruction string, opts ...RunOption) (RunResult, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	runID := ro.runID
	if runID == "" {
		runID = e.cfg.NewRunID()
	}
	sess := NewSession(runID, NewInstruction(instruction))
	logger := e.cfg.Logger.With("run_id", runID)

	started := newEvent(EventRunStarted, runID, 0)
	started.Labels = ro.labels
	e.emit(started)
	seed, _ := sess.Last()
	e.emitAppended(runID, 0, seed)

	out := RunResult{RunID: runID}
	fail := func(kind RunErrorKind, step int, err error) (RunResult, error) {
		out.Messages = sess.Snapshot()
		out.Steps = step
		runErr := &RunError{RunID: runID, Kind: kind, Step: step, Err: err}
		logger.Error("run failed", "kind", kind, "step", step, "error", err)
		ev := newEvent(EventRunFailed, runID, step)
		ev.Err = runErr.Error()
		e.emit(ev)
		return out, runErr
	}

	step := 0
	route := RouteDecision
	var lastDecision Message
	for {
		if err := ctx.Err(); err != nil {
			return fail(RunErrorCanceled, step, err)
		}
		switch route {
		case RouteDecision:
			if step >= e.cfg.MaxSteps {
				return fail(RunErrorBudgetExceeded, step, fmt.Errorf("%w: %d decision steps", ErrBudgetExceeded, e.cfg.MaxSteps))
			}
			step++
			msg, err := e.decide(ctx, sess, step)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return fail(RunErrorCanceled, step, err)
				}
				return fail(RunErrorModelFailure, step, err)
			}
			lastDecision = msg
			route = RouteAfterDecision(sess.Tail(1))
		case RouteTools:
			e.executeTools(ctx, sess, step, lastDecision)
			route = RouteAfterTools(sess.Tail(1), e.cfg.Escalation)
		case RouteReflection:
			e.reflect(ctx, sess, step)
			route = RouteAfterReflection(sess.Tail(1))
		case RouteEnd:
			out.Answer = lastDecision.Text
			out.Messages = sess.Snapshot()
			out.Steps = step
			logger.Info("run finished", "steps", step, "messages", len(out.Messages))
			e.emit(newEvent(EventRunFinished, runID, step))
			return out, nil
		default:
			return fail(RunErrorInvalidConfig, step, fmt.Errorf("unknown route %q", route))
		}
		out.Routes = append(out.Routes, route)
		logger.Debug("route selected", "step", step, "route", route)
		ev := newEvent(EventRouteSelected, runID, step)
		ev.Route = route
		e.emit(ev)
	}
}

func (e *Engine) append(sess *Session, step int, msg Message) {
	sess.Append(msg)
	e.emitAppended(sess.RunID(), step, msg)
}

func (e *Engine) emitAppended(runID string, step int, msg Message) {
	if e.cfg.Observer == nil {
		return
	}
	ev := newEvent(EventMessageAppended, runID, step)
	m := CloneMessage(msg)
	ev.Message = &m
	e.cfg.Observer.OnEvent(ev)
}

func (e *Engine) emit(ev Event) {
	if e.cfg.Observer != nil {
		e.cfg.Observer.OnEvent(ev)
	}
}
