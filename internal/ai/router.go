package ai

import (
	"fmt"
	"strings"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

// Route names the step the Engine runs next.
type Route string

const (
	RouteDecision   Route = "decision"
	RouteTools      Route = "tools"
	RouteReflection Route = "reflection"
	RouteEnd        Route = "end"
)

// EscalationPolicy decides whether a tool result is sent through the Reflection Step.
type EscalationPolicy interface {
	NeedsReflection(res ToolResult) bool
}

// OutcomePolicy escalates every result whose outcome tag is not ok.
type OutcomePolicy struct{}

func (OutcomePolicy) NeedsReflection(res ToolResult) bool {
	return res.Outcome != aitools.OutcomeOK
}

var DefaultTriggerWords = []string{"error", "failed", "abstract"}

// TriggerWordPolicy escalates when the result content contains any trigger word,
// case-insensitively. A zero value uses DefaultTriggerWords.
//
// Matching is on raw content: legitimate content that happens to contain a trigger word
// escalates too.
type TriggerWordPolicy struct {
	Words []string
}

func (p TriggerWordPolicy) NeedsReflection(res ToolResult) bool {
	words := p.Words
	if len(words) == 0 {
		words = DefaultTriggerWords
	}
	content := strings.ToLower(res.Content)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(content, w) {
			return true
		}
	}
	return false
}

// ParseEscalation maps the engine.escalation config value to a policy.
func ParseEscalation(name string) (EscalationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "outcome":
		return OutcomePolicy{}, nil
	case "trigger_words", "trigger-words":
		return TriggerWordPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown escalation policy %q", ErrInvalidConfig, name)
	}
}

// RouteAfterDecision selects Tool Execution when the newest Decision requests at least one
// tool and ends the run otherwise.
func RouteAfterDecision(tail []Message) Route {
	if len(tail) == 0 {
		return RouteEnd
	}
	last := tail[len(tail)-1]
	if last.HasToolCalls() {
		return RouteTools
	}
	return RouteEnd
}

// RouteAfterTools inspects only the most recently appended ToolResult.
func RouteAfterTools(tail []Message, policy EscalationPolicy) Route {
	if policy == nil {
		policy = OutcomePolicy{}
	}
	if len(tail) == 0 {
		return RouteDecision
	}
	last := tail[len(tail)-1]
	if last.Role != RoleToolResult || last.Result == nil {
		return RouteDecision
	}
	if policy.NeedsReflection(*last.Result) {
		return RouteReflection
	}
	return RouteDecision
}

func RouteAfterReflection([]Message) Route {
	return RouteDecision
}

// Transition records one routing decision re-derived from a stored log.
type Transition struct {
	// Index is the position of the message the decision was taken after.
	Index int   `json:"index"`
	Route Route `json:"route"`
}

// ReplayRoutes walks a finished or partial Message Log and re-derives every routing decision
// with the same pure functions the Engine uses. complete is true when the log ends in the
// terminal branch.
func ReplayRoutes(msgs []Message, policy EscalationPolicy) (transitions []Transition, complete bool) {
	for i := 0; i < len(msgs); i++ {
		if msgs[i].Role != RoleDecision {
			continue
		}
		route := RouteAfterDecision(msgs[:i+1])
		transitions = append(transitions, Transition{Index: i, Route: route})
		if route == RouteEnd {
			return transitions, true
		}

		want := len(msgs[i].ToolCalls)
		j := i + 1
		for j < len(msgs) && j-i-1 < want && msgs[j].Role == RoleToolResult {
			j++
		}
		if j-i-1 < want {
			return transitions, false
		}
		last := j - 1
		route = RouteAfterTools(msgs[:last+1], policy)
		transitions = append(transitions, Transition{Index: last, Route: route})
		if route == RouteReflection {
			if j < len(msgs) && msgs[j].Role == RoleGuidance {
				last = j
			}
			transitions = append(transitions, Transition{Index: last, Route: RouteAfterReflection(msgs[:last+1])})
		}
		i = last
	}
	return transitions, false
}
