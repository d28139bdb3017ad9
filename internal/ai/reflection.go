package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const DefaultReflectionSentinel = "CONTINUE"

// IncompleteRecordRule detects a recognized but incomplete extraction: the identity field is
// filled in while the descriptive field is absent, empty or one of the empty sentinels.
type IncompleteRecordRule struct {
	Tool             string
	IdentityField    string
	DescriptiveField string
	// RemedyTool is the tool the guidance points the model at.
	RemedyTool string
}

type ReflectionConfig struct {
	// Disabled turns off the model review. Incomplete-record rules still apply.
	Disabled bool
	// Provider and Model default to the Engine's.
	Provider Provider
	Model    string
	Sentinel string

	Rules          []IncompleteRecordRule
	EmptySentinels []string
}

var DefaultEmptySentinels = []string{"无明确内容", "无明确描述"}

func DefaultIncompleteRules() []IncompleteRecordRule {
	return []IncompleteRecordRule{{
		Tool:             "extract_info_from_image",
		IdentityField:    "paper_title",
		DescriptiveField: "abstract",
		RemedyTool:       "web_search",
	}}
}

// reflect runs the quality gate on the (Decision, ToolResult) tail. It appends at most one
// Guidance message and never fails the run.
func (e *Engine) reflect(ctx context.Context, sess *Session, step int) {
	tail := sess.Tail(2)
	if len(tail) != 2 || tail[0].Role != RoleDecision || tail[1].Role != RoleToolResult || tail[1].Result == nil {
		return
	}
	decision, res := tail[0], *tail[1].Result
	logger := e.cfg.Logger.With("run_id", sess.RunID(), "step", step, "tool", res.ToolName)

	if text, ok := e.incompleteGuidance(res); ok {
		logger.Info("reflection: incomplete record", "guidance", text)
		e.append(sess, step, NewGuidance(text))
		return
	}
	if e.cfg.Reflection.Disabled {
		return
	}

	call := callFor(decision, res.CallID)
	out, err := e.cfg.Reflection.Provider.Turn(ctx, TurnRequest{
		Model:           e.cfg.Reflection.Model,
		Messages:        []ChatMessage{UserMessage(TextPart(reviewPrompt(call, res, e.cfg.Reflection.Sentinel)))},
		MaxOutputTokens: e.cfg.MaxOutputTokens,
		Temperature:     e.cfg.Temperature,
	})
	if err != nil {
		logger.Warn("reflection model call failed", "error", err)
		return
	}
	verdict := strings.TrimSpace(out.Text)
	if verdict == "" || strings.Contains(verdict, e.cfg.Reflection.Sentinel) {
		logger.Info("reflection: result accepted")
		return
	}
	logger.Info("reflection: guidance appended")
	e.append(sess, step, NewGuidance("Reflection on last action: "+verdict))
}

func (e *Engine) incompleteGuidance(res ToolResult) (string, bool) {
	content := strings.TrimSpace(res.Content)
	if !gjson.Valid(content) {
		return "", false
	}
	doc := gjson.Parse(content)
	if !doc.IsObject() {
		return "", false
	}
	for _, rule := range e.cfg.Reflection.Rules {
		if rule.Tool != res.ToolName {
			continue
		}
		identity := doc.Get(gjson.Escape(rule.IdentityField))
		if !identity.Exists() || strings.TrimSpace(identity.String()) == "" {
			continue
		}
		desc := doc.Get(gjson.Escape(rule.DescriptiveField))
		if desc.Exists() && desc.Type != gjson.Null && !e.isEmptySentinel(desc.String()) {
			continue
		}
		return fmt.Sprintf(
			"The information extraction for '%s' was successful, but the %s is missing. Please use the %s tool to find it.",
			identity.String(), rule.DescriptiveField, rule.RemedyTool,
		), true
	}
	return "", false
}

func (e *Engine) isEmptySentinel(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	for _, s := range e.cfg.Reflection.EmptySentinels {
		if v == strings.TrimSpace(s) {
			return true
		}
	}
	return false
}

func callFor(decision Message, callID string) ToolCall {
	for _, c := range decision.ToolCalls {
		if c.ID == callID {
			return c
		}
	}
	if len(decision.ToolCalls) > 0 {
		return decision.ToolCalls[0]
	}
	return ToolCall{}
}

func reviewPrompt(call ToolCall, res ToolResult, sentinel string) string {
	var b strings.Builder
	b.WriteString("You are a quality assurance expert. Please review the result from a previous tool call.\n")
	fmt.Fprintf(&b, "The original task was to call the tool: `%s` with arguments `%s`.\n", call.Name, call.ArgsJSON())
	fmt.Fprintf(&b, "The tool produced this output: %s\n\n", res.Content)
	b.WriteString("Is this result satisfactory? Does it look complete and correct given the task?\n")
	fmt.Fprintf(&b, "If the result is good, respond with just the word '%s'.\n", sentinel)
	b.WriteString("If there is an error or the result is unsatisfactory, briefly explain the issue and suggest a correction.")
	return b.String()
}
