package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// decide runs one Decision Step: the full log and the full catalog go to the model, and
// exactly one Decision message is appended on success.
func (e *Engine) decide(ctx context.Context, sess *Session, step int) (Message, error) {
	req := TurnRequest{
		Model:           e.cfg.Model,
		System:          e.cfg.System,
		Messages:        ChatHistory(sess.Snapshot()),
		Tools:           e.cfg.Catalog.Definitions(),
		MaxOutputTokens: e.cfg.MaxOutputTokens,
		Temperature:     e.cfg.Temperature,
	}
	res, err := e.cfg.Provider.Turn(ctx, req)
	if err != nil {
		return Message{}, err
	}
	calls := make([]ToolCall, 0, len(res.ToolCalls))
	for i, c := range res.ToolCalls {
		c.Name = strings.TrimSpace(c.Name)
		if strings.TrimSpace(c.ID) == "" {
			c.ID = fmt.Sprintf("call_%d_%d", step, i+1)
		}
		if c.Args == nil && strings.TrimSpace(c.RawArgs) != "" {
			if obj, derr := e.cfg.Decoder.DecodeObject(c.RawArgs); derr == nil {
				c.Args = obj
				if !json.Valid([]byte(c.RawArgs)) {
					c.RawArgs = ""
				}
			}
		}
		calls = append(calls, c)
	}
	msg := NewDecision(strings.TrimSpace(res.Text), calls)
	e.append(sess, step, msg)
	return msg, nil
}

// ChatHistory converts a Message Log into provider chat messages. Guidance is replayed as
// assistant text so the model reads it as its own course correction.
func ChatHistory(msgs []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleInstruction:
			out = append(out, UserMessage(TextPart(m.Text)))
		case RoleDecision:
			cm := ChatMessage{Role: ChatRoleAssistant}
			if strings.TrimSpace(m.Text) != "" {
				cm.Parts = append(cm.Parts, TextPart(m.Text))
			}
			for _, c := range m.ToolCalls {
				cm.Parts = append(cm.Parts, ContentPart{
					Type:       PartToolCall,
					ToolCallID: c.ID,
					ToolName:   c.Name,
					ArgsJSON:   c.ArgsJSON(),
				})
			}
			if len(cm.Parts) == 0 {
				continue
			}
			out = append(out, cm)
		case RoleToolResult:
			if m.Result == nil {
				continue
			}
			out = append(out, ChatMessage{Role: ChatRoleTool, Parts: []ContentPart{{
				Type:       PartToolResult,
				ToolCallID: m.Result.CallID,
				ToolName:   m.Result.ToolName,
				Text:       m.Result.Content,
			}}})
		case RoleGuidance:
			out = append(out, ChatMessage{Role: ChatRoleAssistant, Parts: []ContentPart{TextPart(m.Text)}})
		}
	}
	return out
}
