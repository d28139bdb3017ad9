package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/floegence/imagent/internal/ai"
)

// FailureRecord is what extraction returns when the model output cannot be parsed or validated.
type FailureRecord struct {
	Error     string `json:"error"`
	Details   string `json:"details"`
	RawOutput string `json:"raw_output"`
}

type Extraction struct {
	Category string
	Record   map[string]any
	// Incomplete is set when the identity field is filled but the descriptive field is not.
	Incomplete bool
	Failure    *FailureRecord
}

func (a *Analyzer) extractionPrompt(c Category) string {
	var b strings.Builder
	b.WriteString(a.opts.BasePrompt)
	if c.Instruction != "" {
		b.WriteString("\n")
		b.WriteString(c.Instruction)
	}
	b.WriteString("\n输出一个 JSON 对象，包含以下字段:")
	for _, f := range c.Fields {
		req := "可选"
		if f.Required {
			req = "必填"
		}
		fmt.Fprintf(&b, "\n- %s (%s): %s", f.Name, req, f.Description)
	}
	return b.String()
}

// Extract pulls the record bound to label out of the image. Parse and validation problems are
// reported through Extraction.Failure; only I/O, model and unknown-category errors are returned.
func (a *Analyzer) Extract(ctx context.Context, path string, label string) (Extraction, error) {
	c, ok := a.opts.Categories.Lookup(label)
	if !ok {
		if name, matched := a.opts.Categories.Match(label); matched {
			c, _ = a.opts.Categories.Lookup(name)
		} else {
			return Extraction{}, fmt.Errorf("%w: unsupported image type %q", ErrUnknownCategory, label)
		}
	}
	text, err := a.ask(ctx, path, a.extractionPrompt(c))
	if err != nil {
		return Extraction{}, err
	}
	out := Extraction{Category: c.Name}
	record, err := a.decodeRecord(c, text)
	if err != nil {
		a.opts.Logger.Warn("extraction failed", "path", path, "category", c.Name, "error", err)
		out.Failure = &FailureRecord{
			Error:     "Failed to extract structured information",
			Details:   err.Error(),
			RawOutput: text,
		}
		return out, nil
	}
	out.Record = record
	out.Incomplete = a.incomplete(c, record)
	return out, nil
}

func (a *Analyzer) decodeRecord(c Category, text string) (map[string]any, error) {
	obj, err := a.opts.Decoder.DecodeObject(text)
	if err != nil {
		return nil, err
	}
	return c.Validate(obj)
}

func (a *Analyzer) incomplete(c Category, record map[string]any) bool {
	id, desc := c.IdentityField(), c.DescriptiveField()
	if id == "" || desc == "" {
		return false
	}
	if s, _ := record[id].(string); strings.TrimSpace(s) == "" {
		return false
	}
	s, _ := record[desc].(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, sentinel := range a.opts.EmptySentinels {
		if s == strings.TrimSpace(sentinel) {
			return true
		}
	}
	return false
}

// IncompleteRules derives reflection rules from the categories that declare both an identity
// and a descriptive field.
func IncompleteRules(cs *Categories, remedyTool string) []ai.IncompleteRecordRule {
	out := []ai.IncompleteRecordRule{}
	seen := map[[2]string]struct{}{}
	for _, c := range cs.All() {
		id, desc := c.IdentityField(), c.DescriptiveField()
		if id == "" || desc == "" {
			continue
		}
		key := [2]string{id, desc}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ai.IncompleteRecordRule{
			Tool:             ExtractToolName,
			IdentityField:    id,
			DescriptiveField: desc,
			RemedyTool:       remedyTool,
		})
	}
	return out
}
