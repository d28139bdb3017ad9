package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResponseDecoder turns free model text into a JSON object.
type ResponseDecoder interface {
	DecodeObject(text string) (map[string]any, error)
}

// JSONTextDecoder accepts a ```json fenced block, or failing that the outermost {...} span.
type JSONTextDecoder struct{}

func (JSONTextDecoder) DecodeObject(text string) (map[string]any, error) {
	candidate, ok := fencedJSON(text)
	if !ok {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, truncateRunes(text, 120))
		}
		candidate = text[start : end+1]
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: null object", ErrMalformedResponse)
	}
	return out, nil
}

func fencedJSON(text string) (string, bool) {
	const fence = "```json"
	start := strings.Index(strings.ToLower(text), fence)
	if start < 0 {
		return "", false
	}
	body := text[start+len(fence):]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	body = strings.TrimSpace(body[:end])
	if !strings.HasPrefix(body, "{") {
		return "", false
	}
	return body, true
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
