package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Typed builds a Tool whose arguments are converted into T before fn runs.
//
// Conversion is strict: unknown keys are rejected and every key listed in the schema's
// "required" array must be present and non-null. Failures wrap ErrInvalidArguments.
func Typed[T any](def Definition, fn func(ctx context.Context, args T) (Result, error)) Tool {
	required := RequiredFields(def.InputSchema)
	return Tool{
		Definition: def,
		Invoke: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args T
			if err := DecodeArgs(raw, required, &args); err != nil {
				return Result{}, err
			}
			return fn(ctx, args)
		},
	}
}

func DecodeArgs(raw json.RawMessage, required []string, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("%w: arguments must be a JSON object: %v", ErrInvalidArguments, err)
	}
	missing := make([]string, 0, len(required))
	for _, key := range required {
		v, ok := probe[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required %s", ErrInvalidArguments, strings.Join(missing, ", "))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// RequiredFields reads the top-level "required" list of a JSON object schema.
func RequiredFields(schema json.RawMessage) []string {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}
	var s struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil
	}
	out := make([]string, 0, len(s.Required))
	for _, k := range s.Required {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
