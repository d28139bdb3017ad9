package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

type classifyArgs struct {
	ImagePath string `json:"image_path"`
}

type extractArgs struct {
	ImagePath string `json:"image_path"`
	ImageType string `json:"image_type"`
}

// Tools returns the classify and extract catalog entries.
func (a *Analyzer) Tools() []aitools.Tool {
	return []aitools.Tool{a.ClassifyTool(), a.ExtractTool()}
}

func (a *Analyzer) ClassifyTool() aitools.Tool {
	def := aitools.Definition{
		Name: ClassifyToolName,
		Description: "Analyzes an image to classify its content into one of the predefined categories. " +
			"Returns the category label as a string.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"image_path": map[string]any{"type": "string", "description": "Local file path of the image."},
			},
			"required":             []string{"image_path"},
			"additionalProperties": false,
		}),
	}
	return aitools.Typed(def, func(ctx context.Context, args classifyArgs) (aitools.Result, error) {
		c, err := a.Classify(ctx, args.ImagePath)
		if err != nil {
			return aitools.Result{}, err
		}
		if c.Label == UnknownLabel {
			return aitools.SoftFailure(UnknownLabel), nil
		}
		return aitools.OK(c.Label), nil
	})
}

func (a *Analyzer) ExtractTool() aitools.Tool {
	def := aitools.Definition{
		Name: ExtractToolName,
		Description: "Extracts structured information from an image based on its classified type. " +
			"Returns the record as JSON, or a failure record with error, details and raw_output.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"image_path": map[string]any{"type": "string", "description": "Local file path of the image."},
				"image_type": map[string]any{"type": "string", "enum": a.opts.Categories.Names(), "description": "Category returned by " + ClassifyToolName + "."},
			},
			"required":             []string{"image_path", "image_type"},
			"additionalProperties": false,
		}),
	}
	return aitools.Typed(def, func(ctx context.Context, args extractArgs) (aitools.Result, error) {
		ex, err := a.Extract(ctx, args.ImagePath, args.ImageType)
		if errors.Is(err, ErrUnknownCategory) {
			return aitools.Result{}, fmt.Errorf("%w: %w", aitools.ErrInvalidArguments, err)
		}
		if err != nil {
			return aitools.Result{}, err
		}
		switch {
		case ex.Failure != nil:
			return aitools.SoftFailure(ex.Failure), nil
		case ex.Incomplete:
			return aitools.SoftFailure(ex.Record), nil
		default:
			return aitools.OK(ex.Record), nil
		}
	})
}

func mustSchema(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("vision: marshal schema: %v", err))
	}
	return b
}
