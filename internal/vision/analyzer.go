package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/floegence/imagent/internal/ai"
	"github.com/floegence/imagent/internal/imagefile"
)

const (
	ClassifyToolName = "classify_image"
	ExtractToolName  = "extract_info_from_image"

	// UnknownLabel is reported when the model names no configured category.
	UnknownLabel = "未知"
)

const DefaultBasePrompt = "你是一个从图片中提取结构化信息的专家。请仔细分析提供的图片，并从中提取出关键信息。严格按照要求的 JSON 格式输出，不要包含任何 markdown 标记、额外的解释、注释或任何非 JSON 文本。"

type Options struct {
	// Provider is the vision model.
	Provider ai.Provider
	Model    string

	Categories *Categories
	Decoder    ai.ResponseDecoder

	BasePrompt     string
	EmptySentinels []string

	MaxImageDim     int
	MaxOutputTokens int
	Temperature     *float64

	Logger *slog.Logger
}

// Analyzer runs vision model calls against images on disk.
type Analyzer struct {
	opts Options
}

func New(opts Options) (*Analyzer, error) {
	if opts.Provider == nil {
		return nil, errors.New("vision: missing provider")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("vision: missing model")
	}
	if opts.Categories == nil {
		return nil, fmt.Errorf("vision: %w: no categories", ErrInvalidCategory)
	}
	if opts.Decoder == nil {
		opts.Decoder = ai.JSONTextDecoder{}
	}
	if strings.TrimSpace(opts.BasePrompt) == "" {
		opts.BasePrompt = DefaultBasePrompt
	}
	if opts.EmptySentinels == nil {
		opts.EmptySentinels = append([]string(nil), ai.DefaultEmptySentinels...)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Analyzer{opts: opts}, nil
}

func (a *Analyzer) Categories() *Categories {
	return a.opts.Categories
}

// ask sends one prompt plus the image and returns the model text.
func (a *Analyzer) ask(ctx context.Context, path string, prompt string) (string, error) {
	img, err := imagefile.Load(path, a.opts.MaxImageDim)
	if err != nil {
		return "", err
	}
	res, err := a.opts.Provider.Turn(ctx, ai.TurnRequest{
		Model:           a.opts.Model,
		Messages:        []ai.ChatMessage{ai.UserMessage(ai.TextPart(prompt), ai.ImagePart(img.DataURL(), img.MimeType))},
		MaxOutputTokens: a.opts.MaxOutputTokens,
		Temperature:     a.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("vision model: %w", err)
	}
	return res.Text, nil
}
