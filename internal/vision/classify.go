package vision

import (
	"context"
	"fmt"
	"strings"
)

type Classification struct {
	// Label is a configured category name, or UnknownLabel.
	Label    string
	Analysis string
	// ModelLabel is the label exactly as the model wrote it.
	ModelLabel string
}

func (a *Analyzer) classificationPrompt() string {
	var b strings.Builder
	b.WriteString("请判断图像内容最符合下面哪种description的需求，选择最符合的类型\n")
	for _, c := range a.opts.Categories.All() {
		fmt.Fprintf(&b, "\n- %s: %s", c.Name, strings.Join(c.Description, ", "))
	}
	b.WriteString("\n严格按照下面json格式输出\n")
	b.WriteString(`{"分析":"分析属于哪个类型的过程","类型":"类型名称"}`)
	return b.String()
}

// Classify asks the vision model which configured category the image belongs to.
func (a *Analyzer) Classify(ctx context.Context, path string) (Classification, error) {
	text, err := a.ask(ctx, path, a.classificationPrompt())
	if err != nil {
		return Classification{}, err
	}
	obj, err := a.opts.Decoder.DecodeObject(text)
	if err != nil {
		return Classification{}, fmt.Errorf("classify %s: %w", path, err)
	}
	out := Classification{Label: UnknownLabel}
	out.ModelLabel, _ = obj["类型"].(string)
	out.Analysis, _ = obj["分析"].(string)
	if name, ok := a.opts.Categories.Match(out.ModelLabel); ok {
		out.Label = name
	}
	a.opts.Logger.Debug("image classified", "path", path, "label", out.Label, "model_label", out.ModelLabel)
	return out, nil
}
