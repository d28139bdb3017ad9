// Package vision implements the image classification and structured extraction tools.
package vision

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	ErrUnknownCategory  = errors.New("unknown category")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrRecordValidation = errors.New("record validation failed")
)

// Field is one key of the record schema bound to a category.
type Field struct {
	Name        string
	Description string
	Required    bool
	// Identity marks the field that names the record (a paper title).
	Identity bool
	// Descriptive marks the field that carries the record's content (an abstract).
	Descriptive bool
}

type Category struct {
	Name        string
	Description []string
	// Instruction is appended to the base extraction prompt for this category.
	Instruction string
	Fields      []Field
}

// IdentityField returns the name of the identity field, or "".
func (c Category) IdentityField() string {
	for _, f := range c.Fields {
		if f.Identity {
			return f.Name
		}
	}
	return ""
}

func (c Category) DescriptiveField() string {
	for _, f := range c.Fields {
		if f.Descriptive {
			return f.Name
		}
	}
	return ""
}

// Validate coerces a decoded model object into the category schema. Unknown keys are
// dropped, absent optional fields become nil, scalar values are rendered as strings.
func (c Category) Validate(obj map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(c.Fields))
	var problems []string
	for _, f := range c.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			if f.Required {
				problems = append(problems, f.Name+": field required")
			}
			out[f.Name] = nil
			continue
		}
		s, ok := scalarString(v)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: expected a string, got %T", f.Name, v))
			continue
		}
		out[f.Name] = s
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w for %s: %s", ErrRecordValidation, c.Name, strings.Join(problems, "; "))
	}
	return out, nil
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Categories is the fixed label set the classifier may emit, in configuration order.
type Categories struct {
	list []Category
}

func NewCategories(list []Category) (*Categories, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrInvalidCategory)
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]Category, 0, len(list))
	for i, c := range list {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("%w: categories[%d] missing name", ErrInvalidCategory, i)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate %q", ErrInvalidCategory, c.Name)
		}
		if len(c.Fields) == 0 {
			return nil, fmt.Errorf("%w: %s has no fields", ErrInvalidCategory, c.Name)
		}
		seen[c.Name] = struct{}{}
		c.Fields = slices.Clone(c.Fields)
		c.Description = slices.Clone(c.Description)
		out = append(out, c)
	}
	return &Categories{list: out}, nil
}

func (cs *Categories) Names() []string {
	out := make([]string, 0, len(cs.list))
	for _, c := range cs.list {
		out = append(out, c.Name)
	}
	return out
}

func (cs *Categories) All() []Category {
	return slices.Clone(cs.list)
}

func (cs *Categories) Lookup(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for _, c := range cs.list {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// Match maps a free-form model label onto a configured category name: exact match after
// normalization first, then containment, then a fuzzy subsequence match.
func (cs *Categories) Match(label string) (string, bool) {
	want := NormalizeLabel(label)
	if want == "" {
		return "", false
	}
	names := cs.Names()
	normalized := make([]string, len(names))
	for i, n := range names {
		normalized[i] = NormalizeLabel(n)
		if normalized[i] == want {
			return n, true
		}
	}
	best, bestLen := -1, 0
	for i, n := range normalized {
		if (strings.Contains(want, n) || strings.Contains(n, want)) && len(n) > bestLen {
			best, bestLen = i, len(n)
		}
	}
	if best >= 0 {
		return names[best], true
	}
	bestScore := 0
	for i, n := range normalized {
		matches := fuzzy.Find(n, []string{want})
		if len(matches) > 0 && (best < 0 || matches[0].Score > bestScore) {
			best, bestScore = i, matches[0].Score
		}
	}
	if best >= 0 {
		return names[best], true
	}
	return "", false
}

// NormalizeLabel folds full-width forms, applies NFKC, drops whitespace and trailing
// sentence punctuation, then strips surrounding quotes.
func NormalizeLabel(s string) string {
	s = width.Fold.String(s)
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimRight(s, "。.!！")
	s = strings.Trim(s, "\"'`“”‘’「」《》")
	return strings.ToLower(s)
}
