package tools

import (
	"fmt"
	"strings"
)

// Catalog is the static registry of invocable tools. It is built once at startup and
// never changes afterwards, so it is safe to share between concurrent runs.
type Catalog struct {
	order  []string
	byName map[string]Tool
}

func NewCatalog(entries ...Tool) (*Catalog, error) {
	c := &Catalog{
		order:  make([]string, 0, len(entries)),
		byName: make(map[string]Tool, len(entries)),
	}
	for i, t := range entries {
		name := strings.TrimSpace(t.Definition.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: entries[%d] missing name", ErrInvalidDefinition, i)
		}
		if t.Invoke == nil {
			return nil, fmt.Errorf("%w: %s has no invoke func", ErrInvalidDefinition, name)
		}
		if _, ok := c.byName[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		t.Definition.Name = name
		c.byName[name] = t
		c.order = append(c.order, name)
	}
	return c, nil
}

func (c *Catalog) Lookup(name string) (Tool, bool) {
	if c == nil {
		return Tool{}, false
	}
	t, ok := c.byName[strings.TrimSpace(name)]
	return t, ok
}

// Definitions returns every descriptor in registration order.
func (c *Catalog) Definitions() []Definition {
	if c == nil {
		return nil
	}
	out := make([]Definition, 0, len(c.order))
	for _, name := range c.order {
		def := c.byName[name].Definition
		if len(def.InputSchema) > 0 {
			def.InputSchema = append([]byte(nil), def.InputSchema...)
		}
		out = append(out, def)
	}
	return out
}

func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}
