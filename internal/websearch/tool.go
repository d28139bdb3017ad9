package websearch

import (
	"context"
	"encoding/json"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

const ToolName = "web_search"

type toolArgs struct {
	Query string `json:"query"`
}

var toolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search keywords, for example a paper title."}
  },
  "required": ["query"],
  "additionalProperties": false
}`)

func (c *Client) Tool() aitools.Tool {
	def := aitools.Definition{
		Name:        ToolName,
		Description: "Searches the web for scholarly information such as a paper's abstract. Returns titles, links and snippets.",
		InputSchema: toolSchema,
	}
	return aitools.Typed(def, func(ctx context.Context, args toolArgs) (aitools.Result, error) {
		res, err := c.Search(ctx, SearchRequest{Query: args.Query})
		if err != nil {
			return aitools.Result{}, err
		}
		if len(res.Results) == 0 {
			return aitools.SoftFailure(res.Text()), nil
		}
		return aitools.OK(res.Text()), nil
	})
}
