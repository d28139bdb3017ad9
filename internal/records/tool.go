package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

const SaveToolName = "save_data_to_db"

type saveArgs struct {
	Data      map[string]any `json:"data"`
	ImageType string         `json:"image_type"`
}

var saveSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "data": {"type": "object", "description": "The extracted record to store."},
    "image_type": {"type": "string", "description": "Category of the record; selects the table."}
  },
  "required": ["data", "image_type"],
  "additionalProperties": false
}`)

// SaveTool exposes Save to the reasoning model. Storage failures are reported as hard-failure
// content so the run can reflect on them.
func (s *Store) SaveTool() aitools.Tool {
	def := aitools.Definition{
		Name:        SaveToolName,
		Description: "Saves extracted data to the SQLite database. The table is chosen from image_type and created if it does not exist.",
		InputSchema: saveSchema,
	}
	return aitools.Typed(def, func(ctx context.Context, args saveArgs) (aitools.Result, error) {
		table, err := s.Save(ctx, args.ImageType, args.Data)
		if errors.Is(err, ErrInvalidRecord) {
			return aitools.Result{}, fmt.Errorf("%w: %w", aitools.ErrInvalidArguments, err)
		}
		if err != nil {
			return aitools.HardFailure(fmt.Sprintf("Database operation failed: %v", err)), nil
		}
		return aitools.OK(fmt.Sprintf("Data successfully saved to table '%s'.", table)), nil
	})
}
