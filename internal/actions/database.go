package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/triggerflow/internal/expressions"
	"github.com/rendis/triggerflow/pkg/schema"
)

// RecordWriter is the slice of the data store the update-database action needs.
// Every call is scoped by owner and logical table.
type RecordWriter interface {
	InsertRecord(ctx context.Context, ownerID, tableID string, data map[string]any) (string, error)
	UpdateRecord(ctx context.Context, ownerID, tableID, recordID string, patch map[string]any) error
	DeleteRecord(ctx context.Context, ownerID, tableID, recordID string) error
}

var updateDatabaseSchema = json.RawMessage(`{
  "type": "object",
  "required": ["action", "databaseId"],
  "properties": {
    "action": { "enum": ["create", "update", "delete"] },
    "databaseId": { "type": "string", "minLength": 1 },
    "recordId": { "type": "string" },
    "mappings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "source": { "type": "string", "minLength": 1 },
          "target": { "type": "string", "minLength": 1 }
        }
      }
    }
  }
}`)

// Mapping copies ctx[Source] into record[Target].
type Mapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// UpdateDatabaseAction creates, updates or deletes a business record.
type UpdateDatabaseAction struct {
	records RecordWriter
	interp  *expressions.Interpolator
}

// NewUpdateDatabaseAction creates the update-database action.
func NewUpdateDatabaseAction(records RecordWriter, interp *expressions.Interpolator) *UpdateDatabaseAction {
	return &UpdateDatabaseAction{records: records, interp: interp}
}

func (a *UpdateDatabaseAction) Type() schema.StepType { return schema.StepTypeUpdateDatabase }

func (a *UpdateDatabaseAction) Schema() ActionSchema {
	return ActionSchema{
		ParamsSchema: updateDatabaseSchema,
		Description:  "Create, update or delete a record of a logical table",
	}
}

func (a *UpdateDatabaseAction) Validate(params map[string]any) error {
	op := schema.Operation(stringParam(params, "action", ""))
	if !op.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "update-database: action must be create, update or delete, got %q", op)
	}
	if strings.TrimSpace(stringParam(params, "databaseId", "")) == "" {
		return schema.NewError(schema.ErrCodeValidation, "update-database requires 'databaseId'")
	}
	if _, err := parseMappings(params["mappings"]); err != nil {
		return err
	}
	return nil
}

func (a *UpdateDatabaseAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if a.records == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "update-database: no record store configured")
	}
	p := input.Params
	op := schema.Operation(stringParam(p, "action", ""))
	tableID := stringParam(p, "databaseId", "")

	mappings, err := parseMappings(p["mappings"])
	if err != nil {
		return nil, err
	}

	switch op {
	case schema.OperationCreate:
		record := project(mappings, input.Context)
		id, err := a.records.InsertRecord(ctx, input.OwnerID, tableID, record)
		if err != nil {
			return nil, err
		}
		return &ActionOutput{
			Logs: []string{fmt.Sprintf("Created record %s in %s", id, tableID)},
			Set:  map[string]any{contextKey("record", input.StepID, "id"): id},
		}, nil

	case schema.OperationUpdate, schema.OperationDelete:
		recordID := a.resolveRecordID(p, input.Context)
		if recordID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"update-database %s requires 'recordId' or a record_id in context", op)
		}
		if op == schema.OperationDelete {
			if err := a.records.DeleteRecord(ctx, input.OwnerID, tableID, recordID); err != nil {
				return nil, err
			}
			return &ActionOutput{Logs: []string{fmt.Sprintf("Deleted record %s from %s", recordID, tableID)}}, nil
		}

		patch := project(mappings, input.Context)
		if err := a.records.UpdateRecord(ctx, input.OwnerID, tableID, recordID, patch); err != nil {
			return nil, err
		}
		return &ActionOutput{Logs: []string{fmt.Sprintf("Updated record %s in %s", recordID, tableID)}}, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeValidation, "update-database: unsupported action %q", op)
}

// resolveRecordID prefers the interpolated recordId param and falls back to ctx.record_id.
func (a *UpdateDatabaseAction) resolveRecordID(params, data map[string]any) string {
	if raw := stringParam(params, "recordId", ""); raw != "" {
		if id := strings.TrimSpace(a.interp.Interpolate(raw, data)); id != "" {
			return id
		}
	}
	if v, ok := data["record_id"]; ok && v != nil {
		return strings.TrimSpace(expressions.Stringify(v))
	}
	return ""
}

// project copies mapped context values into a new record. Missing sources are skipped.
func project(mappings []Mapping, data map[string]any) map[string]any {
	out := make(map[string]any, len(mappings))
	for _, m := range mappings {
		if v, ok := expressions.Lookup(data, m.Source); ok {
			out[m.Target] = v
		}
	}
	return out
}

func parseMappings(raw any) ([]Mapping, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "update-database: 'mappings' must be a list")
	}
	out := make([]Mapping, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "update-database: mappings[%d] must be an object", i)
		}
		mp := Mapping{Source: stringParam(m, "source", ""), Target: stringParam(m, "target", "")}
		if mp.Source == "" || mp.Target == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "update-database: mappings[%d] needs source and target", i)
		}
		out = append(out, mp)
	}
	return out, nil
}
