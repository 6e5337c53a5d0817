package validation

import (
	"encoding/json"

	"github.com/rendis/triggerflow/pkg/schema"
)

// Validator checks definition bundles and step parameters before they are
// persisted or executed. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateBundle(bundle *schema.DefinitionBundle) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// StepLookup resolves the parameter schema of a step kind.
type StepLookup interface {
	ParamsSchema(stepType schema.StepType) (json.RawMessage, bool)
}

// StepChecker is implemented by lookups that can also apply a step kind's own
// parameter rules, the same ones checked before the step runs.
type StepChecker interface {
	CheckParams(stepType schema.StepType, params map[string]any) error
}
