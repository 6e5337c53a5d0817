package schema

import "encoding/json"

// StepType selects the action that executes a workflow step.
type StepType string

const (
	StepTypeSendEmail      StepType = "send-email"
	StepTypeUpdateDatabase StepType = "update-database"
	StepTypeCondition      StepType = "condition"
	StepTypeDelay          StepType = "delay"
)

// KnownStepTypes lists every step kind the engine ships an action for.
var KnownStepTypes = []StepType{
	StepTypeSendEmail,
	StepTypeUpdateDatabase,
	StepTypeCondition,
	StepTypeDelay,
}

// TriggerType identifies the class of event a trigger listens to.
type TriggerType string

const (
	TriggerFormSubmission TriggerType = "form_submission"
	TriggerDatabaseChange TriggerType = "database_change"
)

// Operation is a mutation kind on a logical data table.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// AllOperations is the default operations allow-list of a database_change trigger.
func AllOperations() []Operation {
	return []Operation{OperationCreate, OperationUpdate, OperationDelete}
}

// Valid reports whether op is one of create, update or delete.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// TriggerConfig is the optional per-trigger configuration blob.
type TriggerConfig struct {
	// Operations is the database_change allow-list. Absent means every
	// operation; an explicit empty list admits none.
	Operations []Operation `json:"operations,omitempty"`
}

// Allows reports whether op passes the operations allow-list.
func (c TriggerConfig) Allows(op Operation) bool {
	if c.Operations == nil {
		return true
	}
	for _, allowed := range c.Operations {
		if allowed == op {
			return true
		}
	}
	return false
}

// ParseTriggerConfig decodes a raw trigger_config blob. Empty input yields the zero config.
func ParseTriggerConfig(raw json.RawMessage) (TriggerConfig, error) {
	var cfg TriggerConfig
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, NewErrorf(ErrCodeValidation, "invalid trigger_config: %s", err.Error()).WithCause(err)
	}
	return cfg, nil
}

// DefinitionBundle is the import format for workflow definitions.
type DefinitionBundle struct {
	Workflows []WorkflowDefinition `json:"workflows"`
}

// WorkflowDefinition describes one workflow with its steps and triggers.
type WorkflowDefinition struct {
	ID            string              `json:"id,omitempty"`
	Name          string              `json:"name"`
	Enabled       bool                `json:"enabled"`
	Configuration json.RawMessage     `json:"configuration,omitempty"`
	Steps         []StepDefinition    `json:"steps"`
	Triggers      []TriggerDefinition `json:"triggers,omitempty"`
}

// StepDefinition describes a single step in a workflow.
type StepDefinition struct {
	ID       string          `json:"id,omitempty"`
	Position int             `json:"position"`
	Type     StepType        `json:"type"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// TriggerDefinition binds a workflow to an event source.
type TriggerDefinition struct {
	ID       string          `json:"id,omitempty"`
	Type     TriggerType     `json:"trigger_type"`
	SourceID string          `json:"trigger_source_id"`
	Config   json.RawMessage `json:"trigger_config,omitempty"`
}
