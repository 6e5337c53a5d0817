package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/triggerflow/pkg/schema"
)

// Workflow is the persisted workflow definition. Read-only to the engine.
type Workflow struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Name          string          `json:"name"`
	Enabled       bool            `json:"enabled"`
	Configuration json.RawMessage `json:"configuration,omitempty"` // includes builder "connections", not interpreted
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WorkflowStep is one ordered unit of work inside a workflow.
type WorkflowStep struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Position   int             `json:"position"`
	Type       schema.StepType `json:"type"`
	Params     json.RawMessage `json:"params,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// WorkflowTrigger binds a workflow to one event source.
type WorkflowTrigger struct {
	ID         string             `json:"id"`
	WorkflowID string             `json:"workflow_id"`
	Type       schema.TriggerType `json:"trigger_type"`
	SourceID   string             `json:"trigger_source_id"`
	Config     json.RawMessage    `json:"trigger_config,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// WorkflowExecution is one recorded run attempt.
type WorkflowExecution struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	OwnerID     string                 `json:"owner_id"`
	Status      schema.ExecutionStatus `json:"status"`
	TriggerType string                 `json:"trigger_type,omitempty"`
	TriggerData map[string]any         `json:"trigger_data,omitempty"`
	Logs        []string               `json:"logs"`
	Error       string                 `json:"error_message,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Record is a row of a logical business-data table.
type Record struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	TableID   string         `json:"table_id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// --- Filter and update types ---

// TriggerFilter specifies criteria for listing triggers.
type TriggerFilter struct {
	Type     schema.TriggerType `json:"trigger_type,omitempty"`
	SourceID string             `json:"trigger_source_id,omitempty"`
}

// ExecutionUpdate is the terminal transition of an execution.
type ExecutionUpdate struct {
	Status      schema.ExecutionStatus `json:"status"`
	Logs        []string               `json:"logs"`
	Error       string                 `json:"error_message,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
}

// StaleFilter selects executions still running that started before Before.
type StaleFilter struct {
	Before time.Time `json:"before"`
	Limit  int       `json:"limit,omitempty"`
}
