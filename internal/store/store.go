package store

import "context"

// Store defines the persistence layer contract.
// Every read and write is scoped by an owning identity; the only cross-owner
// query is ListStaleExecutions, used by the sweeper.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow definitions
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, ownerID, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error)
	SetWorkflowEnabled(ctx context.Context, ownerID, id string, enabled bool) error
	DeleteWorkflow(ctx context.Context, ownerID, id string) error

	// Steps
	CreateStep(ctx context.Context, step *WorkflowStep) error
	ListStepsOrdered(ctx context.Context, ownerID, workflowID string) ([]*WorkflowStep, error)

	// Triggers
	CreateTrigger(ctx context.Context, trigger *WorkflowTrigger) error
	DeleteTrigger(ctx context.Context, ownerID, id string) error
	ListTriggers(ctx context.Context, ownerID string, filter TriggerFilter) ([]*WorkflowTrigger, error)

	// Executions
	InsertExecution(ctx context.Context, exec *WorkflowExecution) error
	UpdateExecution(ctx context.Context, ownerID, id string, update ExecutionUpdate) error
	GetExecution(ctx context.Context, ownerID, id string) (*WorkflowExecution, error)
	ListExecutions(ctx context.Context, ownerID string, filter ExecutionFilter) ([]*WorkflowExecution, error)
	ListStaleExecutions(ctx context.Context, filter StaleFilter) ([]*WorkflowExecution, error)

	// Business records
	InsertRecord(ctx context.Context, ownerID, tableID string, data map[string]any) (string, error)
	UpdateRecord(ctx context.Context, ownerID, tableID, recordID string, patch map[string]any) error
	DeleteRecord(ctx context.Context, ownerID, tableID, recordID string) error
	GetRecord(ctx context.Context, ownerID, tableID, recordID string) (*Record, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
