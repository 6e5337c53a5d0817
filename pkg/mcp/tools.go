package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/triggerflow/internal/engine"
	"github.com/rendis/triggerflow/internal/logging"
	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/pkg/schema"
)

const defaultListLimit = 50

// handleRun runs one workflow and returns its RunResult.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eng, ctx, errResult := s.engineFor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	result, runErr := eng.RunWorkflow(ctx, workflowID, input)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow run failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleDispatchForm delivers a form submission and returns the dispatch Summary.
func (s *Server) handleDispatchForm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eng, ctx, errResult := s.engineFor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	formID, err := req.RequireString("form_id")
	if err != nil || formID == "" {
		return mcp.NewToolResultError("form_id is required"), nil
	}
	data := mcp.ParseStringMap(req, "data", nil)
	submissionID := req.GetString("submission_id", "")

	return marshalResult(eng.DispatchFormSubmission(ctx, formID, data, submissionID))
}

// handleDispatchTable delivers a record mutation and returns the dispatch Summary.
func (s *Server) handleDispatchTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eng, ctx, errResult := s.engineFor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	tableID, err := req.RequireString("table_id")
	if err != nil || tableID == "" {
		return mcp.NewToolResultError("table_id is required"), nil
	}
	op, err := req.RequireString("operation")
	if err != nil {
		return mcp.NewToolResultError("operation is required"), nil
	}
	if !schema.Operation(op).Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("operation must be create, update or delete, got %q", op)), nil
	}
	record := mcp.ParseStringMap(req, "record", nil)
	recordID := req.GetString("record_id", "")

	return marshalResult(eng.DispatchDatabaseChange(ctx, tableID, schema.Operation(op), record, recordID))
}

// handleExecutions lists execution records for the owner.
func (s *Server) handleExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError("owner_id is required"), nil
	}

	filter := store.ExecutionFilter{
		WorkflowID: req.GetString("workflow_id", ""),
		Limit:      req.GetInt("limit", defaultListLimit),
	}
	if status := req.GetString("status", ""); status != "" {
		st := schema.ExecutionStatus(status)
		filter.Status = &st
	}

	execs, err := s.store.ListExecutions(ctx, ownerID, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": execs})
}

// handleWorkflows lists the owner's workflow definitions.
func (s *Server) handleWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError("owner_id is required"), nil
	}
	workflows, err := s.store.ListWorkflows(ctx, ownerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

// handleStepTypes lists the registered step types with their descriptions.
func (s *Server) handleStepTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eng, _, errResult := s.engineFor(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	return marshalResult(map[string]any{"step_types": eng.StepTypes()})
}

// --- Internal helpers ---

// engineFor builds an engine scoped to the request's owner_id. A non-nil
// result means the request was rejected.
func (s *Server) engineFor(ctx context.Context, req mcp.CallToolRequest) (*engine.Engine, context.Context, *mcp.CallToolResult) {
	ownerID, err := req.RequireString("owner_id")
	if err != nil || ownerID == "" {
		return nil, ctx, mcp.NewToolResultError("owner_id is required")
	}
	eng, err := engine.New(ownerID, engine.Deps{
		Store:     s.store,
		Mailer:    s.mailer,
		Logger:    s.logger,
		Validator: s.validator,
	}, s.engineCfg)
	if err != nil {
		return nil, ctx, mcp.NewToolResultError(fmt.Sprintf("engine unavailable: %v", err))
	}
	return eng, logging.WithOwnerID(ctx, ownerID), nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
