package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triggerflow/internal/engine"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/pkg/schema"
)

const owner = "owner-1"

type recordingSender struct {
	mu   sync.Mutex
	sent []*mailer.Message
}

func (r *recordingSender) SendEmail(_ context.Context, msg *mailer.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return true, nil
}

type harness struct {
	srv   *Server
	store *store.LibSQLStore
	mail  *recordingSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	mail := &recordingSender{}
	srv := NewServer(ServerDeps{
		Store:  st,
		Mailer: mail,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &harness{srv: srv, store: st, mail: mail}
}

// seedWelcome creates an enabled workflow sending one email, bound to form
// "signup" and to creates on table "contacts".
func (h *harness) seedWelcome(t *testing.T) *store.Workflow {
	t.Helper()
	ctx := context.Background()
	wf := &store.Workflow{OwnerID: owner, Name: "welcome", Enabled: true}
	require.NoError(t, h.store.CreateWorkflow(ctx, wf))
	require.NoError(t, h.store.CreateStep(ctx, &store.WorkflowStep{
		WorkflowID: wf.ID, Position: 1, Type: schema.StepTypeSendEmail,
		Params: json.RawMessage(`{"recipient":"{{email}}","subject":"Welcome","body":"Hi {{name}}"}`),
	}))
	require.NoError(t, h.store.CreateTrigger(ctx, &store.WorkflowTrigger{
		WorkflowID: wf.ID, Type: schema.TriggerFormSubmission, SourceID: "signup",
	}))
	require.NoError(t, h.store.CreateTrigger(ctx, &store.WorkflowTrigger{
		WorkflowID: wf.ID, Type: schema.TriggerDatabaseChange, SourceID: "contacts",
		Config: json.RawMessage(`{"operations":["create"]}`),
	}))
	return wf
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func TestRunTool(t *testing.T) {
	h := newHarness(t)
	wf := h.seedWelcome(t)

	result, err := h.srv.handleRun(context.Background(), buildRequest("triggerflow.run", map[string]any{
		"owner_id":    owner,
		"workflow_id": wf.ID,
		"input":       map[string]any{"email": "ana@example.com", "name": "Ana"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var res engine.RunResult
	unmarshalResult(t, result, &res)
	assert.True(t, res.Success)
	assert.Equal(t, schema.ExecutionCompleted, res.Status)
	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, "Hi Ana", h.mail.sent[0].Text)
}

func TestRunTool_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.srv.handleRun(ctx, buildRequest("triggerflow.run", map[string]any{"workflow_id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.srv.handleRun(ctx, buildRequest("triggerflow.run", map[string]any{"owner_id": owner}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.srv.handleRun(ctx, buildRequest("triggerflow.run", map[string]any{"owner_id": owner, "workflow_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "NOT_FOUND")
}

func TestDispatchFormTool(t *testing.T) {
	h := newHarness(t)
	wf := h.seedWelcome(t)

	result, err := h.srv.handleDispatchForm(context.Background(), buildRequest("triggerflow.dispatch_form", map[string]any{
		"owner_id":      owner,
		"form_id":       "signup",
		"submission_id": "sub-1",
		"data":          map[string]any{"email": "a@b.com", "name": "Ana"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var sum engine.Summary
	unmarshalResult(t, result, &sum)
	require.Equal(t, 1, sum.TriggeredCount)
	assert.Equal(t, wf.ID, sum.Results[0].WorkflowID)
	assert.True(t, sum.Results[0].Success)
	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, "a@b.com", h.mail.sent[0].To)
}

func TestDispatchFormTool_OtherOwnerMatchesNothing(t *testing.T) {
	h := newHarness(t)
	h.seedWelcome(t)

	result, err := h.srv.handleDispatchForm(context.Background(), buildRequest("triggerflow.dispatch_form", map[string]any{
		"owner_id": "intruder",
		"form_id":  "signup",
		"data":     map[string]any{"email": "a@b.com"},
	}))
	require.NoError(t, err)

	var sum engine.Summary
	unmarshalResult(t, result, &sum)
	assert.Equal(t, 0, sum.TriggeredCount)
	assert.Empty(t, h.mail.sent)
}

func TestDispatchFormTool_EmptyFormIDRejected(t *testing.T) {
	h := newHarness(t)
	h.seedWelcome(t)

	result, err := h.srv.handleDispatchForm(context.Background(), buildRequest("triggerflow.dispatch_form", map[string]any{
		"owner_id": owner,
		"form_id":  "",
		"data":     map[string]any{"email": "a@b.com", "name": "Ana"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, h.mail.sent)
}

func TestStepTypesTool(t *testing.T) {
	h := newHarness(t)

	result, err := h.srv.handleStepTypes(context.Background(), buildRequest("triggerflow.step_types", map[string]any{"owner_id": owner}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		StepTypes []struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"step_types"`
	}
	unmarshalResult(t, result, &out)
	var types []string
	for _, st := range out.StepTypes {
		types = append(types, st.Type)
		assert.NotEmpty(t, st.Description, st.Type)
	}
	assert.Equal(t, []string{"condition", "delay", "send-email", "update-database"}, types)

	result, err = h.srv.handleStepTypes(context.Background(), buildRequest("triggerflow.step_types", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDispatchTableTool(t *testing.T) {
	h := newHarness(t)
	h.seedWelcome(t)
	ctx := context.Background()

	args := map[string]any{
		"owner_id":  owner,
		"table_id":  "contacts",
		"operation": "update",
		"record":    map[string]any{"email": "a@b.com", "name": "Ana"},
		"record_id": "rec-1",
	}
	result, err := h.srv.handleDispatchTable(ctx, buildRequest("triggerflow.dispatch_table", args))
	require.NoError(t, err)
	var sum engine.Summary
	unmarshalResult(t, result, &sum)
	assert.Equal(t, 0, sum.TriggeredCount)

	args["operation"] = "create"
	result, err = h.srv.handleDispatchTable(ctx, buildRequest("triggerflow.dispatch_table", args))
	require.NoError(t, err)
	unmarshalResult(t, result, &sum)
	assert.Equal(t, 1, sum.TriggeredCount)

	args["operation"] = "upsert"
	result, err = h.srv.handleDispatchTable(ctx, buildRequest("triggerflow.dispatch_table", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecutionsTool(t *testing.T) {
	h := newHarness(t)
	wf := h.seedWelcome(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.srv.handleRun(ctx, buildRequest("triggerflow.run", map[string]any{
			"owner_id": owner, "workflow_id": wf.ID,
			"input": map[string]any{"email": "a@b.com", "name": "Ana"},
		}))
		require.NoError(t, err)
	}

	result, err := h.srv.handleExecutions(ctx, buildRequest("triggerflow.executions", map[string]any{
		"owner_id": owner, "workflow_id": wf.ID, "status": "completed", "limit": float64(2),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Executions []store.WorkflowExecution `json:"executions"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Executions, 2)
	for _, e := range out.Executions {
		assert.Equal(t, schema.ExecutionCompleted, e.Status)
		assert.Equal(t, "manual", e.TriggerType)
	}

	result, err = h.srv.handleExecutions(ctx, buildRequest("triggerflow.executions", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWorkflowsTool(t *testing.T) {
	h := newHarness(t)
	wf := h.seedWelcome(t)

	result, err := h.srv.handleWorkflows(context.Background(), buildRequest("triggerflow.workflows", map[string]any{"owner_id": owner}))
	require.NoError(t, err)

	var out struct {
		Workflows []store.Workflow `json:"workflows"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Workflows, 1)
	assert.Equal(t, wf.ID, out.Workflows[0].ID)
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
