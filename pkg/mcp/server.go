package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/triggerflow/internal/engine"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/internal/validation"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Store     store.Store
	Mailer    mailer.Sender
	Validator validation.Validator
	Engine    engine.Config
	Logger    *slog.Logger
	Version   string
}

// Server exposes workflow runs, event dispatch and execution history as MCP tools.
// Every tool takes an owner_id and builds an engine scoped to it.
type Server struct {
	store     store.Store
	mailer    mailer.Sender
	validator validation.Validator
	engineCfg engine.Config
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		store:     deps.Store,
		mailer:    deps.Mailer,
		validator: deps.Validator,
		engineCfg: deps.Engine,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"triggerflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("triggerflow runs trigger-bound workflows. Use triggerflow.dispatch_form and triggerflow.dispatch_table to deliver events, triggerflow.run to start a workflow directly, and triggerflow.executions or triggerflow.workflows to inspect state, and triggerflow.step_types to see which step types can run. Every tool requires owner_id."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: dispatchFormTool(), Handler: s.handleDispatchForm},
		{Tool: dispatchTableTool(), Handler: s.handleDispatchTable},
		{Tool: executionsTool(), Handler: s.handleExecutions},
		{Tool: workflowsTool(), Handler: s.handleWorkflows},
		{Tool: stepTypesTool(), Handler: s.handleStepTypes},
	}
}

// --- Tool definitions ---

func ownerArg() mcp.ToolOption {
	return mcp.WithString("owner_id", mcp.Required(), mcp.Description("Identity that owns the workflows and data"))
}

func runTool() mcp.Tool {
	return mcp.NewTool("triggerflow.run",
		mcp.WithDescription("Run one workflow directly and wait for its result"),
		ownerArg(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithObject("input", mcp.Description("Initial context for the run")),
	)
}

func dispatchFormTool() mcp.Tool {
	return mcp.NewTool("triggerflow.dispatch_form",
		mcp.WithDescription("Deliver a form submission to every workflow triggered by the form"),
		ownerArg(),
		mcp.WithString("form_id", mcp.Required(), mcp.Description("Submitted form")),
		mcp.WithObject("data", mcp.Description("Submitted fields")),
		mcp.WithString("submission_id", mcp.Description("ID of the stored submission")),
	)
}

func dispatchTableTool() mcp.Tool {
	return mcp.NewTool("triggerflow.dispatch_table",
		mcp.WithDescription("Deliver a table record mutation to every workflow triggered by the table"),
		ownerArg(),
		mcp.WithString("table_id", mcp.Required(), mcp.Description("Mutated logical table")),
		mcp.WithString("operation", mcp.Required(),
			mcp.Enum("create", "update", "delete"),
			mcp.Description("Mutation kind"),
		),
		mcp.WithObject("record", mcp.Description("Record fields after the mutation")),
		mcp.WithString("record_id", mcp.Description("ID of the mutated record")),
	)
}

func executionsTool() mcp.Tool {
	return mcp.NewTool("triggerflow.executions",
		mcp.WithDescription("List recorded workflow executions, newest first"),
		ownerArg(),
		mcp.WithString("workflow_id", mcp.Description("Only executions of this workflow")),
		mcp.WithString("status", mcp.Enum("running", "completed", "failed"), mcp.Description("Only executions in this status")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of executions (default 50)")),
	)
}

func workflowsTool() mcp.Tool {
	return mcp.NewTool("triggerflow.workflows",
		mcp.WithDescription("List the owner's workflows"),
		ownerArg(),
	)
}

func stepTypesTool() mcp.Tool {
	return mcp.NewTool("triggerflow.step_types",
		mcp.WithDescription("List the step types a workflow may use"),
		ownerArg(),
	)
}
