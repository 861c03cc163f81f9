package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/internal/logging"
	"github.com/rendis/leadflow/internal/scheduler"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/internal/streaming"
)

// ServerDeps holds the dependencies for creating a LeadflowServer.
type ServerDeps struct {
	Engine    *engine.Engine
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// LeadflowServer exposes the workflow engine as MCP tools.
type LeadflowServer struct {
	engine    *engine.Engine
	store     store.Store
	scheduler *scheduler.Scheduler
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *EventNotifier
	mcpServer *server.MCPServer
}

// NewLeadflowServer creates a LeadflowServer with every tool registered.
func NewLeadflowServer(deps ServerDeps) *LeadflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	hub := deps.Hub
	if hub == nil {
		hub = streaming.Nop{}
	}

	s := &LeadflowServer{
		engine:    deps.Engine,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		hub:       hub,
		logger:    logging.WithModule(logger, "mcp"),
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"leadflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Leadflow runs delayed email sequences for CRM leads. Use leadflow.define to register a workflow, leadflow.trigger or leadflow.start to start executions, leadflow.process to run due steps, leadflow.pause and leadflow.resume to control an execution, and leadflow.status, leadflow.stats and leadflow.diagram to inspect progress."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewEventNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Engine events are forwarded to watching sessions meanwhile.
func (s *LeadflowServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.forwardEvents(ctx); err != nil {
		return err
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ServeSSE serves MCP over HTTP server-sent events on addr until ctx is
// cancelled. It returns http.ErrServerClosed after a clean shutdown.
func (s *LeadflowServer) ServeSSE(ctx context.Context, addr, baseURL string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.forwardEvents(ctx); err != nil {
		return err
	}
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	errCh := make(chan error, 1)
	go func() { errCh <- sse.Start(addr) }()
	s.logger.Info("mcp sse listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer done()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func (s *LeadflowServer) forwardEvents(ctx context.Context) error {
	events, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	go func() {
		defer unsubscribe()
		s.notifier.Forward(ctx, events, s.logger)
	}()
	return nil
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *LeadflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *LeadflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: pauseTool(), Handler: s.handlePause},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: processTool(), Handler: s.handleProcess},
		{Tool: statsTool(), Handler: s.handleStats},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: triggerTool(), Handler: s.handleTrigger},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: leadTool(), Handler: s.handleLead},
		{Tool: templateTool(), Handler: s.handleTemplate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: watchTool(), Handler: s.handleWatch},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("leadflow.start",
		mcp.WithDescription("Start a workflow execution for a lead"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to start")),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("ID of the lead")),
		mcp.WithObject("trigger_data", mcp.Description("Snapshot stored with the execution")),
	)
}

func pauseTool() mcp.Tool {
	return mcp.NewTool("leadflow.pause",
		mcp.WithDescription("Pause a running execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("leadflow.resume",
		mcp.WithDescription("Resume a paused execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
	)
}

func processTool() mcp.Tool {
	return mcp.NewTool("leadflow.process",
		mcp.WithDescription("Process every execution whose next step is due"),
	)
}

func statsTool() mcp.Tool {
	return mcp.NewTool("leadflow.stats",
		mcp.WithDescription("Count a workflow's executions by status"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("leadflow.status",
		mcp.WithDescription("Get an execution with its log, or list executions"),
		mcp.WithString("execution_id", mcp.Description("ID of the execution (omit to list)")),
		mcp.WithString("workflow_id", mcp.Description("List filter: workflow")),
		mcp.WithString("entity_id", mcp.Description("List filter: lead")),
		mcp.WithString("status", mcp.Enum("RUNNING", "PAUSED", "COMPLETED", "FAILED"), mcp.Description("List filter: status")),
		mcp.WithNumber("limit", mcp.Description("Maximum executions to list (default 50)")),
	)
}

func triggerTool() mcp.Tool {
	return mcp.NewTool("leadflow.trigger",
		mcp.WithDescription("Evaluate a lead event and start every matching workflow"),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("ID of the lead")),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("LEAD_CREATED", "STATUS_CHANGED", "TAG_ADDED", "DATE_BASED"),
			mcp.Description("Event kind"),
		),
		mcp.WithObject("event", mcp.Description("Event payload, e.g. {\"newStatus\": \"qualified\"}")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("leadflow.define",
		mcp.WithDescription("Validate and store a workflow definition as a new version"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
	)
}

func leadTool() mcp.Tool {
	return mcp.NewTool("leadflow.lead",
		mcp.WithDescription("Create or update a lead in the CRM read model"),
		mcp.WithObject("lead", mcp.Required(), mcp.Description("Lead object: id, email, first_name, last_name, status, source, tags, attributes")),
	)
}

func templateTool() mcp.Tool {
	return mcp.NewTool("leadflow.template",
		mcp.WithDescription("Create or replace an email template"),
		mcp.WithObject("template", mcp.Required(), mcp.Description("Template object: ref, name, subject, html_body, text_body")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("leadflow.diagram",
		mcp.WithDescription("Render a workflow as a Mermaid flowchart or base64-encoded PNG, optionally overlaid with an execution's progress"),
		mcp.WithString("workflow_id", mcp.Description("Workflow to draw (latest version)")),
		mcp.WithString("execution_id", mcp.Description("Execution to overlay; its pinned workflow version is drawn")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "image"),
			mcp.Description("Output format: mermaid (flowchart syntax) or image (base64 PNG)"),
		),
	)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("leadflow.watch",
		mcp.WithDescription("Receive execution events of a workflow as notifications on this session"),
		mcp.WithString("workflow_id", mcp.Description("Workflow to watch (omit for all)")),
		mcp.WithBoolean("stop", mcp.Description("Stop watching instead")),
	)
}
