package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/leadflow/internal/diagram"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/pkg/schema"
)

const defaultListLimit = 50

// handleStart starts one execution directly, bypassing trigger matching.
func (s *LeadflowServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return validationResult("workflow_id is required"), nil
	}
	entityID, err := req.RequireString("entity_id")
	if err != nil {
		return validationResult("entity_id is required"), nil
	}
	triggerData := mcp.ParseStringMap(req, "trigger_data", nil)

	exec, err := s.engine.StartWorkflowExecution(ctx, workflowID, entityID, triggerData)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{
		"success":      true,
		"execution_id": exec.ID,
		"execution":    exec,
	})
}

func (s *LeadflowServer) handlePause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return validationResult("execution_id is required"), nil
	}
	exec, err := s.engine.PauseWorkflowExecution(ctx, executionID)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"success": true, "execution": exec})
}

func (s *LeadflowServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return validationResult("execution_id is required"), nil
	}
	exec, err := s.engine.ResumeWorkflowExecution(ctx, executionID)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"success": true, "execution": exec})
}

// handleProcess runs one pass over due executions. When a scheduler is
// running, the pass goes through it so manual and timed passes never overlap.
func (s *LeadflowServer) handleProcess(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		processed int
		err       error
	)
	if s.scheduler != nil {
		processed, err = s.scheduler.RunPass(ctx)
	} else {
		processed, err = s.engine.ProcessScheduledSteps(ctx)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{
		"success":   true,
		"processed": processed,
		"breaker":   s.engine.BreakerState(),
	})
}

func (s *LeadflowServer) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return validationResult("workflow_id is required"), nil
	}
	stats, err := s.engine.GetWorkflowStats(ctx, workflowID)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(stats)
}

// handleStatus returns one execution with its log, or a filtered list.
func (s *LeadflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if executionID := req.GetString("execution_id", ""); executionID != "" {
		exec, err := s.engine.GetExecution(ctx, executionID)
		if err != nil {
			return errorResult(err), nil
		}
		return marshalResult(exec)
	}

	filter := store.ExecutionFilter{
		WorkflowID: req.GetString("workflow_id", ""),
		EntityID:   req.GetString("entity_id", ""),
		Limit:      extractInt(req.GetArguments(), "limit", defaultListLimit),
	}
	if status := req.GetString("status", ""); status != "" {
		st := schema.ExecutionStatus(status)
		filter.Status = &st
	}
	execs, err := s.engine.ListExecutions(ctx, filter)
	if err != nil {
		return errorResult(err), nil
	}
	if execs == nil {
		execs = []*schema.Execution{}
	}
	return marshalResult(map[string]any{"executions": execs, "count": len(execs)})
}

func (s *LeadflowServer) handleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID, err := req.RequireString("entity_id")
	if err != nil {
		return validationResult("entity_id is required"), nil
	}
	kind, err := req.RequireString("kind")
	if err != nil {
		return validationResult("kind is required"), nil
	}
	event := mcp.ParseStringMap(req, "event", nil)

	result, err := s.engine.Evaluate(ctx, entityID, schema.TriggerKind(kind), event)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(result)
}

func (s *LeadflowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var def schema.WorkflowDefinition
	if err := decodeArgument(req, "definition", &def); err != nil {
		return errorResult(err), nil
	}
	if err := s.engine.DefineWorkflow(ctx, &def); err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{
		"success":     true,
		"workflow_id": def.ID,
		"version":     def.Version,
	})
}

func (s *LeadflowServer) handleLead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var lead schema.Lead
	if err := decodeArgument(req, "lead", &lead); err != nil {
		return errorResult(err), nil
	}
	if lead.ID == "" || lead.Email == "" {
		return validationResult("lead id and email are required"), nil
	}
	if err := s.store.UpsertLead(ctx, &lead); err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"success": true, "lead_id": lead.ID})
}

func (s *LeadflowServer) handleTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var tpl schema.EmailTemplate
	if err := decodeArgument(req, "template", &tpl); err != nil {
		return errorResult(err), nil
	}
	if tpl.Ref == "" || tpl.Subject == "" || tpl.HTMLBody == "" {
		return validationResult("template ref, subject and html_body are required"), nil
	}
	if tpl.Name == "" {
		tpl.Name = tpl.Ref
	}
	if err := s.store.StoreEmailTemplate(ctx, &tpl); err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"success": true, "ref": tpl.Ref})
}

// handleDiagram draws a workflow, overlaid with an execution's progress
// when execution_id is given.
func (s *LeadflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return validationResult("format is required"), nil
	}
	if format != "mermaid" && format != "image" {
		return validationResult("format must be mermaid or image"), nil
	}

	workflowID := req.GetString("workflow_id", "")
	executionID := req.GetString("execution_id", "")
	if workflowID == "" && executionID == "" {
		return validationResult("at least one of workflow_id or execution_id is required"), nil
	}

	var (
		exec    *schema.Execution
		version int
	)
	if executionID != "" {
		exec, err = s.engine.GetExecution(ctx, executionID)
		if err != nil {
			return errorResult(err), nil
		}
		workflowID = exec.WorkflowID
		version = exec.WorkflowVersion
	}
	def, err := s.engine.GetWorkflow(ctx, workflowID, version)
	if err != nil {
		return errorResult(err), nil
	}

	model, err := diagram.Build(def, exec)
	if err != nil {
		return errorResult(err), nil
	}

	if format == "mermaid" {
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	}
	png, err := diagram.RenderImage(ctx, model)
	if err != nil {
		return errorResult(schema.NewError(schema.ErrCodeExecution, "image render failed").WithCause(err)), nil
	}
	return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
}

// handleWatch subscribes the calling session to a workflow's events.
func (s *LeadflowServer) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return validationResult("watch requires a client session"), nil
	}
	workflowID := req.GetString("workflow_id", "")
	if req.GetBool("stop", false) {
		s.sessions.Unwatch(workflowID, session.SessionID())
		return marshalResult(map[string]any{"success": true, "watching": false, "workflow_id": workflowID})
	}
	s.sessions.Watch(workflowID, session.SessionID())
	return marshalResult(map[string]any{"success": true, "watching": true, "workflow_id": workflowID})
}

// decodeArgument re-encodes an object argument into dst.
func decodeArgument(req mcp.CallToolRequest, key string, dst any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s is not valid JSON", key).WithCause(err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid %s: %v", key, err).WithCause(err)
	}
	return nil
}

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// errorResult reports err as a structured tool error.
func errorResult(err error) *mcp.CallToolResult {
	code := schema.CodeOf(err)
	if code == "" {
		code = schema.ErrCodeExecution
	}
	body := map[string]any{
		"success":    false,
		"error_code": code,
		"message":    err.Error(),
	}
	var lfErr *schema.LeadflowError
	if errors.As(err, &lfErr) {
		body["message"] = lfErr.Message
		if len(lfErr.Details) > 0 {
			body["details"] = lfErr.Details
		}
	}
	data, mErr := json.Marshal(body)
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

func validationResult(message string) *mcp.CallToolResult {
	return errorResult(schema.NewError(schema.ErrCodeValidation, message))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
