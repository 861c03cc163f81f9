package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/leadflow/internal/streaming"
)

// notificationMethod is the MCP method used for execution events.
const notificationMethod = "notifications/message"

// clientNotifier is the part of MCPServer the notifier needs.
type clientNotifier interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// EventNotifier pushes engine events to the sessions watching them.
type EventNotifier struct {
	mcpServer clientNotifier
	sessions  *SessionRegistry
}

// NewEventNotifier creates a notifier that pushes via the MCP server.
func NewEventNotifier(mcpServer clientNotifier, sessions *SessionRegistry) *EventNotifier {
	return &EventNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends event to every watching session.
// Best-effort: sessions that went away are dropped from the registry.
func (n *EventNotifier) Notify(_ context.Context, event streaming.Event) error {
	payload := map[string]any{
		"level":  "info",
		"logger": "leadflow",
		"data": map[string]any{
			"type":         event.Type,
			"workflow_id":  event.WorkflowID,
			"execution_id": event.ExecutionID,
			"entity_id":    event.EntityID,
			"step_order":   event.StepOrder,
			"timestamp":    event.Timestamp,
			"detail":       event.Detail,
		},
	}

	var errs []error
	for _, sid := range n.sessions.SessionsFor(event.WorkflowID) {
		err := n.mcpServer.SendNotificationToSpecificClient(sid, notificationMethod, payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.sessions.Remove(sid)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forward notifies watchers of every event until events closes or ctx ends.
func (n *EventNotifier) Forward(ctx context.Context, events <-chan streaming.Event, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := n.Notify(ctx, ev); err != nil {
				logger.Debug("notify watchers failed", slog.String("event", ev.Type), slog.String("error", err.Error()))
			}
		}
	}
}
