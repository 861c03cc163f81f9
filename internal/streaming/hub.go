package streaming

import (
	"context"
	"time"
)

// Event is a real-time notification about a workflow or one of its executions.
type Event struct {
	Type        string    `json:"type"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	StepOrder   int       `json:"step_order,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Detail      string    `json:"detail,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	EntityID   string   `json:"entity_id,omitempty"`
	Types      []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for execution events.
type EventHub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func(), error)
}

// Nop discards every event. Used when nothing listens.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Subscribe(context.Context, EventFilter) (<-chan Event, func(), error) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}, nil
}
