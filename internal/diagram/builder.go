package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a DiagramModel from a workflow definition. When exec is
// given, each step is overlaid with its outcome in that execution, replayed
// from the execution log.
func Build(def *schema.WorkflowDefinition, exec *schema.Execution) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: workflow definition is nil")
	}

	var outcomes map[int]*store.StepOutcome
	if exec != nil {
		var err error
		outcomes, err = store.ReplayStepOutcomes(exec.ID, exec.Log)
		if err != nil {
			return nil, fmt.Errorf("diagram: replay execution log: %w", err)
		}
	}

	nodes := make([]*Node, 0, len(def.Steps)+2)
	edges := make([]Edge, 0, len(def.Steps)+1)

	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	prev := startID
	for _, step := range def.Steps {
		node := stepToNode(step)
		if exec != nil {
			node.Status = overlayFor(step.Order, exec, outcomes[step.Order])
		}
		nodes = append(nodes, node)
		edges = append(edges, Edge{From: prev, To: node.ID, Label: delayLabel(step.DelayHours)})
		prev = node.ID
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})
	edges = append(edges, Edge{From: prev, To: endID})

	return &DiagramModel{
		Title: titleFromDef(def),
		Nodes: nodes,
		Edges: edges,
	}, nil
}

func stepID(order int) string {
	return fmt.Sprintf("step_%d", order)
}

func stepToNode(step schema.Step) *Node {
	node := &Node{
		ID:    stepID(step.Order),
		Label: fmt.Sprintf("%d. %s", step.Order, step.TemplateRef),
		Kind:  NodeKindEmail,
	}
	if step.Conditions != nil {
		node.Kind = NodeKindConditional
		node.Condition = conditionLabel(step.Conditions)
	}
	return node
}

// overlayFor derives a step's status from its last log outcome, or from the
// execution position when the step has not run yet.
func overlayFor(order int, exec *schema.Execution, o *store.StepOutcome) *StatusOverlay {
	if o != nil {
		ov := &StatusOverlay{Retries: o.Retries, Error: o.Error}
		switch o.Action {
		case schema.LogEmailSent:
			ov.Status = StatusSent
		case schema.LogStepSkipped:
			ov.Status = StatusSkipped
		case schema.LogEmailSendRetry:
			ov.Status = StatusRetrying
		default:
			ov.Status = StatusFailed
		}
		return ov
	}
	if order == exec.CurrentStep+1 {
		switch exec.Status {
		case schema.ExecutionRunning:
			return &StatusOverlay{Status: StatusScheduled}
		case schema.ExecutionPaused:
			return &StatusOverlay{Status: StatusPaused}
		}
	}
	return &StatusOverlay{Status: StatusPending}
}

func delayLabel(hours int) string {
	switch {
	case hours <= 0:
		return ""
	case hours%24 == 0:
		return fmt.Sprintf("+%dd", hours/24)
	default:
		return fmt.Sprintf("+%dh", hours)
	}
}

// conditionLabel renders a condition tree as a short one-line predicate.
func conditionLabel(c *schema.StepCondition) string {
	switch c.Type {
	case schema.ConditionStatus:
		return "status in " + strings.Join(c.Values, ",")
	case schema.ConditionSource:
		return "source in " + strings.Join(c.Values, ",")
	case schema.ConditionTag:
		return "tag " + c.Value
	case schema.ConditionExpression:
		return c.Expression
	case schema.ConditionAll, schema.ConditionAny:
		sep := " and "
		if c.Type == schema.ConditionAny {
			sep = " or "
		}
		parts := make([]string, len(c.Conditions))
		for i := range c.Conditions {
			parts[i] = conditionLabel(&c.Conditions[i])
		}
		return "(" + strings.Join(parts, sep) + ")"
	case schema.ConditionNot:
		if len(c.Conditions) == 1 {
			return "not " + conditionLabel(&c.Conditions[0])
		}
	}
	return string(c.Type)
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	title := def.Name
	if title == "" {
		title = def.ID
	}
	if title == "" {
		return "Workflow"
	}
	if def.Version > 0 {
		title = fmt.Sprintf("%s (v%d)", title, def.Version)
	}
	return title
}

// displayLabel is the node label with its condition, if any, appended.
func displayLabel(n *Node, sep string) string {
	if n.Condition == "" {
		return n.Label
	}
	return n.Label + sep + "if " + n.Condition
}
