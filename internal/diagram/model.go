package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindEmail       NodeKind = "email"
	NodeKindConditional NodeKind = "conditional"
	NodeKindStart       NodeKind = "start"
	NodeKindEnd         NodeKind = "end"
)

// Overlay statuses derived from an execution.
const (
	StatusSent      = "sent"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusRetrying  = "retrying"
	StatusScheduled = "scheduled"
	StatusPaused    = "paused"
	StatusPending   = "pending"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one workflow step, or the virtual start and end.
type Node struct {
	ID        string
	Label     string
	Kind      NodeKind
	Condition string
	Status    *StatusOverlay
}

// StatusOverlay carries the state of a step within one execution.
type StatusOverlay struct {
	Status  string
	Retries int
	Error   string
}

// Edge links consecutive steps; Label carries the wait before the target.
type Edge struct {
	From  string
	To    string
	Label string
}
