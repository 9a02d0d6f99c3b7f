package workflow

import (
	"time"

	"flomoji/api/services/engine"
)

// Workflow is a persisted workflow document: the node/edge graph plus the
// canvas data the editor needs to redraw it.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Schedule    string    `json:"schedule,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Summary is the list-view projection of a workflow document.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Schedule    string    `json:"schedule,omitempty"`
	NodeCount   int       `json:"nodeCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Node is a single step in a workflow document.
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData holds the display label and the node's configuration values.
type NodeData struct {
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Edge is a directed connection between two node ports.
type Edge struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	Label        string         `json:"label,omitempty"`
	Type         string         `json:"type,omitempty"`
	SourceHandle string         `json:"sourceHandle,omitempty"`
	TargetHandle string         `json:"targetHandle,omitempty"`
	Animated     bool           `json:"animated,omitempty"`
	Style        map[string]any `json:"style,omitempty"`
}

// ExecuteRequest is the JSON body sent by the frontend to execute a workflow.
type ExecuteRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
	Debug  bool           `json:"debug,omitempty"`
}

// ExecutionResults is the top-level response returned after executing a
// workflow. Steps follow node execution order.
type ExecutionResults struct {
	ExecutionID   string            `json:"executionId"`
	WorkflowID    string            `json:"workflowId"`
	Status        string            `json:"status"`
	StartTime     string            `json:"startTime"`
	EndTime       string            `json:"endTime"`
	TotalDuration int64             `json:"totalDuration"`
	Steps         []ExecutionStep   `json:"steps"`
	Variables     map[string]any    `json:"variables,omitempty"`
	Error         *ExecutionError   `json:"error,omitempty"`
	Log           []engine.LogEntry `json:"log,omitempty"`
}

// ExecutionStep is the result of executing a single node.
type ExecutionStep struct {
	StepNumber int    `json:"stepNumber"`
	NodeID     string `json:"nodeId"`
	NodeType   string `json:"nodeType"`
	Label      string `json:"label,omitempty"`
	Output     any    `json:"output"`
	Duration   int64  `json:"duration"`
	Timestamp  string `json:"timestamp"`
}

// ExecutionError identifies the node that terminated a failed run.
type ExecutionError struct {
	NodeID  string `json:"nodeId"`
	Message string `json:"message"`
}

// exportVersion is bumped when the export envelope shape changes.
const exportVersion = 1

// ExportEnvelope wraps a workflow for file export and re-import.
type ExportEnvelope struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	Workflow   Workflow  `json:"workflow"`
}

// ScheduleRequest is the JSON body for attaching a cron schedule.
type ScheduleRequest struct {
	Cron string `json:"cron"`
}

// ScheduleResponse reports the schedule attached to a workflow.
type ScheduleResponse struct {
	WorkflowID string `json:"workflowId"`
	Cron       string `json:"cron"`
}
