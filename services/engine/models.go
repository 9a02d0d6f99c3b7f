package engine

import (
	"fmt"
	"time"
)

// Default port names used when a node or connection does not name one
// explicitly. Most built-in types have a single "input" and "output" port.
const (
	DefaultInputPort  = "input"
	DefaultOutputPort = "output"
)

// Node is one configured processing step in a workflow graph.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"`

	// Inputs and Outputs override the registry-declared port names for this
	// node instance. Empty means "use the node type's declaration".
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
}

// Connection is a directed link from one node's output port to another
// node's input port. Blank port names refer to the default ports.
type Connection struct {
	Source     string `json:"source"`
	SourcePort string `json:"sourcePort,omitempty"`
	Target     string `json:"target"`
	TargetPort string `json:"targetPort,omitempty"`
}

// normalized returns the connection with blank port names replaced by the
// default port names.
func (c Connection) normalized() Connection {
	if c.SourcePort == "" {
		c.SourcePort = DefaultOutputPort
	}
	if c.TargetPort == "" {
		c.TargetPort = DefaultInputPort
	}
	return c
}

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusStopped
}

// NodeError is a run-terminating failure attributed to a single node.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Result is the terminal outcome of a run: the status it ended with, a
// snapshot of the variable store, and the failing node when Status is
// StatusError.
type Result struct {
	Status    Status         `json:"status"`
	Variables map[string]any `json:"variables,omitempty"`
	Err       *NodeError     `json:"-"`
}

// LogLevel classifies an execution log entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelDebug   LogLevel = "debug"
)

// LogEntry is one record in the append-only execution log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	NodeID    string         `json:"nodeId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
