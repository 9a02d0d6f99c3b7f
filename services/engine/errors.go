package engine

import "errors"

// Validation and lifecycle errors. All are returned synchronously from
// Start before any node executes.
var (
	// ErrNoExecutableNodes means the graph was empty, or every node's type
	// tag was missing from the registry.
	ErrNoExecutableNodes = errors.New("no executable nodes in workflow")

	// ErrCircularReference means the connected subset of the graph contains
	// a cycle.
	ErrCircularReference = errors.New("circular reference detected in workflow")

	// ErrAlreadyRunning means Start was called while another run holds the
	// engine's single run slot.
	ErrAlreadyRunning = errors.New("a workflow is already running")

	// ErrDuplicateNode means two nodes in the graph share an id.
	ErrDuplicateNode = errors.New("duplicate node id")
)

// Sandbox lane errors.
var (
	// ErrSandboxTimeout means no final response arrived from the sandbox
	// lane within the configured timeout.
	ErrSandboxTimeout = errors.New("code execution timed out")

	// ErrSandboxOutputTooLarge means the sandboxed code produced a result
	// above the serialized size bound.
	ErrSandboxOutputTooLarge = errors.New("code execution result exceeds maximum size")

	// ErrSandboxClosed means the sandbox was shut down while a request was
	// pending.
	ErrSandboxClosed = errors.New("sandbox is closed")
)
