package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Service is the engine facade. It owns the node registry, the shared
// execution log, and the single global run slot: at most one top-level
// workflow runs at a time, and a second Start fails fast with
// ErrAlreadyRunning. Sub-workflow runs started by workflow and loop nodes
// do not occupy the slot.
type Service struct {
	registry Registry
	log      *ExecutionLog
	metrics  *Metrics

	mu      sync.Mutex
	running bool
	current *Execution
}

// NewService builds a Service with the built-in node types wired to deps.
func NewService(deps Deps) *Service {
	s := &Service{
		registry: Builtin(deps),
		log:      NewExecutionLog(),
	}
	return s
}

// SetMetrics attaches run metrics. A nil receiver-safe Metrics is fine.
func (s *Service) SetMetrics(m *Metrics) { s.metrics = m }

// Registry returns the service's node registry.
func (s *Service) Registry() Registry { return s.registry }

// SetDebugMode toggles whether debug-level entries are kept in the shared
// execution log. The setting applies to entries appended after the call.
func (s *Service) SetDebugMode(enabled bool) {
	s.log.SetDebug(enabled)
}

// LogEntries returns a snapshot of the shared execution log, which
// accumulates across runs (including sub-workflow runs) until cleared.
func (s *Service) LogEntries() []LogEntry { return s.log.Entries() }

// ClearLog discards all accumulated log entries.
func (s *Service) ClearLog() { s.log.Clear() }

// IsRunning reports whether the run slot is occupied.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Current returns the execution occupying the run slot, or nil.
func (s *Service) Current() *Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start validates the graph and claims the run slot, returning a stepwise
// Execution handle. No node has executed yet when Start returns; the caller
// drives the run with Advance. Validation failures (no executable nodes,
// circular reference) and an occupied slot leave the engine idle.
func (s *Service) Start(ctx context.Context, nodes []Node, connections []Connection, initialInputs map[string]any) (*Execution, error) {
	return s.StartWithRegistry(ctx, s.registry, nodes, connections, initialInputs)
}

// StartWithRegistry is Start with a caller-supplied registry, letting tests
// and embedders run graphs over a restricted or extended node set.
func (s *Service) StartWithRegistry(ctx context.Context, reg Registry, nodes []Node, connections []Connection, initialInputs map[string]any) (*Execution, error) {
	g, err := buildGraph(nodes, connections, reg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	ec := NewExecutionContext(s.log)
	exec := newExecution(ctx, g, ec, initialInputs, executionHooks{
		nodeExecuted: func(n Node, elapsed time.Duration) {
			s.metrics.ObserveNode(n.Type, elapsed)
		},
		finished: func(res Result) {
			s.release(res)
		},
	})
	s.running = true
	s.current = exec
	s.mu.Unlock()

	s.metrics.RunStarted()
	ec.AddLog(LevelInfo, fmt.Sprintf("Workflow execution started (%d nodes)", len(g.nodes)), "", nil)
	slog.Info("workflow execution started", "execution_id", exec.ID(), "nodes", len(g.nodes))
	return exec, nil
}

// Run drains an execution to its terminal status and returns the result.
// It is the drive-to-completion convenience used by HTTP handlers and the
// scheduler; interactive drivers call Advance themselves.
func (s *Service) Run(ctx context.Context, nodes []Node, connections []Connection, initialInputs map[string]any) (Result, error) {
	exec, err := s.Start(ctx, nodes, connections, initialInputs)
	if err != nil {
		return Result{}, err
	}
	for exec.Advance() {
	}
	return exec.Result(), nil
}

// StopCurrent cancels the run occupying the slot, if any.
func (s *Service) StopCurrent() {
	s.mu.Lock()
	exec := s.current
	s.mu.Unlock()
	if exec != nil {
		exec.Stop()
	}
}

// childExecution builds an execution for a nested sub-workflow run. It
// shares the service log but uses fresh variables and does not touch the
// run slot.
func childExecution(ctx context.Context, reg Registry, log *ExecutionLog, nodes []Node, connections []Connection, initialInputs map[string]any) (*Execution, error) {
	g, err := buildGraph(nodes, connections, reg)
	if err != nil {
		return nil, err
	}
	ec := NewExecutionContext(log)
	return newExecution(ctx, g, ec, initialInputs, executionHooks{}), nil
}

func (s *Service) release(res Result) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	slog.Info("workflow execution finished", "status", string(res.Status))
	s.metrics.RunFinished(string(res.Status))
}
