package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// executionHooks lets the owning Service observe a run without the executor
// knowing about run slots or metrics.
type executionHooks struct {
	nodeExecuted func(node Node, elapsed time.Duration)
	finished     func(res Result)
}

// Execution is the stepwise run-controller for one workflow run. It is a
// single-use handle: Advance moves it forward one node at a time until it
// reaches a terminal status, after which it never executes another node.
//
// The scheduler inside Advance is strictly sequential: never two nodes in
// flight within one run. The driver owns the pacing. It may drain in a tight
// loop, insert delays for visualization, or call Stop at any point.
type Execution struct {
	id    string
	graph *graph
	ec    *ExecutionContext

	ctx    context.Context
	cancel context.CancelFunc

	initialInputs map[string]any
	hooks         executionHooks

	mu       sync.Mutex
	executed map[string]bool
	order    []string
	ports    map[string]map[string]any
	raw      map[string]any
	current  string
	result   *Result

	stopRequested atomic.Bool
}

func newExecution(parent context.Context, g *graph, ec *ExecutionContext, initialInputs map[string]any, hooks executionHooks) *Execution {
	ctx, cancel := context.WithCancel(parent)
	return &Execution{
		id:            uuid.NewString(),
		graph:         g,
		ec:            ec,
		ctx:           ctx,
		cancel:        cancel,
		initialInputs: initialInputs,
		hooks:         hooks,
		executed:      make(map[string]bool),
		ports:         make(map[string]map[string]any),
		raw:           make(map[string]any),
	}
}

// ID returns the unique id of this run.
func (e *Execution) ID() string { return e.id }

// Advance executes the next ready node and reports whether it did. It
// returns false once the run has reached a terminal status; Result then
// describes the outcome. Calling Advance again after that is a no-op.
//
// A node is ready when every node feeding one of its declared input ports
// has executed. Among several ready nodes the earliest in insertion order
// wins, so step order is deterministic for a given graph.
func (e *Execution) Advance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.result != nil {
		return false
	}
	if e.stopRequested.Load() || e.ctx.Err() != nil {
		e.finishLocked(StatusStopped, nil)
		return false
	}

	node, ok := e.nextReadyLocked()
	if !ok {
		e.finishLocked(StatusCompleted, nil)
		return false
	}

	t := e.graph.types[node.ID]
	inputs := e.gatherInputsLocked(node)

	started := time.Now()
	out, err := t.Runner.Run(e.ctx, node, inputs, e.ec)
	elapsed := time.Since(started)

	if err != nil {
		// A failure caused by Stop cancelling the run context is a stop,
		// not a node error.
		if e.stopRequested.Load() || errors.Is(err, context.Canceled) {
			e.finishLocked(StatusStopped, nil)
			return false
		}
		e.ec.AddLog(LevelError, fmt.Sprintf("Node %s failed: %v", displayName(node), err), node.ID, nil)
		e.finishLocked(StatusError, &NodeError{NodeID: node.ID, Err: err})
		return false
	}

	e.recordLocked(node, t, out)
	e.executed[node.ID] = true
	e.order = append(e.order, node.ID)
	e.current = node.ID
	e.ec.AddLog(LevelSuccess, fmt.Sprintf("Node %s executed", displayName(node)), node.ID, nil)
	if e.hooks.nodeExecuted != nil {
		e.hooks.nodeExecuted(node, elapsed)
	}
	return true
}

// Stop requests cancellation. The next Advance returns false with status
// StatusStopped. An in-flight node is not forcibly interrupted, but the run
// context is cancelled, which actively aborts external calls and the
// sandbox lane.
func (e *Execution) Stop() {
	e.stopRequested.Store(true)
	e.cancel()
}

// Done reports whether the run has reached a terminal status.
func (e *Execution) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result != nil
}

// Result returns the terminal outcome. Before the run finishes it reports
// StatusRunning with a live snapshot of the variables.
func (e *Execution) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return Result{Status: StatusRunning, Variables: e.ec.Variables()}
	}
	return *e.result
}

// CurrentNodeID returns the id of the most recently executed node, or ""
// when none has executed yet.
func (e *Execution) CurrentNodeID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Executed returns the ids of executed nodes in execution order.
func (e *Execution) Executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Outputs returns a copy of the per-node output table: the latest value
// each executed node produced, as returned by its runner. Drivers use it to
// render results on output-style nodes while a run is in progress.
func (e *Execution) Outputs() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(e.raw))
	for k, v := range e.raw {
		out[k] = v
	}
	return out
}

// Context returns the run's execution context.
func (e *Execution) Context() *ExecutionContext { return e.ec }

func (e *Execution) nextReadyLocked() (Node, bool) {
	for _, n := range e.graph.nodes {
		if e.executed[n.ID] {
			continue
		}
		ready := true
		for _, src := range e.graph.feeders[n.ID] {
			if !e.executed[src] {
				ready = false
				break
			}
		}
		if ready {
			return n, true
		}
	}
	return Node{}, false
}

// gatherInputsLocked reads the latest recorded output on every connected
// source port of the node's declared input ports. A source port that
// produced nothing this run leaves the input absent. When several
// connections feed the same input port, the last one in insertion order
// wins. Initial run inputs are delivered on the default input port when it
// is not fed by a connection.
func (e *Execution) gatherInputsLocked(n Node) map[string]any {
	declared := inputPorts(n, e.graph.types[n.ID])
	in := make(map[string]any)
	for _, c := range e.graph.inbound[n.ID] {
		if !containsPort(declared, c.TargetPort) {
			continue
		}
		srcPorts, ok := e.ports[c.Source]
		if !ok {
			continue
		}
		v, ok := srcPorts[c.SourcePort]
		if !ok {
			continue
		}
		in[c.TargetPort] = v
	}
	if v, ok := e.initialInputs[n.ID]; ok {
		if _, connected := in[DefaultInputPort]; !connected {
			in[DefaultInputPort] = v
		}
	}
	return in
}

// recordLocked distributes a runner result to the node's declared output
// ports. A map result on a node with several declared outputs is routed by
// key; keys missing from the map mean that port produces nothing this run.
// Anything else lands whole on the first declared port.
func (e *Execution) recordLocked(n Node, t NodeType, out any) {
	e.raw[n.ID] = out
	declared := outputPorts(n, t)
	dist := make(map[string]any, len(declared))
	if m, ok := out.(map[string]any); ok && len(declared) > 1 {
		for _, p := range declared {
			if v, exists := m[p]; exists {
				dist[p] = v
			}
		}
	} else {
		dist[declared[0]] = out
	}
	e.ports[n.ID] = dist
}

func (e *Execution) finishLocked(status Status, nerr *NodeError) {
	if e.result != nil {
		return
	}
	res := Result{Status: status, Variables: e.ec.Variables(), Err: nerr}
	e.result = &res
	e.cancel()

	switch status {
	case StatusCompleted:
		e.ec.AddLog(LevelSuccess, fmt.Sprintf("Workflow execution completed (%d nodes)", len(e.order)), "", nil)
	case StatusStopped:
		e.ec.AddLog(LevelWarning, "Workflow execution stopped", "", nil)
	case StatusError:
		e.ec.AddLog(LevelError, fmt.Sprintf("Workflow execution failed: %v", nerr), nerr.NodeID, nil)
	}
	if e.hooks.finished != nil {
		e.hooks.finished(res)
	}
}

func displayName(n Node) string {
	if n.Name != "" {
		return fmt.Sprintf("%q (%s)", n.Name, n.Type)
	}
	return fmt.Sprintf("%q (%s)", n.ID, n.Type)
}
