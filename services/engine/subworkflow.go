package engine

import (
	"context"
	"fmt"
)

// WorkflowSource resolves a stored workflow id into its graph. The
// workflow service implements it over the repository.
type WorkflowSource interface {
	LookupWorkflow(ctx context.Context, id string) ([]Node, []Connection, error)
}

const maxSubworkflowDepth = 10

type subworkflowDepthKey struct{}

func subworkflowDepth(ctx context.Context) int {
	if d, ok := ctx.Value(subworkflowDepthKey{}).(int); ok {
		return d
	}
	return 0
}

// WorkflowRunner invokes a stored workflow as one node. The nested run
// gets fresh variables, shares the parent's log, and is driven to a
// terminal state before this node finishes. A nested run ending in error
// fails this node, which aborts the parent run.
type WorkflowRunner struct {
	source   WorkflowSource
	registry Registry
}

func (r *WorkflowRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	workflowID := configString(node.Config, "workflowId")
	if workflowID == "" {
		return nil, fmt.Errorf("workflow node requires a workflowId")
	}
	nodes, connections, err := lookupWorkflow(ctx, r.source, workflowID)
	if err != nil {
		return nil, err
	}

	input, hasInput := inputs[DefaultInputPort]
	ec.AddLog(LevelInfo, fmt.Sprintf("Running sub-workflow %s", workflowID), node.ID, nil)
	return runSubworkflowGraph(ctx, r.registry, ec, nodes, connections, input, hasInput)
}

// LoopRunner runs a stored workflow once per element of its array input
// and collects the projected outputs in order.
type LoopRunner struct {
	source   WorkflowSource
	registry Registry
}

func (r *LoopRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	workflowID := configString(node.Config, "workflowId")
	if workflowID == "" {
		return nil, fmt.Errorf("loop node requires a workflowId")
	}
	arr, ok := inputs[DefaultInputPort].([]any)
	if !ok {
		return nil, fmt.Errorf("loop node requires an array input")
	}

	maxIterations := int(configFloat(node.Config, "maxIterations", 100))
	if maxIterations < 1 {
		maxIterations = 1
	}
	if len(arr) > maxIterations {
		ec.AddLog(LevelWarning, fmt.Sprintf("Loop input truncated to %d iterations", maxIterations), node.ID, nil)
		arr = arr[:maxIterations]
	}

	nodes, connections, err := lookupWorkflow(ctx, r.source, workflowID)
	if err != nil {
		return nil, err
	}

	ec.AddLog(LevelInfo, fmt.Sprintf("Looping sub-workflow %s over %d items", workflowID, len(arr)), node.ID, nil)
	results := make([]any, 0, len(arr))
	for i, item := range arr {
		out, err := runSubworkflowGraph(ctx, r.registry, ec, nodes, connections, item, true)
		if err != nil {
			return nil, fmt.Errorf("loop iteration %d: %w", i, err)
		}
		results = append(results, out)
	}
	return results, nil
}

func lookupWorkflow(ctx context.Context, source WorkflowSource, id string) ([]Node, []Connection, error) {
	if source == nil {
		return nil, nil, fmt.Errorf("workflow lookup is not configured")
	}
	nodes, connections, err := source.LookupWorkflow(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("sub-workflow execution failed: %w", err)
	}
	return nodes, connections, nil
}

// runSubworkflowGraph drives a referenced graph to a terminal state in a
// brand-new execution whose variables are never shared with the parent
// run, then projects the child's output nodes back into one value.
func runSubworkflowGraph(ctx context.Context, reg Registry, ec *ExecutionContext, nodes []Node, connections []Connection, input any, hasInput bool) (any, error) {
	depth := subworkflowDepth(ctx)
	if depth >= maxSubworkflowDepth {
		return nil, fmt.Errorf("sub-workflow nesting exceeds %d levels", maxSubworkflowDepth)
	}
	childCtx := context.WithValue(ctx, subworkflowDepthKey{}, depth+1)

	exec, err := childExecution(childCtx, reg, ec.Log(), nodes, connections, childInitialInputs(nodes, input, hasInput))
	if err != nil {
		return nil, fmt.Errorf("sub-workflow execution failed: %w", err)
	}
	for exec.Advance() {
	}

	res := exec.Result()
	switch res.Status {
	case StatusError:
		return nil, fmt.Errorf("sub-workflow execution failed: %w", res.Err)
	case StatusStopped:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, context.Canceled
	}
	return projectOutputs(nodes, exec), nil
}

// childInitialInputs maps the parent-side input value onto the child's
// input nodes. A single input node receives the value whole; several input
// nodes receive record fields matched by symbolic name, or all receive the
// same value when the input is not a record.
func childInitialInputs(nodes []Node, input any, hasInput bool) map[string]any {
	if !hasInput {
		return nil
	}
	var inputNodes []Node
	for _, n := range nodes {
		if n.Type == "input" {
			inputNodes = append(inputNodes, n)
		}
	}
	switch len(inputNodes) {
	case 0:
		return nil
	case 1:
		return map[string]any{inputNodes[0].ID: input}
	}

	record, ok := input.(map[string]any)
	if !ok {
		out := make(map[string]any, len(inputNodes))
		for _, n := range inputNodes {
			out[n.ID] = input
		}
		return out
	}
	out := make(map[string]any, len(inputNodes))
	for _, n := range inputNodes {
		if v, exists := record[symbolicName(n)]; exists {
			out[n.ID] = v
		}
	}
	return out
}

// projectOutputs re-projects a finished child run through its output
// nodes: one output node returns its value unwrapped, several return a
// record keyed by each output node's symbolic name.
func projectOutputs(nodes []Node, exec *Execution) any {
	outputs := exec.Outputs()
	var outputNodes []Node
	for _, n := range nodes {
		if n.Type == "output" {
			outputNodes = append(outputNodes, n)
		}
	}
	switch len(outputNodes) {
	case 0:
		return nil
	case 1:
		return outputs[outputNodes[0].ID]
	}
	record := make(map[string]any, len(outputNodes))
	for _, n := range outputNodes {
		if v, ok := outputs[n.ID]; ok {
			record[symbolicName(n)] = v
		}
	}
	return record
}
