package engine

import (
	"context"
	"net/http"
)

// NodeRunner executes a single node type. Implementations receive the node
// definition, the values gathered on its input ports (absent keys mean the
// port received nothing), and the run's execution context.
//
// Two failure idioms exist and both matter to callers: pure/transform
// runners return an error on invalid configuration or input, which aborts
// the whole run; runners performing external I/O catch their own failure
// and return it as data on a dedicated "error" port so downstream nodes can
// branch on it without the run aborting.
type NodeRunner interface {
	Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error)
}

// NodeType declares a registered node type: its port names, the defaults
// merged under the node's own configuration at graph-build time, and the
// runner invoked by the scheduler.
type NodeType struct {
	Inputs   []string
	Outputs  []string
	Defaults map[string]any
	Runner   NodeRunner
}

// Registry maps node type tags to their declarations. It is consulted once,
// at graph-build time; nodes whose type tag has no entry are silently
// discarded from the graph.
type Registry map[string]NodeType

// Deps carries the external collaborators node runners depend on. Zero
// values fall back to real defaults, so tests can inject only what they
// need.
type Deps struct {
	// HTTPClient performs http_request node calls. Timeouts are applied
	// per attempt via context, not on the client.
	HTTPClient *http.Client

	// Chat performs llm_chat node completions.
	Chat ChatClient

	// Search performs web_search node queries.
	Search SearchClient

	// Sandbox executes code_execution nodes in the isolated lane.
	Sandbox *Sandbox

	// Workflows resolves workflow ids for sub-workflow and loop nodes.
	Workflows WorkflowSource
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// Builtin returns a registry populated with every built-in node type, wired
// to the given dependencies.
func Builtin(deps Deps) Registry {
	reg := Registry{
		"input": {
			Outputs:  []string{DefaultOutputPort},
			Defaults: map[string]any{"name": "", "value": ""},
			Runner:   &InputRunner{},
		},
		"output": {
			Inputs:   []string{DefaultInputPort},
			Outputs:  []string{DefaultOutputPort},
			Defaults: map[string]any{"name": ""},
			Runner:   &OutputRunner{},
		},
		"variable": {
			Inputs:   []string{DefaultInputPort},
			Outputs:  []string{DefaultOutputPort},
			Defaults: map[string]any{"name": "", "value": "", "useInput": false},
			Runner:   &VariableRunner{},
		},
		"clock": {
			Outputs:  []string{DefaultOutputPort},
			Defaults: map[string]any{"format": "iso"},
			Runner:   &ClockRunner{},
		},
		"text_combiner": {
			Inputs:   []string{"input1", "input2", "input3", "input4"},
			Outputs:  []string{DefaultOutputPort},
			Defaults: map[string]any{"template": "", "separator": "\n"},
			Runner:   &TextCombinerRunner{},
		},
		"array": {
			Inputs:   []string{DefaultInputPort},
			Outputs:  []string{DefaultOutputPort},
			Defaults: map[string]any{"operation": "filter", "expression": ""},
			Runner:   &ArrayRunner{},
		},
		"if_condition": {
			Inputs:   []string{DefaultInputPort},
			Outputs:  []string{"true", "false"},
			Defaults: map[string]any{"operator": "", "value": "", "expression": ""},
			Runner:   &IfConditionRunner{},
		},
		"http_request": {
			Inputs:  []string{DefaultInputPort},
			Outputs: []string{DefaultOutputPort, "status", "error"},
			Defaults: map[string]any{
				"method":     http.MethodGet,
				"timeout":    float64(30),
				"retries":    float64(0),
				"retryDelay": float64(1),
			},
			Runner: &HTTPRequestRunner{client: deps.httpClient()},
		},
		"web_search": {
			Inputs:   []string{DefaultInputPort},
			Outputs:  []string{"results", "error"},
			Defaults: map[string]any{"maxResults": float64(5)},
			Runner:   &WebSearchRunner{client: deps.Search},
		},
		"llm_chat": {
			Inputs:  []string{DefaultInputPort},
			Outputs: []string{DefaultOutputPort, "error"},
			Defaults: map[string]any{
				"model":       defaultChatModel,
				"temperature": float64(0.7),
				"maxTokens":   float64(1024),
				"timeout":     float64(60),
				"retries":     float64(0),
				"retryDelay":  float64(1),
			},
			Runner: &LLMChatRunner{client: deps.Chat},
		},
		"code_execution": {
			Inputs:   []string{DefaultInputPort},
			Outputs:  []string{DefaultOutputPort, "console", "error"},
			Defaults: map[string]any{"code": "", "timeout": float64(5)},
			Runner:   &CodeExecutionRunner{sandbox: deps.Sandbox},
		},
	}

	// The sub-workflow runners resolve node types through the same registry
	// they are registered in, so they are added after the map exists.
	reg["workflow"] = NodeType{
		Inputs:   []string{DefaultInputPort},
		Outputs:  []string{DefaultOutputPort},
		Defaults: map[string]any{"workflowId": ""},
		Runner:   &WorkflowRunner{source: deps.Workflows, registry: reg},
	}
	reg["loop"] = NodeType{
		Inputs:   []string{DefaultInputPort},
		Outputs:  []string{DefaultOutputPort},
		Defaults: map[string]any{"workflowId": "", "maxIterations": float64(100)},
		Runner:   &LoopRunner{source: deps.Workflows, registry: reg},
	}
	return reg
}

// inputPorts returns the declared input port names for a node, preferring
// the instance declaration over the type's.
func inputPorts(n Node, t NodeType) []string {
	if len(n.Inputs) > 0 {
		return n.Inputs
	}
	return t.Inputs
}

// outputPorts returns the declared output port names for a node. A node
// with no declaration anywhere gets the sole default output port.
func outputPorts(n Node, t NodeType) []string {
	if len(n.Outputs) > 0 {
		return n.Outputs
	}
	if len(t.Outputs) > 0 {
		return t.Outputs
	}
	return []string{DefaultOutputPort}
}
