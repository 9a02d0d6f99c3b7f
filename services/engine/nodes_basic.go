package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InputRunner feeds a run entry point. The value delivered as an initial
// run input wins over the configured fallback value.
type InputRunner struct{}

func (r *InputRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	value, ok := inputs[DefaultInputPort]
	if !ok {
		value = node.Config["value"]
	}
	if name := configString(node.Config, "name"); name != "" {
		ec.SetVariable(name, value)
	}
	ec.AddLog(LevelDebug, fmt.Sprintf("Input node received %s", stringify(value)), node.ID, nil)
	return value, nil
}

// OutputRunner captures its input under the node's symbolic name so the
// final variables and sub-workflow projection can see it, and passes the
// value through unchanged.
type OutputRunner struct{}

func (r *OutputRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	value := inputs[DefaultInputPort]
	ec.SetVariable(symbolicName(node), value)
	return value, nil
}

// VariableRunner stores a value under a configured name. With useInput set
// it stores whatever arrived on its input port, otherwise the configured
// value.
type VariableRunner struct{}

func (r *VariableRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	name := configString(node.Config, "name")
	if name == "" {
		return nil, fmt.Errorf("variable node requires a name")
	}
	var value any
	if configBool(node.Config, "useInput") {
		value = inputs[DefaultInputPort]
	} else {
		value = node.Config["value"]
	}
	ec.SetVariable(name, value)
	return value, nil
}

// ClockRunner emits the current time. As a no-input generator it also
// publishes the value under its own node id so other nodes can reference it
// within the run.
type ClockRunner struct{}

func (r *ClockRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	now := time.Now()
	var value any
	switch configString(node.Config, "format") {
	case "unix":
		value = float64(now.Unix())
	default:
		value = now.Format(time.RFC3339)
	}
	ec.SetVariable(node.ID, value)
	return value, nil
}

// TextCombinerRunner merges up to four inputs into one string. A non-empty
// template replaces {{input1}}..{{input4}} placeholders; otherwise the
// inputs that arrived are joined with the configured separator.
type TextCombinerRunner struct{}

var textCombinerPorts = []string{"input1", "input2", "input3", "input4"}

func (r *TextCombinerRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	template := configString(node.Config, "template")
	if template != "" {
		pairs := make([]string, 0, len(textCombinerPorts)*2)
		for _, port := range textCombinerPorts {
			text := ""
			if v, ok := inputs[port]; ok {
				text = stringify(v)
			}
			pairs = append(pairs, "{{"+port+"}}", text)
		}
		return strings.NewReplacer(pairs...).Replace(template), nil
	}

	separator := configString(node.Config, "separator")
	parts := make([]string, 0, len(textCombinerPorts))
	for _, port := range textCombinerPorts {
		if v, ok := inputs[port]; ok {
			parts = append(parts, stringify(v))
		}
	}
	return strings.Join(parts, separator), nil
}

// symbolicName is the author-facing name of a node: its configured name,
// else its display name, else its id.
func symbolicName(n Node) string {
	if name := configString(n.Config, "name"); name != "" {
		return name
	}
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func configBool(cfg map[string]any, key string) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return false
}

func configFloat(cfg map[string]any, key string, fallback float64) float64 {
	if v, ok := toFloat64(cfg[key]); ok {
		return v
	}
	return fallback
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprint(v)
}
