package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputRunner(t *testing.T) {
	runner := &InputRunner{}
	ec := NewExecutionContext(nil)

	t.Run("initial input wins over configured value", func(t *testing.T) {
		node := Node{ID: "in", Type: "input", Config: map[string]any{"value": "fallback"}}
		out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: "live"}, ec)
		require.NoError(t, err)
		assert.Equal(t, "live", out)
	})

	t.Run("configured value used when nothing arrives", func(t *testing.T) {
		node := Node{ID: "in", Type: "input", Config: map[string]any{"value": "fallback"}}
		out, err := runner.Run(context.Background(), node, map[string]any{}, ec)
		require.NoError(t, err)
		assert.Equal(t, "fallback", out)
	})

	t.Run("named input publishes a variable", func(t *testing.T) {
		node := Node{ID: "in", Type: "input", Config: map[string]any{"name": "greeting", "value": "hi"}}
		_, err := runner.Run(context.Background(), node, map[string]any{}, ec)
		require.NoError(t, err)
		v, ok := ec.GetVariable("greeting")
		require.True(t, ok)
		assert.Equal(t, "hi", v)
	})
}

func TestOutputRunner_SymbolicName(t *testing.T) {
	runner := &OutputRunner{}

	tests := []struct {
		name    string
		node    Node
		wantKey string
	}{
		{"configured name wins", Node{ID: "o1", Name: "Display", Config: map[string]any{"name": "result"}}, "result"},
		{"node name next", Node{ID: "o2", Name: "Display", Config: map[string]any{}}, "Display"},
		{"id as last resort", Node{ID: "o3", Config: map[string]any{}}, "o3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := NewExecutionContext(nil)
			out, err := runner.Run(context.Background(), tt.node, map[string]any{DefaultInputPort: "v"}, ec)
			require.NoError(t, err)
			assert.Equal(t, "v", out)
			got, ok := ec.GetVariable(tt.wantKey)
			require.True(t, ok)
			assert.Equal(t, "v", got)
		})
	}
}

func TestVariableRunner(t *testing.T) {
	runner := &VariableRunner{}

	t.Run("configured value", func(t *testing.T) {
		ec := NewExecutionContext(nil)
		node := Node{ID: "var", Type: "variable", Config: map[string]any{"name": "myVar", "value": "v", "useInput": false}}

		out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: "ignored"}, ec)

		require.NoError(t, err)
		assert.Equal(t, "v", out)
		got, ok := ec.GetVariable("myVar")
		require.True(t, ok)
		assert.Equal(t, "v", got)
	})

	t.Run("useInput stores the incoming value", func(t *testing.T) {
		ec := NewExecutionContext(nil)
		node := Node{ID: "var", Type: "variable", Config: map[string]any{"name": "myVar", "value": "v", "useInput": true}}

		out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: float64(42)}, ec)

		require.NoError(t, err)
		assert.Equal(t, float64(42), out)
		got, _ := ec.GetVariable("myVar")
		assert.Equal(t, float64(42), got)
	})

	t.Run("missing name fails the run", func(t *testing.T) {
		ec := NewExecutionContext(nil)
		node := Node{ID: "var", Type: "variable", Config: map[string]any{"value": "v"}}

		_, err := runner.Run(context.Background(), node, map[string]any{}, ec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a name")
	})
}

func TestClockRunner(t *testing.T) {
	runner := &ClockRunner{}

	t.Run("iso format", func(t *testing.T) {
		ec := NewExecutionContext(nil)
		node := Node{ID: "clk", Type: "clock", Config: map[string]any{"format": "iso"}}

		out, err := runner.Run(context.Background(), node, nil, ec)

		require.NoError(t, err)
		_, parseErr := time.Parse(time.RFC3339, out.(string))
		assert.NoError(t, parseErr)

		// Generator nodes publish under their own id.
		v, ok := ec.GetVariable("clk")
		require.True(t, ok)
		assert.Equal(t, out, v)
	})

	t.Run("unix format", func(t *testing.T) {
		ec := NewExecutionContext(nil)
		node := Node{ID: "clk", Type: "clock", Config: map[string]any{"format": "unix"}}

		out, err := runner.Run(context.Background(), node, nil, ec)

		require.NoError(t, err)
		secs, ok := out.(float64)
		require.True(t, ok)
		assert.InDelta(t, float64(time.Now().Unix()), secs, 5)
	})
}

func TestTextCombinerRunner(t *testing.T) {
	runner := &TextCombinerRunner{}
	ec := NewExecutionContext(nil)

	t.Run("template replaces placeholders", func(t *testing.T) {
		node := Node{ID: "tc", Config: map[string]any{"template": "{{input1}} meets {{input2}}{{input3}}"}}
		inputs := map[string]any{"input1": "Alice", "input2": "Bob"}

		out, err := runner.Run(context.Background(), node, inputs, ec)

		require.NoError(t, err)
		// Absent ports render as empty text.
		assert.Equal(t, "Alice meets Bob", out)
	})

	t.Run("join mode", func(t *testing.T) {
		node := Node{ID: "tc", Config: map[string]any{"separator": ", "}}
		inputs := map[string]any{"input1": "a", "input2": float64(2), "input4": true}

		out, err := runner.Run(context.Background(), node, inputs, ec)

		require.NoError(t, err)
		assert.Equal(t, "a, 2, true", out)
	})
}

func TestIfConditionRunner_Operators(t *testing.T) {
	runner := &IfConditionRunner{}
	ec := NewExecutionContext(nil)

	tests := []struct {
		name     string
		operator string
		value    any
		input    any
		want     string
	}{
		{"equal strings", "==", "yes", "yes", "true"},
		{"unequal strings", "==", "yes", "no", "false"},
		{"not equals", "!=", "yes", "no", "true"},
		{"numeric greater", ">", float64(5), float64(8), "true"},
		{"numeric less", "<", float64(5), float64(8), "false"},
		{"greater or equal", ">=", float64(5), float64(5), "true"},
		{"contains", "contains", "ell", "hello", "true"},
		{"empty", "empty", nil, "", "true"},
		{"not empty", "not_empty", nil, "text", "true"},
		{"numeric equality across types", "equals", "5", float64(5), "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := Node{ID: "cond", Config: map[string]any{"operator": tt.operator, "value": tt.value}}
			out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: tt.input}, ec)
			require.NoError(t, err)
			record, ok := out.(map[string]any)
			require.True(t, ok)
			got, ok := record[tt.want]
			require.True(t, ok, "expected value on %q port", tt.want)
			assert.Equal(t, tt.input, got)
			_, other := record[oppositePort(tt.want)]
			assert.False(t, other)
		})
	}
}

func oppositePort(port string) string {
	if port == "true" {
		return "false"
	}
	return "true"
}

func TestIfConditionRunner_Expression(t *testing.T) {
	runner := &IfConditionRunner{}
	ec := NewExecutionContext(nil)
	ec.SetVariable("threshold", float64(10))

	node := Node{ID: "cond", Config: map[string]any{"expression": "input > variables.threshold"}}

	out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: float64(15)}, ec)
	require.NoError(t, err)
	record := out.(map[string]any)
	assert.Equal(t, float64(15), record["true"])
}

func TestIfConditionRunner_Errors(t *testing.T) {
	runner := &IfConditionRunner{}
	ec := NewExecutionContext(nil)

	t.Run("unknown operator", func(t *testing.T) {
		node := Node{ID: "cond", Config: map[string]any{"operator": "resembles", "value": "x"}}
		_, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: "x"}, ec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown operator")
	})

	t.Run("no operator and no expression", func(t *testing.T) {
		node := Node{ID: "cond", Config: map[string]any{}}
		_, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: "x"}, ec)
		require.Error(t, err)
	})

	t.Run("broken expression", func(t *testing.T) {
		node := Node{ID: "cond", Config: map[string]any{"expression": "input >"}}
		_, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: "x"}, ec)
		require.Error(t, err)
	})
}

func TestArrayRunner_Filter(t *testing.T) {
	runner := &ArrayRunner{}
	ec := NewExecutionContext(nil)
	node := Node{ID: "arr", Config: map[string]any{"operation": "filter", "expression": "item > 5"}}
	input := []any{float64(3), float64(8), float64(2), float64(10), float64(5), float64(7)}

	out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: input}, ec)

	require.NoError(t, err)
	assert.Equal(t, []any{float64(8), float64(10), float64(7)}, out)
}

func TestArrayRunner_Map(t *testing.T) {
	runner := &ArrayRunner{}
	ec := NewExecutionContext(nil)
	node := Node{ID: "arr", Config: map[string]any{"operation": "map", "expression": "item * 2"}}
	input := []any{float64(1), float64(2), float64(3)}

	out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: input}, ec)

	require.NoError(t, err)
	assert.Equal(t, []any{float64(2), float64(4), float64(6)}, out)
}

func TestArrayRunner_Find(t *testing.T) {
	runner := &ArrayRunner{}
	ec := NewExecutionContext(nil)
	node := Node{ID: "arr", Config: map[string]any{"operation": "find", "expression": "item.length === 3"}}
	input := []any{"hi", "cat", "bird"}

	out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: input}, ec)
	require.NoError(t, err)
	assert.Equal(t, "cat", out)

	node.Config["expression"] = "item.length > 10"
	out, err = runner.Run(context.Background(), node, map[string]any{DefaultInputPort: input}, ec)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestArrayRunner_ExpressionlessOperations(t *testing.T) {
	runner := &ArrayRunner{}
	ec := NewExecutionContext(nil)

	tests := []struct {
		name      string
		operation string
		input     []any
		want      []any
	}{
		{"sort numbers", "sort", []any{float64(3), float64(1), float64(2)}, []any{float64(1), float64(2), float64(3)}},
		{"sort strings", "sort", []any{"pear", "apple"}, []any{"apple", "pear"}},
		{"unique", "unique", []any{float64(1), float64(2), float64(1), float64(3), float64(2)}, []any{float64(1), float64(2), float64(3)}},
		{"flatten one level", "flatten", []any{[]any{float64(1), float64(2)}, float64(3)}, []any{float64(1), float64(2), float64(3)}},
		{"reverse", "reverse", []any{"a", "b", "c"}, []any{"c", "b", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := Node{ID: "arr", Config: map[string]any{"operation": tt.operation}}
			out, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: tt.input}, ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestArrayRunner_Errors(t *testing.T) {
	runner := &ArrayRunner{}
	ec := NewExecutionContext(nil)

	t.Run("non-array input", func(t *testing.T) {
		node := Node{ID: "arr", Config: map[string]any{"operation": "filter", "expression": "item"}}
		_, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: "not an array"}, ec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "array input")
	})

	t.Run("missing expression", func(t *testing.T) {
		node := Node{ID: "arr", Config: map[string]any{"operation": "map"}}
		_, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: []any{}}, ec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires an expression")
	})

	t.Run("unknown operation", func(t *testing.T) {
		node := Node{ID: "arr", Config: map[string]any{"operation": "teleport"}}
		_, err := runner.Run(context.Background(), node, map[string]any{DefaultInputPort: []any{}}, ec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown array operation")
	})
}
