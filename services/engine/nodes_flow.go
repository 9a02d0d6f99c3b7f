package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// IfConditionRunner routes its input to the "true" or "false" port. The
// node is configured either with an operator and comparison value, or with
// a free-form expression that sees the input and the run variables.
type IfConditionRunner struct{}

func (r *IfConditionRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	input := inputs[DefaultInputPort]

	var pass bool
	if expr := configString(node.Config, "expression"); expr != "" {
		vm := goja.New()
		vm.Set("input", input)
		vm.Set("variables", ec.Variables())
		v, err := vm.RunString(expr)
		if err != nil {
			return nil, fmt.Errorf("condition expression failed: %w", err)
		}
		pass = v.ToBoolean()
	} else {
		operator := configString(node.Config, "operator")
		if operator == "" {
			return nil, fmt.Errorf("if_condition node requires an operator or expression")
		}
		var err error
		pass, err = evaluateCondition(operator, input, node.Config["value"])
		if err != nil {
			return nil, err
		}
	}

	ec.AddLog(LevelDebug, fmt.Sprintf("Condition evaluated to %t", pass), node.ID, nil)
	if pass {
		return map[string]any{"true": input}, nil
	}
	return map[string]any{"false": input}, nil
}

func evaluateCondition(operator string, input, value any) (bool, error) {
	switch operator {
	case "==", "equals":
		return valuesEqual(input, value), nil
	case "!=", "not_equals":
		return !valuesEqual(input, value), nil
	case ">", "greater_than":
		a, aok := toFloat64(input)
		b, bok := toFloat64(value)
		return aok && bok && a > b, nil
	case ">=", "greater_or_equal":
		a, aok := toFloat64(input)
		b, bok := toFloat64(value)
		return aok && bok && a >= b, nil
	case "<", "less_than":
		a, aok := toFloat64(input)
		b, bok := toFloat64(value)
		return aok && bok && a < b, nil
	case "<=", "less_or_equal":
		a, aok := toFloat64(input)
		b, bok := toFloat64(value)
		return aok && bok && a <= b, nil
	case "contains":
		return strings.Contains(stringify(input), stringify(value)), nil
	case "empty":
		return isEmpty(input), nil
	case "not_empty":
		return !isEmpty(input), nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func valuesEqual(a, b any) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
	}
	return stringify(a) == stringify(b)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// ArrayRunner applies one transform to an array input. The filter, map and
// find operations evaluate the configured expression once per element with
// "item" and "index" bound; sort, unique, flatten and reverse need no
// expression.
type ArrayRunner struct{}

func (r *ArrayRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	arr, ok := inputs[DefaultInputPort].([]any)
	if !ok {
		return nil, fmt.Errorf("array node requires an array input")
	}
	operation := configString(node.Config, "operation")

	switch operation {
	case "filter", "map", "find":
		expression := configString(node.Config, "expression")
		if expression == "" {
			return nil, fmt.Errorf("array %s operation requires an expression", operation)
		}
		return applyArrayExpression(operation, expression, arr, ec.Variables())
	case "sort":
		out := make([]any, len(arr))
		copy(out, arr)
		sort.SliceStable(out, func(i, j int) bool { return valueLess(out[i], out[j]) })
		return out, nil
	case "unique":
		seen := make(map[string]bool, len(arr))
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			key := canonicalKey(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
		return out, nil
	case "flatten":
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			if nested, ok := item.([]any); ok {
				out = append(out, nested...)
			} else {
				out = append(out, item)
			}
		}
		return out, nil
	case "reverse":
		out := make([]any, len(arr))
		for i, item := range arr {
			out[len(arr)-1-i] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown array operation %q", operation)
	}
}

func applyArrayExpression(operation, expression string, arr []any, variables map[string]any) (any, error) {
	prog, err := goja.Compile("expression", expression, false)
	if err != nil {
		return nil, fmt.Errorf("invalid array expression: %w", err)
	}
	vm := goja.New()
	vm.Set("variables", variables)

	out := make([]any, 0, len(arr))
	for i, item := range arr {
		vm.Set("item", item)
		vm.Set("index", i)
		v, err := vm.RunProgram(prog)
		if err != nil {
			return nil, fmt.Errorf("array expression failed: %w", err)
		}
		switch operation {
		case "filter":
			if v.ToBoolean() {
				out = append(out, item)
			}
		case "map":
			mapped, err := exportJSONValue(v)
			if err != nil {
				return nil, err
			}
			out = append(out, mapped)
		case "find":
			if v.ToBoolean() {
				return item, nil
			}
		}
	}
	if operation == "find" {
		return nil, nil
	}
	return out, nil
}

// exportJSONValue converts an interpreter value into the JSON-shaped types
// the rest of the engine moves around.
func exportJSONValue(v goja.Value) (any, error) {
	ex := v.Export()
	if ex == nil {
		return nil, nil
	}
	raw, err := json.Marshal(ex)
	if err != nil {
		return nil, fmt.Errorf("expression result is not serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func valueLess(a, b any) bool {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		return af < bf
	}
	return stringify(a) < stringify(b)
}

func canonicalKey(v any) string {
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprint(v)
}
