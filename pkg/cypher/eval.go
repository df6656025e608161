package cypher

import (
	"fmt"
	"strings"

	"github.com/orneryd/ipldgraph/pkg/graph"
)

// evaluate resolves an expression against one binding. Missing variables
// and missing properties resolve to nil rather than erroring; only
// structurally invalid expressions (unknown functions, aggregates outside a
// projection) produce errors.
func (ex *Executor) evaluate(expr Expression, binding graph.Binding, state *executionState) (any, error) {
	switch e := expr.(type) {
	case *Literal:
		return e.Value, nil

	case *Parameter:
		if v, ok := state.params[e.Name]; ok {
			return v, nil
		}
		return nil, nil

	case *VariableRef:
		return binding[e.Name], nil

	case *PropertyAccess:
		switch entity := binding[e.Variable].(type) {
		case *graph.Node:
			return entity.Properties[e.Property], nil
		case *graph.Relationship:
			return entity.Properties[e.Property], nil
		}
		return nil, nil

	case *Comparison:
		left, err := ex.evaluate(e.Left, binding, state)
		if err != nil {
			return nil, err
		}
		right, err := ex.evaluate(e.Right, binding, state)
		if err != nil {
			return nil, err
		}
		return applyComparison(left, e.Operator, right), nil

	case *LogicalOp:
		left, err := ex.evaluate(e.Left, binding, state)
		if err != nil {
			return nil, err
		}
		right, err := ex.evaluate(e.Right, binding, state)
		if err != nil {
			return nil, err
		}
		if e.Operator == "AND" {
			return left == true && right == true, nil
		}
		return left == true || right == true, nil

	case *NotOp:
		v, err := ex.evaluate(e.Expr, binding, state)
		if err != nil {
			return nil, err
		}
		return v != true, nil

	case *FunctionCall:
		if isAggregate(e) {
			return nil, execErrorf("aggregate %s used outside RETURN", e.Name)
		}
		return ex.callScalar(e, binding, state)
	}
	return nil, execErrorf("unsupported expression %T", expr)
}

// callScalar evaluates the small set of non-aggregate builtins.
func (ex *Executor) callScalar(fc *FunctionCall, binding graph.Binding, state *executionState) (any, error) {
	args := make([]any, len(fc.Args))
	for i, arg := range fc.Args {
		v, err := ex.evaluate(arg, binding, state)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch fc.Name {
	case "ID":
		if len(args) == 1 {
			switch entity := args[0].(type) {
			case *graph.Node:
				return entity.ID, nil
			case *graph.Relationship:
				return entity.ID, nil
			}
		}
		return nil, nil
	case "LABELS":
		if len(args) == 1 {
			if node, ok := args[0].(*graph.Node); ok {
				out := make([]any, len(node.Labels))
				for i, l := range node.Labels {
					out[i] = l
				}
				return out, nil
			}
		}
		return nil, nil
	case "TYPE":
		if len(args) == 1 {
			if rel, ok := args[0].(*graph.Relationship); ok {
				return rel.Type, nil
			}
		}
		return nil, nil
	case "TOUPPER":
		if len(args) == 1 {
			if s, ok := args[0].(string); ok {
				return strings.ToUpper(s), nil
			}
		}
		return nil, nil
	case "TOLOWER":
		if len(args) == 1 {
			if s, ok := args[0].(string); ok {
				return strings.ToLower(s), nil
			}
		}
		return nil, nil
	}
	return nil, execErrorf("unknown function %s", fc.Name)
}

// applyComparison implements =, <>, <, <=, >, >= with null propagation:
// any comparison against null yields nil, which filters as false.
func applyComparison(left any, op string, right any) any {
	if left == nil || right == nil {
		return nil
	}
	switch op {
	case "=":
		return graph.ValuesEqual(left, right)
	case "<>":
		return !graph.ValuesEqual(left, right)
	}
	cmp, ok := orderedCompare(left, right)
	if !ok {
		return nil
	}
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return nil
}

// orderedCompare compares two comparable scalars: numbers by magnitude,
// strings lexicographically, booleans false < true.
func orderedCompare(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if as, ok := a.(string); ok {
		bs, bok := b.(string)
		if !bok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if ab, ok := a.(bool); ok {
		bb, bok := b.(bool)
		if !bok {
			return 0, false
		}
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// compareValues is orderedCompare for sorting, with unorderable pairs
// falling back to string rendering so the sort stays total and stable.
func compareValues(a, b any) int {
	if cmp, ok := orderedCompare(a, b); ok {
		return cmp
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
