package cypher

import (
	"fmt"
	"strings"

	"github.com/orneryd/ipldgraph/pkg/graph"
)

// projectAggregated materializes an aggregated projection. The grouping key
// is the tuple of non-aggregate projection expressions; when every item is
// an aggregate the whole input forms a single group, and an empty input
// still yields one row.
func (ex *Executor) projectAggregated(op *ProjectOp, bindings []graph.Binding, state *executionState, result *Result) error {
	type group struct {
		keyValues map[int]any
		rows      []graph.Binding
	}

	allAggregates := true
	for _, item := range op.Items {
		if !isAggregate(item.Expr) {
			allAggregates = false
			break
		}
	}

	groups := []*group{}
	index := map[string]*group{}

	for _, binding := range bindings {
		keyParts := []string{}
		keyValues := map[int]any{}
		for i, item := range op.Items {
			if isAggregate(item.Expr) {
				continue
			}
			v, err := ex.evaluate(item.Expr, binding, state)
			if err != nil {
				return err
			}
			keyValues[i] = v
			keyParts = append(keyParts, fmt.Sprintf("%v", v))
		}
		key := strings.Join(keyParts, "\x1f")
		g, ok := index[key]
		if !ok {
			g = &group{keyValues: keyValues}
			index[key] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, binding)
	}

	// All-aggregate projections produce exactly one row, even over no input.
	if allAggregates && len(groups) == 0 {
		groups = append(groups, &group{keyValues: map[int]any{}})
	}

	keys := result.Keys
	for _, g := range groups {
		values := make([]any, len(op.Items))
		for i, item := range op.Items {
			if !isAggregate(item.Expr) {
				values[i] = g.keyValues[i]
				continue
			}
			v, err := ex.aggregate(item.Expr.(*FunctionCall), g.rows, state)
			if err != nil {
				return err
			}
			values[i] = v
		}
		result.Records = append(result.Records, NewRecord(keys, values))
	}
	return nil
}

// aggregate computes one aggregate function over a group's rows.
// Null arguments are skipped; COUNT(*) counts rows.
func (ex *Executor) aggregate(fc *FunctionCall, rows []graph.Binding, state *executionState) (any, error) {
	if fc.Star {
		if fc.Name != "COUNT" {
			return nil, execErrorf("%s(*) is not a valid aggregate", fc.Name)
		}
		return int64(len(rows)), nil
	}
	if len(fc.Args) != 1 {
		return nil, execErrorf("%s takes exactly one argument", fc.Name)
	}

	var values []any
	for _, row := range rows {
		v, err := ex.evaluate(fc.Args[0], row, state)
		if err != nil {
			return nil, err
		}
		if v != nil {
			values = append(values, v)
		}
	}

	switch fc.Name {
	case "COUNT":
		return int64(len(values)), nil

	case "COLLECT":
		out := make([]any, len(values))
		copy(out, values)
		return out, nil

	case "SUM":
		sum := 0.0
		integral := true
		for _, v := range values {
			f, ok := toFloat(v)
			if !ok {
				return nil, execErrorf("SUM over non-numeric value %T", v)
			}
			if f != float64(int64(f)) {
				integral = false
			}
			sum += f
		}
		if integral {
			return int64(sum), nil
		}
		return sum, nil

	case "AVG":
		if len(values) == 0 {
			return nil, nil
		}
		sum := 0.0
		for _, v := range values {
			f, ok := toFloat(v)
			if !ok {
				return nil, execErrorf("AVG over non-numeric value %T", v)
			}
			sum += f
		}
		return sum / float64(len(values)), nil

	case "MIN":
		return extremum(values, -1), nil

	case "MAX":
		return extremum(values, 1), nil
	}
	return nil, execErrorf("unknown aggregate %s", fc.Name)
}

// extremum returns the smallest (sign < 0) or largest (sign > 0) value, or
// nil for an empty set.
func extremum(values []any, sign int) any {
	var best any
	for _, v := range values {
		if best == nil {
			best = v
			continue
		}
		if cmp := compareValues(v, best); cmp*sign > 0 {
			best = v
		}
	}
	return best
}
