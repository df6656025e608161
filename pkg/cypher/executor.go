package cypher

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/orneryd/ipldgraph/pkg/graph"
	"github.com/orneryd/ipldgraph/pkg/wal"
)

// Executor runs compiled programs against a graph engine.
//
// Execute never returns an error out of band: the Result always
// materializes and carries the error summary when a stage fails.
// Mutations performed by a query are recorded on the Result so the
// transaction layer can log them to the WAL.
type Executor struct {
	engine *graph.Engine
	logger zerolog.Logger
}

// NewExecutor creates an executor over engine.
func NewExecutor(engine *graph.Engine) *Executor {
	return &Executor{
		engine: engine,
		logger: log.With().Str("component", "cypher").Logger(),
	}
}

// executionState carries per-execution bookkeeping: bound parameters, the
// mutations performed (logged to the WAL by the session layer at commit),
// counters, and the ids already deleted so repeated bindings do not
// double-delete.
type executionState struct {
	params    map[string]any
	mutations []wal.Operation
	counters  Counters
	deleted   map[string]struct{}
}

// Execute parses, compiles, and runs query. Reserved parameter names
// (leading underscore) are rejected before parsing.
func (ex *Executor) Execute(ctx context.Context, query string, params map[string]any) *Result {
	result := &Result{Summary: Summary{Query: query}}

	for name := range params {
		if strings.HasPrefix(name, "_") {
			result.Summary.Error = execErrorf("%v: %q", ErrReservedParameter, name)
			return result
		}
	}

	ast, err := Parse(query)
	if err != nil {
		result.Summary.Error = asQueryError(err, StageParse)
		return result
	}
	program, err := Compile(ast)
	if err != nil {
		result.Summary.Error = asQueryError(err, StageCompile)
		return result
	}

	state := &executionState{
		params:  params,
		deleted: make(map[string]struct{}),
	}
	ex.run(ctx, program, state, result)
	result.Summary.Counters = state.counters
	result.Mutations = state.mutations
	if result.Summary.Error != nil {
		ex.logger.Debug().Str("stage", string(result.Summary.Error.Stage)).Str("query", query).Msg("query failed")
	}
	return result
}

// asQueryError preserves a QueryError or wraps anything else under stage.
func asQueryError(err error, stage Stage) *QueryError {
	if qe, ok := err.(*QueryError); ok {
		return qe
	}
	return &QueryError{Stage: stage, Msg: err.Error()}
}

// run executes the program's operations over a binding stream.
// Cancellation is cooperative at operation boundaries.
func (ex *Executor) run(ctx context.Context, program *Program, state *executionState, result *Result) {
	bindings := []graph.Binding{{}}

	for _, op := range program.Ops {
		if err := ctx.Err(); err != nil {
			result.Summary.Error = execErrorf("query cancelled: %v", err)
			return
		}

		var err error
		switch o := op.(type) {
		case *NodeScanOp:
			bindings, err = ex.runNodeScan(ctx, o, bindings, state)
		case *ExpandOp:
			bindings, err = ex.runExpand(o, bindings, state)
		case *FilterOp:
			bindings, err = ex.runFilter(o, bindings, state)
		case *CreateOp:
			bindings, err = ex.runCreate(ctx, o, bindings, state)
		case *MergeOp:
			bindings, err = ex.runMerge(ctx, o, bindings, state)
		case *DeleteOp:
			bindings, err = ex.runDelete(o, bindings, state)
		case *SetOp:
			bindings, err = ex.runSet(ctx, o, bindings, state)
		case *OrderByOp:
			bindings, err = ex.runOrderBy(o, bindings, state)
		case *SkipOp:
			bindings, err = ex.runSkip(o, bindings, state)
		case *LimitOp:
			bindings, err = ex.runLimit(o, bindings, state)
		case *ProjectOp:
			err = ex.runProject(o, bindings, state, result)
		default:
			err = execErrorf("unsupported operation %T", op)
		}
		if err != nil {
			result.Summary.Error = asQueryError(err, StageExecute)
			return
		}
	}
}

// evalProps resolves a property-expression map to concrete values.
func (ex *Executor) evalProps(props map[string]Expression, binding graph.Binding, state *executionState) (map[string]any, error) {
	if len(props) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(props))
	for k, expr := range props {
		v, err := ex.evaluate(expr, binding, state)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (ex *Executor) runNodeScan(ctx context.Context, op *NodeScanOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	var out []graph.Binding
	for _, binding := range bindings {
		props, err := ex.evalProps(op.Node.Properties, binding, state)
		if err != nil {
			return nil, err
		}
		for _, node := range ex.engine.FindNodes(op.Node.Labels, props, -1) {
			extended := cloneBinding(binding)
			extended[op.Node.Variable] = node
			out = append(out, extended)
		}
	}
	return out, nil
}

func (ex *Executor) runExpand(op *ExpandOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	types := op.Edge.Types
	if len(types) == 0 {
		types = []string{""}
	}

	var out []graph.Binding
	for _, binding := range bindings {
		from, ok := binding[op.From].(*graph.Node)
		if !ok {
			continue // unbound or deleted start: branch ends
		}
		relProps, err := ex.evalProps(op.Edge.Properties, binding, state)
		if err != nil {
			return nil, err
		}
		toProps, err := ex.evalProps(op.To.Properties, binding, state)
		if err != nil {
			return nil, err
		}

		for _, relType := range types {
			step := graph.PatternStep{
				RelType:      relType,
				Direction:    edgeDirection(op.Edge.Direction),
				RelVariable:  op.Edge.Variable,
				NodeVariable: op.To.Variable,
				NodeLabels:   op.To.Labels,
			}
			for _, matched := range ex.engine.TraversePattern("", []*graph.Node{from}, []graph.PatternStep{step}, -1) {
				rel, _ := matched[op.Edge.Variable].(*graph.Relationship)
				target, _ := matched[op.To.Variable].(*graph.Node)
				if rel == nil || target == nil {
					continue
				}
				if !propertiesMatch(rel.Properties, relProps) || !propertiesMatch(target.Properties, toProps) {
					continue
				}
				extended := cloneBinding(binding)
				extended[op.Edge.Variable] = rel
				extended[op.To.Variable] = target
				out = append(out, extended)
			}
		}
	}
	return out, nil
}

func edgeDirection(d EdgeDirection) graph.Direction {
	switch d {
	case EdgeOutgoing:
		return graph.DirectionOut
	case EdgeIncoming:
		return graph.DirectionIn
	}
	return graph.DirectionBoth
}

func propertiesMatch(have, want map[string]any) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || !graph.ValuesEqual(got, v) {
			return false
		}
	}
	return true
}

func (ex *Executor) runFilter(op *FilterOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	var out []graph.Binding
	for _, binding := range bindings {
		v, err := ex.evaluate(op.Expr, binding, state)
		if err != nil {
			return nil, err
		}
		if v == true {
			out = append(out, binding)
		}
	}
	return out, nil
}

func (ex *Executor) runCreate(ctx context.Context, op *CreateOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	var out []graph.Binding
	for _, binding := range bindings {
		extended, err := ex.createPattern(ctx, op.Nodes, op.Edges, binding, state)
		if err != nil {
			return nil, err
		}
		out = append(out, extended)
	}
	return out, nil
}

// createPattern creates the pattern's unbound nodes and all its
// relationships for one binding.
func (ex *Executor) createPattern(ctx context.Context, nodes []NodeSpec, edges []EdgeSpec, binding graph.Binding, state *executionState) (graph.Binding, error) {
	extended := cloneBinding(binding)

	for _, spec := range nodes {
		if _, bound := extended[spec.Variable]; bound {
			continue
		}
		props, err := ex.evalProps(spec.Properties, extended, state)
		if err != nil {
			return nil, err
		}
		node := ex.engine.CreateNode(ctx, spec.Labels, props)
		extended[spec.Variable] = node
		state.counters.NodesCreated++
		state.mutations = append(state.mutations, writeNodeOp(node))
	}

	for i, edge := range edges {
		if len(edge.Types) != 1 {
			return nil, execErrorf("CREATE requires exactly one relationship type")
		}
		startVar, endVar := nodes[i].Variable, nodes[i+1].Variable
		if edge.Direction == EdgeIncoming {
			startVar, endVar = endVar, startVar
		}
		start, ok := extended[startVar].(*graph.Node)
		if !ok {
			return nil, execErrorf("relationship endpoint %q is not a bound node", startVar)
		}
		end, ok := extended[endVar].(*graph.Node)
		if !ok {
			return nil, execErrorf("relationship endpoint %q is not a bound node", endVar)
		}
		props, err := ex.evalProps(edge.Properties, extended, state)
		if err != nil {
			return nil, err
		}
		rel, err := ex.engine.CreateRelationship(ctx, edge.Types[0], start.ID, end.ID, props)
		if err != nil {
			return nil, execErrorf("creating relationship: %v", err)
		}
		extended[edge.Variable] = rel
		state.counters.RelationshipsCreated++
		state.mutations = append(state.mutations, writeRelOp(rel))
	}
	return extended, nil
}

func (ex *Executor) runMerge(ctx context.Context, op *MergeOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	var out []graph.Binding
	for _, binding := range bindings {
		matched, err := ex.matchPattern(op.Nodes, op.Edges, binding, state)
		if err != nil {
			return nil, err
		}
		if len(matched) > 0 {
			out = append(out, matched...)
			continue
		}
		created, err := ex.createPattern(ctx, op.Nodes, op.Edges, binding, state)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

// matchPattern runs the pattern as scan + expands against one binding.
func (ex *Executor) matchPattern(nodes []NodeSpec, edges []EdgeSpec, binding graph.Binding, state *executionState) ([]graph.Binding, error) {
	current := []graph.Binding{binding}

	first := nodes[0]
	if _, bound := binding[first.Variable]; !bound {
		var err error
		current, err = ex.runNodeScan(context.Background(), &NodeScanOp{Node: first}, current, state)
		if err != nil {
			return nil, err
		}
	}
	for i, edge := range edges {
		var err error
		current, err = ex.runExpand(&ExpandOp{From: nodes[i].Variable, Edge: edge, To: nodes[i+1]}, current, state)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func (ex *Executor) runDelete(op *DeleteOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	for _, binding := range bindings {
		for _, variable := range op.Variables {
			value, bound := binding[variable]
			if !bound {
				return nil, execErrorf("DELETE of unbound variable %q", variable)
			}
			switch entity := value.(type) {
			case *graph.Node:
				if _, done := state.deleted[entity.ID]; done {
					continue
				}
				attached := ex.engine.GetRelationships(entity.ID, graph.DirectionBoth, "")
				if len(attached) > 0 && !op.Detach {
					return nil, execErrorf("cannot delete node %s: still has relationships", entity.ID)
				}
				for _, rel := range attached {
					if _, done := state.deleted[rel.ID]; done {
						continue
					}
					ex.engine.DeleteRelationship(rel.ID)
					state.deleted[rel.ID] = struct{}{}
					state.counters.RelationshipsDeleted++
					state.mutations = append(state.mutations, wal.Operation{Type: wal.OpDeleteRel, TargetID: rel.ID})
				}
				ex.engine.DeleteNode(entity.ID)
				state.deleted[entity.ID] = struct{}{}
				state.counters.NodesDeleted++
				state.mutations = append(state.mutations, wal.Operation{Type: wal.OpDeleteNode, TargetID: entity.ID})

			case *graph.Relationship:
				if _, done := state.deleted[entity.ID]; done {
					continue
				}
				ex.engine.DeleteRelationship(entity.ID)
				state.deleted[entity.ID] = struct{}{}
				state.counters.RelationshipsDeleted++
				state.mutations = append(state.mutations, wal.Operation{Type: wal.OpDeleteRel, TargetID: entity.ID})

			default:
				return nil, execErrorf("DELETE of non-entity variable %q", variable)
			}
		}
	}
	return bindings, nil
}

func (ex *Executor) runSet(ctx context.Context, op *SetOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	out := make([]graph.Binding, len(bindings))
	for bi, binding := range bindings {
		extended := cloneBinding(binding)
		for _, item := range op.Items {
			node, ok := extended[item.Variable].(*graph.Node)
			if !ok {
				return nil, execErrorf("SET target %q is not a bound node", item.Variable)
			}
			value, err := ex.evaluate(item.Value, extended, state)
			if err != nil {
				return nil, err
			}
			updated := ex.engine.UpdateNode(ctx, node.ID, map[string]any{item.Property: value})
			if updated == nil {
				return nil, execErrorf("SET on missing node %s", node.ID)
			}
			extended[item.Variable] = updated
			state.counters.PropertiesSet++
			state.mutations = append(state.mutations, writeNodeOp(updated))
		}
		out[bi] = extended
	}
	return out, nil
}

func (ex *Executor) runOrderBy(op *OrderByOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	type keyed struct {
		binding graph.Binding
		keys    []any
	}
	rows := make([]keyed, len(bindings))
	for i, binding := range bindings {
		keys := make([]any, len(op.Keys))
		for ki, key := range op.Keys {
			v, err := ex.evaluate(key.Expression, binding, state)
			if err != nil {
				return nil, err
			}
			keys[ki] = v
		}
		rows[i] = keyed{binding: binding, keys: keys}
	}

	sort.SliceStable(rows, func(a, b int) bool {
		for ki, key := range op.Keys {
			va, vb := rows[a].keys[ki], rows[b].keys[ki]
			// Nulls sort last regardless of direction.
			if va == nil && vb == nil {
				continue
			}
			if va == nil {
				return false
			}
			if vb == nil {
				return true
			}
			cmp := compareValues(va, vb)
			if cmp == 0 {
				continue
			}
			if key.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	out := make([]graph.Binding, len(rows))
	for i, row := range rows {
		out[i] = row.binding
	}
	return out, nil
}

func (ex *Executor) resolveCount(expr Expression, state *executionState, clause string) (int, error) {
	v, err := ex.evaluate(expr, graph.Binding{}, state)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, execErrorf("%s requires a non-negative integer, got %d", clause, n)
		}
		return int(n), nil
	case int:
		if n < 0 {
			return 0, execErrorf("%s requires a non-negative integer, got %d", clause, n)
		}
		return n, nil
	case float64:
		if n < 0 || n != float64(int64(n)) {
			return 0, execErrorf("%s requires a non-negative integer, got %v", clause, n)
		}
		return int(n), nil
	}
	return 0, execErrorf("%s requires an integer, got %T", clause, v)
}

func (ex *Executor) runSkip(op *SkipOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	n, err := ex.resolveCount(op.Count, state, "SKIP")
	if err != nil {
		return nil, err
	}
	if n >= len(bindings) {
		return []graph.Binding{}, nil
	}
	return bindings[n:], nil
}

func (ex *Executor) runLimit(op *LimitOp, bindings []graph.Binding, state *executionState) ([]graph.Binding, error) {
	n, err := ex.resolveCount(op.Count, state, "LIMIT")
	if err != nil {
		return nil, err
	}
	if n < len(bindings) {
		return bindings[:n], nil
	}
	return bindings, nil
}

func (ex *Executor) runProject(op *ProjectOp, bindings []graph.Binding, state *executionState, result *Result) error {
	keys := make([]string, len(op.Items))
	for i, item := range op.Items {
		keys[i] = item.Name
	}
	result.Keys = keys

	hasAggregate := false
	for _, item := range op.Items {
		if isAggregate(item.Expr) {
			hasAggregate = true
			break
		}
	}
	if hasAggregate {
		return ex.projectAggregated(op, bindings, state, result)
	}

	for _, binding := range bindings {
		values := make([]any, len(op.Items))
		for i, item := range op.Items {
			v, err := ex.evaluate(item.Expr, binding, state)
			if err != nil {
				return err
			}
			values[i] = v
		}
		result.Records = append(result.Records, NewRecord(keys, values))
	}
	return nil
}

func cloneBinding(b graph.Binding) graph.Binding {
	out := make(graph.Binding, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}

func writeNodeOp(n *graph.Node) wal.Operation {
	labels := make([]any, len(n.Labels))
	for i, l := range n.Labels {
		labels[i] = l
	}
	return wal.Operation{
		Type:     wal.OpWriteNode,
		TargetID: n.ID,
		Data:     map[string]any{"id": n.ID, "labels": labels, "properties": n.Properties},
	}
}

func writeRelOp(r *graph.Relationship) wal.Operation {
	return wal.Operation{
		Type:     wal.OpWriteRel,
		TargetID: r.ID,
		Data: map[string]any{
			"id": r.ID, "type": r.Type,
			"start_node": r.StartNode, "end_node": r.EndNode,
			"properties": r.Properties,
		},
	}
}
