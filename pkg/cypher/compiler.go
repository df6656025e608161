package cypher

import "fmt"

// Compile lowers a Query AST to the IR operation list.
//
// Every pattern element without an explicit variable receives a generated
// name "_n<i>", where i is the element's position in a pre-order walk of
// the query's patterns. The generated name is always non-empty, so no
// downstream guard re-checks it.
type compiler struct {
	anon int
}

// Compile lowers query to a Program.
func Compile(query *Query) (*Program, error) {
	c := &compiler{}
	program := &Program{}

	for _, clause := range query.Clauses {
		switch cl := clause.(type) {
		case *MatchClause:
			ops, err := c.compileMatch(cl)
			if err != nil {
				return nil, err
			}
			program.Ops = append(program.Ops, ops...)

		case *CreateClause:
			nodes, edges := c.compilePattern(&cl.Pattern)
			program.Ops = append(program.Ops, &CreateOp{Nodes: nodes, Edges: edges})

		case *MergeClause:
			nodes, edges := c.compilePattern(&cl.Pattern)
			program.Ops = append(program.Ops, &MergeOp{Nodes: nodes, Edges: edges})

		case *DeleteClause:
			program.Ops = append(program.Ops, &DeleteOp{Variables: cl.Variables, Detach: cl.Detach})

		case *SetClause:
			program.Ops = append(program.Ops, &SetOp{Items: cl.Items})

		case *ReturnClause:
			program.Ops = append(program.Ops, c.compileReturn(cl)...)

		default:
			return nil, compileErrorf("unsupported clause %T", clause)
		}
	}
	return program, nil
}

// compilePattern converts pattern elements to specs in pre-order
// (node, edge, node, ...). An element without an explicit variable is named
// "_n<i>" by its pre-order position; the position counter advances for
// every element, named or not, so generated names are stable under edits
// elsewhere in the pattern.
func (c *compiler) compilePattern(pattern *Pattern) ([]NodeSpec, []EdgeSpec) {
	nodes := make([]NodeSpec, len(pattern.Nodes))
	edges := make([]EdgeSpec, len(pattern.Edges))

	name := func(explicit string) string {
		v := explicit
		if v == "" {
			v = fmt.Sprintf("_n%d", c.anon)
		}
		c.anon++
		return v
	}

	for i := range pattern.Nodes {
		np := pattern.Nodes[i]
		nodes[i] = NodeSpec{Variable: name(np.Variable), Labels: np.Labels, Properties: np.Properties}

		if i < len(pattern.Edges) {
			ep := pattern.Edges[i]
			edges[i] = EdgeSpec{Variable: name(ep.Variable), Types: ep.Types, Direction: ep.Direction, Properties: ep.Properties}
		}
	}
	return nodes, edges
}

func (c *compiler) compileMatch(clause *MatchClause) ([]Op, error) {
	nodes, edges := c.compilePattern(&clause.Pattern)

	ops := []Op{&NodeScanOp{Node: nodes[0]}}
	for i, edge := range edges {
		ops = append(ops, &ExpandOp{
			From: nodes[i].Variable,
			Edge: edge,
			To:   nodes[i+1],
		})
	}
	if clause.Where != nil {
		ops = append(ops, &FilterOp{Expr: clause.Where})
	}
	return ops, nil
}

// compileReturn emits OrderBy / Skip / Limit before the projection.
// ORDER BY keys that reference a projection alias are substituted with the
// aliased expression so sorting can run on raw bindings.
func (c *compiler) compileReturn(clause *ReturnClause) []Op {
	items := make([]ProjectionItem, len(clause.Items))
	aliases := make(map[string]Expression)
	for i, item := range clause.Items {
		name := item.Alias
		if name == "" {
			name = expressionName(item.Expression)
		}
		items[i] = ProjectionItem{Expr: item.Expression, Name: name}
		if item.Alias != "" {
			aliases[item.Alias] = item.Expression
		}
	}

	var ops []Op
	if len(clause.OrderBy) > 0 {
		keys := make([]OrderItem, len(clause.OrderBy))
		for i, key := range clause.OrderBy {
			expr := key.Expression
			if ref, ok := expr.(*VariableRef); ok {
				if substituted, found := aliases[ref.Name]; found {
					expr = substituted
				}
			}
			keys[i] = OrderItem{Expression: expr, Descending: key.Descending}
		}
		ops = append(ops, &OrderByOp{Keys: keys})
	}
	if clause.Skip != nil {
		ops = append(ops, &SkipOp{Count: clause.Skip})
	}
	if clause.Limit != nil {
		ops = append(ops, &LimitOp{Count: clause.Limit})
	}
	ops = append(ops, &ProjectOp{Items: items})
	return ops
}

// expressionName renders the default column name for an unaliased
// projection.
func expressionName(expr Expression) string {
	switch e := expr.(type) {
	case *VariableRef:
		return e.Name
	case *PropertyAccess:
		return e.Variable + "." + e.Property
	case *Parameter:
		return "$" + e.Name
	case *FunctionCall:
		if e.Star {
			return e.Name + "(*)"
		}
		if len(e.Args) == 1 {
			return e.Name + "(" + expressionName(e.Args[0]) + ")"
		}
		return e.Name + "(...)"
	case *Literal:
		return fmt.Sprintf("%v", e.Value)
	}
	return "expr"
}
