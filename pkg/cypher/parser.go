package cypher

import (
	"strconv"
	"strings"
)

// Parse builds a Query AST from Cypher source. Empty input is a parse error.
func Parse(src string) (*Query, error) {
	if strings.TrimSpace(src) == "" {
		return nil, parseErrorf("empty query")
	}
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	query := &Query{}

	for !p.atEOF() {
		tok := p.peek()
		if tok.Kind != TokenKeyword {
			return nil, parseErrorf("expected clause keyword, got %s at %d", tok, tok.Pos)
		}

		switch tok.Keyword() {
		case "MATCH":
			p.next()
			clause, err := p.parseMatch(false)
			if err != nil {
				return nil, err
			}
			query.Clauses = append(query.Clauses, clause)

		case "OPTIONAL":
			p.next()
			if !p.acceptKeyword("MATCH") {
				return nil, parseErrorf("expected MATCH after OPTIONAL at %d", tok.Pos)
			}
			clause, err := p.parseMatch(true)
			if err != nil {
				return nil, err
			}
			query.Clauses = append(query.Clauses, clause)

		case "CREATE":
			p.next()
			pattern, err := p.parsePattern()
			if err != nil {
				return nil, err
			}
			query.Clauses = append(query.Clauses, &CreateClause{Pattern: *pattern})

		case "MERGE":
			p.next()
			pattern, err := p.parsePattern()
			if err != nil {
				return nil, err
			}
			query.Clauses = append(query.Clauses, &MergeClause{Pattern: *pattern})

		case "DETACH":
			p.next()
			if !p.acceptKeyword("DELETE") {
				return nil, parseErrorf("expected DELETE after DETACH at %d", tok.Pos)
			}
			clause, err := p.parseDelete(true)
			if err != nil {
				return nil, err
			}
			query.Clauses = append(query.Clauses, clause)

		case "DELETE":
			p.next()
			clause, err := p.parseDelete(false)
			if err != nil {
				return nil, err
			}
			query.Clauses = append(query.Clauses, clause)

		case "SET":
			p.next()
			clause, err := p.parseSet()
			if err != nil {
				return nil, err
			}
			query.Clauses = append(query.Clauses, clause)

		case "RETURN":
			p.next()
			clause, err := p.parseReturn()
			if err != nil {
				return nil, err
			}
			query.Clauses = append(query.Clauses, clause)

		case "WHERE":
			// A free-standing WHERE attaches to the preceding MATCH.
			p.next()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := attachWhere(query, expr); err != nil {
				return nil, err
			}

		default:
			return nil, parseErrorf("unexpected keyword %q at %d", tok.Text, tok.Pos)
		}
	}

	if len(query.Clauses) == 0 {
		return nil, parseErrorf("query has no clauses")
	}
	return query, nil
}

func attachWhere(query *Query, expr Expression) error {
	for i := len(query.Clauses) - 1; i >= 0; i-- {
		if m, ok := query.Clauses[i].(*MatchClause); ok {
			if m.Where != nil {
				m.Where = &LogicalOp{Operator: "AND", Left: m.Where, Right: expr}
			} else {
				m.Where = expr
			}
			return nil
		}
	}
	return parseErrorf("WHERE without a preceding MATCH")
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) next() Token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) atEOF() bool {
	return p.tokens[p.pos].Kind == TokenEOF
}

func (p *parser) acceptPunct(text string) bool {
	if t := p.peek(); t.Kind == TokenPunct && t.Text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptKeyword(kw string) bool {
	if t := p.peek(); t.Kind == TokenKeyword && t.Keyword() == kw {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectPunct(text string) error {
	if !p.acceptPunct(text) {
		t := p.peek()
		return parseErrorf("expected %q, got %s at %d", text, t, t.Pos)
	}
	return nil
}

func (p *parser) parseMatch(optional bool) (*MatchClause, error) {
	pattern, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	clause := &MatchClause{Pattern: *pattern, Optional: optional}
	if p.acceptKeyword("WHERE") {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		clause.Where = expr
	}
	return clause, nil
}

func (p *parser) parseDelete(detach bool) (*DeleteClause, error) {
	clause := &DeleteClause{Detach: detach}
	for {
		t := p.peek()
		if t.Kind != TokenIdent {
			return nil, parseErrorf("expected variable in DELETE, got %s at %d", t, t.Pos)
		}
		p.next()
		clause.Variables = append(clause.Variables, t.Text)
		if !p.acceptPunct(",") {
			break
		}
	}
	return clause, nil
}

func (p *parser) parseSet() (*SetClause, error) {
	clause := &SetClause{}
	for {
		t := p.peek()
		if t.Kind != TokenIdent {
			return nil, parseErrorf("expected variable in SET, got %s at %d", t, t.Pos)
		}
		p.next()
		if err := p.expectPunct("."); err != nil {
			return nil, err
		}
		prop := p.peek()
		if prop.Kind != TokenIdent && prop.Kind != TokenKeyword {
			return nil, parseErrorf("expected property name, got %s at %d", prop, prop.Pos)
		}
		p.next()
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		clause.Items = append(clause.Items, SetItem{Variable: t.Text, Property: prop.Text, Value: value})
		if !p.acceptPunct(",") {
			break
		}
	}
	return clause, nil
}

func (p *parser) parseReturn() (*ReturnClause, error) {
	clause := &ReturnClause{}
	p.acceptKeyword("DISTINCT") // accepted; projection dedup not modeled

	for {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		item := ReturnItem{Expression: expr}
		if p.acceptKeyword("AS") {
			alias := p.peek()
			if alias.Kind != TokenIdent {
				return nil, parseErrorf("expected alias after AS, got %s at %d", alias, alias.Pos)
			}
			p.next()
			item.Alias = alias.Text
		}
		clause.Items = append(clause.Items, item)
		if !p.acceptPunct(",") {
			break
		}
	}

	if p.acceptKeyword("ORDER") {
		if !p.acceptKeyword("BY") {
			return nil, parseErrorf("expected BY after ORDER at %d", p.peek().Pos)
		}
		for {
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expression: expr}
			if p.acceptKeyword("DESC") {
				item.Descending = true
			} else {
				p.acceptKeyword("ASC")
			}
			clause.OrderBy = append(clause.OrderBy, item)
			if !p.acceptPunct(",") {
				break
			}
		}
	}

	if p.acceptKeyword("SKIP") {
		expr, err := p.parseCountExpression("SKIP")
		if err != nil {
			return nil, err
		}
		clause.Skip = expr
	}
	if p.acceptKeyword("LIMIT") {
		expr, err := p.parseCountExpression("LIMIT")
		if err != nil {
			return nil, err
		}
		clause.Limit = expr
	}
	return clause, nil
}

// parseCountExpression accepts a non-negative integer literal or a
// parameter for SKIP / LIMIT.
func (p *parser) parseCountExpression(clause string) (Expression, error) {
	t := p.peek()
	switch t.Kind {
	case TokenInt:
		p.next()
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil || n < 0 {
			return nil, parseErrorf("%s requires a non-negative integer, got %q", clause, t.Text)
		}
		return &Literal{Value: n}, nil
	case TokenParam:
		p.next()
		return &Parameter{Name: t.Text}, nil
	}
	return nil, parseErrorf("%s requires an integer or parameter, got %s at %d", clause, t, t.Pos)
}

// parsePattern parses node (edge node)* .
func (p *parser) parsePattern() (*Pattern, error) {
	pattern := &Pattern{}

	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	pattern.Nodes = append(pattern.Nodes, *node)

	for {
		edge, ok, err := p.parseEdgePattern()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		next, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		pattern.Edges = append(pattern.Edges, *edge)
		pattern.Nodes = append(pattern.Nodes, *next)
	}
	return pattern, nil
}

func (p *parser) parseNodePattern() (*NodePattern, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	node := &NodePattern{}

	if t := p.peek(); t.Kind == TokenIdent {
		node.Variable = t.Text
		p.next()
	}
	for p.acceptPunct(":") {
		t := p.peek()
		if t.Kind != TokenIdent && t.Kind != TokenKeyword {
			return nil, parseErrorf("expected label, got %s at %d", t, t.Pos)
		}
		p.next()
		node.Labels = append(node.Labels, t.Text)
	}
	if t := p.peek(); t.Kind == TokenPunct && t.Text == "{" {
		props, err := p.parsePropertyMap()
		if err != nil {
			return nil, err
		}
		node.Properties = props
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return node, nil
}

// parseEdgePattern recognizes -[...]->, <-[...]-, -[...]-, --> and <--.
// Returns ok=false when the next tokens do not start an edge.
func (p *parser) parseEdgePattern() (*EdgePattern, bool, error) {
	edge := &EdgePattern{Direction: EdgeBoth}
	start := p.pos

	switch {
	case p.acceptPunct("<-"):
		edge.Direction = EdgeIncoming
	case p.acceptPunct("-"):
		// direction resolved by the trailing arrow
	default:
		return nil, false, nil
	}

	if p.acceptPunct("[") {
		if t := p.peek(); t.Kind == TokenIdent {
			edge.Variable = t.Text
			p.next()
		}
		if p.acceptPunct(":") {
			for {
				t := p.peek()
				if t.Kind != TokenIdent && t.Kind != TokenKeyword {
					return nil, false, parseErrorf("expected relationship type, got %s at %d", t, t.Pos)
				}
				p.next()
				edge.Types = append(edge.Types, t.Text)
				if !p.acceptPunct("|") {
					break
				}
			}
		}
		if t := p.peek(); t.Kind == TokenPunct && t.Text == "{" {
			props, err := p.parsePropertyMap()
			if err != nil {
				return nil, false, err
			}
			edge.Properties = props
		}
		if err := p.expectPunct("]"); err != nil {
			return nil, false, err
		}
	}

	switch {
	case p.acceptPunct("->"):
		if edge.Direction == EdgeIncoming {
			return nil, false, parseErrorf("relationship cannot point both ways at %d", p.peek().Pos)
		}
		edge.Direction = EdgeOutgoing
	case p.acceptPunct("-"):
		// keep EdgeIncoming from a leading <-, otherwise undirected
	default:
		// Not an edge after all; rewind.
		p.pos = start
		return nil, false, nil
	}
	return edge, true, nil
}

func (p *parser) parsePropertyMap() (map[string]Expression, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	props := make(map[string]Expression)
	if p.acceptPunct("}") {
		return props, nil
	}
	for {
		key := p.peek()
		if key.Kind != TokenIdent && key.Kind != TokenKeyword {
			return nil, parseErrorf("expected property key, got %s at %d", key, key.Pos)
		}
		p.next()
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		props[key.Text] = value
		if p.acceptPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return props, nil
}

// Expression grammar, loosest binding first: OR, AND, NOT, comparison,
// primary.

func (p *parser) parseExpression() (Expression, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalOp{Operator: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &LogicalOp{Operator: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expression, error) {
	if p.acceptKeyword("NOT") {
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotOp{Expr: expr}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]struct{}{
	"=": {}, "<>": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
}

func (p *parser) parseComparison() (Expression, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Kind == TokenPunct {
		if _, ok := comparisonOps[t.Text]; ok {
			p.next()
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return &Comparison{Left: left, Operator: t.Text, Right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parsePrimary() (Expression, error) {
	t := p.peek()

	switch t.Kind {
	case TokenString:
		p.next()
		return &Literal{Value: t.Text}, nil

	case TokenInt:
		p.next()
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, parseErrorf("invalid integer %q at %d", t.Text, t.Pos)
		}
		return &Literal{Value: n}, nil

	case TokenFloat:
		p.next()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, parseErrorf("invalid float %q at %d", t.Text, t.Pos)
		}
		return &Literal{Value: f}, nil

	case TokenParam:
		p.next()
		return &Parameter{Name: t.Text}, nil

	case TokenKeyword:
		switch t.Keyword() {
		case "TRUE":
			p.next()
			return &Literal{Value: true}, nil
		case "FALSE":
			p.next()
			return &Literal{Value: false}, nil
		case "NULL":
			p.next()
			return &Literal{Value: nil}, nil
		case "NOT":
			return p.parseNot()
		}
		return nil, parseErrorf("unexpected keyword %q in expression at %d", t.Text, t.Pos)

	case TokenIdent:
		p.next()
		if n := p.peek(); n.Kind == TokenPunct && n.Text == "(" {
			return p.parseFunctionCall(t.Text)
		}
		if p.acceptPunct(".") {
			prop := p.peek()
			if prop.Kind != TokenIdent && prop.Kind != TokenKeyword {
				return nil, parseErrorf("expected property after '.', got %s at %d", prop, prop.Pos)
			}
			p.next()
			return &PropertyAccess{Variable: t.Text, Property: prop.Text}, nil
		}
		return &VariableRef{Name: t.Text}, nil

	case TokenPunct:
		if t.Text == "(" {
			p.next()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return expr, nil
		}
	}
	return nil, parseErrorf("unexpected token %s at %d", t, t.Pos)
}

func (p *parser) parseFunctionCall(name string) (Expression, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	fc := &FunctionCall{Name: strings.ToUpper(name)}

	if p.acceptPunct("*") {
		fc.Star = true
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return fc, nil
	}
	if p.acceptPunct(")") {
		return fc, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		fc.Args = append(fc.Args, arg)
		if !p.acceptPunct(",") {
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return fc, nil
}
