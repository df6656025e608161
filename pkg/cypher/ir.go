package cypher

// Intermediate representation: an ordered operation list with implicit
// variable bindings. Produced by Compile, consumed by the executor.

// Op is one IR operation.
type Op interface {
	opMarker()
}

// NodeSpec is a compiled node pattern element. Variable is never empty:
// anonymous elements receive generated names during compilation.
type NodeSpec struct {
	Variable   string
	Labels     []string
	Properties map[string]Expression
}

// EdgeSpec is a compiled relationship pattern element.
type EdgeSpec struct {
	Variable   string
	Types      []string
	Direction  EdgeDirection
	Properties map[string]Expression
}

// NodeScanOp seeds the binding stream with nodes matching the spec.
type NodeScanOp struct {
	Node NodeSpec
}

func (o *NodeScanOp) opMarker() {}

// ExpandOp extends each binding along one relationship hop.
type ExpandOp struct {
	From string
	Edge EdgeSpec
	To   NodeSpec
}

func (o *ExpandOp) opMarker() {}

// FilterOp keeps bindings whose expression evaluates to true.
type FilterOp struct {
	Expr Expression
}

func (o *FilterOp) opMarker() {}

// CreateOp creates the pattern's nodes and relationships for each binding.
// Already-bound variables are reused as endpoints.
type CreateOp struct {
	Nodes []NodeSpec
	Edges []EdgeSpec
}

func (o *CreateOp) opMarker() {}

// MergeOp matches the pattern, creating it when no match exists.
type MergeOp struct {
	Nodes []NodeSpec
	Edges []EdgeSpec
}

func (o *MergeOp) opMarker() {}

// DeleteOp removes bound entities. Detach removes a node's relationships
// first; a plain DELETE of a node that still has relationships is an
// execution error.
type DeleteOp struct {
	Variables []string
	Detach    bool
}

func (o *DeleteOp) opMarker() {}

// SetOp applies property assignments to bound entities.
type SetOp struct {
	Items []SetItem
}

func (o *SetOp) opMarker() {}

// OrderByOp sorts the binding stream. Runs before projection; alias
// references in ORDER BY are substituted at compile time.
type OrderByOp struct {
	Keys []OrderItem
}

func (o *OrderByOp) opMarker() {}

// SkipOp drops the first Count bindings.
type SkipOp struct {
	Count Expression
}

func (o *SkipOp) opMarker() {}

// LimitOp keeps at most Count bindings.
type LimitOp struct {
	Count Expression
}

func (o *LimitOp) opMarker() {}

// ProjectOp materializes records from the binding stream. When any item is
// an aggregate, the non-aggregate items become grouping keys.
type ProjectOp struct {
	Items []ProjectionItem
}

func (o *ProjectOp) opMarker() {}

// ProjectionItem is one output column.
type ProjectionItem struct {
	Expr Expression
	Name string
}

// Program is the compiled operation list.
type Program struct {
	Ops []Op
}
