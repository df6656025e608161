package graph

// Pattern traversal and path finding.
//
// Both walks carry visited sets: TraversePattern drops branches whose target
// node is missing (orphan relationships), and FindPaths keeps a per-branch
// visited set so cyclic graphs cannot loop. Cycle safety is a hard
// requirement, not an optimization.

// partial is an in-progress pattern match.
type partial struct {
	frontier string // id of the node the next step extends from
	binding  Binding
}

// TraversePattern extends each start node through the pattern steps and
// returns the complete bindings.
//
// The start node is bound under startVar when non-empty. For each step the
// engine enumerates relationships matching the step's type and direction,
// resolves the target node, applies the step's label filter, and binds the
// relationship and target under the step's variables. A branch whose target
// node is not present terminates silently.
//
// limit <= 0 means unbounded.
func (e *Engine) TraversePattern(startVar string, startNodes []*Node, pattern []PatternStep, limit int) []Binding {
	results := []Binding{}

	for _, start := range startNodes {
		if start == nil {
			continue
		}
		binding := Binding{}
		if startVar != "" {
			binding[startVar] = copyNode(start)
		}
		frontier := []partial{{frontier: start.ID, binding: binding}}

		for _, step := range pattern {
			var next []partial
			for _, p := range frontier {
				for _, rel := range e.GetRelationships(p.frontier, step.Direction, step.RelType) {
					targetID := rel.EndNode
					if rel.EndNode == p.frontier && step.Direction != DirectionOut {
						targetID = rel.StartNode
					}
					target := e.getLiveNode(targetID)
					if target == nil {
						continue // orphan relationship: drop the branch
					}
					if !hasAllLabels(target, step.NodeLabels) {
						continue
					}

					extended := make(Binding, len(p.binding)+2)
					for k, v := range p.binding {
						extended[k] = v
					}
					if step.RelVariable != "" {
						extended[step.RelVariable] = rel
					}
					if step.NodeVariable != "" {
						extended[step.NodeVariable] = copyNode(target)
					}
					next = append(next, partial{frontier: target.ID, binding: extended})
				}
			}
			frontier = next
			if len(frontier) == 0 {
				break
			}
		}

		for _, p := range frontier {
			results = append(results, p.binding)
			if limit > 0 && len(results) >= limit {
				return results
			}
		}
	}
	return results
}

// getLiveNode returns a copy of a node from the node table without going to
// the block store; traversal only follows live nodes.
func (e *Engine) getLiveNode(id string) *Node {
	e.nodeMu.RLock()
	defer e.nodeMu.RUnlock()
	return copyNode(e.nodes[id])
}

// Path is an ordered list of relationships from a start node to an end node.
type Path []*Relationship

// FindPaths runs a breadth-first search over outgoing relationships from
// startID to endID, bounded by maxDepth hops.
//
// Each branch carries its own visited set, so a node appears at most once
// per path and cyclic graphs terminate. Paths of length zero are not
// returned for startID == endID; a path must traverse at least one
// relationship.
func (e *Engine) FindPaths(startID, endID string, maxDepth int, relType string) []Path {
	if maxDepth <= 0 {
		return []Path{}
	}
	if e.getLiveNode(startID) == nil {
		return []Path{}
	}

	type branch struct {
		at      string
		path    Path
		visited map[string]struct{}
	}

	paths := []Path{}
	queue := []branch{{
		at:      startID,
		visited: map[string]struct{}{startID: {}},
	}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.path) >= maxDepth {
			continue
		}
		for _, rel := range e.GetRelationships(cur.at, DirectionOut, relType) {
			target := rel.EndNode
			if e.getLiveNode(target) == nil {
				continue
			}

			path := append(append(Path{}, cur.path...), rel)
			// The end node is checked before the visited set so that cycles
			// back to the start are still reported as paths.
			if target == endID {
				paths = append(paths, path)
				continue
			}
			if _, seen := cur.visited[target]; seen {
				continue
			}

			visited := make(map[string]struct{}, len(cur.visited)+1)
			for k := range cur.visited {
				visited[k] = struct{}{}
			}
			visited[target] = struct{}{}
			queue = append(queue, branch{at: target, path: path, visited: visited})
		}
	}
	return paths
}
