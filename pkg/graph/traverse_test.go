package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraversePatternBindsVariables(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	alice := e.CreateNode(ctx, []string{"Person"}, map[string]any{"name": "Alice"})
	bob := e.CreateNode(ctx, []string{"Person"}, map[string]any{"name": "Bob"})
	acme := e.CreateNode(ctx, []string{"Company"}, map[string]any{"name": "Acme"})
	_, err := e.CreateRelationship(ctx, "KNOWS", alice.ID, bob.ID, nil)
	require.NoError(t, err)
	_, err = e.CreateRelationship(ctx, "WORKS_AT", alice.ID, acme.ID, nil)
	require.NoError(t, err)

	pattern := []PatternStep{{
		RelType:      "KNOWS",
		Direction:    DirectionOut,
		RelVariable:  "r",
		NodeVariable: "m",
		NodeLabels:   []string{"Person"},
	}}
	bindings := e.TraversePattern("n", []*Node{alice}, pattern, -1)
	require.Len(t, bindings, 1)

	n := bindings[0]["n"].(*Node)
	m := bindings[0]["m"].(*Node)
	r := bindings[0]["r"].(*Relationship)
	assert.Equal(t, alice.ID, n.ID)
	assert.Equal(t, bob.ID, m.ID)
	assert.Equal(t, "KNOWS", r.Type)
}

func TestTraversePatternLabelFilter(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := e.CreateNode(ctx, nil, nil)
	b := e.CreateNode(ctx, []string{"Person"}, nil)
	c := e.CreateNode(ctx, []string{"Robot"}, nil)
	_, err := e.CreateRelationship(ctx, "R", a.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = e.CreateRelationship(ctx, "R", a.ID, c.ID, nil)
	require.NoError(t, err)

	pattern := []PatternStep{{Direction: DirectionOut, NodeVariable: "m", NodeLabels: []string{"Person"}}}
	bindings := e.TraversePattern("n", []*Node{a}, pattern, -1)
	require.Len(t, bindings, 1)
	assert.Equal(t, b.ID, bindings[0]["m"].(*Node).ID)
}

func TestTraversePatternOrphanBranchTerminates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := e.CreateNode(ctx, nil, nil)
	b := e.CreateNode(ctx, nil, nil)
	_, err := e.CreateRelationship(ctx, "R", a.ID, b.ID, nil)
	require.NoError(t, err)

	// Deleting b orphans the relationship; the branch must vanish silently.
	require.True(t, e.DeleteNode(b.ID))

	pattern := []PatternStep{{Direction: DirectionOut, NodeVariable: "m"}}
	assert.Empty(t, e.TraversePattern("n", []*Node{a}, pattern, -1))
}

func TestTraversePatternMultiHop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := e.CreateNode(ctx, nil, map[string]any{"name": "a"})
	b := e.CreateNode(ctx, nil, map[string]any{"name": "b"})
	c := e.CreateNode(ctx, nil, map[string]any{"name": "c"})
	_, err := e.CreateRelationship(ctx, "R", a.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = e.CreateRelationship(ctx, "R", b.ID, c.ID, nil)
	require.NoError(t, err)

	pattern := []PatternStep{
		{Direction: DirectionOut, NodeVariable: "m1"},
		{Direction: DirectionOut, NodeVariable: "m2"},
	}
	bindings := e.TraversePattern("n", []*Node{a}, pattern, -1)
	require.Len(t, bindings, 1)
	assert.Equal(t, c.ID, bindings[0]["m2"].(*Node).ID)
}

func TestTraversePatternLimit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	hub := e.CreateNode(ctx, nil, nil)
	for i := 0; i < 5; i++ {
		spoke := e.CreateNode(ctx, nil, nil)
		_, err := e.CreateRelationship(ctx, "R", hub.ID, spoke.ID, nil)
		require.NoError(t, err)
	}

	pattern := []PatternStep{{Direction: DirectionOut, NodeVariable: "m"}}
	assert.Len(t, e.TraversePattern("n", []*Node{hub}, pattern, 3), 3)
}

func TestFindPathsBasic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := e.CreateNode(ctx, nil, nil)
	b := e.CreateNode(ctx, nil, nil)
	c := e.CreateNode(ctx, nil, nil)
	r1, err := e.CreateRelationship(ctx, "R", a.ID, b.ID, nil)
	require.NoError(t, err)
	r2, err := e.CreateRelationship(ctx, "R", b.ID, c.ID, nil)
	require.NoError(t, err)

	paths := e.FindPaths(a.ID, c.ID, 3, "")
	require.Len(t, paths, 1)
	require.Len(t, paths[0], 2)
	assert.Equal(t, r1.ID, paths[0][0].ID)
	assert.Equal(t, r2.ID, paths[0][1].ID)
}

func TestFindPathsRespectsMaxDepth(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := e.CreateNode(ctx, nil, nil)
	b := e.CreateNode(ctx, nil, nil)
	c := e.CreateNode(ctx, nil, nil)
	_, err := e.CreateRelationship(ctx, "R", a.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = e.CreateRelationship(ctx, "R", b.ID, c.ID, nil)
	require.NoError(t, err)

	assert.Empty(t, e.FindPaths(a.ID, c.ID, 1, ""))
}

func TestFindPathsSelfHasNoZeroLengthPath(t *testing.T) {
	// A path must traverse at least one relationship; start == end with
	// maxDepth 0 yields nothing.
	e := newTestEngine(t)
	a := e.CreateNode(context.Background(), nil, nil)
	assert.Empty(t, e.FindPaths(a.ID, a.ID, 0, ""))
}

func TestFindPathsCycleTerminates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := e.CreateNode(ctx, nil, nil)
	b := e.CreateNode(ctx, nil, nil)
	_, err := e.CreateRelationship(ctx, "R", a.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = e.CreateRelationship(ctx, "R", b.ID, a.ID, nil)
	require.NoError(t, err)

	// Unreachable target over a cyclic graph must terminate.
	ghost := e.CreateNode(ctx, nil, nil)
	assert.Empty(t, e.FindPaths(a.ID, ghost.ID, 10, ""))

	// Self-cycle a -> b -> a is found as a 2-hop path.
	paths := e.FindPaths(a.ID, a.ID, 10, "")
	require.Len(t, paths, 1)
	assert.Len(t, paths[0], 2)
}

func TestFindPathsTypeFilter(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := e.CreateNode(ctx, nil, nil)
	b := e.CreateNode(ctx, nil, nil)
	_, err := e.CreateRelationship(ctx, "WRONG", a.ID, b.ID, nil)
	require.NoError(t, err)

	assert.Empty(t, e.FindPaths(a.ID, b.ID, 3, "RIGHT"))
	paths := e.FindPaths(a.ID, b.ID, 3, "WRONG")
	assert.Len(t, paths, 1)
}
