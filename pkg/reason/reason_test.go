package reason

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkedGraph() *Graph {
	g := NewGraph()
	g.AddDocument("doc1", []string{"alice", "ipfs"})
	g.AddDocument("doc2", []string{"ipfs", "merkle"})
	g.AddDocument("doc3", []string{"merkle", "bob"})
	g.AddDocument("doc4", []string{"unrelated"})
	return g
}

func TestRelatedDocuments(t *testing.T) {
	g := linkedGraph()
	assert.Equal(t, []string{"doc2"}, g.RelatedDocuments("doc1"))
	assert.Equal(t, []string{"doc1", "doc3"}, g.RelatedDocuments("doc2"))
	assert.Empty(t, g.RelatedDocuments("doc4"))
}

func TestBFSFindsShortestChain(t *testing.T) {
	g := linkedGraph()

	paths := g.FindConnectionsBFS("doc1", "doc3", 3)
	require.NotEmpty(t, paths)
	// Shortest chain first: doc1 -ipfs- doc2 -merkle- doc3.
	assert.Equal(t, Path{"doc1", "ipfs", "doc2", "merkle", "doc3"}, paths[0])
}

func TestBFSHopBound(t *testing.T) {
	g := linkedGraph()
	assert.Empty(t, g.FindConnectionsBFS("doc1", "doc3", 1), "doc3 is two hops away")
	assert.NotEmpty(t, g.FindConnectionsBFS("doc1", "doc3", 2))
}

func TestBFSUnknownOrDisconnected(t *testing.T) {
	g := linkedGraph()
	assert.Empty(t, g.FindConnectionsBFS("ghost", "doc1", 3))
	assert.Empty(t, g.FindConnectionsBFS("doc1", "doc4", 5))
	assert.Empty(t, g.FindConnectionsBFS("doc1", "doc3", 0))
}

func TestDFSFindsSameConnections(t *testing.T) {
	g := linkedGraph()
	bfs := g.FindConnectionsBFS("doc1", "doc3", 3)
	dfs := g.FindConnectionsDFS("doc1", "doc3", 3)
	assert.ElementsMatch(t, bfs, dfs)
}

func TestTraversalTerminatesOnCycles(t *testing.T) {
	g := NewGraph()
	// doc-a and doc-b mention each other's entities both ways.
	g.AddDocument("doc-a", []string{"x", "y"})
	g.AddDocument("doc-b", []string{"x", "y"})
	g.AddDocument("doc-c", []string{"y", "z"})

	paths := g.FindConnectionsBFS("doc-a", "doc-c", 10)
	assert.NotEmpty(t, paths)
	// Each path visits a document at most once.
	for _, p := range paths {
		seen := map[string]int{}
		for i := 0; i < len(p); i += 2 {
			seen[p[i]]++
		}
		for doc, n := range seen {
			assert.Equal(t, 1, n, "document %s repeated in path %v", doc, p)
		}
	}
}

func TestAddDocumentDeduplicates(t *testing.T) {
	g := NewGraph()
	g.AddDocument("d", []string{"e", "e", "f"})
	g.AddDocument("d", []string{"f", "g"})
	assert.Equal(t, []string{"e", "f", "g"}, g.Entities("d"))
}

func TestWordJaccard(t *testing.T) {
	assert.Equal(t, 1.0, WordJaccard("alice in wonderland", "alice in wonderland"))
	assert.Equal(t, 0.0, WordJaccard("alpha", "beta"))
	assert.Equal(t, 0.0, WordJaccard("", "anything"))
	assert.InDelta(t, 1.0/3.0, WordJaccard("alice bob", "bob carol"), 1e-9)
	// Case-insensitive.
	assert.Equal(t, 1.0, WordJaccard("Hello World", "hello world"))
}
