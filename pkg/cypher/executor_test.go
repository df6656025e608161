package cypher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/ipldgraph/pkg/blockstore"
	"github.com/orneryd/ipldgraph/pkg/graph"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	engine := graph.NewEngine(graph.Options{Store: blockstore.NewMemoryStore()})
	return NewExecutor(engine)
}

func run(t *testing.T, ex *Executor, query string, params map[string]any) *Result {
	t.Helper()
	result := ex.Execute(context.Background(), query, params)
	require.NoError(t, result.Err(), "query %q", query)
	return result
}

func TestCreateReturnsProjection(t *testing.T) {
	ex := newTestExecutor(t)

	result := run(t, ex, "CREATE (n:Person {name:'Alice', age:30}) RETURN n.name", nil)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Alice", result.Records[0].Value("n.name"))
	assert.Equal(t, 1, result.Summary.Counters.NodesCreated)
	require.Len(t, result.Mutations, 1)
}

func TestCreateMatchDeleteRoundTrip(t *testing.T) {
	ex := newTestExecutor(t)

	run(t, ex, "CREATE (n:Person {name:'Alice', age:30})", nil)

	result := run(t, ex, "MATCH (n:Person {name:'Alice'}) RETURN n.age", nil)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(30), result.Records[0].Value("n.age"))

	result = run(t, ex, "MATCH (n:Person {name:'Alice'}) DETACH DELETE n", nil)
	assert.Equal(t, 1, result.Summary.Counters.NodesDeleted)

	result = run(t, ex, "MATCH (n:Person {name:'Alice'}) RETURN n.age", nil)
	assert.Empty(t, result.Records)
}

func TestMatchRelationshipPattern(t *testing.T) {
	ex := newTestExecutor(t)

	run(t, ex, "CREATE (a:Person {name:'Alice'})-[:KNOWS {since: 2020}]->(b:Person {name:'Bob'})", nil)

	result := run(t, ex, "MATCH (a:Person)-[r:KNOWS]->(b:Person) RETURN a.name, r.since, b.name", nil)
	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "Alice", rec.Value("a.name"))
	assert.Equal(t, int64(2020), rec.Value("r.since"))
	assert.Equal(t, "Bob", rec.Value("b.name"))

	// Direction matters: nothing points at Alice.
	result = run(t, ex, "MATCH (a:Person {name:'Alice'})<-[r:KNOWS]-(b) RETURN b.name", nil)
	assert.Empty(t, result.Records)
}

func TestWhereComparisonAndLogic(t *testing.T) {
	ex := newTestExecutor(t)

	run(t, ex, "CREATE (n:P {name:'A', age:30})", nil)
	run(t, ex, "CREATE (n:P {name:'B', age:25})", nil)
	run(t, ex, "CREATE (n:P {name:'C', age:40})", nil)

	result := run(t, ex, "MATCH (n:P) WHERE n.age > 25 AND NOT n.name = 'C' RETURN n.name", nil)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "A", result.Records[0].Value("n.name"))

	result = run(t, ex, "MATCH (n:P) WHERE n.age < 26 OR n.age >= 40 RETURN n.name ORDER BY n.name", nil)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "B", result.Records[0].Value("n.name"))
	assert.Equal(t, "C", result.Records[1].Value("n.name"))
}

func TestOrderByNullsLast(t *testing.T) {
	ex := newTestExecutor(t)

	run(t, ex, "CREATE (n:P {name:'A', age:30})", nil)
	run(t, ex, "CREATE (n:P {name:'B', age:25})", nil)
	run(t, ex, "CREATE (n:P {name:'E'})", nil)

	result := run(t, ex, "MATCH (n:P) RETURN n.name, n.age ORDER BY n.age", nil)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "B", result.Records[0].Value("n.name"))
	assert.Equal(t, int64(25), result.Records[0].Value("n.age"))
	assert.Equal(t, "A", result.Records[1].Value("n.name"))
	assert.Equal(t, "E", result.Records[2].Value("n.name"))
	assert.Nil(t, result.Records[2].Value("n.age"))

	// Nulls stay last under DESC too.
	result = run(t, ex, "MATCH (n:P) RETURN n.name ORDER BY n.age DESC", nil)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "A", result.Records[0].Value("n.name"))
	assert.Equal(t, "B", result.Records[1].Value("n.name"))
	assert.Equal(t, "E", result.Records[2].Value("n.name"))
}

func TestOrderBySkipLimitWindow(t *testing.T) {
	ex := newTestExecutor(t)

	for _, age := range []int{25, 28, 30, 35} {
		ex.Execute(context.Background(), "CREATE (n:P {age: $age})", map[string]any{"age": age})
	}

	result := run(t, ex, "MATCH (n:P) RETURN n.age ORDER BY n.age SKIP 1 LIMIT 2", nil)
	require.Len(t, result.Records, 2)
	assert.Equal(t, 28, result.Records[0].Value("n.age"))
	assert.Equal(t, 30, result.Records[1].Value("n.age"))
}

func TestSkipLimitParameters(t *testing.T) {
	ex := newTestExecutor(t)
	for _, age := range []int{1, 2, 3} {
		ex.Execute(context.Background(), "CREATE (n:P {age: $age})", map[string]any{"age": age})
	}

	result := run(t, ex, "MATCH (n:P) RETURN n.age ORDER BY n.age SKIP $s LIMIT $l",
		map[string]any{"s": 1, "l": 1})
	require.Len(t, result.Records, 1)
	assert.Equal(t, 2, result.Records[0].Value("n.age"))
}

func TestAggregates(t *testing.T) {
	ex := newTestExecutor(t)

	run(t, ex, "CREATE (n:P {city:'Oslo', age:30})", nil)
	run(t, ex, "CREATE (n:P {city:'Oslo', age:20})", nil)
	run(t, ex, "CREATE (n:P {city:'Bergen', age:40})", nil)

	// All-aggregate projection collapses to one row.
	result := run(t, ex, "MATCH (n:P) RETURN count(*), sum(n.age), avg(n.age), min(n.age), max(n.age)", nil)
	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, int64(3), rec.Index(0))
	assert.Equal(t, int64(90), rec.Index(1))
	assert.Equal(t, 30.0, rec.Index(2))
	assert.Equal(t, int64(20), rec.Index(3))
	assert.Equal(t, int64(40), rec.Index(4))

	// Grouped by the non-aggregate projection.
	result = run(t, ex, "MATCH (n:P) RETURN n.city, count(*) AS c ORDER BY n.city", nil)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "Bergen", result.Records[0].Value("n.city"))
	assert.Equal(t, int64(1), result.Records[0].Value("c"))
	assert.Equal(t, "Oslo", result.Records[1].Value("n.city"))
	assert.Equal(t, int64(2), result.Records[1].Value("c"))
}

func TestCountOverEmptyMatchIsZero(t *testing.T) {
	ex := newTestExecutor(t)
	result := run(t, ex, "MATCH (n:Nothing) RETURN count(*)", nil)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(0), result.Records[0].Index(0))
}

func TestCollect(t *testing.T) {
	ex := newTestExecutor(t)
	run(t, ex, "CREATE (n:P {name:'A'})", nil)
	run(t, ex, "CREATE (n:P {name:'B'})", nil)

	result := run(t, ex, "MATCH (n:P) RETURN collect(n.name) AS names", nil)
	require.Len(t, result.Records, 1)
	names, ok := result.Records[0].Value("names").([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"A", "B"}, names)
}

func TestMergeCreatesThenMatches(t *testing.T) {
	ex := newTestExecutor(t)

	result := run(t, ex, "MERGE (n:P {name:'Solo'}) RETURN n.name", nil)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.Summary.Counters.NodesCreated)

	// Second merge matches, creates nothing.
	result = run(t, ex, "MERGE (n:P {name:'Solo'}) RETURN n.name", nil)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 0, result.Summary.Counters.NodesCreated)
}

func TestSetUpdatesProperty(t *testing.T) {
	ex := newTestExecutor(t)
	run(t, ex, "CREATE (n:P {name:'A', age: 1})", nil)

	result := run(t, ex, "MATCH (n:P {name:'A'}) SET n.age = 2 RETURN n.age", nil)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(2), result.Records[0].Value("n.age"))
	assert.Equal(t, 1, result.Summary.Counters.PropertiesSet)
}

func TestDeleteWithoutDetachFailsOnConnectedNode(t *testing.T) {
	ex := newTestExecutor(t)
	run(t, ex, "CREATE (a:P {name:'A'})-[:R]->(b:P {name:'B'})", nil)

	result := ex.Execute(context.Background(), "MATCH (a:P {name:'A'}) DELETE a", nil)
	require.Error(t, result.Err())
	assert.Equal(t, StageExecute, result.Summary.Error.Stage)
}

func TestMissingPropertyProjectsNull(t *testing.T) {
	ex := newTestExecutor(t)
	run(t, ex, "CREATE (n:P {name:'A'})", nil)

	result := run(t, ex, "MATCH (n:P) RETURN n.missing, missingVar, missingVar.prop", nil)
	require.Len(t, result.Records, 1)
	assert.Nil(t, result.Records[0].Index(0))
	assert.Nil(t, result.Records[0].Index(1))
	assert.Nil(t, result.Records[0].Index(2))
}

func TestEmptyQueryIsParseError(t *testing.T) {
	ex := newTestExecutor(t)
	result := ex.Execute(context.Background(), "", nil)
	require.Error(t, result.Err())
	assert.Equal(t, StageParse, result.Summary.Error.Stage)

	result = ex.Execute(context.Background(), "   \n\t", nil)
	require.Error(t, result.Err())
	assert.Equal(t, StageParse, result.Summary.Error.Stage)
}

func TestSyntaxErrorCarriesParseStage(t *testing.T) {
	ex := newTestExecutor(t)
	result := ex.Execute(context.Background(), "MATCH (n:Person RETURN n", nil)
	require.Error(t, result.Err())
	assert.Equal(t, StageParse, result.Summary.Error.Stage)
}

func TestReservedParameterRejected(t *testing.T) {
	ex := newTestExecutor(t)
	result := ex.Execute(context.Background(), "MATCH (n) RETURN n", map[string]any{"_internal": 1})
	require.Error(t, result.Err())
	assert.Contains(t, result.Summary.Error.Msg, "reserved parameter")
}

func TestParameterBinding(t *testing.T) {
	ex := newTestExecutor(t)
	run(t, ex, "CREATE (n:P {name:'Target', age: 9})", nil)

	result := run(t, ex, "MATCH (n:P {name: $name}) RETURN n.age", map[string]any{"name": "Target"})
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(9), result.Records[0].Value("n.age"))
}

func TestCancelledContextSurfacesExecuteError(t *testing.T) {
	ex := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := ex.Execute(ctx, "MATCH (n) RETURN n", nil)
	require.Error(t, result.Err())
	assert.Equal(t, StageExecute, result.Summary.Error.Stage)
}

func TestAnonymousPatternElements(t *testing.T) {
	ex := newTestExecutor(t)
	run(t, ex, "CREATE (a:P {name:'A'})-[:R]->(:Q {name:'B'})", nil)

	// Anonymous nodes and relationships still traverse.
	result := run(t, ex, "MATCH (a:P)-[]->(b:Q) RETURN b.name", nil)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "B", result.Records[0].Value("b.name"))
}

func TestRecordAccessors(t *testing.T) {
	rec := NewRecord([]string{"a", "b"}, []any{1, nil})
	assert.Equal(t, 1, rec.Value("a"))
	assert.Nil(t, rec.Value("b"))
	assert.Equal(t, "fallback", rec.Get("b", "fallback"))
	assert.Equal(t, "fallback", rec.Get("missing", "fallback"))
	assert.Equal(t, 1, rec.Index(0))
	assert.Nil(t, rec.Index(5))
	assert.Equal(t, map[string]any{"a": 1, "b": nil}, rec.Data())
	assert.Equal(t, []string{"a", "b"}, rec.Keys())
}
