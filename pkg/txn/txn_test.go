package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/ipldgraph/pkg/blockstore"
	"github.com/orneryd/ipldgraph/pkg/graph"
	"github.com/orneryd/ipldgraph/pkg/wal"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store := blockstore.NewMemoryStore()
	engine := graph.NewEngine(graph.Options{Store: store})
	w := wal.New(store, wal.Options{CompactionThreshold: 100})
	return NewManager(engine, w, ManagerOptions{Database: "testdb"})
}

func TestCommitAppliesBufferedOperations(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx, Options{})
	require.NoError(t, err)

	node, err := tx.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
	require.NoError(t, err)

	// Buffered, not applied.
	assert.Nil(t, m.Engine().GetNode(ctx, node.ID))

	b, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, tx.ID(), b.TransactionID)
	assert.Equal(t, "testdb", b.Database)

	got := m.Engine().GetNode(ctx, node.ID)
	require.NotNil(t, got)
	assert.Equal(t, "Alice", got.Properties["name"])
	assert.Equal(t, StatusCommitted, tx.Status())
}

func TestCommitWritesWALBeforeApply(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx, Options{})
	require.NoError(t, err)
	_, err = tx.CreateNode([]string{"P"}, nil)
	require.NoError(t, err)
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	entries, err := m.WAL().Read(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, wal.StateCommitted, entries[0].TxnState)
	assert.Equal(t, tx.ID(), entries[0].TxnID)
	require.Len(t, entries[0].Operations, 1)
	assert.Equal(t, wal.OpWriteNode, entries[0].Operations[0].Type)
}

func TestWALFailureAbortsWithNothingApplied(t *testing.T) {
	// A closed store fails the WAL append; the engine is memory-only with no
	// store attached, so any applied operation would show up in its table.
	walStore := blockstore.NewMemoryStore()
	require.NoError(t, walStore.Close())
	engine := graph.NewEngine(graph.Options{})
	m := NewManager(engine, wal.New(walStore, wal.Options{}), ManagerOptions{})

	ctx := context.Background()
	tx, err := m.Begin(ctx, Options{})
	require.NoError(t, err)
	node, err := tx.CreateNode(nil, nil)
	require.NoError(t, err)

	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrTransaction)
	assert.Nil(t, engine.GetNode(ctx, node.ID))
	assert.Equal(t, StatusRolledBack, tx.Status())
}

func TestRollbackDiscardsBuffer(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx, Options{})
	require.NoError(t, err)
	node, err := tx.CreateNode(nil, nil)
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))
	assert.Nil(t, m.Engine().GetNode(ctx, node.ID))
	assert.Equal(t, StatusRolledBack, tx.Status())

	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrTransactionClosed)
}

func TestSerializableSnapshotRollback(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	base := m.Engine().CreateNode(ctx, []string{"Base"}, nil)

	tx, err := m.Begin(ctx, Options{Isolation: Serializable})
	require.NoError(t, err)
	assert.True(t, tx.snapshot.Defined(), "serializable begin captures a snapshot")

	require.NoError(t, tx.Rollback(ctx))
	assert.NotNil(t, m.Engine().GetNode(ctx, base.ID))
}

func TestConflictBetweenSerializableTransactions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	target := m.Engine().CreateNode(ctx, nil, nil)

	tx1, err := m.Begin(ctx, Options{Isolation: Serializable})
	require.NoError(t, err)
	tx2, err := m.Begin(ctx, Options{Isolation: Serializable})
	require.NoError(t, err)

	require.NoError(t, tx1.UpdateNode(target.ID, map[string]any{"a": 1}))
	require.NoError(t, tx2.UpdateNode(target.ID, map[string]any{"a": 2}))

	_, err = tx1.Commit(ctx)
	assert.ErrorIs(t, err, ErrTransactionConflict)

	// tx1 aborted; tx2 can now commit.
	_, err = tx2.Commit(ctx)
	assert.NoError(t, err)
}

func TestTimeoutAbortsTransaction(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx, Options{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = tx.CreateNode(nil, nil)
	assert.ErrorIs(t, err, ErrTransactionTimeout)

	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrTransactionTimeout)
}

func TestUpdateAndDeleteThroughTransaction(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	seed := m.Engine().CreateNode(ctx, nil, map[string]any{"v": 1})

	tx, err := m.Begin(ctx, Options{})
	require.NoError(t, err)
	require.NoError(t, tx.UpdateNode(seed.ID, map[string]any{"v": 2}))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	got := m.Engine().GetNode(ctx, seed.ID)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Properties["v"])

	tx, err = m.Begin(ctx, Options{})
	require.NoError(t, err)
	require.NoError(t, tx.DeleteNode(seed.ID))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)
	assert.Nil(t, m.Engine().GetNode(ctx, seed.ID))
}

func TestRecoverReplaysCommittedOnly(t *testing.T) {
	store := blockstore.NewMemoryStore()
	w := wal.New(store, wal.Options{})
	ctx := context.Background()

	// Committed create, aborted create, committed relationship.
	_, err := w.Append(ctx, &wal.Entry{
		TxnID:    "t0",
		TxnState: wal.StateCommitted,
		Operations: []wal.Operation{
			{Type: wal.OpWriteNode, TargetID: "node-aaa", Data: map[string]any{"id": "node-aaa", "labels": []any{"P"}, "properties": map[string]any{}}},
			{Type: wal.OpWriteNode, TargetID: "node-bbb", Data: map[string]any{"id": "node-bbb", "labels": []any{"P"}, "properties": map[string]any{}}},
		},
	})
	require.NoError(t, err)
	_, err = w.Append(ctx, &wal.Entry{
		TxnID:    "t1",
		TxnState: wal.StateAborted,
		Operations: []wal.Operation{
			{Type: wal.OpWriteNode, TargetID: "node-ccc", Data: map[string]any{"id": "node-ccc"}},
		},
	})
	require.NoError(t, err)
	_, err = w.Append(ctx, &wal.Entry{
		TxnID:    "t2",
		TxnState: wal.StateCommitted,
		Operations: []wal.Operation{
			{Type: wal.OpWriteRel, TargetID: "rel-abc", Data: map[string]any{
				"id": "rel-abc", "type": "KNOWS", "start_node": "node-aaa", "end_node": "node-bbb",
				"properties": map[string]any{},
			}},
		},
	})
	require.NoError(t, err)

	engine := graph.NewEngine(graph.Options{})
	n, err := Recover(ctx, engine, w)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.NotNil(t, engine.GetNode(ctx, "node-aaa"))
	assert.NotNil(t, engine.GetNode(ctx, "node-bbb"))
	assert.Nil(t, engine.GetNode(ctx, "node-ccc"), "aborted transactions are not replayed")
	require.NotNil(t, engine.GetRelationship("rel-abc"))
}

func TestCloseRollsBackActiveTransaction(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx, Options{})
	require.NoError(t, err)
	require.NoError(t, tx.Close(ctx))
	assert.Equal(t, StatusRolledBack, tx.Status())

	// Close after commit is a no-op.
	tx, err = m.Begin(ctx, Options{})
	require.NoError(t, err)
	_, err = tx.Commit(ctx)
	require.NoError(t, err)
	assert.NoError(t, tx.Close(ctx))
	assert.Equal(t, StatusCommitted, tx.Status())
}
