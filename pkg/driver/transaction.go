package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/orneryd/ipldgraph/pkg/bookmark"
	"github.com/orneryd/ipldgraph/pkg/txn"
	"github.com/orneryd/ipldgraph/pkg/wal"
)

func newTxnSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Transaction is an explicit driver transaction.
//
// Queries run immediately against the engine so later queries in the same
// transaction read earlier writes; the performed mutations are buffered and
// logged as a single WAL entry at Commit. Rollback restores the snapshot
// captured at begin.
type Transaction struct {
	session  *Session
	id       string
	snapshot cid.Cid
	status   txn.Status
	ops      []wal.Operation
}

// ID returns the transaction id.
func (t *Transaction) ID() string { return t.id }

// Run executes a query inside the transaction. Pipeline failures are
// carried in the Result summary; the transaction stays usable so the
// caller decides whether to roll back.
func (t *Transaction) Run(ctx context.Context, query string, params map[string]any) (*Result, error) {
	if t.status != txn.StatusActive {
		return nil, txn.ErrTransactionClosed
	}
	inner := t.session.driver.executor.Execute(ctx, query, params)
	result := &Result{Result: inner}
	if inner.Err() == nil {
		t.ops = append(t.ops, inner.Mutations...)
	}
	return result, nil
}

// Commit logs the transaction's mutations to the WAL and records its
// bookmark with the session.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.status != txn.StatusActive {
		return txn.ErrTransactionClosed
	}

	entry := &wal.Entry{
		TxnID:      t.id,
		Operations: t.ops,
		TxnState:   wal.StateCommitted,
	}
	if _, err := t.session.driver.log.Append(ctx, entry); err != nil {
		t.status = txn.StatusRolledBack
		t.session.open = nil
		_ = t.restoreSnapshot(ctx)
		return fmt.Errorf("%w: wal append: %v", txn.ErrTransaction, err)
	}

	t.status = txn.StatusCommitted
	t.session.open = nil
	t.session.driver.ledger.record(t.id)
	t.session.lastBookmarks.Add(bookmark.New(t.id, t.session.database))
	return nil
}

// Rollback discards the transaction, restoring the begin-time snapshot if
// any mutation was applied.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.status != txn.StatusActive {
		return txn.ErrTransactionClosed
	}
	t.status = txn.StatusRolledBack
	t.session.open = nil

	if len(t.ops) == 0 {
		return nil
	}
	return t.restoreSnapshot(ctx)
}

func (t *Transaction) restoreSnapshot(ctx context.Context) error {
	if !t.snapshot.Defined() {
		return fmt.Errorf("%w: no snapshot to restore", txn.ErrTransaction)
	}
	if err := t.session.driver.engine.LoadGraph(ctx, t.snapshot); err != nil {
		return fmt.Errorf("%w: snapshot restore: %v", txn.ErrTransaction, err)
	}
	return nil
}

// Close rolls back when still active. Safe to defer.
func (t *Transaction) Close(ctx context.Context) error {
	if t.status != txn.StatusActive {
		return nil
	}
	return t.Rollback(ctx)
}
