package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/orneryd/ipldgraph/pkg/bookmark"
	"github.com/orneryd/ipldgraph/pkg/graph"
	"github.com/orneryd/ipldgraph/pkg/wal"
)

// appliedOp records enough pre-image to invert one applied operation.
type appliedOp struct {
	op      wal.Operation
	oldNode *graph.Node
	oldRel  *graph.Relationship
}

// Transaction buffers operations until Commit.
//
// Buffered operations are not visible to the engine. Commit appends the WAL
// entry, applies the buffer in order, and returns a bookmark. A transaction
// is single-owner; its internal lock only protects against misuse.
type Transaction struct {
	id        string
	mgr       *Manager
	isolation Isolation
	started   time.Time
	deadline  time.Time
	snapshot  cid.Cid

	mu      sync.Mutex
	status  Status
	ops     []wal.Operation
	writes  map[string]struct{}
	applied []appliedOp
}

// ID returns the transaction id.
func (tx *Transaction) ID() string { return tx.id }

// Isolation returns the declared isolation level.
func (tx *Transaction) Isolation() Isolation { return tx.isolation }

// Status returns the lifecycle state.
func (tx *Transaction) Status() Status {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.status
}

// expired reports whether the deadline has passed. Must be called with
// tx.mu held.
func (tx *Transaction) expired() bool {
	return !tx.deadline.IsZero() && time.Now().After(tx.deadline)
}

// buffer appends op after the usual liveness checks.
func (tx *Transaction) buffer(op wal.Operation) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != StatusActive {
		return ErrTransactionClosed
	}
	if tx.expired() {
		return ErrTransactionTimeout
	}
	tx.ops = append(tx.ops, op)
	tx.writes[op.TargetID] = struct{}{}
	return nil
}

// CreateNode buffers a node creation and returns the node it will create.
func (tx *Transaction) CreateNode(labels []string, properties map[string]any) (*graph.Node, error) {
	node := &graph.Node{
		ID:         graph.NewNodeID(),
		Labels:     labels,
		Properties: properties,
	}
	err := tx.buffer(wal.Operation{
		Type:     wal.OpWriteNode,
		TargetID: node.ID,
		Data:     nodeData(node),
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateNode buffers a property merge for an existing node.
func (tx *Transaction) UpdateNode(id string, properties map[string]any) error {
	return tx.buffer(wal.Operation{
		Type:     wal.OpWriteNode,
		TargetID: id,
		Data:     map[string]any{"id": id, "properties": properties},
	})
}

// DeleteNode buffers a node deletion.
func (tx *Transaction) DeleteNode(id string) error {
	return tx.buffer(wal.Operation{
		Type:     wal.OpDeleteNode,
		TargetID: id,
	})
}

// CreateRelationship buffers a relationship creation.
func (tx *Transaction) CreateRelationship(relType, startID, endID string, properties map[string]any) (*graph.Relationship, error) {
	rel := &graph.Relationship{
		ID:         graph.NewRelationshipID(),
		Type:       relType,
		StartNode:  startID,
		EndNode:    endID,
		Properties: properties,
	}
	err := tx.buffer(wal.Operation{
		Type:     wal.OpWriteRel,
		TargetID: rel.ID,
		Data:     relData(rel),
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// DeleteRelationship buffers a relationship deletion.
func (tx *Transaction) DeleteRelationship(id string) error {
	return tx.buffer(wal.Operation{
		Type:     wal.OpDeleteRel,
		TargetID: id,
	})
}

// Commit makes the transaction durable and applies it.
//
// Order matters: the WAL entry is appended first (COMMITTED state); only
// then are operations applied to the engine. A WAL failure aborts with
// nothing applied. An apply failure rolls back the operations already
// applied; ErrTransactionAborted from the engine propagates as-is, anything
// else maps to ErrTransaction.
func (tx *Transaction) Commit(ctx context.Context) (*bookmark.Bookmark, error) {
	tx.mu.Lock()
	if tx.status != StatusActive {
		tx.mu.Unlock()
		return nil, ErrTransactionClosed
	}
	if tx.expired() {
		tx.status = StatusRolledBack
		tx.mu.Unlock()
		tx.mgr.release(tx)
		return nil, ErrTransactionTimeout
	}
	ops := append([]wal.Operation(nil), tx.ops...)
	tx.mu.Unlock()

	if err := tx.mgr.checkConflicts(tx); err != nil {
		tx.abort()
		return nil, err
	}

	entry := &wal.Entry{
		TxnID:      tx.id,
		Operations: ops,
		TxnState:   wal.StateCommitted,
	}
	if _, err := tx.mgr.log.Append(ctx, entry); err != nil {
		tx.abort()
		return nil, fmt.Errorf("%w: wal append: %v", ErrTransaction, err)
	}

	for _, op := range ops {
		if err := tx.apply(ctx, op); err != nil {
			tx.reverseApplied(ctx)
			tx.abort()
			if errors.Is(err, ErrTransactionAborted) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: applying %s on %s: %v", ErrTransaction, op.Type, op.TargetID, err)
		}
	}

	tx.mu.Lock()
	tx.status = StatusCommitted
	tx.mu.Unlock()
	tx.mgr.release(tx)

	b := bookmark.New(tx.id, tx.mgr.database)
	tx.mgr.logger.Debug().Str("txn", tx.id).Int("ops", len(ops)).Msg("transaction committed")
	return b, nil
}

// apply executes one operation against the engine, recording the pre-image
// for reverse rollback.
func (tx *Transaction) apply(ctx context.Context, op wal.Operation) error {
	engine := tx.mgr.engine
	switch op.Type {
	case wal.OpWriteNode:
		old := engine.GetNode(ctx, op.TargetID)
		tx.recordApplied(appliedOp{op: op, oldNode: old})
		return ApplyOperation(ctx, engine, op)
	case wal.OpDeleteNode:
		old := engine.GetNode(ctx, op.TargetID)
		tx.recordApplied(appliedOp{op: op, oldNode: old})
		return ApplyOperation(ctx, engine, op)
	case wal.OpWriteRel:
		old := engine.GetRelationship(op.TargetID)
		tx.recordApplied(appliedOp{op: op, oldRel: old})
		return ApplyOperation(ctx, engine, op)
	case wal.OpDeleteRel:
		old := engine.GetRelationship(op.TargetID)
		tx.recordApplied(appliedOp{op: op, oldRel: old})
		return ApplyOperation(ctx, engine, op)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (tx *Transaction) recordApplied(a appliedOp) {
	tx.mu.Lock()
	tx.applied = append(tx.applied, a)
	tx.mu.Unlock()
}

// Rollback aborts the transaction. If a pre-commit snapshot was captured
// and operations were applied, the snapshot is restored; otherwise applied
// operations are reversed from their pre-images. A pristine buffered-only
// transaction simply discards its buffer.
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	if tx.status != StatusActive {
		tx.mu.Unlock()
		return ErrTransactionClosed
	}
	anyApplied := len(tx.applied) > 0
	tx.status = StatusRolledBack
	tx.mu.Unlock()
	tx.mgr.release(tx)

	if !anyApplied {
		return nil
	}
	if tx.snapshot.Defined() {
		if err := tx.mgr.engine.LoadGraph(ctx, tx.snapshot); err != nil {
			return fmt.Errorf("%w: snapshot restore: %v", ErrTransaction, err)
		}
		return nil
	}
	tx.reverseApplied(ctx)
	return nil
}

// reverseApplied undoes applied operations newest-first.
func (tx *Transaction) reverseApplied(ctx context.Context) {
	tx.mu.Lock()
	applied := append([]appliedOp(nil), tx.applied...)
	tx.applied = nil
	tx.mu.Unlock()

	engine := tx.mgr.engine
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		switch a.op.Type {
		case wal.OpWriteNode:
			if a.oldNode == nil {
				engine.DeleteNode(a.op.TargetID)
			} else {
				engine.CreateNodeWithID(ctx, a.oldNode)
			}
		case wal.OpDeleteNode:
			if a.oldNode != nil {
				engine.CreateNodeWithID(ctx, a.oldNode)
			}
		case wal.OpWriteRel:
			if a.oldRel == nil {
				engine.DeleteRelationship(a.op.TargetID)
			} else {
				engine.CreateRelationshipWithID(ctx, a.oldRel)
			}
		case wal.OpDeleteRel:
			if a.oldRel != nil {
				engine.CreateRelationshipWithID(ctx, a.oldRel)
			}
		}
	}
}

// abort marks the transaction rolled back and releases it.
func (tx *Transaction) abort() {
	tx.mu.Lock()
	if tx.status == StatusActive {
		tx.status = StatusRolledBack
	}
	tx.mu.Unlock()
	tx.mgr.release(tx)
}

// Close rolls the transaction back if it is still active. Safe to defer.
func (tx *Transaction) Close(ctx context.Context) error {
	tx.mu.Lock()
	active := tx.status == StatusActive
	tx.mu.Unlock()
	if !active {
		return nil
	}
	return tx.Rollback(ctx)
}
