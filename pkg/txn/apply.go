package txn

import (
	"context"
	"fmt"

	"github.com/orneryd/ipldgraph/pkg/graph"
	"github.com/orneryd/ipldgraph/pkg/wal"
)

// nodeData encodes a node into WAL operation data.
func nodeData(n *graph.Node) map[string]any {
	labels := make([]any, len(n.Labels))
	for i, l := range n.Labels {
		labels[i] = l
	}
	return map[string]any{
		"id":         n.ID,
		"labels":     labels,
		"properties": n.Properties,
	}
}

// relData encodes a relationship into WAL operation data.
func relData(r *graph.Relationship) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"type":       r.Type,
		"start_node": r.StartNode,
		"end_node":   r.EndNode,
		"properties": r.Properties,
	}
}

// decodeLabels accepts both in-process []string and JSON-decoded []any.
func decodeLabels(v any) []string {
	switch labels := v.(type) {
	case []string:
		return labels
	case []any:
		out := make([]string, 0, len(labels))
		for _, l := range labels {
			if s, ok := l.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func decodeProperties(v any) map[string]any {
	if props, ok := v.(map[string]any); ok {
		return props
	}
	return map[string]any{}
}

// ApplyOperation executes one WAL operation against the engine. Shared by
// commit application and crash recovery replay.
//
// WRITE_NODE is an upsert: an existing id is merged, a new one is created
// with the recorded id. WRITE_REL recreates the relationship verbatim;
// endpoint existence was validated when the operation was first recorded,
// and replay preserves recording order.
func ApplyOperation(ctx context.Context, engine *graph.Engine, op wal.Operation) error {
	switch op.Type {
	case wal.OpWriteNode:
		props := decodeProperties(op.Data["properties"])
		if engine.GetNode(ctx, op.TargetID) != nil {
			engine.UpdateNode(ctx, op.TargetID, props)
			return nil
		}
		engine.CreateNodeWithID(ctx, &graph.Node{
			ID:         op.TargetID,
			Labels:     decodeLabels(op.Data["labels"]),
			Properties: props,
		})
		return nil

	case wal.OpDeleteNode:
		engine.DeleteNode(op.TargetID)
		return nil

	case wal.OpWriteRel:
		relType, _ := op.Data["type"].(string)
		start, _ := op.Data["start_node"].(string)
		end, _ := op.Data["end_node"].(string)
		engine.CreateRelationshipWithID(ctx, &graph.Relationship{
			ID:         op.TargetID,
			Type:       relType,
			StartNode:  start,
			EndNode:    end,
			Properties: decodeProperties(op.Data["properties"]),
		})
		return nil

	case wal.OpDeleteRel:
		engine.DeleteRelationship(op.TargetID)
		return nil
	}
	return fmt.Errorf("unknown operation type %q", op.Type)
}

// Recover replays the WAL's committed operations into engine, chronologically.
// Used after a crash to rebuild the live index.
func Recover(ctx context.Context, engine *graph.Engine, w *wal.WAL) (int, error) {
	ops, err := w.Recover(ctx)
	if err != nil {
		return 0, err
	}
	for _, op := range ops {
		if err := ApplyOperation(ctx, engine, op); err != nil {
			return 0, fmt.Errorf("%w: replaying %s on %s: %v", ErrTransaction, op.Type, op.TargetID, err)
		}
	}
	return len(ops), nil
}
