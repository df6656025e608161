package graph

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/orneryd/ipldgraph/pkg/blockstore"
	"github.com/orneryd/ipldgraph/pkg/cache"
)

// DefaultCacheCapacity bounds the decoded-block cache when the caller does
// not configure one.
const DefaultCacheCapacity = 4096

// Engine owns the live node and relationship tables.
//
// When a block store is attached, every create and update is persisted as a
// pinned dag-json block and the resulting CID is recorded against the entity
// id. Reads are cache-first: live table, then the decoded-block LRU, then
// the store.
//
// All methods are safe for concurrent use; each table is guarded by a
// reader-writer lock.
type Engine struct {
	store blockstore.Store // nil when in-memory only

	nodeMu   sync.RWMutex
	nodes    map[string]*Node
	nodeCIDs map[string]cid.Cid

	relMu   sync.RWMutex
	rels    map[string]*Relationship
	relCIDs map[string]cid.Cid

	blockCache *cache.LRU[string, any]
	logger     zerolog.Logger
}

// Options configures engine construction.
type Options struct {
	// Store enables persistence when non-nil.
	Store blockstore.Store
	// CacheCapacity bounds the decoded-block LRU; 0 selects the default.
	CacheCapacity int
}

// NewEngine creates a graph engine. A nil store leaves the engine in-memory
// only; snapshot operations then fail with ErrPersistenceDisabled.
func NewEngine(opts Options) *Engine {
	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Engine{
		store:      opts.Store,
		nodes:      make(map[string]*Node),
		nodeCIDs:   make(map[string]cid.Cid),
		rels:       make(map[string]*Relationship),
		relCIDs:    make(map[string]cid.Cid),
		blockCache: cache.New[string, any](capacity),
		logger:     log.With().Str("component", "graph").Logger(),
	}
}

// newID returns prefix + "-" + 12 hex chars of a fresh UUID. Collision-free
// within a process for practical table sizes; ids are opaque to callers.
func newID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewNodeID mints a fresh node id. Exposed for the transaction layer, which
// assigns ids at buffer time so WAL entries carry them.
func NewNodeID() string { return newID("node") }

// NewRelationshipID mints a fresh relationship id.
func NewRelationshipID() string { return newID("rel") }

// persistent reports whether a block store is attached.
func (e *Engine) persistent() bool {
	return e.store != nil
}

// CreateNode creates a node with a fresh id and persists it.
//
// A failed block write logs a warning and the in-memory node is still
// created and returned; the WAL guarantees durability of transactional
// writes.
func (e *Engine) CreateNode(ctx context.Context, labels []string, properties map[string]any) *Node {
	node := &Node{
		ID:         newID("node"),
		Labels:     dedupeLabels(labels),
		Properties: copyProperties(properties),
	}

	e.nodeMu.Lock()
	e.nodes[node.ID] = node
	e.nodeMu.Unlock()

	e.persistNode(ctx, node)
	e.logger.Debug().Str("node", node.ID).Strs("labels", node.Labels).Msg("created node")
	return copyNode(node)
}

// CreateNodeWithID inserts a node under a caller-supplied id. Used by
// snapshot restore, WAL replay, and migration import.
func (e *Engine) CreateNodeWithID(ctx context.Context, node *Node) *Node {
	stored := copyNode(node)
	stored.Labels = dedupeLabels(stored.Labels)

	e.nodeMu.Lock()
	e.nodes[stored.ID] = stored
	e.nodeMu.Unlock()

	e.persistNode(ctx, stored)
	return copyNode(stored)
}

func (e *Engine) persistNode(ctx context.Context, node *Node) {
	if !e.persistent() {
		return
	}
	c, err := e.store.PutJSON(ctx, node, true)
	if err != nil {
		e.logger.Warn().Str("node", node.ID).Err(err).Msg("failed to persist node")
		return
	}
	e.nodeMu.Lock()
	e.nodeCIDs[node.ID] = c
	e.nodeMu.Unlock()
	e.blockCache.Put(c.String(), copyNode(node))
}

// GetNode retrieves a node by id, or nil if unknown.
//
// Lookup order: live table, decoded-block cache, block store. Storage and
// decoding errors are logged and reported as a miss.
func (e *Engine) GetNode(ctx context.Context, id string) *Node {
	e.nodeMu.RLock()
	node, ok := e.nodes[id]
	if ok {
		node = copyNode(node)
	}
	c, hasCID := e.nodeCIDs[id]
	e.nodeMu.RUnlock()
	if ok {
		return node
	}
	if !hasCID || !e.persistent() {
		return nil
	}

	if cached, ok := e.blockCache.Get(c.String()); ok {
		if n, ok := cached.(*Node); ok {
			return copyNode(n)
		}
	}

	var loaded Node
	if err := e.store.GetJSON(ctx, c, &loaded); err != nil {
		e.logger.Warn().Str("node", id).Str("cid", c.String()).Err(err).Msg("failed to load node block")
		return nil
	}
	e.nodeMu.Lock()
	e.nodes[id] = &loaded
	e.nodeMu.Unlock()
	e.blockCache.Put(c.String(), copyNode(&loaded))
	return copyNode(&loaded)
}

// UpdateNode merges props into the node's properties (new keys overwrite)
// and re-persists. Returns the updated node, or nil if the id is unknown.
func (e *Engine) UpdateNode(ctx context.Context, id string, props map[string]any) *Node {
	e.nodeMu.Lock()
	node, ok := e.nodes[id]
	if !ok {
		e.nodeMu.Unlock()
		e.logger.Warn().Str("node", id).Msg("update of unknown node")
		return nil
	}
	for k, v := range props {
		node.Properties[k] = v
	}
	updated := copyNode(node)
	e.nodeMu.Unlock()

	e.persistNode(ctx, updated)
	return copyNode(updated)
}

// DeleteNode removes the node from the live index and drops its CID mapping.
// The block stays in the store (snapshots may still reference it) and is not
// unpinned. Returns false if the id was not present.
func (e *Engine) DeleteNode(id string) bool {
	e.nodeMu.Lock()
	defer e.nodeMu.Unlock()
	if _, ok := e.nodes[id]; !ok {
		return false
	}
	delete(e.nodes, id)
	delete(e.nodeCIDs, id)
	e.logger.Debug().Str("node", id).Msg("deleted node")
	return true
}

// CreateRelationship creates a directed relationship. Both endpoints must be
// live nodes; otherwise ErrEntityNotFound is returned.
func (e *Engine) CreateRelationship(ctx context.Context, relType, startID, endID string, properties map[string]any) (*Relationship, error) {
	e.nodeMu.RLock()
	_, startOK := e.nodes[startID]
	_, endOK := e.nodes[endID]
	e.nodeMu.RUnlock()
	if !startOK || !endOK {
		return nil, ErrEntityNotFound
	}

	rel := &Relationship{
		ID:         newID("rel"),
		Type:       relType,
		StartNode:  startID,
		EndNode:    endID,
		Properties: copyProperties(properties),
	}

	e.relMu.Lock()
	e.rels[rel.ID] = rel
	e.relMu.Unlock()

	e.persistRelationship(ctx, rel)
	e.logger.Debug().Str("rel", rel.ID).Str("type", relType).Msg("created relationship")
	return copyRelationship(rel), nil
}

// CreateRelationshipWithID inserts a relationship under a caller-supplied id
// without endpoint checks. Used by snapshot restore and WAL replay, where
// ordering of replayed operations already established the endpoints.
func (e *Engine) CreateRelationshipWithID(ctx context.Context, rel *Relationship) *Relationship {
	stored := copyRelationship(rel)

	e.relMu.Lock()
	e.rels[stored.ID] = stored
	e.relMu.Unlock()

	e.persistRelationship(ctx, stored)
	return copyRelationship(stored)
}

func (e *Engine) persistRelationship(ctx context.Context, rel *Relationship) {
	if !e.persistent() {
		return
	}
	c, err := e.store.PutJSON(ctx, rel, true)
	if err != nil {
		e.logger.Warn().Str("rel", rel.ID).Err(err).Msg("failed to persist relationship")
		return
	}
	e.relMu.Lock()
	e.relCIDs[rel.ID] = c
	e.relMu.Unlock()
	e.blockCache.Put(c.String(), copyRelationship(rel))
}

// GetRelationship retrieves a relationship by id, or nil if unknown.
func (e *Engine) GetRelationship(id string) *Relationship {
	e.relMu.RLock()
	defer e.relMu.RUnlock()
	return copyRelationship(e.rels[id])
}

// DeleteRelationship removes the relationship from the live index.
// Returns false if the id was not present.
func (e *Engine) DeleteRelationship(id string) bool {
	e.relMu.Lock()
	defer e.relMu.Unlock()
	if _, ok := e.rels[id]; !ok {
		return false
	}
	delete(e.rels, id)
	delete(e.relCIDs, id)
	return true
}

// GetRelationships enumerates relationships attached to nodeID in the given
// direction, optionally filtered by type. O(R) over the relationship table.
func (e *Engine) GetRelationships(nodeID string, direction Direction, relType string) []*Relationship {
	e.relMu.RLock()
	defer e.relMu.RUnlock()

	var out []*Relationship
	for _, rel := range e.rels {
		if relType != "" && rel.Type != relType {
			continue
		}
		switch direction {
		case DirectionOut:
			if rel.StartNode != nodeID {
				continue
			}
		case DirectionIn:
			if rel.EndNode != nodeID {
				continue
			}
		default:
			if rel.StartNode != nodeID && rel.EndNode != nodeID {
				continue
			}
		}
		out = append(out, copyRelationship(rel))
	}
	return out
}

// FindNodes returns nodes carrying every requested label and every requested
// property/value pair. A negative limit means unbounded; a limit of zero
// returns an empty list, not an error.
func (e *Engine) FindNodes(labels []string, properties map[string]any, limit int) []*Node {
	e.nodeMu.RLock()
	defer e.nodeMu.RUnlock()

	out := []*Node{}
	if limit == 0 {
		return out
	}
	for _, node := range e.nodes {
		if !hasAllLabels(node, labels) {
			continue
		}
		if !hasAllProperties(node, properties) {
			continue
		}
		out = append(out, copyNode(node))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// AllNodes returns a copy of every live node.
func (e *Engine) AllNodes() []*Node {
	e.nodeMu.RLock()
	defer e.nodeMu.RUnlock()
	out := make([]*Node, 0, len(e.nodes))
	for _, n := range e.nodes {
		out = append(out, copyNode(n))
	}
	return out
}

// AllRelationships returns a copy of every live relationship.
func (e *Engine) AllRelationships() []*Relationship {
	e.relMu.RLock()
	defer e.relMu.RUnlock()
	out := make([]*Relationship, 0, len(e.rels))
	for _, r := range e.rels {
		out = append(out, copyRelationship(r))
	}
	return out
}

// NodeCount returns the live node count.
func (e *Engine) NodeCount() int {
	e.nodeMu.RLock()
	defer e.nodeMu.RUnlock()
	return len(e.nodes)
}

// RelationshipCount returns the live relationship count.
func (e *Engine) RelationshipCount() int {
	e.relMu.RLock()
	defer e.relMu.RUnlock()
	return len(e.rels)
}

// GetInDegree counts relationships ending at nodeID.
func (e *Engine) GetInDegree(nodeID string) int {
	e.relMu.RLock()
	defer e.relMu.RUnlock()
	n := 0
	for _, rel := range e.rels {
		if rel.EndNode == nodeID {
			n++
		}
	}
	return n
}

// GetOutDegree counts relationships starting at nodeID.
func (e *Engine) GetOutDegree(nodeID string) int {
	e.relMu.RLock()
	defer e.relMu.RUnlock()
	n := 0
	for _, rel := range e.rels {
		if rel.StartNode == nodeID {
			n++
		}
	}
	return n
}

// SaveGraph serializes the full live index into a Snapshot block and returns
// its CID.
func (e *Engine) SaveGraph(ctx context.Context) (cid.Cid, error) {
	if !e.persistent() {
		return cid.Undef, ErrPersistenceDisabled
	}

	snapshot := &Snapshot{
		Nodes:         e.AllNodes(),
		Relationships: e.AllRelationships(),
	}
	snapshot.Metadata = SnapshotMetadata{
		NodeCount:         len(snapshot.Nodes),
		RelationshipCount: len(snapshot.Relationships),
		Version:           snapshotVersion,
	}

	c, err := e.store.PutJSON(ctx, snapshot, true)
	if err != nil {
		return cid.Undef, err
	}
	e.logger.Info().Str("cid", c.String()).
		Int("nodes", snapshot.Metadata.NodeCount).
		Int("relationships", snapshot.Metadata.RelationshipCount).
		Msg("graph saved")
	return c, nil
}

// LoadGraph replaces the live index with the snapshot at root. Caches are
// cleared before loading.
func (e *Engine) LoadGraph(ctx context.Context, root cid.Cid) error {
	if !e.persistent() {
		return ErrPersistenceDisabled
	}

	var snapshot Snapshot
	if err := e.store.GetJSON(ctx, root, &snapshot); err != nil {
		return err
	}

	e.blockCache.Clear()

	e.nodeMu.Lock()
	e.nodes = make(map[string]*Node, len(snapshot.Nodes))
	e.nodeCIDs = make(map[string]cid.Cid)
	for _, n := range snapshot.Nodes {
		e.nodes[n.ID] = copyNode(n)
	}
	e.nodeMu.Unlock()

	e.relMu.Lock()
	e.rels = make(map[string]*Relationship, len(snapshot.Relationships))
	e.relCIDs = make(map[string]cid.Cid)
	for _, r := range snapshot.Relationships {
		e.rels[r.ID] = copyRelationship(r)
	}
	e.relMu.Unlock()

	e.logger.Info().Str("cid", root.String()).Msg("graph loaded")
	return nil
}

func dedupeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func hasAllLabels(node *Node, labels []string) bool {
	for _, want := range labels {
		found := false
		for _, have := range node.Labels {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func hasAllProperties(node *Node, properties map[string]any) bool {
	for k, want := range properties {
		have, ok := node.Properties[k]
		if !ok || !ValuesEqual(have, want) {
			return false
		}
	}
	return true
}
