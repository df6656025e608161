// Package wal implements a hash-linked write-ahead log over the block store.
//
// Each transaction commit appends one entry; every entry carries the CID of
// its predecessor, so the head CID names the entire history. Entries are
// immutable blocks: compaction does not rewrite the chain, it appends a
// checkpoint entry and resets the entry counter.
//
// Append is the serialization point for durable writes: it runs in an
// exclusive critical section. Readers (Read, Recover, VerifyIntegrity,
// History, Stats) take a snapshot of the head and walk the chain without
// holding the writer lock.
//
// Chain traversal carries a visited set. A corrupt chain containing a cycle
// terminates the walk instead of looping; this is a hard requirement.
package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/orneryd/ipldgraph/pkg/blockstore"
)

// TxnState is the recorded outcome of a transaction.
type TxnState string

const (
	StatePending   TxnState = "PENDING"
	StateCommitted TxnState = "COMMITTED"
	StateAborted   TxnState = "ABORTED"
)

// OpType identifies a logged mutation.
type OpType string

const (
	OpWriteNode  OpType = "WRITE_NODE"
	OpDeleteNode OpType = "DELETE_NODE"
	OpWriteRel   OpType = "WRITE_REL"
	OpDeleteRel  OpType = "DELETE_REL"
)

// WAL errors.
var (
	// ErrAppendFailed indicates the entry block could not be written; the
	// owning transaction must abort.
	ErrAppendFailed = errors.New("wal append failed")
)

// Operation is one mutation within a transaction entry.
type Operation struct {
	Type     OpType         `json:"type"`
	TargetID string         `json:"target_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// CheckpointSummary describes the chain a compaction superseded.
type CheckpointSummary struct {
	UpToCID     string  `json:"up_to_cid"`
	EntriesSeen int     `json:"entries_seen"`
	CompactedAt float64 `json:"compacted_at"`
}

// Entry is a single WAL record, stored as a dag-json block.
// PrevWALCID is nil for the first entry in a store.
type Entry struct {
	TxnID      string             `json:"txn_id"`
	Timestamp  float64            `json:"timestamp"`
	Operations []Operation        `json:"operations"`
	TxnState   TxnState           `json:"txn_state"`
	PrevWALCID *string            `json:"prev_wal_cid"`
	Checkpoint *CheckpointSummary `json:"checkpoint,omitempty"`
}

// Stats is the observable WAL state.
type Stats struct {
	HeadCID         string `json:"head_cid"`
	EntryCount      int    `json:"entry_count"`
	NeedsCompaction bool   `json:"needs_compaction"`
}

// DefaultCompactionThreshold triggers NeedsCompaction when the entry counter
// reaches it.
const DefaultCompactionThreshold = 1000

// maxChainLength bounds every traversal; a healthy chain is far shorter
// between compactions, and a corrupt cyclic chain must not loop.
const maxChainLength = 1 << 20

// Options configures a WAL.
type Options struct {
	// CompactionThreshold for NeedsCompaction; 0 selects the default.
	CompactionThreshold int
	// Head resumes an existing chain. Leave undefined for a fresh log.
	Head cid.Cid
	// EntryCount resumes the counter alongside Head.
	EntryCount int
}

// WAL is the hash-linked write-ahead log.
type WAL struct {
	store blockstore.Store

	mu            sync.Mutex // guards head, entryCount, lastTimestamp
	head          cid.Cid
	entryCount    int
	lastTimestamp float64

	threshold int
	logger    zerolog.Logger
}

// New creates a WAL over store.
func New(store blockstore.Store, opts Options) *WAL {
	threshold := opts.CompactionThreshold
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}
	return &WAL{
		store:      store,
		head:       opts.Head,
		entryCount: opts.EntryCount,
		threshold:  threshold,
		logger:     log.With().Str("component", "wal").Logger(),
	}
}

// nextTimestamp returns a strictly increasing float timestamp in seconds.
// Must be called with w.mu held.
func (w *WAL) nextTimestamp() float64 {
	ts := float64(time.Now().UnixNano()) / 1e9
	if ts <= w.lastTimestamp {
		ts = w.lastTimestamp + 1e-6
	}
	w.lastTimestamp = ts
	return ts
}

// Append links entry to the current head, writes it, and advances the head.
// The entry's Timestamp and PrevWALCID are assigned here. Failure leaves the
// head unchanged and returns ErrAppendFailed.
func (w *WAL) Append(ctx context.Context, entry *Entry) (cid.Cid, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry.Timestamp = w.nextTimestamp()
	if w.head.Defined() {
		prev := w.head.String()
		entry.PrevWALCID = &prev
	} else {
		entry.PrevWALCID = nil
	}

	c, err := w.store.PutJSON(ctx, entry, true)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	w.head = c
	w.entryCount++
	w.logger.Debug().Str("txn", entry.TxnID).Str("cid", c.String()).Msg("wal entry appended")
	return c, nil
}

// Head returns the current head CID (undefined when the log is empty).
func (w *WAL) Head() cid.Cid {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.head
}

// Read walks the chain from the head and returns entries newest-first.
//
// A broken link stops the walk with an error for genuinely unreadable
// blocks; a cycle terminates the walk gracefully with the entries collected
// so far.
func (w *WAL) Read(ctx context.Context) ([]*Entry, error) {
	w.mu.Lock()
	head := w.head
	w.mu.Unlock()

	entries := []*Entry{}
	visited := make(map[string]struct{})
	current := head

	for current.Defined() && len(entries) < maxChainLength {
		key := current.String()
		if _, seen := visited[key]; seen {
			w.logger.Warn().Str("cid", key).Msg("cycle detected in wal chain; stopping traversal")
			break
		}
		visited[key] = struct{}{}

		var entry Entry
		if err := w.store.GetJSON(ctx, current, &entry); err != nil {
			return entries, fmt.Errorf("reading wal entry %s: %w", key, err)
		}
		entries = append(entries, &entry)

		if entry.PrevWALCID == nil {
			break
		}
		prev, err := cid.Decode(*entry.PrevWALCID)
		if err != nil {
			w.logger.Warn().Str("cid", key).Str("prev", *entry.PrevWALCID).Msg("invalid prev link; stopping traversal")
			break
		}
		current = prev
	}
	return entries, nil
}

// Recover returns the operations of COMMITTED entries in the order they
// would be re-applied: chronological, flattened. An empty log recovers to an
// empty list.
func (w *WAL) Recover(ctx context.Context) ([]Operation, error) {
	entries, err := w.Read(ctx)
	if err != nil {
		return nil, err
	}

	ops := []Operation{}
	// Read is newest-first; replay wants oldest-first.
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.TxnState != StateCommitted {
			continue
		}
		ops = append(ops, entry.Operations...)
	}
	return ops, nil
}

// Compact appends a checkpoint entry summarizing the chain up to upTo and
// resets the entry counter. The old entries remain reachable through the
// checkpoint's prev link; compaction changes accounting, not history.
func (w *WAL) Compact(ctx context.Context, upTo cid.Cid) (cid.Cid, error) {
	entries, err := w.Read(ctx)
	if err != nil {
		return cid.Undef, err
	}
	seen := 0
	for _, e := range entries {
		seen++
		if upTo.Defined() && e.PrevWALCID != nil && *e.PrevWALCID == upTo.String() {
			break
		}
	}

	upToStr := ""
	if upTo.Defined() {
		upToStr = upTo.String()
	}
	checkpoint := &Entry{
		TxnID:      "checkpoint",
		Operations: []Operation{},
		TxnState:   StateCommitted,
		Checkpoint: &CheckpointSummary{
			UpToCID:     upToStr,
			EntriesSeen: seen,
			CompactedAt: float64(time.Now().UnixNano()) / 1e9,
		},
	}

	c, err := w.Append(ctx, checkpoint)
	if err != nil {
		return cid.Undef, err
	}

	w.mu.Lock()
	w.entryCount = 0
	w.mu.Unlock()

	w.logger.Info().Str("cid", c.String()).Int("entries_seen", seen).Msg("wal compacted")
	return c, nil
}

// VerifyIntegrity walks the chain and reports whether every link resolves
// and timestamps are non-increasing newest-first. It never returns an error:
// unreadable blocks, cycles, and out-of-order timestamps all yield false.
// An empty log is trivially valid.
func (w *WAL) VerifyIntegrity(ctx context.Context) bool {
	w.mu.Lock()
	head := w.head
	w.mu.Unlock()

	if !head.Defined() {
		return true
	}

	visited := make(map[string]struct{})
	current := head
	last := -1.0 // sentinel: first entry always accepted
	steps := 0

	for current.Defined() {
		if steps++; steps > maxChainLength {
			return false
		}
		key := current.String()
		if _, seen := visited[key]; seen {
			return false // cycle
		}
		visited[key] = struct{}{}

		var entry Entry
		if err := w.store.GetJSON(ctx, current, &entry); err != nil {
			return false // broken link
		}
		if last >= 0 && entry.Timestamp > last {
			return false // newer entry behind an older one
		}
		last = entry.Timestamp

		if entry.PrevWALCID == nil {
			return true
		}
		prev, err := cid.Decode(*entry.PrevWALCID)
		if err != nil {
			return false
		}
		current = prev
	}
	return true
}

// History returns every entry recorded for txnID, newest-first.
func (w *WAL) History(ctx context.Context, txnID string) ([]*Entry, error) {
	entries, err := w.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range entries {
		if e.TxnID == txnID {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetStats reports the head, the counter, and whether the counter has
// reached the compaction threshold.
func (w *WAL) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	head := ""
	if w.head.Defined() {
		head = w.head.String()
	}
	return Stats{
		HeadCID:         head,
		EntryCount:      w.entryCount,
		NeedsCompaction: w.entryCount >= w.threshold,
	}
}
