// Package txn coordinates transactions over the graph engine and the WAL.
//
// A transaction buffers its operations; nothing touches the engine until
// commit. Commit first appends a COMMITTED entry to the WAL (the durability
// point), then applies the buffered operations in order, then issues a
// bookmark. A WAL append failure aborts the transaction with nothing
// applied. An application failure rolls back what was applied.
//
// Rollback uses two strategies in order: restore the snapshot captured at
// begin (Serializable, or on request, when persistence is enabled), else
// reverse the operations that were applied using recorded pre-images.
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/orneryd/ipldgraph/pkg/graph"
	"github.com/orneryd/ipldgraph/pkg/wal"
)

// Transaction errors.
var (
	// ErrTransaction is the generic transaction failure: commit apply
	// failed, snapshot capture failed, WAL append failed.
	ErrTransaction = errors.New("transaction error")
	// ErrTransactionConflict indicates two transactions violated the
	// declared isolation level. Retryable.
	ErrTransactionConflict = errors.New("transaction conflict")
	// ErrTransactionAborted indicates an explicit or cascaded abort.
	// Not retryable.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrTransactionTimeout indicates the transaction's deadline expired.
	ErrTransactionTimeout = errors.New("transaction timeout")
	// ErrTransactionClosed indicates an operation on a finished transaction.
	ErrTransactionClosed = errors.New("transaction already closed")
)

// Isolation is the declared isolation level of a transaction.
type Isolation string

const (
	ReadCommitted  Isolation = "READ_COMMITTED"
	RepeatableRead Isolation = "REPEATABLE_READ"
	Serializable   Isolation = "SERIALIZABLE"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusActive     Status = "active"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
)

// Options configures Begin.
type Options struct {
	Isolation Isolation
	// Timeout aborts the transaction when exceeded; 0 means none.
	Timeout time.Duration
	// CaptureSnapshot forces a pre-commit snapshot even below Serializable.
	CaptureSnapshot bool
}

// Manager begins, commits, and rolls back transactions for one database.
type Manager struct {
	engine   *graph.Engine
	log      *wal.WAL
	database string

	defaultIsolation Isolation
	snapshotOnBegin  bool

	mu     sync.Mutex
	active map[string]*Transaction

	logger zerolog.Logger
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Database         string
	DefaultIsolation Isolation
	SnapshotOnBegin  bool
}

// NewManager creates a transaction manager over engine and wal.
func NewManager(engine *graph.Engine, w *wal.WAL, opts ManagerOptions) *Manager {
	isolation := opts.DefaultIsolation
	if isolation == "" {
		isolation = ReadCommitted
	}
	database := opts.Database
	if database == "" {
		database = "default"
	}
	return &Manager{
		engine:           engine,
		log:              w,
		database:         database,
		defaultIsolation: isolation,
		snapshotOnBegin:  opts.SnapshotOnBegin,
		active:           make(map[string]*Transaction),
		logger:           log.With().Str("component", "txn").Str("database", database).Logger(),
	}
}

// Engine returns the graph engine this manager coordinates.
func (m *Manager) Engine() *graph.Engine {
	return m.engine
}

// WAL returns the write-ahead log this manager appends to.
func (m *Manager) WAL() *wal.WAL {
	return m.log
}

// Begin starts an active transaction.
//
// For Serializable isolation, or when a snapshot is requested, a pre-commit
// snapshot is captured so rollback can restore it. Snapshot capture failures
// map to ErrTransaction.
func (m *Manager) Begin(ctx context.Context, opts Options) (*Transaction, error) {
	isolation := opts.Isolation
	if isolation == "" {
		isolation = m.defaultIsolation
	}

	tx := &Transaction{
		id:        "tx-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		mgr:       m,
		isolation: isolation,
		status:    StatusActive,
		started:   time.Now(),
		writes:    make(map[string]struct{}),
	}
	if opts.Timeout > 0 {
		tx.deadline = tx.started.Add(opts.Timeout)
	}

	wantSnapshot := opts.CaptureSnapshot || m.snapshotOnBegin || isolation == Serializable
	if wantSnapshot {
		c, err := m.captureSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		tx.snapshot = c
	}

	m.mu.Lock()
	m.active[tx.id] = tx
	m.mu.Unlock()

	m.logger.Debug().Str("txn", tx.id).Str("isolation", string(isolation)).Msg("transaction started")
	return tx, nil
}

// captureSnapshot saves the graph for rollback. A disabled-persistence
// engine yields no snapshot and no error; real storage failures map to
// ErrTransaction.
func (m *Manager) captureSnapshot(ctx context.Context) (cid.Cid, error) {
	c, err := m.engine.SaveGraph(ctx)
	if err != nil {
		if errors.Is(err, graph.ErrPersistenceDisabled) {
			return cid.Undef, nil
		}
		return cid.Undef, fmt.Errorf("%w: snapshot capture failed: %v", ErrTransaction, err)
	}
	return c, nil
}

// release removes tx from the active set.
func (m *Manager) release(tx *Transaction) {
	m.mu.Lock()
	delete(m.active, tx.id)
	m.mu.Unlock()
}

// checkConflicts enforces Serializable write sets: a Serializable
// transaction may not commit a write that another active transaction has
// also buffered.
func (m *Manager) checkConflicts(tx *Transaction) error {
	if tx.isolation != Serializable {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.active {
		if id == tx.id {
			continue
		}
		other.mu.Lock()
		for target := range tx.writes {
			if _, clash := other.writes[target]; clash {
				other.mu.Unlock()
				return fmt.Errorf("%w: %s also written by %s", ErrTransactionConflict, target, id)
			}
		}
		other.mu.Unlock()
	}
	return nil
}

// Database returns the database name bookmarks are issued under.
func (m *Manager) Database() string {
	return m.database
}
