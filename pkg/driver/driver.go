// Package driver exposes the Neo4j-shaped surface over the graph core:
// a URI-addressed Driver, Sessions with auto-commit and explicit
// transactions, bookmark-based causal chaining, and retrying
// read/write-transaction helpers.
//
// Example:
//
//	drv, err := driver.NewDriver("ipfs+embedded://", driver.Options{})
//	if err != nil { ... }
//	defer drv.Close()
//
//	session := drv.NewSession(driver.SessionOptions{})
//	defer session.Close(ctx)
//
//	result, err := session.Run(ctx, "CREATE (n:Person {name:'Alice'}) RETURN n.name", nil)
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/ipldgraph/pkg/blockstore"
	"github.com/orneryd/ipldgraph/pkg/config"
	"github.com/orneryd/ipldgraph/pkg/cypher"
	"github.com/orneryd/ipldgraph/pkg/graph"
	"github.com/orneryd/ipldgraph/pkg/txn"
	"github.com/orneryd/ipldgraph/pkg/wal"
)

// Driver errors.
var (
	// ErrInvalidURI indicates an unsupported scheme or malformed address.
	ErrInvalidURI = errors.New("invalid driver uri")
	// ErrDriverClosed indicates use after Close.
	ErrDriverClosed = errors.New("driver closed")
	// ErrAuthFailed indicates a rejected auth token.
	ErrAuthFailed = errors.New("authentication failed")
)

// Options configures driver construction.
type Options struct {
	// Config supplies tuning options; nil selects defaults.
	Config *config.Config
	// AuthTokenHash, when set, is the bcrypt hash sessions must match via
	// VerifyAuth.
	AuthTokenHash []byte
}

// Driver owns the block store, engine, WAL, and transaction manager.
// Sessions share these through the driver; different sessions may run in
// parallel.
type Driver struct {
	store    blockstore.Store
	engine   *graph.Engine
	log      *wal.WAL
	manager  *txn.Manager
	executor *cypher.Executor
	cfg      *config.Config

	authHash []byte
	ledger   *commitLedger

	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// NewDriver constructs a driver from a URI.
//
// Supported schemes:
//   - ipfs://host:port       external IPFS daemon
//   - ipfs+embedded://       in-process store; a path selects the
//     persistent Badger backend, no path selects memory
func NewDriver(uri string, opts Options) (*Driver, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	store, err := openStore(uri, cfg)
	if err != nil {
		return nil, err
	}

	engine := graph.NewEngine(graph.Options{Store: store, CacheCapacity: cfg.CacheCapacity})
	w := wal.New(store, wal.Options{CompactionThreshold: cfg.WALCompactionThreshold})
	manager := txn.NewManager(engine, w, txn.ManagerOptions{
		Database:         cfg.Database,
		DefaultIsolation: txn.Isolation(cfg.IsolationDefault),
		SnapshotOnBegin:  cfg.SnapshotOnBegin,
	})

	return &Driver{
		store:    store,
		engine:   engine,
		log:      w,
		manager:  manager,
		executor: cypher.NewExecutor(engine),
		cfg:      cfg,
		authHash: opts.AuthTokenHash,
		ledger:   newCommitLedger(),
		logger:   log.With().Str("component", "driver").Logger(),
	}, nil
}

// openStore maps the URI to a block-store backend.
func openStore(uri string, cfg *config.Config) (blockstore.Store, error) {
	switch {
	case strings.HasPrefix(uri, "ipfs+embedded://"):
		path := strings.TrimPrefix(uri, "ipfs+embedded://")
		if path == "" {
			return blockstore.NewMemoryStore(), nil
		}
		store, err := blockstore.OpenBadgerStore(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
		}
		return store, nil

	case strings.HasPrefix(uri, "ipfs://"):
		endpoint := strings.TrimPrefix(uri, "ipfs://")
		if endpoint == "" {
			endpoint = cfg.Endpoint
		}
		host, port, ok := strings.Cut(endpoint, ":")
		if !ok || host == "" || port == "" {
			return nil, fmt.Errorf("%w: ipfs:// requires host:port, got %q", ErrInvalidURI, endpoint)
		}
		return blockstore.NewDaemonStore(endpoint), nil
	}
	return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURI, uri)
}

// VerifyConnectivity probes the backend and returns a description of it.
// Failures surface as storage-kind errors.
func (d *Driver) VerifyConnectivity(ctx context.Context) (map[string]any, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDriverClosed
	}
	d.mu.Unlock()

	if daemon, ok := d.store.(*blockstore.DaemonStore); ok {
		return daemon.Verify(ctx)
	}
	stats, err := d.store.Stat(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blockstore.ErrIPLDStorage, err)
	}
	return map[string]any{
		"backend":     stats.Backend,
		"block_count": stats.BlockCount,
		"pin_count":   stats.PinCount,
		"database":    d.cfg.Database,
	}, nil
}

// VerifyAuth checks token against the configured bcrypt hash. A driver
// without a hash accepts everything.
func (d *Driver) VerifyAuth(token string) error {
	if len(d.authHash) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(d.authHash, []byte(token)); err != nil {
		return ErrAuthFailed
	}
	return nil
}

// HashAuthToken produces a bcrypt hash suitable for Options.AuthTokenHash.
func HashAuthToken(token string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
}

// Engine exposes the graph engine, mainly for migration tooling.
func (d *Driver) Engine() *graph.Engine {
	return d.engine
}

// WAL exposes the write-ahead log for recovery tooling.
func (d *Driver) WAL() *wal.WAL {
	return d.log
}

// Manager exposes the transaction manager for callers that buffer
// operations programmatically instead of through Cypher.
func (d *Driver) Manager() *txn.Manager {
	return d.manager
}

// Close releases the driver and its store.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.store.Close()
}

// commitLedger tracks committed transaction ids so sessions can honor
// bookmarks: a session opened with a bookmark blocks until the named
// transaction has been committed on this engine.
type commitLedger struct {
	mu   sync.Mutex
	cond *sync.Cond
	done map[string]struct{}
}

func newCommitLedger() *commitLedger {
	l := &commitLedger{done: make(map[string]struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *commitLedger) record(txnID string) {
	l.mu.Lock()
	l.done[txnID] = struct{}{}
	l.mu.Unlock()
	l.cond.Broadcast()
}

// wait blocks until txnID is recorded or ctx is done. It never silently
// downgrades: an unreplayed bookmark is an error, not an empty read.
func (l *commitLedger) wait(ctx context.Context, txnID string) error {
	// Wake the waiter when the context expires.
	stop := context.AfterFunc(ctx, func() {
		l.cond.Broadcast()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if _, ok := l.done[txnID]; ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for bookmark transaction %s: %w", txnID, err)
		}
		l.cond.Wait()
	}
}
