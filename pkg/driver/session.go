package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/orneryd/ipldgraph/pkg/blockstore"
	"github.com/orneryd/ipldgraph/pkg/bookmark"
	"github.com/orneryd/ipldgraph/pkg/txn"
	"github.com/orneryd/ipldgraph/pkg/wal"
)

// Session errors.
var (
	ErrSessionClosed     = errors.New("session closed")
	ErrTransactionOpen   = errors.New("session already has an open transaction")
	ErrNoOpenTransaction = errors.New("no open transaction")
)

// SessionOptions configures NewSession.
type SessionOptions struct {
	// Database overrides the driver's configured database name.
	Database string
	// Bookmarks are causal tokens from earlier sessions; queries block
	// until the named transactions are visible on this engine.
	Bookmarks []string
}

// Session is a caller-owned unit of work. One caller at a time; different
// sessions on the same driver are independent.
type Session struct {
	driver   *Driver
	database string

	bookmarks     *bookmark.Bookmarks // consumed for causal waits
	lastBookmarks *bookmark.Bookmarks // produced by this session

	open   *Transaction
	closed bool
}

// NewSession creates a session bound to a database and optional bookmarks.
func (d *Driver) NewSession(opts SessionOptions) *Session {
	database := opts.Database
	if database == "" {
		database = d.cfg.Database
	}
	return &Session{
		driver:        d,
		database:      database,
		bookmarks:     bookmark.NewBookmarks(opts.Bookmarks...),
		lastBookmarks: bookmark.NewBookmarks(),
	}
}

// awaitBookmarks blocks until every session bookmark's transaction has
// committed on this engine.
func (s *Session) awaitBookmarks(ctx context.Context) error {
	for _, b := range s.bookmarks.All() {
		if err := s.driver.ledger.wait(ctx, b.TransactionID); err != nil {
			return err
		}
	}
	return nil
}

// Run executes a query in an auto-commit transaction.
//
// The returned Result always materializes; pipeline failures are carried in
// its summary, while transaction-level failures (WAL append) are returned
// as errors.
func (s *Session) Run(ctx context.Context, query string, params map[string]any) (*Result, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.open != nil {
		return nil, ErrTransactionOpen
	}
	if err := s.awaitBookmarks(ctx); err != nil {
		return nil, err
	}

	inner := s.driver.executor.Execute(ctx, query, params)
	result := &Result{Result: inner}
	if inner.Err() != nil {
		return result, nil
	}

	if len(inner.Mutations) > 0 {
		b, err := s.commitOps(ctx, inner.Mutations)
		if err != nil {
			return nil, err
		}
		s.lastBookmarks.Add(b)
	}
	return result, nil
}

// commitOps appends one WAL entry for performed mutations and issues the
// bookmark.
func (s *Session) commitOps(ctx context.Context, ops []wal.Operation) (*bookmark.Bookmark, error) {
	id := "tx-" + newTxnSuffix()
	entry := &wal.Entry{
		TxnID:      id,
		Operations: ops,
		TxnState:   wal.StateCommitted,
	}
	if _, err := s.driver.log.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: wal append: %v", txn.ErrTransaction, err)
	}
	s.driver.ledger.record(id)
	return bookmark.New(id, s.database), nil
}

// BeginTransaction opens an explicit transaction. The session supports one
// at a time.
func (s *Session) BeginTransaction(ctx context.Context) (*Transaction, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.open != nil {
		return nil, ErrTransactionOpen
	}
	if err := s.awaitBookmarks(ctx); err != nil {
		return nil, err
	}

	snapshot, err := s.driver.engine.SaveGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: capturing snapshot: %v", txn.ErrTransaction, err)
	}

	t := &Transaction{
		session:  s,
		id:       "tx-" + newTxnSuffix(),
		snapshot: snapshot,
		status:   txn.StatusActive,
	}
	s.open = t
	return t, nil
}

// TransactionWork is a unit of work run with retry by ReadTransaction and
// WriteTransaction.
type TransactionWork func(tx *Transaction) (any, error)

// ReadTransaction runs work in a transaction, retrying retryable failures
// with exponential backoff. Attempts are bounded by retry_max_attempts;
// once exceeded the last error is returned.
func (s *Session) ReadTransaction(ctx context.Context, work TransactionWork) (any, error) {
	return s.retryingTransaction(ctx, work)
}

// WriteTransaction is ReadTransaction's write-path twin; the engine makes
// no distinction, the split mirrors the driver surface callers expect.
func (s *Session) WriteTransaction(ctx context.Context, work TransactionWork) (any, error) {
	return s.retryingTransaction(ctx, work)
}

func (s *Session) retryingTransaction(ctx context.Context, work TransactionWork) (any, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(s.driver.cfg.RetryInitialBackoffMS) * time.Millisecond
	policy.Reset()

	var lastErr error
	for attempt := 0; attempt < s.driver.cfg.RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.NextBackOff()):
			}
		}

		value, err := s.runOnce(ctx, work)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *Session) runOnce(ctx context.Context, work TransactionWork) (any, error) {
	t, err := s.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	value, err := work(t)
	if err != nil {
		_ = t.Rollback(ctx)
		return nil, err
	}
	if err := t.Commit(ctx); err != nil {
		return nil, err
	}
	return value, nil
}

// isRetryable classifies transient failures worth another attempt.
func isRetryable(err error) bool {
	return errors.Is(err, txn.ErrTransactionConflict) ||
		errors.Is(err, txn.ErrTransactionTimeout) ||
		errors.Is(err, blockstore.ErrStorage)
}

// LastBookmark returns the most recent bookmark string, or "".
func (s *Session) LastBookmark() string {
	latest := s.lastBookmarks.LatestForDatabase(s.database)
	if latest == nil {
		return ""
	}
	return latest.String()
}

// LastBookmarks returns every bookmark this session has produced, plus the
// ones it was opened with.
func (s *Session) LastBookmarks() []string {
	return s.bookmarks.Merge(s.lastBookmarks).Strings()
}

// Close aborts any open transaction and releases the session.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.open != nil {
		return s.open.Rollback(ctx)
	}
	return nil
}
