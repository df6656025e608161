// Package bookmark implements causal-consistency tokens.
//
// A bookmark is produced at transaction commit and consumed by later
// sessions: a session opened with a bookmark must observe a state at least
// as new as the commit the bookmark names. The string form is stable and
// round-trips through Parse.
package bookmark

import (
	"fmt"
	"strings"
	"time"
)

// prefix and version of the wire form "bookmark:v1:<database>:<txn_id>".
const (
	prefix  = "bookmark"
	version = "v1"
)

// Bookmark is a causal token for one committed transaction.
// Two bookmarks are equal when their string forms are equal; the creation
// timestamp only orders them.
type Bookmark struct {
	TransactionID string
	Database      string
	CreatedAt     time.Time
}

// New creates a bookmark for txnID in database, stamped now.
func New(txnID, database string) *Bookmark {
	return &Bookmark{
		TransactionID: txnID,
		Database:      database,
		CreatedAt:     time.Now(),
	}
}

// Parse decodes the string form. Returns nil for anything that is not a
// v1 bookmark.
func Parse(s string) *Bookmark {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[0] != prefix || parts[1] != version {
		return nil
	}
	if parts[2] == "" || parts[3] == "" {
		return nil
	}
	return &Bookmark{
		Database:      parts[2],
		TransactionID: parts[3],
		CreatedAt:     time.Now(),
	}
}

// String renders the wire form.
func (b *Bookmark) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", prefix, version, b.Database, b.TransactionID)
}

// Equal compares by string form.
func (b *Bookmark) Equal(other *Bookmark) bool {
	return other != nil && b.String() == other.String()
}

// NewerThan orders bookmarks by creation timestamp.
func (b *Bookmark) NewerThan(other *Bookmark) bool {
	return other != nil && b.CreatedAt.After(other.CreatedAt)
}

// Bookmarks is an ordered collection deduplicated by string form.
type Bookmarks struct {
	order []*Bookmark
	seen  map[string]struct{}
}

// NewBookmarks creates a collection from zero or more string forms.
// Invalid strings are ignored.
func NewBookmarks(strs ...string) *Bookmarks {
	bs := &Bookmarks{seen: make(map[string]struct{})}
	for _, s := range strs {
		if b := Parse(s); b != nil {
			bs.Add(b)
		}
	}
	return bs
}

// Add inserts b unless an equal bookmark is already present.
func (bs *Bookmarks) Add(b *Bookmark) {
	if b == nil {
		return
	}
	key := b.String()
	if _, dup := bs.seen[key]; dup {
		return
	}
	bs.seen[key] = struct{}{}
	bs.order = append(bs.order, b)
}

// Len returns the number of distinct bookmarks.
func (bs *Bookmarks) Len() int {
	return len(bs.order)
}

// IsEmpty reports whether the collection holds no bookmarks.
func (bs *Bookmarks) IsEmpty() bool {
	return len(bs.order) == 0
}

// All returns the bookmarks in insertion order.
func (bs *Bookmarks) All() []*Bookmark {
	out := make([]*Bookmark, len(bs.order))
	copy(out, bs.order)
	return out
}

// Strings returns the wire forms in insertion order.
func (bs *Bookmarks) Strings() []string {
	out := make([]string, len(bs.order))
	for i, b := range bs.order {
		out[i] = b.String()
	}
	return out
}

// LatestForDatabase returns the newest bookmark recorded for db, or nil.
func (bs *Bookmarks) LatestForDatabase(db string) *Bookmark {
	var latest *Bookmark
	for _, b := range bs.order {
		if b.Database != db {
			continue
		}
		if latest == nil || b.NewerThan(latest) {
			latest = b
		}
	}
	return latest
}

// Merge returns the union of bs and other without mutating either.
func (bs *Bookmarks) Merge(other *Bookmarks) *Bookmarks {
	merged := &Bookmarks{seen: make(map[string]struct{})}
	for _, b := range bs.order {
		merged.Add(b)
	}
	if other != nil {
		for _, b := range other.order {
			merged.Add(b)
		}
	}
	return merged
}
