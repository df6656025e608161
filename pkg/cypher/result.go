package cypher

import "github.com/orneryd/ipldgraph/pkg/wal"

// Record is one result row: an explicit (keys, values) pair. Missing keys
// resolve to nil through Get; nothing here panics on absent data.
type Record struct {
	keys   []string
	values []any
}

// NewRecord builds a record from parallel key and value slices.
func NewRecord(keys []string, values []any) *Record {
	return &Record{keys: keys, values: values}
}

// Keys returns the column names in projection order.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Values returns the column values in projection order.
func (r *Record) Values() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

// Get returns the value bound to key, or def when the key is absent or nil.
func (r *Record) Get(key string, def any) any {
	for i, k := range r.keys {
		if k == key {
			if r.values[i] == nil {
				return def
			}
			return r.values[i]
		}
	}
	return def
}

// Value returns the value bound to key, or nil.
func (r *Record) Value(key string) any {
	return r.Get(key, nil)
}

// Index returns the value at positional index i, or nil when out of range.
func (r *Record) Index(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Data materializes the record as a key-to-value map.
func (r *Record) Data() map[string]any {
	out := make(map[string]any, len(r.keys))
	for i, k := range r.keys {
		out[k] = r.values[i]
	}
	return out
}

// Counters reports mutations performed by a query.
type Counters struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
}

// Summary describes a finished query execution.
type Summary struct {
	Query    string
	Error    *QueryError // nil on success
	Counters Counters
}

// Result is the ordered record sequence plus its summary. It always
// materializes, even on failure, so callers observe errors through the
// standard channel.
type Result struct {
	Keys    []string
	Records []*Record
	Summary Summary

	// Mutations performed while executing, in order. The session layer logs
	// these to the WAL when the surrounding transaction commits.
	Mutations []wal.Operation
}

// Err returns the recorded query error, or nil.
func (r *Result) Err() error {
	if r.Summary.Error == nil {
		return nil
	}
	return r.Summary.Error
}
