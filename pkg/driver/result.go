package driver

import (
	"errors"

	"github.com/orneryd/ipldgraph/pkg/cypher"
)

// ErrNotSingle indicates Single was called on a result without exactly one
// record.
var ErrNotSingle = errors.New("result does not contain exactly one record")

// Result wraps the pipeline result with the driver-level accessors.
type Result struct {
	*cypher.Result
}

// Single returns the sole record, or fails when the result holds zero or
// more than one.
func (r *Result) Single() (*cypher.Record, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(r.Records) != 1 {
		return nil, ErrNotSingle
	}
	return r.Records[0], nil
}

// Data materializes every record as a key-to-value map.
func (r *Result) Data() []map[string]any {
	out := make([]map[string]any, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.Data()
	}
	return out
}

// Consume returns the summary.
func (r *Result) Consume() cypher.Summary {
	return r.Summary
}
