// Package blockstore provides content-addressed block storage for ipldgraph.
//
// Every persisted value (node, relationship, WAL entry, snapshot) is stored as
// an immutable block addressed by its CID. The CID is a pure function of the
// block bytes and codec, so storing the same bytes twice always yields the
// same address.
//
// Three backends implement the Store interface:
//   - MemoryStore: in-process map, used for tests and ipfs+embedded:// without
//     a data directory
//   - BadgerStore: persistent embedded store on Badger
//   - DaemonStore: HTTP client for an external IPFS daemon
//
// Usage:
//
//	store := blockstore.NewMemoryStore()
//	c, err := store.Put(ctx, data, blockstore.CodecDagJSON, true)
//	raw, err := store.Get(ctx, c)
package blockstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Codec identifies the multicodec of a stored block.
type Codec uint64

const (
	// CodecRaw stores opaque bytes.
	CodecRaw Codec = 0x55
	// CodecDagJSON stores canonical JSON values.
	CodecDagJSON Codec = 0x0129
	// CodecDagCBOR is used by the CAR migration path.
	CodecDagCBOR Codec = 0x71
)

// Storage error kinds. Callers classify failures with errors.Is.
var (
	// ErrStorage indicates an underlying I/O or connection failure.
	ErrStorage = errors.New("storage error")
	// ErrSerialization indicates a value could not be encoded for storage.
	ErrSerialization = errors.New("serialization error")
	// ErrDeserialization indicates corrupt bytes or invalid JSON on retrieval.
	ErrDeserialization = errors.New("deserialization error")
	// ErrIPLDStorage indicates a failed connectivity check or unexpected
	// backend error.
	ErrIPLDStorage = errors.New("ipld storage error")
	// ErrNotFound indicates the requested CID is not present in the store.
	ErrNotFound = errors.New("block not found")
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("blockstore closed")
)

// Stats describes the observable state of a block store.
type Stats struct {
	Backend    string `json:"backend"`
	BlockCount int64  `json:"block_count"`
	PinCount   int64  `json:"pin_count"`
}

// Store is the content-addressed storage contract.
//
// Put is idempotent: equal bytes under an equal codec always return the same
// CID. Unpin is best-effort; the absence of a pin is not an error.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, data []byte, codec Codec, pin bool) (cid.Cid, error)
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
	GetJSON(ctx context.Context, c cid.Cid, out any) error
	PutJSON(ctx context.Context, v any, pin bool) (cid.Cid, error)
	Unpin(ctx context.Context, c cid.Cid) error
	Stat(ctx context.Context) (Stats, error)
	Close() error
}

// ComputeCID derives the CIDv1 for data under the given codec.
// sha2-256 matches what an IPFS daemon produces for block/put.
func ComputeCID(data []byte, codec Codec) (cid.Cid, error) {
	builder := cid.V1Builder{Codec: uint64(codec), MhType: mh.SHA2_256}
	c, err := builder.Sum(data)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: computing cid: %v", ErrStorage, err)
	}
	return c, nil
}

// marshalJSON encodes v for dag-json storage. Map keys are sorted by
// encoding/json, which keeps the encoding canonical for our value domain
// (strings, numbers, booleans, null, lists, string-keyed maps).
func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// unmarshalJSON decodes block bytes into out, mapping failures to the
// deserialization kind so callers can evict and retry.
func unmarshalJSON(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: invalid JSON block: %v", ErrDeserialization, err)
	}
	return nil
}
