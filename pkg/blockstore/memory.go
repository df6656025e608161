package blockstore

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MemoryStore is an in-process content-addressed store.
//
// It backs ipfs+embedded:// when no data directory is configured and is the
// default store in tests. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string][]byte
	pins   map[string]struct{}
	closed bool
	logger zerolog.Logger
}

// NewMemoryStore creates an empty in-memory block store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[string][]byte),
		pins:   make(map[string]struct{}),
		logger: log.With().Str("component", "blockstore").Str("backend", "memory").Logger(),
	}
}

// Put stores data and returns its CID. Idempotent for equal bytes and codec.
func (s *MemoryStore) Put(ctx context.Context, data []byte, codec Codec, pin bool) (cid.Cid, error) {
	c, err := ComputeCID(data, codec)
	if err != nil {
		return cid.Undef, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cid.Undef, ErrClosed
	}

	key := c.String()
	if _, exists := s.blocks[key]; !exists {
		stored := make([]byte, len(data))
		copy(stored, data)
		s.blocks[key] = stored
	}
	if pin {
		s.pins[key] = struct{}{}
	}
	return c, nil
}

// Get returns the bytes stored under c.
func (s *MemoryStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	data, ok := s.blocks[c.String()]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// GetJSON retrieves and decodes a dag-json block into out.
func (s *MemoryStore) GetJSON(ctx context.Context, c cid.Cid, out any) error {
	data, err := s.Get(ctx, c)
	if err != nil {
		return err
	}
	return unmarshalJSON(data, out)
}

// PutJSON encodes v as dag-json and stores it.
func (s *MemoryStore) PutJSON(ctx context.Context, v any, pin bool) (cid.Cid, error) {
	data, err := marshalJSON(v)
	if err != nil {
		return cid.Undef, err
	}
	return s.Put(ctx, data, CodecDagJSON, pin)
}

// Unpin removes the pin mark for c. Missing pins are not an error.
func (s *MemoryStore) Unpin(ctx context.Context, c cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.pins, c.String())
	return nil
}

// Stat reports block and pin counts.
func (s *MemoryStore) Stat(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, ErrClosed
	}
	return Stats{
		Backend:    "memory",
		BlockCount: int64(len(s.blocks)),
		PinCount:   int64(len(s.pins)),
	}, nil
}

// Close releases the store. Subsequent calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.blocks = nil
	s.pins = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
