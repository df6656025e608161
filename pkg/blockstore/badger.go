package blockstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Key prefixes in the Badger keyspace.
var (
	prefixBlock = []byte("b/")
	prefixPin   = []byte("p/")
)

// BadgerStore is a persistent embedded block store.
//
// Blocks live under "b/<cid>" and pin marks under "p/<cid>". Badger
// serializes writers internally, so the store needs no additional locking.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

// OpenBadgerStore opens (or creates) a Badger-backed store at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty for a library
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger at %s: %v", ErrStorage, dir, err)
	}
	return &BadgerStore{
		db:     db,
		logger: log.With().Str("component", "blockstore").Str("backend", "badger").Logger(),
	}, nil
}

func blockKey(c cid.Cid) []byte {
	return append(append([]byte{}, prefixBlock...), c.String()...)
}

func pinKey(c cid.Cid) []byte {
	return append(append([]byte{}, prefixPin...), c.String()...)
}

// Put stores data and returns its CID.
func (s *BadgerStore) Put(ctx context.Context, data []byte, codec Codec, pin bool) (cid.Cid, error) {
	c, err := ComputeCID(data, codec)
	if err != nil {
		return cid.Undef, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(c), data); err != nil {
			return err
		}
		if pin {
			return txn.Set(pinKey(c), []byte{1})
		}
		return nil
	})
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: badger put: %v", ErrStorage, err)
	}
	return c, nil
}

// Get returns the bytes stored under c.
func (s *BadgerStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(c))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: badger get: %v", ErrStorage, err)
	}
	return data, nil
}

// GetJSON retrieves and decodes a dag-json block into out.
func (s *BadgerStore) GetJSON(ctx context.Context, c cid.Cid, out any) error {
	data, err := s.Get(ctx, c)
	if err != nil {
		return err
	}
	return unmarshalJSON(data, out)
}

// PutJSON encodes v as dag-json and stores it.
func (s *BadgerStore) PutJSON(ctx context.Context, v any, pin bool) (cid.Cid, error) {
	data, err := marshalJSON(v)
	if err != nil {
		return cid.Undef, err
	}
	return s.Put(ctx, data, CodecDagJSON, pin)
}

// Unpin removes the pin mark for c.
func (s *BadgerStore) Unpin(ctx context.Context, c cid.Cid) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(pinKey(c))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: badger unpin: %v", ErrStorage, err)
	}
	return nil
}

// Stat reports block and pin counts by scanning the keyspace.
func (s *BadgerStore) Stat(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: "badger"}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixBlock); it.ValidForPrefix(prefixBlock); it.Next() {
			stats.BlockCount++
		}
		for it.Seek(prefixPin); it.ValidForPrefix(prefixPin); it.Next() {
			stats.PinCount++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: badger stat: %v", ErrStorage, err)
	}
	return stats, nil
}

// Close closes the underlying Badger database.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: badger close: %v", ErrStorage, err)
	}
	return nil
}

var _ Store = (*BadgerStore)(nil)
