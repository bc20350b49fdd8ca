// Package pxbadger contains a [pxstore.KV] backed by BadgerDB.
package pxbadger

import (
	"context"
	"errors"
	"fmt"
	"runtime/trace"
	"sync/atomic"

	"github.com/dgraph-io/badger/v3"
	"github.com/gordian-engine/gproxy/px/pxstore"
)

// KV is a [pxstore.KV] backed by a Badger database.
type KV struct {
	db     *badger.DB
	closed atomic.Bool
}

// Open opens or creates a Badger database in the directory at path.
func Open(path string) (*KV, error) {
	return open(badger.DefaultOptions(path))
}

// OpenInMemory opens a Badger database that keeps everything in memory.
func OpenInMemory() (*KV, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*KV, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &KV{db: db}, nil
}

func (s *KV) Get(ctx context.Context, key []byte) ([]byte, error) {
	defer trace.StartRegion(ctx, "Get").End()

	vals, err := s.GetMulti(ctx, [][]byte{key})
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}

func (s *KV) GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error) {
	defer trace.StartRegion(ctx, "GetMulti").End()

	if s.closed.Load() {
		return nil, pxstore.ErrClosed
	}

	out := make([][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, k := range keys {
			item, err := txn.Get(k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if out[i], err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read from badger: %w", err)
	}
	return out, nil
}

func (s *KV) Contains(ctx context.Context, key []byte) (bool, error) {
	found, err := s.ContainsMulti(ctx, [][]byte{key})
	if err != nil {
		return false, err
	}
	return found[0], nil
}

func (s *KV) ContainsMulti(ctx context.Context, keys [][]byte) ([]bool, error) {
	defer trace.StartRegion(ctx, "ContainsMulti").End()

	if s.closed.Load() {
		return nil, pxstore.ErrClosed
	}

	out := make([]bool, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, k := range keys {
			_, err := txn.Get(k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[i] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read from badger: %w", err)
	}
	return out, nil
}

func (s *KV) Write(ctx context.Context, b *pxstore.Batch) error {
	defer trace.StartRegion(ctx, "Write").End()

	if s.closed.Load() {
		return pxstore.ErrClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.Ops {
			var err error
			if op.IsDelete() {
				err = txn.Delete(op.Key)
			} else {
				// Badger may hold on to the slice until commit.
				err = txn.Set(op.Key, append([]byte(nil), op.Value...))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write to badger: %w", err)
	}
	return nil
}

func (s *KV) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
