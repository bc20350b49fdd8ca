package pxstore

import (
	"context"
)

// KV is the key-value backend that [DBStorage] is built on.
//
// A nil value from Get or GetMulti means the key is absent;
// stored values are never empty.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error)

	Contains(ctx context.Context, key []byte) (bool, error)
	ContainsMulti(ctx context.Context, keys [][]byte) ([]bool, error)

	// Write applies every operation of b atomically.
	Write(ctx context.Context, b *Batch) error

	Close() error
}

// Batch is an ordered list of writes applied atomically by [KV.Write].
// When a batch touches the same key twice, the later operation wins.
type Batch struct {
	Ops []BatchOp
}

// BatchOp is a single put or delete.
type BatchOp struct {
	Key   []byte
	Value []byte // Nil for a delete.
}

// Put appends a write of value at key.
func (b *Batch) Put(key, value []byte) {
	if len(value) == 0 {
		panic("BUG: KV values must not be empty")
	}
	b.Ops = append(b.Ops, BatchOp{Key: key, Value: value})
}

// Delete appends a deletion of key.
func (b *Batch) Delete(key []byte) {
	b.Ops = append(b.Ops, BatchOp{Key: key})
}

func (b *Batch) Len() int {
	return len(b.Ops)
}

// IsDelete reports whether op deletes its key.
func (op BatchOp) IsDelete() bool {
	return op.Value == nil
}
