// Package pxstoretest contains compliance suites
// for [pxstore.KV] backends and [pxstore.Storage] implementations.
package pxstoretest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gproxy/px/pxstore"
	"github.com/stretchr/testify/require"
)

type KVFactory func(cleanup func(func())) (pxstore.KV, error)

func TestKVCompliance(t *testing.T, f KVFactory) {
	t.Run("missing key", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		kv, err := f(t.Cleanup)
		require.NoError(t, err)

		v, err := kv.Get(ctx, []byte("missing"))
		require.NoError(t, err)
		require.Nil(t, v)

		ok, err := kv.Contains(ctx, []byte("missing"))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("put and get", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		kv, err := f(t.Cleanup)
		require.NoError(t, err)

		var b pxstore.Batch
		b.Put([]byte("a"), []byte("apple"))
		b.Put([]byte("b"), []byte("banana"))
		require.NoError(t, kv.Write(ctx, &b))

		v, err := kv.Get(ctx, []byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("apple"), v)

		ok, err := kv.Contains(ctx, []byte("b"))
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("multi reads preserve request order", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		kv, err := f(t.Cleanup)
		require.NoError(t, err)

		var b pxstore.Batch
		b.Put([]byte{1}, []byte("one"))
		b.Put([]byte{3}, []byte("three"))
		require.NoError(t, kv.Write(ctx, &b))

		keys := [][]byte{{3}, {2}, {1}, {3}}

		vals, err := kv.GetMulti(ctx, keys)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("three"), nil, []byte("one"), []byte("three")}, vals)

		found, err := kv.ContainsMulti(ctx, keys)
		require.NoError(t, err)
		require.Equal(t, []bool{true, false, true, true}, found)

		vals, err = kv.GetMulti(ctx, nil)
		require.NoError(t, err)
		require.Empty(t, vals)
	})

	t.Run("delete and overwrite", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		kv, err := f(t.Cleanup)
		require.NoError(t, err)

		var b pxstore.Batch
		b.Put([]byte("k"), []byte("v1"))
		b.Put([]byte("gone"), []byte("soon"))
		require.NoError(t, kv.Write(ctx, &b))

		b = pxstore.Batch{}
		b.Put([]byte("k"), []byte("v2"))
		b.Delete([]byte("gone"))
		require.NoError(t, kv.Write(ctx, &b))

		v, err := kv.Get(ctx, []byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), v)

		ok, err := kv.Contains(ctx, []byte("gone"))
		require.NoError(t, err)
		require.False(t, ok)

		// Deleting a missing key is not an error.
		b = pxstore.Batch{}
		b.Delete([]byte("never"))
		require.NoError(t, kv.Write(ctx, &b))
	})

	t.Run("later operation in a batch wins", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		kv, err := f(t.Cleanup)
		require.NoError(t, err)

		var b pxstore.Batch
		b.Put([]byte("x"), []byte("first"))
		b.Put([]byte("x"), []byte("second"))
		b.Put([]byte("y"), []byte("kept"))
		b.Delete([]byte("y"))
		require.NoError(t, kv.Write(ctx, &b))

		vals, err := kv.GetMulti(ctx, [][]byte{[]byte("x"), []byte("y")})
		require.NoError(t, err)
		require.Equal(t, []byte("second"), vals[0])
		require.Nil(t, vals[1])
	})

	t.Run("returned values are not aliased", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		kv, err := f(t.Cleanup)
		require.NoError(t, err)

		val := []byte("original")
		var b pxstore.Batch
		b.Put([]byte("k"), val)
		require.NoError(t, kv.Write(ctx, &b))
		val[0] = 'X'

		got, err := kv.Get(ctx, []byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("original"), got)
		got[0] = 'Y'

		got, err = kv.Get(ctx, []byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("original"), got)
	})
}
