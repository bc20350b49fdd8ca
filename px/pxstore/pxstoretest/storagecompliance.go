package pxstoretest

import (
	"context"
	"fmt"
	"testing"

	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/gordian-engine/gproxy/px/pxchain/pxchaintest"
	"github.com/gordian-engine/gproxy/px/pxstore"
	"github.com/stretchr/testify/require"
)

type StorageFactory func(cleanup func(func())) (pxstore.Storage, error)

func TestStorageCompliance(t *testing.T, f StorageFactory) {
	t.Run("blobs", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		a := pxchaintest.DataBlob("a")
		b := pxchaintest.DataBlob("b")

		_, err = s.ReadBlob(ctx, a.ID())
		var notFound pxstore.BlobsNotFoundError
		require.ErrorAs(t, err, &notFound)
		require.Equal(t, []pxchain.BlobID{a.ID()}, notFound.IDs)

		require.NoError(t, s.WriteBlob(ctx, a))

		ok, err := s.ContainsBlob(ctx, a.ID())
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.ReadBlob(ctx, a.ID())
		require.NoError(t, err)
		require.Equal(t, a.ID(), got.ID())
		require.Equal(t, []byte("a"), got.Bytes())

		missing, err := s.MissingBlobs(ctx, []pxchain.BlobID{b.ID(), a.ID()})
		require.NoError(t, err)
		require.Equal(t, []pxchain.BlobID{b.ID()}, missing)

		blobs, err := s.ReadBlobs(ctx, []pxchain.BlobID{b.ID(), a.ID()})
		require.NoError(t, err)
		require.Len(t, blobs, 2)
		require.Nil(t, blobs[0])
		require.NotNil(t, blobs[1])
		require.Equal(t, a.ID(), blobs[1].ID())
	})

	t.Run("many blobs", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		// Enough ids to span several read chunks.
		var written []pxchain.Blob
		var ids []pxchain.BlobID
		for i := range 300 {
			blob := pxchaintest.DataBlob(fmt.Sprintf("blob %d", i))
			ids = append(ids, blob.ID())
			if i%3 == 0 {
				written = append(written, blob)
			}
		}
		require.NoError(t, s.WriteBlobs(ctx, written))

		missing, err := s.MissingBlobs(ctx, ids)
		require.NoError(t, err)
		require.Len(t, missing, 200)
		for i, id := range missing {
			// Missing ids keep their relative order.
			require.Equal(t, ids[(i/2)*3+1+i%2], id)
		}
	})

	t.Run("maybe write blobs requires a blob state", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		withState := pxchaintest.DataBlob("with state")
		without := pxchaintest.DataBlob("without state")

		require.NoError(t, s.WriteBlobState(ctx, withState.ID(), pxchain.BlobState{Epoch: 1}))

		written, err := s.MaybeWriteBlobs(ctx, []pxchain.Blob{withState, without})
		require.NoError(t, err)
		require.Equal(t, []bool{true, false}, written)

		ok, err := s.ContainsBlob(ctx, withState.ID())
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.ContainsBlob(ctx, without.ID())
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("blob states", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		id := pxchaintest.DataBlob("state").ID()
		other := pxchaintest.DataBlob("other").ID()

		_, err = s.ReadBlobState(ctx, id)
		var notFound pxstore.BlobsNotFoundError
		require.ErrorAs(t, err, &notFound)

		// Absent: always written.
		cert := pxchaintest.Certificate(pxchaintest.ChainID(1), 0, nil).Hash()
		st := pxchain.BlobState{LastUsedBy: &cert, ChainID: pxchaintest.ChainID(1), BlockHeight: 0, Epoch: 3}
		epoch, err := s.MaybeWriteBlobState(ctx, id, st)
		require.NoError(t, err)
		require.Equal(t, pxchain.Epoch(3), epoch)

		got, err := s.ReadBlobState(ctx, id)
		require.NoError(t, err)
		require.Equal(t, st, got)

		// Older epoch: not written, stored epoch reported.
		older := st
		older.Epoch = 2
		epochs, err := s.MaybeWriteBlobStates(ctx, []pxchain.BlobID{id, other}, older, true)
		require.NoError(t, err)
		require.Equal(t, []pxchain.Epoch{3, 2}, epochs)

		got, err = s.ReadBlobState(ctx, id)
		require.NoError(t, err)
		require.Equal(t, pxchain.Epoch(3), got.Epoch)

		// Newer epoch without overwrite: not written, newer epoch reported.
		newer := st
		newer.Epoch = 5
		epochs, err = s.MaybeWriteBlobStates(ctx, []pxchain.BlobID{id}, newer, false)
		require.NoError(t, err)
		require.Equal(t, []pxchain.Epoch{5}, epochs)

		got, err = s.ReadBlobState(ctx, id)
		require.NoError(t, err)
		require.Equal(t, pxchain.Epoch(3), got.Epoch)

		// Newer epoch with overwrite: written.
		epochs, err = s.MaybeWriteBlobStates(ctx, []pxchain.BlobID{id}, newer, true)
		require.NoError(t, err)
		require.Equal(t, []pxchain.Epoch{5}, epochs)

		states, err := s.ReadBlobStates(ctx, []pxchain.BlobID{other, id})
		require.NoError(t, err)
		require.Equal(t, pxchain.Epoch(2), states[0].Epoch)
		require.Equal(t, pxchain.Epoch(5), states[1].Epoch)

		ok, err := s.ContainsBlobState(ctx, other)
		require.NoError(t, err)
		require.True(t, ok)

		third := pxchaintest.DataBlob("third").ID()
		_, err = s.ReadBlobStates(ctx, []pxchain.BlobID{id, third})
		require.ErrorAs(t, err, &notFound)
		require.Equal(t, []pxchain.BlobID{third}, notFound.IDs)
	})

	t.Run("certificates", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		certs := pxchaintest.CertificateChain(pxchaintest.ChainID(7), 3)
		blob := pxchaintest.DataBlob("required")

		_, err = s.ReadCertificate(ctx, certs[0].Hash())
		var notFound pxstore.NotFoundError
		require.ErrorAs(t, err, &notFound)

		require.NoError(t, s.WriteBlobsAndCertificate(ctx, []pxchain.Blob{blob}, certs[0]))
		require.NoError(t, s.WriteBlobsAndCertificate(ctx, nil, certs[2]))

		ok, err := s.ContainsBlob(ctx, blob.ID())
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.ContainsCertificate(ctx, certs[0].Hash())
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.ReadCertificate(ctx, certs[2].Hash())
		require.NoError(t, err)
		require.Equal(t, certs[2], got)

		// Partial results, in request order.
		many, err := s.ReadCertificates(ctx, []pxchain.CryptoHash{
			certs[2].Hash(), certs[1].Hash(), certs[0].Hash(),
		})
		require.NoError(t, err)
		require.Equal(t, []pxchain.Certificate{certs[2], certs[0]}, many)

		blk, err := s.ReadConfirmedBlock(ctx, certs[0].Hash())
		require.NoError(t, err)
		require.Equal(t, certs[0].Value, blk)

		_, err = s.ReadConfirmedBlock(ctx, certs[1].Hash())
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("confirmed blocks downward", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		certs := pxchaintest.CertificateChain(pxchaintest.ChainID(9), 4)
		for _, c := range certs {
			require.NoError(t, s.WriteBlobsAndCertificate(ctx, nil, c))
		}

		blocks, err := s.ReadConfirmedBlocksDownward(ctx, certs[3].Hash(), 2)
		require.NoError(t, err)
		require.Equal(t, []pxchain.ConfirmedBlock{certs[3].Value, certs[2].Value}, blocks)

		// Stops at the first block of the chain.
		blocks, err = s.ReadConfirmedBlocksDownward(ctx, certs[3].Hash(), 10)
		require.NoError(t, err)
		require.Len(t, blocks, 4)
		require.Nil(t, blocks[3].PreviousBlockHash)

		blocks, err = s.ReadConfirmedBlocksDownward(ctx, certs[3].Hash(), 0)
		require.NoError(t, err)
		require.Empty(t, blocks)
	})

	t.Run("events", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		id := pxchain.EventID{ChainID: pxchaintest.ChainID(2), StreamID: "transfers", Index: 4}
		neighbor := id
		neighbor.Index = 5

		_, err = s.ReadEvent(ctx, id)
		var notFound pxstore.NotFoundError
		require.ErrorAs(t, err, &notFound)

		require.NoError(t, s.WriteEvents(ctx, []pxstore.Event{{ID: id, Value: []byte("payload")}}))

		v, err := s.ReadEvent(ctx, id)
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), v)

		ok, err := s.ContainsEvent(ctx, neighbor)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("network description", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		nd, err := s.ReadNetworkDescription(ctx)
		require.NoError(t, err)
		require.Nil(t, nd)

		want := pxchain.NetworkDescription{
			Name:              "testnet",
			GenesisConfigHash: pxchain.NewCryptoHash([]byte("genesis")),
			GenesisTimestamp:  1_700_000_000_000_000,
		}
		require.NoError(t, s.WriteNetworkDescription(ctx, want))

		nd, err = s.ReadNetworkDescription(ctx)
		require.NoError(t, err)
		require.Equal(t, &want, nd)
	})
}
