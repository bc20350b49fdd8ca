package pxproxy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordian-engine/gproxy/internal/gtest"
	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/gordian-engine/gproxy/px/pxchain/pxchaintest"
	"github.com/gordian-engine/gproxy/px/pxmetrics"
	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxproxy"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxstore"
	"github.com/gordian-engine/gproxy/px/pxstore/pxmemstore"
	"github.com/gordian-engine/gproxy/px/pxtransport"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *pxstore.DBStorage {
	t.Helper()

	s := pxstore.NewDBStorage(pxmemstore.NewKV(), pxstore.DefaultCommonConfig())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// noDialer fails every dial.
type noDialer struct{}

func (noDialer) Dial(context.Context, string) (pxtransport.Conn, error) {
	return nil, errors.New("dial not expected")
}

func newLocalHandler(t *testing.T, s pxstore.Storage, m *pxmetrics.Metrics) *pxproxy.Handler {
	t.Helper()

	return pxproxy.NewHandler(gtest.NewLogger(t), pxproxy.HandlerConfig{
		Storage: s,
		Internal: pxnet.InternalNetworkConfig{
			Protocol: pxnet.ProtocolTCP,
			Shards:   []pxnet.ShardConfig{{Host: "127.0.0.1", Port: 1}},
		},
		Dialer:      noDialer{},
		SendTimeout: time.Second,
		RecvTimeout: time.Second,
		Metrics:     m,
	})
}

func TestHandleLocal_versionInfo(t *testing.T) {
	t.Parallel()

	h := newLocalHandler(t, newStorage(t), nil)
	resp, err := h.HandleLocal(context.Background(), pxrpc.Message{VersionInfoQuery: &pxrpc.VersionInfoQuery{}})
	require.NoError(t, err)
	require.Equal(t, pxchain.CurrentVersionInfo(), *resp.VersionInfoResponse)
}

func TestHandleLocal_networkDescription(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStorage(t)
	h := newLocalHandler(t, s, nil)
	query := pxrpc.Message{NetworkDescriptionQuery: &pxrpc.NetworkDescriptionQuery{}}

	_, err := h.HandleLocal(ctx, query)
	require.ErrorIs(t, err, pxproxy.ErrNetworkDescriptionNotFound)

	nd := pxchain.NetworkDescription{
		Name:              "testnet",
		GenesisConfigHash: pxchain.NewCryptoHash([]byte("genesis")),
		GenesisTimestamp:  1_700_000_000_000_000,
	}
	require.NoError(t, s.WriteNetworkDescription(ctx, nd))

	resp, err := h.HandleLocal(ctx, query)
	require.NoError(t, err)
	require.Equal(t, nd, *resp.NetworkDescriptionResponse)
}

func TestHandleLocal_uploadBlob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStorage(t)
	h := newLocalHandler(t, s, nil)

	blob := pxchaintest.DataBlob("upload me")
	content := blob.Content()
	upload := pxrpc.Message{UploadBlob: &content}

	t.Run("rejected without a blob state", func(t *testing.T) {
		_, err := h.HandleLocal(ctx, upload)
		require.ErrorIs(t, err, pxproxy.ErrBlobNotExpected)

		has, err := s.ContainsBlob(ctx, blob.ID())
		require.NoError(t, err)
		require.False(t, has)
	})

	t.Run("accepted once a certificate used it", func(t *testing.T) {
		require.NoError(t, s.WriteBlobState(ctx, blob.ID(), pxchain.BlobState{
			ChainID: pxchaintest.ChainID(1),
			Epoch:   1,
		}))

		resp, err := h.HandleLocal(ctx, upload)
		require.NoError(t, err)
		require.Equal(t, blob.ID(), *resp.UploadBlobResponse)

		has, err := s.ContainsBlob(ctx, blob.ID())
		require.NoError(t, err)
		require.True(t, has)
	})
}

func TestHandleMessage_uploadThenDownload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStorage(t)
	h := newLocalHandler(t, s, nil)

	content := pxchain.BlobContent{Type: pxchain.BlobTypeData, Bytes: []byte("round trip \x00\xff")}
	id := content.ID()
	require.NoError(t, s.WriteBlobState(ctx, id, pxchain.BlobState{
		ChainID: pxchaintest.ChainID(2),
		Epoch:   3,
	}))

	uploaded := h.HandleMessage(ctx, pxrpc.Message{UploadBlob: &content})
	require.NotNil(t, uploaded)
	require.Equal(t, id, *uploaded.UploadBlobResponse)

	downloaded := h.HandleMessage(ctx, pxrpc.Message{DownloadBlob: uploaded.UploadBlobResponse})
	require.NotNil(t, downloaded)
	require.Equal(t, content, *downloaded.DownloadBlobResponse)
	require.Equal(t, []byte("round trip \x00\xff"), downloaded.DownloadBlobResponse.Bytes)
}

func TestHandleLocal_downloadBlob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStorage(t)
	h := newLocalHandler(t, s, nil)

	blob := pxchaintest.DataBlob("download me")
	id := blob.ID()
	download := pxrpc.Message{DownloadBlob: &id}

	_, err := h.HandleLocal(ctx, download)
	var nf pxstore.BlobsNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, []pxchain.BlobID{id}, nf.IDs)

	require.NoError(t, s.WriteBlob(ctx, blob))

	resp, err := h.HandleLocal(ctx, download)
	require.NoError(t, err)
	require.Equal(t, blob.Content(), *resp.DownloadBlobResponse)
}

func TestHandleLocal_certificatesAndBlocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStorage(t)
	h := newLocalHandler(t, s, nil)

	certs := pxchaintest.CertificateChain(pxchaintest.ChainID(1), 3)
	unknown := pxchain.NewCryptoHash([]byte("unknown"))

	blockHash := certs[1].Value.Hash()
	_, err := h.HandleLocal(ctx, pxrpc.Message{DownloadConfirmedBlock: &blockHash})
	var nf pxstore.NotFoundError
	require.ErrorAs(t, err, &nf)

	// Store the first and last certificate only.
	require.NoError(t, s.WriteBlobsAndCertificate(ctx, nil, certs[0]))
	require.NoError(t, s.WriteBlobsAndCertificate(ctx, nil, certs[2]))
	require.NoError(t, s.WriteBlobsAndCertificate(ctx, nil, certs[1]))

	resp, err := h.HandleLocal(ctx, pxrpc.Message{DownloadConfirmedBlock: &blockHash})
	require.NoError(t, err)
	require.Equal(t, certs[1].Value, *resp.DownloadConfirmedBlockResponse)

	resp, err = h.HandleLocal(ctx, pxrpc.Message{DownloadCertificates: &pxrpc.DownloadCertificates{
		Hashes: []pxchain.CryptoHash{certs[2].Hash(), unknown, certs[0].Hash()},
	}})
	require.NoError(t, err)
	require.Equal(t, []pxchain.Certificate{certs[2], certs[0]}, resp.DownloadCertificatesResponse.Certificates)
}

func TestHandleLocal_blobLastUsedBy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStorage(t)
	h := newLocalHandler(t, s, nil)

	id := pxchaintest.DataBlob("used").ID()
	query := pxrpc.Message{BlobLastUsedBy: &id}

	_, err := h.HandleLocal(ctx, query)
	var nf pxstore.BlobsNotFoundError
	require.ErrorAs(t, err, &nf)

	certHash := pxchain.NewCryptoHash([]byte("cert"))
	require.NoError(t, s.WriteBlobState(ctx, id, pxchain.BlobState{
		LastUsedBy: &certHash,
		ChainID:    pxchaintest.ChainID(1),
		Epoch:      7,
	}))

	resp, err := h.HandleLocal(ctx, query)
	require.NoError(t, err)
	require.Equal(t, pxrpc.BlobLastUsedByResponse{LastUsedBy: &certHash, Epoch: 7}, *resp.BlobLastUsedByResponse)
}

func TestHandleLocal_missingBlobIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStorage(t)
	h := newLocalHandler(t, s, nil)

	a, b, c := pxchaintest.DataBlob("a"), pxchaintest.DataBlob("b"), pxchaintest.DataBlob("c")
	require.NoError(t, s.WriteBlobs(ctx, []pxchain.Blob{b}))

	resp, err := h.HandleLocal(ctx, pxrpc.Message{MissingBlobIDs: &pxrpc.MissingBlobIDs{
		BlobIDs: []pxchain.BlobID{a.ID(), b.ID(), c.ID()},
	}})
	require.NoError(t, err)
	require.Equal(t, []pxchain.BlobID{a.ID(), c.ID()}, resp.MissingBlobIDsResponse.BlobIDs)
}

func TestHandleLocal_unexpectedKind(t *testing.T) {
	t.Parallel()

	h := newLocalHandler(t, newStorage(t), nil)

	for _, m := range []pxrpc.Message{
		{ChainInfoQuery: &pxrpc.ChainInfoQuery{ChainID: pxchaintest.ChainID(1)}},
		{Vote: &pxrpc.Vote{Round: 1}},
		{Error: &pxrpc.NodeError{Code: "x"}},
	} {
		_, err := h.HandleLocal(context.Background(), m)
		var ue pxproxy.UnexpectedMessageError
		require.ErrorAs(t, err, &ue)
		require.Equal(t, m.Kind(), ue.Kind)
	}
}

func TestHandleMessage_absorbsFailures(t *testing.T) {
	t.Parallel()

	m := pxmetrics.New()
	h := newLocalHandler(t, newStorage(t), m)
	ctx := context.Background()

	id := pxchaintest.DataBlob("absent").ID()
	require.Nil(t, h.HandleMessage(ctx, pxrpc.Message{DownloadBlob: &id}))

	// Votes and responses carry no chain to route by.
	require.Nil(t, h.HandleMessage(ctx, pxrpc.Message{Vote: &pxrpc.Vote{Round: 1}}))
	require.Nil(t, h.HandleMessage(ctx, pxrpc.Message{ChainInfoResponse: &pxrpc.ChainInfoResponse{}}))

	// A zero chain ID is the same as none.
	require.Nil(t, h.HandleMessage(ctx, pxrpc.Message{ChainInfoQuery: &pxrpc.ChainInfoQuery{}}))

	// Dialing fails with noDialer.
	require.Nil(t, h.HandleMessage(ctx, pxrpc.Message{
		ChainInfoQuery: &pxrpc.ChainInfoQuery{ChainID: pxchaintest.ChainID(1)},
	}))

	mfs := gather(t, m)
	require.Equal(t, 1.0, counterValue(t, mfs, "gproxy_local_failures_total", "kind", "DownloadBlob"))
	require.Equal(t, 1.0, counterValue(t, mfs, "gproxy_messages_total", "kind", "Vote", "route", "rejected"))
	require.Equal(t, 1.0, counterValue(t, mfs, "gproxy_messages_total", "kind", "ChainInfoQuery", "route", "rejected"))
	require.Equal(t, 1.0, counterValue(t, mfs, "gproxy_messages_total", "kind", "ChainInfoQuery", "route", "forward"))
	require.Equal(t, 1.0, counterValue(t, mfs, "gproxy_forward_failures_total", "reason", "dial"))
}
