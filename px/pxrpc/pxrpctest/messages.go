// Package pxrpctest contains message fixtures
// and a compliance suite for [pxrpc.MarshalCodec] implementations.
package pxrpctest

import (
	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/gordian-engine/gproxy/px/pxchain/pxchaintest"
	"github.com/gordian-engine/gproxy/px/pxrpc"
)

// ChainInfoQuery returns a chain-addressed query for the given chain.
func ChainInfoQuery(chainID pxchain.ChainID) pxrpc.Message {
	return pxrpc.Message{ChainInfoQuery: &pxrpc.ChainInfoQuery{ChainID: chainID}}
}

// SampleMessages returns one populated message of a representative set of kinds,
// covering each routing category.
func SampleMessages() []pxrpc.Message {
	chainID := pxchaintest.ChainID(1)
	cert := pxchaintest.Certificate(chainID, 3, nil)
	blob := pxchaintest.DataBlob("sample")
	h := cert.Hash()
	next := pxchain.BlockHeight(4)

	return []pxrpc.Message{
		{BlockProposal: &pxrpc.BlockProposal{ChainID: chainID, Height: 4, Round: 1, Content: []byte("proposal")}},
		{ConfirmedCertificate: &pxrpc.CertificateRequest{Certificate: cert, WaitForOutgoingMessages: true}},
		{ChainInfoQuery: &pxrpc.ChainInfoQuery{ChainID: chainID, TestNextBlockHeight: &next, RequestCommittees: true}},
		{CrossChainRequest: &pxrpc.CrossChainRequest{
			Kind:      pxrpc.ConfirmUpdatedRecipient,
			Sender:    chainID,
			Recipient: pxchaintest.ChainID(2),
		}},

		{VersionInfoQuery: &pxrpc.VersionInfoQuery{}},
		{NetworkDescriptionQuery: &pxrpc.NetworkDescriptionQuery{}},
		{UploadBlob: &pxchain.BlobContent{Type: pxchain.BlobTypeData, Bytes: blob.Bytes()}},
		{DownloadConfirmedBlock: &h},
		{MissingBlobIDs: &pxrpc.MissingBlobIDs{BlobIDs: []pxchain.BlobID{blob.ID()}}},

		{Vote: &pxrpc.Vote{ValueHash: h, Round: 2, PublicKey: []byte("pk"), Signature: []byte("sig")}},
		{Error: &pxrpc.NodeError{Code: "invalid", Message: "nope"}},
		{DownloadCertificatesResponse: &pxrpc.DownloadCertificatesResponse{Certificates: []pxchain.Certificate{cert}}},
		{BlobLastUsedByResponse: &pxrpc.BlobLastUsedByResponse{LastUsedBy: &h, Epoch: 3}},
	}
}
