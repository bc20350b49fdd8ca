package pxrpc

import (
	"github.com/gordian-engine/gproxy/px/pxchain"
)

// Message is the tagged union of every message a validator sends or receives.
// Exactly one field must be set; see [Message.Validate].
//
// Fields are grouped by how the proxy treats them:
// chain-addressed requests are forwarded to the owning shard,
// local requests are answered from storage,
// and everything else is a response that should never arrive as a request.
type Message struct {
	// Chain-addressed requests.
	BlockProposal        *BlockProposal      `json:"block_proposal,omitempty"`
	LiteCertificate      *LiteCertificate    `json:"lite_certificate,omitempty"`
	TimeoutCertificate   *CertificateRequest `json:"timeout_certificate,omitempty"`
	ValidatedCertificate *CertificateRequest `json:"validated_certificate,omitempty"`
	ConfirmedCertificate *CertificateRequest `json:"confirmed_certificate,omitempty"`
	ChainInfoQuery       *ChainInfoQuery     `json:"chain_info_query,omitempty"`
	CrossChainRequest    *CrossChainRequest  `json:"cross_chain_request,omitempty"`
	DownloadPendingBlob  *PendingBlobRequest `json:"download_pending_blob,omitempty"`
	HandlePendingBlob    *HandlePendingBlob  `json:"handle_pending_blob,omitempty"`

	// Local requests.
	VersionInfoQuery        *VersionInfoQuery        `json:"version_info_query,omitempty"`
	NetworkDescriptionQuery *NetworkDescriptionQuery `json:"network_description_query,omitempty"`
	UploadBlob              *pxchain.BlobContent     `json:"upload_blob,omitempty"`
	DownloadBlob            *pxchain.BlobID          `json:"download_blob,omitempty"`
	DownloadConfirmedBlock  *pxchain.CryptoHash      `json:"download_confirmed_block,omitempty"`
	DownloadCertificates    *DownloadCertificates    `json:"download_certificates,omitempty"`
	BlobLastUsedBy          *pxchain.BlobID          `json:"blob_last_used_by,omitempty"`
	MissingBlobIDs          *MissingBlobIDs          `json:"missing_blob_ids,omitempty"`

	// Responses, votes and errors.
	Vote                           *Vote                         `json:"vote,omitempty"`
	Error                          *NodeError                    `json:"error,omitempty"`
	ChainInfoResponse              *ChainInfoResponse            `json:"chain_info_response,omitempty"`
	VersionInfoResponse            *pxchain.VersionInfo          `json:"version_info_response,omitempty"`
	NetworkDescriptionResponse     *pxchain.NetworkDescription   `json:"network_description_response,omitempty"`
	UploadBlobResponse             *pxchain.BlobID               `json:"upload_blob_response,omitempty"`
	DownloadBlobResponse           *pxchain.BlobContent          `json:"download_blob_response,omitempty"`
	DownloadPendingBlobResponse    *pxchain.BlobContent          `json:"download_pending_blob_response,omitempty"`
	DownloadConfirmedBlockResponse *pxchain.ConfirmedBlock       `json:"download_confirmed_block_response,omitempty"`
	DownloadCertificatesResponse   *DownloadCertificatesResponse `json:"download_certificates_response,omitempty"`
	BlobLastUsedByResponse         *BlobLastUsedByResponse       `json:"blob_last_used_by_response,omitempty"`
	MissingBlobIDsResponse         *MissingBlobIDsResponse       `json:"missing_blob_ids_response,omitempty"`
}

// Kind reports which field of m is set.
// It returns [KindInvalid] if no field or more than one field is set.
func (m Message) Kind() Kind {
	k := KindInvalid
	n := 0
	set := func(isSet bool, kind Kind) {
		if isSet {
			n++
			k = kind
		}
	}

	set(m.BlockProposal != nil, KindBlockProposal)
	set(m.LiteCertificate != nil, KindLiteCertificate)
	set(m.TimeoutCertificate != nil, KindTimeoutCertificate)
	set(m.ValidatedCertificate != nil, KindValidatedCertificate)
	set(m.ConfirmedCertificate != nil, KindConfirmedCertificate)
	set(m.ChainInfoQuery != nil, KindChainInfoQuery)
	set(m.CrossChainRequest != nil, KindCrossChainRequest)
	set(m.DownloadPendingBlob != nil, KindDownloadPendingBlob)
	set(m.HandlePendingBlob != nil, KindHandlePendingBlob)

	set(m.VersionInfoQuery != nil, KindVersionInfoQuery)
	set(m.NetworkDescriptionQuery != nil, KindNetworkDescriptionQuery)
	set(m.UploadBlob != nil, KindUploadBlob)
	set(m.DownloadBlob != nil, KindDownloadBlob)
	set(m.DownloadConfirmedBlock != nil, KindDownloadConfirmedBlock)
	set(m.DownloadCertificates != nil, KindDownloadCertificates)
	set(m.BlobLastUsedBy != nil, KindBlobLastUsedBy)
	set(m.MissingBlobIDs != nil, KindMissingBlobIDs)

	set(m.Vote != nil, KindVote)
	set(m.Error != nil, KindError)
	set(m.ChainInfoResponse != nil, KindChainInfoResponse)
	set(m.VersionInfoResponse != nil, KindVersionInfoResponse)
	set(m.NetworkDescriptionResponse != nil, KindNetworkDescriptionResponse)
	set(m.UploadBlobResponse != nil, KindUploadBlobResponse)
	set(m.DownloadBlobResponse != nil, KindDownloadBlobResponse)
	set(m.DownloadPendingBlobResponse != nil, KindDownloadPendingBlobResponse)
	set(m.DownloadConfirmedBlockResponse != nil, KindDownloadConfirmedBlockResponse)
	set(m.DownloadCertificatesResponse != nil, KindDownloadCertificatesResponse)
	set(m.BlobLastUsedByResponse != nil, KindBlobLastUsedByResponse)
	set(m.MissingBlobIDsResponse != nil, KindMissingBlobIDsResponse)

	if n != 1 {
		return KindInvalid
	}
	return k
}

// Validate returns an [InvalidMessageError] unless exactly one field of m is set.
func (m Message) Validate() error {
	if m.Kind() == KindInvalid {
		return InvalidMessageError{}
	}
	return nil
}

// IsLocal reports whether m is one of the requests
// that a proxy answers from its own storage.
func (m Message) IsLocal() bool {
	return m.Kind().IsLocal()
}

// TargetChainID returns the chain that a chain-addressed request is destined for.
//
// The second return value is false for local requests, responses, votes,
// invalid messages, and chain-addressed requests carrying the zero chain ID.
func (m Message) TargetChainID() (pxchain.ChainID, bool) {
	var id pxchain.ChainID
	switch m.Kind() {
	case KindBlockProposal:
		id = m.BlockProposal.ChainID
	case KindLiteCertificate:
		id = m.LiteCertificate.ChainID
	case KindTimeoutCertificate:
		id = m.TimeoutCertificate.Certificate.Value.ChainID
	case KindValidatedCertificate:
		id = m.ValidatedCertificate.Certificate.Value.ChainID
	case KindConfirmedCertificate:
		id = m.ConfirmedCertificate.Certificate.Value.ChainID
	case KindChainInfoQuery:
		id = m.ChainInfoQuery.ChainID
	case KindCrossChainRequest:
		id = m.CrossChainRequest.TargetChainID()
	case KindDownloadPendingBlob:
		id = m.DownloadPendingBlob.ChainID
	case KindHandlePendingBlob:
		id = m.HandlePendingBlob.ChainID
	default:
		return pxchain.ChainID{}, false
	}

	if id.IsZero() {
		return pxchain.ChainID{}, false
	}
	return id, true
}
