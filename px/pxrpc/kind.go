package pxrpc

import "fmt"

// Kind identifies which field of a [Message] is set.
type Kind uint8

const (
	KindInvalid Kind = iota

	KindBlockProposal
	KindLiteCertificate
	KindTimeoutCertificate
	KindValidatedCertificate
	KindConfirmedCertificate
	KindChainInfoQuery
	KindCrossChainRequest
	KindDownloadPendingBlob
	KindHandlePendingBlob

	KindVersionInfoQuery
	KindNetworkDescriptionQuery
	KindUploadBlob
	KindDownloadBlob
	KindDownloadConfirmedBlock
	KindDownloadCertificates
	KindBlobLastUsedBy
	KindMissingBlobIDs

	KindVote
	KindError
	KindChainInfoResponse
	KindVersionInfoResponse
	KindNetworkDescriptionResponse
	KindUploadBlobResponse
	KindDownloadBlobResponse
	KindDownloadPendingBlobResponse
	KindDownloadConfirmedBlockResponse
	KindDownloadCertificatesResponse
	KindBlobLastUsedByResponse
	KindMissingBlobIDsResponse

	nKinds
)

var kindNames = [...]string{
	KindInvalid: "Invalid",

	KindBlockProposal:        "BlockProposal",
	KindLiteCertificate:      "LiteCertificate",
	KindTimeoutCertificate:   "TimeoutCertificate",
	KindValidatedCertificate: "ValidatedCertificate",
	KindConfirmedCertificate: "ConfirmedCertificate",
	KindChainInfoQuery:       "ChainInfoQuery",
	KindCrossChainRequest:    "CrossChainRequest",
	KindDownloadPendingBlob:  "DownloadPendingBlob",
	KindHandlePendingBlob:    "HandlePendingBlob",

	KindVersionInfoQuery:        "VersionInfoQuery",
	KindNetworkDescriptionQuery: "NetworkDescriptionQuery",
	KindUploadBlob:              "UploadBlob",
	KindDownloadBlob:            "DownloadBlob",
	KindDownloadConfirmedBlock:  "DownloadConfirmedBlock",
	KindDownloadCertificates:    "DownloadCertificates",
	KindBlobLastUsedBy:          "BlobLastUsedBy",
	KindMissingBlobIDs:          "MissingBlobIds",

	KindVote:                           "Vote",
	KindError:                          "Error",
	KindChainInfoResponse:              "ChainInfoResponse",
	KindVersionInfoResponse:            "VersionInfoResponse",
	KindNetworkDescriptionResponse:     "NetworkDescriptionResponse",
	KindUploadBlobResponse:             "UploadBlobResponse",
	KindDownloadBlobResponse:           "DownloadBlobResponse",
	KindDownloadPendingBlobResponse:    "DownloadPendingBlobResponse",
	KindDownloadConfirmedBlockResponse: "DownloadConfirmedBlockResponse",
	KindDownloadCertificatesResponse:   "DownloadCertificatesResponse",
	KindBlobLastUsedByResponse:         "BlobLastUsedByResponse",
	KindMissingBlobIDsResponse:         "MissingBlobIdsResponse",
}

func (k Kind) String() string {
	if k < nKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsLocal reports whether k is in the fixed set of requests
// that a proxy answers itself.
func (k Kind) IsLocal() bool {
	return k >= KindVersionInfoQuery && k <= KindMissingBlobIDs
}

// IsChainAddressed reports whether k is a request kind that names a target chain.
func (k Kind) IsChainAddressed() bool {
	return k >= KindBlockProposal && k <= KindHandlePendingBlob
}
