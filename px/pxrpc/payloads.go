package pxrpc

import (
	"fmt"

	"github.com/gordian-engine/gproxy/px/pxchain"
)

type BlockProposal struct {
	ChainID pxchain.ChainID     `json:"chain_id"`
	Height  pxchain.BlockHeight `json:"height"`
	Round   uint32              `json:"round"`

	// Opaque to the proxy.
	Content   []byte `json:"content,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

type LiteCertificate struct {
	ChainID    pxchain.ChainID              `json:"chain_id"`
	Height     pxchain.BlockHeight          `json:"height"`
	Round      uint32                       `json:"round"`
	ValueHash  pxchain.CryptoHash           `json:"value_hash"`
	Signatures []pxchain.ValidatorSignature `json:"signatures,omitempty"`
}

// CertificateRequest asks a shard to handle a timeout, validated or confirmed certificate.
type CertificateRequest struct {
	Certificate             pxchain.Certificate `json:"certificate"`
	WaitForOutgoingMessages bool                `json:"wait_for_outgoing_messages,omitempty"`
}

type ChainInfoQuery struct {
	ChainID pxchain.ChainID `json:"chain_id"`

	TestNextBlockHeight              *pxchain.BlockHeight `json:"test_next_block_height,omitempty"`
	RequestCommittees                bool                 `json:"request_committees,omitempty"`
	RequestPendingMessages           bool                 `json:"request_pending_messages,omitempty"`
	RequestSentCertificateHashesFrom *pxchain.BlockHeight `json:"request_sent_certificate_hashes_from,omitempty"`
}

// CrossChainRequestKind distinguishes the two directions of a cross-chain update.
type CrossChainRequestKind string

const (
	// UpdateRecipient carries new messages from sender to recipient.
	UpdateRecipient CrossChainRequestKind = "update_recipient"

	// ConfirmUpdatedRecipient acknowledges receipt back to the sender.
	ConfirmUpdatedRecipient CrossChainRequestKind = "confirm_updated_recipient"
)

type CrossChainRequest struct {
	Kind      CrossChainRequestKind `json:"kind"`
	Sender    pxchain.ChainID       `json:"sender"`
	Recipient pxchain.ChainID       `json:"recipient"`
	Payload   []byte                `json:"payload,omitempty"`
}

// TargetChainID returns the chain whose shard must process r:
// the recipient for an update, the sender for a confirmation.
// An unknown kind has no target, reported as the zero chain ID.
func (r CrossChainRequest) TargetChainID() pxchain.ChainID {
	switch r.Kind {
	case UpdateRecipient:
		return r.Recipient
	case ConfirmUpdatedRecipient:
		return r.Sender
	default:
		return pxchain.ChainID{}
	}
}

type PendingBlobRequest struct {
	ChainID pxchain.ChainID `json:"chain_id"`
	BlobID  pxchain.BlobID  `json:"blob_id"`
}

type HandlePendingBlob struct {
	ChainID pxchain.ChainID     `json:"chain_id"`
	Content pxchain.BlobContent `json:"content"`
}

type VersionInfoQuery struct{}

type NetworkDescriptionQuery struct{}

type DownloadCertificates struct {
	Hashes []pxchain.CryptoHash `json:"hashes"`
}

type MissingBlobIDs struct {
	BlobIDs []pxchain.BlobID `json:"blob_ids"`
}

type Vote struct {
	ValueHash pxchain.CryptoHash `json:"value_hash"`
	Round     uint32             `json:"round"`
	PublicKey []byte             `json:"public_key"`
	Signature []byte             `json:"signature"`
}

// NodeError is an explicit protocol-level rejection from a validator.
type NodeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e NodeError) Error() string {
	return fmt.Sprintf("node error %s: %s", e.Code, e.Message)
}

type ChainInfoResponse struct {
	ChainID   pxchain.ChainID `json:"chain_id"`
	Info      []byte          `json:"info,omitempty"`
	Signature []byte          `json:"signature,omitempty"`
}

type DownloadCertificatesResponse struct {
	Certificates []pxchain.Certificate `json:"certificates"`
}

type BlobLastUsedByResponse struct {
	// Hash of the certificate that last used the blob.
	LastUsedBy *pxchain.CryptoHash `json:"last_used_by,omitempty"`

	// Epoch of that use.
	Epoch pxchain.Epoch `json:"epoch"`
}

type MissingBlobIDsResponse struct {
	BlobIDs []pxchain.BlobID `json:"blob_ids"`
}
