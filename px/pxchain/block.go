package pxchain

import (
	"encoding/json"
	"fmt"
)

// ConfirmedBlock is a block that a quorum of validators has confirmed.
//
// The proxy stores and serves confirmed blocks by hash
// without inspecting the payload.
type ConfirmedBlock struct {
	ChainID   ChainID     `json:"chain_id"`
	Height    BlockHeight `json:"height"`
	Epoch     Epoch       `json:"epoch"`
	Timestamp Timestamp   `json:"timestamp"`

	// Hash of the previous confirmed block in the same chain.
	// Nil for the first block of a chain.
	PreviousBlockHash *CryptoHash `json:"previous_block_hash,omitempty"`

	RequiredBlobs []BlobID `json:"required_blobs,omitempty"`

	Payload []byte `json:"payload,omitempty"`
}

// Hash returns the Keccak-256 hash of the canonical JSON encoding of b.
func (b ConfirmedBlock) Hash() CryptoHash {
	j, err := json.Marshal(b)
	if err != nil {
		// Every field has a deterministic, infallible encoding.
		panic(fmt.Errorf("BUG: failed to marshal confirmed block: %w", err))
	}
	return NewCryptoHash(j)
}

// ValidatorSignature is one validator's signature over a certificate value.
type ValidatorSignature struct {
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// Certificate is a confirmed block together with the signatures that confirmed it.
type Certificate struct {
	Value      ConfirmedBlock       `json:"value"`
	Round      uint32               `json:"round"`
	Signatures []ValidatorSignature `json:"signatures,omitempty"`
}

// Hash returns the hash of the certified value,
// which is also the key of the certificate in storage.
func (c Certificate) Hash() CryptoHash {
	return c.Value.Hash()
}

// EventID addresses one event in one stream of a chain.
type EventID struct {
	ChainID  ChainID `json:"chain_id"`
	StreamID string  `json:"stream_id"`
	Index    uint32  `json:"index"`
}
