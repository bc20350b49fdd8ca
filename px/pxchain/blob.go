package pxchain

import (
	"fmt"
)

// BlobType classifies the content of a blob.
// It participates in the blob ID,
// so identical bytes of different types have different IDs.
type BlobType uint8

const (
	BlobTypeData BlobType = iota
	BlobTypeContractBytecode
	BlobTypeServiceBytecode
	BlobTypeEvmBytecode
	BlobTypeApplicationDescription
	BlobTypeCommittee
	BlobTypeChainDescription
)

var blobTypeNames = [...]string{
	BlobTypeData:                   "data",
	BlobTypeContractBytecode:       "contract_bytecode",
	BlobTypeServiceBytecode:        "service_bytecode",
	BlobTypeEvmBytecode:            "evm_bytecode",
	BlobTypeApplicationDescription: "application_description",
	BlobTypeCommittee:              "committee",
	BlobTypeChainDescription:       "chain_description",
}

func (t BlobType) String() string {
	if int(t) < len(blobTypeNames) {
		return blobTypeNames[t]
	}
	return fmt.Sprintf("BlobType(%d)", uint8(t))
}

func (t BlobType) MarshalText() ([]byte, error) {
	if int(t) >= len(blobTypeNames) {
		return nil, fmt.Errorf("cannot marshal unknown blob type %d", uint8(t))
	}
	return []byte(blobTypeNames[t]), nil
}

func (t *BlobType) UnmarshalText(b []byte) error {
	for i, name := range blobTypeNames {
		if name == string(b) {
			*t = BlobType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown blob type %q", b)
}

// BlobID is the content address of a blob.
type BlobID struct {
	Hash CryptoHash `json:"hash"`
	Type BlobType   `json:"blob_type"`
}

func (id BlobID) String() string {
	return id.Type.String() + ":" + id.Hash.String()
}

// BlobContent is the raw payload of a blob together with its type.
type BlobContent struct {
	Type  BlobType `json:"blob_type"`
	Bytes []byte   `json:"bytes"`
}

// ID computes the content address of c.
//
// The hashed preimage is the type name, a zero byte, then the raw bytes.
func (c BlobContent) ID() BlobID {
	name := c.Type.String()
	pre := make([]byte, 0, len(name)+1+len(c.Bytes))
	pre = append(pre, name...)
	pre = append(pre, 0)
	pre = append(pre, c.Bytes...)
	return BlobID{Hash: NewCryptoHash(pre), Type: c.Type}
}

// Blob is a blob's content together with its precomputed ID.
type Blob struct {
	id      BlobID
	content BlobContent
}

// NewBlob computes the ID of content and returns the resulting blob.
func NewBlob(content BlobContent) Blob {
	return Blob{id: content.ID(), content: content}
}

// NewDataBlob is shorthand for a [BlobTypeData] blob.
func NewDataBlob(b []byte) Blob {
	return NewBlob(BlobContent{Type: BlobTypeData, Bytes: b})
}

func (b Blob) ID() BlobID           { return b.id }
func (b Blob) Content() BlobContent { return b.content }
func (b Blob) Bytes() []byte        { return b.content.Bytes }

// BlobState records which certificate last used a blob.
type BlobState struct {
	// Hash of the certificate that last used the blob, if any.
	LastUsedBy *CryptoHash `json:"last_used_by,omitempty"`

	ChainID     ChainID     `json:"chain_id"`
	BlockHeight BlockHeight `json:"block_height"`
	Epoch       Epoch       `json:"epoch"`
}
