// Package pxchaintest holds deterministic fixtures for tests
// that need chain IDs, blobs and certificates.
package pxchaintest

import (
	"encoding/binary"
	"fmt"

	"github.com/gordian-engine/gproxy/px/pxchain"
)

// ChainID returns a distinct, deterministic, non-zero chain ID for each n.
func ChainID(n int) pxchain.ChainID {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return pxchain.ChainIDFromHash(pxchain.NewCryptoHash(append([]byte("chain:"), b[:]...)))
}

// DataBlob returns a data blob holding the given string.
func DataBlob(s string) pxchain.Blob {
	return pxchain.NewDataBlob([]byte(s))
}

// Block returns a confirmed block at height h of the given chain,
// linked to prev when prev is non-nil.
func Block(chainID pxchain.ChainID, h pxchain.BlockHeight, prev *pxchain.CryptoHash) pxchain.ConfirmedBlock {
	return pxchain.ConfirmedBlock{
		ChainID:           chainID,
		Height:            h,
		Epoch:             1,
		Timestamp:         pxchain.Timestamp(1_700_000_000_000_000 + uint64(h)),
		PreviousBlockHash: prev,
		Payload:           []byte(fmt.Sprintf("block %d of %s", h, chainID)),
	}
}

// Certificate wraps [Block] in a certificate with a single placeholder signature.
func Certificate(chainID pxchain.ChainID, h pxchain.BlockHeight, prev *pxchain.CryptoHash) pxchain.Certificate {
	return pxchain.Certificate{
		Value: Block(chainID, h, prev),
		Round: 0,
		Signatures: []pxchain.ValidatorSignature{
			{PublicKey: []byte("validator-0"), Signature: []byte(fmt.Sprintf("sig-%d", h))},
		},
	}
}

// CertificateChain returns n linked certificates for chainID, starting at height 0.
func CertificateChain(chainID pxchain.ChainID, n int) []pxchain.Certificate {
	out := make([]pxchain.Certificate, n)
	var prev *pxchain.CryptoHash
	for i := range out {
		out[i] = Certificate(chainID, pxchain.BlockHeight(i), prev)
		h := out[i].Hash()
		prev = &h
	}
	return out
}
