package pxchain

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize is the size in bytes of a [CryptoHash] and a [ChainID].
const HashSize = 32

// CryptoHash is a Keccak-256 digest.
type CryptoHash [HashSize]byte

// NewCryptoHash returns the Keccak-256 digest of b.
func NewCryptoHash(b []byte) CryptoHash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	var out CryptoHash
	h.Sum(out[:0])
	return out
}

// ParseCryptoHash parses the lowercase hex form of a hash.
func ParseCryptoHash(s string) (CryptoHash, error) {
	var h CryptoHash
	if err := decodeFixedHex(h[:], s); err != nil {
		return CryptoHash{}, fmt.Errorf("invalid crypto hash %q: %w", s, err)
	}
	return h, nil
}

func (h CryptoHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h CryptoHash) IsZero() bool {
	return h == CryptoHash{}
}

func (h CryptoHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *CryptoHash) UnmarshalText(b []byte) error {
	parsed, err := ParseCryptoHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ChainID identifies one chain. It is the routing key of the proxy.
//
// The zero ChainID is never a valid identifier;
// a message carrying it is treated as having no target chain.
type ChainID [HashSize]byte

// ChainIDFromHash returns the chain ID with the same bytes as h.
func ChainIDFromHash(h CryptoHash) ChainID {
	return ChainID(h)
}

// ParseChainID parses the lowercase hex form of a chain ID.
func ParseChainID(s string) (ChainID, error) {
	var id ChainID
	if err := decodeFixedHex(id[:], s); err != nil {
		return ChainID{}, fmt.Errorf("invalid chain ID %q: %w", s, err)
	}
	return id, nil
}

func (id ChainID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ChainID) IsZero() bool {
	return id == ChainID{}
}

func (id ChainID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ChainID) UnmarshalText(b []byte) error {
	parsed, err := ParseChainID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func decodeFixedHex(dst []byte, s string) error {
	if len(s) != 2*len(dst) {
		return fmt.Errorf("want %d hex characters, got %d", 2*len(dst), len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}

// BlockHeight is the height of a block within its chain.
type BlockHeight uint64

// Epoch is a committee epoch number.
type Epoch uint32

// Timestamp is a count of microseconds since the Unix epoch.
type Timestamp uint64
