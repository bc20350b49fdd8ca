package pxstore

import (
	"encoding/binary"

	"github.com/gordian-engine/gproxy/px/pxchain"
)

// Key tags. Every key starts with one of these bytes,
// so the entity kinds share one keyspace without colliding.
const (
	tagBlob byte = iota + 1
	tagBlobState
	tagCertificate
	tagConfirmedBlock
	tagEvent
	tagNetworkDescription
)

func blobKey(id pxchain.BlobID) []byte {
	return blobIDKey(tagBlob, id)
}

func blobStateKey(id pxchain.BlobID) []byte {
	return blobIDKey(tagBlobState, id)
}

func blobIDKey(tag byte, id pxchain.BlobID) []byte {
	k := make([]byte, 0, 2+pxchain.HashSize)
	k = append(k, tag, byte(id.Type))
	return append(k, id.Hash[:]...)
}

func certificateKey(h pxchain.CryptoHash) []byte {
	return hashKey(tagCertificate, h)
}

func confirmedBlockKey(h pxchain.CryptoHash) []byte {
	return hashKey(tagConfirmedBlock, h)
}

func hashKey(tag byte, h pxchain.CryptoHash) []byte {
	k := make([]byte, 0, 1+pxchain.HashSize)
	k = append(k, tag)
	return append(k, h[:]...)
}

// eventKey is the tag, the chain ID, the length-prefixed stream ID,
// then the big-endian index.
func eventKey(id pxchain.EventID) []byte {
	k := make([]byte, 0, 1+pxchain.HashSize+binary.MaxVarintLen64+len(id.StreamID)+4)
	k = append(k, tagEvent)
	k = append(k, id.ChainID[:]...)
	k = binary.AppendUvarint(k, uint64(len(id.StreamID)))
	k = append(k, id.StreamID...)
	return binary.BigEndian.AppendUint32(k, id.Index)
}

func networkDescriptionKey() []byte {
	return []byte{tagNetworkDescription}
}
