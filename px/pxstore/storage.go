package pxstore

import (
	"context"
	"time"

	"github.com/gordian-engine/gproxy/px/pxchain"
)

// Storage is everything a validator process reads and writes about chains,
// other than the chain state itself.
//
// Implementations must be safe for concurrent use.
// Copies of a Storage share the same underlying store.
type Storage interface {
	ContainsBlob(ctx context.Context, id pxchain.BlobID) (bool, error)

	// MissingBlobs returns the subset of ids that are not stored,
	// in the order they were given.
	MissingBlobs(ctx context.Context, ids []pxchain.BlobID) ([]pxchain.BlobID, error)

	// ReadBlob returns a [BlobsNotFoundError] if the blob is not stored.
	ReadBlob(ctx context.Context, id pxchain.BlobID) (pxchain.Blob, error)

	// ReadBlobs returns one entry per id, nil where the blob is not stored.
	ReadBlobs(ctx context.Context, ids []pxchain.BlobID) ([]*pxchain.Blob, error)

	WriteBlob(ctx context.Context, blob pxchain.Blob) error
	WriteBlobs(ctx context.Context, blobs []pxchain.Blob) error

	// MaybeWriteBlobs writes only the blobs that already have a blob state.
	// The result reports, per blob, whether it was written.
	MaybeWriteBlobs(ctx context.Context, blobs []pxchain.Blob) ([]bool, error)

	ContainsBlobState(ctx context.Context, id pxchain.BlobID) (bool, error)

	// ReadBlobState returns a [BlobsNotFoundError] if no state is stored.
	ReadBlobState(ctx context.Context, id pxchain.BlobID) (pxchain.BlobState, error)

	// ReadBlobStates fails with a [BlobsNotFoundError]
	// naming every id whose state is missing.
	ReadBlobStates(ctx context.Context, ids []pxchain.BlobID) ([]pxchain.BlobState, error)

	WriteBlobState(ctx context.Context, id pxchain.BlobID, state pxchain.BlobState) error

	// MaybeWriteBlobState writes state if none is stored
	// or if the stored state has an older epoch.
	// It returns the latest epoch to have used the blob.
	MaybeWriteBlobState(ctx context.Context, id pxchain.BlobID, state pxchain.BlobState) (pxchain.Epoch, error)

	// MaybeWriteBlobStates writes state for every id without a stored state,
	// and, if overwrite is set, for every id whose stored state has an older epoch.
	// It returns, per id, the latest epoch to have used the blob.
	MaybeWriteBlobStates(
		ctx context.Context, ids []pxchain.BlobID, state pxchain.BlobState, overwrite bool,
	) ([]pxchain.Epoch, error)

	ContainsCertificate(ctx context.Context, hash pxchain.CryptoHash) (bool, error)

	// ReadCertificate returns a [NotFoundError] if the certificate is not stored.
	ReadCertificate(ctx context.Context, hash pxchain.CryptoHash) (pxchain.Certificate, error)

	// ReadCertificates returns the stored certificates among hashes, in request order.
	// Missing certificates are skipped, so the result may be shorter than hashes.
	ReadCertificates(ctx context.Context, hashes []pxchain.CryptoHash) ([]pxchain.Certificate, error)

	// WriteBlobsAndCertificate atomically writes the blobs,
	// the certificate and its confirmed block.
	WriteBlobsAndCertificate(ctx context.Context, blobs []pxchain.Blob, cert pxchain.Certificate) error

	// ReadConfirmedBlock returns a [NotFoundError] if the block is not stored.
	ReadConfirmedBlock(ctx context.Context, hash pxchain.CryptoHash) (pxchain.ConfirmedBlock, error)

	// ReadConfirmedBlocksDownward returns up to limit blocks,
	// starting at from and following previous-block links.
	ReadConfirmedBlocksDownward(ctx context.Context, from pxchain.CryptoHash, limit uint32) ([]pxchain.ConfirmedBlock, error)

	// ReadEvent returns a [NotFoundError] if the event is not stored.
	ReadEvent(ctx context.Context, id pxchain.EventID) ([]byte, error)
	ContainsEvent(ctx context.Context, id pxchain.EventID) (bool, error)
	WriteEvents(ctx context.Context, events []Event) error

	// ReadNetworkDescription returns nil and no error when no description is stored.
	ReadNetworkDescription(ctx context.Context) (*pxchain.NetworkDescription, error)
	WriteNetworkDescription(ctx context.Context, nd pxchain.NetworkDescription) error

	Clock() Clock
}

// Event is one event value and its address.
type Event struct {
	ID    pxchain.EventID
	Value []byte
}

// Clock provides the current time to storage consumers.
type Clock interface {
	CurrentTime() pxchain.Timestamp
}

// SystemClock is a [Clock] backed by the system wall clock.
type SystemClock struct{}

func (SystemClock) CurrentTime() pxchain.Timestamp {
	return pxchain.Timestamp(time.Now().UnixMicro())
}
