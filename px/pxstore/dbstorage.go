package pxstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gordian-engine/gproxy/px/pxchain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// multiChunkSize is the number of keys read by one chunk of a multi-key query.
const multiChunkSize = 64

// DBStorage is the [Storage] implementation over a [KV] backend.
type DBStorage struct {
	kv    KV
	sem   *semaphore.Weighted // Nil when queries are unlimited.
	limit int                 // Parallel chunks within one multi-key read.
	clock Clock
}

var _ Storage = (*DBStorage)(nil)

// NewDBStorage returns a DBStorage backed by kv.
// Caching is not applied here;
// wrap kv with pxcache before calling NewDBStorage for a cached store.
func NewDBStorage(kv KV, cfg CommonConfig) *DBStorage {
	s := &DBStorage{
		kv:    kv,
		limit: cfg.MaxStreamQueries,
		clock: SystemClock{},
	}
	if s.limit <= 0 {
		s.limit = 1
	}
	if cfg.MaxConcurrentQueries > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentQueries))
	}
	return s
}

// WithClock returns a copy of s that reports time from c.
// The copy shares the underlying store.
func (s *DBStorage) WithClock(c Clock) *DBStorage {
	cp := *s
	cp.clock = c
	return &cp
}

func (s *DBStorage) Clock() Clock { return s.clock }

// KV returns the store s reads and writes through.
func (s *DBStorage) KV() KV { return s.kv }

// Close closes the underlying KV.
func (s *DBStorage) Close() error {
	return s.kv.Close()
}

func (s *DBStorage) acquire(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}
	return s.sem.Acquire(ctx, 1)
}

func (s *DBStorage) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *DBStorage) get(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.kv.Get(ctx, key)
}

func (s *DBStorage) contains(ctx context.Context, key []byte) (bool, error) {
	if err := s.acquire(ctx); err != nil {
		return false, err
	}
	defer s.release()
	return s.kv.Contains(ctx, key)
}

func (s *DBStorage) write(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.kv.Write(ctx, b)
}

// getMulti splits keys into chunks and reads them with bounded parallelism.
func (s *DBStorage) getMulti(ctx context.Context, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.chunked(ctx, len(keys), func(ctx context.Context, lo, hi int) error {
		vals, err := s.kv.GetMulti(ctx, keys[lo:hi])
		if err != nil {
			return err
		}
		copy(out[lo:hi], vals)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DBStorage) containsMulti(ctx context.Context, keys [][]byte) ([]bool, error) {
	out := make([]bool, len(keys))
	err := s.chunked(ctx, len(keys), func(ctx context.Context, lo, hi int) error {
		found, err := s.kv.ContainsMulti(ctx, keys[lo:hi])
		if err != nil {
			return err
		}
		copy(out[lo:hi], found)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DBStorage) chunked(ctx context.Context, n int, fn func(ctx context.Context, lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for lo := 0; lo < n; lo += multiChunkSize {
		hi := min(lo+multiChunkSize, n)
		g.Go(func() error {
			if err := s.acquire(gCtx); err != nil {
				return err
			}
			defer s.release()
			return fn(gCtx, lo, hi)
		})
	}
	return g.Wait()
}

func (s *DBStorage) ContainsBlob(ctx context.Context, id pxchain.BlobID) (bool, error) {
	ok, err := s.contains(ctx, blobKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to check blob %s: %w", id, err)
	}
	return ok, nil
}

func (s *DBStorage) MissingBlobs(ctx context.Context, ids []pxchain.BlobID) ([]pxchain.BlobID, error) {
	keys := make([][]byte, len(ids))
	for i, id := range ids {
		keys[i] = blobKey(id)
	}
	found, err := s.containsMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to check blobs: %w", err)
	}
	var missing []pxchain.BlobID
	for i, ok := range found {
		if !ok {
			missing = append(missing, ids[i])
		}
	}
	return missing, nil
}

func (s *DBStorage) ReadBlob(ctx context.Context, id pxchain.BlobID) (pxchain.Blob, error) {
	v, err := s.get(ctx, blobKey(id))
	if err != nil {
		return pxchain.Blob{}, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	if v == nil {
		return pxchain.Blob{}, BlobsNotFoundError{IDs: []pxchain.BlobID{id}}
	}
	return decodeBlob(id, v)
}

func (s *DBStorage) ReadBlobs(ctx context.Context, ids []pxchain.BlobID) ([]*pxchain.Blob, error) {
	keys := make([][]byte, len(ids))
	for i, id := range ids {
		keys[i] = blobKey(id)
	}
	vals, err := s.getMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read blobs: %w", err)
	}
	out := make([]*pxchain.Blob, len(ids))
	for i, v := range vals {
		if v == nil {
			continue
		}
		b, err := decodeBlob(ids[i], v)
		if err != nil {
			return nil, err
		}
		out[i] = &b
	}
	return out, nil
}

func decodeBlob(id pxchain.BlobID, v []byte) (pxchain.Blob, error) {
	var c pxchain.BlobContent
	if err := json.Unmarshal(v, &c); err != nil {
		return pxchain.Blob{}, fmt.Errorf("failed to decode blob %s: %w", id, err)
	}
	return pxchain.NewBlob(c), nil
}

func (s *DBStorage) WriteBlob(ctx context.Context, blob pxchain.Blob) error {
	return s.WriteBlobs(ctx, []pxchain.Blob{blob})
}

func (s *DBStorage) WriteBlobs(ctx context.Context, blobs []pxchain.Blob) error {
	var b Batch
	if err := addBlobs(&b, blobs); err != nil {
		return err
	}
	if err := s.write(ctx, &b); err != nil {
		return fmt.Errorf("failed to write blobs: %w", err)
	}
	return nil
}

func addBlobs(b *Batch, blobs []pxchain.Blob) error {
	for _, blob := range blobs {
		v, err := json.Marshal(blob.Content())
		if err != nil {
			return fmt.Errorf("failed to encode blob %s: %w", blob.ID(), err)
		}
		b.Put(blobKey(blob.ID()), v)
	}
	return nil
}

func (s *DBStorage) MaybeWriteBlobs(ctx context.Context, blobs []pxchain.Blob) ([]bool, error) {
	keys := make([][]byte, len(blobs))
	for i, blob := range blobs {
		keys[i] = blobStateKey(blob.ID())
	}
	hasState, err := s.containsMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to check blob states: %w", err)
	}

	var toWrite []pxchain.Blob
	for i, ok := range hasState {
		if ok {
			toWrite = append(toWrite, blobs[i])
		}
	}
	if err := s.WriteBlobs(ctx, toWrite); err != nil {
		return nil, err
	}
	return hasState, nil
}

func (s *DBStorage) ContainsBlobState(ctx context.Context, id pxchain.BlobID) (bool, error) {
	ok, err := s.contains(ctx, blobStateKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to check blob state %s: %w", id, err)
	}
	return ok, nil
}

func (s *DBStorage) ReadBlobState(ctx context.Context, id pxchain.BlobID) (pxchain.BlobState, error) {
	states, err := s.ReadBlobStates(ctx, []pxchain.BlobID{id})
	if err != nil {
		return pxchain.BlobState{}, err
	}
	return states[0], nil
}

func (s *DBStorage) ReadBlobStates(ctx context.Context, ids []pxchain.BlobID) ([]pxchain.BlobState, error) {
	stored, err := s.readBlobStates(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]pxchain.BlobState, len(ids))
	var missing []pxchain.BlobID
	for i, st := range stored {
		if st == nil {
			missing = append(missing, ids[i])
			continue
		}
		out[i] = *st
	}
	if len(missing) > 0 {
		return nil, BlobsNotFoundError{IDs: missing}
	}
	return out, nil
}

// readBlobStates returns nil entries for missing states.
func (s *DBStorage) readBlobStates(ctx context.Context, ids []pxchain.BlobID) ([]*pxchain.BlobState, error) {
	keys := make([][]byte, len(ids))
	for i, id := range ids {
		keys[i] = blobStateKey(id)
	}
	vals, err := s.getMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob states: %w", err)
	}
	out := make([]*pxchain.BlobState, len(ids))
	for i, v := range vals {
		if v == nil {
			continue
		}
		var st pxchain.BlobState
		if err := json.Unmarshal(v, &st); err != nil {
			return nil, fmt.Errorf("failed to decode blob state %s: %w", ids[i], err)
		}
		out[i] = &st
	}
	return out, nil
}

func (s *DBStorage) WriteBlobState(ctx context.Context, id pxchain.BlobID, state pxchain.BlobState) error {
	v, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode blob state %s: %w", id, err)
	}
	var b Batch
	b.Put(blobStateKey(id), v)
	if err := s.write(ctx, &b); err != nil {
		return fmt.Errorf("failed to write blob state %s: %w", id, err)
	}
	return nil
}

func (s *DBStorage) MaybeWriteBlobState(
	ctx context.Context, id pxchain.BlobID, state pxchain.BlobState,
) (pxchain.Epoch, error) {
	epochs, err := s.MaybeWriteBlobStates(ctx, []pxchain.BlobID{id}, state, true)
	if err != nil {
		return 0, err
	}
	return epochs[0], nil
}

func (s *DBStorage) MaybeWriteBlobStates(
	ctx context.Context, ids []pxchain.BlobID, state pxchain.BlobState, overwrite bool,
) ([]pxchain.Epoch, error) {
	stored, err := s.readBlobStates(ctx, ids)
	if err != nil {
		return nil, err
	}

	v, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blob state: %w", err)
	}

	var b Batch
	epochs := make([]pxchain.Epoch, len(ids))
	for i, cur := range stored {
		if cur == nil {
			b.Put(blobStateKey(ids[i]), v)
			epochs[i] = state.Epoch
			continue
		}
		if overwrite && cur.Epoch < state.Epoch {
			b.Put(blobStateKey(ids[i]), v)
		}
		epochs[i] = max(cur.Epoch, state.Epoch)
	}

	if err := s.write(ctx, &b); err != nil {
		return nil, fmt.Errorf("failed to write blob states: %w", err)
	}
	return epochs, nil
}

func (s *DBStorage) ContainsCertificate(ctx context.Context, hash pxchain.CryptoHash) (bool, error) {
	ok, err := s.contains(ctx, certificateKey(hash))
	if err != nil {
		return false, fmt.Errorf("failed to check certificate %s: %w", hash, err)
	}
	return ok, nil
}

func (s *DBStorage) ReadCertificate(ctx context.Context, hash pxchain.CryptoHash) (pxchain.Certificate, error) {
	v, err := s.get(ctx, certificateKey(hash))
	if err != nil {
		return pxchain.Certificate{}, fmt.Errorf("failed to read certificate %s: %w", hash, err)
	}
	if v == nil {
		return pxchain.Certificate{}, NotFoundError{Entity: "certificate", Key: hash.String()}
	}
	var c pxchain.Certificate
	if err := json.Unmarshal(v, &c); err != nil {
		return pxchain.Certificate{}, fmt.Errorf("failed to decode certificate %s: %w", hash, err)
	}
	return c, nil
}

func (s *DBStorage) ReadCertificates(ctx context.Context, hashes []pxchain.CryptoHash) ([]pxchain.Certificate, error) {
	keys := make([][]byte, len(hashes))
	for i, h := range hashes {
		keys[i] = certificateKey(h)
	}
	vals, err := s.getMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificates: %w", err)
	}
	out := make([]pxchain.Certificate, 0, len(hashes))
	for i, v := range vals {
		if v == nil {
			continue
		}
		var c pxchain.Certificate
		if err := json.Unmarshal(v, &c); err != nil {
			return nil, fmt.Errorf("failed to decode certificate %s: %w", hashes[i], err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *DBStorage) WriteBlobsAndCertificate(ctx context.Context, blobs []pxchain.Blob, cert pxchain.Certificate) error {
	var b Batch
	if err := addBlobs(&b, blobs); err != nil {
		return err
	}

	hash := cert.Hash()
	cv, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("failed to encode certificate %s: %w", hash, err)
	}
	bv, err := json.Marshal(cert.Value)
	if err != nil {
		return fmt.Errorf("failed to encode confirmed block %s: %w", hash, err)
	}
	b.Put(certificateKey(hash), cv)
	b.Put(confirmedBlockKey(hash), bv)

	if err := s.write(ctx, &b); err != nil {
		return fmt.Errorf("failed to write certificate %s: %w", hash, err)
	}
	return nil
}

func (s *DBStorage) ReadConfirmedBlock(ctx context.Context, hash pxchain.CryptoHash) (pxchain.ConfirmedBlock, error) {
	v, err := s.get(ctx, confirmedBlockKey(hash))
	if err != nil {
		return pxchain.ConfirmedBlock{}, fmt.Errorf("failed to read confirmed block %s: %w", hash, err)
	}
	if v == nil {
		return pxchain.ConfirmedBlock{}, NotFoundError{Entity: "confirmed block", Key: hash.String()}
	}
	var blk pxchain.ConfirmedBlock
	if err := json.Unmarshal(v, &blk); err != nil {
		return pxchain.ConfirmedBlock{}, fmt.Errorf("failed to decode confirmed block %s: %w", hash, err)
	}
	return blk, nil
}

func (s *DBStorage) ReadConfirmedBlocksDownward(
	ctx context.Context, from pxchain.CryptoHash, limit uint32,
) ([]pxchain.ConfirmedBlock, error) {
	var out []pxchain.ConfirmedBlock
	next := &from
	for next != nil && uint32(len(out)) < limit {
		blk, err := s.ReadConfirmedBlock(ctx, *next)
		if err != nil {
			return nil, err
		}
		out = append(out, blk)
		next = blk.PreviousBlockHash
	}
	return out, nil
}

func (s *DBStorage) ReadEvent(ctx context.Context, id pxchain.EventID) ([]byte, error) {
	v, err := s.get(ctx, eventKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	if v == nil {
		return nil, NotFoundError{
			Entity: "event",
			Key:    fmt.Sprintf("%s/%s/%d", id.ChainID, id.StreamID, id.Index),
		}
	}
	var val []byte
	if err := json.Unmarshal(v, &val); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return val, nil
}

func (s *DBStorage) ContainsEvent(ctx context.Context, id pxchain.EventID) (bool, error) {
	ok, err := s.contains(ctx, eventKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return ok, nil
}

func (s *DBStorage) WriteEvents(ctx context.Context, events []Event) error {
	var b Batch
	for _, e := range events {
		v, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		b.Put(eventKey(e.ID), v)
	}
	if err := s.write(ctx, &b); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}
	return nil
}

func (s *DBStorage) ReadNetworkDescription(ctx context.Context) (*pxchain.NetworkDescription, error) {
	v, err := s.get(ctx, networkDescriptionKey())
	if err != nil {
		return nil, fmt.Errorf("failed to read network description: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	var nd pxchain.NetworkDescription
	if err := json.Unmarshal(v, &nd); err != nil {
		return nil, fmt.Errorf("failed to decode network description: %w", err)
	}
	return &nd, nil
}

func (s *DBStorage) WriteNetworkDescription(ctx context.Context, nd pxchain.NetworkDescription) error {
	v, err := json.Marshal(nd)
	if err != nil {
		return fmt.Errorf("failed to encode network description: %w", err)
	}
	var b Batch
	b.Put(networkDescriptionKey(), v)
	if err := s.write(ctx, &b); err != nil {
		return fmt.Errorf("failed to write network description: %w", err)
	}
	return nil
}
