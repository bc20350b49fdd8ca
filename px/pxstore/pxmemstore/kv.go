// Package pxmemstore contains an in-memory [pxstore.KV].
package pxmemstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/gordian-engine/gproxy/px/pxstore"
)

// KV is an in-memory implementation of [pxstore.KV].
// Values are copied on the way in and on the way out.
type KV struct {
	mu     sync.RWMutex
	m      map[string][]byte
	closed bool
}

func NewKV() *KV {
	return &KV{m: make(map[string][]byte)}
}

func (s *KV) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, pxstore.ErrClosed
	}

	v, ok := s.m[string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (s *KV) GetMulti(_ context.Context, keys [][]byte) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, pxstore.ErrClosed
	}

	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, ok := s.m[string(k)]; ok {
			out[i] = bytes.Clone(v)
		}
	}
	return out, nil
}

func (s *KV) Contains(_ context.Context, key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, pxstore.ErrClosed
	}

	_, ok := s.m[string(key)]
	return ok, nil
}

func (s *KV) ContainsMulti(_ context.Context, keys [][]byte) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, pxstore.ErrClosed
	}

	out := make([]bool, len(keys))
	for i, k := range keys {
		_, out[i] = s.m[string(k)]
	}
	return out, nil
}

func (s *KV) Write(_ context.Context, b *pxstore.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return pxstore.ErrClosed
	}

	for _, op := range b.Ops {
		if op.IsDelete() {
			delete(s.m, string(op.Key))
			continue
		}
		s.m[string(op.Key)] = bytes.Clone(op.Value)
	}
	return nil
}

func (s *KV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.m = nil
	return nil
}
