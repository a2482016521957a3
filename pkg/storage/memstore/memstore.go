// Package memstore is an in-memory implementation of storage.IndexedStore,
// storage.KVStore and storage.BlobStore used for unit tests. It is built
// on the standard library
// only: an in-process map has no ecosystem library that would do this job
// better, and every other backend in this tree (bbolt, SQLite, Postgres,
// Redis) exists specifically to give up memstore's volatility, so there is
// nothing to ground it on beyond sync.RWMutex and a map.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/golem-go/golem/pkg/storage"
)

type indexedKey struct{ namespace, key string }
type kvKey struct{ namespace, key string }
type blobKey struct{ container, path string }

var (
	_ storage.IndexedStore = (*Indexed)(nil)
	_ storage.KVStore      = (*KV)(nil)
	_ storage.BlobStore    = (*Blob)(nil)
)

// Indexed implements storage.IndexedStore over a plain map of slices.
type Indexed struct {
	mu   sync.RWMutex
	data map[indexedKey][][]byte
}

func NewIndexed() *Indexed {
	return &Indexed{data: make(map[indexedKey][][]byte)}
}

func (s *Indexed) Append(_ context.Context, namespace, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := indexedKey{namespace, key}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[k] = append(s.data[k], cp)
	return uint64(len(s.data[k])), nil
}

func (s *Indexed) Read(_ context.Context, namespace, key string, index uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.data[indexedKey{namespace, key}]
	if index == 0 || index > uint64(len(entries)) {
		return nil, storage.ErrNotFound
	}
	return entries[index-1], nil
}

func (s *Indexed) ReadRange(_ context.Context, namespace, key string, from, to uint64) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.data[indexedKey{namespace, key}]
	var out [][]byte
	for idx := from; idx <= to; idx++ {
		if idx == 0 || idx > uint64(len(entries)) {
			continue
		}
		out = append(out, entries[idx-1])
	}
	return out, nil
}

func (s *Indexed) Length(_ context.Context, namespace, key string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data[indexedKey{namespace, key}])), nil
}

func (s *Indexed) DeleteKey(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, indexedKey{namespace, key})
	return nil
}

func (s *Indexed) Exists(_ context.Context, namespace, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.data[indexedKey{namespace, key}]
	return ok && len(entries) > 0, nil
}

func (s *Indexed) Close() error { return nil }

// KV implements storage.KVStore over plain maps, including a sorted-set
// primitive implemented as a map plus a sort-on-read.
type KV struct {
	mu     sync.RWMutex
	values map[kvKey][]byte
	sorted map[kvKey]map[string]float64
}

func NewKV() *KV {
	return &KV{
		values: make(map[kvKey][]byte),
		sorted: make(map[kvKey]map[string]float64),
	}
}

func (s *KV) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[kvKey{namespace, key}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (s *KV) Set(_ context.Context, namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[kvKey{namespace, key}] = value
	return nil
}

func (s *KV) CompareAndSwap(_ context.Context, namespace, key string, expected, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := kvKey{namespace, key}
	cur, ok := s.values[k]
	if len(expected) == 0 && !ok {
		s.values[k] = value
		return nil
	}
	if !ok || string(cur) != string(expected) {
		return storage.ErrCASMismatch
	}
	s.values[k] = value
	return nil
}

func (s *KV) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, kvKey{namespace, key})
	return nil
}

func (s *KV) Keys(_ context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.values {
		if k.namespace == namespace {
			out = append(out, k.key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *KV) SortedSetAdd(_ context.Context, namespace, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := kvKey{namespace, key}
	set, ok := s.sorted[k]
	if !ok {
		set = make(map[string]float64)
		s.sorted[k] = set
	}
	set[member] = score
	return nil
}

func (s *KV) SortedSetRemove(_ context.Context, namespace, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sorted[kvKey{namespace, key}]; ok {
		delete(set, member)
	}
	return nil
}

func (s *KV) SortedSetRange(_ context.Context, namespace, key string, min, max float64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sorted[kvKey{namespace, key}]
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	for m, sc := range set {
		if sc >= min && sc <= max {
			pairs = append(pairs, pair{m, sc})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out, nil
}

func (s *KV) Close() error { return nil }

// Blob implements storage.BlobStore over a plain map.
type Blob struct {
	mu   sync.RWMutex
	data map[blobKey][]byte
}

func NewBlob() *Blob {
	return &Blob{data: make(map[blobKey][]byte)}
}

func (s *Blob) Put(_ context.Context, container, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[blobKey{container, path}] = cp
	return nil
}

func (s *Blob) Get(_ context.Context, container, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[blobKey{container, path}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (s *Blob) Delete(_ context.Context, container, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, blobKey{container, path})
	return nil
}

func (s *Blob) Exists(_ context.Context, container, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[blobKey{container, path}]
	return ok, nil
}

func (s *Blob) List(_ context.Context, container string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for k := range s.data {
		if k.container == container {
			paths = append(paths, k.path)
		}
	}
	return paths, nil
}

func (s *Blob) Close() error { return nil }
