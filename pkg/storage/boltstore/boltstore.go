// Package boltstore implements storage.IndexedStore, storage.KVStore and
// storage.BlobStore on top of go.etcd.io/bbolt, the embedded backend the
// teacher repo uses for its own cluster state (pkg/storage/boltdb.go
// there). The bucket-per-namespace layout and db.View/db.Update/JSON-free
// byte-slice access pattern is carried over directly; what changes is the
// key scheme, which here encodes an append-only index instead of an
// entity id, and a single DB is split into three typed views so the three
// storage interfaces stay distinct despite sharing one file.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/golem-go/golem/pkg/storage"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketIndexed = []byte("indexed")
	bucketKV      = []byte("kv")
	bucketSorted  = []byte("sorted")
	bucketBlob    = []byte("blob")
)

// DB wraps a single bbolt database file and hands out the three typed
// views over it.
type DB struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database file at <dataDir>/golem.db.
func Open(dataDir string) (*DB, error) {
	path := filepath.Join(dataDir, "golem.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIndexed, bucketKV, bucketSorted, bucketBlob} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Indexed returns the storage.IndexedStore view over this database.
func (d *DB) Indexed() *Indexed { return &Indexed{db: d.db} }

// KV returns the storage.KVStore view over this database.
func (d *DB) KV() *KV { return &KV{db: d.db} }

// Blob returns the storage.BlobStore view over this database.
func (d *DB) Blob() *Blob { return &Blob{db: d.db} }

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// Indexed implements storage.IndexedStore.
type Indexed struct {
	db *bolt.DB
}

func indexedPrefix(namespace, key string) []byte {
	return []byte(namespace + "\x00" + key + "\x00")
}

func indexedEntryKey(namespace, key string, index uint64) []byte {
	prefix := indexedPrefix(namespace, key)
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], index)
	return buf
}

func length(b *bolt.Bucket, namespace, key string) uint64 {
	c := b.Cursor()
	prefix := indexedPrefix(namespace, key)
	var last uint64
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		last = binary.BigEndian.Uint64(k[len(prefix):])
	}
	return last
}

func (s *Indexed) Append(ctx context.Context, namespace, key string, value []byte) (uint64, error) {
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexed)
		next = length(b, namespace, key) + 1
		return b.Put(indexedEntryKey(namespace, key, next), value)
	})
	return next, err
}

func (s *Indexed) Read(ctx context.Context, namespace, key string, index uint64) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndexed).Get(indexedEntryKey(namespace, key, index))
		if v == nil {
			return storage.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *Indexed) ReadRange(ctx context.Context, namespace, key string, from, to uint64) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexed)
		for idx := from; idx <= to; idx++ {
			v := b.Get(indexedEntryKey(namespace, key, idx))
			if v == nil {
				continue
			}
			out = append(out, append([]byte(nil), v...))
		}
		return nil
	})
	return out, err
}

func (s *Indexed) Length(ctx context.Context, namespace, key string) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = length(tx.Bucket(bucketIndexed), namespace, key)
		return nil
	})
	return n, err
}

func (s *Indexed) DeleteKey(ctx context.Context, namespace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexed)
		c := b.Cursor()
		prefix := indexedPrefix(namespace, key)
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Indexed) Exists(ctx context.Context, namespace, key string) (bool, error) {
	n, err := s.Length(ctx, namespace, key)
	return n > 0, err
}

func (s *Indexed) Close() error { return nil }

// KV implements storage.KVStore.
type KV struct {
	db *bolt.DB
}

func kvKey(namespace, key string) []byte {
	return []byte(namespace + "\x00" + key)
}

func (s *KV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKV).Get(kvKey(namespace, key))
		if v == nil {
			return storage.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *KV) Set(ctx context.Context, namespace, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put(kvKey(namespace, key), value)
	})
}

func (s *KV) CompareAndSwap(ctx context.Context, namespace, key string, expected, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		cur := b.Get(kvKey(namespace, key))
		if len(expected) == 0 && cur == nil {
			return b.Put(kvKey(namespace, key), value)
		}
		if cur == nil || string(cur) != string(expected) {
			return storage.ErrCASMismatch
		}
		return b.Put(kvKey(namespace, key), value)
	})
}

func (s *KV) Delete(ctx context.Context, namespace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete(kvKey(namespace, key))
	})
}

func (s *KV) Keys(ctx context.Context, namespace string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(namespace + "\x00")
		c := tx.Bucket(bucketKV).Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			out = append(out, string(k[len(prefix):]))
		}
		return nil
	})
	return out, err
}

func sortedMemberKey(namespace, key, member string) []byte {
	return []byte(namespace + "\x00" + key + "\x00" + member)
}

func (s *KV) SortedSetAdd(ctx context.Context, namespace, key, member string, score float64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, float64ToSortableUint64(score))
		return tx.Bucket(bucketSorted).Put(sortedMemberKey(namespace, key, member), buf)
	})
}

func (s *KV) SortedSetRemove(ctx context.Context, namespace, key, member string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSorted).Delete(sortedMemberKey(namespace, key, member))
	})
}

func (s *KV) SortedSetRange(ctx context.Context, namespace, key string, min, max float64) ([]string, error) {
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(namespace + "\x00" + key + "\x00")
		c := tx.Bucket(bucketSorted).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			score := sortableUint64ToFloat64(binary.BigEndian.Uint64(v))
			if score >= min && score <= max {
				pairs = append(pairs, pair{string(k[len(prefix):]), score})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out, nil
}

func (s *KV) Close() error { return nil }

// float64ToSortableUint64/sortableUint64ToFloat64 map IEEE-754 floats onto
// a uint64 space that preserves ordering under byte comparison. The score is
// stored as the member's value, so bbolt's key order is member order;
// SortedSetRange sorts by the decoded score itself.
func float64ToSortableUint64(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func sortableUint64ToFloat64(bits uint64) float64 {
	if bits&(1<<63) != 0 {
		return math.Float64frombits(bits &^ (1 << 63))
	}
	return math.Float64frombits(^bits)
}

// Blob implements storage.BlobStore.
type Blob struct {
	db *bolt.DB
}

func blobKey(container, path string) []byte {
	return []byte(container + "\x00" + path)
}

func (s *Blob) Put(ctx context.Context, container, path string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlob).Put(blobKey(container, path), data)
	})
}

func (s *Blob) Get(ctx context.Context, container, path string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlob).Get(blobKey(container, path))
		if v == nil {
			return storage.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *Blob) Delete(ctx context.Context, container, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlob).Delete(blobKey(container, path))
	})
}

func (s *Blob) Exists(ctx context.Context, container, path string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketBlob).Get(blobKey(container, path)) != nil
		return nil
	})
	return ok, err
}

// List returns every path stored under container by scanning the blob
// bucket's keys for the container prefix.
func (s *Blob) List(ctx context.Context, container string) ([]string, error) {
	prefix := []byte(container + "\x00")
	var paths []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlob).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			paths = append(paths, string(k[len(prefix):]))
		}
		return nil
	})
	return paths, err
}

func (s *Blob) Close() error { return nil }

var (
	_ storage.IndexedStore = (*Indexed)(nil)
	_ storage.KVStore      = (*KV)(nil)
	_ storage.BlobStore    = (*Blob)(nil)
)
