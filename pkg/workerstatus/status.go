// Package workerstatus caches the WorkerStatusRecord projection of a
// worker's oplog in a storage.KVStore, so routing, health and status
// queries don't have to replay the full log on every call. It falls back
// to an injected recompute function (normally the workerfsm replay driver)
// whenever the cache holds no record for the worker; a stale record is not
// detected.
package workerstatus

import (
	"context"
	"encoding/json"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/storage"
)

// Store is the KV-backed worker status cache.
type Store struct {
	kv storage.KVStore
}

// NewStore wraps a KVStore as a worker status cache.
func NewStore(kv storage.KVStore) *Store {
	return &Store{kv: kv}
}

// Get returns the cached record for owned, or a NotFound *golemerr.Error if
// nothing has been cached yet.
func (s *Store) Get(ctx context.Context, owned golem.OwnedWorkerId) (*golem.WorkerStatusRecord, error) {
	raw, err := s.kv.Get(ctx, string(storage.NamespaceWorkerStatus), owned.StorageKey())
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, golemerr.NotFound("no cached status for worker %s", owned.WorkerId)
		}
		return nil, golemerr.Internal(err, "read worker status for %s", owned.WorkerId)
	}
	var rec golem.WorkerStatusRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, golemerr.Internal(err, "decode worker status for %s", owned.WorkerId)
	}
	return &rec, nil
}

// Put overwrites the cached record unconditionally.
func (s *Store) Put(ctx context.Context, owned golem.OwnedWorkerId, rec *golem.WorkerStatusRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return golemerr.Internal(err, "encode worker status for %s", owned.WorkerId)
	}
	if err := s.kv.Set(ctx, string(storage.NamespaceWorkerStatus), owned.StorageKey(), raw); err != nil {
		return golemerr.Internal(err, "write worker status for %s", owned.WorkerId)
	}
	return nil
}

// CompareAndSwap updates the cached record only if the stored record still
// equals expected as a whole (a nil expected matches only an absent record),
// so a writer can publish a new projection without racing a concurrent one.
func (s *Store) CompareAndSwap(ctx context.Context, owned golem.OwnedWorkerId, expected *golem.WorkerStatusRecord, next *golem.WorkerStatusRecord) error {
	var expectedRaw []byte
	if expected != nil {
		raw, err := json.Marshal(expected)
		if err != nil {
			return golemerr.Internal(err, "encode expected worker status for %s", owned.WorkerId)
		}
		expectedRaw = raw
	}
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return golemerr.Internal(err, "encode worker status for %s", owned.WorkerId)
	}
	if err := s.kv.CompareAndSwap(ctx, string(storage.NamespaceWorkerStatus), owned.StorageKey(), expectedRaw, nextRaw); err != nil {
		if err == storage.ErrCASMismatch {
			return golemerr.ConcurrentUpdate("worker status for %s changed concurrently", owned.WorkerId)
		}
		return golemerr.Internal(err, "compare-and-swap worker status for %s", owned.WorkerId)
	}
	return nil
}

// RecomputeFunc rebuilds a WorkerStatusRecord from authoritative state
// (normally by replaying the oplog), used as the cache-miss fallback.
type RecomputeFunc func(ctx context.Context, owned golem.OwnedWorkerId) (*golem.WorkerStatusRecord, error)

// GetOrRecompute returns the cached record if present, otherwise calls
// recompute, caches its result and returns it. This is the path every
// status query and routing decision actually goes through.
func (s *Store) GetOrRecompute(ctx context.Context, owned golem.OwnedWorkerId, recompute RecomputeFunc) (*golem.WorkerStatusRecord, error) {
	rec, err := s.Get(ctx, owned)
	if err == nil {
		return rec, nil
	}
	if !golemerr.Is(err, golemerr.CodeNotFound) {
		return nil, err
	}

	rec, err = recompute(ctx, owned)
	if err != nil {
		return nil, err
	}
	if err := s.Put(ctx, owned, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Invalidate drops the cached record, forcing the next GetOrRecompute to
// replay from scratch. Used after a Revert/Jump compaction changes the
// authoritative log in a way the cached projection can't be patched for.
func (s *Store) Invalidate(ctx context.Context, owned golem.OwnedWorkerId) error {
	if err := s.kv.Delete(ctx, string(storage.NamespaceWorkerStatus), owned.StorageKey()); err != nil {
		return golemerr.Internal(err, "invalidate worker status for %s", owned.WorkerId)
	}
	return nil
}
