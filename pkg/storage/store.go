// Package storage defines the three storage abstractions every Golem
// service is built on top of -- IndexedStore for append-only per-worker
// logs, KVStore for status projections and routing metadata, and BlobStore
// for component payloads -- plus a set of pluggable backends. The shape
// follows the teacher's storage.Store interface (one Go interface per
// concern, JSON-at-rest, bucket/table-per-namespace), generalized from
// warren's container-cluster entities to Golem's oplog/kv/blob triad.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get/Read when the key or index does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrCASMismatch is returned by KVStore.CompareAndSwap when the stored
// value does not match the expected value.
var ErrCASMismatch = errors.New("storage: compare-and-swap mismatch")

// IndexedStore is an append-only log keyed by (namespace, key), addressed
// by a 1-based index. It backs the worker oplog: each OwnedWorkerId maps to
// one key in the "oplog" namespace, and OplogIndex maps directly onto the
// store's index space.
type IndexedStore interface {
	// Append writes value at the next index after the current length and
	// returns the index it was written at. It is not safe to call
	// concurrently for the same (namespace, key) from two goroutines.
	Append(ctx context.Context, namespace, key string, value []byte) (uint64, error)

	// Read returns the value at index, or ErrNotFound.
	Read(ctx context.Context, namespace, key string, index uint64) ([]byte, error)

	// ReadRange returns values for indices [from, to], inclusive. Missing
	// indices inside the range are omitted rather than erroring, so callers
	// that expect a dense range must check the returned count.
	ReadRange(ctx context.Context, namespace, key string, from, to uint64) ([][]byte, error)

	// Length returns the number of entries stored for key, i.e. the index
	// of the last entry; the next Append writes at Length+1.
	Length(ctx context.Context, namespace, key string) (uint64, error)

	// DeleteKey removes every entry for key.
	DeleteKey(ctx context.Context, namespace, key string) error

	// Exists reports whether key has at least one entry.
	Exists(ctx context.Context, namespace, key string) (bool, error)

	Close() error
}

// KVStore is a namespaced key/value store with compare-and-swap and a
// sorted-set primitive, used for worker status projections, the shard
// routing table and promise completion signalling.
type KVStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	CompareAndSwap(ctx context.Context, namespace, key string, expected, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Keys(ctx context.Context, namespace string) ([]string, error)

	// SortedSetAdd/SortedSetRange back the workerfsm invocation queue's
	// ordering-by-enqueue-time requirement.
	SortedSetAdd(ctx context.Context, namespace, key, member string, score float64) error
	SortedSetRemove(ctx context.Context, namespace, key, member string) error
	SortedSetRange(ctx context.Context, namespace, key string, min, max float64) ([]string, error)

	Close() error
}

// BlobStore stores opaque byte blobs (compiled components, snapshot
// payloads) addressed by a container name and a path within it.
type BlobStore interface {
	Put(ctx context.Context, container, path string, data []byte) error
	Get(ctx context.Context, container, path string) ([]byte, error)
	Delete(ctx context.Context, container, path string) error
	Exists(ctx context.Context, container, path string) (bool, error)

	// List returns every path stored under container, used by golemctl's
	// component listing to enumerate uploaded component binaries without a
	// separate metadata index.
	List(ctx context.Context, container string) ([]string, error)

	Close() error
}

// Namespace names the fixed set of logical namespaces services write into.
// Backends that multiplex many logical stores into one physical connection
// (SQLite/Postgres tables, Redis key prefixes, bbolt buckets) use these as
// their partition key.
type Namespace string

const (
	NamespaceOplog           Namespace = "oplog"
	NamespaceWorkerStatus    Namespace = "worker_status"
	NamespaceRoutingTable    Namespace = "routing_table"
	NamespacePromise         Namespace = "promise"
	NamespaceInvocationQueue Namespace = "invocation_queue"
	NamespaceComponent       Namespace = "component"
	NamespaceSnapshot        Namespace = "snapshot"
)
