// Package golem holds the domain model shared by every Golem service:
// identifiers, oplog payloads, worker status projections and the small
// set of value types that cross package boundaries.
package golem

import (
	"fmt"

	"github.com/google/uuid"
)

// ComponentId identifies an immutable WASM component definition.
type ComponentId struct {
	UUID uuid.UUID
}

// ComponentVersion is the monotonically increasing revision of a component.
type ComponentVersion uint64

// VersionedComponentId pins a component to a specific published revision.
type VersionedComponentId struct {
	ComponentId ComponentId
	Version     ComponentVersion
}

func (v VersionedComponentId) String() string {
	return fmt.Sprintf("%s/%d", v.ComponentId.UUID, v.Version)
}

// AccountId identifies the tenant that owns a worker.
type AccountId struct {
	Value string
}

// ProjectId groups components and workers within an account.
type ProjectId struct {
	UUID uuid.UUID
}

// WorkerId names a single durable worker instance of a component.
type WorkerId struct {
	ComponentId ComponentId
	WorkerName  string
}

func (w WorkerId) String() string {
	return fmt.Sprintf("%s/%s", w.ComponentId.UUID, w.WorkerName)
}

// OwnedWorkerId is a WorkerId plus the account/project that owns it, the
// unit of identity actually used for routing, storage keys and auth checks.
type OwnedWorkerId struct {
	AccountId AccountId
	ProjectId ProjectId
	WorkerId  WorkerId
}

// StorageKey is the string a worker's identity collapses to when used as
// a key into IndexedStore/KVStore. It intentionally excludes the account
// and project so that replay is insensitive to tenant bookkeeping.
func (o OwnedWorkerId) StorageKey() string {
	return fmt.Sprintf("%s/%s", o.WorkerId.ComponentId.UUID, o.WorkerId.WorkerName)
}

// OplogIndex is a 1-based sequence number into a worker's oplog. Index 0
// is reserved to mean "before the first entry".
type OplogIndex uint64

// Next returns the index immediately following this one.
func (i OplogIndex) Next() OplogIndex { return i + 1 }

// PromiseId identifies an outstanding CompletePromise/await_promise pair.
type PromiseId struct {
	WorkerId   WorkerId
	OplogIndex OplogIndex
}

func (p PromiseId) String() string {
	return fmt.Sprintf("%s@%d", p.WorkerId, p.OplogIndex)
}

// ShardId is the result of hashing a WorkerId into the shard space.
type ShardId int64

// IdempotencyKey deduplicates invocations enqueued for a worker.
type IdempotencyKey struct {
	Value string
}
