package golem

import "time"

// WorkerStatus is the lifecycle state of a worker as seen by the executor
// that currently owns it (or last owned it, for a suspended worker).
type WorkerStatus string

const (
	WorkerStatusIdle        WorkerStatus = "idle"
	WorkerStatusRunning     WorkerStatus = "running"
	WorkerStatusSuspended   WorkerStatus = "suspended"
	WorkerStatusInterrupted WorkerStatus = "interrupted"
	WorkerStatusRetrying    WorkerStatus = "retrying"
	WorkerStatusFailed      WorkerStatus = "failed"
	WorkerStatusExited      WorkerStatus = "exited"
)

// AgentMode controls whether a worker's oplog is persisted across restarts
// or only kept live for the duration of a single invocation burst.
type AgentMode string

const (
	AgentModeDurable   AgentMode = "durable"
	AgentModeEphemeral AgentMode = "ephemeral"
)

// WorkerStatusRecord is the materialized projection of a worker's oplog,
// cached in a KVStore so that routing and status queries don't have to
// replay the whole log. It is the Go analogue of the oplog-folded worker
// metadata golem-worker-executor keeps next to the log itself.
type WorkerStatusRecord struct {
	WorkerId         WorkerId
	Status           WorkerStatus
	AgentMode        AgentMode
	ComponentVersion ComponentVersion
	RetryCount       uint64
	OplogIdx         OplogIndex
	DeletedRegions   []DeletedRegion
	PendingUpdates   []PendingUpdate
	SkippedRegions   []DeletedRegion
	LastError        string
	UpdatedAt        time.Time
	// InvocationResults maps an idempotency key to the response recorded by
	// the ExportedFunctionCompleted entry that closed the invocation it
	// named, so a retried invoke_and_await with the same key can be
	// answered without re-running anything, even after this cache was
	// rebuilt from a cold replay.
	InvocationResults map[string][]byte
}

// DeletedRegion marks an oplog index range that replay must skip, used by
// both Revert (drop tail entries) and Jump (drop arbitrary interior range).
type DeletedRegion struct {
	Start OplogIndex
	End   OplogIndex // inclusive
}

func (d DeletedRegion) Contains(idx OplogIndex) bool {
	return idx >= d.Start && idx <= d.End
}

// UpdateDescription is how a component revision bump should be applied to
// a running worker.
type UpdateDescription struct {
	TargetVersion ComponentVersion
	Mode          UpdateMode
}

// UpdateMode mirrors golem's Automatic (replay into the new component,
// relying on compatible state) vs SnapshotBased (invoke save/load hooks)
// update strategies.
type UpdateMode string

const (
	UpdateModeAutomatic     UpdateMode = "automatic"
	UpdateModeSnapshotBased UpdateMode = "snapshot-based"
)

// PendingUpdate is an update request recorded in the oplog but not yet
// resolved to Successful or Failed.
type PendingUpdate struct {
	TargetVersion ComponentVersion
	Description   UpdateDescription
	RequestedAt   OplogIndex
}
