// Package snapshot periodically compacts a worker's oplog into a blob so a
// cold start doesn't have to replay the entire history. It is grounded on
// the teacher's pkg/manager WarrenFSM Snapshot/Restore/Persist/Release
// cycle (collect state, encode as JSON, write to a sink, release), adapted
// from whole-cluster-state snapshots to per-worker state snapshots written
// to a storage.BlobStore instead of raft.SnapshotSink.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/storage"
)

// Trigger identifies why a snapshot was taken, used as the metric label and
// recorded in the manifest for operational visibility.
type Trigger string

const (
	TriggerPeriodic        Trigger = "periodic"
	TriggerInvocationCount Trigger = "invocation-count"
	TriggerExplicit        Trigger = "explicit"
)

// Snapshot is the compaction anchor for a single worker: the oplog index it
// was taken at plus the opaque state blob a StateProvider produced.
type Snapshot struct {
	WorkerId  golem.WorkerId `json:"worker_id"`
	OplogIdx  golem.OplogIndex `json:"oplog_index"`
	Trigger   Trigger          `json:"trigger"`
	State     []byte           `json:"state"`
}

// StateProvider captures and restores the part of a worker's state that a
// snapshot needs beyond the oplog itself (its WASM linear memory, normally,
// via the component's save/load-state exports).
type StateProvider interface {
	Capture(ctx context.Context, owned golem.OwnedWorkerId) ([]byte, error)
	Restore(ctx context.Context, owned golem.OwnedWorkerId, state []byte) error
}

// Store writes and reads per-worker snapshots to a BlobStore, one container
// per worker's storage key so each worker's snapshot history is an
// independently listable blob namespace.
type Store struct {
	blob     storage.BlobStore
	provider StateProvider
}

// NewStore wraps a BlobStore and StateProvider as a snapshot Store.
func NewStore(blob storage.BlobStore, provider StateProvider) *Store {
	return &Store{blob: blob, provider: provider}
}

func container(owned golem.OwnedWorkerId) string {
	return string(storage.NamespaceSnapshot) + "/" + owned.StorageKey()
}

const latestPath = "latest.json"

// Take captures the worker's current state via the StateProvider and
// persists a Snapshot anchored at oplogIdx, overwriting any prior snapshot:
// only the latest snapshot is retained, matching the teacher's FSM.Snapshot
// taking a full point-in-time copy rather than an incremental one.
func (s *Store) Take(ctx context.Context, owned golem.OwnedWorkerId, oplogIdx golem.OplogIndex, trigger Trigger) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SnapshotDuration)

	state, err := s.provider.Capture(ctx, owned)
	if err != nil {
		return fmt.Errorf("snapshot: capture state for %s: %w", owned.WorkerId, err)
	}

	snap := Snapshot{WorkerId: owned.WorkerId, OplogIdx: oplogIdx, Trigger: trigger, State: state}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(&snap); err != nil {
		return fmt.Errorf("snapshot: encode snapshot for %s: %w", owned.WorkerId, err)
	}

	if err := s.blob.Put(ctx, container(owned), latestPath, buf.Bytes()); err != nil {
		return fmt.Errorf("snapshot: persist snapshot for %s: %w", owned.WorkerId, err)
	}

	metrics.SnapshotsTotal.WithLabelValues(string(trigger)).Inc()
	log.WithWorker(owned.WorkerId.String()).Info().
		Uint64("oplog_index", uint64(oplogIdx)).
		Str("trigger", string(trigger)).
		Msg("snapshot taken")
	return nil
}

// Restore loads the latest snapshot for owned (if any) and replays it
// through the StateProvider, returning the oplog index it was anchored at
// so the caller can resume replay from there instead of index 1.
func (s *Store) Restore(ctx context.Context, owned golem.OwnedWorkerId) (golem.OplogIndex, error) {
	raw, err := s.blob.Get(ctx, container(owned), latestPath)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, golemerr.NotFound("no snapshot for worker %s", owned.WorkerId)
		}
		return 0, golemerr.Internal(err, "read snapshot for %s", owned.WorkerId)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return 0, golemerr.Internal(err, "decode snapshot for %s", owned.WorkerId)
	}

	if err := s.provider.Restore(ctx, owned, snap.State); err != nil {
		return 0, fmt.Errorf("snapshot: restore state for %s: %w", owned.WorkerId, err)
	}
	return snap.OplogIdx, nil
}

// Release drops a worker's stored snapshot, used when the worker itself is
// permanently deleted.
func (s *Store) Release(ctx context.Context, owned golem.OwnedWorkerId) error {
	if err := s.blob.Delete(ctx, container(owned), latestPath); err != nil {
		return golemerr.Internal(err, "release snapshot for %s", owned.WorkerId)
	}
	return nil
}

// Policy decides when a snapshot should be taken. It is stateless besides
// the counters it's given: InvocationCount triggers every N invocations,
// zero disables it.
type Policy struct {
	EveryNInvocations uint64
}

// ShouldSnapshotOnInvocation reports whether invocationCount (the worker's
// running count of completed invocations since its last snapshot) has
// crossed the policy's threshold.
func (p Policy) ShouldSnapshotOnInvocation(invocationCount uint64) bool {
	return p.EveryNInvocations > 0 && invocationCount > 0 && invocationCount%p.EveryNInvocations == 0
}
