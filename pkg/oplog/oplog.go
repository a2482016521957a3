// Package oplog implements the append-only log every durable worker
// records its observable actions into. It is the Go counterpart of
// golem-worker-executor-base's oplog service: a thin, typed wrapper around
// storage.IndexedStore that knows how to frame golem.OplogEntry values and
// track the "commit level" a durability wrapper is writing at.
package oplog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/oplog/codec"
	"github.com/golem-go/golem/pkg/storage"
)

// Oplog is the per-worker handle returned by Service.Open. It is not safe
// for concurrent use by more than one invocation of the same worker, which
// matches the single-writer invariant the worker state machine enforces.
type Oplog struct {
	svc *Service
	key string

	mu          sync.Mutex
	commitLevel int // depth of nested BeginCommitLevel calls
}

// Service is the shared oplog subsystem wired into a worker executor: one
// Service per process, backed by whichever storage.IndexedStore backend the
// deployment chose.
type Service struct {
	store storage.IndexedStore
}

// NewService constructs an oplog Service over the given IndexedStore.
func NewService(store storage.IndexedStore) *Service {
	return &Service{store: store}
}

// Open returns a handle to the given worker's log, creating it implicitly
// on the first Append.
func (s *Service) Open(owned golem.OwnedWorkerId) *Oplog {
	return &Oplog{svc: s, key: owned.StorageKey()}
}

// Create writes the initial CreateEntry for a brand-new worker. It must be
// the first entry appended to a fresh log.
func (o *Oplog) Create(ctx context.Context, entry golem.CreateEntry) (golem.OplogIndex, error) {
	length, err := o.svc.store.Length(ctx, string(storage.NamespaceOplog), o.key)
	if err != nil {
		return 0, golemerr.Internal(err, "read oplog length for %s", o.key)
	}
	if length != 0 {
		return 0, golemerr.AlreadyExists("worker %s already has an oplog", o.key)
	}
	return o.Append(ctx, entry)
}

// Append writes payload as the next entry, timestamped with time.Now, and
// returns the index it landed at.
func (o *Oplog) Append(ctx context.Context, payload golem.OplogPayload) (golem.OplogIndex, error) {
	return o.AppendAt(ctx, payload, time.Now())
}

// AppendAt is Append with an explicit timestamp, used by replay-driving
// code and tests that need a fixed clock.
func (o *Oplog) AppendAt(ctx context.Context, payload golem.OplogPayload, ts time.Time) (golem.OplogIndex, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.OplogAppendDuration)

	encoded, err := codec.Encode(ts, payload)
	if err != nil {
		return 0, golemerr.Internal(err, "encode oplog entry for %s", o.key)
	}

	idx, err := o.svc.store.Append(ctx, string(storage.NamespaceOplog), o.key, encoded)
	if err != nil {
		return 0, golemerr.Internal(err, "append oplog entry for %s", o.key)
	}

	log.WithComponent("oplog").Debug().
		Str("worker", o.key).
		Str("kind", string(payload.Kind())).
		Uint64("index", idx).
		Msg("appended oplog entry")
	metrics.OplogEntriesTotal.WithLabelValues(string(payload.Kind())).Inc()

	return golem.OplogIndex(idx), nil
}

// Read returns the decoded entry at index.
func (o *Oplog) Read(ctx context.Context, index golem.OplogIndex) (golem.OplogEntry, error) {
	raw, err := o.svc.store.Read(ctx, string(storage.NamespaceOplog), o.key, uint64(index))
	if err != nil {
		if err == storage.ErrNotFound {
			return golem.OplogEntry{}, golemerr.NotFound("no oplog entry %d for %s", index, o.key)
		}
		return golem.OplogEntry{}, golemerr.Internal(err, "read oplog entry %d for %s", index, o.key)
	}
	entry, err := codec.Decode(index, raw)
	if err != nil {
		return golem.OplogEntry{}, wrapDecodeErr(err, index, o.key)
	}
	return entry, nil
}

// ReadRange returns every decoded entry in [from, to], skipping indices
// that fall inside a later compaction's deleted region is the caller's
// responsibility, not the log's: the log itself is dense.
func (o *Oplog) ReadRange(ctx context.Context, from, to golem.OplogIndex) ([]golem.OplogEntry, error) {
	if to < from {
		return nil, nil
	}
	raws, err := o.svc.store.ReadRange(ctx, string(storage.NamespaceOplog), o.key, uint64(from), uint64(to))
	if err != nil {
		return nil, golemerr.Internal(err, "read oplog range [%d,%d] for %s", from, to, o.key)
	}
	entries := make([]golem.OplogEntry, 0, len(raws))
	idx := from
	for _, raw := range raws {
		entry, err := codec.Decode(idx, raw)
		if err != nil {
			return nil, wrapDecodeErr(err, idx, o.key)
		}
		entries = append(entries, entry)
		idx++
	}
	return entries, nil
}

// Length returns the number of entries currently in the log, i.e. the
// index of the last entry; the next Append lands at Length+1.
func (o *Oplog) Length(ctx context.Context) (golem.OplogIndex, error) {
	n, err := o.svc.store.Length(ctx, string(storage.NamespaceOplog), o.key)
	if err != nil {
		return 0, golemerr.Internal(err, "read oplog length for %s", o.key)
	}
	return golem.OplogIndex(n), nil
}

// Delete drops the entire log, used when a worker is permanently removed.
func (o *Oplog) Delete(ctx context.Context) error {
	if err := o.svc.store.DeleteKey(ctx, string(storage.NamespaceOplog), o.key); err != nil {
		return golemerr.Internal(err, "delete oplog for %s", o.key)
	}
	return nil
}

// wrapDecodeErr preserves codec.Decode's golemerr.CodeOplogFormatMismatch
// (an unknown tag or truncated entry, per §6/§7, is a distinct failure from
// a broken storage backend) instead of flattening it into CodeInternal; any
// other error from the decode path falls back to Internal as before.
func wrapDecodeErr(err error, index golem.OplogIndex, key string) error {
	if golemerr.Is(err, golemerr.CodeOplogFormatMismatch) {
		return err
	}
	return golemerr.Internal(err, "decode oplog entry %d for %s", index, key)
}

// BeginCommitLevel and FinishCommitLevel bracket a durability wrapper's
// nested atomic/remote-write regions: entering increments a depth counter,
// leaving decrements it, and only the outermost FinishCommitLevel actually
// signals "this unit of work is durably committed" to callers checking
// o.AtCommitLevelZero().
func (o *Oplog) BeginCommitLevel() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commitLevel++
	return o.commitLevel
}

func (o *Oplog) FinishCommitLevel() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.commitLevel == 0 {
		return 0, fmt.Errorf("oplog: FinishCommitLevel called with no matching BeginCommitLevel for %s", o.key)
	}
	o.commitLevel--
	return o.commitLevel, nil
}

// AtCommitLevelZero reports whether every opened commit level has been
// closed, i.e. whether the worker is not mid atomic/remote-write region.
func (o *Oplog) AtCommitLevelZero() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.commitLevel == 0
}
