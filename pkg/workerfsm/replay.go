// Package workerfsm owns a worker's in-memory lifecycle: replaying its
// oplog into a WorkerStatusRecord, driving live invocations through the
// durability wrapper, queuing pending invocations and reacting to
// suspend/interrupt/fail/exit transitions. It generalizes the teacher's
// pkg/worker (container lifecycle: pull/create/start/poll/stop) and
// pkg/scheduler (ticker-driven placement loop) to WASM component workers
// replaying an append-only log instead of polling containerd.
package workerfsm

import (
	"context"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/oplog"
)

// ReplayCursor walks a worker's oplog in order, skipping entries that fall
// inside a DeletedRegion recorded by an earlier Jump or Revert. It
// implements durability.ReplaySource so the same cursor drives both the
// status fold below and the live durability wrappers a replaying
// invocation constructs.
type ReplayCursor struct {
	log            *oplog.Oplog
	next           golem.OplogIndex
	length         golem.OplogIndex
	deletedRegions []golem.DeletedRegion
}

// NewReplayCursor creates a cursor starting at oplog index 1.
func NewReplayCursor(ctx context.Context, log *oplog.Oplog, deletedRegions []golem.DeletedRegion) (*ReplayCursor, error) {
	length, err := log.Length(ctx)
	if err != nil {
		return nil, err
	}
	return &ReplayCursor{log: log, next: 1, length: length, deletedRegions: deletedRegions}, nil
}

func (c *ReplayCursor) skipped(idx golem.OplogIndex) bool {
	for _, r := range c.deletedRegions {
		if r.Contains(idx) {
			return true
		}
	}
	return false
}

// Next returns the next non-skipped entry, advancing the cursor.
func (c *ReplayCursor) Next(ctx context.Context) (golem.OplogEntry, bool, error) {
	for c.next <= c.length {
		idx := c.next
		c.next++
		if c.skipped(idx) {
			continue
		}
		entry, err := c.log.Read(ctx, idx)
		if err != nil {
			return golem.OplogEntry{}, false, err
		}
		return entry, true, nil
	}
	return golem.OplogEntry{}, false, nil
}

// Replay folds a worker's full oplog into a WorkerStatusRecord, the Go
// counterpart of golem-worker-executor's replay-into-state-machine step
// that runs whenever a worker's status isn't already cached. It does not
// re-run imported-function side effects; it only derives the bookkeeping
// (status, retry count, component version, pending updates) a cold-started
// executor needs before it can safely accept invocations.
func Replay(ctx context.Context, owned golem.OwnedWorkerId, log *oplog.Oplog) (*golem.WorkerStatusRecord, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplayDuration)

	length, err := log.Length(ctx)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, golemerr.NotFound("worker %s has no oplog", owned.WorkerId)
	}

	// Jump and Revert entries declare a deleted region that also covers
	// earlier indices, so the deleted-region set must be known before the
	// fold below decides what to skip -- a single forward pass can't see a
	// Jump's effect on the entries preceding it.
	deletedRegions, crashedMidRegion, err := collectDeletedRegions(ctx, log, length)
	if err != nil {
		return nil, err
	}

	rec := &golem.WorkerStatusRecord{WorkerId: owned.WorkerId, Status: golem.WorkerStatusIdle}
	var pending []golem.PendingUpdate
	var openInvocationKey string

	idx := golem.OplogIndex(1)
	for idx <= length {
		skip := false
		for _, r := range deletedRegions {
			if r.Contains(idx) {
				skip = true
				break
			}
		}
		if skip {
			idx++
			continue
		}

		entry, err := log.Read(ctx, idx)
		if err != nil {
			return nil, err
		}

		switch p := entry.Payload.(type) {
		case *golem.CreateEntry:
			rec.ComponentVersion = p.ComponentVersion
			rec.AgentMode = p.AgentMode
		case *golem.SuspendEntry:
			rec.Status = golem.WorkerStatusSuspended
		case *golem.InterruptedEntry:
			rec.Status = golem.WorkerStatusInterrupted
		case *golem.ErrorEntry:
			rec.Status = golem.WorkerStatusRetrying
			rec.RetryCount++
			rec.LastError = p.Message
		case *golem.ExitedEntry:
			rec.Status = golem.WorkerStatusExited
		case *golem.ExportedFunctionInvokedEntry:
			rec.Status = golem.WorkerStatusRunning
			openInvocationKey = p.IdempotencyKey.Value
		case *golem.ExportedFunctionCompletedEntry:
			rec.Status = golem.WorkerStatusIdle
			if openInvocationKey != "" {
				if rec.InvocationResults == nil {
					rec.InvocationResults = make(map[string][]byte)
				}
				rec.InvocationResults[openInvocationKey] = p.Response
				openInvocationKey = ""
			}
		case *golem.JumpEntry, *golem.RevertEntry:
			// Already folded into deletedRegions by collectDeletedRegions.
		case *golem.BeginAtomicRegionEntry, *golem.EndAtomicRegionEntry,
			*golem.BeginRemoteWriteEntry, *golem.EndRemoteWriteEntry:
			// Bracketing only. An unterminated Begin at the oplog tail is
			// handled by collectDeletedRegions, which discards the whole
			// region before this loop ever sees entries inside it.
		case *golem.PendingUpdateEntry:
			pending = append(pending, golem.PendingUpdate{
				TargetVersion: p.Description.TargetVersion,
				Description:   p.Description,
				RequestedAt:   idx,
			})
		case *golem.SuccessfulUpdateEntry:
			pending = removePendingUpdate(pending, p.TargetVersion)
			rec.ComponentVersion = p.TargetVersion
		case *golem.FailedUpdateEntry:
			pending = removePendingUpdate(pending, p.TargetVersion)
			rec.LastError = p.Details
		}

		rec.OplogIdx = idx
		idx++
	}

	rec.DeletedRegions = deletedRegions
	rec.PendingUpdates = pending
	if crashedMidRegion {
		// Invariant 2: a worker that crashes between BeginAtomicRegion and
		// EndAtomicRegion (or the remote-write equivalents) must not resume
		// as if the region committed. The region's entries were already
		// folded into deletedRegions above, so nothing inside it is
		// reflected in rec; surfacing Retrying here is what makes the
		// scheduler redo the invocation that opened it from scratch instead
		// of treating replay as having reached a clean Idle/Running state.
		rec.Status = golem.WorkerStatusRetrying
		rec.RetryCount++
		rec.LastError = "worker crashed inside an atomic or remote-write region; region discarded, redo required"
	}
	return rec, nil
}

// collectDeletedRegions makes a first pass over the log to find Jump and
// Revert entries, since their effect applies to indices that precede them,
// and to detect a BeginAtomicRegion/BeginRemoteWrite left open at the oplog
// tail with no matching End -- the crash-mid-region case Replay must redo
// rather than resume from.
func collectDeletedRegions(ctx context.Context, log *oplog.Oplog, length golem.OplogIndex) ([]golem.DeletedRegion, bool, error) {
	var regions []golem.DeletedRegion
	var openBegin golem.OplogIndex
	for idx := golem.OplogIndex(1); idx <= length; idx++ {
		entry, err := log.Read(ctx, idx)
		if err != nil {
			return nil, false, err
		}
		switch p := entry.Payload.(type) {
		case *golem.JumpEntry:
			regions = append(regions, golem.DeletedRegion{Start: p.Start, End: p.End - 1})
		case *golem.RevertEntry:
			if p.TargetIndex < idx {
				regions = append(regions, golem.DeletedRegion{Start: p.TargetIndex + 1, End: idx})
			}
		case *golem.BeginAtomicRegionEntry, *golem.BeginRemoteWriteEntry:
			openBegin = idx
		case *golem.EndAtomicRegionEntry, *golem.EndRemoteWriteEntry:
			openBegin = 0
		}
	}
	if openBegin != 0 {
		regions = append(regions, golem.DeletedRegion{Start: openBegin, End: length})
		return regions, true, nil
	}
	return regions, false, nil
}

func removePendingUpdate(pending []golem.PendingUpdate, target golem.ComponentVersion) []golem.PendingUpdate {
	out := pending[:0]
	for _, p := range pending {
		if p.TargetVersion != target {
			out = append(out, p)
		}
	}
	return out
}
