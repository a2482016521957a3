package durability

import (
	"context"
	"fmt"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/oplog"
)

// AtomicRegion brackets a sequence of host calls that must replay as a
// single unit: if replay stops partway through, the whole region is
// re-executed from its Begin entry rather than resumed mid-way.
type AtomicRegion struct {
	log        *oplog.Oplog
	beginIndex golem.OplogIndex
}

// BeginAtomicRegion appends a BeginAtomicRegionEntry and returns a handle
// that must be closed with End once the bracketed calls complete.
func BeginAtomicRegion(ctx context.Context, log *oplog.Oplog) (*AtomicRegion, error) {
	log.BeginCommitLevel()
	idx, err := log.Append(ctx, &golem.BeginAtomicRegionEntry{})
	if err != nil {
		return nil, fmt.Errorf("durability: begin atomic region: %w", err)
	}
	return &AtomicRegion{log: log, beginIndex: idx}, nil
}

// End appends the matching EndAtomicRegionEntry.
func (r *AtomicRegion) End(ctx context.Context) error {
	if _, err := r.log.Append(ctx, &golem.EndAtomicRegionEntry{BeginIndex: r.beginIndex}); err != nil {
		return fmt.Errorf("durability: end atomic region starting at %d: %w", r.beginIndex, err)
	}
	_, err := r.log.FinishCommitLevel()
	return err
}

// RemoteWriteRegion brackets a remote side-effecting write whose completion
// must be confirmed exactly once, even across a crash between Begin and
// End: a replaying worker that sees an unterminated region retries the
// write rather than assuming it completed.
type RemoteWriteRegion struct {
	log        *oplog.Oplog
	beginIndex golem.OplogIndex
}

func BeginRemoteWrite(ctx context.Context, log *oplog.Oplog) (*RemoteWriteRegion, error) {
	log.BeginCommitLevel()
	idx, err := log.Append(ctx, &golem.BeginRemoteWriteEntry{})
	if err != nil {
		return nil, fmt.Errorf("durability: begin remote write: %w", err)
	}
	return &RemoteWriteRegion{log: log, beginIndex: idx}, nil
}

func (r *RemoteWriteRegion) End(ctx context.Context) error {
	if _, err := r.log.Append(ctx, &golem.EndRemoteWriteEntry{BeginIndex: r.beginIndex}); err != nil {
		return fmt.Errorf("durability: end remote write starting at %d: %w", r.beginIndex, err)
	}
	_, err := r.log.FinishCommitLevel()
	return err
}
