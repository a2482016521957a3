package workerfsm

import (
	"context"
	"fmt"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/log"
)

// SnapshotHook lets an Updater invoke a component's save/load-state exports
// for a SnapshotBased update, without workerfsm depending on wasmhost
// directly (the wasm host registers itself as the hook at startup).
type SnapshotHook interface {
	SaveState(ctx context.Context, w *Worker) ([]byte, error)
	LoadState(ctx context.Context, w *Worker, state []byte) error
}

// Updater applies a pending component version bump to a worker, the Go
// analogue of the teacher's Deployer.rollingUpdate generalized from
// "replace N containers in batches" to "advance one durable worker to a
// new component version in place".
type Updater struct {
	hook SnapshotHook
}

// NewUpdater constructs an Updater. hook may be nil if only Automatic
// updates (no snapshot transfer) are supported by this deployment.
func NewUpdater(hook SnapshotHook) *Updater {
	return &Updater{hook: hook}
}

// Apply advances w to desc.TargetVersion, recording the outcome in the
// oplog as either a SuccessfulUpdateEntry or a FailedUpdateEntry.
func (u *Updater) Apply(ctx context.Context, w *Worker, desc golem.UpdateDescription) error {
	logger := log.WithWorker(w.Owned.WorkerId.String())

	if _, err := w.entries.Append(ctx, &golem.PendingUpdateEntry{Description: desc}); err != nil {
		return fmt.Errorf("workerfsm: record pending update for %s: %w", w.Owned.WorkerId, err)
	}

	var applyErr error
	switch desc.Mode {
	case golem.UpdateModeAutomatic:
		applyErr = u.applyAutomatic(ctx, w, desc)
	case golem.UpdateModeSnapshotBased:
		applyErr = u.applySnapshotBased(ctx, w, desc)
	default:
		applyErr = fmt.Errorf("workerfsm: unknown update mode %q", desc.Mode)
	}

	if applyErr != nil {
		logger.Warn().Err(applyErr).Uint64("target_version", uint64(desc.TargetVersion)).Msg("update failed")
		if _, err := w.entries.Append(ctx, &golem.FailedUpdateEntry{TargetVersion: desc.TargetVersion, Details: applyErr.Error()}); err != nil {
			return fmt.Errorf("workerfsm: record failed update for %s: %w", w.Owned.WorkerId, err)
		}
		return applyErr
	}

	if _, err := w.entries.Append(ctx, &golem.SuccessfulUpdateEntry{TargetVersion: desc.TargetVersion}); err != nil {
		return fmt.Errorf("workerfsm: record successful update for %s: %w", w.Owned.WorkerId, err)
	}
	logger.Info().Uint64("target_version", uint64(desc.TargetVersion)).Msg("update applied")
	return nil
}

// applyAutomatic relies on the new component version replaying the worker's
// existing oplog directly: no explicit state transfer, just a component
// version bump that future ExportedFunctionInvoked replays pick up.
func (u *Updater) applyAutomatic(ctx context.Context, w *Worker, desc golem.UpdateDescription) error {
	rec, err := w.status.Get(ctx, w.Owned)
	if err != nil {
		return err
	}
	rec.ComponentVersion = desc.TargetVersion
	return w.status.Put(ctx, w.Owned, rec)
}

// applySnapshotBased invokes the component's save-state export on the old
// version, bumps the version, then invokes load-state on the new one.
func (u *Updater) applySnapshotBased(ctx context.Context, w *Worker, desc golem.UpdateDescription) error {
	if u.hook == nil {
		return fmt.Errorf("workerfsm: snapshot-based update requested but no SnapshotHook is configured")
	}
	state, err := u.hook.SaveState(ctx, w)
	if err != nil {
		return fmt.Errorf("save state before update: %w", err)
	}

	rec, err := w.status.Get(ctx, w.Owned)
	if err != nil {
		return err
	}
	rec.ComponentVersion = desc.TargetVersion
	if err := w.status.Put(ctx, w.Owned, rec); err != nil {
		return err
	}

	if err := u.hook.LoadState(ctx, w, state); err != nil {
		return fmt.Errorf("load state after update: %w", err)
	}
	return nil
}
