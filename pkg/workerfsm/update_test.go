package workerfsm_test

import (
	"context"
	"testing"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/golem-go/golem/pkg/workerstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSnapshotHook struct {
	saved []byte
	loaded []byte
}

func (h *stubSnapshotHook) SaveState(ctx context.Context, w *workerfsm.Worker) ([]byte, error) {
	h.saved = []byte("state")
	return h.saved, nil
}

func (h *stubSnapshotHook) LoadState(ctx context.Context, w *workerfsm.Worker, state []byte) error {
	h.loaded = state
	return nil
}

func TestUpdaterAutomaticBumpsComponentVersion(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)
	status := workerstatus.NewStore(memstore.NewKV())
	w := workerfsm.New(owned, log, status)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeDurable))

	updater := workerfsm.NewUpdater(nil)
	require.NoError(t, updater.Apply(ctx, w, golem.UpdateDescription{TargetVersion: 2, Mode: golem.UpdateModeAutomatic}))

	rec, err := status.Get(ctx, owned)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.ComponentVersion)
}

func TestUpdaterSnapshotBasedInvokesHook(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)
	status := workerstatus.NewStore(memstore.NewKV())
	w := workerfsm.New(owned, log, status)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeDurable))

	hook := &stubSnapshotHook{}
	updater := workerfsm.NewUpdater(hook)
	require.NoError(t, updater.Apply(ctx, w, golem.UpdateDescription{TargetVersion: 2, Mode: golem.UpdateModeSnapshotBased}))

	assert.Equal(t, []byte("state"), hook.saved)
	assert.Equal(t, []byte("state"), hook.loaded)
}

func TestUpdaterSnapshotBasedWithoutHookFails(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)
	status := workerstatus.NewStore(memstore.NewKV())
	w := workerfsm.New(owned, log, status)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeDurable))

	updater := workerfsm.NewUpdater(nil)
	err := updater.Apply(ctx, w, golem.UpdateDescription{TargetVersion: 2, Mode: golem.UpdateModeSnapshotBased})
	require.Error(t, err)
}
