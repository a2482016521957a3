package workerfsm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/golem-go/golem/pkg/workerstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOwner() golem.OwnedWorkerId {
	return golem.OwnedWorkerId{WorkerId: golem.WorkerId{WorkerName: "w1"}}
}

func newTestWorker(t *testing.T) *workerfsm.Worker {
	t.Helper()
	svc := oplog.NewService(memstore.NewIndexed())
	owned := testOwner()
	log := svc.Open(owned)
	status := workerstatus.NewStore(memstore.NewKV())
	return workerfsm.New(owned, log, status)
}

func TestCreateSetsIdleStatus(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	status := workerstatus.NewStore(memstore.NewKV())
	w := workerfsm.New(owned, svc.Open(owned), status)

	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeDurable))

	rec, err := status.Get(ctx, owned)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusIdle, rec.Status)
}

func TestSuspendInterruptFailExitTransitions(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeDurable))

	require.NoError(t, w.Suspend(ctx))
	require.NoError(t, w.Interrupt(ctx))
	require.NoError(t, w.Fail(ctx, errors.New("boom")))
	require.NoError(t, w.Exit(ctx))
}

func TestResumeReplaysOplogIntoStatus(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)
	status := workerstatus.NewStore(memstore.NewKV())

	w := workerfsm.New(owned, log, status)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(3), []string{"--flag"}, nil, golem.AgentModeDurable))
	require.NoError(t, w.Suspend(ctx))

	rec, err := w.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusSuspended, rec.Status)
	assert.EqualValues(t, 3, rec.ComponentVersion)
}

func TestCreateEphemeralSkipsStatusCache(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)
	status := workerstatus.NewStore(memstore.NewKV())

	w := workerfsm.New(owned, log, status)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeEphemeral))
	require.NoError(t, w.Suspend(ctx))

	_, err := status.Get(ctx, owned)
	require.Error(t, err)
	assert.True(t, golemerr.Is(err, golemerr.CodeNotFound), "ephemeral worker must never reach the shared status cache")
}

func TestResumeRouteRespectsReplayedAgentMode(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)
	status := workerstatus.NewStore(memstore.NewKV())

	w := workerfsm.New(owned, log, status)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeEphemeral))

	// A fresh Worker over the same oplog simulates a post-restart resume.
	w2 := workerfsm.New(owned, log, status)
	rec, err := w2.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, golem.AgentModeEphemeral, rec.AgentMode)

	_, err = status.Get(ctx, owned)
	require.Error(t, err)
	assert.True(t, golemerr.Is(err, golemerr.CodeNotFound))
}

type fakePlugin struct {
	name      string
	activated int
}

func (p *fakePlugin) Name() string { return p.name }
func (p *fakePlugin) Activate(ctx context.Context, w *workerfsm.Worker) error {
	p.activated++
	return nil
}

func TestActivateDeactivatePluginAppendsOplogAndRunsHook(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeDurable))

	registry := workerfsm.NewPluginRegistry()
	plugin := &fakePlugin{name: "rate-limiter"}
	registry.Install(plugin)

	require.NoError(t, w.ActivatePlugin(ctx, registry, "rate-limiter"))
	assert.Equal(t, 1, plugin.activated)

	require.NoError(t, w.DeactivatePlugin(ctx, "rate-limiter"))
}

func TestDurableWrapsLiveModeByDefault(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t)
	require.NoError(t, w.Create(ctx, golem.ComponentVersion(1), nil, nil, golem.AgentModeDurable))

	dur := workerfsm.Durable[struct{}, struct{ N int }](w, nil, "test:fn", golem.DurableFunctionReadLocal, golem.PersistenceLevelPersistLocalSideEffects, golem.IdempotenceModeAtLeastOnce)
	resp, err := dur.Wrap(ctx, struct{}{}, func(context.Context, struct{}) (struct{ N int }, error) {
		return struct{ N int }{N: 42}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, resp.N)
}
