package workerstatus_test

import (
	"context"
	"testing"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/golem-go/golem/pkg/workerstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorker() golem.OwnedWorkerId {
	return golem.OwnedWorkerId{WorkerId: golem.WorkerId{WorkerName: "w1"}}
}

func TestGetOrRecomputeCachesOnMiss(t *testing.T) {
	ctx := context.Background()
	store := workerstatus.NewStore(memstore.NewKV())
	owned := testWorker()

	calls := 0
	recompute := func(ctx context.Context, o golem.OwnedWorkerId) (*golem.WorkerStatusRecord, error) {
		calls++
		return &golem.WorkerStatusRecord{WorkerId: o.WorkerId, Status: golem.WorkerStatusIdle}, nil
	}

	rec, err := store.GetOrRecompute(ctx, owned, recompute)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusIdle, rec.Status)
	assert.Equal(t, 1, calls)

	rec2, err := store.GetOrRecompute(ctx, owned, recompute)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusIdle, rec2.Status)
	assert.Equal(t, 1, calls, "second call should hit the cache, not recompute")
}

func TestInvalidateForcesRecompute(t *testing.T) {
	ctx := context.Background()
	store := workerstatus.NewStore(memstore.NewKV())
	owned := testWorker()

	calls := 0
	recompute := func(ctx context.Context, o golem.OwnedWorkerId) (*golem.WorkerStatusRecord, error) {
		calls++
		return &golem.WorkerStatusRecord{WorkerId: o.WorkerId, Status: golem.WorkerStatusRunning}, nil
	}

	_, err := store.GetOrRecompute(ctx, owned, recompute)
	require.NoError(t, err)
	require.NoError(t, store.Invalidate(ctx, owned))

	_, err = store.GetOrRecompute(ctx, owned, recompute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCompareAndSwapRejectsStaleExpected(t *testing.T) {
	ctx := context.Background()
	store := workerstatus.NewStore(memstore.NewKV())
	owned := testWorker()

	first := &golem.WorkerStatusRecord{WorkerId: owned.WorkerId, Status: golem.WorkerStatusIdle}
	require.NoError(t, store.Put(ctx, owned, first))

	stale := &golem.WorkerStatusRecord{WorkerId: owned.WorkerId, Status: golem.WorkerStatusFailed}
	next := &golem.WorkerStatusRecord{WorkerId: owned.WorkerId, Status: golem.WorkerStatusRunning}

	err := store.CompareAndSwap(ctx, owned, stale, next)
	require.Error(t, err)
	assert.True(t, golemerr.Is(err, golemerr.CodeConcurrentUpdate))

	require.NoError(t, store.CompareAndSwap(ctx, owned, first, next))
	got, err := store.Get(ctx, owned)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusRunning, got.Status)
}
