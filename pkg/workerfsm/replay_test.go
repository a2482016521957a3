package workerfsm_test

import (
	"context"
	"testing"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayFoldsStatusTransitions(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)

	_, err := log.Create(ctx, golem.CreateEntry{WorkerId: owned.WorkerId, ComponentVersion: 1})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.ExportedFunctionInvokedEntry{FunctionName: "run"})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.ExportedFunctionCompletedEntry{})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.SuspendEntry{})
	require.NoError(t, err)

	rec, err := workerfsm.Replay(ctx, owned, log)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusSuspended, rec.Status)
	assert.EqualValues(t, 1, rec.ComponentVersion)
}

func TestReplaySkipsJumpedRegion(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)

	_, err := log.Create(ctx, golem.CreateEntry{WorkerId: owned.WorkerId, ComponentVersion: 1})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.ErrorEntry{Message: "transient"}) // index 2, should be skipped
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.JumpEntry{Start: 2, End: 3})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.SuspendEntry{})
	require.NoError(t, err)

	rec, err := workerfsm.Replay(ctx, owned, log)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusSuspended, rec.Status)
	assert.Zero(t, rec.RetryCount, "jumped ErrorEntry must not count toward retries")
}

func TestReplayRedoesAtomicRegionLeftOpenAtCrash(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)

	_, err := log.Create(ctx, golem.CreateEntry{WorkerId: owned.WorkerId, ComponentVersion: 1})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.ExportedFunctionInvokedEntry{FunctionName: "run"})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.BeginAtomicRegionEntry{})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.ImportedFunctionInvokedEntry{FunctionName: "http::send"})
	require.NoError(t, err)
	// No EndAtomicRegionEntry: the process crashed mid-region.

	rec, err := workerfsm.Replay(ctx, owned, log)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusRetrying, rec.Status)
	assert.EqualValues(t, 1, rec.RetryCount)
	assert.NotEmpty(t, rec.LastError)
}

func TestReplayAcceptsClosedAtomicRegion(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)

	_, err := log.Create(ctx, golem.CreateEntry{WorkerId: owned.WorkerId, ComponentVersion: 1})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.ExportedFunctionInvokedEntry{FunctionName: "run"})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.BeginAtomicRegionEntry{})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.ImportedFunctionInvokedEntry{FunctionName: "http::send"})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.EndAtomicRegionEntry{})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.ExportedFunctionCompletedEntry{})
	require.NoError(t, err)

	rec, err := workerfsm.Replay(ctx, owned, log)
	require.NoError(t, err)
	assert.Equal(t, golem.WorkerStatusIdle, rec.Status)
	assert.Zero(t, rec.RetryCount)
}

func TestNewReplayCursorYieldsEntriesInOrder(t *testing.T) {
	ctx := context.Background()
	owned := testOwner()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(owned)

	_, err := log.Create(ctx, golem.CreateEntry{WorkerId: owned.WorkerId, ComponentVersion: 1})
	require.NoError(t, err)
	_, err = log.Append(ctx, &golem.SuspendEntry{})
	require.NoError(t, err)

	cursor, err := workerfsm.NewReplayCursor(ctx, log, nil)
	require.NoError(t, err)

	first, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, golem.KindCreate, first.Payload.Kind())

	second, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, golem.KindSuspend, second.Payload.Kind())

	_, ok, err = cursor.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
