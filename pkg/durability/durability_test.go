package durability_test

import (
	"context"
	"testing"

	"github.com/golem-go/golem/pkg/durability"
	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type getTimeResp struct {
	UnixNano int64 `json:"unix_nano"`
}

// sliceReplaySource feeds a fixed slice of entries in order, standing in
// for workerfsm's real oplog-backed replay cursor.
type sliceReplaySource struct {
	entries []golem.OplogEntry
	pos     int
}

func (s *sliceReplaySource) Next(ctx context.Context) (golem.OplogEntry, bool, error) {
	if s.pos >= len(s.entries) {
		return golem.OplogEntry{}, false, nil
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true, nil
}

func testOwner() golem.OwnedWorkerId {
	return golem.OwnedWorkerId{WorkerId: golem.WorkerId{WorkerName: "w1"}}
}

func TestLiveModePersistsResultAndReplayReturnsIt(t *testing.T) {
	ctx := context.Background()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(testOwner())

	live := func(ctx context.Context, req struct{}) (getTimeResp, error) {
		return getTimeResp{UnixNano: 1234}, nil
	}

	liveDur := durability.New[struct{}, getTimeResp](log, golem.ExecutionModeLive, nil, "wasi:clocks/now", golem.DurableFunctionReadLocal, golem.PersistenceLevelPersistLocalSideEffects, golem.IdempotenceModeAtLeastOnce)
	resp, err := liveDur.Wrap(ctx, struct{}{}, live)
	require.NoError(t, err)
	assert.EqualValues(t, 1234, resp.UnixNano)

	entry, err := log.Read(ctx, 1)
	require.NoError(t, err)
	imported, ok := entry.Payload.(*golem.ImportedFunctionInvokedEntry)
	require.True(t, ok)
	assert.Equal(t, "wasi:clocks/now", imported.FunctionName)

	replay := &sliceReplaySource{entries: []golem.OplogEntry{entry}}
	calledLive := false
	replayLive := func(ctx context.Context, req struct{}) (getTimeResp, error) {
		calledLive = true
		return getTimeResp{}, nil
	}
	replayDur := durability.New[struct{}, getTimeResp](log, golem.ExecutionModeReplay, replay, "wasi:clocks/now", golem.DurableFunctionReadLocal, golem.PersistenceLevelPersistLocalSideEffects, golem.IdempotenceModeAtLeastOnce)
	replayedResp, err := replayDur.Wrap(ctx, struct{}{}, replayLive)
	require.NoError(t, err)
	assert.EqualValues(t, 1234, replayedResp.UnixNano)
	assert.False(t, calledLive, "replay must not invoke the real side effect")
}

func TestPersistNothingSkipsOplogWrite(t *testing.T) {
	ctx := context.Background()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(testOwner())

	dur := durability.New[struct{}, getTimeResp](log, golem.ExecutionModeLive, nil, "noop", golem.DurableFunctionWriteLocal, golem.PersistenceLevelPersistNothing, golem.IdempotenceModeAtLeastOnce)
	_, err := dur.Wrap(ctx, struct{}{}, func(context.Context, struct{}) (getTimeResp, error) {
		return getTimeResp{UnixNano: 1}, nil
	})
	require.NoError(t, err)

	length, err := log.Length(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, length)
}

func TestReplayRejectsMismatchedFunctionName(t *testing.T) {
	ctx := context.Background()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(testOwner())

	_, err := log.Append(ctx, &golem.ImportedFunctionInvokedEntry{
		FunctionName: "wasi:clocks/now",
		Response:     []byte(`{"unix_nano":1}`),
	})
	require.NoError(t, err)
	entry, err := log.Read(ctx, 1)
	require.NoError(t, err)

	replay := &sliceReplaySource{entries: []golem.OplogEntry{entry}}
	dur := durability.New[struct{}, getTimeResp](log, golem.ExecutionModeReplay, replay, "wasi:random/bytes", golem.DurableFunctionReadLocal, golem.PersistenceLevelPersistLocalSideEffects, golem.IdempotenceModeAtLeastOnce)

	_, err = dur.Wrap(ctx, struct{}{}, func(context.Context, struct{}) (getTimeResp, error) {
		t.Fatal("live side effect must not run when a recorded entry exists")
		return getTimeResp{}, nil
	})
	require.Error(t, err)
	assert.True(t, golemerr.Is(err, golemerr.CodeNonDeterministicReplay))
}

func TestReplayExhaustedAtMostOnceWriteRemoteRefusesToReissue(t *testing.T) {
	ctx := context.Background()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(testOwner())

	replay := &sliceReplaySource{}
	dur := durability.New[struct{}, getTimeResp](log, golem.ExecutionModeReplay, replay, "payments:charge", golem.DurableFunctionWriteRemote, golem.PersistenceLevelPersistRemoteSideEffects, golem.IdempotenceModeAtMostOnce)

	_, err := dur.Wrap(ctx, struct{}{}, func(context.Context, struct{}) (getTimeResp, error) {
		t.Fatal("at-most-once call must not be reissued after replay runs dry")
		return getTimeResp{}, nil
	})
	require.Error(t, err)
	assert.True(t, golemerr.Is(err, golemerr.CodeUnrecoverable))
}

func TestReplayExhaustedAtLeastOnceResumesLive(t *testing.T) {
	ctx := context.Background()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(testOwner())

	replay := &sliceReplaySource{}
	dur := durability.New[struct{}, getTimeResp](log, golem.ExecutionModeReplay, replay, "wasi:clocks/now", golem.DurableFunctionReadRemote, golem.PersistenceLevelPersistRemoteSideEffects, golem.IdempotenceModeAtLeastOnce)

	calledLive := false
	resp, err := dur.Wrap(ctx, struct{}{}, func(context.Context, struct{}) (getTimeResp, error) {
		calledLive = true
		return getTimeResp{UnixNano: 99}, nil
	})
	require.NoError(t, err)
	assert.True(t, calledLive)
	assert.EqualValues(t, 99, resp.UnixNano)
}

func TestAtomicRegionBracketsEntries(t *testing.T) {
	ctx := context.Background()
	svc := oplog.NewService(memstore.NewIndexed())
	log := svc.Open(testOwner())

	region, err := durability.BeginAtomicRegion(ctx, log)
	require.NoError(t, err)
	assert.False(t, log.AtCommitLevelZero())

	_, err = log.Append(ctx, &golem.LogEntry{Message: "inside region"})
	require.NoError(t, err)

	require.NoError(t, region.End(ctx))
	assert.True(t, log.AtCommitLevelZero())

	entries, err := log.ReadRange(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, golem.KindBeginAtomicRegion, entries[0].Payload.Kind())
	assert.Equal(t, golem.KindLog, entries[1].Payload.Kind())
	assert.Equal(t, golem.KindEndAtomicRegion, entries[2].Payload.Kind())
}
