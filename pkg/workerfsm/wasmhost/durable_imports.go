package wasmhost

import (
	"context"
	"math/rand"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// DurableImports returns the host-import set every loaded component is
// registered with, each call site wrapped in workerfsm.Durable so a live
// invocation journals an ImportedFunctionInvokedEntry and a replaying one
// is satisfied from the oplog instead of re-running the real side effect.
// A ComponentLoader is free to append further, component-specific imports
// alongside these.
func DurableImports(w *workerfsm.Worker) []HostFunc {
	return []HostFunc{
		clockNowImport(w),
		randomU64Import(w),
		outboundSendImport(w),
	}
}

type clockNowReq struct{}
type clockNowResp struct {
	UnixNano int64 `json:"unix_nano"`
}

// clockNowImport answers the clock module's now() export. Reading the
// system clock is local and non-deterministic, so a replaying worker must
// see the value recorded the first time rather than read the clock again.
func clockNowImport(w *workerfsm.Worker) HostFunc {
	return HostFunc{
		Module: "golem:durability/clock",
		Name:   "now",
		Sig:    wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I64)),
		Fn: func(ctx context.Context, args []wasmer.Value) ([]wasmer.Value, error) {
			dur := workerfsm.Durable[clockNowReq, clockNowResp](w, nil, "golem:durability/clock.now",
				golem.DurableFunctionReadLocal, golem.PersistenceLevelPersistLocalSideEffects, golem.IdempotenceModeAtLeastOnce)
			resp, err := dur.Wrap(ctx, clockNowReq{}, func(context.Context, clockNowReq) (clockNowResp, error) {
				return clockNowResp{UnixNano: time.Now().UnixNano()}, nil
			})
			if err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI64(resp.UnixNano)}, nil
		},
	}
}

type randomU64Req struct{}
type randomU64Resp struct {
	Value uint64 `json:"value"`
}

// randomU64Import answers the random module's get-random-u64() export: a
// replaying worker must see the exact value it saw live, not a fresh draw.
func randomU64Import(w *workerfsm.Worker) HostFunc {
	return HostFunc{
		Module: "golem:durability/random",
		Name:   "get-random-u64",
		Sig:    wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I64)),
		Fn: func(ctx context.Context, args []wasmer.Value) ([]wasmer.Value, error) {
			dur := workerfsm.Durable[randomU64Req, randomU64Resp](w, nil, "golem:durability/random.get-random-u64",
				golem.DurableFunctionReadLocal, golem.PersistenceLevelPersistLocalSideEffects, golem.IdempotenceModeAtLeastOnce)
			resp, err := dur.Wrap(ctx, randomU64Req{}, func(context.Context, randomU64Req) (randomU64Resp, error) {
				return randomU64Resp{Value: rand.Uint64()}, nil
			})
			if err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI64(int64(resp.Value))}, nil
		},
	}
}

type outboundSendReq struct {
	Handle int32 `json:"handle"`
}
type outboundSendResp struct {
	StatusCode int32 `json:"status_code"`
}

// outboundSendImport stands in for an outbound HTTP send: a WriteRemote
// call that must never be reissued live during replay, and whose
// at-most-once idempotence mode refuses to resume live past a crash that
// happens between the write completing and its entry committing (S2 vs S3).
func outboundSendImport(w *workerfsm.Worker) HostFunc {
	return HostFunc{
		Module: "golem:rpc/outbound-http",
		Name:   "send",
		Sig:    wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		Fn: func(ctx context.Context, args []wasmer.Value) ([]wasmer.Value, error) {
			var handle int32
			if len(args) > 0 {
				handle = args[0].I32()
			}
			dur := workerfsm.Durable[outboundSendReq, outboundSendResp](w, nil, "golem:rpc/outbound-http.send",
				golem.DurableFunctionWriteRemote, golem.PersistenceLevelPersistRemoteSideEffects, golem.IdempotenceModeAtMostOnce)
			resp, err := dur.Wrap(ctx, outboundSendReq{Handle: handle}, func(context.Context, outboundSendReq) (outboundSendResp, error) {
				return outboundSendResp{StatusCode: 200}, nil
			})
			if err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI32(resp.StatusCode)}, nil
		},
	}
}
