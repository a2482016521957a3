// Package durability implements the durability wrapper every host-import
// call goes through: in live mode it executes the real side effect and
// records enough of it to the oplog to make the call replay-safe; in
// replay mode it skips the real side effect and returns the recorded
// result instead. This is the Go shape of golem-worker-executor-base's
// Durability<Ctx, Req, Resp> wrapper, generalized with Go generics instead
// of a Rust trait per (Req, Resp) pair.
package durability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/oplog"
)

// ReplaySource hands out the oplog entries a replaying worker consumes one
// at a time, in order. workerfsm's replay driver implements this; it lives
// here as an interface (rather than importing workerfsm) to avoid a
// dependency cycle, since workerfsm depends on durability, not vice versa.
type ReplaySource interface {
	Next(ctx context.Context) (golem.OplogEntry, bool, error)
}

// Durability wraps a single host-import function's call site. One value is
// constructed per call (the generics let Wrap parametrize the call with its
// request/response types without Durability itself needing a type switch).
type Durability[Req any, Resp any] struct {
	log          *oplog.Oplog
	mode         golem.ExecutionMode
	replay       ReplaySource
	functionName string
	funcType     golem.DurableFunctionType
	level        golem.PersistenceLevel
	idempotence  golem.IdempotenceMode
}

// New constructs a Durability wrapper for one call site. funcType classifies
// where the call's side effect lands (use_idempotence_mode and
// with_persistence_level in the original consult the same classification);
// idempotence only matters for DurableFunctionWriteRemote calls.
func New[Req any, Resp any](log *oplog.Oplog, mode golem.ExecutionMode, replay ReplaySource, functionName string, funcType golem.DurableFunctionType, level golem.PersistenceLevel, idempotence golem.IdempotenceMode) *Durability[Req, Resp] {
	return &Durability[Req, Resp]{
		log:          log,
		mode:         mode,
		replay:       replay,
		functionName: functionName,
		funcType:     funcType,
		level:        level,
		idempotence:  idempotence,
	}
}

// shouldPersist decides whether this call's result is worth an oplog entry
// under the configured PersistenceLevel, the Go shape of
// with_persistence_level's effect on a single call site.
func (d *Durability[Req, Resp]) shouldPersist() bool {
	switch d.level {
	case golem.PersistenceLevelPersistNothing:
		return false
	case golem.PersistenceLevelPersistRemoteSideEffects:
		switch d.funcType {
		case golem.DurableFunctionReadRemote, golem.DurableFunctionWriteRemote, golem.DurableFunctionWriteRemoteBatched:
			return true
		default:
			return false
		}
	default: // PersistenceLevelPersistLocalSideEffects and any future level
		return true
	}
}

// Wrap executes live when in live mode (persisting the result per the
// configured PersistenceLevel), or consumes the next oplog entry and
// decodes its recorded response when replaying. If replay runs off the end
// of the oplog before finding this call's entry, the call resumes live from
// here; a WriteRemote call configured for at-most-once delivery refuses
// that resumption instead of risking a duplicate remote write (S2 vs S3).
func (d *Durability[Req, Resp]) Wrap(ctx context.Context, req Req, live func(context.Context, Req) (Resp, error)) (Resp, error) {
	var zero Resp

	if d.mode == golem.ExecutionModeReplay {
		resp, err, exhausted := d.replayResult(ctx)
		if !exhausted {
			return resp, err
		}
		if d.funcType == golem.DurableFunctionWriteRemote && d.idempotence == golem.IdempotenceModeAtMostOnce {
			return zero, golemerr.Unrecoverable("replay exhausted before at-most-once call %s was recorded; refusing to reissue", d.functionName)
		}
	}

	resp, err := live(ctx, req)

	if !d.shouldPersist() {
		return resp, err
	}

	if err != nil {
		if _, appendErr := d.log.Append(ctx, &golem.ErrorEntry{Message: err.Error()}); appendErr != nil {
			return zero, fmt.Errorf("durability: record error for %s: %w (original error: %v)", d.functionName, appendErr, err)
		}
		return resp, err
	}

	reqBytes, mErr := json.Marshal(req)
	if mErr != nil {
		return zero, fmt.Errorf("durability: marshal request for %s: %w", d.functionName, mErr)
	}
	respBytes, mErr := json.Marshal(resp)
	if mErr != nil {
		return zero, fmt.Errorf("durability: marshal response for %s: %w", d.functionName, mErr)
	}

	_, appendErr := d.log.Append(ctx, &golem.ImportedFunctionInvokedEntry{
		FunctionName:        d.functionName,
		Request:             reqBytes,
		Response:            respBytes,
		DurableFunctionType: d.funcType,
	})
	if appendErr != nil {
		return zero, fmt.Errorf("durability: record result for %s: %w", d.functionName, appendErr)
	}

	return resp, nil
}

// replayResult consumes the next oplog entry during replay. The third
// return value is true when replay ran off the end of the oplog without
// finding this call recorded, in which case resp and err are zero/nil and
// the caller decides how to resume.
func (d *Durability[Req, Resp]) replayResult(ctx context.Context) (Resp, error, bool) {
	var zero Resp

	entry, ok, err := d.replay.Next(ctx)
	if err != nil {
		return zero, fmt.Errorf("durability: advance replay cursor for %s: %w", d.functionName, err), false
	}
	if !ok {
		return zero, nil, true
	}

	switch payload := entry.Payload.(type) {
	case *golem.ImportedFunctionInvokedEntry:
		// assert entry.name == expected_name: a replayed entry recorded
		// against a different host-import call site means the guest took a
		// different path this time around (a changed component version, a
		// non-deterministic branch, a reordered import) and the oplog can no
		// longer be trusted to replay this worker correctly.
		if payload.FunctionName != d.functionName {
			return zero, golemerr.NonDeterministicReplay(
				"replay expected entry for %s, found entry recorded for %s", d.functionName, payload.FunctionName), false
		}
		var resp Resp
		if len(payload.Response) > 0 {
			if err := json.Unmarshal(payload.Response, &resp); err != nil {
				return zero, fmt.Errorf("durability: decode replayed response for %s: %w", d.functionName, err), false
			}
		}
		return resp, nil, false
	case *golem.ErrorEntry:
		return zero, fmt.Errorf("durability: replayed error for %s: %s", d.functionName, payload.Message), false
	default:
		return zero, fmt.Errorf("durability: unexpected oplog entry kind %q while replaying %s", entry.Payload.Kind(), d.functionName), false
	}
}
