package workerfsm

import (
	"context"
	"fmt"
	"sync"

	"github.com/golem-go/golem/pkg/durability"
	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/workerstatus"
	"github.com/rs/zerolog"
)

// Worker is one live instance of a component running in this executor
// process: its oplog handle, its cached status and the durability mode it
// is currently operating under. It plays the role the teacher's pkg/worker
// Worker struct plays for a node (connection, containers map, handlers),
// scaled down to a single component instance instead of a whole host.
type Worker struct {
	Owned golem.OwnedWorkerId

	entries *oplog.Oplog
	status  *workerstatus.Store
	logger  zerolog.Logger

	mu   sync.Mutex
	mode golem.ExecutionMode

	// ephemeral is true once Create has recorded this worker with
	// AgentModeEphemeral. Its status projection then lives only in
	// ephemeralStatus instead of the shared KVStore cache: an ephemeral
	// worker has no durability contract across restarts, so there is
	// nothing to gain from persisting (and later invalidating) a cache
	// entry that would not outlive the process any longer than this struct
	// already does.
	ephemeral       bool
	ephemeralStatus *golem.WorkerStatusRecord
}

func (w *Worker) isEphemeral() bool {
	return w.ephemeral
}

// New constructs a Worker bound to its oplog and the shared status cache.
// It does not itself replay the log; callers invoke Resume for that.
func New(owned golem.OwnedWorkerId, entries *oplog.Oplog, status *workerstatus.Store) *Worker {
	return &Worker{
		Owned:   owned,
		entries: entries,
		status:  status,
		logger:  log.WithWorker(owned.WorkerId.String()),
		mode:    golem.ExecutionModeLive,
	}
}

// Create appends the birth CreateEntry for a brand-new worker and caches
// its initial Idle status.
func (w *Worker) Create(ctx context.Context, version golem.ComponentVersion, args []string, env map[string]string, mode golem.AgentMode) error {
	_, err := w.entries.Create(ctx, golem.CreateEntry{
		WorkerId:         w.Owned.WorkerId,
		ComponentVersion: version,
		Args:             args,
		Env:              env,
		AgentMode:        mode,
	})
	if err != nil {
		return err
	}
	rec := &golem.WorkerStatusRecord{WorkerId: w.Owned.WorkerId, Status: golem.WorkerStatusIdle, AgentMode: mode, ComponentVersion: version}
	metrics.WorkersTotal.WithLabelValues(string(golem.WorkerStatusIdle)).Inc()
	if mode == golem.AgentModeEphemeral {
		w.ephemeral = true
		w.ephemeralStatus = rec
		return nil
	}
	return w.status.Put(ctx, w.Owned, rec)
}

// Resume brings a previously-created worker back into memory by replaying
// its oplog, and switches this Worker into live mode once replay catches up
// to the tail.
func (w *Worker) Resume(ctx context.Context) (*golem.WorkerStatusRecord, error) {
	w.mu.Lock()
	w.mode = golem.ExecutionModeReplay
	w.mu.Unlock()

	rec, err := Replay(ctx, w.Owned, w.entries)
	if err != nil {
		return nil, fmt.Errorf("workerfsm: resume %s: %w", w.Owned.WorkerId, err)
	}
	if rec.AgentMode == golem.AgentModeEphemeral {
		w.ephemeral = true
		w.ephemeralStatus = rec
	} else if err := w.status.Put(ctx, w.Owned, rec); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.mode = golem.ExecutionModeLive
	w.mu.Unlock()

	return rec, nil
}

// Durable constructs a Durability wrapper bound to this worker's oplog and
// current execution mode, for use by a host-import call site inside the
// wasm host. replay is only consulted in replay mode.
func Durable[Req any, Resp any](w *Worker, replay durability.ReplaySource, functionName string, funcType golem.DurableFunctionType, level golem.PersistenceLevel, idempotence golem.IdempotenceMode) *durability.Durability[Req, Resp] {
	w.mu.Lock()
	mode := w.mode
	w.mu.Unlock()
	return durability.New[Req, Resp](w.entries, mode, replay, functionName, funcType, level, idempotence)
}

// BeginInvocation records the start of a guest-exported function call and
// transitions the worker to Running, the oplog counterpart of the RPC
// layer's invoke_and_await entry point.
func (w *Worker) BeginInvocation(ctx context.Context, functionName string, request []byte, key golem.IdempotencyKey) (golem.OplogIndex, error) {
	idx, err := w.entries.Append(ctx, &golem.ExportedFunctionInvokedEntry{
		FunctionName:   functionName,
		Request:        request,
		IdempotencyKey: key,
	})
	if err != nil {
		return 0, err
	}
	if err := w.transition(ctx, golem.WorkerStatusRunning); err != nil {
		return 0, err
	}
	return idx, nil
}

// CompleteInvocation records the result of the invocation opened by
// BeginInvocation and returns the worker to Idle, closing the
// ExportedFunctionInvoked/Completed region §3 requires to alternate
// strictly. It also stamps the result into the cached status record's
// InvocationResults under key, so a later invocation carrying the same
// idempotency key is answered from the cache even after a cold replay.
func (w *Worker) CompleteInvocation(ctx context.Context, key golem.IdempotencyKey, response []byte, consumedFuel int64) error {
	if _, err := w.entries.Append(ctx, &golem.ExportedFunctionCompletedEntry{
		Response:     response,
		ConsumedFuel: consumedFuel,
	}); err != nil {
		return err
	}
	if err := w.transition(ctx, golem.WorkerStatusIdle); err != nil {
		return err
	}
	if key.Value == "" {
		return nil
	}

	rec, err := w.currentStatus(ctx)
	if err != nil {
		return err
	}
	if rec.InvocationResults == nil {
		rec.InvocationResults = make(map[string][]byte)
	}
	rec.InvocationResults[key.Value] = response
	return w.putStatus(ctx, rec)
}

// currentStatus reads the worker's status projection from whichever cache
// this worker's AgentMode routes through.
func (w *Worker) currentStatus(ctx context.Context) (*golem.WorkerStatusRecord, error) {
	if w.isEphemeral() {
		return w.ephemeralStatus, nil
	}
	return w.status.Get(ctx, w.Owned)
}

// putStatus writes rec back to whichever cache this worker's AgentMode
// routes through.
func (w *Worker) putStatus(ctx context.Context, rec *golem.WorkerStatusRecord) error {
	if w.isEphemeral() {
		w.ephemeralStatus = rec
		return nil
	}
	return w.status.Put(ctx, w.Owned, rec)
}

// ActivatePlugin records plugin activation and runs its Activate hook
// against this worker. The oplog entry lets replay reconstruct which
// plugins were live at any prior point without re-running Activate.
func (w *Worker) ActivatePlugin(ctx context.Context, registry *PluginRegistry, name string) error {
	if _, err := w.entries.Append(ctx, &golem.ActivatePluginEntry{PluginName: name}); err != nil {
		return err
	}
	return registry.ActivateAll(ctx, w, []string{name})
}

// DeactivatePlugin records plugin deactivation. It does not call a
// corresponding Deactivate hook on Plugin since the interface exposes
// none; recording intent in the oplog is enough for replay to stop
// treating the plugin as active for this worker from this point on.
func (w *Worker) DeactivatePlugin(ctx context.Context, name string) error {
	_, err := w.entries.Append(ctx, &golem.DeactivatePluginEntry{PluginName: name})
	return err
}

// Suspend records a voluntary yield and updates the cached status.
func (w *Worker) Suspend(ctx context.Context) error {
	if _, err := w.entries.Append(ctx, &golem.SuspendEntry{}); err != nil {
		return err
	}
	return w.transition(ctx, golem.WorkerStatusSuspended)
}

// Interrupt records that an in-flight invocation was cancelled from
// outside the worker (e.g. an operator-issued interrupt).
func (w *Worker) Interrupt(ctx context.Context) error {
	if _, err := w.entries.Append(ctx, &golem.InterruptedEntry{}); err != nil {
		return err
	}
	return w.transition(ctx, golem.WorkerStatusInterrupted)
}

// Fail records a trap and bumps the worker's retry count.
func (w *Worker) Fail(ctx context.Context, cause error) error {
	if _, err := w.entries.Append(ctx, &golem.ErrorEntry{Message: cause.Error()}); err != nil {
		return err
	}
	w.logger.Warn().Err(cause).Msg("worker invocation failed")
	if err := w.transition(ctx, golem.WorkerStatusRetrying); err != nil {
		return err
	}
	rec, err := w.currentStatus(ctx)
	if err != nil {
		return err
	}
	rec.RetryCount++
	rec.LastError = cause.Error()
	return w.putStatus(ctx, rec)
}

// Exit records terminal completion; no further invocations may be
// delivered to this worker afterwards.
func (w *Worker) Exit(ctx context.Context) error {
	if _, err := w.entries.Append(ctx, &golem.ExitedEntry{}); err != nil {
		return err
	}
	return w.transition(ctx, golem.WorkerStatusExited)
}

func (w *Worker) transition(ctx context.Context, next golem.WorkerStatus) error {
	rec, err := w.currentStatus(ctx)
	if err != nil {
		if !golemerr.Is(err, golemerr.CodeNotFound) {
			return err
		}
		rec = &golem.WorkerStatusRecord{WorkerId: w.Owned.WorkerId}
	}
	prev := rec.Status
	rec.Status = next
	metrics.WorkersTotal.WithLabelValues(string(next)).Inc()
	if prev != "" && prev != next {
		metrics.WorkersTotal.WithLabelValues(string(prev)).Dec()
	}
	return w.putStatus(ctx, rec)
}
