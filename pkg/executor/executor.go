// Package executor assembles the per-process pieces (workerfsm.Worker,
// workerfsm.InvocationQueue, workerfsm.Scheduler, wasmhost.Component) into
// the thing a worker-executor's gRPC front door actually drives: create a
// worker, invoke it and wait for (or fire-and-forget past) its result,
// inspect or delete it, interrupt it, apply an update. It plays the role
// the teacher's pkg/manager played for node/service/task orchestration --
// one struct a server package calls into -- generalized from container
// orchestration to durable-worker orchestration.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/snapshot"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/golem-go/golem/pkg/workerfsm/wasmhost"
	"github.com/golem-go/golem/pkg/workerstatus"
	"github.com/rs/zerolog"
)

// SnapshotPolicy controls when Executor takes an out-of-band compaction
// snapshot for a worker, the Go shape of spec.md's
// Disabled|Default|Periodic(duration)|EveryNInvocation(count) configuration.
type SnapshotPolicy struct {
	EveryNInvocations uint64 // 0 disables invocation-count-triggered snapshots
}

// ComponentLoader resolves a component's compiled WASM bytes and its host
// imports, e.g. by reading them from a storage.BlobStore keyed by
// ComponentId. A nil wasm-bytes return means "run this worker without a
// loaded component" -- the executor still journals
// invoke/complete around the call so S1-style counters implemented purely
// in terms of oplog state still work without a real WASM binary attached.
type ComponentLoader func(ctx context.Context, componentId golem.ComponentId) ([]byte, []wasmhost.HostFunc, error)

// Executor is the single orchestrator a worker-executor's RPC server calls
// into for every worker lifecycle and invocation operation.
type Executor struct {
	oplogSvc       *oplog.Service
	status         *workerstatus.Store
	queue          *workerfsm.InvocationQueue
	scheduler      *workerfsm.Scheduler
	updater        *workerfsm.Updater
	snapshots      *snapshot.Store
	snapshotPolicy SnapshotPolicy
	loadComponent  ComponentLoader
	logger         zerolog.Logger

	mu          sync.Mutex
	workers     map[string]*entry
	components  map[string]*wasmhost.Component
	waiters     map[string]chan result
	results     map[string][]byte // idempotency key -> last completed response, for at-most-one replay
}

type entry struct {
	owned  golem.OwnedWorkerId
	worker *workerfsm.Worker
	invoke uint64
}

type result struct {
	response []byte
	err      error
}

// New wires an Executor over the given storage-backed services. loader may
// be nil if this deployment never loads real WASM components (unit tests,
// or a deployment that only exercises the oplog/status/queue machinery).
func New(oplogSvc *oplog.Service, status *workerstatus.Store, queue *workerfsm.InvocationQueue, snapshots *snapshot.Store, policy SnapshotPolicy, loader ComponentLoader) *Executor {
	e := &Executor{
		oplogSvc:       oplogSvc,
		status:         status,
		queue:          queue,
		updater:        workerfsm.NewUpdater(nil),
		snapshots:      snapshots,
		snapshotPolicy: policy,
		loadComponent:  loader,
		logger:         log.WithComponent("executor"),
		workers:        make(map[string]*entry),
		components:     make(map[string]*wasmhost.Component),
		waiters:        make(map[string]chan result),
		results:        make(map[string][]byte),
	}
	e.scheduler = workerfsm.NewScheduler(queue, e)
	return e
}

// Scheduler returns the Executor's Scheduler, so callers (cmd/worker-executor)
// can Start/Stop it alongside the Executor's own lifecycle.
func (e *Executor) Scheduler() *workerfsm.Scheduler { return e.scheduler }

// CreateWorker materializes a brand-new worker: appends its CreateEntry and
// caches its initial Idle status.
func (e *Executor) CreateWorker(ctx context.Context, owned golem.OwnedWorkerId, version golem.ComponentVersion, args []string, env map[string]string, mode golem.AgentMode) error {
	w := workerfsm.New(owned, e.oplogSvc.Open(owned), e.status)
	if err := w.Create(ctx, version, args, env, mode); err != nil {
		return err
	}
	e.mu.Lock()
	e.workers[owned.StorageKey()] = &entry{owned: owned, worker: w}
	e.mu.Unlock()
	return nil
}

// getOrResume returns the in-memory entry for owned, replaying its oplog
// into a fresh Worker on first access after this process started (a cold
// worker the process hasn't touched yet).
func (e *Executor) getOrResume(ctx context.Context, owned golem.OwnedWorkerId) (*entry, error) {
	key := owned.StorageKey()

	e.mu.Lock()
	if ent, ok := e.workers[key]; ok {
		e.mu.Unlock()
		return ent, nil
	}
	e.mu.Unlock()

	w := workerfsm.New(owned, e.oplogSvc.Open(owned), e.status)
	if _, err := w.Resume(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	ent, ok := e.workers[key]
	if !ok {
		ent = &entry{owned: owned, worker: w}
		e.workers[key] = ent
	}
	e.mu.Unlock()
	return ent, nil
}

// loadComponentFor returns the wasmhost.Component backing w, loading and
// caching it on first use. Returns (nil, nil) if no ComponentLoader was
// configured: the caller then runs without a wasm instance, journaling
// purely at the invoke/complete boundary. The cache is keyed per worker, not
// per component: each worker gets its own instance and linear memory, since
// that state is exactly what a snapshot or replay reconstructs for that one
// worker, not for every worker sharing the component definition.
func (e *Executor) loadComponentFor(ctx context.Context, owned golem.OwnedWorkerId, w *workerfsm.Worker) (*wasmhost.Component, error) {
	if e.loadComponent == nil {
		return nil, nil
	}
	key := owned.StorageKey()

	e.mu.Lock()
	if c, ok := e.components[key]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	wasmBytes, extraImports, err := e.loadComponent(ctx, owned.WorkerId.ComponentId)
	if err != nil {
		return nil, err
	}
	if wasmBytes == nil {
		return nil, nil
	}
	imports := append(wasmhost.DurableImports(w), extraImports...)
	component, err := wasmhost.Load(wasmBytes, imports)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.components[key] = component
	e.mu.Unlock()
	return component, nil
}

// Invoke enqueues inv for asynchronous delivery and returns immediately,
// the fire-and-forget half of the worker service's invoke/invoke_and_await
// pair.
func (e *Executor) Invoke(ctx context.Context, owned golem.OwnedWorkerId, function string, params []byte, key golem.IdempotencyKey) error {
	if _, err := e.getOrResume(ctx, owned); err != nil {
		return err
	}
	return e.enqueue(ctx, owned, function, params, key)
}

// InvokeAndAwait enqueues inv (deduplicating on IdempotencyKey exactly as
// Invoke does) and blocks until the scheduler's sweep dispatches it and
// Dispatch publishes a result, or ctx is cancelled first.
func (e *Executor) InvokeAndAwait(ctx context.Context, owned golem.OwnedWorkerId, function string, params []byte, key golem.IdempotencyKey) ([]byte, error) {
	ent, err := e.getOrResume(ctx, owned)
	if err != nil {
		return nil, err
	}

	rkey := resultKey(owned, key.Value)

	e.mu.Lock()
	cached, ok := e.results[rkey]
	ch, inflight := e.waiters[rkey]
	if !ok && !inflight {
		ch = make(chan result, 1)
		e.waiters[rkey] = ch
	}
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	if !inflight {
		// A key this process never enqueued may still have already run to
		// completion before a crash; the cached status record survives a
		// restart even though e.results does not, so consult it before
		// assuming this is a fresh invocation.
		if key.Value != "" {
			if rec, err := e.status.Get(ctx, ent.owned); err == nil {
				if response, found := rec.InvocationResults[key.Value]; found {
					e.mu.Lock()
					e.results[rkey] = response
					delete(e.waiters, rkey)
					e.mu.Unlock()
					return response, nil
				}
			}
		}
		if err := e.enqueue(ctx, owned, function, params, key); err != nil {
			e.mu.Lock()
			delete(e.waiters, rkey)
			e.mu.Unlock()
			return nil, err
		}
	}

	select {
	case r := <-ch:
		return r.response, r.err
	case <-ctx.Done():
		// The caller gave up; the invocation is still durably enqueued and
		// will complete with the same idempotency key, reusable by a
		// subsequent call per §4.7's cancellation contract.
		return nil, ctx.Err()
	}
}

func (e *Executor) enqueue(ctx context.Context, owned golem.OwnedWorkerId, function string, params []byte, key golem.IdempotencyKey) error {
	e.scheduler.Watch(owned.WorkerId.ComponentId)
	return e.queue.Enqueue(ctx, workerfsm.Invocation{
		WorkerId:       owned.WorkerId,
		FunctionName:   function,
		Request:        params,
		IdempotencyKey: key,
	}, nowUnixNano())
}

// Dispatch implements workerfsm.Dispatcher: it is called by the Scheduler
// for every invocation popped off the queue, on the scheduler's own
// goroutine, so only one invocation per component is ever in flight here
// at a time -- the single-threaded-per-worker guarantee §5 requires.
func (e *Executor) Dispatch(ctx context.Context, inv workerfsm.Invocation) error {
	owned := golem.OwnedWorkerId{WorkerId: inv.WorkerId}
	ent, err := e.getOrResume(ctx, owned)
	if err != nil {
		e.publish(owned, inv.IdempotencyKey.Value, nil, err)
		return err
	}

	idx, err := ent.worker.BeginInvocation(ctx, inv.FunctionName, inv.Request, inv.IdempotencyKey)
	if err != nil {
		e.publish(owned, inv.IdempotencyKey.Value, nil, err)
		return err
	}

	response, fuel, runErr := e.run(ctx, owned, ent.worker, inv)
	if runErr != nil {
		if failErr := ent.worker.Fail(ctx, runErr); failErr != nil {
			e.logger.Error().Err(failErr).Str("worker", inv.WorkerId.String()).Msg("failed to record invocation failure")
		}
		e.publish(owned, inv.IdempotencyKey.Value, nil, runErr)
		return runErr
	}

	if err := ent.worker.CompleteInvocation(ctx, inv.IdempotencyKey, response, fuel); err != nil {
		e.publish(owned, inv.IdempotencyKey.Value, nil, err)
		return err
	}

	e.mu.Lock()
	ent.invoke++
	count := ent.invoke
	e.mu.Unlock()
	e.maybeSnapshot(ctx, owned, idx, count)

	e.publish(owned, inv.IdempotencyKey.Value, response, nil)
	return nil
}

// run invokes the worker's loaded wasm component if one is configured,
// otherwise echoes the request back as the response: a worker with no
// real component still exercises the full oplog/status/idempotency path,
// which is what the durability and replay unit tests already verify in
// isolation.
func (e *Executor) run(ctx context.Context, owned golem.OwnedWorkerId, w *workerfsm.Worker, inv workerfsm.Invocation) ([]byte, int64, error) {
	component, err := e.loadComponentFor(ctx, owned, w)
	if err != nil {
		return nil, 0, fmt.Errorf("executor: load component for %s: %w", owned.WorkerId, err)
	}
	if component == nil {
		return inv.Request, 0, nil
	}

	var args []any
	if len(inv.Request) > 0 {
		if err := json.Unmarshal(inv.Request, &args); err != nil {
			return nil, 0, golemerr.InvalidRequest("decode params for %s: %v", inv.FunctionName, err)
		}
	}
	out, err := component.Invoke(ctx, inv.FunctionName, args...)
	if err != nil {
		return nil, 0, err
	}
	response, err := json.Marshal(out)
	if err != nil {
		return nil, 0, fmt.Errorf("executor: encode result of %s: %w", inv.FunctionName, err)
	}
	return response, 0, nil
}

// resultKey scopes an idempotency-key string to the worker it belongs to,
// since §3/§4.5 only guarantee idempotency-key uniqueness per worker, not
// across the whole executor process -- two different workers, or two
// different keyless (key.Value == "") callers, must never share a
// waiter/result slot. Scoped by WorkerId rather than the full
// OwnedWorkerId: Dispatch only has inv.WorkerId to reconstruct an owned id
// from (the queued Invocation doesn't carry AccountId/ProjectId), so
// keying by anything wider than WorkerId would make InvokeAndAwait's key
// and Dispatch's publish key diverge for a non-empty AccountId.
func resultKey(owned golem.OwnedWorkerId, key string) string {
	return owned.WorkerId.String() + ":" + key
}

func (e *Executor) publish(owned golem.OwnedWorkerId, key string, response []byte, err error) {
	rkey := resultKey(owned, key)
	e.mu.Lock()
	if err == nil {
		e.results[rkey] = response
	}
	ch, ok := e.waiters[rkey]
	delete(e.waiters, rkey)
	e.mu.Unlock()
	if ok {
		ch <- result{response: response, err: err}
	}
}

func (e *Executor) maybeSnapshot(ctx context.Context, owned golem.OwnedWorkerId, idx golem.OplogIndex, count uint64) {
	if e.snapshots == nil || e.snapshotPolicy.EveryNInvocations == 0 {
		return
	}
	if count%e.snapshotPolicy.EveryNInvocations != 0 {
		return
	}
	if err := e.snapshots.Take(ctx, owned, idx, snapshot.TriggerInvocationCount); err != nil {
		e.logger.Warn().Err(err).Str("worker", owned.WorkerId.String()).Msg("invocation-count snapshot failed")
	}
}

// GetStatus returns the cached status record for owned, replaying the
// oplog to recompute it if nothing is cached yet.
func (e *Executor) GetStatus(ctx context.Context, owned golem.OwnedWorkerId) (*golem.WorkerStatusRecord, error) {
	return e.status.GetOrRecompute(ctx, owned, func(ctx context.Context, owned golem.OwnedWorkerId) (*golem.WorkerStatusRecord, error) {
		return workerfsm.Replay(ctx, owned, e.oplogSvc.Open(owned))
	})
}

// Interrupt appends an InterruptedEntry and transitions owned to
// Interrupted.
func (e *Executor) Interrupt(ctx context.Context, owned golem.OwnedWorkerId) error {
	ent, err := e.getOrResume(ctx, owned)
	if err != nil {
		return err
	}
	return ent.worker.Interrupt(ctx)
}

// SimulatedCrash forces owned into Retrying without a real trap, the Go
// counterpart of the worker service's simulated-crash test hook: it lets an
// integration test exercise the retry/resume path deterministically instead
// of waiting for a genuine wasm trap.
func (e *Executor) SimulatedCrash(ctx context.Context, owned golem.OwnedWorkerId) error {
	ent, err := e.getOrResume(ctx, owned)
	if err != nil {
		return err
	}
	return ent.worker.Fail(ctx, fmt.Errorf("simulated crash"))
}

// Update applies desc to owned via workerfsm.Updater.
func (e *Executor) Update(ctx context.Context, owned golem.OwnedWorkerId, desc golem.UpdateDescription) error {
	ent, err := e.getOrResume(ctx, owned)
	if err != nil {
		return err
	}
	return e.updater.Apply(ctx, ent.worker, desc)
}

// Delete drops owned's oplog and cached status, freeing its WorkerId for
// re-creation, per §3's destruction contract.
func (e *Executor) Delete(ctx context.Context, owned golem.OwnedWorkerId) error {
	e.mu.Lock()
	delete(e.workers, owned.StorageKey())
	e.mu.Unlock()

	if err := e.oplogSvc.Open(owned).Delete(ctx); err != nil {
		return err
	}
	if err := e.status.Invalidate(ctx, owned); err != nil && !golemerr.Is(err, golemerr.CodeNotFound) {
		return err
	}
	return nil
}

func nowUnixNano() int64 { return time.Now().UnixNano() }
