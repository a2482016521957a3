// Package workerproxy dispatches invocations to the worker-executor pod
// that currently owns a worker's shard, retrying transient failures and
// tripping a per-pod circuit breaker when a pod stops answering. It is the
// Go shape of original_source/golem-worker-executor-base's
// RemoteWorkerProxy, adapted to route over pkg/shardmanager instead of a
// single fixed peer.
package workerproxy

import (
	"context"
	"sync"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// InvokeRequest is what the proxy forwards to the owning pod.
type InvokeRequest struct {
	Worker         golem.OwnedWorkerId
	IdempotencyKey *golem.IdempotencyKey
	FunctionName   string
	FunctionParams []byte
	CallerWorkerId golem.WorkerId
	CallerArgs     []string
	CallerEnv      map[string]string
}

// UpdateRequest asks the owning pod to apply a component version bump.
type UpdateRequest struct {
	Worker        golem.OwnedWorkerId
	TargetVersion golem.ComponentVersion
	Mode          golem.UpdateMode
}

// RemoteClient is the thin transport the proxy drives per pod; Dial hides
// the gRPC connection-pooling concern so WorkerProxy stays transport-free
// in its own tests.
type RemoteClient interface {
	InvokeAndAwait(ctx context.Context, pod shardmanager.Pod, req InvokeRequest) ([]byte, error)
	Invoke(ctx context.Context, pod shardmanager.Pod, req InvokeRequest) error
	Update(ctx context.Context, pod shardmanager.Pod, req UpdateRequest) error
}

// WorkerProxy is the interface worker-executor code depends on to reach a
// worker that may live on a different pod, mirroring the original's
// WorkerProxy trait (invoke_and_await/invoke/update).
type WorkerProxy interface {
	InvokeAndAwait(ctx context.Context, req InvokeRequest) ([]byte, error)
	Invoke(ctx context.Context, req InvokeRequest) error
	Update(ctx context.Context, req UpdateRequest) error
}

// RemoteWorkerProxy routes each call to the pod owning the worker's shard,
// via a gobreaker.CircuitBreaker kept per pod so a single unreachable pod
// fails fast instead of piling up retries against it.
type RemoteWorkerProxy struct {
	routing RoutingLookup
	client  RemoteClient
	retries int
	logger  zerolog.Logger

	mu       sync.Mutex
	breakers map[shardmanager.Pod]*gobreaker.CircuitBreaker
}

// RoutingLookup resolves which pod owns a worker's shard; *shardmanager.ShardManagement
// satisfies it directly.
type RoutingLookup interface {
	CurrentSnapshot() shardmanager.RoutingTable
}

// New returns a RemoteWorkerProxy that retries a failed call up to retries
// times (in addition to the first attempt) before giving up.
func New(routing RoutingLookup, client RemoteClient, retries int) *RemoteWorkerProxy {
	return &RemoteWorkerProxy{
		routing:  routing,
		client:   client,
		retries:  retries,
		logger:   log.WithComponent("workerproxy"),
		breakers: make(map[shardmanager.Pod]*gobreaker.CircuitBreaker),
	}
}

func (p *RemoteWorkerProxy) podFor(workerId golem.WorkerId) (shardmanager.Pod, error) {
	pod, ok := p.routing.CurrentSnapshot().PodFor(workerId)
	if !ok {
		return shardmanager.Pod{}, golemerr.ShardUnavailable("no pod assigned to shard for worker %s", workerId)
	}
	return pod, nil
}

// breaker returns the circuit breaker for pod, creating one on first use.
// Each pod gets its own breaker so a single unreachable pod trips without
// affecting calls routed to any other pod.
func (p *RemoteWorkerProxy) breaker(pod shardmanager.Pod) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[pod]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        pod.String(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	p.breakers[pod] = cb
	return cb
}

func (p *RemoteWorkerProxy) InvokeAndAwait(ctx context.Context, req InvokeRequest) ([]byte, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProxyRequestDuration, "invoke_and_await")

	result, err := p.withRetry(ctx, "invoke_and_await", req.Worker.WorkerId, func(pod shardmanager.Pod) (any, error) {
		return p.client.InvokeAndAwait(ctx, pod, req)
	})
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues("invoke_and_await", "error").Inc()
		return nil, err
	}
	metrics.ProxyRequestsTotal.WithLabelValues("invoke_and_await", "success").Inc()
	return result.([]byte), nil
}

func (p *RemoteWorkerProxy) Invoke(ctx context.Context, req InvokeRequest) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProxyRequestDuration, "invoke")

	_, err := p.withRetry(ctx, "invoke", req.Worker.WorkerId, func(pod shardmanager.Pod) (any, error) {
		return nil, p.client.Invoke(ctx, pod, req)
	})
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues("invoke", "error").Inc()
		return err
	}
	metrics.ProxyRequestsTotal.WithLabelValues("invoke", "success").Inc()
	return nil
}

func (p *RemoteWorkerProxy) Update(ctx context.Context, req UpdateRequest) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProxyRequestDuration, "update")

	_, err := p.withRetry(ctx, "update", req.Worker.WorkerId, func(pod shardmanager.Pod) (any, error) {
		return nil, p.client.Update(ctx, pod, req)
	})
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues("update", "error").Inc()
		return err
	}
	metrics.ProxyRequestsTotal.WithLabelValues("update", "success").Inc()
	return nil
}

// withRetry resolves the owning pod, runs call through that pod's circuit
// breaker, and retries up to p.retries times on failure with a short linear
// backoff, the Go shape of the original's GrpcClient retry wrapper.
func (p *RemoteWorkerProxy) withRetry(ctx context.Context, method string, workerId golem.WorkerId, call func(shardmanager.Pod) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		pod, err := p.podFor(workerId)
		if err != nil {
			return nil, err
		}

		cb := p.breaker(pod)
		result, err := cb.Execute(func() (interface{}, error) {
			return call(pod)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		metrics.ProxyCircuitBreakerState.WithLabelValues(pod.String()).Set(breakerStateValue(cb.State()))
		p.logger.Warn().Str("pod", pod.String()).Str("method", method).Int("attempt", attempt).Err(err).Msg("worker proxy call failed")

		if attempt < p.retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
			}
		}
	}
	return nil, golemerr.Wrap(golemerr.CodeShardUnavailable, lastErr, "worker proxy call to %s exhausted retries", method)
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
