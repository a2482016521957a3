package rpc

import (
	"context"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/workerproxy"
	"github.com/rs/zerolog"
)

// GatewayWorkerServer implements WorkerServiceServer for a worker-service
// front door that owns no workers itself: it resolves the owning pod via
// RoutingLookup and either dispatches through the retrying, circuit-broken
// workerproxy.RemoteWorkerProxy (Invoke/InvokeAndAwait/Update, exactly the
// three operations spec.md's worker proxy contract names) or, for the
// remaining RPCs that have no retry-budget semantics of their own
// (CreateWorker/Get/Interrupt/Delete/SimulatedCrash/InvocationKey/Connect),
// dials the resolved pod directly over the same pooled connection and
// forwards the call unmodified. This is the Go shape of the original's
// golem-worker-service: a thin router in front of the worker-executor
// fleet, never holding worker state itself.
type GatewayWorkerServer struct {
	routing workerproxy.RoutingLookup
	proxy   *workerproxy.RemoteWorkerProxy
	direct  *RemoteWorkerClient
	logger  zerolog.Logger
}

// NewGatewayWorkerServer wires a GatewayWorkerServer over a routing lookup
// (normally a RemoteRoutingLookup polling the shard manager) and a shared
// RemoteWorkerClient pool so the passthrough RPCs reuse the same pooled
// connections the proxy's retrying calls do.
func NewGatewayWorkerServer(routing workerproxy.RoutingLookup, proxy *workerproxy.RemoteWorkerProxy, direct *RemoteWorkerClient) *GatewayWorkerServer {
	return &GatewayWorkerServer{routing: routing, proxy: proxy, direct: direct, logger: log.WithComponent("rpc.gateway")}
}

func (g *GatewayWorkerServer) podFor(workerId golem.WorkerId) (*WorkerClient, error) {
	table := g.routing.CurrentSnapshot()
	pod, ok := table.PodFor(workerId)
	if !ok {
		return nil, golemerr.ShardUnavailable("no pod assigned to shard for worker %s", workerId)
	}
	return g.direct.WorkerClientFor(context.Background(), pod)
}

func (g *GatewayWorkerServer) CreateWorker(ctx context.Context, req *CreateWorkerRequest) (*CreateWorkerResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	client, err := g.podFor(owned.WorkerId)
	if err != nil {
		return nil, err
	}
	return client.CreateWorker(ctx, req)
}

func (g *GatewayWorkerServer) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	if err := g.proxy.Invoke(ctx, toProxyInvokeRequest(owned, req)); err != nil {
		return nil, err
	}
	return &InvokeResponse{}, nil
}

func (g *GatewayWorkerServer) InvokeAndAwait(ctx context.Context, req *InvokeRequest) (*InvokeAndAwaitResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	result, err := g.proxy.InvokeAndAwait(ctx, toProxyInvokeRequest(owned, req))
	if err != nil {
		return nil, err
	}
	return &InvokeAndAwaitResponse{Result: result}, nil
}

func (g *GatewayWorkerServer) Get(ctx context.Context, req *GetWorkerRequest) (*GetWorkerResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	client, err := g.podFor(owned.WorkerId)
	if err != nil {
		return nil, err
	}
	return client.Get(ctx, req)
}

func (g *GatewayWorkerServer) Interrupt(ctx context.Context, req *InterruptRequest) (*InterruptResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	client, err := g.podFor(owned.WorkerId)
	if err != nil {
		return nil, err
	}
	return client.Interrupt(ctx, req)
}

func (g *GatewayWorkerServer) Update(ctx context.Context, req *UpdateWorkerRequest) (*UpdateWorkerResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	if err := g.proxy.Update(ctx, workerproxy.UpdateRequest{
		Worker:        owned,
		TargetVersion: golem.ComponentVersion(req.TargetVersion),
		Mode:          golem.UpdateMode(req.Mode),
	}); err != nil {
		return nil, err
	}
	return &UpdateWorkerResponse{}, nil
}

func (g *GatewayWorkerServer) Delete(ctx context.Context, req *DeleteWorkerRequest) (*DeleteWorkerResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	client, err := g.podFor(owned.WorkerId)
	if err != nil {
		return nil, err
	}
	return client.Delete(ctx, req)
}

func (g *GatewayWorkerServer) SimulatedCrash(ctx context.Context, req *SimulatedCrashRequest) (*SimulatedCrashResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	client, err := g.podFor(owned.WorkerId)
	if err != nil {
		return nil, err
	}
	return client.SimulatedCrash(ctx, req)
}

func (g *GatewayWorkerServer) InvocationKey(ctx context.Context, req *InvocationKeyRequest) (*InvocationKeyResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	client, err := g.podFor(owned.WorkerId)
	if err != nil {
		return nil, err
	}
	return client.InvocationKey(ctx, req)
}

// Connect resolves the owning pod and forwards its log-tail stream
// unmodified to the caller, one ConnectEvent at a time, until either side
// closes the stream.
func (g *GatewayWorkerServer) Connect(req *ConnectRequest, stream WorkerService_ConnectServer) error {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return golemerr.InvalidRequest("worker ref: %v", err)
	}
	client, err := g.podFor(owned.WorkerId)
	if err != nil {
		return err
	}
	upstream, err := client.Connect(stream.Context(), req)
	if err != nil {
		return err
	}
	for {
		ev, err := upstream.Recv()
		if err != nil {
			return err
		}
		if err := stream.Send(ev); err != nil {
			return err
		}
	}
}

func toProxyInvokeRequest(owned golem.OwnedWorkerId, req *InvokeRequest) workerproxy.InvokeRequest {
	var key *golem.IdempotencyKey
	if req.IdempotencyKey != "" {
		key = &golem.IdempotencyKey{Value: req.IdempotencyKey}
	}
	return workerproxy.InvokeRequest{
		Worker:         owned,
		IdempotencyKey: key,
		FunctionName:   req.Function,
		FunctionParams: req.Params,
	}
}

var _ WorkerServiceServer = (*GatewayWorkerServer)(nil)
