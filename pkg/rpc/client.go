package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/rpc/jsoncodec"
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/golem-go/golem/pkg/workerproxy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a gRPC connection to target, configured to use the JSON codec
// pkg/rpc's hand-written ServiceDescs expect. TLS is expected to be
// terminated at the infra layer (load balancer / mesh) per SPEC_FULL.md §0,
// so the transport credentials are always insecure at this layer -- the Go
// counterpart of the teacher's client.NewClient, minus the mTLS dial since
// pkg/security was dropped along with it.
func Dial(ctx context.Context, target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsoncodec.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", target, err)
	}
	return conn, nil
}

// WorkerClient is a thin wrapper over a *grpc.ClientConn that calls the
// hand-written WorkerService methods directly via cc.Invoke, since no
// protoc-generated client stub exists to wrap.
type WorkerClient struct {
	cc *grpc.ClientConn
}

func NewWorkerClient(cc *grpc.ClientConn) *WorkerClient {
	return &WorkerClient{cc: cc}
}

func (c *WorkerClient) CreateWorker(ctx context.Context, req *CreateWorkerRequest) (*CreateWorkerResponse, error) {
	out := new(CreateWorkerResponse)
	if err := c.cc.Invoke(ctx, WorkerService_CreateWorker_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	out := new(InvokeResponse)
	if err := c.cc.Invoke(ctx, WorkerService_Invoke_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) InvokeAndAwait(ctx context.Context, req *InvokeRequest) (*InvokeAndAwaitResponse, error) {
	out := new(InvokeAndAwaitResponse)
	if err := c.cc.Invoke(ctx, WorkerService_InvokeAndAwait_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) Get(ctx context.Context, req *GetWorkerRequest) (*GetWorkerResponse, error) {
	out := new(GetWorkerResponse)
	if err := c.cc.Invoke(ctx, WorkerService_Get_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) Interrupt(ctx context.Context, req *InterruptRequest) (*InterruptResponse, error) {
	out := new(InterruptResponse)
	if err := c.cc.Invoke(ctx, WorkerService_Interrupt_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) Update(ctx context.Context, req *UpdateWorkerRequest) (*UpdateWorkerResponse, error) {
	out := new(UpdateWorkerResponse)
	if err := c.cc.Invoke(ctx, WorkerService_Update_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) Delete(ctx context.Context, req *DeleteWorkerRequest) (*DeleteWorkerResponse, error) {
	out := new(DeleteWorkerResponse)
	if err := c.cc.Invoke(ctx, WorkerService_Delete_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) SimulatedCrash(ctx context.Context, req *SimulatedCrashRequest) (*SimulatedCrashResponse, error) {
	out := new(SimulatedCrashResponse)
	if err := c.cc.Invoke(ctx, WorkerService_SimulatedCrash_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) InvocationKey(ctx context.Context, req *InvocationKeyRequest) (*InvocationKeyResponse, error) {
	out := new(InvocationKeyResponse)
	if err := c.cc.Invoke(ctx, WorkerService_InvocationKey_FullMethodName, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// WorkerService_ConnectClient is the client-side handle for the streaming
// Connect RPC.
type WorkerService_ConnectClient interface {
	Recv() (*ConnectEvent, error)
	grpc.ClientStream
}

type workerServiceConnectClient struct {
	grpc.ClientStream
}

func (c *workerServiceConnectClient) Recv() (*ConnectEvent, error) {
	ev := new(ConnectEvent)
	if err := c.ClientStream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Connect opens the streaming log-tail RPC and returns the client stream,
// from which the caller repeatedly calls Recv for each *ConnectEvent.
func (c *WorkerClient) Connect(ctx context.Context, req *ConnectRequest) (WorkerService_ConnectClient, error) {
	desc := &WorkerServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, WorkerService_Connect_FullMethodName)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &workerServiceConnectClient{stream}, nil
}

// PoolDialer resolves a shardmanager.Pod to a long-lived *grpc.ClientConn,
// dialing and caching on first use. It is the seam workerproxy.RemoteClient
// needs to reuse connections across many calls to the same pod instead of
// dialing per request.
type PoolDialer struct {
	dial  func(ctx context.Context, target string) (*grpc.ClientConn, error)
	conns map[shardmanager.Pod]*grpc.ClientConn
}

func NewPoolDialer() *PoolDialer {
	return &PoolDialer{dial: Dial, conns: make(map[shardmanager.Pod]*grpc.ClientConn)}
}

func (p *PoolDialer) connFor(ctx context.Context, pod shardmanager.Pod) (*grpc.ClientConn, error) {
	if cc, ok := p.conns[pod]; ok {
		return cc, nil
	}
	cc, err := p.dial(ctx, fmt.Sprintf("%s:%d", pod.Host, pod.Port))
	if err != nil {
		return nil, err
	}
	p.conns[pod] = cc
	return cc, nil
}

// Close closes every pooled connection, for use at process shutdown.
func (p *PoolDialer) Close() {
	for _, cc := range p.conns {
		_ = cc.Close()
	}
}

// RemoteWorkerClient implements workerproxy.RemoteClient by dialing the pod
// the proxy resolved and calling the corresponding WorkerClient method.
type RemoteWorkerClient struct {
	pool *PoolDialer
}

func NewRemoteWorkerClient() *RemoteWorkerClient {
	return &RemoteWorkerClient{pool: NewPoolDialer()}
}

func (r *RemoteWorkerClient) Close() { r.pool.Close() }

// WorkerClientFor dials (or reuses a pooled connection to) pod and returns
// a WorkerClient wrapper over it, for callers that need to issue an RPC
// pkg/workerproxy.RemoteClient doesn't cover (Get/CreateWorker/Interrupt/
// Delete/SimulatedCrash/Connect) against the same pooled connection the
// retrying invoke/invoke_and_await/update calls use.
func (r *RemoteWorkerClient) WorkerClientFor(ctx context.Context, pod shardmanager.Pod) (*WorkerClient, error) {
	cc, err := r.pool.connFor(ctx, pod)
	if err != nil {
		return nil, err
	}
	return NewWorkerClient(cc), nil
}

func toInvokeRequest(req workerproxy.InvokeRequest) *InvokeRequest {
	key := ""
	if req.IdempotencyKey != nil {
		key = req.IdempotencyKey.Value
	}
	return &InvokeRequest{
		Worker:         refFrom(req.Worker),
		Function:       req.FunctionName,
		Params:         req.FunctionParams,
		IdempotencyKey: key,
	}
}

func (r *RemoteWorkerClient) InvokeAndAwait(ctx context.Context, pod shardmanager.Pod, req workerproxy.InvokeRequest) ([]byte, error) {
	cc, err := r.pool.connFor(ctx, pod)
	if err != nil {
		return nil, err
	}
	resp, err := NewWorkerClient(cc).InvokeAndAwait(ctx, toInvokeRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (r *RemoteWorkerClient) Invoke(ctx context.Context, pod shardmanager.Pod, req workerproxy.InvokeRequest) error {
	cc, err := r.pool.connFor(ctx, pod)
	if err != nil {
		return err
	}
	_, err = NewWorkerClient(cc).Invoke(ctx, toInvokeRequest(req))
	return err
}

func (r *RemoteWorkerClient) Update(ctx context.Context, pod shardmanager.Pod, req workerproxy.UpdateRequest) error {
	cc, err := r.pool.connFor(ctx, pod)
	if err != nil {
		return err
	}
	_, err = NewWorkerClient(cc).Update(ctx, &UpdateWorkerRequest{
		Worker:        refFrom(req.Worker),
		TargetVersion: uint64(req.TargetVersion),
		Mode:          string(req.Mode),
	})
	return err
}

var _ workerproxy.RemoteClient = (*RemoteWorkerClient)(nil)

// ShardManagerClient wraps a ShardManagerService connection for the
// registration and routing-table lookups a worker-executor's startup and a
// worker-service's proxy need.
type ShardManagerClient struct {
	cc *grpc.ClientConn
}

func NewShardManagerClient(cc *grpc.ClientConn) *ShardManagerClient {
	return &ShardManagerClient{cc: cc}
}

func (c *ShardManagerClient) RegisterPod(ctx context.Context, pod shardmanager.Pod) error {
	out := new(RegisterPodResponse)
	return c.cc.Invoke(ctx, ShardManagerService_RegisterPod_FullMethodName, &RegisterPodRequest{Pod: refFromPod(pod)}, out)
}

func (c *ShardManagerClient) UnregisterPod(ctx context.Context, pod shardmanager.Pod) error {
	out := new(UnregisterPodResponse)
	return c.cc.Invoke(ctx, ShardManagerService_UnregisterPod_FullMethodName, &UnregisterPodRequest{Pod: refFromPod(pod)}, out)
}

// RoutingTable fetches the current routing table snapshot over the wire and
// reconstructs a shardmanager.RoutingTable from it, for a remote proxy that
// doesn't run its own ShardManagement instance in-process.
func (c *ShardManagerClient) RoutingTable(ctx context.Context) (shardmanager.RoutingTable, error) {
	out := new(GetRoutingTableResponse)
	if err := c.cc.Invoke(ctx, ShardManagerService_GetRoutingTable_FullMethodName, &GetRoutingTableRequest{}, out); err != nil {
		return shardmanager.RoutingTable{}, err
	}
	table := shardmanager.NewRoutingTable(int(out.NumberOfShards))
	for key, pod := range out.Assignments {
		var shard golem.ShardId
		if _, err := fmt.Sscanf(key, "%d", &shard); err != nil {
			continue
		}
		table.Assignments[shard] = podFrom(pod)
	}
	return table, nil
}

// RemoteRoutingLookup polls a shard manager's GetRoutingTable RPC on an
// interval and serves the last successfully fetched snapshot, satisfying
// workerproxy.RoutingLookup for a worker-service deployment that has no
// in-process *shardmanager.ShardManagement of its own to call
// CurrentSnapshot on directly.
type RemoteRoutingLookup struct {
	client *ShardManagerClient

	mu    sync.RWMutex
	table shardmanager.RoutingTable
}

// NewRemoteRoutingLookup fetches an initial snapshot and then refreshes it
// every interval in the background until ctx is cancelled.
func NewRemoteRoutingLookup(ctx context.Context, client *ShardManagerClient, interval time.Duration) (*RemoteRoutingLookup, error) {
	table, err := client.RoutingTable(ctx)
	if err != nil {
		return nil, err
	}
	l := &RemoteRoutingLookup{client: client, table: table}
	go l.refreshLoop(ctx, interval)
	return l, nil
}

func (l *RemoteRoutingLookup) refreshLoop(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("rpc.routinglookup")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			table, err := l.client.RoutingTable(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("routing table refresh failed, serving stale snapshot")
				continue
			}
			l.mu.Lock()
			l.table = table
			l.mu.Unlock()
		}
	}
}

func (l *RemoteRoutingLookup) CurrentSnapshot() shardmanager.RoutingTable {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table
}

var _ workerproxy.RoutingLookup = (*RemoteRoutingLookup)(nil)
