package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golem-go/golem/pkg/executor"
	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// WorkerServer adapts pkg/executor.Executor to the hand-written
// WorkerServiceServer interface, the role the teacher's pkg/api.Server
// plays between proto.WarrenAPIServer and pkg/manager.Manager.
type WorkerServer struct {
	exec   *executor.Executor
	oplogs *oplog.Service
	logger zerolog.Logger
}

func NewWorkerServer(exec *executor.Executor, oplogs *oplog.Service) *WorkerServer {
	return &WorkerServer{exec: exec, oplogs: oplogs, logger: log.WithComponent("rpc.worker")}
}

func (s *WorkerServer) CreateWorker(ctx context.Context, req *CreateWorkerRequest) (*CreateWorkerResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	mode := golem.AgentModeDurable
	if req.AgentMode != "" {
		mode = golem.AgentMode(req.AgentMode)
	}
	if err := s.exec.CreateWorker(ctx, owned, golem.ComponentVersion(req.ComponentVersion), req.Args, req.Env, mode); err != nil {
		return nil, err
	}
	return &CreateWorkerResponse{}, nil
}

func (s *WorkerServer) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	key := golem.IdempotencyKey{Value: req.IdempotencyKey}
	if err := s.exec.Invoke(ctx, owned, req.Function, req.Params, key); err != nil {
		return nil, err
	}
	return &InvokeResponse{}, nil
}

func (s *WorkerServer) InvokeAndAwait(ctx context.Context, req *InvokeRequest) (*InvokeAndAwaitResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	key := golem.IdempotencyKey{Value: req.IdempotencyKey}
	response, err := s.exec.InvokeAndAwait(ctx, owned, req.Function, req.Params, key)
	if err != nil {
		return nil, err
	}
	return &InvokeAndAwaitResponse{Result: response}, nil
}

func (s *WorkerServer) Get(ctx context.Context, req *GetWorkerRequest) (*GetWorkerResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	rec, err := s.exec.GetStatus(ctx, owned)
	if err != nil {
		return nil, err
	}
	return &GetWorkerResponse{
		Status:           string(rec.Status),
		ComponentVersion: uint64(rec.ComponentVersion),
		RetryCount:       rec.RetryCount,
		OplogIndex:       uint64(rec.OplogIdx),
		LastError:        rec.LastError,
	}, nil
}

func (s *WorkerServer) Interrupt(ctx context.Context, req *InterruptRequest) (*InterruptResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	if err := s.exec.Interrupt(ctx, owned); err != nil {
		return nil, err
	}
	return &InterruptResponse{}, nil
}

func (s *WorkerServer) Update(ctx context.Context, req *UpdateWorkerRequest) (*UpdateWorkerResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	desc := golem.UpdateDescription{
		TargetVersion: golem.ComponentVersion(req.TargetVersion),
		Mode:          golem.UpdateMode(req.Mode),
	}
	if err := s.exec.Update(ctx, owned, desc); err != nil {
		return nil, err
	}
	return &UpdateWorkerResponse{}, nil
}

func (s *WorkerServer) Delete(ctx context.Context, req *DeleteWorkerRequest) (*DeleteWorkerResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	if err := s.exec.Delete(ctx, owned); err != nil {
		return nil, err
	}
	return &DeleteWorkerResponse{}, nil
}

func (s *WorkerServer) SimulatedCrash(ctx context.Context, req *SimulatedCrashRequest) (*SimulatedCrashResponse, error) {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return nil, golemerr.InvalidRequest("worker ref: %v", err)
	}
	if err := s.exec.SimulatedCrash(ctx, owned); err != nil {
		return nil, err
	}
	return &SimulatedCrashResponse{}, nil
}

func (s *WorkerServer) InvocationKey(ctx context.Context, req *InvocationKeyRequest) (*InvocationKeyResponse, error) {
	return &InvocationKeyResponse{Key: uuid.New().String()}, nil
}

// Connect tails owned's oplog, polling for newly appended entries and
// streaming a one-line summary of each -- the Go shape of the original's
// stdout/stderr/log connect stream, since this executor's oplog doesn't
// carry raw process output, only structured entries.
func (s *WorkerServer) Connect(req *ConnectRequest, stream WorkerService_ConnectServer) error {
	owned, err := ownedFrom(req.Worker)
	if err != nil {
		return golemerr.InvalidRequest("worker ref: %v", err)
	}
	ctx := stream.Context()
	entries := s.oplogs.Open(owned)

	length, err := entries.Length(ctx)
	if err != nil {
		return err
	}
	next := length + 1

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			length, err := entries.Length(ctx)
			if err != nil {
				return err
			}
			for next <= length {
				entry, err := entries.Read(ctx, next)
				if err != nil {
					return err
				}
				if err := stream.Send(&ConnectEvent{
					OplogIndex: uint64(next),
					Kind:       string(entry.Payload.Kind()),
				}); err != nil {
					return err
				}
				next++
			}
		}
	}
}

// UnaryInterceptor translates a *golemerr.Error returned by a handler into
// a gRPC status.Status via golemerr.GRPCCode, and records RPCRequestsTotal/
// RPCRequestDuration for every call, regardless of outcome.
func UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	timer := metrics.NewTimer()
	resp, err := handler(ctx, req)
	timer.ObserveDurationVec(metrics.RPCRequestDuration, info.FullMethod)

	if err == nil {
		metrics.RPCRequestsTotal.WithLabelValues(info.FullMethod, "ok").Inc()
		return resp, nil
	}

	var gerr *golemerr.Error
	if errors.As(err, &gerr) {
		metrics.RPCRequestsTotal.WithLabelValues(info.FullMethod, string(gerr.Code)).Inc()
		return nil, status.Error(golemerr.GRPCCode(gerr.Code), gerr.Error())
	}

	metrics.RPCRequestsTotal.WithLabelValues(info.FullMethod, "internal").Inc()
	return nil, status.Error(codes.Internal, err.Error())
}

// RegisterHealth wires the standard grpc.health.v1 service onto server and
// marks every named service SERVING, the Go counterpart of the original
// golem-shard-manager's tonic_health usage.
func RegisterHealth(server *grpc.Server, serviceNames ...string) *health.Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, name := range serviceNames {
		h.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(server, h)
	return h
}

// ShardManagerServer adapts pkg/shardmanager.ShardManagement to the
// hand-written ShardManagerServiceServer interface.
type ShardManagerServer struct {
	management *shardmanager.ShardManagement
	logger     zerolog.Logger
}

func NewShardManagerServer(management *shardmanager.ShardManagement) *ShardManagerServer {
	return &ShardManagerServer{management: management, logger: log.WithComponent("rpc.shardmanager")}
}

func (s *ShardManagerServer) RegisterPod(ctx context.Context, req *RegisterPodRequest) (*RegisterPodResponse, error) {
	if err := s.management.RegisterPod(ctx, podFrom(req.Pod)); err != nil {
		return nil, err
	}
	return &RegisterPodResponse{}, nil
}

func (s *ShardManagerServer) UnregisterPod(ctx context.Context, req *UnregisterPodRequest) (*UnregisterPodResponse, error) {
	if err := s.management.UnregisterPod(ctx, podFrom(req.Pod)); err != nil {
		return nil, err
	}
	return &UnregisterPodResponse{}, nil
}

func (s *ShardManagerServer) GetRoutingTable(ctx context.Context, req *GetRoutingTableRequest) (*GetRoutingTableResponse, error) {
	table := s.management.CurrentSnapshot()
	assignments := make(map[string]PodRef, len(table.Assignments))
	for shard, pod := range table.Assignments {
		assignments[shardKey(shard)] = refFromPod(pod)
	}
	return &GetRoutingTableResponse{
		NumberOfShards: int32(table.NumberOfShards),
		Assignments:    assignments,
	}, nil
}

func shardKey(shard golem.ShardId) string {
	return fmt.Sprintf("%d", shard)
}
