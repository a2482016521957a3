package rpc

import (
	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/google/uuid"
)

// WorkerRef is the wire shape of a golem.OwnedWorkerId: the hand-written
// counterpart of a protoc-generated WorkerId message, flattened to plain
// strings so the JSON codec needs no custom marshaling.
type WorkerRef struct {
	AccountId   string
	ProjectId   string
	ComponentId string
	WorkerName  string
}

func ownedFrom(ref WorkerRef) (golem.OwnedWorkerId, error) {
	componentUUID, err := uuid.Parse(ref.ComponentId)
	if err != nil {
		return golem.OwnedWorkerId{}, err
	}
	var projectUUID uuid.UUID
	if ref.ProjectId != "" {
		projectUUID, err = uuid.Parse(ref.ProjectId)
		if err != nil {
			return golem.OwnedWorkerId{}, err
		}
	}
	return golem.OwnedWorkerId{
		AccountId: golem.AccountId{Value: ref.AccountId},
		ProjectId: golem.ProjectId{UUID: projectUUID},
		WorkerId: golem.WorkerId{
			ComponentId: golem.ComponentId{UUID: componentUUID},
			WorkerName:  ref.WorkerName,
		},
	}, nil
}

func refFrom(owned golem.OwnedWorkerId) WorkerRef {
	return WorkerRef{
		AccountId:   owned.AccountId.Value,
		ProjectId:   owned.ProjectId.UUID.String(),
		ComponentId: owned.WorkerId.ComponentId.UUID.String(),
		WorkerName:  owned.WorkerId.WorkerName,
	}
}

// CreateWorkerRequest asks a worker-executor to materialize a brand-new
// worker.
type CreateWorkerRequest struct {
	Worker           WorkerRef
	ComponentVersion uint64
	Args             []string
	Env              map[string]string
	AgentMode        string
}

type CreateWorkerResponse struct{}

// InvokeRequest is shared by the Invoke (fire-and-forget) and
// InvokeAndAwait RPCs; which of the two RPC methods is called, not a field
// of the request, decides whether the handler waits for the result.
type InvokeRequest struct {
	Worker         WorkerRef
	Function       string
	Params         []byte
	IdempotencyKey string
}

type InvokeResponse struct{}

type InvokeAndAwaitResponse struct {
	Result []byte
}

type GetWorkerRequest struct {
	Worker WorkerRef
}

type GetWorkerResponse struct {
	Status           string
	ComponentVersion uint64
	RetryCount       uint64
	OplogIndex       uint64
	LastError        string
}

type InterruptRequest struct {
	Worker WorkerRef
}

type InterruptResponse struct{}

type UpdateWorkerRequest struct {
	Worker        WorkerRef
	TargetVersion uint64
	Mode          string
}

type UpdateWorkerResponse struct{}

type DeleteWorkerRequest struct {
	Worker WorkerRef
}

type DeleteWorkerResponse struct{}

// SimulatedCrashRequest forces a worker into Retrying without a real trap, so
// integration tests can exercise the retry/resume path deterministically --
// the Go shape of the original's simulated-crash test hook.
type SimulatedCrashRequest struct {
	Worker WorkerRef
}

type SimulatedCrashResponse struct{}

type InvocationKeyRequest struct {
	Worker WorkerRef
}

// InvocationKeyResponse hands back a fresh idempotency key a caller can
// attach to a subsequent invoke_and_await, mirroring the original's
// invocation-key pre-allocation step.
type InvocationKeyResponse struct {
	Key string
}

// ConnectRequest opens the log-tail stream for a worker; ConnectEvent is
// sent once per oplog entry appended after the stream opens.
type ConnectRequest struct {
	Worker WorkerRef
}

type ConnectEvent struct {
	OplogIndex uint64
	Kind       string
	Message    string
}

// PodRef is the wire shape of a shardmanager.Pod.
type PodRef struct {
	Host string
	Port int32
}

func podFrom(ref PodRef) shardmanager.Pod {
	return shardmanager.Pod{Host: ref.Host, Port: int(ref.Port)}
}

func refFromPod(pod shardmanager.Pod) PodRef {
	return PodRef{Host: pod.Host, Port: int32(pod.Port)}
}

type RegisterPodRequest struct {
	Pod PodRef
}

type RegisterPodResponse struct{}

type UnregisterPodRequest struct {
	Pod PodRef
}

type UnregisterPodResponse struct{}

type GetRoutingTableRequest struct{}

type GetRoutingTableResponse struct {
	NumberOfShards int32
	Assignments    map[string]PodRef // shard id (base 10) -> pod
}
