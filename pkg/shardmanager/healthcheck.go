package shardmanager

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthCheck probes a single pod. GrpcHealthCheck is the production
// implementation; tests substitute a stub.
type HealthCheck interface {
	Check(ctx context.Context, pod Pod) error
}

// GrpcHealthCheck calls the standard grpc.health.v1 service every
// worker-executor exposes, the same probe the original's GrpcHealthCheck
// performs via tonic_health's generated client.
type GrpcHealthCheck struct {
	Timeout time.Duration
}

// NewGrpcHealthCheck returns a GrpcHealthCheck with a 5s per-call timeout.
func NewGrpcHealthCheck() *GrpcHealthCheck {
	return &GrpcHealthCheck{Timeout: 5 * time.Second}
}

func (h *GrpcHealthCheck) Check(ctx context.Context, pod Pod) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	conn, err := grpc.NewClient(pod.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return &unhealthyError{pod: pod, status: resp.Status.String()}
	}
	return nil
}

type unhealthyError struct {
	pod    Pod
	status string
}

func (e *unhealthyError) Error() string {
	return "shardmanager: pod " + e.pod.String() + " reported status " + e.status
}

// UnhealthyPods checks every pod in parallel-free sequence (the pod count
// in a Golem cluster is small enough that a health sweep is not a
// bottleneck) and returns those that failed, mirroring the original's
// get_unhealthy_pods helper.
func UnhealthyPods(ctx context.Context, check HealthCheck, pods []Pod) []Pod {
	var unhealthy []Pod
	for _, pod := range pods {
		if err := check.Check(ctx, pod); err != nil {
			unhealthy = append(unhealthy, pod)
		}
	}
	return unhealthy
}
