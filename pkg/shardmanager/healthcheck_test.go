package shardmanager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/stretchr/testify/assert"
)

// stubHealthCheck reports pods in failing as unhealthy and everything else
// as healthy, without dialing any network connection.
type stubHealthCheck struct {
	failing map[shardmanager.Pod]struct{}
}

func newStubHealthCheck(failing ...shardmanager.Pod) *stubHealthCheck {
	s := &stubHealthCheck{failing: make(map[shardmanager.Pod]struct{})}
	for _, p := range failing {
		s.failing[p] = struct{}{}
	}
	return s
}

func (s *stubHealthCheck) Check(ctx context.Context, pod shardmanager.Pod) error {
	if _, bad := s.failing[pod]; bad {
		return errors.New("stub: unhealthy")
	}
	return nil
}

func TestUnhealthyPodsReturnsOnlyFailingOnes(t *testing.T) {
	healthy := shardmanager.Pod{Host: "10.0.0.1", Port: 9000}
	sick := shardmanager.Pod{Host: "10.0.0.2", Port: 9000}
	check := newStubHealthCheck(sick)

	unhealthy := shardmanager.UnhealthyPods(context.Background(), check, []shardmanager.Pod{healthy, sick})

	assert.Equal(t, []shardmanager.Pod{sick}, unhealthy)
}

func TestUnhealthyPodsReturnsEmptyWhenAllHealthy(t *testing.T) {
	check := newStubHealthCheck()
	pods := []shardmanager.Pod{{Host: "h1", Port: 1}, {Host: "h2", Port: 2}}

	unhealthy := shardmanager.UnhealthyPods(context.Background(), check, pods)

	assert.Empty(t, unhealthy)
}
