package workerproxy_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/golem-go/golem/pkg/workerproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRouting struct {
	table shardmanager.RoutingTable
}

func (s staticRouting) CurrentSnapshot() shardmanager.RoutingTable { return s.table }

func singlePodRouting(pod shardmanager.Pod) staticRouting {
	table := shardmanager.NewRoutingTable(1)
	table.Assignments[0] = pod
	return staticRouting{table: table}
}

func emptyRouting() staticRouting {
	return staticRouting{table: shardmanager.NewRoutingTable(1)}
}

type fakeClient struct {
	failTimes int32
	calls     int32
	invokeErr error
}

func (c *fakeClient) InvokeAndAwait(ctx context.Context, pod shardmanager.Pod, req workerproxy.InvokeRequest) ([]byte, error) {
	n := atomic.AddInt32(&c.calls, 1)
	if n <= c.failTimes {
		return nil, errors.New("fake: transient failure")
	}
	return []byte("result"), nil
}

func (c *fakeClient) Invoke(ctx context.Context, pod shardmanager.Pod, req workerproxy.InvokeRequest) error {
	atomic.AddInt32(&c.calls, 1)
	return c.invokeErr
}

func (c *fakeClient) Update(ctx context.Context, pod shardmanager.Pod, req workerproxy.UpdateRequest) error {
	atomic.AddInt32(&c.calls, 1)
	return c.invokeErr
}

func testWorker() golem.OwnedWorkerId {
	return golem.OwnedWorkerId{WorkerId: golem.WorkerId{WorkerName: "w1"}}
}

func TestInvokeAndAwaitReturnsResultOnSuccess(t *testing.T) {
	pod := shardmanager.Pod{Host: "10.0.0.1", Port: 9000}
	client := &fakeClient{}
	proxy := workerproxy.New(singlePodRouting(pod), client, 2)

	result, err := proxy.InvokeAndAwait(context.Background(), workerproxy.InvokeRequest{Worker: testWorker()})
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), result)
}

func TestInvokeAndAwaitRetriesTransientFailures(t *testing.T) {
	pod := shardmanager.Pod{Host: "10.0.0.1", Port: 9000}
	client := &fakeClient{failTimes: 2}
	proxy := workerproxy.New(singlePodRouting(pod), client, 3)

	result, err := proxy.InvokeAndAwait(context.Background(), workerproxy.InvokeRequest{Worker: testWorker()})
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), result)
	assert.EqualValues(t, 3, client.calls)
}

func TestInvokeAndAwaitExhaustsRetriesAndFails(t *testing.T) {
	pod := shardmanager.Pod{Host: "10.0.0.1", Port: 9000}
	client := &fakeClient{failTimes: 100}
	proxy := workerproxy.New(singlePodRouting(pod), client, 2)

	_, err := proxy.InvokeAndAwait(context.Background(), workerproxy.InvokeRequest{Worker: testWorker()})
	require.Error(t, err)
	assert.EqualValues(t, 3, client.calls)
}

func TestInvokeReturnsShardUnavailableWhenNoPodAssigned(t *testing.T) {
	client := &fakeClient{}
	proxy := workerproxy.New(emptyRouting(), client, 2)

	err := proxy.Invoke(context.Background(), workerproxy.InvokeRequest{Worker: testWorker()})
	require.Error(t, err)
	assert.EqualValues(t, 0, client.calls)
}

func TestUpdateForwardsRequestToOwningPod(t *testing.T) {
	pod := shardmanager.Pod{Host: "10.0.0.1", Port: 9000}
	client := &fakeClient{}
	proxy := workerproxy.New(singlePodRouting(pod), client, 0)

	err := proxy.Update(context.Background(), workerproxy.UpdateRequest{
		Worker:        testWorker(),
		TargetVersion: 2,
		Mode:          golem.UpdateModeAutomatic,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, client.calls)
}
