package workerfsm_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	got []workerfsm.Invocation
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, inv workerfsm.Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, inv)
	return nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestSchedulerDrainsWatchedQueue(t *testing.T) {
	ctx := context.Background()
	q := workerfsm.NewInvocationQueue(memstore.NewKV())
	componentId := golem.ComponentId{UUID: uuid.New()}
	require.NoError(t, q.Enqueue(ctx, workerfsm.Invocation{
		WorkerId:       golem.WorkerId{ComponentId: componentId, WorkerName: "w1"},
		FunctionName:   "run",
		IdempotencyKey: golem.IdempotencyKey{Value: "k1"},
	}, 1))

	dispatcher := &recordingDispatcher{}
	sched := workerfsm.NewScheduler(q, dispatcher)
	sched.Watch(componentId)
	sched.Start()
	defer sched.Stop()

	assert.Eventually(t, func() bool { return dispatcher.count() == 1 }, time.Second, 10*time.Millisecond)
}
