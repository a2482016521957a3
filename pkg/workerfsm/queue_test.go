package workerfsm_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvocationQueueFIFOOrdering(t *testing.T) {
	ctx := context.Background()
	q := workerfsm.NewInvocationQueue(memstore.NewKV())
	componentId := golem.ComponentId{UUID: uuid.New()}

	inv1 := workerfsm.Invocation{WorkerId: golem.WorkerId{ComponentId: componentId, WorkerName: "w1"}, FunctionName: "a", IdempotencyKey: golem.IdempotencyKey{Value: "k1"}}
	inv2 := workerfsm.Invocation{WorkerId: golem.WorkerId{ComponentId: componentId, WorkerName: "w1"}, FunctionName: "b", IdempotencyKey: golem.IdempotencyKey{Value: "k2"}}

	require.NoError(t, q.Enqueue(ctx, inv1, 100))
	require.NoError(t, q.Enqueue(ctx, inv2, 200))

	first, ok, err := q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", first.FunctionName)

	second, ok, err := q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", second.FunctionName)

	_, ok, err = q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvocationQueueKeylessInvocationsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	q := workerfsm.NewInvocationQueue(memstore.NewKV())
	componentId := golem.ComponentId{UUID: uuid.New()}

	inv1 := workerfsm.Invocation{WorkerId: golem.WorkerId{ComponentId: componentId, WorkerName: "w1"}, FunctionName: "fire-and-forget-1"}
	inv2 := workerfsm.Invocation{WorkerId: golem.WorkerId{ComponentId: componentId, WorkerName: "w2"}, FunctionName: "fire-and-forget-2"}

	require.NoError(t, q.Enqueue(ctx, inv1, 100))
	require.NoError(t, q.Enqueue(ctx, inv2, 200))

	first, ok, err := q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fire-and-forget-1", first.FunctionName)

	second, ok, err := q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fire-and-forget-2", second.FunctionName)
}

func TestInvocationQueueSameIdempotencyKeyDifferentWorkersDoNotCollide(t *testing.T) {
	ctx := context.Background()
	q := workerfsm.NewInvocationQueue(memstore.NewKV())
	componentId := golem.ComponentId{UUID: uuid.New()}

	// Two distinct workers of the same component reusing the literal key
	// string "shared" is legal: §3/§4.5 only guarantee uniqueness per
	// worker, not per component.
	inv1 := workerfsm.Invocation{WorkerId: golem.WorkerId{ComponentId: componentId, WorkerName: "w1"}, FunctionName: "a", IdempotencyKey: golem.IdempotencyKey{Value: "shared"}}
	inv2 := workerfsm.Invocation{WorkerId: golem.WorkerId{ComponentId: componentId, WorkerName: "w2"}, FunctionName: "b", IdempotencyKey: golem.IdempotencyKey{Value: "shared"}}

	require.NoError(t, q.Enqueue(ctx, inv1, 100))
	require.NoError(t, q.Enqueue(ctx, inv2, 200))

	first, ok, err := q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", first.FunctionName)

	second, ok, err := q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", second.FunctionName)
}

func TestInvocationQueueDedupesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	q := workerfsm.NewInvocationQueue(memstore.NewKV())
	componentId := golem.ComponentId{UUID: uuid.New()}

	inv := workerfsm.Invocation{WorkerId: golem.WorkerId{ComponentId: componentId, WorkerName: "w1"}, FunctionName: "a", IdempotencyKey: golem.IdempotencyKey{Value: "dup"}}

	require.NoError(t, q.Enqueue(ctx, inv, 100))
	_, ok, err := q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	require.True(t, ok)

	// A retried enqueue with the same idempotency key after delivery must
	// not be redelivered.
	require.NoError(t, q.Enqueue(ctx, inv, 150))
	_, ok, err = q.Dequeue(ctx, componentId)
	require.NoError(t, err)
	assert.False(t, ok)
}
