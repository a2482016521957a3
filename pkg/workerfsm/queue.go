package workerfsm

import (
	"context"
	"encoding/json"
	"math"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/storage"
	"github.com/google/uuid"
)

// Invocation is one pending guest-exported function call waiting to be
// delivered to a worker.
type Invocation struct {
	WorkerId       golem.WorkerId       `json:"worker_id"`
	FunctionName   string               `json:"function_name"`
	Request        []byte               `json:"request"`
	IdempotencyKey golem.IdempotencyKey `json:"idempotency_key"`
	EnqueuedAtNano int64                `json:"enqueued_at_nano"`
}

// InvocationQueue is a per-component FIFO of pending invocations, backed by
// a KVStore sorted set scored by enqueue time so a worker executor can pop
// invocations in arrival order. Idempotency keys already present in the
// queue are silently deduplicated, mirroring the at-least-once RPC delivery
// golem-worker-executor's invocation queue is built to absorb.
type InvocationQueue struct {
	kv storage.KVStore
}

// NewInvocationQueue wraps a KVStore as an invocation queue.
func NewInvocationQueue(kv storage.KVStore) *InvocationQueue {
	return &InvocationQueue{kv: kv}
}

func queueKey(componentId golem.ComponentId) string {
	return componentId.UUID.String()
}

// dedupMember folds a worker id and an idempotency-key value into the
// string used both as the sorted-set member and as the suffix of the item/
// seen KV keys. Idempotency keys are only unique per worker (§3, §4.5), so
// two different worker instances of the same component are free to reuse
// the same key string; folding the full WorkerId in keeps those two
// workers' queue entries from colliding on the same member even though
// they share one component-scoped sorted set.
func dedupMember(workerId golem.WorkerId, idempotencyKey string) string {
	return workerId.String() + ":" + idempotencyKey
}

// itemStorageKey and seenStorageKey scope a queue entry's KV storage key by
// its already worker-scoped member string.
func itemStorageKey(member string) string {
	return "item:" + member
}

func seenStorageKey(member string) string {
	return "seen:" + member
}

// Enqueue adds inv to its component's queue unless an invocation with the
// same idempotency key is already queued or already recorded as seen for
// that worker. A keyless invocation (§4.5's fire-and-forget invoke) is
// never deduplicated: it is given a fresh synthetic member so it can't
// collide with any other pending invocation, keyed or not.
func (q *InvocationQueue) Enqueue(ctx context.Context, inv Invocation, enqueuedAtUnixNano int64) error {
	componentId := inv.WorkerId.ComponentId
	key := queueKey(componentId)

	var member string
	if inv.IdempotencyKey.Value == "" {
		member = dedupMember(inv.WorkerId, uuid.NewString())
	} else {
		member = dedupMember(inv.WorkerId, inv.IdempotencyKey.Value)
		seenKey := seenStorageKey(member)
		if _, err := q.kv.Get(ctx, string(storage.NamespaceInvocationQueue), seenKey); err == nil {
			return nil // already delivered once; at-least-once caller retried
		} else if err != storage.ErrNotFound {
			return golemerr.Internal(err, "check idempotency for invocation %s", member)
		}
	}

	inv.EnqueuedAtNano = enqueuedAtUnixNano
	raw, err := json.Marshal(inv)
	if err != nil {
		return golemerr.Internal(err, "encode invocation %s", member)
	}
	if err := q.kv.Set(ctx, string(storage.NamespaceInvocationQueue), itemStorageKey(member), raw); err != nil {
		return golemerr.Internal(err, "store invocation %s", member)
	}
	if err := q.kv.SortedSetAdd(ctx, string(storage.NamespaceInvocationQueue), key, member, float64(enqueuedAtUnixNano)); err != nil {
		return golemerr.Internal(err, "enqueue invocation %s", member)
	}
	metrics.InvocationQueueDepth.WithLabelValues(key).Inc()
	return nil
}

// Dequeue pops the oldest pending invocation for componentId, or returns
// ok=false if the queue is empty.
func (q *InvocationQueue) Dequeue(ctx context.Context, componentId golem.ComponentId) (Invocation, bool, error) {
	key := queueKey(componentId)
	members, err := q.kv.SortedSetRange(ctx, string(storage.NamespaceInvocationQueue), key, math.Inf(-1), math.Inf(1))
	if err != nil {
		return Invocation{}, false, golemerr.Internal(err, "range invocation queue for %s", componentId.UUID)
	}
	if len(members) == 0 {
		return Invocation{}, false, nil
	}
	member := members[0] // SortedSetRange returns members in ascending score order

	raw, err := q.kv.Get(ctx, string(storage.NamespaceInvocationQueue), itemStorageKey(member))
	if err != nil {
		return Invocation{}, false, golemerr.Internal(err, "read invocation %s", member)
	}
	var inv Invocation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invocation{}, false, golemerr.Internal(err, "decode invocation %s", member)
	}

	if err := q.kv.SortedSetRemove(ctx, string(storage.NamespaceInvocationQueue), key, member); err != nil {
		return Invocation{}, false, golemerr.Internal(err, "remove invocation %s from queue", member)
	}
	if err := q.kv.Delete(ctx, string(storage.NamespaceInvocationQueue), itemStorageKey(member)); err != nil {
		return Invocation{}, false, golemerr.Internal(err, "delete invocation %s", member)
	}
	if err := q.kv.Set(ctx, string(storage.NamespaceInvocationQueue), seenStorageKey(member), []byte{1}); err != nil {
		return Invocation{}, false, golemerr.Internal(err, "mark invocation %s seen", member)
	}
	metrics.InvocationQueueDepth.WithLabelValues(key).Dec()
	return inv, true, nil
}
