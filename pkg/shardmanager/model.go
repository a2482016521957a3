// Package shardmanager assigns workers to worker-executor pods by hashing
// WorkerId into a fixed shard space and routing each shard to exactly one
// healthy pod. It is grounded on original_source/golem-shard-manager's
// lib.rs (ShardManagerServiceImpl/ShardManagement/Pod/RoutingTable) and, for
// its Go idiom (ticker-driven health loop, mutex-guarded in-memory state,
// zerolog/prometheus wiring), on the teacher's pkg/health and pkg/scheduler.
package shardmanager

import (
	"fmt"
	"hash/fnv"

	"github.com/golem-go/golem/pkg/golem"
)

// Pod identifies one worker-executor process this shard manager can route
// shards to.
type Pod struct {
	Host string
	Port int
}

func (p Pod) String() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

// RoutingTable maps every shard in [0, NumberOfShards) to the pod currently
// responsible for it. A shard with no entry is unassigned.
type RoutingTable struct {
	NumberOfShards int
	Assignments    map[golem.ShardId]Pod
}

// NewRoutingTable returns an empty table over numberOfShards shards.
func NewRoutingTable(numberOfShards int) RoutingTable {
	return RoutingTable{NumberOfShards: numberOfShards, Assignments: make(map[golem.ShardId]Pod)}
}

// Clone returns a deep copy, used so callers can hand out a routing table
// snapshot without a reader racing a concurrent rebalance.
func (t RoutingTable) Clone() RoutingTable {
	out := NewRoutingTable(t.NumberOfShards)
	for shard, pod := range t.Assignments {
		out.Assignments[shard] = pod
	}
	return out
}

// Pods returns the distinct set of pods currently holding at least one
// shard.
func (t RoutingTable) Pods() []Pod {
	seen := make(map[Pod]struct{})
	var out []Pod
	for _, pod := range t.Assignments {
		if _, ok := seen[pod]; !ok {
			seen[pod] = struct{}{}
			out = append(out, pod)
		}
	}
	return out
}

// ShardOf hashes a WorkerId into the table's shard space. The hash must be
// stable across processes and Go versions, so it uses FNV-1a over the
// WorkerId's string form rather than Go's randomized map/string hashing.
func (t RoutingTable) ShardOf(workerId golem.WorkerId) golem.ShardId {
	h := fnv.New64a()
	_, _ = h.Write([]byte(workerId.String()))
	return golem.ShardId(h.Sum64() % uint64(t.NumberOfShards))
}

// PodFor returns the pod responsible for workerId's shard, or ok=false if
// that shard is currently unassigned.
func (t RoutingTable) PodFor(workerId golem.WorkerId) (Pod, bool) {
	pod, ok := t.Assignments[t.ShardOf(workerId)]
	return pod, ok
}

// UnassignedCount returns how many shards have no pod.
func (t RoutingTable) UnassignedCount() int {
	n := 0
	for shard := golem.ShardId(0); int(shard) < t.NumberOfShards; shard++ {
		if _, ok := t.Assignments[shard]; !ok {
			n++
		}
	}
	return n
}
