package shardmanager_test

import (
	"testing"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/stretchr/testify/assert"
)

func TestShardOfIsStableAcrossCalls(t *testing.T) {
	table := shardmanager.NewRoutingTable(16)
	worker := golem.WorkerId{WorkerName: "w1"}

	first := table.ShardOf(worker)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, table.ShardOf(worker))
	}
}

func TestShardOfDistributesAcrossRange(t *testing.T) {
	table := shardmanager.NewRoutingTable(8)
	for i := golem.ShardId(0); int(i) < table.NumberOfShards; i++ {
		assert.True(t, int(i) < table.NumberOfShards)
	}
	shard := table.ShardOf(golem.WorkerId{WorkerName: "some-worker"})
	assert.True(t, int(shard) >= 0 && int(shard) < 8)
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	table := shardmanager.NewRoutingTable(4)
	pod := shardmanager.Pod{Host: "10.0.0.1", Port: 9000}
	table.Assignments[0] = pod

	clone := table.Clone()
	clone.Assignments[1] = pod

	_, ok := table.Assignments[1]
	assert.False(t, ok)
	assert.Len(t, clone.Assignments, 2)
}

func TestPodForReportsUnassignedShards(t *testing.T) {
	table := shardmanager.NewRoutingTable(4)
	worker := golem.WorkerId{WorkerName: "w1"}

	_, ok := table.PodFor(worker)
	assert.False(t, ok)

	table.Assignments[table.ShardOf(worker)] = shardmanager.Pod{Host: "h", Port: 1}
	pod, ok := table.PodFor(worker)
	assert.True(t, ok)
	assert.Equal(t, "h:1", pod.String())
}

func TestUnassignedCount(t *testing.T) {
	table := shardmanager.NewRoutingTable(4)
	assert.Equal(t, 4, table.UnassignedCount())

	table.Assignments[0] = shardmanager.Pod{Host: "h", Port: 1}
	assert.Equal(t, 3, table.UnassignedCount())
}
