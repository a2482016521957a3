package raftpersist_test

import (
	"context"
	"testing"
	"time"

	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/golem-go/golem/pkg/shardmanager/raftpersist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapSingleNodeBecomesLeaderAndAcceptsWrites(t *testing.T) {
	p, err := raftpersist.New(raftpersist.Config{
		NodeID:         "node-1",
		BindAddr:       "127.0.0.1:17831",
		DataDir:        t.TempDir(),
		NumberOfShards: 4,
	})
	require.NoError(t, err)
	require.NoError(t, p.Bootstrap())
	defer p.Shutdown()

	require.Eventually(t, p.IsLeader, 5*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	table := shardmanager.NewRoutingTable(4)
	table.Assignments[0] = shardmanager.Pod{Host: "10.0.0.1", Port: 9000}
	require.NoError(t, p.Write(ctx, table))

	got, err := p.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, table.Assignments[0], got.Assignments[0])
}

func TestWriteBeforeLeadershipIsEstablishedFails(t *testing.T) {
	p, err := raftpersist.New(raftpersist.Config{
		NodeID:         "node-1",
		BindAddr:       "127.0.0.1:17832",
		DataDir:        t.TempDir(),
		NumberOfShards: 4,
	})
	require.NoError(t, err)

	ctx := context.Background()
	err = p.Write(ctx, shardmanager.NewRoutingTable(4))
	require.Error(t, err)
}
