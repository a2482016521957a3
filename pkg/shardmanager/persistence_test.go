package shardmanager_test

import (
	"context"
	"testing"

	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVPersistenceReadSeedsEmptyTableWhenUnwritten(t *testing.T) {
	ctx := context.Background()
	p := shardmanager.NewKVPersistence(memstore.NewKV(), 12)

	table, err := p.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, table.NumberOfShards)
	assert.Empty(t, table.Assignments)
}

func TestKVPersistenceWriteThenReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	p := shardmanager.NewKVPersistence(memstore.NewKV(), 4)

	table := shardmanager.NewRoutingTable(4)
	table.Assignments[2] = shardmanager.Pod{Host: "10.0.0.5", Port: 9001}
	require.NoError(t, p.Write(ctx, table))

	got, err := p.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, table.NumberOfShards, got.NumberOfShards)
	assert.Equal(t, table.Assignments[2], got.Assignments[2])
}
