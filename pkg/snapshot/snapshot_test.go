package snapshot_test

import (
	"context"
	"testing"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/snapshot"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	captured []byte
	restored []byte
}

func (p *fakeProvider) Capture(ctx context.Context, owned golem.OwnedWorkerId) ([]byte, error) {
	return []byte("linear-memory-bytes"), nil
}

func (p *fakeProvider) Restore(ctx context.Context, owned golem.OwnedWorkerId, state []byte) error {
	p.restored = state
	return nil
}

func testOwner() golem.OwnedWorkerId {
	return golem.OwnedWorkerId{WorkerId: golem.WorkerId{WorkerName: "w1"}}
}

func TestTakeThenRestoreRoundTrips(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	store := snapshot.NewStore(memstore.NewBlob(), provider)
	owned := testOwner()

	require.NoError(t, store.Take(ctx, owned, 42, snapshot.TriggerExplicit))

	idx, err := store.Restore(ctx, owned)
	require.NoError(t, err)
	assert.EqualValues(t, 42, idx)
	assert.Equal(t, []byte("linear-memory-bytes"), provider.restored)
}

func TestRestoreWithoutSnapshotReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewStore(memstore.NewBlob(), &fakeProvider{})
	_, err := store.Restore(ctx, testOwner())
	require.Error(t, err)
}

func TestPolicyTriggersEveryNInvocations(t *testing.T) {
	p := snapshot.Policy{EveryNInvocations: 10}
	assert.False(t, p.ShouldSnapshotOnInvocation(9))
	assert.True(t, p.ShouldSnapshotOnInvocation(10))
	assert.False(t, p.ShouldSnapshotOnInvocation(15))
	assert.True(t, p.ShouldSnapshotOnInvocation(20))

	disabled := snapshot.Policy{}
	assert.False(t, disabled.ShouldSnapshotOnInvocation(100))
}
