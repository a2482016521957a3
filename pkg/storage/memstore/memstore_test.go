package memstore_test

import (
	"context"
	"testing"

	"github.com/golem-go/golem/pkg/storage"
	"github.com/golem-go/golem/pkg/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexedAppendAndRead(t *testing.T) {
	ctx := context.Background()
	idx := memstore.NewIndexed()

	n1, err := idx.Append(ctx, "oplog", "worker-1", []byte("entry-1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n1)

	n2, err := idx.Append(ctx, "oplog", "worker-1", []byte("entry-2"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n2)

	v, err := idx.Read(ctx, "oplog", "worker-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "entry-1", string(v))

	length, err := idx.Length(ctx, "oplog", "worker-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, length)

	_, err = idx.Read(ctx, "oplog", "worker-1", 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	values, err := idx.ReadRange(ctx, "oplog", "worker-1", 1, 2)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "entry-2", string(values[1]))
}

func TestIndexedDeleteKeyIsolatesOtherKeys(t *testing.T) {
	ctx := context.Background()
	idx := memstore.NewIndexed()

	_, _ = idx.Append(ctx, "oplog", "a", []byte("x"))
	_, _ = idx.Append(ctx, "oplog", "b", []byte("y"))

	require.NoError(t, idx.DeleteKey(ctx, "oplog", "a"))

	exists, err := idx.Exists(ctx, "oplog", "a")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = idx.Exists(ctx, "oplog", "b")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestKVCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	kv := memstore.NewKV()

	// CAS against a missing key with an empty expected value creates it.
	require.NoError(t, kv.CompareAndSwap(ctx, "status", "w1", nil, []byte("v1")))

	v, err := kv.Get(ctx, "status", "w1")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))

	// Mismatched expected value is rejected.
	err = kv.CompareAndSwap(ctx, "status", "w1", []byte("wrong"), []byte("v2"))
	assert.ErrorIs(t, err, storage.ErrCASMismatch)

	// Correct expected value succeeds.
	require.NoError(t, kv.CompareAndSwap(ctx, "status", "w1", []byte("v1"), []byte("v2")))
	v, err = kv.Get(ctx, "status", "w1")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(v))
}

func TestKVSortedSetRangeOrdersByScore(t *testing.T) {
	ctx := context.Background()
	kv := memstore.NewKV()

	require.NoError(t, kv.SortedSetAdd(ctx, "queue", "shard-1", "inv-c", 3))
	require.NoError(t, kv.SortedSetAdd(ctx, "queue", "shard-1", "inv-a", 1))
	require.NoError(t, kv.SortedSetAdd(ctx, "queue", "shard-1", "inv-b", 2))

	members, err := kv.SortedSetRange(ctx, "queue", "shard-1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-a", "inv-b", "inv-c"}, members)

	require.NoError(t, kv.SortedSetRemove(ctx, "queue", "shard-1", "inv-b"))
	members, err = kv.SortedSetRange(ctx, "queue", "shard-1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-a", "inv-c"}, members)
}

func TestBlobPutGetDelete(t *testing.T) {
	ctx := context.Background()
	blob := memstore.NewBlob()

	require.NoError(t, blob.Put(ctx, "components", "c1.wasm", []byte{0x00, 0x61, 0x73, 0x6d}))

	data, err := blob.Get(ctx, "components", "c1.wasm")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d}, data)

	require.NoError(t, blob.Delete(ctx, "components", "c1.wasm"))
	exists, err := blob.Exists(ctx, "components", "c1.wasm")
	require.NoError(t, err)
	assert.False(t, exists)
}
