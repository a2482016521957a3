package shardmanager

import (
	"context"
	"encoding/json"

	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/storage"
)

// Persistence durably stores the routing table so a restarted shard manager
// doesn't have to rebuild it from scratch by waiting for every pod to
// re-register. It is the Go counterpart of the original's
// RoutingTablePersistence trait, implemented here over storage.KVStore so
// any of the pack's KV backends (Redis, bbolt, SQLite, Postgres) can serve
// it interchangeably -- the original only offered Redis or a flat file.
type Persistence interface {
	Read(ctx context.Context) (RoutingTable, error)
	Write(ctx context.Context, table RoutingTable) error
}

const routingTableKey = "current"

// KVPersistence adapts any storage.KVStore into a Persistence.
type KVPersistence struct {
	kv             storage.KVStore
	numberOfShards int
}

// NewKVPersistence wraps kv as routing-table persistence. numberOfShards
// seeds a fresh, empty table the first time Read is called against a store
// that has never been written to.
func NewKVPersistence(kv storage.KVStore, numberOfShards int) *KVPersistence {
	return &KVPersistence{kv: kv, numberOfShards: numberOfShards}
}

func (p *KVPersistence) Read(ctx context.Context) (RoutingTable, error) {
	raw, err := p.kv.Get(ctx, string(storage.NamespaceRoutingTable), routingTableKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return NewRoutingTable(p.numberOfShards), nil
		}
		return RoutingTable{}, golemerr.Internal(err, "read routing table")
	}
	var table RoutingTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return RoutingTable{}, golemerr.Internal(err, "decode routing table")
	}
	return table, nil
}

func (p *KVPersistence) Write(ctx context.Context, table RoutingTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return golemerr.Internal(err, "encode routing table")
	}
	if err := p.kv.Set(ctx, string(storage.NamespaceRoutingTable), routingTableKey, raw); err != nil {
		return golemerr.Internal(err, "write routing table")
	}
	return nil
}
