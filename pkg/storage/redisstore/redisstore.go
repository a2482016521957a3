// Package redisstore implements storage.KVStore (and the sorted-set
// primitive it exposes) on top of github.com/redis/go-redis/v9. Through
// shardmanager.NewKVPersistence it can hold the shard manager's routing
// table, grounded on the original implementation's
// RoutingTableRedisPersistence (golem-shard-manager's persistence module)
// and on the redis usage pattern pulled from the jordigilh-kubernaut
// example; cmd/shard-manager itself persists its routing table through
// boltstore.
package redisstore

import (
	"context"
	"fmt"

	"github.com/golem-go/golem/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements storage.KVStore over a Redis client. Namespaces and
// keys are joined into Redis keys with a colon, the idiomatic Redis
// separator.
type Store struct {
	client *redis.Client
}

// Open connects to a Redis server at addr.
func Open(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Store{client: client}, nil
}

func redisKey(namespace, key string) string { return namespace + ":" + key }

func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	return s.client.Set(ctx, redisKey(namespace, key), value, 0).Err()
}

// compareAndSwap is implemented with a Lua script so the read-compare-write
// is atomic against concurrent writers, the same guarantee bbolt/sqlite get
// for free from their transactions.
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
	if #ARGV[1] == 0 then
		redis.call("SET", KEYS[1], ARGV[2])
		return 1
	end
	return 0
end
if cur ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`)

func (s *Store) CompareAndSwap(ctx context.Context, namespace, key string, expected, value []byte) error {
	ok, err := casScript.Run(ctx, s.client, []string{redisKey(namespace, key)}, string(expected), string(value)).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return storage.ErrCASMismatch
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	return s.client.Del(ctx, redisKey(namespace, key)).Err()
}

func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, namespace+":*", 0).Iterator()
	prefixLen := len(namespace) + 1
	for iter.Next(ctx) {
		out = append(out, iter.Val()[prefixLen:])
	}
	return out, iter.Err()
}

func (s *Store) SortedSetAdd(ctx context.Context, namespace, key, member string, score float64) error {
	return s.client.ZAdd(ctx, redisKey(namespace, key), redis.Z{Score: score, Member: member}).Err()
}

func (s *Store) SortedSetRemove(ctx context.Context, namespace, key, member string) error {
	return s.client.ZRem(ctx, redisKey(namespace, key), member).Err()
}

func (s *Store) SortedSetRange(ctx context.Context, namespace, key string, min, max float64) ([]string, error) {
	return s.client.ZRangeByScore(ctx, redisKey(namespace, key), &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

func (s *Store) Close() error { return s.client.Close() }

var _ storage.KVStore = (*Store)(nil)
