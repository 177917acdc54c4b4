package poolmgr

import (
	"context"
	"hash/crc32"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/fabrickv/internal/domain"
)

func init() {
	Register("rediscache", func(cfg map[string]string) (PoolManager, error) {
		addr := cfg["addr"]
		if addr == "" {
			addr = "localhost:6379"
		}
		return NewRedisCache(addr, cfg["password"], 0), nil
	})
}

const redisPoolKeyPrefix = "fabrickv:pool:"

// RedisCache is a supplemental PoolManager (not present in the system
// this was distilled from): records live as entries of a Redis hash, one
// hash per pool. It is selected by name like any other backend; requests
// carrying the short-circuit bit (wire.ResvdSCBE) are not routed to it.
type RedisCache struct {
	client *redis.Client

	mu    sync.Mutex
	pools map[domain.PoolID]string // id -> hash key
	names map[string]domain.PoolID
	next  uint64
}

func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisCache{client: client, pools: make(map[domain.PoolID]string), names: make(map[string]domain.PoolID)}
}

func (r *RedisCache) Shutdown() error { return r.client.Close() }

func (r *RedisCache) CreateCheck(size uint64) error { return nil }
func (r *RedisCache) CloseCheck(path string) error  { return nil }

func (r *RedisCache) Create(ctx context.Context, path string, size uint64, flags domain.Flags, expectedCount uint64) (domain.PoolID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.names[path]; ok {
		if flags&domain.FlagCreateExclusive != 0 {
			return domain.PoolError, domain.ErrPoolFail
		}
		return id, nil
	}
	r.next++
	id := domain.PoolID(r.next)
	hashKey := redisPoolKeyPrefix + path
	r.pools[id] = hashKey
	r.names[path] = id
	return id, nil
}

func (r *RedisCache) Open(ctx context.Context, path string, flags domain.Flags) (domain.PoolID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.names[path]
	if !ok {
		return domain.PoolError, domain.ErrPoolNotFound
	}
	return id, nil
}

func (r *RedisCache) Close(ctx context.Context, id domain.PoolID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[id]; !ok {
		return domain.ErrPoolNotFound
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, path string) error {
	r.mu.Lock()
	id, ok := r.names[path]
	if !ok {
		r.mu.Unlock()
		return domain.ErrPoolNotFound
	}
	hashKey := r.pools[id]
	delete(r.names, path)
	delete(r.pools, id)
	r.mu.Unlock()

	if err := r.client.Del(ctx, hashKey).Err(); err != nil {
		return domain.ErrRegionFailGeneral
	}
	return nil
}

func (r *RedisCache) Regions(ctx context.Context, id domain.PoolID) ([]domain.IOVec, error) {
	r.mu.Lock()
	_, ok := r.pools[id]
	r.mu.Unlock()
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	return nil, nil
}

func (r *RedisCache) hashKeyOf(id domain.PoolID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hashKey, ok := r.pools[id]
	if !ok {
		return "", domain.ErrPoolNotFound
	}
	return hashKey, nil
}

func (r *RedisCache) Put(ctx context.Context, id domain.PoolID, key, value []byte, flags domain.Flags) error {
	hashKey, err := r.hashKeyOf(id)
	if err != nil {
		return err
	}
	if flags&domain.FlagReplace != 0 {
		if err := r.client.HSet(ctx, hashKey, string(key), value).Err(); err != nil {
			return domain.ErrPoolFail
		}
		return nil
	}
	created, err := r.client.HSetNX(ctx, hashKey, string(key), value).Result()
	if err != nil {
		return domain.ErrPoolFail
	}
	if !created {
		return domain.ErrKeyExists
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, id domain.PoolID, key []byte) ([]byte, error) {
	hashKey, err := r.hashKeyOf(id)
	if err != nil {
		return nil, err
	}
	value, err := r.client.HGet(ctx, hashKey, string(key)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, domain.ErrPoolFail
	}
	return value, nil
}

func (r *RedisCache) Erase(ctx context.Context, id domain.PoolID, key []byte) error {
	hashKey, err := r.hashKeyOf(id)
	if err != nil {
		return err
	}
	n, err := r.client.HDel(ctx, hashKey, string(key)).Result()
	if err != nil {
		return domain.ErrPoolFail
	}
	if n == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}

func (r *RedisCache) Count(ctx context.Context, id domain.PoolID) (uint64, error) {
	hashKey, err := r.hashKeyOf(id)
	if err != nil {
		return 0, err
	}
	n, err := r.client.HLen(ctx, hashKey).Result()
	if err != nil {
		return 0, domain.ErrPoolFail
	}
	return uint64(n), nil
}

func (r *RedisCache) CRC32(ctx context.Context, id domain.PoolID) (uint32, error) {
	hashKey, err := r.hashKeyOf(id)
	if err != nil {
		return 0, err
	}
	all, err := r.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return 0, domain.ErrPoolFail
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sum := crc32.NewIEEE()
	for _, k := range keys {
		sum.Write([]byte(all[k]))
	}
	return sum.Sum32(), nil
}

func (r *RedisCache) FindKey(ctx context.Context, id domain.PoolID, offset uint64) ([]byte, uint64, error) {
	hashKey, err := r.hashKeyOf(id)
	if err != nil {
		return nil, 0, err
	}
	all, err := r.client.HKeys(ctx, hashKey).Result()
	if err != nil {
		return nil, offset, domain.ErrPoolFail
	}
	sort.Strings(all)
	if offset >= uint64(len(all)) {
		return nil, offset, domain.ErrKeyNotFound
	}
	return []byte(all[offset]), offset + 1, nil
}
