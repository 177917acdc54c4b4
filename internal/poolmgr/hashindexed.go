package poolmgr

import (
	"context"
	"fmt"
	"hash/crc32"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/fabrickv/internal/cache"
	"github.com/oriys/fabrickv/internal/domain"
)

// cacheTTL bounds how long a Get result may be served from the read
// cache without a corresponding invalidation; it is a backstop, not the
// primary consistency mechanism (that's CacheInvalidator).
const cacheTTL = 30 * time.Second

func init() {
	Register("hashindexed", func(cfg map[string]string) (PoolManager, error) {
		dsn := cfg["dsn"]
		if dsn == "" {
			return nil, fmt.Errorf("hashindexed backend requires a postgres dsn")
		}
		return NewHashIndexed(context.Background(), dsn)
	})
}

// tableNamePattern restricts pool names admitted into a SQL identifier:
// Postgres table names built from caller-supplied pool names must not be
// allowed to carry attacker-controlled SQL.
var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// HashIndexed is a pgx-backed PoolManager standing in for the source's
// hstore backend: each pool is one Postgres table (key bytea primary key,
// value bytea), with COUNT/CRC32 attribute queries answered by SQL
// aggregates rather than an in-process scan.
type HashIndexed struct {
	pool  *pgxpool.Pool
	cache cache.Cache // optional read-through cache fronting Postgres; nil disables it

	mu    sync.Mutex
	pools map[domain.PoolID]string // id -> table name
	names map[string]domain.PoolID
	next  uint64
}

func NewHashIndexed(ctx context.Context, dsn string) (*HashIndexed, error) {
	return newHashIndexed(ctx, dsn, nil)
}

// NewHashIndexedWithCache wires an L1/L2 (or any cache.Cache) read cache in
// front of Get, filled on a miss and invalidated on a replacing Put and on
// Erase. Evictions are local to this instance: nothing here publishes
// them to other daemon instances.
func NewHashIndexedWithCache(ctx context.Context, dsn string, c cache.Cache) (*HashIndexed, error) {
	return newHashIndexed(ctx, dsn, c)
}

func newHashIndexed(ctx context.Context, dsn string, c cache.Cache) (*HashIndexed, error) {
	pgxp, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("hashindexed: create pool: %w", err)
	}
	if err := pgxp.Ping(ctx); err != nil {
		pgxp.Close()
		return nil, fmt.Errorf("hashindexed: ping: %w", err)
	}
	return &HashIndexed{pool: pgxp, cache: c, pools: make(map[domain.PoolID]string), names: make(map[string]domain.PoolID)}, nil
}

// Shutdown closes the underlying connection pool and read cache, if any.
// Call once at daemon exit.
func (h *HashIndexed) Shutdown() {
	h.pool.Close()
	if h.cache != nil {
		h.cache.Close()
	}
}

func (h *HashIndexed) cacheKey(table string, key []byte) string {
	return table + ":" + string(key)
}

func (h *HashIndexed) CreateCheck(size uint64) error {
	if size == 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (h *HashIndexed) CloseCheck(path string) error { return nil }

func tableFor(path string) (string, error) {
	name := "pool_" + path
	if !tableNamePattern.MatchString(name) {
		return "", domain.ErrInvalidArgument
	}
	return name, nil
}

func (h *HashIndexed) Create(ctx context.Context, path string, size uint64, flags domain.Flags, expectedCount uint64) (domain.PoolID, error) {
	if err := h.CreateCheck(size); err != nil {
		return domain.PoolError, err
	}
	table, err := tableFor(path)
	if err != nil {
		return domain.PoolError, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.names[path]; exists {
		if flags&domain.FlagCreateExclusive != 0 {
			return domain.PoolError, domain.ErrPoolFail
		}
		return h.names[path], nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key bytea PRIMARY KEY, value bytea NOT NULL)`, table)
	if _, err := h.pool.Exec(ctx, ddl); err != nil {
		return domain.PoolError, domain.ErrRegionFailGeneral
	}

	h.next++
	id := domain.PoolID(h.next)
	h.pools[id] = table
	h.names[path] = id
	return id, nil
}

func (h *HashIndexed) Open(ctx context.Context, path string, flags domain.Flags) (domain.PoolID, error) {
	h.mu.Lock()
	if id, ok := h.names[path]; ok {
		h.mu.Unlock()
		return id, nil
	}
	h.mu.Unlock()

	table, err := tableFor(path)
	if err != nil {
		return domain.PoolError, err
	}
	var exists bool
	err = h.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
	if err != nil || !exists {
		return domain.PoolError, domain.ErrPoolNotFound
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := domain.PoolID(h.next)
	h.pools[id] = table
	h.names[path] = id
	return id, nil
}

func (h *HashIndexed) Close(ctx context.Context, id domain.PoolID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pools[id]; !ok {
		return domain.ErrPoolNotFound
	}
	return nil
}

func (h *HashIndexed) Delete(ctx context.Context, path string) error {
	table, err := tableFor(path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	id, existed := h.names[path]
	if existed {
		delete(h.names, path)
		delete(h.pools, id)
	}
	h.mu.Unlock()
	if !existed {
		return domain.ErrPoolNotFound
	}
	if _, err := h.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return domain.ErrRegionFailGeneral
	}
	return nil
}

func (h *HashIndexed) Regions(ctx context.Context, id domain.PoolID) ([]domain.IOVec, error) {
	// A hash-indexed pool has no contiguous backing memory to expose for
	// zero-copy RDMA; an empty slice signals "inline transfer only" to
	// the responder (spec §4.2's regions() contract).
	h.mu.Lock()
	_, ok := h.pools[id]
	h.mu.Unlock()
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	return nil, nil
}

func (h *HashIndexed) tableOf(id domain.PoolID) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	table, ok := h.pools[id]
	if !ok {
		return "", domain.ErrPoolNotFound
	}
	return table, nil
}

func (h *HashIndexed) Put(ctx context.Context, id domain.PoolID, key, value []byte, flags domain.Flags) error {
	table, err := h.tableOf(id)
	if err != nil {
		return err
	}
	if flags&domain.FlagReplace != 0 {
		_, err := h.pool.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, table),
			key, value)
		if err != nil {
			return domain.ErrPoolFail
		}
		h.invalidate(ctx, table, key)
		return nil
	}
	_, err = h.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)`, table), key, value)
	if err != nil {
		return domain.ErrKeyExists
	}
	return nil
}

func (h *HashIndexed) Get(ctx context.Context, id domain.PoolID, key []byte) ([]byte, error) {
	table, err := h.tableOf(id)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		if v, err := h.cache.Get(ctx, h.cacheKey(table, key)); err == nil {
			return v, nil
		}
	}
	var value []byte
	err = h.pool.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, table), key).Scan(&value)
	if err != nil {
		return nil, domain.ErrKeyNotFound
	}
	if h.cache != nil {
		_ = h.cache.Set(ctx, h.cacheKey(table, key), value, cacheTTL)
	}
	return value, nil
}

func (h *HashIndexed) Erase(ctx context.Context, id domain.PoolID, key []byte) error {
	table, err := h.tableOf(id)
	if err != nil {
		return err
	}
	tag, err := h.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table), key)
	if err != nil {
		return domain.ErrPoolFail
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrKeyNotFound
	}
	h.invalidate(ctx, table, key)
	return nil
}

// invalidate evicts key from the local read cache only; it publishes
// nothing to other daemon instances.
func (h *HashIndexed) invalidate(ctx context.Context, table string, key []byte) {
	if h.cache != nil {
		_ = h.cache.Delete(ctx, h.cacheKey(table, key))
	}
}

func (h *HashIndexed) Count(ctx context.Context, id domain.PoolID) (uint64, error) {
	table, err := h.tableOf(id)
	if err != nil {
		return 0, err
	}
	var count uint64
	if err := h.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		return 0, domain.ErrPoolFail
	}
	return count, nil
}

func (h *HashIndexed) CRC32(ctx context.Context, id domain.PoolID) (uint32, error) {
	table, err := h.tableOf(id)
	if err != nil {
		return 0, err
	}
	rows, err := h.pool.Query(ctx, fmt.Sprintf(`SELECT value FROM %s ORDER BY key`, table))
	if err != nil {
		return 0, domain.ErrPoolFail
	}
	defer rows.Close()
	sum := crc32.NewIEEE()
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return 0, domain.ErrPoolFail
		}
		sum.Write(v)
	}
	return sum.Sum32(), nil
}

func (h *HashIndexed) FindKey(ctx context.Context, id domain.PoolID, offset uint64) ([]byte, uint64, error) {
	table, err := h.tableOf(id)
	if err != nil {
		return nil, 0, err
	}
	var key []byte
	err = h.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT key FROM %s ORDER BY key OFFSET $1 LIMIT 1`, table), offset).Scan(&key)
	if err != nil {
		return nil, offset, domain.ErrKeyNotFound
	}
	return key, offset + 1, nil
}
