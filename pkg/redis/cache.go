package redis

import (
	"context"
	"encoding/json"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Cache 读多写少路径的 cache-aside 封装。
// 缓存永不作为事实来源：读方必须容忍 miss 与陈旧值；
// 写路径先提交 DB，再失效（而不是改写）对应缓存键。
type Cache struct {
	rdb *rd.Client
	ttl time.Duration
}

// NewCache 创建缓存封装，ttl 为默认过期时间（失效失败时的自愈上限）。
func NewCache(rdb *rd.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// GetJSON 读取并反序列化缓存值。found=false 表示 miss，应回源 DB。
func (c *Cache) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	s, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == rd.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		// 脏缓存当 miss 处理，顺手删掉
		_ = c.rdb.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// SetJSON 回源之后填充缓存。失败只影响命中率，不影响正确性。
func (c *Cache) SetJSON(ctx context.Context, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

// Invalidate 删除一组缓存键。写提交后调用；失败由调用方记日志，
// 不回滚已提交的写（键会随 TTL 自愈）。
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
