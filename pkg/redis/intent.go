package redis

import (
	"context"
	"encoding/json"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// IntentMeta 支付意向：把 provider 的 correlation id 路由回内部订单。
// 只是路由表，不是支付流水；回调处理完或 TTL 到期后即删除。
type IntentMeta struct {
	CorrelationID string    `json:"correlation_id"`
	OrderID       uint      `json:"order_id"`
	OwnerID       string    `json:"owner_id"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// luaConsumeIntent：原子「读取并删除」。
// 两个并发回调竞争同一 correlation id 时，只有一方能拿到值，
// 另一方拿到 nil，即视为重复投递。禁止拆成先 GET 再 DEL。
const luaConsumeIntent = `
local key = KEYS[1]
local v = redis.call('GET', key)
if v then
  redis.call('DEL', key)
end
return v
`

// IntentRegistry 基于 Redis 的支付意向注册表。
// 外置共享存储：多副本部署与进程重启下 consume-once 语义仍然成立
// （进程内 map 做不到这一点）。
type IntentRegistry struct {
	rdb *rd.Client
	ttl time.Duration
}

// NewIntentRegistry 创建注册表，ttl 为意向的存活窗口。
func NewIntentRegistry(rdb *rd.Client, ttl time.Duration) *IntentRegistry {
	return &IntentRegistry{rdb: rdb, ttl: ttl}
}

// Register 在发起支付时登记 correlation id → 订单 的映射。
func (r *IntentRegistry) Register(ctx context.Context, meta IntentMeta) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, IntentKey(meta.CorrelationID), b, r.ttl).Err()
}

// Consume 原子消费一条意向。found=false 表示不存在：
// 要么从未登记 / 已过期，要么已被并发的另一次投递消费。
func (r *IntentRegistry) Consume(ctx context.Context, correlationID string) (IntentMeta, bool, error) {
	res, err := r.rdb.Eval(ctx, luaConsumeIntent, []string{IntentKey(correlationID)}).Result()
	if err != nil {
		if err == rd.Nil {
			return IntentMeta{}, false, nil
		}
		return IntentMeta{}, false, err
	}
	s, ok := res.(string)
	if !ok || s == "" {
		return IntentMeta{}, false, nil
	}
	var meta IntentMeta
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return IntentMeta{}, false, err
	}
	return meta, true, nil
}

// Release 主动删除一条意向（不关心是否存在）。
// 用于重新发起支付时清理上一笔未回调的意向；
// 其余废弃路径（用户放弃支付等）由 TTL 到期自然处置。
func (r *IntentRegistry) Release(ctx context.Context, correlationID string) error {
	return r.rdb.Del(ctx, IntentKey(correlationID)).Err()
}
