package redis

import (
	"context"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 回调事件的 Redis Stream 出箱：
// HTTP 回调入口只做一次本地 XADD 就立即 ACK，
// 后续由 relay 异步转发 Kafka，消费端带重试地执行状态变更。
type Outbox struct {
	rdb    *rd.Client
	stream string
}

// NewOutbox 创建指向指定 stream 的出箱。
func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream}
}

// Append 以 field-value 形式追加一条事件。
func (o *Outbox) Append(ctx context.Context, values map[string]any) error {
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		Values: values,
	}).Err()
}
