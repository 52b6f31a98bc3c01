package payment

import (
	"context"
	"errors"
	"log"
	"time"

	"shop_backend/internal/apperr"
	"shop_backend/internal/model"
	rediskey "shop_backend/pkg/redis"

	"gorm.io/gorm"
)

// applyTimeout 单次落库尝试的超时上限。
const applyTimeout = 5 * time.Second

// IntentStore 支付意向的 consume-once 端口。
// found=false 表示意向不存在：未登记 / 已过期 / 已被并发投递消费。
type IntentStore interface {
	Consume(ctx context.Context, correlationID string) (rediskey.IntentMeta, bool, error)
}

// Invalidator 提交后失效订单相关缓存键的端口。
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Ingestor 消化 provider 回调事件：
// 经由 consume-once 的意向注册表把 correlation id 解析回订单，
// 然后在一个事务里幂等地落支付流水并推进订单状态。
// HTTP 层早已 ACK，这里的失败通过有限次退避重试消化，
// 丢一条成功支付通知是最严重的失败模式。
type Ingestor struct {
	db          *gorm.DB
	intents     IntentStore
	inv         Invalidator
	maxAttempts int
	backoff     time.Duration
}

// NewIngestor 创建回调消化器。
func NewIngestor(db *gorm.DB, intents IntentStore, inv Invalidator, maxAttempts int, backoff time.Duration) *Ingestor {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Ingestor{db: db, intents: intents, inv: inv, maxAttempts: maxAttempts, backoff: backoff}
}

// Process 处理一条事件。返回 error 仅代表重试耗尽后的最终失败；
// 重复投递、未知 correlation id 都按正常情况吞掉（不碰任何订单）。
func (ig *Ingestor) Process(ctx context.Context, ev Event) error {
	if ev.CorrelationID == "" {
		// 没有 correlation id 就没有可更新的订单，记日志后丢弃。
		log.Printf("ingest: drop event without correlation id")
		return nil
	}

	// 原子「取出并删除」意向。并发的重复投递中只有一方拿得到，
	// 这是防止同一订单被双重记账的唯一闸门。
	// Redis 瞬断时意向原地保留，但这条投递未必还有下一次，
	// 所以消费意向也要在这里重试到成功或耗尽。
	var (
		meta    rediskey.IntentMeta
		found   bool
		lastErr error
	)
	for attempt := 1; attempt <= ig.maxAttempts; attempt++ {
		meta, found, lastErr = ig.intents.Consume(ctx, ev.CorrelationID)
		if lastErr == nil {
			break
		}
		log.Printf("ingest: consume intent correlation=%s attempt=%d: %v",
			ev.CorrelationID, attempt, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ig.backoff * time.Duration(attempt)):
		}
	}
	if lastErr != nil {
		log.Printf("ingest: GIVING UP consume correlation=%s after %d attempts: %v",
			ev.CorrelationID, ig.maxAttempts, lastErr)
		return apperr.Persistence("consume intent", lastErr)
	}
	if !found {
		log.Printf("ingest: correlation id %s unknown or already consumed, treat as duplicate", ev.CorrelationID)
		return nil
	}

	// 意向已消费，事件只剩内存里这一份；落库必须重试到成功或耗尽。
	for attempt := 1; attempt <= ig.maxAttempts; attempt++ {
		lastErr = ig.apply(ctx, meta, ev)
		if lastErr == nil || errors.Is(lastErr, apperr.ErrDuplicateEvent) {
			break
		}
		log.Printf("ingest: apply correlation=%s order=%d attempt=%d: %v",
			ev.CorrelationID, meta.OrderID, attempt, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ig.backoff * time.Duration(attempt)):
		}
	}
	if lastErr != nil && !errors.Is(lastErr, apperr.ErrDuplicateEvent) {
		log.Printf("ingest: GIVING UP correlation=%s order=%d after %d attempts: %v",
			ev.CorrelationID, meta.OrderID, ig.maxAttempts, lastErr)
		return apperr.Persistence("apply payment event", lastErr)
	}

	// 提交后失效缓存；失败只记日志，键随 TTL 自愈。
	keys := []string{rediskey.UserOrdersKey(meta.OwnerID), rediskey.OrderKey(meta.OrderID)}
	if err := ig.inv.Invalidate(ctx, keys...); err != nil {
		log.Printf("ingest: invalidate cache order=%d: %v", meta.OrderID, err)
	}
	return nil
}

// apply 在单个事务内执行状态迁移：
//
//	pending --success 首次--> success：插入流水(success)、订单置 paid
//	pending --success 重复--> no-op（订单已有 success 流水，短路）
//	pending --failure      --> failed：落失败流水，订单保持非 paid（允许换渠道重付）
//
// success / failed 为终态，success 不再迁出。
func (ig *Ingestor) apply(ctx context.Context, meta rediskey.IntentMeta, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	return ig.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ev.ResultCode != 0 {
			return ig.applyFailure(tx, meta, ev)
		}

		// 幂等闸门第二道：该订单已有 success 流水则直接短路，
		// 绝不插第二条。
		var exists int64
		if err := tx.Model(&model.PaymentRecord{}).
			Where("order_id = ? AND status = ?", meta.OrderID, model.PaymentStatusSuccess).
			Count(&exists).Error; err != nil {
			return err
		}
		if exists > 0 {
			return apperr.ErrDuplicateEvent
		}

		rec := &model.PaymentRecord{
			OrderID:       meta.OrderID,
			TransactionID: ev.ReceiptNo,
			Method:        "mpesa",
			Amount:        ev.Amount,
			Currency:      "KES",
			Status:        model.PaymentStatusSuccess,
			ReceiptNo:     ev.ReceiptNo,
			RawResponse:   ev.Raw,
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}

		// 条件更新：只从 pending 迁到 paid，重复事件改不了第二次。
		return tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", meta.OrderID, model.OrderStatusPending).
			Update("status", model.OrderStatusPaid).Error
	})
}

// applyFailure 落失败流水：已有非 success 流水则就地更新，否则新建。
// 订单状态不动——不自动取消，给人工或换渠道重付留余地。
func (ig *Ingestor) applyFailure(tx *gorm.DB, meta rediskey.IntentMeta, ev Event) error {
	var rec model.PaymentRecord
	err := tx.Where("order_id = ? AND status <> ?", meta.OrderID, model.PaymentStatusSuccess).
		First(&rec).Error
	if err == nil {
		return tx.Model(&rec).Updates(map[string]any{
			"status":       model.PaymentStatusFailed,
			"fail_reason":  ev.ResultDesc,
			"raw_response": ev.Raw,
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return tx.Create(&model.PaymentRecord{
		OrderID:     meta.OrderID,
		Method:      "mpesa",
		Amount:      meta.Amount,
		Currency:    "KES",
		Status:      model.PaymentStatusFailed,
		FailReason:  ev.ResultDesc,
		RawResponse: ev.Raw,
	}).Error
}
