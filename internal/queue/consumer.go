package queue

import (
	"context"
	"encoding/json"
	"log"

	"shop_backend/internal/payment"

	"github.com/segmentio/kafka-go"
)

// Processor 事件消化端口，由 payment.Ingestor 实现。
type Processor interface {
	Process(ctx context.Context, ev payment.Event) error
}

// reader 抽象 kafka.Reader 的取数与提交。
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从 Kafka 拉取支付事件并驱动 ingestor。
// 处理成功（或确认是脏消息）后才提交 offset；处理失败不提交，
// 重启 / 再均衡后同一条消息会重投——ingestor 幂等，重放安全。
// 丢一条成功支付通知是最严重的失败模式，宁可重复投递也不丢。
type Consumer struct {
	r    reader
	proc Processor
}

func NewConsumer(brokers []string, topic, groupID string, proc Processor) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		proc: proc,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		var msg PaymentEventMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			log.Printf("consumer unmarshal: %v", err)
			c.commit(ctx, m) // 脏消息提交丢弃，不阻塞分区
			continue
		}
		if err := msg.Validate(); err != nil {
			log.Printf("consumer invalid message: %v", err)
			c.commit(ctx, m)
			continue
		}

		if err := c.proc.Process(ctx, msg.Event()); err != nil {
			// 不提交 offset，留待重投
			log.Printf("consumer process correlation=%s: %v", msg.CorrelationID, err)
			continue
		}
		c.commit(ctx, m)
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.r.CommitMessages(ctx, m); err != nil {
		log.Printf("consumer commit offset=%d: %v", m.Offset, err)
	}
}
