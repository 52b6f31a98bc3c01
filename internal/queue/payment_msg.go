package queue

import (
	"fmt"
	"strconv"

	"shop_backend/internal/payment"
)

// PaymentEventMessage 是写入 Kafka 的支付回调事件。
type PaymentEventMessage struct {
	CorrelationID string `json:"correlation_id"`
	ResultCode    int    `json:"result_code"`
	ResultDesc    string `json:"result_desc"`
	Amount        int64  `json:"amount"` // 分
	ReceiptNo     string `json:"receipt_no"`
	Phone         string `json:"phone"`
	Raw           string `json:"raw"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
// 金额等字段允许缺省（防御式提取的产物），correlation id 不允许。
func (m PaymentEventMessage) Validate() error {
	if m.CorrelationID == "" {
		return fmt.Errorf("correlation_id is required")
	}
	return nil
}

// StreamValues 编码为 Redis Stream 的 field-value 形式（全部字符串），
// 与 parsePaymentEvent 互逆，字段名只在这两处出现。
func (m PaymentEventMessage) StreamValues() map[string]any {
	return map[string]any{
		"correlation_id": m.CorrelationID,
		"result_code":    strconv.Itoa(m.ResultCode),
		"result_desc":    m.ResultDesc,
		"amount":         strconv.FormatInt(m.Amount, 10),
		"receipt_no":     m.ReceiptNo,
		"phone":          m.Phone,
		"raw":            m.Raw,
	}
}

// Event 转为 ingestor 的归一化事件。
func (m PaymentEventMessage) Event() payment.Event {
	return payment.Event{
		CorrelationID: m.CorrelationID,
		ResultCode:    m.ResultCode,
		ResultDesc:    m.ResultDesc,
		Amount:        m.Amount,
		ReceiptNo:     m.ReceiptNo,
		Phone:         m.Phone,
		Raw:           m.Raw,
	}
}

// FromEvent 由归一化事件构造消息。
func FromEvent(ev payment.Event) PaymentEventMessage {
	return PaymentEventMessage{
		CorrelationID: ev.CorrelationID,
		ResultCode:    ev.ResultCode,
		ResultDesc:    ev.ResultDesc,
		Amount:        ev.Amount,
		ReceiptNo:     ev.ReceiptNo,
		Phone:         ev.Phone,
		Raw:           ev.Raw,
	}
}
