package payment

import (
	"encoding/json"
	"fmt"
)

// Event 归一化后的 provider 回调事件。ResultCode == 0 表示支付成功。
type Event struct {
	CorrelationID string `json:"correlation_id"`
	ResultCode    int    `json:"result_code"`
	ResultDesc    string `json:"result_desc"`
	Amount        int64  `json:"amount"` // 单位分
	ReceiptNo     string `json:"receipt_no"`
	Phone         string `json:"phone"`
	Raw           string `json:"raw"` // provider 原始报文，落库留痕
}

// callbackEnvelope 对应 provider 的回调信封（STK Push 格式）。
type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type metadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// ParseCallback 解析回调报文。字段提取是防御式的：
// 金额/收据号/手机号缺失时取零值而不是报错——ACK 必须尽快返回。
// 只有解析不出 correlation id 才算脏报文（没有可更新的订单）。
func ParseCallback(body []byte) (Event, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("malformed callback payload: %w", err)
	}

	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return Event{}, fmt.Errorf("callback has no CheckoutRequestID")
	}

	ev := Event{
		CorrelationID: cb.CheckoutRequestID,
		ResultCode:    cb.ResultCode,
		ResultDesc:    cb.ResultDesc,
		Raw:           string(body),
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			ev.Amount = asInt64(item.Value)
		case "MpesaReceiptNumber":
			ev.ReceiptNo = asString(item.Value)
		case "PhoneNumber":
			ev.Phone = asString(item.Value)
		}
	}
	return ev, nil
}

// asInt64 宽松转数字：provider 的 Value 可能是数字也可能是字符串。
func asInt64(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	case json.Number:
		n, _ := x.Int64()
		return n
	default:
		return 0
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	default:
		return ""
	}
}
