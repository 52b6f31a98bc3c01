package model

import (
	"time"
)

// 支付记录状态。success / failed 为终态；每个订单至多一条 success。
const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// PaymentRecord 支付流水：回调确认前 TransactionID 为空。
// RawResponse 保留 provider 原始回调，便于对账与排查。
type PaymentRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID       uint   `gorm:"not null;index" json:"order_id"`
	TransactionID string `gorm:"size:64;index" json:"transaction_id"`
	Method        string `gorm:"size:32;not null" json:"method"`
	Amount        int64  `gorm:"not null" json:"amount"` // 单位分
	Currency      string `gorm:"size:8;not null;default:KES" json:"currency"`
	Status        string `gorm:"size:16;not null;default:pending;index" json:"status"`
	ReceiptNo     string `gorm:"size:64" json:"receipt_no"`
	FailReason    string `gorm:"size:255" json:"fail_reason"`
	RawResponse   string `gorm:"type:text" json:"-"`
}

func (PaymentRecord) TableName() string { return "payments" }
