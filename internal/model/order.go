package model

import (
	"time"

	"gorm.io/gorm"
)

// 订单支付状态与发货状态。创建后除状态流转外订单不可变。
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"

	FulfillmentPending   = "pending"
	FulfillmentShipped   = "shipped"
	FulfillmentDelivered = "delivered"
)

// Order 订单主表
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OwnerID      string `gorm:"size:64;not null;index" json:"owner_id"`
	ShippingName string `gorm:"size:128;not null" json:"shipping_name"`
	CompanyName  string `gorm:"size:128" json:"company_name"`
	Country      string `gorm:"size:64;not null" json:"country"`
	State        string `gorm:"size:64" json:"state"`
	Town         string `gorm:"size:64" json:"town"`
	Address      string `gorm:"size:255;not null" json:"address"`
	Phone        string `gorm:"size:32" json:"phone"`
	Email        string `gorm:"size:128" json:"email"`

	// PaymentCorrelationID 最近一次发起支付拿到的 correlation id；
	// 重新发起时据此释放上一笔尚未回调的支付意向。
	PaymentCorrelationID string `gorm:"size:64;index" json:"-"`

	OrderType     string `gorm:"size:16;not null;default:b2c" json:"order_type"`
	TotalAmount   int64  `gorm:"not null" json:"total_amount"` // 单位分
	PaymentMethod string `gorm:"size:32;not null" json:"payment_method"`
	// Status: pending / paid / cancelled；FulfillmentStatus: pending / shipped / delivered
	Status            string `gorm:"size:16;not null;default:pending;index" json:"status"`
	FulfillmentStatus string `gorm:"size:16;not null;default:pending" json:"fulfillment_status"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

func (Order) TableName() string { return "orders" }

// OrderItem 订单行：下单时的价格快照，创建后不可变。
// 不变式：sum(quantity*unit_price) == Order.TotalAmount（建单时成立）。
type OrderItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderID   uint  `gorm:"not null;index" json:"order_id"`
	ProductID uint  `gorm:"not null;index" json:"product_id"`
	Quantity  int   `gorm:"not null;default:1" json:"quantity"`
	UnitPrice int64 `gorm:"not null" json:"unit_price"` // 单位分
}

func (OrderItem) TableName() string { return "order_items" }
