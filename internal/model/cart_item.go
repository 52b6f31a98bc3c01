package model

import (
	"time"
)

// CartItem 购物车条目：同一 (owner_id, product_id) 至多一行。
// 重复加购是“替换”语义：覆盖数量与价格，而不是累加。
type CartItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OwnerID   string `gorm:"size:64;not null;uniqueIndex:idx_cart_owner_product" json:"owner_id"`
	ProductID uint   `gorm:"not null;uniqueIndex:idx_cart_owner_product" json:"product_id"`
	Quantity  int    `gorm:"not null;default:1" json:"quantity"`
	// UnitPrice 单位分，加购时快照，结算不再回查商品表。
	UnitPrice int64  `gorm:"not null" json:"unit_price"`
	ImageURL  string `gorm:"size:255" json:"image_url"`
}

func (CartItem) TableName() string { return "cart_items" }
