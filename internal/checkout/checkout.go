// Package checkout 将购物车一次性转为订单：
// 建单、写订单行、清空购物车在同一个事务里要么全部生效要么全部不生效。
package checkout

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

// txTimeout 事务上限：超时即中止并报 PersistenceError，绝不留半截状态。
const txTimeout = 5 * time.Second

// LineItem 请求携带的行项目快照。价格以加购时为准，
// 结算不回查商品表（价格稳定性优先，已知不做防超卖/防价格漂移）。
type LineItem struct {
	ProductID uint  `json:"product_id" binding:"required,min=1"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
	UnitPrice int64 `json:"unit_price" binding:"required,min=0"`
}

// ShippingInfo 收货信息，name/country/address 必填。
type ShippingInfo struct {
	Name    string `json:"shipping_name"`
	Company string `json:"company_name"`
	Country string `json:"country"`
	State   string `json:"state"`
	Town    string `json:"town"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// Input 下单入参。
type Input struct {
	OwnerID       string
	Shipping      ShippingInfo
	OrderType     string
	PaymentMethod string
	Items         []LineItem
}

// Result 下单结果：订单号与服务端计算的总额（分）。
type Result struct {
	OrderID     uint  `json:"order_id"`
	TotalAmount int64 `json:"total_amount"`
}

// Invalidator 提交后失效相关缓存键的端口。
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// validate 前置校验：违规直接拒绝，不产生任何副作用。
func validate(in Input) error {
	if in.OwnerID == "" {
		return apperr.Validation("owner_id", "required")
	}
	if len(in.Items) == 0 {
		return apperr.Validation("items", "cart snapshot is empty")
	}
	for _, it := range in.Items {
		if it.ProductID == 0 {
			return apperr.Validation("items.product_id", "required")
		}
		if it.Quantity <= 0 {
			return apperr.Validation("items.quantity", "must be > 0")
		}
		if it.UnitPrice < 0 {
			return apperr.Validation("items.unit_price", "must be >= 0")
		}
	}
	if in.Shipping.Name == "" {
		return apperr.Validation("shipping_name", "required")
	}
	if in.Shipping.Country == "" {
		return apperr.Validation("country", "required")
	}
	if in.Shipping.Address == "" {
		return apperr.Validation("address", "required")
	}
	if in.PaymentMethod == "" {
		return apperr.Validation("payment_method", "required")
	}
	return nil
}

// Total 服务端汇总 Σ(quantity × unit_price)。
// 绝不信任客户端传来的总额，只信任其行项目。
func Total(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += int64(it.Quantity) * it.UnitPrice
	}
	return total
}

// PlaceOrder 原子下单：
// 1. 清空该用户购物车并核查确实删到了行（双提交时后到者看到空车）
// 2. 写订单 + 订单行（价格取请求快照）
// 任一步失败整体回滚；提交成功后失效购物车与订单列表缓存。
func PlaceOrder(ctx context.Context, db *gorm.DB, inv Invalidator, in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	total := Total(in.Items)
	order := &model.Order{
		OwnerID:           in.OwnerID,
		ShippingName:      in.Shipping.Name,
		CompanyName:       in.Shipping.Company,
		Country:           in.Shipping.Country,
		State:             in.Shipping.State,
		Town:              in.Shipping.Town,
		Address:           in.Shipping.Address,
		Phone:             in.Shipping.Phone,
		Email:             in.Shipping.Email,
		OrderType:         orderType(in.OrderType),
		TotalAmount:       total,
		PaymentMethod:     in.PaymentMethod,
		Status:            model.OrderStatusPending,
		FulfillmentStatus: model.FulfillmentPending,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先清车并核查确实删到了行：DELETE 一上来就取写锁，
		// 并发双结算在任何引擎下都只有先行者消费到“非空”视图，
		// 后到者删到 0 行，必须干净地以空车失败，不建零项订单。
		res := tx.Where("owner_id = ?", in.OwnerID).Delete(&model.CartItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrCartEmpty
		}

		if err := tx.Create(order).Error; err != nil {
			return err
		}

		for _, it := range in.Items {
			item := model.OrderItem{
				OrderID:   order.ID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
			}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrCartEmpty) {
			return Result{}, err
		}
		return Result{}, apperr.Persistence("place order", err)
	}

	// 先提交后失效（不是更新缓存）。失效失败只记日志：
	// 正确性由 DB 保证，缓存靠 TTL 自愈。
	if err := inv.Invalidate(ctx, redisKeysFor(in.OwnerID)...); err != nil {
		log.Printf("checkout invalidate cache owner=%s: %v", in.OwnerID, err)
	}

	return Result{OrderID: order.ID, TotalAmount: total}, nil
}

func redisKeysFor(ownerID string) []string {
	return []string{rediskey.CartKey(ownerID), rediskey.UserOrdersKey(ownerID)}
}

func orderType(t string) string {
	if t == "" {
		return "b2c"
	}
	return t
}
