package router

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"shop_backend/internal/apperr"
	"shop_backend/internal/checkout"
	"shop_backend/internal/config"
	"shop_backend/internal/middleware"
	"shop_backend/internal/model"
	"shop_backend/internal/payment"
	"shop_backend/internal/queue"
	rediskey "shop_backend/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client,
	cache *rediskey.Cache, intents *rediskey.IntentRegistry, outbox *rediskey.Outbox,
	provider *payment.Client, cfg config.AppConfig) {

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// Cart
	r.POST("/api/cart", addToCart(db, cache))
	r.GET("/api/cart/:owner_id", getCart(db, cache))
	r.POST("/api/cart/remove", removeFromCart(db, cache))
	r.POST("/api/cart/clear", clearCart(db, cache))

	// Orders
	r.POST("/api/order/place",
		middleware.RedisRateLimit(rdb, cfg.PlaceRateLimit, cfg.PlaceRateWindow),
		placeOrder(db, cache))
	r.GET("/api/order/user/:owner_id", getUserOrders(db, cache))
	r.GET("/api/order/:order_id", getOrder(db, cache))
	r.POST("/api/order/status", updateOrderStatus(db, cache))
	r.POST("/api/order/cancel", cancelOrder(db, cache))

	// Payments
	r.POST("/api/payment/initiate", initiatePayment(db, intents, provider))
	r.POST("/api/payment/callback", paymentCallback(outbox))
	r.POST("/api/payment/query", queryPayment(provider))
}

// eventSink 回调事件的出箱端口，生产实现为 rediskey.Outbox。
type eventSink interface {
	Append(ctx context.Context, values map[string]any) error
}

// invalidator 写提交后的缓存失效端口，生产实现为 rediskey.Cache。
type invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// intentRegistrar 支付意向的登记 / 释放端口，生产实现为 rediskey.IntentRegistry。
type intentRegistrar interface {
	Register(ctx context.Context, meta rediskey.IntentMeta) error
	Release(ctx context.Context, correlationID string) error
}

// fail 按错误分类映射 HTTP 状态码。
func fail(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err), errors.Is(err, apperr.ErrCartEmpty):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "not found"})
	case isProviderErr(err):
		c.JSON(http.StatusBadGateway, gin.H{"code": 502, "msg": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
	}
}

func isProviderErr(err error) bool {
	var pe *apperr.ProviderError
	return errors.As(err, &pe)
}

// addToCart 加购（替换语义）：同一 (owner, product) 重复加购
// 覆盖数量与价格，不累加。用显式「先改后插」的条件写实现，
// 不依赖具体存储引擎的 duplicate-key 子句。
func addToCart(db *gorm.DB, cache *rediskey.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OwnerID   string `json:"owner_id" binding:"required"`
			ProductID uint   `json:"product_id" binding:"required,min=1"`
			Quantity  int    `json:"quantity" binding:"required,min=1"`
			UnitPrice int64  `json:"unit_price" binding:"required,min=1"`
			ImageURL  string `json:"image_url"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.CartItem{}).
				Where("owner_id = ? AND product_id = ?", req.OwnerID, req.ProductID).
				Updates(map[string]any{
					"quantity":   req.Quantity,
					"unit_price": req.UnitPrice,
					"image_url":  req.ImageURL,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				return nil
			}
			err := tx.Create(&model.CartItem{
				OwnerID:   req.OwnerID,
				ProductID: req.ProductID,
				Quantity:  req.Quantity,
				UnitPrice: req.UnitPrice,
				ImageURL:  req.ImageURL,
			}).Error
			// 并发加购撞唯一索引：改为覆盖既有行
			if err != nil && errorsLikeUnique(err) {
				return tx.Model(&model.CartItem{}).
					Where("owner_id = ? AND product_id = ?", req.OwnerID, req.ProductID).
					Updates(map[string]any{
						"quantity":   req.Quantity,
						"unit_price": req.UnitPrice,
						"image_url":  req.ImageURL,
					}).Error
			}
			return err
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		// 先提交后失效
		if err := cache.Invalidate(c.Request.Context(), rediskey.CartKey(req.OwnerID)); err != nil {
			log.Printf("cart add invalidate owner=%s: %v", req.OwnerID, err)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
	}
}

// getCart cache-aside 读购物车：先查缓存，miss 回源 DB 再填充。
func getCart(db *gorm.DB, cache *rediskey.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.Param("owner_id")
		if ownerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "owner_id 必填"})
			return
		}

		key := rediskey.CartKey(ownerID)
		var items []model.CartItem
		found, err := cache.GetJSON(c.Request.Context(), key, &items)
		if err != nil {
			// 缓存故障当 miss，读路径不受影响
			log.Printf("cart cache get owner=%s: %v", ownerID, err)
		}
		if found {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": items})
			return
		}

		if err := db.Where("owner_id = ?", ownerID).Order("id DESC").Find(&items).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := cache.SetJSON(c.Request.Context(), key, items); err != nil {
			log.Printf("cart cache set owner=%s: %v", ownerID, err)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": items})
	}
}

// removeFromCart 删除单个商品行。
func removeFromCart(db *gorm.DB, cache *rediskey.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OwnerID   string `json:"owner_id" binding:"required"`
			ProductID uint   `json:"product_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		res := db.Where("owner_id = ? AND product_id = ?", req.OwnerID, req.ProductID).
			Delete(&model.CartItem{})
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "购物车内无此商品"})
			return
		}

		if err := cache.Invalidate(c.Request.Context(), rediskey.CartKey(req.OwnerID)); err != nil {
			log.Printf("cart remove invalidate owner=%s: %v", req.OwnerID, err)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
	}
}

// clearCart 清空购物车。
func clearCart(db *gorm.DB, cache *rediskey.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OwnerID string `json:"owner_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		if err := db.Where("owner_id = ?", req.OwnerID).Delete(&model.CartItem{}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := cache.Invalidate(c.Request.Context(), rediskey.CartKey(req.OwnerID)); err != nil {
			log.Printf("cart clear invalidate owner=%s: %v", req.OwnerID, err)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
	}
}

// placeOrder 结算下单入口。
// 关键流程：
// 1. 参数校验（缺字段直接拒绝，无副作用）
// 2. 服务端按行项目重算总额（不信任客户端总价）
// 3. 单事务内：清车（核查确实删到行） → 建单 → 写订单行
// 4. 提交后失效购物车 / 订单列表缓存
func placeOrder(db *gorm.DB, cache *rediskey.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OwnerID       string              `json:"owner_id"`
			ShippingName  string              `json:"shipping_name"`
			CompanyName   string              `json:"company_name"`
			Country       string              `json:"country"`
			State         string              `json:"state"`
			Town          string              `json:"town"`
			Address       string              `json:"address"`
			Phone         string              `json:"phone"`
			Email         string              `json:"email"`
			OrderType     string              `json:"order_type"`
			PaymentMethod string              `json:"payment_method"`
			Items         []checkout.LineItem `json:"items"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		res, err := checkout.PlaceOrder(c.Request.Context(), db, cache, checkout.Input{
			OwnerID: req.OwnerID,
			Shipping: checkout.ShippingInfo{
				Name:    req.ShippingName,
				Company: req.CompanyName,
				Country: req.Country,
				State:   req.State,
				Town:    req.Town,
				Address: req.Address,
				Phone:   req.Phone,
				Email:   req.Email,
			},
			OrderType:     req.OrderType,
			PaymentMethod: req.PaymentMethod,
			Items:         req.Items,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
	}
}

// getUserOrders cache-aside 读某用户订单列表（含订单行）。
func getUserOrders(db *gorm.DB, cache *rediskey.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.Param("owner_id")
		if ownerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "owner_id 必填"})
			return
		}

		key := rediskey.UserOrdersKey(ownerID)
		var orders []model.Order
		found, err := cache.GetJSON(c.Request.Context(), key, &orders)
		if err != nil {
			log.Printf("orders cache get owner=%s: %v", ownerID, err)
		}
		if found {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": orders})
			return
		}

		if err := db.Preload("Items").
			Where("owner_id = ?", ownerID).
			Order("created_at DESC").
			Find(&orders).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := cache.SetJSON(c.Request.Context(), key, orders); err != nil {
			log.Printf("orders cache set owner=%s: %v", ownerID, err)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": orders})
	}
}

// getOrder 查单个订单（含订单行），404 表示不存在。
func getOrder(db *gorm.DB, cache *rediskey.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.Param("order_id")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单ID无效"})
			return
		}

		key := rediskey.OrderKey(uint(id))
		var order model.Order
		found, err := cache.GetJSON(c.Request.Context(), key, &order)
		if err != nil {
			log.Printf("order cache get id=%d: %v", id, err)
		}
		if found {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": order})
			return
		}

		if err := db.Preload("Items").First(&order, uint(id)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "订单不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := cache.SetJSON(c.Request.Context(), key, order); err != nil {
			log.Printf("order cache set id=%d: %v", id, err)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": order})
	}
}

// updateOrderStatus 管理侧更新支付/发货状态。
// paid / cancelled 为终态：支付状态只能从 pending 迁出，
// 已付订单不能被改回 pending，已取消订单不能被改成 paid。
func updateOrderStatus(db *gorm.DB, cache invalidator) gin.HandlerFunc {
	validStatus := map[string]bool{
		model.OrderStatusPending:   true,
		model.OrderStatusPaid:      true,
		model.OrderStatusCancelled: true,
	}
	validFulfillment := map[string]bool{
		model.FulfillmentPending:   true,
		model.FulfillmentShipped:   true,
		model.FulfillmentDelivered: true,
	}

	return func(c *gin.Context) {
		var req struct {
			OrderID           uint   `json:"order_id" binding:"required,min=1"`
			Status            string `json:"status"`
			FulfillmentStatus string `json:"fulfillment_status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		updates := map[string]any{}
		if req.Status != "" {
			if !validStatus[req.Status] {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "status 取值无效"})
				return
			}
			updates["status"] = req.Status
		}
		if req.FulfillmentStatus != "" {
			if !validFulfillment[req.FulfillmentStatus] {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "fulfillment_status 取值无效"})
				return
			}
			updates["fulfillment_status"] = req.FulfillmentStatus
		}
		if len(updates) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "没有要更新的字段"})
			return
		}

		var order model.Order
		if err := db.First(&order, req.OrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "订单不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		// 条件更新：改支付状态时要求当前仍是 pending（终态不可迁出）
		query := db.Model(&model.Order{}).Where("id = ?", order.ID)
		if _, ok := updates["status"]; ok {
			query = query.Where("status = ?", model.OrderStatusPending)
		}
		res := query.Updates(updates)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单已是终态，状态不可变更"})
			return
		}

		if err := cache.Invalidate(c.Request.Context(),
			rediskey.OrderKey(order.ID), rediskey.UserOrdersKey(order.OwnerID)); err != nil {
			log.Printf("order status invalidate id=%d: %v", order.ID, err)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
	}
}

// cancelOrder 用户取消自己的订单：仅 pending 可取消。
func cancelOrder(db *gorm.DB, cache invalidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID uint   `json:"order_id" binding:"required,min=1"`
			OwnerID string `json:"owner_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		res := db.Model(&model.Order{}).
			Where("id = ? AND owner_id = ? AND status = ?",
				req.OrderID, req.OwnerID, model.OrderStatusPending).
			Update("status", model.OrderStatusCancelled)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单不存在或已非待支付状态"})
			return
		}

		if err := cache.Invalidate(c.Request.Context(),
			rediskey.OrderKey(req.OrderID), rediskey.UserOrdersKey(req.OwnerID)); err != nil {
			log.Printf("order cancel invalidate id=%d: %v", req.OrderID, err)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
	}
}

// initiatePayment 对指定订单发起 STK Push，并登记支付意向
// （correlation id → 订单）供回调路由；返回 correlation id。
// 重新发起时先释放上一笔尚未回调的意向，旧推送晚到只会被当作
// 未知 correlation id 丢弃。
func initiatePayment(db *gorm.DB, intents intentRegistrar, provider *payment.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OwnerID string `json:"owner_id" binding:"required"`
			OrderID uint   `json:"order_id" binding:"required,min=1"`
			Phone   string `json:"phone" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		var order model.Order
		if err := db.First(&order, req.OrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "订单不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if order.OwnerID != req.OwnerID {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "订单不存在"})
			return
		}
		if order.Status != model.OrderStatusPending {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单非待支付状态"})
			return
		}

		// 金额以订单为准，不信任请求
		corrID, err := provider.InitiateSTKPush(c.Request.Context(), req.Phone, order.TotalAmount, order.ID)
		if err != nil {
			fail(c, err)
			return
		}

		// 释放上一笔未回调的意向；失败只记日志（TTL 兜底，
		// 第二道闸门也拦得住旧意向的双重记账）
		if order.PaymentCorrelationID != "" && order.PaymentCorrelationID != corrID {
			if err := intents.Release(c.Request.Context(), order.PaymentCorrelationID); err != nil {
				log.Printf("payment initiate release stale intent corr=%s order=%d: %v",
					order.PaymentCorrelationID, order.ID, err)
			}
		}

		if err := intents.Register(c.Request.Context(), rediskey.IntentMeta{
			CorrelationID: corrID,
			OrderID:       order.ID,
			OwnerID:       order.OwnerID,
			Amount:        order.TotalAmount,
		}); err != nil {
			// 意向没登记上，回调将无法匹配；留给 /payment/query 对账。
			log.Printf("payment initiate register intent corr=%s order=%d: %v", corrID, order.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "register payment intent failed"})
			return
		}

		// 记住本次 correlation id，供下次重发起时释放；
		// 写失败不致命，旧意向最多活到 TTL
		if err := db.Model(&order).Update("payment_correlation_id", corrID).Error; err != nil {
			log.Printf("payment initiate save correlation corr=%s order=%d: %v", corrID, order.ID, err)
		}

		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"correlation_id": corrID,
				"order_id":       order.ID,
				"amount":         order.TotalAmount,
			},
		})
	}
}

// paymentCallback provider 回调入口。
// 无论内部结果如何必须快速回 200（否则会触发 provider 重试风暴）：
// 解析后只做一次本地出箱 XADD，状态变更由 relay → Kafka → ingestor
// 异步带重试地完成。解析不出 correlation id 的脏报文记日志后丢弃。
func paymentCallback(outbox eventSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		ack := gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

		body, err := c.GetRawData()
		if err != nil {
			log.Printf("payment callback read body: %v", err)
			c.JSON(http.StatusOK, ack)
			return
		}

		ev, err := payment.ParseCallback(body)
		if err != nil {
			log.Printf("payment callback drop: %v", err)
			c.JSON(http.StatusOK, ack)
			return
		}

		if err := outbox.Append(c.Request.Context(), queue.FromEvent(ev).StreamValues()); err != nil {
			// 入箱失败也不向 provider 暴露；依赖 provider 的重投与对账兜底。
			log.Printf("payment callback outbox corr=%s: %v", ev.CorrelationID, err)
		}

		c.JSON(http.StatusOK, ack)
	}
}

// queryPayment 透传 provider 的交易状态查询（对账 / 意向过期后核查）。
func queryPayment(provider *payment.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CorrelationID string `json:"correlation_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		raw, err := provider.QueryStatus(c.Request.Context(), req.CorrelationID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": raw})
	}
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
