package router

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shop_backend/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.OrderItem{}))
	return db
}

type fakeInvalidator struct {
	keys []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, keys ...string) error {
	f.keys = append(f.keys, keys...)
	return nil
}

func createOrder(t *testing.T, db *gorm.DB, owner, status string) uint {
	t.Helper()
	order := &model.Order{
		OwnerID:           owner,
		ShippingName:      "Jane Buyer",
		Country:           "KE",
		Address:           "1 Market Street",
		OrderType:         "b2c",
		TotalAmount:       2500,
		PaymentMethod:     "mpesa",
		Status:            status,
		FulfillmentStatus: model.FulfillmentPending,
	}
	require.NoError(t, db.Create(order).Error)
	return order.ID
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func orderStatus(t *testing.T, db *gorm.DB, id uint) string {
	t.Helper()
	var order model.Order
	require.NoError(t, db.First(&order, id).Error)
	return order.Status
}

func TestUpdateOrderStatusTransitions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	inv := &fakeInvalidator{}
	r := gin.New()
	r.POST("/api/order/status", updateOrderStatus(db, inv))

	pendingID := createOrder(t, db, "U1", model.OrderStatusPending)
	paidID := createOrder(t, db, "U1", model.OrderStatusPaid)
	cancelledID := createOrder(t, db, "U1", model.OrderStatusCancelled)

	t.Run("pending to paid", func(t *testing.T) {
		w := postJSON(r, "/api/order/status",
			fmt.Sprintf(`{"order_id":%d,"status":"paid"}`, pendingID))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, model.OrderStatusPaid, orderStatus(t, db, pendingID))
		assert.NotEmpty(t, inv.keys)
	})

	t.Run("paid is terminal", func(t *testing.T) {
		w := postJSON(r, "/api/order/status",
			fmt.Sprintf(`{"order_id":%d,"status":"pending"}`, paidID))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, model.OrderStatusPaid, orderStatus(t, db, paidID))
	})

	t.Run("cancelled is terminal", func(t *testing.T) {
		w := postJSON(r, "/api/order/status",
			fmt.Sprintf(`{"order_id":%d,"status":"paid"}`, cancelledID))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, model.OrderStatusCancelled, orderStatus(t, db, cancelledID))
	})

	t.Run("fulfillment only", func(t *testing.T) {
		w := postJSON(r, "/api/order/status",
			fmt.Sprintf(`{"order_id":%d,"fulfillment_status":"shipped"}`, paidID))
		assert.Equal(t, http.StatusOK, w.Code)

		var order model.Order
		require.NoError(t, db.First(&order, paidID).Error)
		assert.Equal(t, model.FulfillmentShipped, order.FulfillmentStatus)
		assert.Equal(t, model.OrderStatusPaid, order.Status)
	})

	t.Run("invalid status value", func(t *testing.T) {
		w := postJSON(r, "/api/order/status",
			fmt.Sprintf(`{"order_id":%d,"status":"refunded"}`, pendingID))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing order", func(t *testing.T) {
		w := postJSON(r, "/api/order/status", `{"order_id":99999,"status":"paid"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCancelOrderOnlyPending(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := gin.New()
	r.POST("/api/order/cancel", cancelOrder(db, &fakeInvalidator{}))

	pendingID := createOrder(t, db, "U1", model.OrderStatusPending)
	paidID := createOrder(t, db, "U1", model.OrderStatusPaid)

	w := postJSON(r, "/api/order/cancel",
		fmt.Sprintf(`{"order_id":%d,"owner_id":"U1"}`, pendingID))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.OrderStatusCancelled, orderStatus(t, db, pendingID))

	// 已付订单不可取消
	w = postJSON(r, "/api/order/cancel",
		fmt.Sprintf(`{"order_id":%d,"owner_id":"U1"}`, paidID))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.OrderStatusPaid, orderStatus(t, db, paidID))

	// 他人订单不可取消
	w = postJSON(r, "/api/order/cancel",
		fmt.Sprintf(`{"order_id":%d,"owner_id":"U2"}`, pendingID))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
