package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shop_backend/internal/model"
	"shop_backend/internal/payment"
	rediskey "shop_backend/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	registered []rediskey.IntentMeta
	released   []string
}

func (f *fakeRegistrar) Register(_ context.Context, meta rediskey.IntentMeta) error {
	f.registered = append(f.registered, meta)
	return nil
}

func (f *fakeRegistrar) Release(_ context.Context, corr string) error {
	f.released = append(f.released, corr)
	return nil
}

// stubProvider 依次下发 ws_CO_1, ws_CO_2, ... 作为 correlation id。
func stubProvider(t *testing.T) *payment.Client {
	t.Helper()
	pushes := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		pushes++
		_ = json.NewEncoder(w).Encode(map[string]string{
			"CheckoutRequestID": fmt.Sprintf("ws_CO_%d", pushes),
			"ResponseCode":      "0",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return payment.NewClient(payment.ProviderConfig{
		BaseURL:     srv.URL,
		ConsumerKey: "ck",
		Secret:      "cs",
		ShortCode:   "174379",
		PassKey:     "pk",
		CallbackURL: "http://localhost:8080/api/payment/callback",
		Timeout:     2 * time.Second,
	})
}

func TestInitiatePaymentRegistersIntent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	reg := &fakeRegistrar{}
	r := gin.New()
	r.POST("/api/payment/initiate", initiatePayment(db, reg, stubProvider(t)))

	orderID := createOrder(t, db, "U1", model.OrderStatusPending)

	w := postJSON(r, "/api/payment/initiate",
		fmt.Sprintf(`{"owner_id":"U1","order_id":%d,"phone":"254700000000"}`, orderID))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, reg.registered, 1)
	meta := reg.registered[0]
	assert.Equal(t, "ws_CO_1", meta.CorrelationID)
	assert.Equal(t, orderID, meta.OrderID)
	assert.Equal(t, "U1", meta.OwnerID)
	assert.Equal(t, int64(2500), meta.Amount) // 金额取自订单而非请求
	assert.Empty(t, reg.released)

	var order model.Order
	require.NoError(t, db.First(&order, orderID).Error)
	assert.Equal(t, "ws_CO_1", order.PaymentCorrelationID)
}

func TestInitiatePaymentReleasesStaleIntent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	reg := &fakeRegistrar{}
	r := gin.New()
	r.POST("/api/payment/initiate", initiatePayment(db, reg, stubProvider(t)))

	orderID := createOrder(t, db, "U1", model.OrderStatusPending)
	body := fmt.Sprintf(`{"owner_id":"U1","order_id":%d,"phone":"254700000000"}`, orderID)

	require.Equal(t, http.StatusOK, postJSON(r, "/api/payment/initiate", body).Code)
	// 第一次推送没等到回调，用户重新发起：旧意向必须被释放
	require.Equal(t, http.StatusOK, postJSON(r, "/api/payment/initiate", body).Code)

	assert.Equal(t, []string{"ws_CO_1"}, reg.released)
	require.Len(t, reg.registered, 2)
	assert.Equal(t, "ws_CO_2", reg.registered[1].CorrelationID)

	var order model.Order
	require.NoError(t, db.First(&order, orderID).Error)
	assert.Equal(t, "ws_CO_2", order.PaymentCorrelationID)
}

func TestInitiatePaymentGuards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	reg := &fakeRegistrar{}
	r := gin.New()
	r.POST("/api/payment/initiate", initiatePayment(db, reg, stubProvider(t)))

	paidID := createOrder(t, db, "U1", model.OrderStatusPaid)
	pendingID := createOrder(t, db, "U1", model.OrderStatusPending)

	// 已付订单不可再发起
	w := postJSON(r, "/api/payment/initiate",
		fmt.Sprintf(`{"owner_id":"U1","order_id":%d,"phone":"254700000000"}`, paidID))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 他人订单按不存在处理
	w = postJSON(r, "/api/payment/initiate",
		fmt.Sprintf(`{"owner_id":"U2","order_id":%d,"phone":"254700000000"}`, pendingID))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, reg.registered)
}
