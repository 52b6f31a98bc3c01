package router

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	appended []map[string]any
	err      error
}

func (f *fakeSink) Append(_ context.Context, values map[string]any) error {
	f.appended = append(f.appended, values)
	return f.err
}

func newCallbackRouter(sink eventSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/payment/callback", paymentCallback(sink))
	return r
}

func postCallback(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payment/callback", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const callbackBody = `{
  "Body": {
    "stkCallback": {
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 2500},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

func TestPaymentCallbackAcksAndEnqueues(t *testing.T) {
	sink := &fakeSink{}
	w := postCallback(newCallbackRouter(sink), callbackBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())

	require.Len(t, sink.appended, 1)
	got := sink.appended[0]
	assert.Equal(t, "ws_CO_191220191020363925", got["correlation_id"])
	assert.Equal(t, "0", got["result_code"])
	assert.Equal(t, "2500", got["amount"])
	assert.Equal(t, "NLJ7RT61SV", got["receipt_no"])
}

func TestPaymentCallbackMalformedStillAcks(t *testing.T) {
	// 脏报文照样 200：回不了 200 会引来 provider 重试风暴
	sink := &fakeSink{}
	r := newCallbackRouter(sink)

	for _, body := range []string{
		`{not json`,
		`{"Body":{"stkCallback":{"ResultCode":0}}}`, // 没有 CheckoutRequestID
		``,
	} {
		w := postCallback(r, body)
		assert.Equal(t, http.StatusOK, w.Code, "body=%q", body)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	}
	assert.Empty(t, sink.appended)
}

func TestPaymentCallbackOutboxFailureStillAcks(t *testing.T) {
	sink := &fakeSink{err: errors.New("redis down")}
	w := postCallback(newCallbackRouter(sink), callbackBody)

	// 出箱失败不向 provider 暴露
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
}

func TestPaymentCallbackDuplicateDeliveries(t *testing.T) {
	// 入口不做去重，只负责 ACK + 入箱；幂等由下游意向消费保证
	sink := &fakeSink{}
	r := newCallbackRouter(sink)
	for i := 0; i < 5; i++ {
		w := postCallback(r, callbackBody)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Len(t, sink.appended, 5)
}
