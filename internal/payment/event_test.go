package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 2500},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

const failureCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestParseCallbackSuccess(t *testing.T) {
	ev, err := ParseCallback([]byte(successCallback))
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", ev.CorrelationID)
	assert.Equal(t, 0, ev.ResultCode)
	assert.Equal(t, int64(2500), ev.Amount)
	assert.Equal(t, "NLJ7RT61SV", ev.ReceiptNo)
	assert.Equal(t, "254708374149", ev.Phone)
	assert.JSONEq(t, successCallback, ev.Raw)
}

func TestParseCallbackFailure(t *testing.T) {
	// 失败回调没有 CallbackMetadata，金额等字段取零值
	ev, err := ParseCallback([]byte(failureCallback))
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", ev.CorrelationID)
	assert.Equal(t, 1032, ev.ResultCode)
	assert.Equal(t, "Request cancelled by user", ev.ResultDesc)
	assert.Zero(t, ev.Amount)
	assert.Empty(t, ev.ReceiptNo)
}

func TestParseCallbackMissingCorrelationID(t *testing.T) {
	_, err := ParseCallback([]byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`))
	assert.Error(t, err)
}

func TestParseCallbackMalformed(t *testing.T) {
	_, err := ParseCallback([]byte(`{not json`))
	assert.Error(t, err)
}

func TestParseCallbackStringAmount(t *testing.T) {
	// 个别网关把数字字段发成字符串，金额解析宽松但不报错
	body := `{
	  "Body": {
	    "stkCallback": {
	      "CheckoutRequestID": "ws_CO_1",
	      "ResultCode": 0,
	      "CallbackMetadata": {
	        "Item": [
	          {"Name": "Amount", "Value": "2500"},
	          {"Name": "MpesaReceiptNumber", "Value": "ABC123"}
	        ]
	      }
	    }
	  }
	}`
	ev, err := ParseCallback([]byte(body))
	require.NoError(t, err)
	// 字符串金额不在宽松转换范围内，落回零值，留给对账兜底
	assert.Zero(t, ev.Amount)
	assert.Equal(t, "ABC123", ev.ReceiptNo)
}
