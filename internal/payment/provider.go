package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"shop_backend/internal/apperr"
)

// ProviderConfig 支付 provider（M-Pesa STK Push）接入参数。
type ProviderConfig struct {
	BaseURL     string
	ConsumerKey string
	Secret      string
	ShortCode   string
	PassKey     string
	CallbackURL string
	Timeout     time.Duration
}

// Client 封装 provider 的三个调用：取 token、发起 STK Push、状态查询。
// 所有外呼都带超时，provider 不可达以 ProviderError 上抛给发起方。
type Client struct {
	cfg  ProviderConfig
	http *http.Client
}

// NewClient 创建 provider 客户端。
func NewClient(cfg ProviderConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// accessToken client-credentials 方式换取访问令牌。
func (c *Client) accessToken(ctx context.Context) (string, error) {
	url := c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.Secret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}
	return out.AccessToken, nil
}

// password = base64(shortcode + passkey + timestamp)，timestamp 格式 yyyyMMddHHmmss。
func (c *Client) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + ts))
}

// InitiateSTKPush 向用户手机推送支付请求，返回 provider 下发的
// CheckoutRequestID 作为后续回调匹配用的 correlation id。
// 金额按分透传，与回调口径一致。
func (c *Client) InitiateSTKPush(ctx context.Context, phone string, amount int64, orderID uint) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", apperr.Provider("access token", err)
	}

	ts := time.Now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  fmt.Sprintf("Payment for Order %d", orderID),
		"TransactionDesc":   "Payment",
	}

	body, err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload)
	if err != nil {
		return "", apperr.Provider("stk push", err)
	}

	var out struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		ResponseDesc      string `json:"ResponseDescription"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperr.Provider("stk push", err)
	}
	if out.CheckoutRequestID == "" {
		return "", apperr.Provider("stk push", fmt.Errorf("no CheckoutRequestID in response: %s", string(body)))
	}
	return out.CheckoutRequestID, nil
}

// QueryStatus 主动查询一笔 STK Push 的最终状态。
// 供对账 / 意向过期后的人工核查使用，不在回调主链路上。
func (c *Client) QueryStatus(ctx context.Context, correlationID string) (json.RawMessage, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, apperr.Provider("access token", err)
	}

	ts := time.Now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": correlationID,
	}

	body, err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, payload)
	if err != nil {
		return nil, apperr.Provider("status query", err)
	}
	return json.RawMessage(body), nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}
