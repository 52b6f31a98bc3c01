package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	ownerID := flag.String("owner", "", "owner id (random uuid if empty)")

	// 双提交测试参数：同一用户并发结算同一车，只许成功一单
	nCheckout := flag.Int("checkout", 50, "concurrent checkout requests")
	concurrency := flag.Int("c", 50, "max concurrency")

	// 重复回调测试：对同一 correlation id 连发重复回调，
	// 全部必须 200，事后订单只应有一条 success 流水。
	corrID := flag.String("corr", "", "correlation id for duplicate-callback storm (skip if empty)")
	nCallback := flag.Int("callbacks", 20, "duplicate callbacks to send")
	amount := flag.Int64("amount", 2500, "callback amount (minor units)")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	owner := *ownerID
	if owner == "" {
		owner = uuid.New().String()
	}

	// 1) 预置购物车：P1 x2 @1000 + P2 x1 @500，总额应为 2500
	seedCart(client, *baseURL, owner)
	fmt.Println("cart seeded for owner:", owner)

	// 2) 双提交测试：同一用户并发结算，只能有一个 200
	fmt.Printf("start double-checkout test: owner=%s n=%d concurrency=%d\n", owner, *nCheckout, *concurrency)
	results := runCheckout(client, *baseURL, owner, *nCheckout, *concurrency)
	printSummary("double_checkout", results)

	// 3) 重复回调风暴（需要先真实走一遍 /payment/initiate 拿 correlation id）
	if *corrID != "" {
		fmt.Printf("\nstart duplicate-callback storm: corr=%s n=%d\n", *corrID, *nCallback)
		results2 := runCallbackStorm(client, *baseURL, *corrID, *amount, *nCallback, *concurrency)
		printSummary("callback_storm", results2)
		fmt.Println("now verify: the order must have exactly one success payment record")
	}
}

func seedCart(client *http.Client, baseURL, owner string) {
	type item struct {
		ProductID uint  `json:"product_id"`
		Quantity  int   `json:"quantity"`
		UnitPrice int64 `json:"unit_price"`
	}
	for _, it := range []item{
		{ProductID: 1, Quantity: 2, UnitPrice: 1000},
		{ProductID: 2, Quantity: 1, UnitPrice: 500},
	} {
		body := map[string]any{
			"owner_id":   owner,
			"product_id": it.ProductID,
			"quantity":   it.Quantity,
			"unit_price": it.UnitPrice,
		}
		if r := doPOST(client, baseURL+"/api/cart", body); r.Err != nil || r.Status >= 300 {
			panic(fmt.Sprintf("seed cart failed: status=%d err=%v body=%s", r.Status, r.Err, r.Body))
		}
	}
}

func runCheckout(client *http.Client, baseURL, owner string, total, concurrency int) []Result {
	body := map[string]any{
		"owner_id":       owner,
		"shipping_name":  "Load Test",
		"country":        "KE",
		"address":        "1 Test Street",
		"payment_method": "mpesa",
		"items": []map[string]any{
			{"product_id": 1, "quantity": 2, "unit_price": 1000},
			{"product_id": 2, "quantity": 1, "unit_price": 500},
		},
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = doPOST(client, baseURL+"/api/order/place", body)
		}(i)
	}

	wg.Wait()
	return results
}

// runCallbackStorm 模拟 provider 对同一事件的重复投递。
func runCallbackStorm(client *http.Client, baseURL, corrID string, amount int64, total, concurrency int) []Result {
	envelope := map[string]any{
		"Body": map[string]any{
			"stkCallback": map[string]any{
				"MerchantRequestID": uuid.New().String(),
				"CheckoutRequestID": corrID,
				"ResultCode":        0,
				"ResultDesc":        "The service request is processed successfully.",
				"CallbackMetadata": map[string]any{
					"Item": []map[string]any{
						{"Name": "Amount", "Value": amount},
						{"Name": "MpesaReceiptNumber", "Value": "LOADTEST001"},
						{"Name": "PhoneNumber", "Value": 254700000000},
					},
				},
			},
		},
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = doPOST(client, baseURL+"/api/payment/callback", envelope)
		}(i)
	}

	wg.Wait()
	return results
}

func doPOST(client *http.Client, url string, body any) Result {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(respBody)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 429, 500, 502} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
