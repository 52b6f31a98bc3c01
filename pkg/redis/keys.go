package redis

import "fmt"

// CartKey 某用户购物车的缓存键。
func CartKey(ownerID string) string {
	return fmt.Sprintf("shop:cart:%s", ownerID)
}

// UserOrdersKey 某用户订单列表的缓存键。
func UserOrdersKey(ownerID string) string {
	return fmt.Sprintf("shop:orders:%s", ownerID)
}

// OrderKey 单个订单详情的缓存键。
func OrderKey(orderID uint) string {
	return fmt.Sprintf("shop:order:%d", orderID)
}

// IntentKey 将 provider 下发的 correlation id 映射到内部订单的路由键。
func IntentKey(correlationID string) string {
	return fmt.Sprintf("shop:payment:intent:%s", correlationID)
}

// RateLimitUserKey 下单接口按用户限流的键。
func RateLimitUserKey(ownerID string) string {
	return fmt.Sprintf("rate_limit:order_place:user:%s", ownerID)
}

// RateLimitIPKey 解析不到用户时按 IP 限流的降级键。
func RateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:order_place:ip:%s", ip)
}
