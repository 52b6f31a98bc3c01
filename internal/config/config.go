package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、支付事件 Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（回调入口原子入流，Relay 异步转 Kafka）
	CallbackStream   string
	CallbackGroup    string
	CallbackConsumer string

	// 下单接口限流与缓存策略
	PlaceRateLimit  int
	PlaceRateWindow time.Duration
	CacheTTL        time.Duration

	// 支付意向存活窗口：provider 超时未回调即视为放弃
	IntentTTL time.Duration

	// 回调落库的内部重试：丢失成功支付通知是最严重的失败模式
	CallbackMaxAttempts int
	CallbackBackoff     time.Duration

	// 支付 provider（M-Pesa STK Push）接入参数
	MpesaBaseURL     string
	MpesaConsumerKey string
	MpesaSecret      string
	MpesaShortCode   string
	MpesaPassKey     string
	MpesaCallbackURL string
	MpesaTimeout     time.Duration
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DBPath:              getEnv("DB_PATH", "shop_backend.db"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             0,
		KafkaBrokers:        splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "payment-events"),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "payment-event-consumer"),
		CallbackStream:      getEnv("CALLBACK_STREAM", "shop:payment:callbacks"),
		CallbackGroup:       getEnv("CALLBACK_GROUP", "payment-relay-group"),
		CallbackConsumer:    getEnv("CALLBACK_CONSUMER", "payment-relay-1"),
		PlaceRateLimit:      20,
		PlaceRateWindow:     time.Second,
		CacheTTL:            10 * time.Minute,
		IntentTTL:           15 * time.Minute,
		CallbackMaxAttempts: 5,
		CallbackBackoff:     500 * time.Millisecond,
		MpesaBaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		MpesaConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
		MpesaSecret:         getEnv("MPESA_SECRET_KEY", ""),
		MpesaShortCode:      getEnv("MPESA_SHORT_CODE", "174379"),
		MpesaPassKey:        getEnv("MPESA_PASS_KEY", ""),
		MpesaCallbackURL:    getEnv("MPESA_CALLBACK_URL", "http://localhost:8080/api/payment/callback"),
		MpesaTimeout:        10 * time.Second,
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("PLACE_RATE_LIMIT", cfg.PlaceRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PLACE_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("PLACE_RATE_LIMIT must be > 0")
	}
	cfg.PlaceRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("PLACE_RATE_WINDOW_SEC", int(cfg.PlaceRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PLACE_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("PLACE_RATE_WINDOW_SEC must be > 0")
	}
	cfg.PlaceRateWindow = time.Duration(rateWindowSec) * time.Second

	cacheTTLMin, err := getEnvInt("CACHE_TTL_MIN", int(cfg.CacheTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_TTL_MIN: %w", err)
	}
	if cacheTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_TTL_MIN must be > 0")
	}
	cfg.CacheTTL = time.Duration(cacheTTLMin) * time.Minute

	intentTTLMin, err := getEnvInt("INTENT_TTL_MIN", int(cfg.IntentTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid INTENT_TTL_MIN: %w", err)
	}
	if intentTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("INTENT_TTL_MIN must be > 0")
	}
	cfg.IntentTTL = time.Duration(intentTTLMin) * time.Minute

	attempts, err := getEnvInt("CALLBACK_MAX_ATTEMPTS", cfg.CallbackMaxAttempts)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CALLBACK_MAX_ATTEMPTS: %w", err)
	}
	if attempts <= 0 {
		return AppConfig{}, fmt.Errorf("CALLBACK_MAX_ATTEMPTS must be > 0")
	}
	cfg.CallbackMaxAttempts = attempts

	backoffMs, err := getEnvInt("CALLBACK_BACKOFF_MS", int(cfg.CallbackBackoff.Milliseconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CALLBACK_BACKOFF_MS: %w", err)
	}
	if backoffMs <= 0 {
		return AppConfig{}, fmt.Errorf("CALLBACK_BACKOFF_MS must be > 0")
	}
	cfg.CallbackBackoff = time.Duration(backoffMs) * time.Millisecond

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.CallbackStream == "" {
		return AppConfig{}, fmt.Errorf("CALLBACK_STREAM must not be empty")
	}
	if cfg.CallbackGroup == "" {
		return AppConfig{}, fmt.Errorf("CALLBACK_GROUP must not be empty")
	}
	if cfg.CallbackConsumer == "" {
		return AppConfig{}, fmt.Errorf("CALLBACK_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
