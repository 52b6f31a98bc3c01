package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"shop_backend/internal/config"
	"shop_backend/internal/model"
	"shop_backend/internal/payment"
	"shop_backend/internal/queue"
	"shop_backend/internal/router"
	rediskey "shop_backend/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// 1. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := db.AutoMigrate(
		&model.CartItem{},
		&model.Order{},
		&model.OrderItem{},
		&model.PaymentRecord{},
	); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// 2. Redis：缓存、支付意向注册表、回调出箱、限流共用一个客户端
	rdb := rd.NewClient(&rd.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	cache := rediskey.NewCache(rdb, cfg.CacheTTL)
	intents := rediskey.NewIntentRegistry(rdb, cfg.IntentTTL)
	outbox := rediskey.NewOutbox(rdb, cfg.CallbackStream)

	// 3. 回调异步链路：outbox → relay → Kafka → consumer → ingestor
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	ingestor := payment.NewIngestor(db, intents, cache, cfg.CallbackMaxAttempts, cfg.CallbackBackoff)
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, ingestor)
	defer consumer.Close()
	relay := queue.NewRelay(rdb, producer, cfg.CallbackStream, cfg.CallbackGroup, cfg.CallbackConsumer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go relay.Run(ctx)
	go consumer.Run(ctx)

	// 4. 支付 provider 客户端
	provider := payment.NewClient(payment.ProviderConfig{
		BaseURL:     cfg.MpesaBaseURL,
		ConsumerKey: cfg.MpesaConsumerKey,
		Secret:      cfg.MpesaSecret,
		ShortCode:   cfg.MpesaShortCode,
		PassKey:     cfg.MpesaPassKey,
		CallbackURL: cfg.MpesaCallbackURL,
		Timeout:     cfg.MpesaTimeout,
	})

	r := gin.Default()
	router.Setup(r, db, rdb, cache, intents, outbox, provider, cfg)

	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
