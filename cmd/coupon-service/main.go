// cmd/coupon-service/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"promo/internal/pkg/bootstrap"
	"promo/internal/pkg/constants"
	"promo/internal/pkg/mq"
	"promo/internal/pkg/redis"
	"promo/internal/service/coupon/application"
	"promo/internal/service/coupon/infrastructure"
	"promo/internal/service/coupon/infrastructure/adapter"
	"promo/internal/service/coupon/infrastructure/rule"
	"promo/internal/service/coupon/interfaces"
	"promo/internal/service/coupon/port"
	"promo/internal/zookeeper"
)

const (
	serviceName = "coupon-service"
	servicePort = 8090
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	// 1. 持久化层
	db, err := infrastructure.NewMysqlDB(infrastructure.MysqlConfig{
		Host:     cfg.Infra.Mysql.Host,
		Port:     cfg.Infra.Mysql.Port,
		User:     cfg.Infra.Mysql.User,
		Password: cfg.Infra.Mysql.Password,
		Database: cfg.Infra.Mysql.Database,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to connect mysql: %v", err)
	}
	couponRepo := infrastructure.NewGormCouponRepository(db)
	policyRepo := infrastructure.NewGormPolicyRepository(db)

	// 2. Redis：抢券快路径 + 分布式锁的默认后端
	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatalf("FATAL: failed to connect redis: %v", err)
	}
	fastStock, err := adapter.NewStockRedisAdapter(redisClient)
	if err != nil {
		log.Fatalf("FATAL: failed to init fast stock adapter: %v", err)
	}

	// 3. 分布式锁后端按配置切换，业务代码只依赖 port.LockService
	var lockService port.LockService
	switch cfg.Infra.Lock.Provider {
	case "zookeeper":
		zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Addrs, 5*time.Second)
		if err != nil {
			log.Fatalf("FATAL: failed to connect zookeeper: %v", err)
		}
		lockService = adapter.NewZookeeperLockAdapter(zkConn)
	default:
		lockService = adapter.NewRedisLockAdapter(redisClient)
	}

	// 4. 规则引擎与事件广播
	ruleEngine, err := rule.NewCELRuleEngineAdapter()
	if err != nil {
		log.Fatalf("FATAL: failed to init rule engine: %v", err)
	}
	kafkaBrokers := strings.Split(cfg.Infra.Kafka.Brokers, ",")
	eventWriter := mq.NewKafkaWriter(kafkaBrokers, constants.CouponEventsTopic)
	publisher := adapter.NewEventKafkaAdapter(eventWriter)

	// 5. 应用服务
	appSvc := application.NewCouponApplicationService(
		couponRepo,
		policyRepo,
		lockService,
		fastStock,
		ruleEngine,
		publisher,
		otel.Tracer(serviceName),
		time.Duration(cfg.App.Coupon.LockWaitSeconds)*time.Second,
		time.Duration(cfg.App.Coupon.LockLeaseSeconds)*time.Second,
	)

	// 6. 支付结果消费者
	paymentReader := mq.NewKafkaReader(kafkaBrokers, constants.PaymentEventsTopic, constants.PaymentConsumerGroupID)
	paymentConsumer := interfaces.NewPaymentConsumerAdapter(paymentReader, appSvc)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())

			handler := interfaces.NewCouponHandler(appSvc)
			handler.RegisterRoutes(appCtx.Mux)

			if err := paymentConsumer.Start(consumerCtx); err != nil {
				log.Fatalf("FATAL: failed to start payment consumer: %v", err)
			}
		},
		OnShutdown: func(ctx context.Context) {
			cancelConsumer()
			paymentConsumer.Stop(ctx)
			if err := eventWriter.Close(); err != nil {
				log.Printf("Error closing kafka writer: %v", err)
			}
			if err := redisClient.Close(); err != nil {
				log.Printf("Error closing redis client: %v", err)
			}
		},
	})
}
