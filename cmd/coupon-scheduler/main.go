// cmd/coupon-scheduler/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"promo/internal/pkg/bootstrap"
	"promo/internal/pkg/constants"
	"promo/internal/pkg/logger"
	"promo/internal/pkg/mq"
	"promo/internal/pkg/redis"
	"promo/internal/service/coupon/application"
	"promo/internal/service/coupon/infrastructure"
	"promo/internal/service/coupon/infrastructure/adapter"
	"promo/internal/service/coupon/port"
	"promo/internal/zookeeper"
)

const (
	serviceName = "coupon-scheduler"
	servicePort = 8091

	// 对账任务每分钟跑一轮；租约略短于下一轮，避免锁跨轮残留
	reconcileInterval = 1 * time.Minute
	reconcileMaxHold  = 50 * time.Second

	// 全量清扫每天一轮兜底；轻量清扫每小时只扫一页，让刚过期的券尽快失效
	sweepInterval = 24 * time.Hour
	sweepMaxHold  = 10 * time.Minute

	quickSweepInterval = 1 * time.Hour
	quickSweepMaxHold  = 5 * time.Minute
)

// 调度器是集群中的普通无状态实例：多实例同时部署时，
// 每一轮由抢到任务锁的实例执行，其余实例安静跳过。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

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

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatalf("FATAL: failed to connect redis: %v", err)
	}

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

	kafkaBrokers := strings.Split(cfg.Infra.Kafka.Brokers, ",")
	eventWriter := mq.NewKafkaWriter(kafkaBrokers, constants.CouponEventsTopic)
	publisher := adapter.NewEventKafkaAdapter(eventWriter)

	timeout := time.Duration(cfg.App.Coupon.ReservationTimeoutMinutes) * time.Minute
	batchSize := cfg.App.Coupon.SweepBatchSize

	reconciler := application.NewReservationTimeoutReconciler(couponRepo, publisher, timeout, batchSize)
	sweeper := application.NewExpirySweeper(couponRepo, batchSize)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(jobCtx)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())

			group.Go(func() error {
				runOnTicker(groupCtx, reconcileInterval, func(ctx context.Context) {
					err := application.RunExclusive(ctx, lockService, constants.ReservationTimeoutJob, reconcileMaxHold, func(ctx context.Context) error {
						_, err := reconciler.Run(ctx)
						return err
					})
					if err != nil {
						logger.Ctx(ctx).Error().Err(err).Msg("🛑 超时对账任务执行失败")
					}
				})
				return nil
			})

			group.Go(func() error {
				runOnTicker(groupCtx, sweepInterval, func(ctx context.Context) {
					err := application.RunExclusive(ctx, lockService, constants.ExpirySweepJob, sweepMaxHold, func(ctx context.Context) error {
						_, err := sweeper.Run(ctx)
						return err
					})
					if err != nil {
						logger.Ctx(ctx).Error().Err(err).Msg("🛑 过期清扫任务执行失败")
					}
				})
				return nil
			})

			group.Go(func() error {
				runOnTicker(groupCtx, quickSweepInterval, func(ctx context.Context) {
					err := application.RunExclusive(ctx, lockService, constants.ExpiryQuickSweepJob, quickSweepMaxHold, func(ctx context.Context) error {
						_, err := sweeper.RunOnce(ctx)
						return err
					})
					if err != nil {
						logger.Ctx(ctx).Error().Err(err).Msg("🛑 轻量清扫任务执行失败")
					}
				})
				return nil
			})
		},
		OnShutdown: func(ctx context.Context) {
			cancelJobs()
			if err := group.Wait(); err != nil {
				log.Printf("Error waiting for background jobs: %v", err)
			}
			if err := eventWriter.Close(); err != nil {
				log.Printf("Error closing kafka writer: %v", err)
			}
			if err := redisClient.Close(); err != nil {
				log.Printf("Error closing redis client: %v", err)
			}
		},
	})
}

// runOnTicker 周期性执行 fn，启动时立即跑一轮，直到上下文取消。
func runOnTicker(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}
