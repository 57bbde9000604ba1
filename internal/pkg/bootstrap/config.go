// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构。
// 配置来源优先级：环境变量 > 配置文件 > 默认值。
type Config struct {
	App struct {
		LogLevel string `yaml:"log_level"`
		Coupon   struct {
			// 预订单占用优惠券的超时时间（分钟），超时后由对账任务回滚
			ReservationTimeoutMinutes int `yaml:"reservation_timeout_minutes"`
			// 过期清扫任务每批处理的行数
			SweepBatchSize int `yaml:"sweep_batch_size"`
			// 抢锁等待与租约时间（秒）
			LockWaitSeconds  int `yaml:"lock_wait_seconds"`
			LockLeaseSeconds int `yaml:"lock_lease_seconds"`
		} `yaml:"coupon"`
	} `yaml:"app"`
	Infra struct {
		Mysql struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
		} `yaml:"mysql"`
		Redis struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers string `yaml:"brokers"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"zookeeper"`
		Lock struct {
			// 分布式锁后端: "redis" (默认) 或 "zookeeper"
			Provider string `yaml:"provider"`
		} `yaml:"lock"`
	} `yaml:"infra"`
}

var (
	currentConfig *Config
	configOnce    sync.Once
)

// Init 加载配置。应在 main 中最先调用。
func Init() {
	configOnce.Do(func() {
		cfg := defaultConfig()

		path := getEnv("CONFIG_FILE", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.Fatalf("FATAL: invalid config file %s: %v", path, err)
			}
			log.Printf("✅ Loaded config from %s", path)
		}

		// 环境变量覆盖，便于容器化部署
		cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
		cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
		cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
		cfg.Infra.Zookeeper.Addrs = getEnv("ZOOKEEPER_ADDRS", cfg.Infra.Zookeeper.Addrs)
		cfg.Infra.Lock.Provider = getEnv("LOCK_PROVIDER", cfg.Infra.Lock.Provider)
		cfg.Infra.Mysql.Host = getEnv("MYSQL_HOST", cfg.Infra.Mysql.Host)
		cfg.Infra.Mysql.User = getEnv("MYSQL_USER", cfg.Infra.Mysql.User)
		cfg.Infra.Mysql.Password = getEnv("MYSQL_PASSWORD", cfg.Infra.Mysql.Password)
		cfg.Infra.Mysql.Database = getEnv("MYSQL_DATABASE", cfg.Infra.Mysql.Database)

		currentConfig = cfg
	})
}

// GetCurrentConfig 返回当前生效的配置。
func GetCurrentConfig() *Config {
	if currentConfig == nil {
		Init()
	}
	return currentConfig
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.LogLevel = "info"
	cfg.App.Coupon.ReservationTimeoutMinutes = 30
	cfg.App.Coupon.SweepBatchSize = 100
	cfg.App.Coupon.LockWaitSeconds = 3
	cfg.App.Coupon.LockLeaseSeconds = 10
	cfg.Infra.Mysql.Host = "localhost"
	cfg.Infra.Mysql.Port = 3306
	cfg.Infra.Mysql.User = "root"
	cfg.Infra.Mysql.Database = "promo"
	cfg.Infra.Redis.Addrs = "localhost:6379"
	cfg.Infra.Kafka.Brokers = "localhost:9092"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Zookeeper.Addrs = "localhost:2181"
	cfg.Infra.Lock.Provider = "redis"
	return cfg
}
