// internal/service/coupon/infrastructure/mysql.go
package infrastructure

import (
	"fmt"
	"time"

	sqlmysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MysqlConfig 是建立 MySQL 连接所需的参数。
type MysqlConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// mysqlDSNConfig 用驱动自带的 Config 构造 DSN，
// 避免手写连接串时遗漏 parseTime 之类的参数。
func mysqlDSNConfig(cfg MysqlConfig) *sqlmysql.Config {
	dsnCfg := sqlmysql.NewConfig()
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.DBName = cfg.Database
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.UTC
	// RowsAffected 按"匹配到的行"计，条件更新命中但值未变时也不为 0，
	// 否则把上限改成当前值这样的幂等重试会被误判成条件不满足
	dsnCfg.ClientFoundRows = true
	dsnCfg.Params = map[string]string{"charset": "utf8mb4"}
	return dsnCfg
}

// NewMysqlDB 打开一个 GORM 数据库连接并完成表结构迁移。
func NewMysqlDB(cfg MysqlConfig) (*gorm.DB, error) {
	dsnCfg := mysqlDSNConfig(cfg)

	db, err := gorm.Open(gormmysql.Open(dsnCfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to mysql at %s", dsnCfg.Addr)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&CouponPolicyModel{}, &CouponIssueModel{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate coupon tables")
	}
	return db, nil
}
