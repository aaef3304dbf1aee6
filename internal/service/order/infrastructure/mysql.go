package infrastructure

import (
	"context"
	"time"

	"orderhub/internal/pkg/bootstrap"
	"orderhub/internal/pkg/logger"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DSN 使用驱动自带的 Config 生成连接串，避免手工拼接时的转义问题。
func DSN(cfg bootstrap.MySQLConfig) string {
	dc := mysqldriver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = cfg.Addr
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.ClientFoundRows = true
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// OpenMySQL 打开连接池并做一次 Ping，按需执行 AutoMigrate。
func OpenMySQL(ctx context.Context, cfg bootstrap.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(DSN(cfg)), GormConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "open mysql %s", cfg.Addr)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrapf(err, "ping mysql %s", cfg.Addr)
	}

	if cfg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	logger.Ctx(ctx).Info().Str("addr", cfg.Addr).Str("database", cfg.Database).Msg("✅ Connected to MySQL.")
	return db, nil
}

// GormConfig 是所有连接共用的 GORM 配置。TranslateError 让主键冲突变成 gorm.ErrDuplicatedKey。
func GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

func AutoMigrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&OrderModel{}, &OrderProductModel{}), "auto migrate")
}
