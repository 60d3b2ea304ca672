// Package model is the relational layer: GORM entities for providers,
// endpoints, keys, the model catalogue, access tokens and the usage
// recorder, plus the monthly counters and retention jobs built on them.
package model

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/logger"
)

// DB is the process-wide database handle.
var DB *gorm.DB

// ErrRecordNotFound aliases gorm's not-found sentinel so callers need not
// import gorm directly.
var ErrRecordNotFound = gorm.ErrRecordNotFound

// InitDB connects the relational store and migrates the schema. The DSN
// prefix selects the driver; an empty DSN falls back to a local SQLite file.
func InitDB() error {
	db, err := openDB()
	if err != nil {
		return errors.Wrap(err, "open database")
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return errors.Wrap(err, "install gorm tracing plugin")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxIdleConns(config.SQLMaxIdleConns)
	sqlDB.SetMaxOpenConns(config.SQLMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(config.SQLMaxLifetimeSecs) * time.Second)

	DB = db
	if err := migrateSchema(); err != nil {
		return errors.Wrap(err, "migrate schema")
	}

	logger.Logger.Info("relational store ready",
		zap.Bool("sqlite", config.UsingSQLite.Load()),
		zap.Bool("postgres", config.UsingPostgreSQL.Load()),
		zap.Bool("mysql", config.UsingMySQL.Load()))
	return nil
}

func openDB() (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if config.DebugEnabled {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	dsn := config.SQLDSN
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		config.UsingPostgreSQL.Store(true)
		db, err := gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), gormConfig)
		return db, errors.Wrap(err, "open postgres")
	case dsn != "":
		config.UsingMySQL.Store(true)
		db, err := gorm.Open(mysql.Open(dsn), gormConfig)
		return db, errors.Wrap(err, "open mysql")
	default:
		config.UsingSQLite.Store(true)
		path, err := ensureSQLitePath()
		if err != nil {
			return nil, errors.Wrap(err, "ensure sqlite path")
		}
		db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), gormConfig)
		return db, errors.Wrap(err, "open sqlite")
	}
}

// ensureSQLitePath resolves the configured SQLite path to an absolute path
// and creates the parent directory when missing.
func ensureSQLitePath() (string, error) {
	abs, err := filepath.Abs(config.SQLitePath)
	if err != nil {
		return "", errors.Wrap(err, "resolve sqlite path")
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", errors.Wrap(err, "create sqlite directory")
	}
	return abs, nil
}

func migrateSchema() error {
	return errors.Wrap(DB.AutoMigrate(
		&Provider{},
		&Endpoint{},
		&ProviderKey{},
		&GlobalModel{},
		&ProviderModel{},
		&AccessToken{},
		&Usage{},
		&UsageCandidate{},
		&MonthlyCounter{},
	), "auto migrate")
}

// CloseDB releases the database connection pool.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "close database")
}
