package db

import (
	"strings"
	"time"

	"github.com/zoryamarket/payrecon/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	URI        string
	LogQueries bool
}

func NewDB(config *Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	}
	if config.LogQueries {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(config.URI, "postgres://") || strings.HasPrefix(config.URI, "postgresql://") {
		dialector = postgres.Open(config.URI)
	} else {
		// sqlite needs busy_timeout so concurrent janitor sweeps do not
		// fail immediately on a locked database file
		uri := config.URI
		if !strings.Contains(uri, "_busy_timeout") {
			uri = uri + "?_busy_timeout=5000&_journal_mode=WAL"
		}
		dialector = sqlite.Open(uri)
	}

	gormDB, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to open database")
		return nil, err
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gormDB, nil
}

func Stop(gormDB *gorm.DB) error {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
