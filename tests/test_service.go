package tests

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zoryamarket/payrecon/config"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/db/migrations"
	"github.com/zoryamarket/payrecon/events"
	"github.com/zoryamarket/payrecon/logger"
)

type TestService struct {
	Cfg            config.Config
	DB             *gorm.DB
	EventPublisher events.EventPublisher
	WorkerID       string
}

func CreateTestService(t *testing.T) (*TestService, error) {
	return CreateTestServiceWithConfig(t, &config.AppConfig{})
}

func CreateTestServiceWithConfig(t *testing.T, appConfig *config.AppConfig) (*TestService, error) {
	logger.Init("4")

	if appConfig.DatabaseUri == "" {
		appConfig.DatabaseUri = filepath.Join(t.TempDir(), "test.db")
	}

	gormDB, err := db.NewDB(&db.Config{
		URI: appConfig.DatabaseUri,
	})
	if err != nil {
		return nil, err
	}

	err = migrations.Migrate(gormDB)
	if err != nil {
		return nil, err
	}

	return &TestService{
		Cfg:            config.NewConfig(appConfig),
		DB:             gormDB,
		EventPublisher: events.NewEventPublisher(),
		WorkerID:       uuid.NewString(),
	}, nil
}

func (svc *TestService) Remove() {
	db.Stop(svc.DB)
}
