package service

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gorm.io/gorm"

	"github.com/zoryamarket/payrecon/config"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/db/migrations"
	"github.com/zoryamarket/payrecon/events"
	"github.com/zoryamarket/payrecon/inventory"
	"github.com/zoryamarket/payrecon/janitor"
	"github.com/zoryamarket/payrecon/logger"
	"github.com/zoryamarket/payrecon/metrics"
	"github.com/zoryamarket/payrecon/pkg/version"
	"github.com/zoryamarket/payrecon/provider"
	"github.com/zoryamarket/payrecon/reconciler"
)

type service struct {
	cfg config.Config

	db                *gorm.DB
	eventPublisher    events.EventPublisher
	reconcilerService reconciler.ReconcilerService
	janitorService    janitor.JanitorService
	metricsService    *metrics.Service
	ctx               context.Context
	workerID          string
}

func NewService(ctx context.Context, providerClient provider.InvoiceStatusClient) (*service, error) {
	// Load config from environment variables / .env file
	godotenv.Load(".env")
	appConfig := &config.AppConfig{}
	err := envconfig.Process("", appConfig)
	if err != nil {
		return nil, err
	}

	logger.Init(appConfig.LogLevel)
	logger.Logger.Info().Msg("payrecon " + version.Tag)

	if appConfig.Workdir != "" {
		os.MkdirAll(appConfig.Workdir, os.ModePerm)
		if appConfig.LogToFile {
			err = logger.AddFileLogger(appConfig.Workdir)
			if err != nil {
				return nil, err
			}
		}
	}

	cfg := config.NewConfig(appConfig)

	databaseUri := appConfig.DatabaseUri
	if appConfig.Workdir != "" && !filepath.IsAbs(databaseUri) {
		databaseUri = filepath.Join(appConfig.Workdir, databaseUri)
	}

	gormDB, err := db.NewDB(&db.Config{
		URI:        databaseUri,
		LogQueries: appConfig.LogDBQueries,
	})
	if err != nil {
		return nil, err
	}

	err = migrations.Migrate(gormDB)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to migrate database")
		return nil, err
	}

	workerID := uuid.NewString()
	eventPublisher := events.NewEventPublisher()
	metricsService := metrics.NewMetricsService()
	eventPublisher.RegisterSubscriber(metricsService)

	restocker := inventory.NewInventoryService(gormDB)
	reconcilerService := reconciler.NewReconcilerService(gormDB, cfg, eventPublisher, restocker, workerID)
	janitorService := janitor.NewJanitorService(gormDB, cfg, reconcilerService, providerClient, restocker, metricsService)
	janitorService.Start(ctx)

	logger.Logger.Info().
		Str("worker_id", workerID).
		Str("webhook_mode", cfg.GetWebhookMode()).
		Msg("Reconciliation service created")

	return &service{
		cfg:               cfg,
		db:                gormDB,
		eventPublisher:    eventPublisher,
		reconcilerService: reconcilerService,
		janitorService:    janitorService,
		metricsService:    metricsService,
		ctx:               ctx,
		workerID:          workerID,
	}, nil
}

func (svc *service) GetConfig() config.Config {
	return svc.cfg
}

func (svc *service) GetReconcilerService() reconciler.ReconcilerService {
	return svc.reconcilerService
}

func (svc *service) GetJanitorService() janitor.JanitorService {
	return svc.janitorService
}

func (svc *service) GetMetricsService() *metrics.Service {
	return svc.metricsService
}

func (svc *service) GetEventPublisher() events.EventPublisher {
	return svc.eventPublisher
}

func (svc *service) Shutdown() error {
	logger.Logger.Info().Msg("Shutting down reconciliation service")
	return db.Stop(svc.db)
}
