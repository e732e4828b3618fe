package janitor

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zoryamarket/payrecon/config"
	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/inventory"
	"github.com/zoryamarket/payrecon/logger"
	"github.com/zoryamarket/payrecon/metrics"
	"github.com/zoryamarket/payrecon/provider"
	"github.com/zoryamarket/payrecon/reconciler"
)

// JobReport is the structured completion event every sweep emits.
type JobReport struct {
	Processed int
	Applied   int
	Noop      int
	Failed    int
}

type janitorService struct {
	db             *gorm.DB
	cfg            config.Config
	reconciler     reconciler.ReconcilerService
	providerClient provider.InvoiceStatusClient
	restocker      inventory.Restocker
	metrics        *metrics.Service
}

type JanitorService interface {
	Start(ctx context.Context)
	ReconcileStaleActive(ctx context.Context) *JobReport
	ExpireOrphans(ctx context.Context) *JobReport
	DrainStoredEvents(ctx context.Context) (*JobReport, error)
	ReportNeedsReview(ctx context.Context) error
}

func NewJanitorService(gormDB *gorm.DB, cfg config.Config, reconcilerService reconciler.ReconcilerService, providerClient provider.InvoiceStatusClient, restocker inventory.Restocker, metricsService *metrics.Service) *janitorService {
	return &janitorService{
		db:             gormDB,
		cfg:            cfg,
		reconciler:     reconcilerService,
		providerClient: providerClient,
		restocker:      restocker,
		metrics:        metricsService,
	}
}

// Start runs the periodic sweeps until the context is canceled. Each tick is
// bounded by the configured batch size; one bad item never aborts a sweep.
func (svc *janitorService) Start(ctx context.Context) {
	interval := time.Duration(svc.cfg.GetJanitorInterval()) * time.Second

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Logger.Info().
			Dur("interval", interval).
			Str("webhook_mode", svc.cfg.GetWebhookMode()).
			Msg("Janitor started")

		for {
			select {
			case <-ctx.Done():
				logger.Logger.Info().Msg("Janitor stopped")
				return
			case <-ticker.C:
				svc.runOnce(ctx)
			}
		}
	}()
}

func (svc *janitorService) runOnce(ctx context.Context) {
	svc.ReconcileStaleActive(ctx)
	svc.ExpireOrphans(ctx)

	if svc.cfg.GetWebhookMode() == constants.WEBHOOK_MODE_STORE {
		if _, err := svc.DrainStoredEvents(ctx); err != nil {
			logger.Logger.Error().Err(err).Msg("Stored-event drain failed")
		}
	}

	if err := svc.ReportNeedsReview(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Needs-review report failed")
	}
}
