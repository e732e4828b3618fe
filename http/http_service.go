package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/logger"
	"github.com/zoryamarket/payrecon/metrics"
	"github.com/zoryamarket/payrecon/provider"
	"github.com/zoryamarket/payrecon/reconciler"
)

type HttpService struct {
	reconciler reconciler.ReconcilerService
	metrics    *metrics.Service
}

func NewHttpService(reconcilerService reconciler.ReconcilerService, metricsService *metrics.Service) *HttpService {
	return &HttpService{
		reconciler: reconcilerService,
		metrics:    metricsService,
	}
}

func (httpSvc *HttpService) RegisterSharedRoutes(e *echo.Echo) {
	e.POST("/webhooks/payments/:provider", httpSvc.webhookHandler)
	e.GET("/health", httpSvc.healthHandler)
	e.GET("/metrics", echo.WrapHandler(httpSvc.metrics.Handler()))
}

// webhookHandler is the live delivery path. The provider retries on non-2xx,
// so every recorded outcome answers 200; only a payload we refuse to store
// answers 400.
func (httpSvc *HttpService) webhookHandler(c echo.Context) error {
	providerName := c.Param("provider")
	if providerName != constants.PROVIDER_MONO {
		return c.JSON(http.StatusNotFound, map[string]string{
			"message": "unknown payment provider",
		})
	}

	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"message": "failed to read request body",
		})
	}

	outcome, err := httpSvc.reconciler.HandleWebhook(rawBody)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidPayload) {
			httpSvc.metrics.RecordAppliedResult(constants.APPLIED_RESULT_DROPPED, constants.ERROR_INVALID_PAYLOAD)
			return c.JSON(http.StatusBadRequest, map[string]string{
				"message": "invalid webhook payload",
			})
		}
		logger.Logger.Error().Err(err).Msg("Webhook handling failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"message": "failed to handle webhook",
		})
	}

	httpSvc.metrics.RecordAppliedResult(outcome.Result, outcome.ErrorCode)

	return c.JSON(http.StatusOK, map[string]string{
		"result": outcome.Result,
	})
}

func (httpSvc *HttpService) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
