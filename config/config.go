package config

import (
	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/logger"
)

type config struct {
	Env *AppConfig
}

func NewConfig(env *AppConfig) *config {
	cfg := &config{
		Env: env,
	}

	switch env.WebhookMode {
	case constants.WEBHOOK_MODE_APPLY, constants.WEBHOOK_MODE_STORE, constants.WEBHOOK_MODE_DROP:
	default:
		logger.Logger.Warn().
			Str("webhook_mode", env.WebhookMode).
			Msg("Unknown webhook mode, falling back to apply")
		env.WebhookMode = constants.WEBHOOK_MODE_APPLY
	}

	return cfg
}

func (cfg *config) GetEnv() *AppConfig {
	return cfg.Env
}

func (cfg *config) GetWebhookMode() string {
	return cfg.Env.WebhookMode
}

func (cfg *config) GetClaimLease() int {
	return clamp(cfg.Env.ClaimLeaseSeconds, 10, 3600, constants.DEFAULT_CLAIM_LEASE_SECONDS)
}

func (cfg *config) GetStaleActiveGrace() int {
	return clamp(cfg.Env.StaleActiveGraceSeconds, 60, 86400, constants.DEFAULT_STALE_ACTIVE_GRACE_SECONDS)
}

func (cfg *config) GetOrphanTtl() int {
	return clamp(cfg.Env.OrphanTtlSeconds, 30, 86400, constants.DEFAULT_ORPHAN_TTL_SECONDS)
}

func (cfg *config) GetNeedsReviewAge() int {
	return clamp(cfg.Env.NeedsReviewAgeHours, 1, 24*30, constants.DEFAULT_NEEDS_REVIEW_AGE_HOURS)
}

func (cfg *config) GetJanitorInterval() int {
	return clamp(cfg.Env.JanitorIntervalSeconds, 10, 3600, 60)
}

func (cfg *config) GetJanitorBatchSize() int {
	return clamp(cfg.Env.JanitorBatchSize, 1, 1000, constants.DEFAULT_JANITOR_BATCH_SIZE)
}

// env-tunable values are clamped rather than rejected so a bad value
// cannot disable a janitor sweep entirely
func clamp(value, min, max, fallback int) int {
	if value == 0 {
		return fallback
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
