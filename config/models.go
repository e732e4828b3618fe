package config

type AppConfig struct {
	Workdir      string `envconfig:"WORK_DIR"`
	Port         string `envconfig:"PORT" default:"1620"`
	DatabaseUri  string `envconfig:"DATABASE_URI" default:"payrecon.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"4"`
	LogToFile    bool   `envconfig:"LOG_TO_FILE" default:"true"`
	LogDBQueries bool   `envconfig:"LOG_DB_QUERIES" default:"false"`

	WebhookMode string `envconfig:"WEBHOOK_MODE" default:"apply"`

	ClaimLeaseSeconds       int `envconfig:"CLAIM_LEASE_SECONDS" default:"120"`
	StaleActiveGraceSeconds int `envconfig:"STALE_ACTIVE_GRACE_SECONDS" default:"900"`
	OrphanTtlSeconds        int `envconfig:"ORPHAN_TTL_SECONDS" default:"120"`
	NeedsReviewAgeHours     int `envconfig:"NEEDS_REVIEW_AGE_HOURS" default:"24"`
	JanitorIntervalSeconds  int `envconfig:"JANITOR_INTERVAL_SECONDS" default:"60"`
	JanitorBatchSize        int `envconfig:"JANITOR_BATCH_SIZE" default:"50"`
}

type Config interface {
	GetEnv() *AppConfig
	GetWebhookMode() string
	GetClaimLease() int
	GetStaleActiveGrace() int
	GetOrphanTtl() int
	GetNeedsReviewAge() int
	GetJanitorInterval() int
	GetJanitorBatchSize() int
}
