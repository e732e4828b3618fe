package constants

// shared constants used by multiple packages

const (
	PROVIDER_MONO = "mono"

	// ISO-4217 numeric code of the provider's settlement currency (UAH)
	MONO_NATIVE_CURRENCY = 980
)

const (
	PAYMENT_STATUS_PENDING          = "pending"
	PAYMENT_STATUS_REQUIRES_PAYMENT = "requires_payment"
	PAYMENT_STATUS_PAID             = "paid"
	PAYMENT_STATUS_FAILED           = "failed"
	PAYMENT_STATUS_REFUNDED         = "refunded"
	PAYMENT_STATUS_NEEDS_REVIEW     = "needs_review"
)

const (
	ORDER_STATUS_INVENTORY_RESERVED = "inventory_reserved"
	ORDER_STATUS_INVENTORY_FAILED   = "inventory_failed"
	ORDER_STATUS_PAID               = "paid"
	ORDER_STATUS_CANCELED           = "canceled"
)

const (
	INVENTORY_STATUS_NONE     = "none"
	INVENTORY_STATUS_RESERVED = "reserved"
	INVENTORY_STATUS_RELEASED = "released"
)

const (
	ATTEMPT_STATE_CREATING  = "creating"
	ATTEMPT_STATE_ACTIVE    = "active"
	ATTEMPT_STATE_SUCCEEDED = "succeeded"
	ATTEMPT_STATE_FAILED    = "failed"
	ATTEMPT_STATE_CANCELED  = "canceled"
)

// normalized provider invoice statuses
const (
	INVOICE_STATUS_CREATED    = "created"
	INVOICE_STATUS_PROCESSING = "processing"
	INVOICE_STATUS_HOLD       = "hold"
	INVOICE_STATUS_SUCCESS    = "success"
	INVOICE_STATUS_FAILURE    = "failure"
	INVOICE_STATUS_REVERSED   = "reversed"
	INVOICE_STATUS_EXPIRED    = "expired"
)

// outcome classification recorded on every webhook event row
const (
	APPLIED_RESULT_APPLIED            = "applied"
	APPLIED_RESULT_APPLIED_NOOP       = "applied_noop"
	APPLIED_RESULT_APPLIED_WITH_ISSUE = "applied_with_issue"
	APPLIED_RESULT_STORED             = "stored"
	APPLIED_RESULT_DROPPED            = "dropped"
	APPLIED_RESULT_UNMATCHED          = "unmatched"
	APPLIED_RESULT_DEDUPED            = "deduped"
)

const (
	WEBHOOK_MODE_APPLY = "apply"
	WEBHOOK_MODE_STORE = "store"
	WEBHOOK_MODE_DROP  = "drop"
)

const (
	RESTOCK_REASON_FAILED   = "failed"
	RESTOCK_REASON_REFUNDED = "refunded"
	RESTOCK_REASON_CANCELED = "canceled"
	RESTOCK_REASON_STALE    = "stale"
)

const (
	INVENTORY_DIRECTION_RESERVE = "reserve"
	INVENTORY_DIRECTION_RELEASE = "release"
)

// error codes recorded on webhook event and attempt rows
const (
	ERROR_INVALID_PAYLOAD           = "INVALID_PAYLOAD"
	ERROR_ATTEMPT_NOT_FOUND         = "ATTEMPT_NOT_FOUND"
	ERROR_ORDER_NOT_FOUND           = "ORDER_NOT_FOUND"
	ERROR_OUT_OF_ORDER              = "OUT_OF_ORDER"
	ERROR_AMOUNT_MISMATCH           = "AMOUNT_MISMATCH"
	ERROR_PAYMENT_STATE_BLOCKED     = "PAYMENT_STATE_BLOCKED"
	ERROR_UNKNOWN_STATUS            = "UNKNOWN_STATUS"
	ERROR_INVOICE_MISSING           = "invoice_missing"
	ERROR_JANITOR_JOB3_APPLY_FAILED = "JANITOR_JOB3_APPLY_FAILED"
)

const (
	DEFAULT_CLAIM_LEASE_SECONDS        = 120
	DEFAULT_STALE_ACTIVE_GRACE_SECONDS = 900
	DEFAULT_ORPHAN_TTL_SECONDS         = 120
	DEFAULT_NEEDS_REVIEW_AGE_HOURS     = 24
	DEFAULT_JANITOR_BATCH_SIZE         = 50
)
