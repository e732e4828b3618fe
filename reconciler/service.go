package reconciler

import (
	"github.com/zoryamarket/payrecon/config"
	"github.com/zoryamarket/payrecon/events"
	"github.com/zoryamarket/payrecon/inventory"

	"gorm.io/gorm"
)

type reconcilerService struct {
	db             *gorm.DB
	cfg            config.Config
	eventPublisher events.EventPublisher
	restocker      inventory.Restocker
	coordinator    *Coordinator
	workerID       string
}

type ReconcilerService interface {
	HandleWebhook(rawBody []byte) (*AppliedOutcome, error)
	Ingest(rawBody []byte) (*IngestResult, error)
	Apply(eventID uint) (*AppliedOutcome, error)
	Process(eventID uint) (*AppliedOutcome, error)
	Replay(eventID uint) (*AppliedOutcome, error)
	MarkEventIssue(eventID uint, errorCode, errorMessage string)
	CreateAttempt(orderID uint, providerName string, expectedAmount int64) (*PaymentAttempt, error)
	AttachInvoice(attemptID uint, invoiceReference string) error
	Coordinator() *Coordinator
	WorkerID() string
}

// NewReconcilerService builds the engine. Worker identity is injected so
// every claim and release is attributable to one process, never a global.
func NewReconcilerService(gormDB *gorm.DB, cfg config.Config, eventPublisher events.EventPublisher, restocker inventory.Restocker, workerID string) *reconcilerService {
	return &reconcilerService{
		db:             gormDB,
		cfg:            cfg,
		eventPublisher: eventPublisher,
		restocker:      restocker,
		coordinator:    NewCoordinator(gormDB, cfg.GetClaimLease()),
		workerID:       workerID,
	}
}

func (svc *reconcilerService) Coordinator() *Coordinator {
	return svc.coordinator
}

func (svc *reconcilerService) WorkerID() string {
	return svc.workerID
}

type notFoundError struct {
}

func NewNotFoundError() error {
	return &notFoundError{}
}

func (err *notFoundError) Error() string {
	return "The requested row was not found"
}

type openAttemptError struct {
}

func NewOpenAttemptError() error {
	return &openAttemptError{}
}

func (err *openAttemptError) Error() string {
	return "The order already has a payment attempt expected to resolve"
}
