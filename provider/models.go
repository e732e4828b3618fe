package provider

import (
	"context"
	"time"
)

// NormalizedEvent is the explicitly-typed value extracted from one provider
// notification. Nothing downstream of the parser touches the raw payload
// except to persist it for the audit trail.
type NormalizedEvent struct {
	EventID    string
	InvoiceID  string
	Status     string
	Amount     int64 // minor units
	Currency   int   // ISO-4217 numeric
	Reference  string
	ModifiedAt *time.Time
	Raw        []byte
}

type InvoiceStatus struct {
	InvoiceID  string
	Status     string
	Amount     int64
	Currency   int
	Reference  string
	ModifiedAt *time.Time
	Raw        []byte
}

// InvoiceStatusClient is the provider status API consumed by the stale
// active reconciler. The HTTP implementation lives outside this module.
type InvoiceStatusClient interface {
	GetInvoiceStatus(ctx context.Context, invoiceID string) (*InvoiceStatus, error)
}
