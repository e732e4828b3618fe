package tests

import (
	"context"
	"sync"

	"github.com/zoryamarket/payrecon/events"
	"github.com/zoryamarket/payrecon/provider"
)

type MockEventConsumer struct {
	mutex          sync.Mutex
	consumedEvents []*events.Event
}

func NewMockEventConsumer() *MockEventConsumer {
	return &MockEventConsumer{}
}

func (consumer *MockEventConsumer) ConsumeEvent(ctx context.Context, event *events.Event) {
	consumer.mutex.Lock()
	defer consumer.mutex.Unlock()
	consumer.consumedEvents = append(consumer.consumedEvents, event)
}

func (consumer *MockEventConsumer) GetConsumedEvents() []*events.Event {
	consumer.mutex.Lock()
	defer consumer.mutex.Unlock()
	result := make([]*events.Event, len(consumer.consumedEvents))
	copy(result, consumer.consumedEvents)
	return result
}

// MockInvoiceStatusClient replays canned provider answers for the stale
// invoice sweep tests.
type MockInvoiceStatusClient struct {
	mutex     sync.Mutex
	Statuses  map[string]*provider.InvoiceStatus
	Err       error
	requested []string
}

func NewMockInvoiceStatusClient() *MockInvoiceStatusClient {
	return &MockInvoiceStatusClient{
		Statuses: map[string]*provider.InvoiceStatus{},
	}
}

func (client *MockInvoiceStatusClient) GetInvoiceStatus(ctx context.Context, invoiceID string) (*provider.InvoiceStatus, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.requested = append(client.requested, invoiceID)
	if client.Err != nil {
		return nil, client.Err
	}
	status, found := client.Statuses[invoiceID]
	if !found {
		return nil, provider.ErrInvalidPayload
	}
	return status, nil
}

func (client *MockInvoiceStatusClient) RequestedInvoiceIDs() []string {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	result := make([]string, len(client.requested))
	copy(result, client.requested)
	return result
}
