package events

import (
	"context"
	"slices"
	"sync"

	"github.com/zoryamarket/payrecon/logger"
)

type Event struct {
	Event      string      `json:"event"`
	Properties interface{} `json:"properties,omitempty"`
}

type EventSubscriber interface {
	ConsumeEvent(ctx context.Context, event *Event)
}

type EventPublisher interface {
	RegisterSubscriber(subscriber EventSubscriber)
	RemoveSubscriber(subscriber EventSubscriber)
	Publish(event *Event)
}

type eventPublisher struct {
	listeners       []EventSubscriber
	subscriberMutex sync.Mutex
}

func NewEventPublisher() *eventPublisher {
	return &eventPublisher{
		listeners: []EventSubscriber{},
	}
}

func (ep *eventPublisher) RegisterSubscriber(listener EventSubscriber) {
	ep.subscriberMutex.Lock()
	defer ep.subscriberMutex.Unlock()
	ep.listeners = append(ep.listeners, listener)
}

func (ep *eventPublisher) RemoveSubscriber(listenerToRemove EventSubscriber) {
	ep.subscriberMutex.Lock()
	defer ep.subscriberMutex.Unlock()

	for i, listener := range ep.listeners {
		if listener == listenerToRemove {
			ep.listeners = slices.Delete(ep.listeners, i, i+1)
			break
		}
	}
}

func (ep *eventPublisher) Publish(event *Event) {
	ep.subscriberMutex.Lock()
	listeners := slices.Clone(ep.listeners)
	ep.subscriberMutex.Unlock()

	logger.Logger.Debug().Str("event", event.Event).Msg("Publishing event")

	for _, listener := range listeners {
		// subscribers must not block the publishing path
		go func(listener EventSubscriber) {
			listener.ConsumeEvent(context.Background(), event)
		}(listener)
	}
}
