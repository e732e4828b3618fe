package reconciler

import "github.com/zoryamarket/payrecon/events"

const (
	EventPaymentSettled   = "payrecon_payment_settled"
	EventPaymentFailed    = "payrecon_payment_failed"
	EventOrderNeedsReview = "payrecon_order_needs_review"
)

type PaymentEventProperties struct {
	OrderID   uint   `json:"order_id"`
	AttemptID uint   `json:"attempt_id"`
	Reason    string `json:"reason,omitempty"`
}

func newPaymentSettledEvent(orderID, attemptID uint) *events.Event {
	return &events.Event{
		Event: EventPaymentSettled,
		Properties: &PaymentEventProperties{
			OrderID:   orderID,
			AttemptID: attemptID,
		},
	}
}

func newPaymentFailedEvent(orderID, attemptID uint, reason string) *events.Event {
	return &events.Event{
		Event: EventPaymentFailed,
		Properties: &PaymentEventProperties{
			OrderID:   orderID,
			AttemptID: attemptID,
			Reason:    reason,
		},
	}
}

func newOrderNeedsReviewEvent(orderID uint, reason string) *events.Event {
	return &events.Event{
		Event: EventOrderNeedsReview,
		Properties: &PaymentEventProperties{
			OrderID: orderID,
			Reason:  reason,
		},
	}
}
