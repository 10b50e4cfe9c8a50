package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateOrder      OutboxAggregateType = "order"
	AggregatePayment    OutboxAggregateType = "payment"
	AggregateWithdrawal OutboxAggregateType = "withdrawal"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateWithdrawal,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the routing key of an outbox event.
type OutboxEventType string

const (
	EventOrderCreated           OutboxEventType = "order.created"
	EventOrderPaid              OutboxEventType = "order.paid"
	EventOrderPaymentFailed     OutboxEventType = "order.payment_failed"
	EventOrderCancelled         OutboxEventType = "order.cancelled"
	EventOrderItemStatusChanged OutboxEventType = "order.item_status_changed"
	EventPaymentRefundRequired  OutboxEventType = "payment.refund_required"
	EventWithdrawalRequested    OutboxEventType = "withdrawal.requested"
	EventWithdrawalApproved     OutboxEventType = "withdrawal.approved"
	EventWithdrawalRejected     OutboxEventType = "withdrawal.rejected"
	EventWithdrawalCancelled    OutboxEventType = "withdrawal.cancelled"
	EventWithdrawalCompleted    OutboxEventType = "withdrawal.completed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderPaymentFailed,
	EventOrderCancelled,
	EventOrderItemStatusChanged,
	EventPaymentRefundRequired,
	EventWithdrawalRequested,
	EventWithdrawalApproved,
	EventWithdrawalRejected,
	EventWithdrawalCancelled,
	EventWithdrawalCompleted,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
