package enums

import "fmt"

// OrderItemStatus tracks per-seller fulfillment of one order line.
type OrderItemStatus string

const (
	OrderItemStatusPending   OrderItemStatus = "pending"
	OrderItemStatusShipped   OrderItemStatus = "shipped"
	OrderItemStatusDelivered OrderItemStatus = "delivered"
	OrderItemStatusCancelled OrderItemStatus = "cancelled"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusPending,
	OrderItemStatusShipped,
	OrderItemStatusDelivered,
	OrderItemStatusCancelled,
}

// String implements fmt.Stringer.
func (o OrderItemStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderItemStatus.
func (o OrderItemStatus) IsValid() bool {
	for _, candidate := range validOrderItemStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderItemStatus converts raw input into a OrderItemStatus.
func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	for _, candidate := range validOrderItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order item status %q", value)
}

var orderItemTransitions = map[OrderItemStatus][]OrderItemStatus{
	OrderItemStatusPending: {OrderItemStatusShipped, OrderItemStatusCancelled},
	OrderItemStatusShipped: {OrderItemStatusDelivered, OrderItemStatusCancelled},
}

// CanTransitionTo reports whether an item may move to next.
func (o OrderItemStatus) CanTransitionTo(next OrderItemStatus) bool {
	for _, candidate := range orderItemTransitions[o] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Rank orders live statuses by fulfillment progress.
func (o OrderItemStatus) Rank() int {
	switch o {
	case OrderItemStatusPending:
		return 0
	case OrderItemStatusShipped:
		return 1
	case OrderItemStatusDelivered:
		return 2
	default:
		return -1
	}
}
