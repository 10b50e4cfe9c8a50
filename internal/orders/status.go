package orders

import (
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
)

// deriveOrderStatus computes where the order should be given its items: it mirrors the
// least-advanced live item. Orders awaiting payment never advance from item changes; an order
// with no live items is cancelled.
func deriveOrderStatus(current enums.OrderStatus, items []models.OrderItem) enums.OrderStatus {
	if current.IsTerminal() || current == enums.OrderStatusPendingPayment {
		return current
	}
	least := -1
	for _, item := range items {
		rank := item.Status.Rank()
		if rank < 0 {
			continue
		}
		if least < 0 || rank < least {
			least = rank
		}
	}
	switch least {
	case -1:
		return enums.OrderStatusCancelled
	case 2:
		return enums.OrderStatusDelivered
	case 1:
		return enums.OrderStatusShipped
	default:
		return current
	}
}

// statusPath lists the hops from current to target along the order graph, excluding current.
func statusPath(current, target enums.OrderStatus) []enums.OrderStatus {
	if current == target {
		return nil
	}
	if current.CanTransitionTo(target) {
		return []enums.OrderStatus{target}
	}
	if target == enums.OrderStatusDelivered && current.CanTransitionTo(enums.OrderStatusShipped) {
		return []enums.OrderStatus{enums.OrderStatusShipped, enums.OrderStatusDelivered}
	}
	return nil
}

// refundShare is the part of the paid total attributable to item: its line total less a
// proportional slice of the order discount.
func refundShare(order *models.Order, item models.OrderItem) int64 {
	if order.SubtotalCents <= 0 {
		return 0
	}
	discount := order.DiscountCents * item.LineTotalCents / order.SubtotalCents
	return item.LineTotalCents - discount
}
