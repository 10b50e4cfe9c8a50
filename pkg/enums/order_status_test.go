package enums

import "testing"

func TestOrderStatusGraph(t *testing.T) {
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPendingPayment, OrderStatusPaid}:      true,
		{OrderStatusPendingPayment, OrderStatusCancelled}: true,
		{OrderStatusPending, OrderStatusShipped}:          true,
		{OrderStatusPending, OrderStatusCancelled}:        true,
		{OrderStatusPaid, OrderStatusShipped}:             true,
		{OrderStatusPaid, OrderStatusCancelled}:           true,
		{OrderStatusShipped, OrderStatusDelivered}:        true,
		{OrderStatusShipped, OrderStatusCancelled}:        true,
	}

	for _, from := range validOrderStatuses {
		for _, to := range validOrderStatuses {
			got := from.CanTransitionTo(to)
			if got != allowed[[2]OrderStatus{from, to}] {
				t.Fatalf("transition %s -> %s: expected %v got %v", from, to, allowed[[2]OrderStatus{from, to}], got)
			}
		}
	}
}

func TestOrderStatusDeliveredRequiresPaidOrCOD(t *testing.T) {
	// delivered is only reachable through shipped, which requires paid or the COD pending state.
	for _, from := range validOrderStatuses {
		if from.CanTransitionTo(OrderStatusDelivered) && from != OrderStatusShipped {
			t.Fatalf("%s must not reach delivered directly", from)
		}
		if from.CanTransitionTo(OrderStatusShipped) && from != OrderStatusPaid && from != OrderStatusPending {
			t.Fatalf("%s must not reach shipped", from)
		}
	}
	if !OrderStatusDelivered.IsTerminal() || !OrderStatusCancelled.IsTerminal() {
		t.Fatal("delivered and cancelled must be terminal")
	}
}

func TestParsePaymentMethod(t *testing.T) {
	method, err := ParsePaymentMethod("upi")
	if err != nil || method != PaymentMethodUPI {
		t.Fatalf("expected upi, got %q (%v)", method, err)
	}
	if !method.IsOnline() {
		t.Fatal("upi should be an online method")
	}
	if PaymentMethodCOD.IsOnline() {
		t.Fatal("cod should not be online")
	}
	if _, err := ParsePaymentMethod("cheque"); err == nil {
		t.Fatal("expected unknown method to fail")
	}
}

func TestOrderItemStatusRank(t *testing.T) {
	if OrderItemStatusPending.Rank() >= OrderItemStatusShipped.Rank() {
		t.Fatal("pending should rank below shipped")
	}
	if OrderItemStatusCancelled.Rank() != -1 {
		t.Fatal("cancelled items are not ranked")
	}
	if OrderItemStatusDelivered.CanTransitionTo(OrderItemStatusCancelled) {
		t.Fatal("delivered items cannot be cancelled")
	}
}
