package payloads

import (
	"time"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/google/uuid"
)

// OrderCreatedEvent signals a checkout that produced a new order.
type OrderCreatedEvent struct {
	OrderID         uuid.UUID           `json:"order_id"`
	BuyerID         uuid.UUID           `json:"buyer_id"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	Status          enums.OrderStatus   `json:"status"`
	SubtotalCents   int64               `json:"subtotal_cents"`
	DiscountCents   int64               `json:"discount_cents"`
	FinalTotalCents int64               `json:"final_total_cents"`
	CouponCode      *string             `json:"coupon_code,omitempty"`
	SellerIDs       []uuid.UUID         `json:"seller_ids"`
}

// SellerCredit is one ledger credit posted when an order is paid or delivered.
type SellerCredit struct {
	SellerID    uuid.UUID `json:"seller_id"`
	OrderItemID uuid.UUID `json:"order_item_id"`
	AmountCents int64     `json:"amount_cents"`
}

// OrderPaidEvent is emitted once per order on the terminal paid transition.
type OrderPaidEvent struct {
	OrderID     uuid.UUID           `json:"order_id"`
	BuyerID     uuid.UUID           `json:"buyer_id"`
	PaymentID   uuid.UUID           `json:"payment_id"`
	Gateway     enums.PaymentMethod `json:"gateway"`
	AmountCents int64               `json:"amount_cents"`
	PaidAt      time.Time           `json:"paid_at"`
	Credits     []SellerCredit      `json:"credits"`
}

// OrderPaymentFailedEvent reports a failed attempt; the order stays retryable.
type OrderPaymentFailedEvent struct {
	OrderID   uuid.UUID           `json:"order_id"`
	BuyerID   uuid.UUID           `json:"buyer_id"`
	PaymentID uuid.UUID           `json:"payment_id"`
	Gateway   enums.PaymentMethod `json:"gateway"`
	Reason    string              `json:"reason"`
}

// OrderCancelledEvent is emitted whenever a buyer or admin cancels an order.
type OrderCancelledEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	BuyerID        uuid.UUID         `json:"buyer_id"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	CancelledAt    time.Time         `json:"cancelled_at"`
	Reason         string            `json:"reason,omitempty"`
	RefundRequired bool              `json:"refund_required"`
}

// OrderItemStatusChangedEvent tracks per-seller fulfillment progress.
type OrderItemStatusChangedEvent struct {
	OrderID     uuid.UUID             `json:"order_id"`
	OrderItemID uuid.UUID             `json:"order_item_id"`
	SellerID    uuid.UUID             `json:"seller_id"`
	From        enums.OrderItemStatus `json:"from"`
	To          enums.OrderItemStatus `json:"to"`
	OrderStatus enums.OrderStatus     `json:"order_status"`
}

// PaymentRefundRequiredEvent asks operations to refund money captured for an
// order that was already paid or is no longer payable.
type PaymentRefundRequiredEvent struct {
	OrderID          uuid.UUID           `json:"order_id"`
	PaymentID        uuid.UUID           `json:"payment_id"`
	Gateway          enums.PaymentMethod `json:"gateway"`
	GatewayPaymentID *string             `json:"gateway_payment_id,omitempty"`
	AmountCents      int64               `json:"amount_cents"`
	Reason           string              `json:"reason"`
}

// WithdrawalEvent covers every withdrawal lifecycle transition.
type WithdrawalEvent struct {
	WithdrawalID    uuid.UUID              `json:"withdrawal_id"`
	SellerID        uuid.UUID              `json:"seller_id"`
	AmountCents     int64                  `json:"amount_cents"`
	Status          enums.WithdrawalStatus `json:"status"`
	PayoutMethod    enums.PayoutMethod     `json:"payout_method"`
	DueAt           time.Time              `json:"due_at"`
	ResolvedBy      *uuid.UUID             `json:"resolved_by,omitempty"`
	Note            *string                `json:"note,omitempty"`
	PayoutReference *string                `json:"payout_reference,omitempty"`
}
