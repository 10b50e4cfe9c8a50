package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

// Order is the immutable-priced result of a checkout.
type Order struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BuyerID              uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null;index" json:"buyer_id"`
	ShippingAddress      types.Address       `gorm:"column:shipping_address;type:jsonb;serializer:json;not null" json:"shipping_address"`
	SubtotalCents        int64               `gorm:"column:subtotal_cents;not null" json:"subtotal_cents"`
	DiscountCents        int64               `gorm:"column:discount_cents;not null" json:"discount_cents"`
	FinalTotalCents      int64               `gorm:"column:final_total_cents;not null" json:"final_total_cents"`
	CouponID             *uuid.UUID          `gorm:"column:coupon_id;type:uuid" json:"coupon_id,omitempty"`
	CouponCode           *string             `gorm:"column:coupon_code" json:"coupon_code,omitempty"`
	PaymentMethod        enums.PaymentMethod `gorm:"column:payment_method;type:text;not null" json:"payment_method"`
	Status               enums.OrderStatus   `gorm:"column:status;type:text;not null;index" json:"status"`
	PaymentFailed        bool                `gorm:"column:payment_failed;not null" json:"payment_failed"`
	PaymentFailureReason *string             `gorm:"column:payment_failure_reason" json:"payment_failure_reason,omitempty"`
	PaidAt               *time.Time          `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CancelledAt          *time.Time          `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	Items                []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderItem is a priced snapshot of one cart line, fulfilled by its seller.
type OrderItem struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index" json:"order_id"`
	ProductID      uuid.UUID             `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	SellerID       uuid.UUID             `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	ProductName    string                `gorm:"column:product_name;not null" json:"product_name"`
	UnitPriceCents int64                 `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
	Quantity       int                   `gorm:"column:quantity;not null" json:"quantity"`
	LineTotalCents int64                 `gorm:"column:line_total_cents;not null" json:"line_total_cents"`
	Status         enums.OrderItemStatus `gorm:"column:status;type:text;not null" json:"status"`
	ShippedAt      *time.Time            `gorm:"column:shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time            `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CancelledAt    *time.Time            `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
