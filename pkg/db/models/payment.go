package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

// Payment is one gateway attempt for an order. Failed attempts are retained.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID          uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index;uniqueIndex:ux_payments_order_succeeded,where:status = 'succeeded'" json:"order_id"`
	Gateway          enums.PaymentMethod `gorm:"column:gateway;type:text;not null" json:"gateway"`
	GatewayOrderID   *string             `gorm:"column:gateway_order_id;index" json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id" json:"gateway_payment_id,omitempty"`
	AmountCents      int64               `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency         string              `gorm:"column:currency;not null" json:"currency"`
	Status           enums.PaymentStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	Signature        *string             `gorm:"column:signature" json:"-"`
	FailureReason    *string             `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	ClientParams     types.JSONMap       `gorm:"column:client_params;type:jsonb;serializer:json" json:"client_params"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
