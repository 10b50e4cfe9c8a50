package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Coupon is a percentage discount, platform-wide or scoped to one seller.
type Coupon struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Code             string          `gorm:"column:code;not null;uniqueIndex:ux_coupons_code" json:"code"`
	DiscountPercent  decimal.Decimal `gorm:"column:discount_percent;type:numeric(5,2);not null" json:"discount_percent"`
	MaxDiscountCents *int64          `gorm:"column:max_discount_cents" json:"max_discount_cents,omitempty"`
	MinOrderCents    int64           `gorm:"column:min_order_cents;not null" json:"min_order_cents"`
	ExpiresAt        *time.Time      `gorm:"column:expires_at" json:"expires_at,omitempty"`
	UsageLimit       *int            `gorm:"column:usage_limit" json:"usage_limit,omitempty"`
	UsedCount        int             `gorm:"column:used_count;not null" json:"used_count"`
	SellerID         *uuid.UUID      `gorm:"column:seller_id;type:uuid;index" json:"seller_id,omitempty"`
	Active           bool            `gorm:"column:active;not null" json:"active"`
	CreatedBy        uuid.UUID       `gorm:"column:created_by;type:uuid;not null" json:"created_by"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
