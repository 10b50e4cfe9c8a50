package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

// Withdrawal is a seller payout request awaiting admin resolution.
type Withdrawal struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID        uuid.UUID              `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	AmountCents     int64                  `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Status          enums.WithdrawalStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	RequestedAt     time.Time              `gorm:"column:requested_at;not null" json:"requested_at"`
	DueAt           time.Time              `gorm:"column:due_at;not null" json:"due_at"`
	ResolvedAt      *time.Time             `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy      *uuid.UUID             `gorm:"column:resolved_by;type:uuid" json:"resolved_by,omitempty"`
	ResolutionNote  *string                `gorm:"column:resolution_note" json:"resolution_note,omitempty"`
	PayoutMethod    enums.PayoutMethod     `gorm:"column:payout_method;type:text;not null" json:"payout_method"`
	PayoutSnapshot  types.PayoutSnapshot   `gorm:"column:payout_snapshot;type:jsonb;serializer:json" json:"payout_snapshot"`
	PayoutReference *string                `gorm:"column:payout_reference" json:"payout_reference,omitempty"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (w *Withdrawal) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
