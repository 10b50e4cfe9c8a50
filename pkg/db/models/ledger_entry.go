package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
)

// LedgerEntry is an append-only seller balance movement. Only status changes after insert.
type LedgerEntry struct {
	ID           uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID     uuid.UUID               `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	Type         enums.LedgerEntryType   `gorm:"column:type;type:text;not null" json:"type"`
	AmountCents  int64                   `gorm:"column:amount_cents;not null" json:"amount_cents"`
	OrderID      *uuid.UUID              `gorm:"column:order_id;type:uuid;index" json:"order_id,omitempty"`
	OrderItemID  *uuid.UUID              `gorm:"column:order_item_id;type:uuid" json:"order_item_id,omitempty"`
	WithdrawalID *uuid.UUID              `gorm:"column:withdrawal_id;type:uuid;index" json:"withdrawal_id,omitempty"`
	Status       enums.LedgerEntryStatus `gorm:"column:status;type:text;not null" json:"status"`
	EntryKey     string                  `gorm:"column:entry_key;not null;uniqueIndex:ux_ledger_entries_entry_key" json:"entry_key"`
	Description  string                  `gorm:"column:description" json:"description"`
	CreatedAt    time.Time               `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (l *LedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
