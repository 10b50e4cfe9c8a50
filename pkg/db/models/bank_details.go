package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
)

// BankDetails stores a seller's payout destination. AccountNumberEnc is sealed.
type BankDetails struct {
	SellerID         uuid.UUID           `gorm:"column:seller_id;type:uuid;primaryKey"`
	AccountNumberEnc *string             `gorm:"column:account_number_enc"`
	AccountLast4     *string             `gorm:"column:account_last4"`
	IFSC             *string             `gorm:"column:ifsc"`
	BeneficiaryName  *string             `gorm:"column:beneficiary_name"`
	UPIID            *string             `gorm:"column:upi_id"`
	PreferredMethod  *enums.PayoutMethod `gorm:"column:preferred_method;type:text"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (BankDetails) TableName() string {
	return "bank_details"
}

// BankConfigured reports whether a complete bank account is on file.
func (b BankDetails) BankConfigured() bool {
	return b.AccountNumberEnc != nil && b.IFSC != nil && b.BeneficiaryName != nil
}

// UPIConfigured reports whether a UPI id is on file.
func (b BankDetails) UPIConfigured() bool {
	return b.UPIID != nil && *b.UPIID != ""
}

// PayoutMethod returns the usable payout method, preferring the seller's choice.
func (b BankDetails) PayoutMethod() (enums.PayoutMethod, bool) {
	if b.PreferredMethod != nil {
		switch *b.PreferredMethod {
		case enums.PayoutMethodBank:
			if b.BankConfigured() {
				return enums.PayoutMethodBank, true
			}
		case enums.PayoutMethodUPI:
			if b.UPIConfigured() {
				return enums.PayoutMethodUPI, true
			}
		}
	}
	if b.BankConfigured() {
		return enums.PayoutMethodBank, true
	}
	if b.UPIConfigured() {
		return enums.PayoutMethodUPI, true
	}
	return "", false
}
