package ledger

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/security"
)

var (
	ifscPattern    = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	upiPattern     = regexp.MustCompile(`^[a-zA-Z0-9._-]{2,256}@[a-zA-Z]{2,64}$`)
	accountPattern = regexp.MustCompile(`^[0-9]{9,18}$`)
)

// BankDetailsInput updates payout details. Nil fields keep their stored value; the bank
// account fields must be supplied together.
type BankDetailsInput struct {
	AccountNumber   *string
	IFSC            *string
	BeneficiaryName *string
	UPIID           *string
	PreferredMethod *enums.PayoutMethod
}

// BankDetailsView never exposes the account number beyond its last four digits.
type BankDetailsView struct {
	SellerID        uuid.UUID           `json:"seller_id"`
	AccountLast4    *string             `json:"account_last4,omitempty"`
	IFSC            *string             `json:"ifsc,omitempty"`
	BeneficiaryName *string             `json:"beneficiary_name,omitempty"`
	UPIID           *string             `json:"upi_id,omitempty"`
	PreferredMethod *enums.PayoutMethod `json:"preferred_method,omitempty"`
	BankConfigured  bool                `json:"bank_configured"`
	UPIConfigured   bool                `json:"upi_configured"`
}

func (s *service) GetBankDetails(ctx context.Context, sellerID uuid.UUID) (*BankDetailsView, error) {
	details, err := s.repo.FindBankDetails(ctx, sellerID, false)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return &BankDetailsView{SellerID: sellerID}, nil
	}
	return toView(*details), nil
}

func (s *service) UpsertBankDetails(ctx context.Context, sellerID uuid.UUID, input BankDetailsInput) (*BankDetailsView, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	clean, err := normalizeBankInput(input)
	if err != nil {
		return nil, err
	}

	var saved models.BankDetails
	err = s.locker.WithLock(ctx, locks.SellerKey(sellerID), func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			current, err := repo.FindBankDetails(ctx, sellerID, true)
			if err != nil {
				return err
			}
			next := models.BankDetails{SellerID: sellerID}
			if current != nil {
				next = *current
			}
			if clean.AccountNumber != nil {
				sealed, err := s.sealer.Seal(*clean.AccountNumber)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal account number")
				}
				last4 := security.Last4(*clean.AccountNumber)
				next.AccountNumberEnc = &sealed
				next.AccountLast4 = &last4
				next.IFSC = clean.IFSC
				next.BeneficiaryName = clean.BeneficiaryName
			}
			if clean.UPIID != nil {
				next.UPIID = clean.UPIID
			}
			if clean.PreferredMethod != nil {
				next.PreferredMethod = clean.PreferredMethod
			}
			if err := validatePreferred(next); err != nil {
				return err
			}
			if err := repo.SaveBankDetails(ctx, &next); err != nil {
				return err
			}
			saved = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return toView(saved), nil
}

func normalizeBankInput(input BankDetailsInput) (BankDetailsInput, error) {
	details := map[string]string{}
	out := BankDetailsInput{PreferredMethod: input.PreferredMethod}

	bankFields := 0
	for _, f := range []*string{input.AccountNumber, input.IFSC, input.BeneficiaryName} {
		if f != nil && strings.TrimSpace(*f) != "" {
			bankFields++
		}
	}
	switch {
	case bankFields == 3:
		account := strings.ReplaceAll(strings.TrimSpace(*input.AccountNumber), " ", "")
		ifsc := strings.ToUpper(strings.TrimSpace(*input.IFSC))
		name := strings.TrimSpace(*input.BeneficiaryName)
		if !accountPattern.MatchString(account) {
			details["account_number"] = "must be 9-18 digits"
		}
		if !ifscPattern.MatchString(ifsc) {
			details["ifsc"] = "must look like ABCD0123456"
		}
		out.AccountNumber, out.IFSC, out.BeneficiaryName = &account, &ifsc, &name
	case bankFields > 0:
		details["bank"] = "account_number, ifsc and beneficiary_name are required together"
	}

	if input.UPIID != nil && strings.TrimSpace(*input.UPIID) != "" {
		upi := strings.TrimSpace(*input.UPIID)
		if !upiPattern.MatchString(upi) {
			details["upi_id"] = "must look like name@bank"
		}
		out.UPIID = &upi
	}
	if input.PreferredMethod != nil && !input.PreferredMethod.IsValid() {
		details["preferred_method"] = "must be bank or upi"
	}
	if len(details) > 0 {
		return out, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout details").WithDetails(details)
	}
	return out, nil
}

func validatePreferred(d models.BankDetails) error {
	if d.PreferredMethod == nil {
		return nil
	}
	switch *d.PreferredMethod {
	case enums.PayoutMethodBank:
		if !d.BankConfigured() {
			return pkgerrors.New(pkgerrors.CodeValidation, "preferred method bank requires complete bank details").
				WithDetails(map[string]string{"preferred_method": "bank details incomplete"})
		}
	case enums.PayoutMethodUPI:
		if !d.UPIConfigured() {
			return pkgerrors.New(pkgerrors.CodeValidation, "preferred method upi requires a UPI id").
				WithDetails(map[string]string{"preferred_method": "upi id missing"})
		}
	}
	return nil
}

func toView(d models.BankDetails) *BankDetailsView {
	return &BankDetailsView{
		SellerID:        d.SellerID,
		AccountLast4:    d.AccountLast4,
		IFSC:            d.IFSC,
		BeneficiaryName: d.BeneficiaryName,
		UPIID:           d.UPIID,
		PreferredMethod: d.PreferredMethod,
		BankConfigured:  d.BankConfigured(),
		UPIConfigured:   d.UPIConfigured(),
	}
}
