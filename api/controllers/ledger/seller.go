package ledger

import (
	"net/http"

	"github.com/angelmondragon/vendorhub-backend/api/middleware"
	"github.com/angelmondragon/vendorhub-backend/api/responses"
	"github.com/angelmondragon/vendorhub-backend/api/validators"
	internalledger "github.com/angelmondragon/vendorhub-backend/internal/ledger"
	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
)

type bankDetailsRequest struct {
	AccountNumber   *string `json:"account_number" validate:"omitempty,numeric,min=9,max=18"`
	IFSC            *string `json:"ifsc" validate:"omitempty,len=11"`
	BeneficiaryName *string `json:"beneficiary_name" validate:"omitempty,max=128"`
	UPIID           *string `json:"upi_id" validate:"omitempty,max=320"`
	PreferredMethod *string `json:"preferred_method" validate:"omitempty,oneof=bank upi"`
}

type withdrawalRequest struct {
	AmountCents *int64 `json:"amount_cents" validate:"omitempty,gt=0"`
}

// History returns the seller's ledger entries, newest first, with a balance summary.
func History(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := sellerActor(w, r, svc, logg)
		if !ok {
			return
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		history, err := svc.History(r.Context(), actor.UserID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, history)
	}
}

func GetBankDetails(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := sellerActor(w, r, svc, logg)
		if !ok {
			return
		}
		view, err := svc.GetBankDetails(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// PutBankDetails stores payout details; the account number is encrypted at rest.
func PutBankDetails(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := sellerActor(w, r, svc, logg)
		if !ok {
			return
		}
		var payload bankDetailsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := internalledger.BankDetailsInput{
			AccountNumber:   validators.SanitizeOptional(payload.AccountNumber, 18),
			IFSC:            validators.SanitizeOptional(payload.IFSC, 11),
			BeneficiaryName: validators.SanitizeOptional(payload.BeneficiaryName, 128),
			UPIID:           validators.SanitizeOptional(payload.UPIID, 320),
		}
		if payload.PreferredMethod != nil {
			method, err := enums.ParsePayoutMethod(*payload.PreferredMethod)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid preferred method"))
				return
			}
			input.PreferredMethod = &method
		}
		view, err := svc.UpsertBankDetails(r.Context(), actor.UserID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// ListWithdrawals serves both the seller list (with balance summary) and the admin queue.
func ListWithdrawals(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFor(w, r, svc, logg)
		if !ok {
			return
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status", enums.ParseWithdrawalStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sellerID, err := validators.ParseQueryUUID(r, "seller_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ListWithdrawals(r.Context(), actor, internalledger.WithdrawalFilter{
			SellerID: sellerID,
			Status:   status,
			Page:     page,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// RequestWithdrawal opens a payout request; an omitted amount withdraws the whole balance.
func RequestWithdrawal(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := sellerActor(w, r, svc, logg)
		if !ok {
			return
		}
		var payload withdrawalRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawal, err := svc.RequestWithdrawal(r.Context(), internalledger.RequestWithdrawalInput{
			SellerID:    actor.UserID,
			AmountCents: payload.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(logg.WithSellerID(r.Context(), actor.UserID.String()), map[string]any{
				"withdrawal_id": withdrawal.ID,
				"amount_cents":  withdrawal.AmountCents,
			}), "withdrawal requested")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, withdrawal)
	}
}

func CancelWithdrawal(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := sellerActor(w, r, svc, logg)
		if !ok {
			return
		}
		id, err := validators.ParseURLUUID(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawal, err := svc.CancelWithdrawal(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, withdrawal)
	}
}

func actorFor(w http.ResponseWriter, r *http.Request, svc internalledger.Service, logg *logger.Logger) (auth.Actor, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
		return auth.Actor{}, false
	}
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return auth.Actor{}, false
	}
	return actor, true
}

func sellerActor(w http.ResponseWriter, r *http.Request, svc internalledger.Service, logg *logger.Logger) (auth.Actor, bool) {
	actor, ok := actorFor(w, r, svc, logg)
	if !ok {
		return actor, false
	}
	if !actor.IsSeller() {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller role required"))
		return auth.Actor{}, false
	}
	return actor, true
}
