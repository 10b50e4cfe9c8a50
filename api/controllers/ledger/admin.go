package ledger

import (
	"net/http"

	"github.com/angelmondragon/vendorhub-backend/api/responses"
	"github.com/angelmondragon/vendorhub-backend/api/validators"
	internalledger "github.com/angelmondragon/vendorhub-backend/internal/ledger"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
)

type resolveRequest struct {
	Note *string `json:"note" validate:"omitempty,max=500"`
}

type completeRequest struct {
	PayoutReference string `json:"payout_reference" validate:"required,max=128"`
}

// ApproveWithdrawal settles a requested withdrawal against the ledger.
func ApproveWithdrawal(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFor(w, r, svc, logg)
		if !ok {
			return
		}
		id, err := validators.ParseURLUUID(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload resolveRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawal, err := svc.ApproveWithdrawal(r.Context(), actor, id, validators.SanitizeOptional(payload.Note, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, withdrawal)
	}
}

// RejectWithdrawal releases the held amount back to the seller's balance.
func RejectWithdrawal(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFor(w, r, svc, logg)
		if !ok {
			return
		}
		id, err := validators.ParseURLUUID(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload resolveRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawal, err := svc.RejectWithdrawal(r.Context(), actor, id, validators.SanitizeOptional(payload.Note, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, withdrawal)
	}
}

func CompleteWithdrawal(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFor(w, r, svc, logg)
		if !ok {
			return
		}
		id, err := validators.ParseURLUUID(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload completeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawal, err := svc.CompleteWithdrawal(r.Context(), actor, id, validators.SanitizeString(payload.PayoutReference, 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, withdrawal)
	}
}
