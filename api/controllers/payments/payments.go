package payments

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/vendorhub-backend/api/middleware"
	"github.com/angelmondragon/vendorhub-backend/api/responses"
	"github.com/angelmondragon/vendorhub-backend/api/validators"
	"github.com/angelmondragon/vendorhub-backend/internal/reconciliation"
	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
)

// Reconciler is the slice of the reconciliation controller the payment endpoints drive.
type Reconciler interface {
	Initiate(ctx context.Context, input reconciliation.InitiateInput) (*models.Payment, error)
	VerifyCallback(ctx context.Context, input reconciliation.VerifyInput) (*reconciliation.Result, error)
	Sync(ctx context.Context, input reconciliation.SyncInput) (*reconciliation.Result, error)
	ReportFailure(ctx context.Context, input reconciliation.FailureInput) (*reconciliation.Result, error)
}

type initiateRequest struct {
	Gateway  string `json:"gateway" validate:"omitempty,oneof=razorpay upi stripe square"`
	SourceID string `json:"source_id" validate:"max=255"`
}

type verifyRequest struct {
	Gateway   string          `json:"gateway" validate:"required,oneof=razorpay upi stripe square"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	Signature string          `json:"signature" validate:"max=512"`
}

type failureRequest struct {
	PaymentID *uuid.UUID `json:"payment_id"`
	Reason    string     `json:"reason" validate:"max=500"`
}

type initiateResponse struct {
	PaymentID    uuid.UUID           `json:"payment_id"`
	OrderID      uuid.UUID           `json:"order_id"`
	Gateway      enums.PaymentMethod `json:"gateway"`
	Status       enums.PaymentStatus `json:"status"`
	AmountCents  int64               `json:"amount_cents"`
	Currency     string              `json:"currency"`
	IntentID     *string             `json:"intent_id,omitempty"`
	ClientParams map[string]any      `json:"client_params,omitempty"`
}

// Initiate opens a new payment attempt for a pending_payment order. Calling it again is the
// retry path; any open attempt is superseded.
func Initiate(ctrl Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := orderScope(w, r, ctrl, logg)
		if !ok {
			return
		}
		var payload initiateRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := reconciliation.InitiateInput{
			OrderID:  orderID,
			BuyerID:  actor.UserID,
			SourceID: validators.SanitizeString(payload.SourceID, 255),
		}
		if payload.Gateway != "" {
			input.Gateway = enums.PaymentMethod(payload.Gateway)
		}
		attempt, err := ctrl.Initiate(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, initiateResponse{
			PaymentID:    attempt.ID,
			OrderID:      attempt.OrderID,
			Gateway:      attempt.Gateway,
			Status:       attempt.Status,
			AmountCents:  attempt.AmountCents,
			Currency:     attempt.Currency,
			IntentID:     attempt.GatewayOrderID,
			ClientParams: attempt.ClientParams,
		})
	}
}

// Verify authenticates the buyer's gateway return payload and applies its outcome.
func Verify(ctrl Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := orderScope(w, r, ctrl, logg)
		if !ok {
			return
		}
		var payload verifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		buyerID := actor.UserID
		res, err := ctrl.VerifyCallback(r.Context(), reconciliation.VerifyInput{
			Gateway:   enums.PaymentMethod(payload.Gateway),
			Payload:   payload.Payload,
			Signature: payload.Signature,
			BuyerID:   &buyerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if res.OrderID != orderID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found for order"))
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// Sync asks the gateway for the latest attempt's state. Buyers can only sync their own orders.
func Sync(ctrl Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := orderScope(w, r, ctrl, logg)
		if !ok {
			return
		}
		input := reconciliation.SyncInput{OrderID: orderID}
		if !actor.IsAdmin() {
			buyerID := actor.UserID
			input.BuyerID = &buyerID
		}
		res, err := ctrl.Sync(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// ReportFailure records that the buyer's client saw the attempt fail or abandoned it.
func ReportFailure(ctrl Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, ok := orderScope(w, r, ctrl, logg)
		if !ok {
			return
		}
		var payload failureRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := ctrl.ReportFailure(r.Context(), reconciliation.FailureInput{
			OrderID:   orderID,
			BuyerID:   actor.UserID,
			PaymentID: payload.PaymentID,
			Reason:    validators.SanitizeString(payload.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

func orderScope(w http.ResponseWriter, r *http.Request, ctrl Reconciler, logg *logger.Logger) (auth.Actor, uuid.UUID, bool) {
	if ctrl == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments unavailable"))
		return auth.Actor{}, uuid.Nil, false
	}
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return auth.Actor{}, uuid.Nil, false
	}
	orderID, err := validators.ParseURLUUID(r, "orderId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return auth.Actor{}, uuid.Nil, false
	}
	return actor, orderID, true
}
