package coupons

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vendorhub-backend/api/middleware"
	"github.com/angelmondragon/vendorhub-backend/api/responses"
	"github.com/angelmondragon/vendorhub-backend/api/validators"
	internalcoupons "github.com/angelmondragon/vendorhub-backend/internal/coupons"
	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
)

type createRequest struct {
	Code             string          `json:"code" validate:"required,min=3,max=32,alphanum"`
	DiscountPercent  decimal.Decimal `json:"discount_percent"`
	MaxDiscountCents *int64          `json:"max_discount_cents" validate:"omitempty,gt=0"`
	MinOrderCents    int64           `json:"min_order_cents" validate:"min=0"`
	ExpiresAt        *time.Time      `json:"expires_at"`
	UsageLimit       *int            `json:"usage_limit" validate:"omitempty,gt=0"`
	SellerID         *uuid.UUID      `json:"seller_id"`
}

// Create adds a coupon. Sellers always create coupons scoped to themselves; admins may create
// platform coupons or scope them to a seller.
func Create(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFor(w, r, svc, logg)
		if !ok {
			return
		}
		var payload createRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		coupon, err := svc.Create(r.Context(), actor, internalcoupons.CreateInput{
			Code:             payload.Code,
			DiscountPercent:  payload.DiscountPercent,
			MaxDiscountCents: payload.MaxDiscountCents,
			MinOrderCents:    payload.MinOrderCents,
			ExpiresAt:        payload.ExpiresAt,
			UsageLimit:       payload.UsageLimit,
			SellerID:         payload.SellerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, coupon)
	}
}

func List(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
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
		sellerID, err := validators.ParseQueryUUID(r, "seller_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		activeOnly, err := validators.ParseQueryBool(r, "active", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.List(r.Context(), actor, internalcoupons.ListInput{
			SellerID:   sellerID,
			ActiveOnly: activeOnly,
			Page:       page,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Deactivate(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFor(w, r, svc, logg)
		if !ok {
			return
		}
		couponID, err := validators.ParseURLUUID(r, "couponId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		coupon, err := svc.Deactivate(r.Context(), actor, couponID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, coupon)
	}
}

func actorFor(w http.ResponseWriter, r *http.Request, svc internalcoupons.Service, logg *logger.Logger) (auth.Actor, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
		return auth.Actor{}, false
	}
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return auth.Actor{}, false
	}
	return actor, true
}
