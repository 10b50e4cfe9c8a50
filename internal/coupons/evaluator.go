// Package coupons validates coupon codes against a priced cart and manages coupon definitions.
package coupons

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/money"
)

// Line is the part of a priced cart line a coupon cares about.
type Line struct {
	SellerID       uuid.UUID
	LineTotalCents int64
}

// PricedCart is the cart as priced from live catalog data.
type PricedCart struct {
	SubtotalCents int64
	Lines         []Line
}

// SellerSubtotal sums the lines fulfilled by sellerID.
func (c PricedCart) SellerSubtotal(sellerID uuid.UUID) int64 {
	var total int64
	for _, line := range c.Lines {
		if line.SellerID == sellerID {
			total += line.LineTotalCents
		}
	}
	return total
}

// Evaluation is a coupon that applies to the cart and the discount it yields.
type Evaluation struct {
	Coupon        models.Coupon
	BaseCents     int64
	DiscountCents int64
}

type couponFinder interface {
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
}

// Evaluator checks a code against a priced cart. It never mutates coupon state.
type Evaluator struct {
	repo couponFinder
	now  func() time.Time
	logg *logger.Logger
}

func NewEvaluator(repo couponFinder, logg *logger.Logger) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now, logg: logg}
}

// Evaluate resolves code and applies it to cart for buyerID.
func (e *Evaluator) Evaluate(ctx context.Context, code string, buyerID uuid.UUID, cart PricedCart) (Evaluation, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return Evaluation{}, errNotFound(code)
	}
	coupon, err := e.repo.FindByCode(ctx, normalized)
	if err != nil {
		return Evaluation{}, err
	}
	return e.EvaluateCoupon(ctx, coupon, buyerID, cart)
}

// EvaluateCoupon applies an already loaded coupon, e.g. the one associated with a cart.
// A nil coupon is reported as not found.
func (e *Evaluator) EvaluateCoupon(ctx context.Context, coupon *models.Coupon, buyerID uuid.UUID, cart PricedCart) (Evaluation, error) {
	eval, err := evaluate(coupon, cart, e.now().UTC())
	if err != nil && e.logg != nil {
		normalized := ""
		if coupon != nil {
			normalized = coupon.Code
		}
		fields := map[string]any{
			"coupon_code": normalized,
			"buyer_id":    buyerID.String(),
			"reason":      string(pkgerrors.ReasonOf(err)),
		}
		e.logg.Debug(e.logg.WithFields(ctx, fields), "coupon rejected")
	}
	return eval, err
}

// evaluate applies the checks in a fixed order so the first failing rule is reported.
func evaluate(coupon *models.Coupon, cart PricedCart, now time.Time) (Evaluation, error) {
	if coupon == nil || !coupon.Active {
		code := ""
		if coupon != nil {
			code = coupon.Code
		}
		return Evaluation{}, errNotFound(code)
	}
	if coupon.ExpiresAt != nil && !now.Before(*coupon.ExpiresAt) {
		return Evaluation{}, pkgerrors.New(pkgerrors.CodeValidation, "coupon has expired").
			WithReason(pkgerrors.ReasonCouponExpired).
			WithDetails(map[string]any{"code": coupon.Code, "expires_at": coupon.ExpiresAt.UTC()})
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return Evaluation{}, pkgerrors.New(pkgerrors.CodeValidation, "coupon usage limit reached").
			WithReason(pkgerrors.ReasonUsageLimitExceeded).
			WithDetails(map[string]any{"code": coupon.Code})
	}

	base := cart.SubtotalCents
	if coupon.SellerID != nil {
		base = cart.SellerSubtotal(*coupon.SellerID)
		if base <= 0 {
			return Evaluation{}, pkgerrors.New(pkgerrors.CodeValidation, "coupon does not apply to any item in the cart").
				WithReason(pkgerrors.ReasonScopeMismatch).
				WithDetails(map[string]any{"code": coupon.Code, "seller_id": coupon.SellerID.String()})
		}
	}
	if cart.SubtotalCents < coupon.MinOrderCents {
		return Evaluation{}, pkgerrors.New(pkgerrors.CodeValidation, "order total below coupon minimum").
			WithReason(pkgerrors.ReasonMinOrderNotMet).
			WithDetails(map[string]any{
				"code":            coupon.Code,
				"min_order_cents": coupon.MinOrderCents,
				"subtotal_cents":  cart.SubtotalCents,
			})
	}

	return Evaluation{
		Coupon:        *coupon,
		BaseCents:     base,
		DiscountCents: Discount(*coupon, base),
	}, nil
}

// Discount is floor(base * percent / 100), capped by max_discount and by base itself.
func Discount(coupon models.Coupon, base int64) int64 {
	discount := money.PercentOf(base, coupon.DiscountPercent)
	if coupon.MaxDiscountCents != nil && discount > *coupon.MaxDiscountCents {
		discount = *coupon.MaxDiscountCents
	}
	return money.Clamp(discount, 0, max(base, 0))
}

func errNotFound(code string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found").
		WithReason(pkgerrors.ReasonCouponNotFound).
		WithDetails(map[string]any{"code": NormalizeCode(code)})
}
