package coupons

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vendorhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestEvaluateTenPercentCappedAtMax(t *testing.T) {
	coupon := &models.Coupon{
		Code:             "SAVE10",
		DiscountPercent:  decimal.NewFromInt(10),
		MaxDiscountCents: int64Ptr(15000),
		Active:           true,
	}
	cart := PricedCart{SubtotalCents: 200000, Lines: []Line{{SellerID: uuid.New(), LineTotalCents: 200000}}}

	eval, err := evaluate(coupon, cart, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(15000), eval.DiscountCents)
	assert.Equal(t, int64(185000), cart.SubtotalCents-eval.DiscountCents)
}

func TestEvaluateRuleOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	seller := uuid.New()
	cart := PricedCart{SubtotalCents: 5000, Lines: []Line{{SellerID: uuid.New(), LineTotalCents: 5000}}}

	cases := []struct {
		name   string
		coupon *models.Coupon
		reason pkgerrors.Reason
		code   pkgerrors.Code
	}{
		{"missing", nil, pkgerrors.ReasonCouponNotFound, pkgerrors.CodeNotFound},
		{"inactive", &models.Coupon{Code: "OFF", DiscountPercent: decimal.NewFromInt(5)}, pkgerrors.ReasonCouponNotFound, pkgerrors.CodeNotFound},
		{"expired before usage", &models.Coupon{Code: "OFF", Active: true, DiscountPercent: decimal.NewFromInt(5), ExpiresAt: &past, UsageLimit: intPtr(1), UsedCount: 1}, pkgerrors.ReasonCouponExpired, pkgerrors.CodeValidation},
		{"usage before scope", &models.Coupon{Code: "OFF", Active: true, DiscountPercent: decimal.NewFromInt(5), UsageLimit: intPtr(2), UsedCount: 2, SellerID: &seller}, pkgerrors.ReasonUsageLimitExceeded, pkgerrors.CodeValidation},
		{"scope before min order", &models.Coupon{Code: "OFF", Active: true, DiscountPercent: decimal.NewFromInt(5), SellerID: &seller, MinOrderCents: 99999}, pkgerrors.ReasonScopeMismatch, pkgerrors.CodeValidation},
		{"min order", &models.Coupon{Code: "OFF", Active: true, DiscountPercent: decimal.NewFromInt(5), MinOrderCents: 5001}, pkgerrors.ReasonMinOrderNotMet, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := evaluate(tc.coupon, cart, now)
			require.Error(t, err)
			assert.Equal(t, tc.reason, pkgerrors.ReasonOf(err))
			assert.Equal(t, tc.code, pkgerrors.CodeOf(err))
		})
	}
}

func TestEvaluateExpiryIsExclusive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	coupon := &models.Coupon{Code: "EDGE", Active: true, DiscountPercent: decimal.NewFromInt(5), ExpiresAt: &now}
	_, err := evaluate(coupon, PricedCart{SubtotalCents: 100}, now)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCouponExpired))
}

func TestEvaluateSellerCouponUsesSellerSubtotal(t *testing.T) {
	seller := uuid.New()
	coupon := &models.Coupon{Code: "SHOP20", Active: true, DiscountPercent: decimal.NewFromInt(20), SellerID: &seller, MinOrderCents: 30000}
	cart := PricedCart{
		SubtotalCents: 30000,
		Lines: []Line{
			{SellerID: seller, LineTotalCents: 10000},
			{SellerID: uuid.New(), LineTotalCents: 20000},
		},
	}

	eval, err := evaluate(coupon, cart, time.Now())
	require.NoError(t, err, "min order is checked against the whole cart")
	assert.Equal(t, int64(10000), eval.BaseCents)
	assert.Equal(t, int64(2000), eval.DiscountCents)
}

func TestDiscountNeverExceedsBaseAndRoundsDown(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		base := rng.Int63n(10_000_000)
		percent := decimal.NewFromFloat(float64(rng.Intn(10000)+1) / 100)
		coupon := models.Coupon{DiscountPercent: percent}
		if rng.Intn(2) == 0 {
			coupon.MaxDiscountCents = int64Ptr(rng.Int63n(50000) + 1)
		}

		got := Discount(coupon, base)
		exact := decimal.NewFromInt(base).Mul(percent).Div(decimal.NewFromInt(100))
		require.GreaterOrEqual(t, got, int64(0))
		require.LessOrEqual(t, got, base)
		require.True(t, decimal.NewFromInt(got).LessThanOrEqual(exact), "discount must round down")
		if coupon.MaxDiscountCents != nil {
			require.LessOrEqual(t, got, *coupon.MaxDiscountCents)
		}
	}
}

func TestEvaluatorLooksUpCodeCaseInsensitively(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.Coupon{
		Code:            "diwali10",
		DiscountPercent: decimal.NewFromInt(10),
		Active:          true,
		CreatedBy:       uuid.New(),
	}))

	evaluator := NewEvaluator(repo, nil)
	eval, err := evaluator.Evaluate(ctx, "  Diwali10 ", uuid.New(), PricedCart{SubtotalCents: 1000})
	require.NoError(t, err)
	assert.Equal(t, "DIWALI10", eval.Coupon.Code)
	assert.Equal(t, int64(100), eval.DiscountCents)

	_, err = evaluator.Evaluate(ctx, "NOPE", uuid.New(), PricedCart{SubtotalCents: 1000})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCouponNotFound))
}
