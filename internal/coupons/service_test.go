package coupons

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *Repository) {
	t.Helper()
	repo := NewRepository(dbtest.Open(t).DB())
	svc, err := NewService(repo, nil)
	require.NoError(t, err)
	return svc, repo
}

func TestSellerCouponsAreScopedToSeller(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seller := auth.Actor{UserID: uuid.New(), Role: enums.RoleSeller}

	coupon, err := svc.Create(ctx, seller, CreateInput{Code: "shop5", DiscountPercent: decimal.NewFromInt(5)})
	require.NoError(t, err)
	require.NotNil(t, coupon.SellerID)
	assert.Equal(t, seller.UserID, *coupon.SellerID)
	assert.Equal(t, "SHOP5", coupon.Code)

	other := uuid.New()
	_, err = svc.Create(ctx, seller, CreateInput{Code: "shop6", DiscountPercent: decimal.NewFromInt(5), SellerID: &other})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	intruder := auth.Actor{UserID: uuid.New(), Role: enums.RoleSeller}
	_, err = svc.Deactivate(ctx, intruder, coupon.ID)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	list, err := svc.List(ctx, intruder, ListInput{})
	require.NoError(t, err)
	assert.Empty(t, list.Coupons)

	deactivated, err := svc.Deactivate(ctx, seller, coupon.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)
}

func TestCreateValidatesInputAndRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	admin := auth.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
	past := time.Now().Add(-time.Hour)

	_, err := svc.Create(ctx, admin, CreateInput{Code: "x", DiscountPercent: decimal.NewFromInt(150), ExpiresAt: &past})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "code")
	assert.Contains(t, details, "discount_percent")
	assert.Contains(t, details, "expires_at")

	_, err = svc.Create(ctx, admin, CreateInput{Code: "FEST10", DiscountPercent: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, admin, CreateInput{Code: "fest10", DiscountPercent: decimal.NewFromInt(10)})
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))

	_, err = svc.Create(ctx, auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}, CreateInput{Code: "BUY1", DiscountPercent: decimal.NewFromInt(1)})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
}

func TestIncrementUsageStopsAtLimitUnderConcurrency(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	admin := auth.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
	limit := 3
	coupon, err := svc.Create(ctx, admin, CreateInput{Code: "LIMITED", DiscountPercent: decimal.NewFromInt(10), UsageLimit: &limit})
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.IncrementUsage(ctx, coupon.ID)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 3, wins)

	stored, err := repo.FindByID(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.UsedCount)

	ok, err := repo.Deactivate(ctx, coupon.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Deactivate(ctx, coupon.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
