package coupons

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vendorhub-backend/api/middleware"
	internalcoupons "github.com/angelmondragon/vendorhub-backend/internal/coupons"
	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
)

type stubCoupons struct {
	internalcoupons.Service
	create internalcoupons.CreateInput
	list   internalcoupons.ListInput
}

func (s *stubCoupons) Create(_ context.Context, actor auth.Actor, input internalcoupons.CreateInput) (*models.Coupon, error) {
	s.create = input
	return &models.Coupon{ID: uuid.New(), Code: input.Code, DiscountPercent: input.DiscountPercent, Active: true, CreatedBy: actor.UserID}, nil
}

func (s *stubCoupons) List(_ context.Context, _ auth.Actor, input internalcoupons.ListInput) (*internalcoupons.ListResult, error) {
	s.list = input
	return &internalcoupons.ListResult{}, nil
}

func withRole(req *http.Request, role enums.Role) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), auth.Actor{UserID: uuid.New(), Role: role}))
}

func TestCreateDecodesDecimalPercent(t *testing.T) {
	svc := &stubCoupons{}
	body := `{"code":"FESTIVE15","discount_percent":"15.5","min_order_cents":50000,"usage_limit":100}`
	req := withRole(httptest.NewRequest(http.MethodPost, "/api/admin/v1/coupons", strings.NewReader(body)), enums.RoleAdmin)

	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, svc.create.DiscountPercent.Equal(decimal.RequireFromString("15.5")))
	assert.Equal(t, int64(50000), svc.create.MinOrderCents)
	require.NotNil(t, svc.create.UsageLimit)
	assert.Equal(t, 100, *svc.create.UsageLimit)
}

func TestCreateRejectsBadCode(t *testing.T) {
	svc := &stubCoupons{}
	req := withRole(httptest.NewRequest(http.MethodPost, "/api/v1/seller/coupons", strings.NewReader(`{"code":"no spaces!","discount_percent":10}`)), enums.RoleSeller)

	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.create.Code)
}

func TestListParsesFilters(t *testing.T) {
	svc := &stubCoupons{}
	sellerID := uuid.New()
	req := withRole(httptest.NewRequest(http.MethodGet, "/api/admin/v1/coupons?active=true&seller_id="+sellerID.String(), nil), enums.RoleAdmin)

	rec := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.list.ActiveOnly)
	require.NotNil(t, svc.list.SellerID)
	assert.Equal(t, sellerID, *svc.list.SellerID)
}
