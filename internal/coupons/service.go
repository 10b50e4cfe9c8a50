package coupons

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/pagination"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{2,31}$`)

// Service manages coupon definitions for admins and sellers.
type Service interface {
	Create(ctx context.Context, actor auth.Actor, input CreateInput) (*models.Coupon, error)
	Deactivate(ctx context.Context, actor auth.Actor, couponID uuid.UUID) (*models.Coupon, error)
	List(ctx context.Context, actor auth.Actor, input ListInput) (*ListResult, error)
}

// CreateInput describes a new coupon. SellerID is only honoured for admins;
// seller-created coupons are always scoped to the seller.
type CreateInput struct {
	Code             string
	DiscountPercent  decimal.Decimal
	MaxDiscountCents *int64
	MinOrderCents    int64
	ExpiresAt        *time.Time
	UsageLimit       *int
	SellerID         *uuid.UUID
}

type ListInput struct {
	SellerID   *uuid.UUID
	ActiveOnly bool
	Page       pagination.Params
}

type ListResult struct {
	Coupons    []models.Coupon `json:"coupons"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type service struct {
	repo *Repository
	now  func() time.Time
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	return &service{repo: repo, now: time.Now, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, actor auth.Actor, input CreateInput) (*models.Coupon, error) {
	scope, err := scopeFor(actor, input.SellerID)
	if err != nil {
		return nil, err
	}
	if err := validateCreate(input, s.now().UTC()); err != nil {
		return nil, err
	}

	coupon := &models.Coupon{
		Code:             NormalizeCode(input.Code),
		DiscountPercent:  input.DiscountPercent,
		MaxDiscountCents: input.MaxDiscountCents,
		MinOrderCents:    input.MinOrderCents,
		ExpiresAt:        input.ExpiresAt,
		UsageLimit:       input.UsageLimit,
		SellerID:         scope,
		Active:           true,
		CreatedBy:        actor.UserID,
	}
	if err := s.repo.Create(ctx, coupon); err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"coupon_id":   coupon.ID.String(),
			"coupon_code": coupon.Code,
			"actor_role":  actor.Role,
		}), "coupon created")
	}
	return coupon, nil
}

func (s *service) Deactivate(ctx context.Context, actor auth.Actor, couponID uuid.UUID) (*models.Coupon, error) {
	coupon, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}
	if !actor.IsAdmin() {
		if !actor.IsSeller() || coupon.SellerID == nil || *coupon.SellerID != actor.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "coupon belongs to another seller")
		}
	}
	if _, err := s.repo.Deactivate(ctx, couponID); err != nil {
		return nil, err
	}
	coupon.Active = false
	return coupon, nil
}

func (s *service) List(ctx context.Context, actor auth.Actor, input ListInput) (*ListResult, error) {
	filter := ListFilter{SellerID: input.SellerID, ActiveOnly: input.ActiveOnly, Page: input.Page}
	switch {
	case actor.IsAdmin():
	case actor.IsSeller():
		id := actor.UserID
		filter.SellerID = &id
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "coupon listing requires seller or admin role")
	}
	rows, next, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &ListResult{Coupons: rows, NextCursor: next}, nil
}

func scopeFor(actor auth.Actor, requested *uuid.UUID) (*uuid.UUID, error) {
	switch {
	case actor.IsAdmin():
		return requested, nil
	case actor.IsSeller():
		id := actor.UserID
		if requested != nil && *requested != id {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "sellers may only create coupons for their own items")
		}
		return &id, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "coupon management requires seller or admin role")
	}
}

func validateCreate(input CreateInput, now time.Time) error {
	details := map[string]string{}
	if !codePattern.MatchString(NormalizeCode(input.Code)) {
		details["code"] = "must be 3-32 letters, digits, '-' or '_'"
	}
	if !input.DiscountPercent.IsPositive() || input.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		details["discount_percent"] = "must be within (0, 100]"
	}
	if input.MaxDiscountCents != nil && *input.MaxDiscountCents <= 0 {
		details["max_discount_cents"] = "must be positive"
	}
	if input.MinOrderCents < 0 {
		details["min_order_cents"] = "must not be negative"
	}
	if input.UsageLimit != nil && *input.UsageLimit < 1 {
		details["usage_limit"] = "must be at least 1"
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		details["expires_at"] = "must be in the future"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid coupon").WithDetails(details)
	}
	return nil
}
