package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/vendorhub-backend/internal/coupons"
	product "github.com/angelmondragon/vendorhub-backend/internal/products"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
)

// MaxLineQuantity bounds a single cart line.
const MaxLineQuantity = 999

// Service exposes the buyer's cart. Every mutation runs under the buyer's cart lock.
type Service interface {
	Get(ctx context.Context, buyerID uuid.UUID) (*Quote, error)
	AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*Quote, error)
	UpdateQuantity(ctx context.Context, buyerID, productID uuid.UUID, quantity int) (*Quote, error)
	RemoveItem(ctx context.Context, buyerID, productID uuid.UUID) (*Quote, error)
	Clear(ctx context.Context, buyerID uuid.UUID) error
	ApplyCoupon(ctx context.Context, buyerID uuid.UUID, code string) (*Quote, error)
	RemoveCoupon(ctx context.Context, buyerID uuid.UUID) (*Quote, error)
}

type AddItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type service struct {
	repo      *Repository
	pricer    *Pricer
	products  *product.Repository
	evaluator *coupons.Evaluator
	locker    locks.Locker
	logg      *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo *Repository, pricer *Pricer, products *product.Repository, evaluator *coupons.Evaluator, locker locks.Locker, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if pricer == nil {
		return nil, fmt.Errorf("cart pricer required")
	}
	if products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("coupon evaluator required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	return &service{
		repo:      repo,
		pricer:    pricer,
		products:  products,
		evaluator: evaluator,
		locker:    locker,
		logg:      logg,
	}, nil
}

func (s *service) Get(ctx context.Context, buyerID uuid.UUID) (*Quote, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	cart, err := s.repo.FindByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	quote, err := s.pricer.Price(ctx, cart)
	if err != nil {
		return nil, err
	}
	quote.BuyerID = buyerID
	return quote, nil
}

func (s *service) AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*Quote, error) {
	if err := validateQuantity(input.Quantity); err != nil {
		return nil, err
	}
	prod, err := s.products.FindByID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if !prod.Active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
			WithDetails(map[string]any{"product_id": prod.ID.String()})
	}
	return s.mutate(ctx, buyerID, func(ctx context.Context, cart *models.Cart) error {
		qty := input.Quantity
		if existing := findLine(cart, input.ProductID); existing != nil {
			qty += existing.Quantity
		}
		if err := validateQuantity(qty); err != nil {
			return err
		}
		return s.repo.SetQuantity(ctx, cart.ID, input.ProductID, qty)
	})
}

// UpdateQuantity sets the line quantity; zero removes the line.
func (s *service) UpdateQuantity(ctx context.Context, buyerID, productID uuid.UUID, quantity int) (*Quote, error) {
	if quantity == 0 {
		return s.RemoveItem(ctx, buyerID, productID)
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}
	return s.mutate(ctx, buyerID, func(ctx context.Context, cart *models.Cart) error {
		if findLine(cart, productID) == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product is not in the cart")
		}
		return s.repo.SetQuantity(ctx, cart.ID, productID, quantity)
	})
}

func (s *service) RemoveItem(ctx context.Context, buyerID, productID uuid.UUID) (*Quote, error) {
	return s.mutate(ctx, buyerID, func(ctx context.Context, cart *models.Cart) error {
		removed, err := s.repo.DeleteItem(ctx, cart.ID, productID)
		if err != nil {
			return err
		}
		if !removed {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product is not in the cart")
		}
		return nil
	})
}

func (s *service) Clear(ctx context.Context, buyerID uuid.UUID) error {
	_, err := s.mutate(ctx, buyerID, func(ctx context.Context, cart *models.Cart) error {
		return s.repo.Clear(ctx, cart.ID)
	})
	return err
}

// ApplyCoupon evaluates code against the current cart and associates it. Re-applying the
// same code only re-prices; used_count is never touched here.
func (s *service) ApplyCoupon(ctx context.Context, buyerID uuid.UUID, code string) (*Quote, error) {
	return s.mutate(ctx, buyerID, func(ctx context.Context, cart *models.Cart) error {
		if len(cart.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty").WithReason(pkgerrors.ReasonEmptyCart)
		}
		undiscounted := *cart
		undiscounted.CouponID = nil
		quote, err := s.pricer.Price(ctx, &undiscounted)
		if err != nil {
			return err
		}
		eval, err := s.evaluator.Evaluate(ctx, code, buyerID, quote.PricedCart())
		if err != nil {
			return err
		}
		if cart.CouponID != nil && *cart.CouponID == eval.Coupon.ID {
			return nil
		}
		return s.repo.SetCoupon(ctx, cart.ID, &eval.Coupon.ID)
	})
}

func (s *service) RemoveCoupon(ctx context.Context, buyerID uuid.UUID) (*Quote, error) {
	return s.mutate(ctx, buyerID, func(ctx context.Context, cart *models.Cart) error {
		if cart.CouponID == nil {
			return nil
		}
		return s.repo.SetCoupon(ctx, cart.ID, nil)
	})
}

// mutate runs fn on the buyer's cart under the cart lock and returns the re-priced cart.
func (s *service) mutate(ctx context.Context, buyerID uuid.UUID, fn func(ctx context.Context, cart *models.Cart) error) (*Quote, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	var quote *Quote
	err := s.locker.WithLock(ctx, locks.CartKey(buyerID), func(ctx context.Context) error {
		cart, err := s.repo.GetOrCreate(ctx, buyerID)
		if err != nil {
			return err
		}
		if err := fn(ctx, cart); err != nil {
			return err
		}
		cart, err = s.repo.FindByBuyer(ctx, buyerID)
		if err != nil {
			return err
		}
		quote, err = s.pricer.Price(ctx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func findLine(cart *models.Cart, productID uuid.UUID) *models.CartItem {
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			return &cart.Items[i]
		}
	}
	return nil
}

func validateQuantity(qty int) error {
	if qty < 1 || qty > MaxLineQuantity {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity out of range").
			WithDetails(map[string]any{"quantity": qty, "min": 1, "max": MaxLineQuantity})
	}
	return nil
}
