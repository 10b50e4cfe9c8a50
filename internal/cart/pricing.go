package cart

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/internal/coupons"
	product "github.com/angelmondragon/vendorhub-backend/internal/products"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
)

// QuoteItem is one cart line priced from the live catalog.
type QuoteItem struct {
	ProductID         uuid.UUID `json:"product_id"`
	SellerID          uuid.UUID `json:"seller_id"`
	ProductName       string    `json:"product_name"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	Quantity          int       `json:"quantity"`
	LineTotalCents    int64     `json:"line_total_cents"`
	AvailableStock    int       `json:"available_stock"`
	InsufficientStock bool      `json:"insufficient_stock"`
	Unavailable       bool      `json:"unavailable"`
}

// Flagged reports whether checkout must be blocked on this line.
func (i QuoteItem) Flagged() bool {
	return i.InsufficientStock || i.Unavailable
}

// AppliedCoupon is the coupon that priced the quote.
type AppliedCoupon struct {
	ID              uuid.UUID       `json:"id"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	SellerID        *uuid.UUID      `json:"seller_id,omitempty"`
}

// CouponError describes why an associated coupon no longer applies.
type CouponError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Quote is the priced view of a cart. FinalTotalCents is always SubtotalCents - DiscountCents.
type Quote struct {
	CartID          uuid.UUID      `json:"cart_id"`
	BuyerID         uuid.UUID      `json:"buyer_id"`
	Items           []QuoteItem    `json:"items"`
	SubtotalCents   int64          `json:"subtotal_cents"`
	DiscountCents   int64          `json:"discount_cents"`
	FinalTotalCents int64          `json:"final_total_cents"`
	Coupon          *AppliedCoupon `json:"coupon,omitempty"`
	CouponError     *CouponError   `json:"coupon_error,omitempty"`

	couponID  *uuid.UUID
	couponErr error
}

// CouponErr returns the typed evaluator error behind CouponError, if any.
func (q *Quote) CouponErr() error {
	return q.couponErr
}

// CouponID is the coupon associated with the cart, valid or not.
func (q *Quote) CouponID() *uuid.UUID {
	return q.couponID
}

// Flagged returns the lines that block checkout.
func (q *Quote) Flagged() []QuoteItem {
	var out []QuoteItem
	for _, item := range q.Items {
		if item.Flagged() {
			out = append(out, item)
		}
	}
	return out
}

// PricedCart converts the quote into the coupon evaluator's input.
func (q *Quote) PricedCart() coupons.PricedCart {
	lines := make([]coupons.Line, 0, len(q.Items))
	for _, item := range q.Items {
		if item.Unavailable {
			continue
		}
		lines = append(lines, coupons.Line{SellerID: item.SellerID, LineTotalCents: item.LineTotalCents})
	}
	return coupons.PricedCart{SubtotalCents: q.SubtotalCents, Lines: lines}
}

// Pricer prices carts from live catalog data.
type Pricer struct {
	products  *product.Repository
	coupons   *coupons.Repository
	evaluator *coupons.Evaluator
}

func NewPricer(products *product.Repository, couponRepo *coupons.Repository, evaluator *coupons.Evaluator) *Pricer {
	return &Pricer{products: products, coupons: couponRepo, evaluator: evaluator}
}

// WithTx binds catalog and coupon reads to a transaction.
func (p *Pricer) WithTx(tx *gorm.DB) *Pricer {
	if tx == nil {
		return p
	}
	return &Pricer{products: p.products.WithTx(tx), coupons: p.coupons.WithTx(tx), evaluator: p.evaluator}
}

// Price computes subtotal, discount and per-line availability. Quantities are never clamped;
// lines over stock are flagged. A stale coupon yields a zero discount plus CouponError.
func (p *Pricer) Price(ctx context.Context, cart *models.Cart) (*Quote, error) {
	quote := &Quote{Items: []QuoteItem{}}
	if cart == nil {
		return quote, nil
	}
	quote.CartID = cart.ID
	quote.BuyerID = cart.BuyerID
	quote.couponID = cart.CouponID

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	catalog, err := p.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, item := range cart.Items {
		line := QuoteItem{ProductID: item.ProductID, Quantity: item.Quantity}
		prod, ok := catalog[item.ProductID]
		if !ok || !prod.Active {
			line.Unavailable = true
			line.InsufficientStock = true
			if ok {
				line.SellerID = prod.SellerID
				line.ProductName = prod.Name
			}
			quote.Items = append(quote.Items, line)
			continue
		}
		line.SellerID = prod.SellerID
		line.ProductName = prod.Name
		line.UnitPriceCents = prod.PriceCents
		line.LineTotalCents = prod.PriceCents * int64(item.Quantity)
		line.AvailableStock = prod.Stock
		line.InsufficientStock = item.Quantity > prod.Stock
		quote.SubtotalCents += line.LineTotalCents
		quote.Items = append(quote.Items, line)
	}

	if cart.CouponID != nil {
		if err := p.applyCoupon(ctx, quote, *cart.CouponID); err != nil {
			return nil, err
		}
	}
	quote.FinalTotalCents = quote.SubtotalCents - quote.DiscountCents
	return quote, nil
}

func (p *Pricer) applyCoupon(ctx context.Context, quote *Quote, couponID uuid.UUID) error {
	coupon, err := p.coupons.FindByID(ctx, couponID)
	if err != nil {
		return err
	}
	eval, evalErr := p.evaluator.EvaluateCoupon(ctx, coupon, quote.BuyerID, quote.PricedCart())
	if evalErr != nil {
		if pkgerrors.As(evalErr) == nil {
			return evalErr
		}
		quote.couponErr = evalErr
		quote.CouponError = &CouponError{
			Reason:  string(pkgerrors.ReasonOf(evalErr)),
			Message: pkgerrors.As(evalErr).Message(),
		}
		return nil
	}
	quote.DiscountCents = eval.DiscountCents
	quote.Coupon = &AppliedCoupon{
		ID:              eval.Coupon.ID,
		Code:            eval.Coupon.Code,
		DiscountPercent: eval.Coupon.DiscountPercent,
		SellerID:        eval.Coupon.SellerID,
	}
	return nil
}
