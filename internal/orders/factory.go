package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/internal/address"
	"github.com/angelmondragon/vendorhub-backend/internal/cart"
	"github.com/angelmondragon/vendorhub-backend/internal/coupons"
	product "github.com/angelmondragon/vendorhub-backend/internal/products"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MethodSupport reports which online gateways are configured.
type MethodSupport interface {
	Supports(kind enums.PaymentMethod) bool
}

// FactoryOptions wires the checkout factory.
type FactoryOptions struct {
	Repo      Repository
	Carts     *cart.Repository
	Pricer    *cart.Pricer
	Products  *product.Repository
	Coupons   *coupons.Repository
	Addresses *address.Repository
	Methods   MethodSupport
	AllowCOD  bool
	Tx        txRunner
	Locker    locks.Locker
	Outbox    outbox.Emitter
	Logger    *logger.Logger
}

// Factory turns a buyer's cart into an order.
type Factory struct {
	repo      Repository
	carts     *cart.Repository
	pricer    *cart.Pricer
	products  *product.Repository
	coupons   *coupons.Repository
	addresses *address.Repository
	methods   MethodSupport
	allowCOD  bool
	tx        txRunner
	locker    locks.Locker
	outbox    outbox.Emitter
	logg      *logger.Logger
}

func NewFactory(opts FactoryOptions) (*Factory, error) {
	switch {
	case opts.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case opts.Carts == nil || opts.Pricer == nil:
		return nil, fmt.Errorf("cart repository and pricer required")
	case opts.Products == nil:
		return nil, fmt.Errorf("product repository required")
	case opts.Coupons == nil:
		return nil, fmt.Errorf("coupon repository required")
	case opts.Addresses == nil:
		return nil, fmt.Errorf("address repository required")
	case opts.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case opts.Locker == nil:
		return nil, fmt.Errorf("locker required")
	case opts.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Factory{
		repo:      opts.Repo,
		carts:     opts.Carts,
		pricer:    opts.Pricer,
		products:  opts.Products,
		coupons:   opts.Coupons,
		addresses: opts.Addresses,
		methods:   opts.Methods,
		allowCOD:  opts.AllowCOD,
		tx:        opts.Tx,
		locker:    opts.Locker,
		outbox:    opts.Outbox,
		logg:      opts.Logger,
	}, nil
}

// Checkout prices the cart one last time and, under the buyer's cart lock and inside a single
// transaction, decrements stock, consumes the coupon, creates the order and clears the cart.
// Any failure leaves stock, coupon usage and the cart untouched.
func (f *Factory) Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if err := f.validateMethod(input.PaymentMethod); err != nil {
		return nil, err
	}
	addr, err := f.addresses.FindOwned(ctx, input.BuyerID, input.AddressID)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = f.locker.WithLock(ctx, locks.CartKey(input.BuyerID), func(ctx context.Context) error {
		return f.tx.WithTx(ctx, func(tx *gorm.DB) error {
			c, err := f.carts.WithTx(tx).FindByBuyer(ctx, input.BuyerID)
			if err != nil {
				return err
			}
			if c == nil || len(c.Items) == 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty").WithReason(pkgerrors.ReasonEmptyCart)
			}
			quote, err := f.pricer.WithTx(tx).Price(ctx, c)
			if err != nil {
				return err
			}
			if flagged := quote.Flagged(); len(flagged) > 0 {
				return insufficientStock(flagged)
			}
			if err := quote.CouponErr(); err != nil {
				return err
			}
			if quote.FinalTotalCents <= 0 && input.PaymentMethod.IsOnline() {
				return pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive for online payment").
					WithReason(pkgerrors.ReasonInvalidPaymentMethod)
			}

			products := f.products.WithTx(tx)
			for _, line := range quote.Items {
				ok, err := products.DecrementStock(ctx, line.ProductID, line.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					return pkgerrors.New(pkgerrors.CodeConflict, "stock changed during checkout").
						WithReason(pkgerrors.ReasonStockConflict).
						WithDetails(map[string]any{"product_id": line.ProductID.String()})
				}
			}

			if quote.Coupon != nil {
				ok, err := f.coupons.WithTx(tx).IncrementUsage(ctx, quote.Coupon.ID)
				if err != nil {
					return err
				}
				if !ok {
					return pkgerrors.New(pkgerrors.CodeValidation, "coupon usage limit reached").
						WithReason(pkgerrors.ReasonUsageLimitExceeded)
				}
			}

			order = buildOrder(input, addr, quote)
			if err := f.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
				return err
			}
			if err := f.carts.WithTx(tx).Clear(ctx, c.ID); err != nil {
				return err
			}
			return f.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: string(enums.RoleBuyer)},
				Data:          orderCreated(order),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if f.logg != nil {
		f.logg.Info(f.logg.WithFields(ctx, map[string]any{
			"order_id":          order.ID.String(),
			"buyer_id":          order.BuyerID.String(),
			"payment_method":    order.PaymentMethod,
			"final_total_cents": order.FinalTotalCents,
		}), "order created")
	}
	return order, nil
}

func (f *Factory) validateMethod(method enums.PaymentMethod) error {
	invalid := pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment method %q is not available", method)).
		WithReason(pkgerrors.ReasonInvalidPaymentMethod)
	if !method.IsValid() {
		return invalid
	}
	if method == enums.PaymentMethodCOD {
		if !f.allowCOD {
			return invalid
		}
		return nil
	}
	if f.methods == nil || !f.methods.Supports(method) {
		return invalid
	}
	return nil
}

func buildOrder(input CheckoutInput, addr *models.Address, quote *cart.Quote) *models.Order {
	status := enums.OrderStatusPendingPayment
	if input.PaymentMethod == enums.PaymentMethodCOD {
		status = enums.OrderStatusPending
	}
	order := &models.Order{
		BuyerID:         input.BuyerID,
		ShippingAddress: addr.Snapshot(),
		SubtotalCents:   quote.SubtotalCents,
		DiscountCents:   quote.DiscountCents,
		FinalTotalCents: quote.FinalTotalCents,
		PaymentMethod:   input.PaymentMethod,
		Status:          status,
		Items:           make([]models.OrderItem, 0, len(quote.Items)),
	}
	if quote.Coupon != nil {
		id, code := quote.Coupon.ID, quote.Coupon.Code
		order.CouponID = &id
		order.CouponCode = &code
	}
	for _, line := range quote.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:      line.ProductID,
			SellerID:       line.SellerID,
			ProductName:    line.ProductName,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: line.LineTotalCents,
			Status:         enums.OrderItemStatusPending,
		})
	}
	return order
}

func insufficientStock(flagged []cart.QuoteItem) error {
	lines := make([]map[string]any, 0, len(flagged))
	for _, item := range flagged {
		lines = append(lines, map[string]any{
			"product_id":      item.ProductID.String(),
			"requested":       item.Quantity,
			"available_stock": item.AvailableStock,
			"unavailable":     item.Unavailable,
		})
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "some items are out of stock").
		WithReason(pkgerrors.ReasonInsufficientStock).
		WithDetails(map[string]any{"items": lines})
}

func orderCreated(order *models.Order) payloads.OrderCreatedEvent {
	return payloads.OrderCreatedEvent{
		OrderID:         order.ID,
		BuyerID:         order.BuyerID,
		PaymentMethod:   order.PaymentMethod,
		Status:          order.Status,
		SubtotalCents:   order.SubtotalCents,
		DiscountCents:   order.DiscountCents,
		FinalTotalCents: order.FinalTotalCents,
		CouponCode:      order.CouponCode,
		SellerIDs:       sellerIDs(order.Items),
	}
}

func sellerIDs(items []models.OrderItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	out := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		out = append(out, item.SellerID)
	}
	return out
}
