// Package orders creates orders from carts and drives per-seller fulfillment and cancellation.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/internal/payments"
	product "github.com/angelmondragon/vendorhub-backend/internal/products"
	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox/payloads"
)

const expiredReason = "payment window expired"

// Credits is the slice of the seller ledger the order lifecycle posts to.
type Credits interface {
	PostItemCredit(ctx context.Context, tx *gorm.DB, order *models.Order, item models.OrderItem) (bool, error)
	ReverseItemCredit(ctx context.Context, tx *gorm.DB, item models.OrderItem) (bool, error)
}

// PaymentSyncer settles an order's open attempt from the gateway's view of it.
type PaymentSyncer interface {
	SyncOrderPayment(ctx context.Context, orderID uuid.UUID) (enums.PaymentOutcome, error)
}

// Service defines order reads plus fulfillment and cancellation.
type Service interface {
	ListBuyerOrders(ctx context.Context, actor auth.Actor, filters BuyerOrderFilters) (*OrderList, error)
	GetOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*OrderDetail, error)
	ListSellerItems(ctx context.Context, actor auth.Actor, filters SellerItemFilters) (*SellerItemList, error)
	UpdateItemStatus(ctx context.Context, actor auth.Actor, itemID uuid.UUID, to enums.OrderItemStatus) (*models.OrderItem, error)
	CancelItem(ctx context.Context, actor auth.Actor, itemID uuid.UUID, reason string) (*models.OrderItem, error)
	Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error)
	ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// ServiceOptions wires the order service.
type ServiceOptions struct {
	Repo     Repository
	Payments *payments.Repository
	Products *product.Repository
	Credits  Credits
	Tx       txRunner
	Locker   locks.Locker
	Outbox   outbox.Emitter
	Logger   *logger.Logger
	Clock    func() time.Time
	// Syncer, when set, gets one last look at the gateway before an unpaid order expires.
	Syncer PaymentSyncer
}

type service struct {
	repo     Repository
	payments *payments.Repository
	products *product.Repository
	credits  Credits
	tx       txRunner
	locker   locks.Locker
	outbox   outbox.Emitter
	logg     *logger.Logger
	now      func() time.Time
	syncer   PaymentSyncer
}

func NewService(opts ServiceOptions) (Service, error) {
	switch {
	case opts.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case opts.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case opts.Products == nil:
		return nil, fmt.Errorf("product repository required")
	case opts.Credits == nil:
		return nil, fmt.Errorf("ledger credits required")
	case opts.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case opts.Locker == nil:
		return nil, fmt.Errorf("locker required")
	case opts.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     opts.Repo,
		payments: opts.Payments,
		products: opts.Products,
		credits:  opts.Credits,
		tx:       opts.Tx,
		locker:   opts.Locker,
		outbox:   opts.Outbox,
		logg:     opts.Logger,
		now:      clock,
		syncer:   opts.Syncer,
	}, nil
}

func (s *service) ListBuyerOrders(ctx context.Context, actor auth.Actor, filters BuyerOrderFilters) (*OrderList, error) {
	if !actor.IsBuyer() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers have orders")
	}
	rows, next, err := s.repo.ListBuyerOrders(ctx, actor.UserID, filters)
	if err != nil {
		return nil, err
	}
	return &OrderList{Orders: rows, NextCursor: next}, nil
}

// GetOrder returns the order with its payment attempts. Buyers only see their own orders.
func (s *service) GetOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || !(actor.IsAdmin() || (actor.IsBuyer() && order.BuyerID == actor.UserID)) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	attempts, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: *order, Payments: attempts}, nil
}

func (s *service) ListSellerItems(ctx context.Context, actor auth.Actor, filters SellerItemFilters) (*SellerItemList, error) {
	if !actor.IsSeller() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only sellers fulfill order items")
	}
	items, next, err := s.repo.ListSellerItems(ctx, actor.UserID, filters)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.OrderID)
	}
	byID, err := s.repo.FindOrdersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SellerItem, 0, len(items))
	for _, item := range items {
		order := byID[item.OrderID]
		out = append(out, SellerItem{
			Item:            item,
			OrderStatus:     order.Status,
			PaymentMethod:   order.PaymentMethod,
			ShippingAddress: order.ShippingAddress,
		})
	}
	return &SellerItemList{Items: out, NextCursor: next}, nil
}

// UpdateItemStatus moves a seller's item forward (shipped, delivered) and advances the order.
// Repeating the current status is a no-op. Delivering a cash-on-delivery item credits the seller.
func (s *service) UpdateItemStatus(ctx context.Context, actor auth.Actor, itemID uuid.UUID, to enums.OrderItemStatus) (*models.OrderItem, error) {
	if to != enums.OrderItemStatusShipped && to != enums.OrderItemStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be shipped or delivered")
	}
	item, err := s.sellerItem(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}

	var result *models.OrderItem
	err = s.locker.WithLock(ctx, locks.OrderKey(item.OrderID), func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			order, err := repo.FindOrder(ctx, item.OrderID)
			if err != nil {
				return err
			}
			if order == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			idx := itemIndex(order.Items, itemID)
			if idx < 0 {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			current := order.Items[idx]
			if current.Status == to {
				result = &current
				return nil
			}
			if !order.Status.Fulfillable() {
				return invalidTransition(fmt.Sprintf("order is %s and cannot be fulfilled", order.Status))
			}
			if !current.Status.CanTransitionTo(to) {
				return invalidTransition(fmt.Sprintf("item cannot move from %s to %s", current.Status, to))
			}

			now := s.now().UTC()
			updates := map[string]any{}
			if to == enums.OrderItemStatusShipped {
				updates["shipped_at"] = now
				current.ShippedAt = &now
			} else {
				updates["delivered_at"] = now
				current.DeliveredAt = &now
			}
			ok, err := repo.TransitionItem(ctx, current.ID, current.Status, to, updates)
			if err != nil {
				return err
			}
			if !ok {
				return concurrentUpdate()
			}
			from := current.Status
			current.Status = to
			order.Items[idx] = current

			if to == enums.OrderItemStatusDelivered && order.PaymentMethod == enums.PaymentMethodCOD {
				if _, err := s.credits.PostItemCredit(ctx, tx, order, current); err != nil {
					return err
				}
			}
			if err := s.advance(ctx, repo, order); err != nil {
				return err
			}
			result = &current
			return s.emitItemChanged(ctx, tx, actor, order, current, from)
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelItem cancels one line of a fulfillable order: stock is restored, any seller credit is
// reversed and, for paid orders, a refund for the line's share is requested. Cancelling the
// last live line cancels the order.
func (s *service) CancelItem(ctx context.Context, actor auth.Actor, itemID uuid.UUID, reason string) (*models.OrderItem, error) {
	item, err := s.sellerItem(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	var result *models.OrderItem
	err = s.locker.WithLock(ctx, locks.OrderKey(item.OrderID), func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			order, err := repo.FindOrder(ctx, item.OrderID)
			if err != nil {
				return err
			}
			if order == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			if order.Status == enums.OrderStatusPendingPayment {
				return invalidTransition("order awaits payment; cancel the whole order instead")
			}
			if order.Status.IsTerminal() {
				return invalidTransition(fmt.Sprintf("order is already %s", order.Status))
			}
			idx := itemIndex(order.Items, itemID)
			if idx < 0 {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			current := order.Items[idx]
			if !current.Status.CanTransitionTo(enums.OrderItemStatusCancelled) {
				return invalidTransition(fmt.Sprintf("item is %s and cannot be cancelled", current.Status))
			}
			from := current.Status
			refundable := order.FinalTotalCents - refundedShares(order)
			if err := s.cancelLine(ctx, tx, &current); err != nil {
				return err
			}
			order.Items[idx] = current

			previous := order.Status
			next := deriveOrderStatus(order.Status, order.Items)
			if next == enums.OrderStatusCancelled {
				if err := s.closeOrder(ctx, tx, actor, order, reason, refundable); err != nil {
					return err
				}
			} else {
				if order.PaidAt != nil {
					if err := s.requestRefund(ctx, tx, order, refundShare(order, current), "item cancelled"); err != nil {
						return err
					}
				}
				if err := s.advance(ctx, repo, order); err != nil {
					return err
				}
			}
			result = &current
			if err := s.emitItemChanged(ctx, tx, actor, order, current, from); err != nil {
				return err
			}
			if s.logg != nil {
				s.logg.Info(s.logg.WithFields(ctx, map[string]any{
					"order_id":      order.ID.String(),
					"order_item_id": current.ID.String(),
					"previous":      previous,
					"order_status":  order.Status,
					"cancel_reason": reason,
				}), "order item cancelled")
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel cancels the whole order. Buyers may cancel their own orders until shipment; admins may
// also cancel shipped orders as long as nothing was delivered. Open payment attempts are failed,
// stock is restored and credits reversed; a paid order additionally emits a refund request.
func (s *service) Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error) {
	if !actor.IsAdmin() && !actor.IsBuyer() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer or an admin can cancel an order")
	}
	return s.cancel(ctx, &actor, orderID, strings.TrimSpace(reason))
}

// ExpireUnpaid cancels orders still awaiting payment that were placed before cutoff. Each order
// is synced with its gateway first; an order the gateway reports as paid is settled instead, and
// one whose sync fails is left for the next run.
func (s *service) ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	rows, err := s.repo.ListUnpaidBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, row := range rows {
		if s.syncer != nil {
			outcome, err := s.syncer.SyncOrderPayment(ctx, row.ID)
			if err != nil {
				if s.logg != nil {
					s.logg.Warn(s.logg.WithOrderID(ctx, row.ID.String()), "final payment sync failed, expiry deferred: "+err.Error())
				}
				continue
			}
			if outcome == enums.PaymentOutcomeSucceeded {
				continue
			}
		}
		if _, err := s.cancel(ctx, nil, row.ID, expiredReason); err != nil {
			if pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *service) cancel(ctx context.Context, actor *auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error) {
	var order *models.Order
	err := s.locker.WithLock(ctx, locks.OrderKey(orderID), func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			order, err = s.repo.WithTx(tx).FindOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if order == nil || (actor != nil && actor.IsBuyer() && order.BuyerID != actor.UserID) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			switch {
			case order.Status == enums.OrderStatusCancelled:
				return invalidTransition("order is already cancelled")
			case order.Status == enums.OrderStatusDelivered:
				return invalidTransition("delivered orders cannot be cancelled")
			case actor == nil && order.Status != enums.OrderStatusPendingPayment:
				return invalidTransition(fmt.Sprintf("order is %s", order.Status))
			case actor != nil && !actor.IsAdmin() && order.Status == enums.OrderStatusShipped:
				return invalidTransition("shipped orders can only be cancelled by support")
			}
			for _, item := range order.Items {
				switch {
				case item.Status == enums.OrderItemStatusDelivered:
					return invalidTransition("order has delivered items")
				case item.Status == enums.OrderItemStatusShipped && actor != nil && !actor.IsAdmin():
					return invalidTransition("shipped orders can only be cancelled by support")
				}
			}
			refundable := order.FinalTotalCents - refundedShares(order)
			for i := range order.Items {
				if order.Items[i].Status == enums.OrderItemStatusCancelled {
					continue
				}
				if err := s.cancelLine(ctx, tx, &order.Items[i]); err != nil {
					return err
				}
			}
			return s.closeOrder(ctx, tx, derefActor(actor), order, reason, refundable)
		})
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"order_id": order.ID.String(),
			"reason":   reason,
		}), "order cancelled")
	}
	return order, nil
}

// cancelLine cancels one live item inside tx, restores its stock and reverses its credit.
func (s *service) cancelLine(ctx context.Context, tx *gorm.DB, item *models.OrderItem) error {
	now := s.now().UTC()
	ok, err := s.repo.WithTx(tx).TransitionItem(ctx, item.ID, item.Status, enums.OrderItemStatusCancelled, map[string]any{"cancelled_at": now})
	if err != nil {
		return err
	}
	if !ok {
		return concurrentUpdate()
	}
	if err := s.products.WithTx(tx).RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
		return err
	}
	item.Status = enums.OrderItemStatusCancelled
	item.CancelledAt = &now
	_, err = s.credits.ReverseItemCredit(ctx, tx, *item)
	return err
}

// closeOrder moves the order to cancelled once its items are, fails open payment attempts and
// emits order.cancelled. For paid orders refundable is requested back.
func (s *service) closeOrder(ctx context.Context, tx *gorm.DB, actor auth.Actor, order *models.Order, reason string, refundable int64) error {
	now := s.now().UTC()
	previous := order.Status
	ok, err := s.repo.WithTx(tx).TransitionOrder(ctx, order.ID, previous, enums.OrderStatusCancelled, map[string]any{"cancelled_at": now})
	if err != nil {
		return err
	}
	if !ok {
		return concurrentUpdate()
	}
	order.Status = enums.OrderStatusCancelled
	order.CancelledAt = &now

	failReason := "order cancelled"
	if reason != "" {
		failReason = reason
	}
	if _, err := s.payments.WithTx(tx).FailOpen(ctx, order.ID, failReason); err != nil {
		return err
	}

	refundRequired := order.PaidAt != nil
	if refundRequired {
		if err := s.requestRefund(ctx, tx, order, refundable, "order cancelled"); err != nil {
			return err
		}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderCancelledEvent{
			OrderID:        order.ID,
			BuyerID:        order.BuyerID,
			PreviousStatus: previous,
			CancelledAt:    now,
			Reason:         reason,
			RefundRequired: refundRequired,
		},
	})
}

// requestRefund queues a refund against the order's captured payment, if there is one.
func (s *service) requestRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amount int64, reason string) error {
	if amount <= 0 {
		return nil
	}
	captured, err := s.payments.WithTx(tx).FindSucceeded(ctx, order.ID)
	if err != nil || captured == nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefundRequired,
		AggregateType: enums.AggregatePayment,
		AggregateID:   captured.ID,
		Data: payloads.PaymentRefundRequiredEvent{
			OrderID:          order.ID,
			PaymentID:        captured.ID,
			Gateway:          captured.Gateway,
			GatewayPaymentID: captured.GatewayPaymentID,
			AmountCents:      amount,
			Reason:           reason,
		},
	})
}

// advance walks the order along the graph to the status its items imply.
func (s *service) advance(ctx context.Context, repo Repository, order *models.Order) error {
	target := deriveOrderStatus(order.Status, order.Items)
	for _, next := range statusPath(order.Status, target) {
		ok, err := repo.TransitionOrder(ctx, order.ID, order.Status, next, nil)
		if err != nil {
			return err
		}
		if !ok {
			return concurrentUpdate()
		}
		order.Status = next
	}
	return nil
}

// sellerItem loads the item and checks the actor may fulfill it. Foreign items are reported
// as missing.
func (s *service) sellerItem(ctx context.Context, actor auth.Actor, itemID uuid.UUID) (*models.OrderItem, error) {
	if !actor.IsSeller() && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only sellers and admins manage order items")
	}
	item, err := s.repo.FindItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil || (actor.IsSeller() && item.SellerID != actor.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
	}
	return item, nil
}

func (s *service) emitItemChanged(ctx context.Context, tx *gorm.DB, actor auth.Actor, order *models.Order, item models.OrderItem, from enums.OrderItemStatus) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderItemStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderItemStatusChangedEvent{
			OrderID:     order.ID,
			OrderItemID: item.ID,
			SellerID:    item.SellerID,
			From:        from,
			To:          item.Status,
			OrderStatus: order.Status,
		},
	})
}

// refundedShares sums the shares of items already cancelled, whose refunds were requested
// when they were cancelled.
func refundedShares(order *models.Order) int64 {
	if order.PaidAt == nil {
		return 0
	}
	refunded := int64(0)
	for _, item := range order.Items {
		if item.Status == enums.OrderItemStatusCancelled {
			refunded += refundShare(order, item)
		}
	}
	return refunded
}

func itemIndex(items []models.OrderItem, id uuid.UUID) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func actorRef(actor auth.Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}

func derefActor(actor *auth.Actor) auth.Actor {
	if actor == nil {
		return auth.Actor{}
	}
	return *actor
}

func invalidTransition(message string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, message).WithReason(pkgerrors.ReasonInvalidTransition)
}

func concurrentUpdate() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry")
}
