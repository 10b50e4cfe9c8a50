package reconciliation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox/payloads"
)

type outcome struct {
	Outcome          enums.PaymentOutcome
	GatewayPaymentID string
	Reason           string
	Signature        string
}

// settleable are the attempt states a verified capture may still settle from. Failed is here
// only for superseded attempts the buyer completed anyway; any other failed attempt stays
// failed, and a capture arriving after its failure (an out-of-order failed-then-succeeded
// delivery) is routed to lateCapture instead.
var settleable = []enums.PaymentStatus{enums.PaymentStatusCreated, enums.PaymentStatusPending, enums.PaymentStatusFailed}

var openAttempts = []enums.PaymentStatus{enums.PaymentStatusCreated, enums.PaymentStatusPending}

// applyOutcome is the single transition rule for payment outcomes. It runs under the order
// lock in one transaction, so concurrent callbacks, webhooks and syncs for the same order
// serialize and the order is paid and credited at most once.
func (c *Controller) applyOutcome(ctx context.Context, paymentID uuid.UUID, in outcome) (*Result, error) {
	attempt, err := c.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
	}

	res := &Result{OrderID: attempt.OrderID, PaymentID: attempt.ID, Outcome: in.Outcome}
	var transitioned bool
	err = c.withOrder(ctx, attempt.OrderID, func(ctx context.Context, tx *gorm.DB) error {
		repo := c.payments.WithTx(tx)
		attempt, err = repo.FindByID(ctx, paymentID)
		if err != nil {
			return err
		}
		order, err := c.orders.WithTx(tx).FindOrder(ctx, attempt.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		res.OrderStatus = order.Status
		res.PaymentStatus = attempt.Status

		switch in.Outcome {
		case enums.PaymentOutcomeSucceeded:
			transitioned, err = c.settle(ctx, tx, order, attempt, in, res)
		case enums.PaymentOutcomeFailed:
			transitioned, err = c.fail(ctx, tx, order, attempt, in.Reason, res)
		default:
			if attempt.Status == enums.PaymentStatusCreated {
				transitioned, err = repo.Transition(ctx, attempt.ID, []enums.PaymentStatus{enums.PaymentStatusCreated}, enums.PaymentStatusPending, nil)
				if transitioned {
					res.PaymentStatus = enums.PaymentStatusPending
				}
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if transitioned {
		c.gateways.Metrics().IncTransition(string(attempt.Gateway), string(in.Outcome))
		c.logAttempt(ctx, attempt, "payment outcome applied: "+string(in.Outcome), nil)
	}
	return res, nil
}

func (c *Controller) settle(ctx context.Context, tx *gorm.DB, order *models.Order, attempt *models.Payment, in outcome, res *Result) (bool, error) {
	if attempt.Status == enums.PaymentStatusSucceeded {
		return false, nil
	}
	repo := c.payments.WithTx(tx)
	captured, err := repo.FindSucceeded(ctx, order.ID)
	if err != nil {
		return false, err
	}
	updates := map[string]any{}
	if in.GatewayPaymentID != "" {
		updates["gateway_payment_id"] = in.GatewayPaymentID
	}
	if in.Signature != "" {
		updates["signature"] = in.Signature
	}

	if captured != nil || order.Status != enums.OrderStatusPendingPayment || closedForGood(attempt) {
		return c.lateCapture(ctx, tx, order, attempt, in, updates, res)
	}

	updates["failure_reason"] = nil
	ok, err := repo.Transition(ctx, attempt.ID, settleable, enums.PaymentStatusSucceeded, updates)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "payment attempt changed concurrently, retry")
	}
	paidAt := c.now().UTC()
	ok, err = c.orders.WithTx(tx).TransitionOrder(ctx, order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusPaid, map[string]any{
		"paid_at":                paidAt,
		"payment_failed":         false,
		"payment_failure_reason": nil,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry")
	}
	order.Status = enums.OrderStatusPaid
	order.PaidAt = &paidAt

	credits, err := c.credits.PostOrderCredits(ctx, tx, order, order.Items)
	if err != nil {
		return false, err
	}
	if err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderPaidEvent{
			OrderID:     order.ID,
			BuyerID:     order.BuyerID,
			PaymentID:   attempt.ID,
			Gateway:     attempt.Gateway,
			AmountCents: attempt.AmountCents,
			PaidAt:      paidAt,
			Credits:     credits,
		},
	}); err != nil {
		return false, err
	}
	res.OrderStatus = order.Status
	res.PaymentStatus = enums.PaymentStatusSucceeded
	return true, nil
}

// closedForGood reports a failed attempt that must not be revived by a later capture.
func closedForGood(attempt *models.Payment) bool {
	return attempt.Status == enums.PaymentStatusFailed &&
		(attempt.FailureReason == nil || *attempt.FailureReason != reasonSuperseded)
}

// lateCapture handles money captured for an order that is already paid by another attempt or
// no longer payable: the attempt is closed as failed and a refund is requested once.
func (c *Controller) lateCapture(ctx context.Context, tx *gorm.DB, order *models.Order, attempt *models.Payment, in outcome, updates map[string]any, res *Result) (bool, error) {
	res.RefundRequired = true
	ok := false
	if attempt.Status.IsOpen() {
		updates["failure_reason"] = reasonLateCapture
		var err error
		ok, err = c.payments.WithTx(tx).Transition(ctx, attempt.ID, openAttempts, enums.PaymentStatusFailed, updates)
		if err != nil {
			return false, err
		}
		if ok {
			res.PaymentStatus = enums.PaymentStatusFailed
		}
	}
	var gatewayPaymentID *string
	if in.GatewayPaymentID != "" {
		id := in.GatewayPaymentID
		gatewayPaymentID = &id
	}
	err := c.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefundRequired,
		AggregateType: enums.AggregatePayment,
		AggregateID:   attempt.ID,
		Data: payloads.PaymentRefundRequiredEvent{
			OrderID:          order.ID,
			PaymentID:        attempt.ID,
			Gateway:          attempt.Gateway,
			GatewayPaymentID: gatewayPaymentID,
			AmountCents:      attempt.AmountCents,
			Reason:           reasonLateCapture,
		},
	})
	if err != nil {
		return false, err
	}
	if c.logg != nil {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"payment_id":   attempt.ID.String(),
			"order_id":     order.ID.String(),
			"order_status": order.Status,
		}), "captured payment needs refund")
	}
	return ok, nil
}

// fail closes an open attempt and flags the order; the order stays payable.
func (c *Controller) fail(ctx context.Context, tx *gorm.DB, order *models.Order, attempt *models.Payment, reason string, res *Result) (bool, error) {
	if !attempt.Status.IsOpen() {
		return false, nil
	}
	if reason == "" {
		reason = "payment failed"
	}
	ok, err := c.payments.WithTx(tx).Transition(ctx, attempt.ID, openAttempts, enums.PaymentStatusFailed, map[string]any{"failure_reason": reason})
	if err != nil || !ok {
		return false, err
	}
	res.PaymentStatus = enums.PaymentStatusFailed
	if order.Status != enums.OrderStatusPendingPayment {
		return true, nil
	}
	return true, c.flagFailure(ctx, tx, order.ID, attempt, reason)
}

// flagFailure marks the unpaid order as having a failed attempt and emits order.payment_failed.
func (c *Controller) flagFailure(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, attempt *models.Payment, reason string) error {
	repo := c.orders.WithTx(tx)
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil || order == nil || order.Status != enums.OrderStatusPendingPayment {
		return err
	}
	if err := repo.UpdateOrder(ctx, orderID, map[string]any{
		"payment_failed":         true,
		"payment_failure_reason": reason,
	}); err != nil {
		return err
	}
	return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaymentFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data: payloads.OrderPaymentFailedEvent{
			OrderID:   orderID,
			BuyerID:   order.BuyerID,
			PaymentID: attempt.ID,
			Gateway:   attempt.Gateway,
			Reason:    reason,
		},
	})
}
