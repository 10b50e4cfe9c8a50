// Package reconciliation resolves payment attempts against orders: it opens attempts, applies
// verified gateway outcomes exactly once, and lets buyers retry after a failure.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/internal/orders"
	"github.com/angelmondragon/vendorhub-backend/internal/payments"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox/payloads"
)

const (
	reasonVerificationFailed = "verification failed"
	reasonSuperseded         = "superseded by a newer attempt"
	reasonLateCapture        = "captured after the order stopped accepting payment"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Credits posts seller credits for a paid order.
type Credits interface {
	PostOrderCredits(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) ([]payloads.SellerCredit, error)
}

// Options wires a Controller.
type Options struct {
	Orders   orders.Repository
	Payments *payments.Repository
	Gateways *payments.Registry
	Credits  Credits
	Tx       txRunner
	Locker   locks.Locker
	Outbox   *outbox.Service
	Currency string
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Controller is the only writer of payment outcomes.
type Controller struct {
	orders   orders.Repository
	payments *payments.Repository
	gateways *payments.Registry
	credits  Credits
	tx       txRunner
	locker   locks.Locker
	outbox   *outbox.Service
	currency string
	logg     *logger.Logger
	now      func() time.Time
}

func NewController(opts Options) (*Controller, error) {
	switch {
	case opts.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case opts.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case opts.Gateways == nil:
		return nil, fmt.Errorf("gateway registry required")
	case opts.Credits == nil:
		return nil, fmt.Errorf("ledger credits required")
	case opts.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case opts.Locker == nil:
		return nil, fmt.Errorf("locker required")
	case opts.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = "INR"
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		orders:   opts.Orders,
		payments: opts.Payments,
		gateways: opts.Gateways,
		credits:  opts.Credits,
		tx:       opts.Tx,
		locker:   opts.Locker,
		outbox:   opts.Outbox,
		currency: currency,
		logg:     opts.Logger,
		now:      clock,
	}, nil
}

// InitiateInput opens a payment attempt. Gateway defaults to the order's payment method.
type InitiateInput struct {
	OrderID  uuid.UUID
	BuyerID  uuid.UUID
	Gateway  enums.PaymentMethod
	SourceID string
}

// VerifyInput carries a buyer's gateway return payload. BuyerID is set when the caller is
// authenticated.
type VerifyInput struct {
	Gateway   enums.PaymentMethod
	Payload   []byte
	Signature string
	BuyerID   *uuid.UUID
}

type SyncInput struct {
	OrderID uuid.UUID
	BuyerID *uuid.UUID
}

// FailureInput is a client report that the buyer abandoned or failed an attempt.
type FailureInput struct {
	OrderID   uuid.UUID
	BuyerID   uuid.UUID
	PaymentID *uuid.UUID
	Reason    string
}

// Result is the state after an outcome was applied.
type Result struct {
	OrderID        uuid.UUID            `json:"order_id"`
	OrderStatus    enums.OrderStatus    `json:"order_status"`
	PaymentID      uuid.UUID            `json:"payment_id"`
	PaymentStatus  enums.PaymentStatus  `json:"payment_status"`
	Outcome        enums.PaymentOutcome `json:"outcome"`
	RefundRequired bool                 `json:"refund_required,omitempty"`
}

// Initiate opens a fresh attempt for a pending_payment order. Earlier open attempts are
// superseded, never reused. The gateway is called outside the lock and transaction; a timeout
// or gateway error fails the attempt and flags the order so the buyer can retry.
func (c *Controller) Initiate(ctx context.Context, input InitiateInput) (*models.Payment, error) {
	var (
		attempt *models.Payment
		gateway payments.Gateway
		order   *models.Order
	)
	err := c.withOrder(ctx, input.OrderID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		order, err = c.orders.WithTx(tx).FindOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order == nil || order.BuyerID != input.BuyerID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status != enums.OrderStatusPendingPayment {
			return notPayable(order.Status)
		}
		kind := input.Gateway
		if kind == "" {
			kind = order.PaymentMethod
		}
		if !kind.IsOnline() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment method %q has no gateway", kind)).
				WithReason(pkgerrors.ReasonInvalidPaymentMethod)
		}
		gateway, err = c.gateways.Get(kind)
		if err != nil {
			return err
		}
		repo := c.payments.WithTx(tx)
		if _, err := repo.FailOpen(ctx, order.ID, reasonSuperseded); err != nil {
			return err
		}
		if kind != order.PaymentMethod {
			if err := c.orders.WithTx(tx).UpdateOrder(ctx, order.ID, map[string]any{"payment_method": kind}); err != nil {
				return err
			}
			order.PaymentMethod = kind
		}
		attempt = &models.Payment{
			OrderID:     order.ID,
			Gateway:     kind,
			AmountCents: order.FinalTotalCents,
			Currency:    c.currency,
			Status:      enums.PaymentStatusCreated,
		}
		return repo.Create(ctx, attempt)
	})
	if err != nil {
		return nil, err
	}

	intent, callErr := gateway.CreateIntent(ctx, payments.IntentRequest{
		PaymentID:   attempt.ID,
		OrderID:     order.ID,
		AmountCents: attempt.AmountCents,
		Currency:    attempt.Currency,
		SourceID:    input.SourceID,
		Description: fmt.Sprintf("order %s", order.ID),
	})
	if callErr != nil {
		reason := failureText(callErr)
		err := c.withOrder(ctx, order.ID, func(ctx context.Context, tx *gorm.DB) error {
			ok, err := c.payments.WithTx(tx).Transition(ctx, attempt.ID, []enums.PaymentStatus{enums.PaymentStatusCreated}, enums.PaymentStatusFailed, map[string]any{"failure_reason": reason})
			if err != nil || !ok {
				return err
			}
			return c.flagFailure(ctx, tx, order.ID, attempt, reason)
		})
		if err != nil && c.logg != nil {
			c.logg.Error(c.logg.WithPaymentID(ctx, attempt.ID.String()), "record failed intent", err)
		}
		c.logAttempt(ctx, attempt, "payment intent failed", callErr)
		return nil, callErr
	}

	err = c.withOrder(ctx, order.ID, func(ctx context.Context, tx *gorm.DB) error {
		intentID := intent.IntentID
		ok, err := c.payments.WithTx(tx).Open(ctx, attempt.ID, intentID, intent.ClientParams)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment attempt was superseded or the order changed").
				WithReason(pkgerrors.ReasonOrderNotPayable)
		}
		attempt.Status = enums.PaymentStatusPending
		attempt.GatewayOrderID = &intentID
		attempt.ClientParams = intent.ClientParams
		return c.orders.WithTx(tx).UpdateOrder(ctx, order.ID, map[string]any{
			"payment_failed":         false,
			"payment_failure_reason": nil,
		})
	})
	if err != nil {
		return nil, err
	}
	c.logAttempt(ctx, attempt, "payment attempt opened", nil)

	if intent.Outcome != "" && intent.Outcome != enums.PaymentOutcomePending {
		res, err := c.applyOutcome(ctx, attempt.ID, outcome{Outcome: intent.Outcome, GatewayPaymentID: intent.IntentID})
		if err != nil {
			return nil, err
		}
		attempt.Status = res.PaymentStatus
	}
	return attempt, nil
}

// VerifyCallback authenticates a buyer's return payload and applies its outcome. A bad
// signature from an authenticated buyer fails that buyer's attempt; otherwise it changes nothing.
func (c *Controller) VerifyCallback(ctx context.Context, input VerifyInput) (*Result, error) {
	gateway, err := c.gateways.Get(input.Gateway)
	if err != nil {
		return nil, err
	}
	res, err := gateway.VerifyCallback(ctx, input.Payload, input.Signature)
	if err != nil {
		if payments.IsInvalidSignature(err) && input.BuyerID != nil && res.IntentID != "" {
			c.failUnverified(ctx, input.Gateway, res.IntentID, *input.BuyerID)
		}
		return nil, err
	}
	attempt, err := c.findAttempt(ctx, input.Gateway, res.IntentID, input.BuyerID)
	if err != nil {
		return nil, err
	}
	return c.applyOutcome(ctx, attempt.ID, outcome{
		Outcome:          res.Outcome,
		GatewayPaymentID: res.PaymentID,
		Reason:           res.Reason,
		Signature:        input.Signature,
	})
}

// HandleWebhook applies a server-to-server notification. Verified events that carry no outcome
// or name an unknown attempt return nil, nil.
func (c *Controller) HandleWebhook(ctx context.Context, kind enums.PaymentMethod, payload []byte, signature string) (*Result, error) {
	gateway, err := c.gateways.Get(kind)
	if err != nil {
		return nil, err
	}
	res, err := gateway.VerifyWebhook(ctx, payload, signature)
	if errors.Is(err, payments.ErrIgnoredEvent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	attempt, err := c.payments.FindByIntent(ctx, kind, res.IntentID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		if c.logg != nil {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"gateway": kind, "intent_id": res.IntentID}), "webhook for unknown payment attempt")
		}
		return nil, nil
	}
	return c.applyOutcome(ctx, attempt.ID, outcome{Outcome: res.Outcome, GatewayPaymentID: res.PaymentID, Reason: res.Reason})
}

// Sync asks the gateway for the latest open attempt's state and applies it. Repeating it is safe.
func (c *Controller) Sync(ctx context.Context, input SyncInput) (*Result, error) {
	order, err := c.orders.FindOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil || (input.BuyerID != nil && order.BuyerID != *input.BuyerID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	attempt, err := c.payments.LatestOpen(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return c.current(ctx, order)
	}
	return c.syncAttempt(ctx, attempt)
}

// SyncOrderPayment is Sync for internal callers that only need the resulting outcome.
func (c *Controller) SyncOrderPayment(ctx context.Context, orderID uuid.UUID) (enums.PaymentOutcome, error) {
	res, err := c.Sync(ctx, SyncInput{OrderID: orderID})
	if err != nil {
		return "", err
	}
	return res.Outcome, nil
}

// SyncStale re-queries open attempts untouched since cutoff. Failures are logged per attempt.
func (c *Controller) SyncStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := c.payments.ListStaleOpen(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for i := range stale {
		res, err := c.syncAttempt(ctx, &stale[i])
		if err != nil {
			c.logAttempt(ctx, &stale[i], "payment sync failed", err)
			continue
		}
		if res.Outcome != enums.PaymentOutcomePending {
			resolved++
		}
	}
	return resolved, nil
}

// ReportFailure records a client-side failure for the given or latest open attempt.
func (c *Controller) ReportFailure(ctx context.Context, input FailureInput) (*Result, error) {
	order, err := c.orders.FindOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.BuyerID != input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	var attempt *models.Payment
	if input.PaymentID != nil {
		attempt, err = c.payments.FindByID(ctx, *input.PaymentID)
	} else {
		attempt, err = c.payments.LatestOpen(ctx, order.ID)
	}
	if err != nil {
		return nil, err
	}
	if attempt == nil || attempt.OrderID != order.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "reported by client"
	}
	return c.applyOutcome(ctx, attempt.ID, outcome{Outcome: enums.PaymentOutcomeFailed, Reason: reason})
}

func (c *Controller) syncAttempt(ctx context.Context, attempt *models.Payment) (*Result, error) {
	if attempt.GatewayOrderID == nil && attempt.GatewayPaymentID == nil {
		// The intent was never opened, so the gateway has nothing to report.
		order, err := c.orders.FindOrder(ctx, attempt.OrderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return c.current(ctx, order)
	}
	gateway, err := c.gateways.Get(attempt.Gateway)
	if err != nil {
		return nil, err
	}
	ref := payments.AttemptRef{IntentID: deref(attempt.GatewayOrderID), GatewayPaymentID: deref(attempt.GatewayPaymentID)}
	status, err := gateway.QueryStatus(ctx, ref)
	if err != nil {
		return nil, err
	}
	return c.applyOutcome(ctx, attempt.ID, outcome{Outcome: status.Outcome, GatewayPaymentID: status.GatewayPaymentID, Reason: status.Reason})
}

func (c *Controller) findAttempt(ctx context.Context, kind enums.PaymentMethod, intentID string, buyerID *uuid.UUID) (*models.Payment, error) {
	attempt, err := c.payments.FindByIntent(ctx, kind, intentID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
	}
	if buyerID != nil {
		order, err := c.orders.FindOrder(ctx, attempt.OrderID)
		if err != nil {
			return nil, err
		}
		if order == nil || order.BuyerID != *buyerID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
		}
	}
	return attempt, nil
}

// failUnverified fails the buyer's own open attempt after a signature mismatch.
func (c *Controller) failUnverified(ctx context.Context, kind enums.PaymentMethod, intentID string, buyerID uuid.UUID) {
	attempt, err := c.findAttempt(ctx, kind, intentID, &buyerID)
	if err != nil || !attempt.Status.IsOpen() {
		return
	}
	if _, err := c.applyOutcome(ctx, attempt.ID, outcome{Outcome: enums.PaymentOutcomeFailed, Reason: reasonVerificationFailed}); err != nil {
		c.logAttempt(ctx, attempt, "record verification failure", err)
	}
}

func (c *Controller) current(ctx context.Context, order *models.Order) (*Result, error) {
	res := &Result{OrderID: order.ID, OrderStatus: order.Status, Outcome: enums.PaymentOutcomePending}
	paid, err := c.payments.FindSucceeded(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if paid != nil {
		res.PaymentID = paid.ID
		res.PaymentStatus = paid.Status
		res.Outcome = enums.PaymentOutcomeSucceeded
	}
	return res, nil
}

func (c *Controller) withOrder(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return c.locker.WithLock(ctx, locks.OrderKey(orderID), func(ctx context.Context) error {
		return c.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return fn(ctx, tx)
		})
	})
}

func (c *Controller) logAttempt(ctx context.Context, attempt *models.Payment, msg string, err error) {
	if c.logg == nil {
		return
	}
	ctx = c.logg.WithAttempt(ctx, attempt.ID.String(), attempt.OrderID.String(), string(attempt.Gateway))
	ctx = c.logg.WithField(ctx, "status", attempt.Status)
	if err != nil {
		c.logg.Warn(ctx, msg+": "+err.Error())
		return
	}
	c.logg.Info(ctx, msg)
}

func notPayable(status enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s and cannot be paid", status)).
		WithReason(pkgerrors.ReasonOrderNotPayable)
}

func failureText(err error) string {
	if te := pkgerrors.As(err); te != nil {
		if reason := te.Reason(); reason != "" {
			return string(reason)
		}
		return te.Message()
	}
	return err.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
