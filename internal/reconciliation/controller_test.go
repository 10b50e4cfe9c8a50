package reconciliation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vendorhub-backend/internal/ledger"
	"github.com/angelmondragon/vendorhub-backend/internal/orders"
	"github.com/angelmondragon/vendorhub-backend/internal/payments"
	"github.com/angelmondragon/vendorhub-backend/internal/payments/paymentstest"
	product "github.com/angelmondragon/vendorhub-backend/internal/products"
	"github.com/angelmondragon/vendorhub-backend/pkg/db"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/metrics"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox"
	"github.com/angelmondragon/vendorhub-backend/pkg/security"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

type fixture struct {
	client   *db.Client
	ctrl     *Controller
	gateway  *paymentstest.Gateway
	orders   orders.Repository
	payments *payments.Repository
	ledger   ledger.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()
	locker := locks.NewLocalLocker(5 * time.Second)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)

	sealer, err := security.NewSealer("test-bank-key")
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.Options{
		Repo:             ledger.NewRepository(conn),
		Tx:               client,
		Locker:           locker,
		Outbox:           emitter,
		Sealer:           sealer,
		Commission:       decimal.RequireFromString("0.10"),
		PayoutCutoffHour: 11,
	})
	require.NoError(t, err)

	fake := paymentstest.New(enums.PaymentMethodRazorpay)
	registry, err := payments.NewRegistry(metrics.NewGatewayMetrics(prometheus.NewRegistry()), 100*time.Millisecond, fake)
	require.NoError(t, err)

	orderRepo := orders.NewRepository(conn)
	paymentRepo := payments.NewRepository(conn)
	ctrl, err := NewController(Options{
		Orders:   orderRepo,
		Payments: paymentRepo,
		Gateways: registry,
		Credits:  ledgerSvc,
		Tx:       client,
		Locker:   locker,
		Outbox:   emitter,
		Currency: "inr",
	})
	require.NoError(t, err)
	return fixture{client: client, ctrl: ctrl, gateway: fake, orders: orderRepo, payments: paymentRepo, ledger: ledgerSvc}
}

// order places a two-seller razorpay order awaiting payment.
func (f fixture) order(t *testing.T, buyer uuid.UUID) (*models.Order, []uuid.UUID) {
	t.Helper()
	sellers := []uuid.UUID{uuid.New(), uuid.New()}
	order := &models.Order{
		BuyerID:         buyer,
		ShippingAddress: types.Address{Line1: "1 Residency Rd", City: "Bengaluru", State: "KA", PostalCode: "560025"},
		SubtotalCents:   150000,
		FinalTotalCents: 150000,
		PaymentMethod:   enums.PaymentMethodRazorpay,
		Status:          enums.OrderStatusPendingPayment,
		Items: []models.OrderItem{
			{ProductID: uuid.New(), SellerID: sellers[0], ProductName: "kettle", UnitPriceCents: 100000, Quantity: 1, LineTotalCents: 100000, Status: enums.OrderItemStatusPending},
			{ProductID: uuid.New(), SellerID: sellers[1], ProductName: "mug", UnitPriceCents: 25000, Quantity: 2, LineTotalCents: 50000, Status: enums.OrderItemStatusPending},
		},
	}
	require.NoError(t, f.orders.CreateOrder(context.Background(), order))
	return order, sellers
}

func (f fixture) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.orders.FindOrder(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (f fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func (f fixture) callback(t *testing.T, buyer uuid.UUID, cb paymentstest.Callback) (*Result, error) {
	t.Helper()
	payload, sig := paymentstest.SignedCallback(cb)
	return f.ctrl.VerifyCallback(context.Background(), VerifyInput{Gateway: enums.PaymentMethodRazorpay, Payload: payload, Signature: sig, BuyerID: &buyer})
}

func intentOf(p *models.Payment) string {
	if p.GatewayOrderID == nil {
		return ""
	}
	return *p.GatewayOrderID
}

func TestVerifyCallbackPaysAndCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, sellers := f.order(t, buyer)

	attempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, attempt.Status)
	assert.Equal(t, "INR", attempt.Currency)
	assert.Equal(t, int64(150000), attempt.AmountCents)

	cb := paymentstest.Callback{IntentID: intentOf(attempt), PaymentID: "pay_1"}
	res, err := f.callback(t, buyer, cb)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, res.OrderStatus)
	assert.Equal(t, enums.PaymentStatusSucceeded, res.PaymentStatus)

	res, err = f.callback(t, buyer, cb)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, res.OrderStatus)

	assert.NotNil(t, f.reload(t, order.ID).PaidAt)
	assert.Equal(t, int64(2), f.count(t, &models.LedgerEntry{}, "order_id = ?", order.ID))
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))

	balance, err := f.ledger.Balance(ctx, sellers[0])
	require.NoError(t, err)
	assert.Equal(t, int64(90000), balance)
	balance, err = f.ledger.Balance(ctx, sellers[1])
	require.NoError(t, err)
	assert.Equal(t, int64(45000), balance)
}

func TestConcurrentCallbackAndWebhookSettleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)
	attempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)

	cb := paymentstest.Callback{IntentID: intentOf(attempt), PaymentID: "pay_1", Outcome: enums.PaymentOutcomeSucceeded}
	payload, sig := paymentstest.SignedCallback(cb)
	hook, hookSig := paymentstest.SignedWebhook(cb)
	f.gateway.SetStatus(intentOf(attempt), payments.StatusResult{Outcome: enums.PaymentOutcomeSucceeded, GatewayPaymentID: "pay_1"})

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := f.ctrl.VerifyCallback(ctx, VerifyInput{Gateway: enums.PaymentMethodRazorpay, Payload: payload, Signature: sig, BuyerID: &buyer})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.ctrl.HandleWebhook(ctx, enums.PaymentMethodRazorpay, hook, hookSig)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.ctrl.Sync(ctx, SyncInput{OrderID: order.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, enums.OrderStatusPaid, f.reload(t, order.ID).Status)
	assert.Equal(t, int64(1), f.count(t, &models.Payment{}, "order_id = ? AND status = ?", order.ID, enums.PaymentStatusSucceeded))
	assert.Equal(t, int64(2), f.count(t, &models.LedgerEntry{}, "order_id = ?", order.ID))
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
}

func TestFailedAttemptThenRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)

	first, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)
	res, err := f.callback(t, buyer, paymentstest.Callback{IntentID: intentOf(first), PaymentID: "pay_1", Outcome: enums.PaymentOutcomeFailed, Reason: "card declined"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, res.PaymentStatus)

	got := f.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPendingPayment, got.Status)
	assert.True(t, got.PaymentFailed)
	require.NotNil(t, got.PaymentFailureReason)
	assert.Equal(t, "card declined", *got.PaymentFailureReason)
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaymentFailed))

	second, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, intentOf(first), intentOf(second))
	assert.False(t, f.reload(t, order.ID).PaymentFailed)

	_, err = f.callback(t, buyer, paymentstest.Callback{IntentID: intentOf(second), PaymentID: "pay_2"})
	require.NoError(t, err)

	attempts, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	statuses := []enums.PaymentStatus{attempts[0].Status, attempts[1].Status}
	assert.ElementsMatch(t, []enums.PaymentStatus{enums.PaymentStatusFailed, enums.PaymentStatusSucceeded}, statuses)
	assert.Equal(t, int64(2), f.count(t, &models.LedgerEntry{}, "order_id = ?", order.ID))
	assert.Len(t, f.gateway.Requests(), 2)
}

func TestInitiateTimeoutFailsAttemptAndAllowsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)

	f.gateway.SetDelay(time.Second)
	_, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeGatewayTimeout, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonGatewayTimeout))

	attempts, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, enums.PaymentStatusFailed, attempts[0].Status)
	assert.True(t, f.reload(t, order.ID).PaymentFailed)

	f.gateway.SetDelay(0)
	retry, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, retry.Status)
}

func TestInvalidSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)
	attempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)
	payload, _ := paymentstest.SignedCallback(paymentstest.Callback{IntentID: intentOf(attempt), PaymentID: "pay_1"})

	_, err = f.ctrl.VerifyCallback(ctx, VerifyInput{Gateway: enums.PaymentMethodRazorpay, Payload: payload, Signature: "forged"})
	assert.True(t, payments.IsInvalidSignature(err))
	got, err := f.payments.FindByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, got.Status)

	stranger := uuid.New()
	_, err = f.ctrl.VerifyCallback(ctx, VerifyInput{Gateway: enums.PaymentMethodRazorpay, Payload: payload, Signature: "forged", BuyerID: &stranger})
	assert.True(t, payments.IsInvalidSignature(err))
	got, err = f.payments.FindByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, got.Status)

	_, err = f.ctrl.VerifyCallback(ctx, VerifyInput{Gateway: enums.PaymentMethodRazorpay, Payload: payload, Signature: "forged", BuyerID: &buyer})
	assert.True(t, payments.IsInvalidSignature(err))
	got, err = f.payments.FindByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "verification failed", *got.FailureReason)
	assert.Equal(t, enums.OrderStatusPendingPayment, f.reload(t, order.ID).Status)

	hook, _ := paymentstest.SignedWebhook(paymentstest.Callback{IntentID: intentOf(attempt), Outcome: enums.PaymentOutcomeSucceeded})
	_, err = f.ctrl.HandleWebhook(ctx, enums.PaymentMethodRazorpay, hook, "forged")
	assert.True(t, payments.IsInvalidSignature(err))
	assert.Equal(t, enums.OrderStatusPendingPayment, f.reload(t, order.ID).Status)
}

func TestSupersededAttemptCapturedAfterPaymentRequestsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)

	first, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)
	second, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)

	res, err := f.callback(t, buyer, paymentstest.Callback{IntentID: intentOf(first), PaymentID: "pay_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, res.OrderStatus)

	res, err = f.callback(t, buyer, paymentstest.Callback{IntentID: intentOf(second), PaymentID: "pay_2"})
	require.NoError(t, err)
	assert.True(t, res.RefundRequired)
	assert.Equal(t, enums.PaymentStatusFailed, res.PaymentStatus)

	hook, sig := paymentstest.SignedWebhook(paymentstest.Callback{IntentID: intentOf(second), PaymentID: "pay_2", Outcome: enums.PaymentOutcomeSucceeded})
	_, err = f.ctrl.HandleWebhook(ctx, enums.PaymentMethodRazorpay, hook, sig)
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ? AND aggregate_id = ?", enums.EventPaymentRefundRequired, second.ID))
	assert.Equal(t, int64(1), f.count(t, &models.Payment{}, "order_id = ? AND status = ?", order.ID, enums.PaymentStatusSucceeded))
	assert.Equal(t, int64(2), f.count(t, &models.LedgerEntry{}, "order_id = ?", order.ID))
}

func TestCaptureAfterReportedFailureKeepsAttemptFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)

	attempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)
	_, err = f.ctrl.ReportFailure(ctx, FailureInput{OrderID: order.ID, BuyerID: buyer, Reason: "card declined"})
	require.NoError(t, err)

	hook, sig := paymentstest.SignedWebhook(paymentstest.Callback{IntentID: intentOf(attempt), PaymentID: "pay_late", Outcome: enums.PaymentOutcomeSucceeded})
	res, err := f.ctrl.HandleWebhook(ctx, enums.PaymentMethodRazorpay, hook, sig)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.RefundRequired)

	got, err := f.payments.FindByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "card declined", *got.FailureReason)
	assert.Equal(t, enums.OrderStatusPendingPayment, f.reload(t, order.ID).Status)
	assert.Zero(t, f.count(t, &models.LedgerEntry{}, "order_id = ?", order.ID))
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ? AND aggregate_id = ?", enums.EventPaymentRefundRequired, attempt.ID))

	_, err = f.ctrl.HandleWebhook(ctx, enums.PaymentMethodRazorpay, hook, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ? AND aggregate_id = ?", enums.EventPaymentRefundRequired, attempt.ID))
}

func TestCaptureForCancelledOrderRequestsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)
	attempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)

	ok, err := f.orders.TransitionOrder(ctx, order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusCancelled, nil)
	require.NoError(t, err)
	require.True(t, ok)

	hook, sig := paymentstest.SignedWebhook(paymentstest.Callback{IntentID: intentOf(attempt), PaymentID: "pay_1", Outcome: enums.PaymentOutcomeSucceeded})
	res, err := f.ctrl.HandleWebhook(ctx, enums.PaymentMethodRazorpay, hook, sig)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.RefundRequired)
	assert.Equal(t, enums.OrderStatusCancelled, res.OrderStatus)
	assert.Zero(t, f.count(t, &models.LedgerEntry{}, "order_id = ?", order.ID))

	_, err = f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOrderNotPayable))
}

func TestSyncAppliesGatewayState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)
	attempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)

	res, err := f.ctrl.Sync(ctx, SyncInput{OrderID: order.ID, BuyerID: &buyer})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomePending, res.Outcome)
	assert.Equal(t, enums.OrderStatusPendingPayment, res.OrderStatus)

	stranger := uuid.New()
	_, err = f.ctrl.Sync(ctx, SyncInput{OrderID: order.ID, BuyerID: &stranger})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	f.gateway.SetStatus(intentOf(attempt), payments.StatusResult{Outcome: enums.PaymentOutcomeSucceeded, GatewayPaymentID: "pay_9"})
	require.NoError(t, f.client.DB().Model(&models.Payment{}).Where("id = ?", attempt.ID).Update("updated_at", time.Now().UTC().Add(-time.Hour)).Error)
	resolved, err := f.ctrl.SyncStale(ctx, time.Now().UTC().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := f.payments.FindByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, got.Status)
	require.NotNil(t, got.GatewayPaymentID)
	assert.Equal(t, "pay_9", *got.GatewayPaymentID)

	res, err = f.ctrl.Sync(ctx, SyncInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeSucceeded, res.Outcome)
	assert.Equal(t, enums.OrderStatusPaid, res.OrderStatus)
}

func TestReportFailureAndInitiateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	order, _ := f.order(t, buyer)

	_, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: uuid.New()})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	_, err = f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer, Gateway: enums.PaymentMethodCOD})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidPaymentMethod))
	_, err = f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer, Gateway: enums.PaymentMethodStripe})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidPaymentMethod))

	attempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: order.ID, BuyerID: buyer})
	require.NoError(t, err)
	res, err := f.ctrl.ReportFailure(ctx, FailureInput{OrderID: order.ID, BuyerID: buyer, Reason: "buyer closed the window"})
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, res.PaymentID)
	assert.Equal(t, enums.PaymentStatusFailed, res.PaymentStatus)
	assert.True(t, f.reload(t, order.ID).PaymentFailed)

	_, err = f.ctrl.ReportFailure(ctx, FailureInput{OrderID: order.ID, BuyerID: buyer})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	hook, sig := paymentstest.SignedWebhook(paymentstest.Callback{IntentID: intentOf(attempt)})
	res, err = f.ctrl.HandleWebhook(ctx, enums.PaymentMethodRazorpay, hook, sig)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestOrderExpirySettlesPaymentsCapturedAtGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.client.DB()
	orderSvc, err := orders.NewService(orders.ServiceOptions{
		Repo:     f.orders,
		Payments: f.payments,
		Products: product.NewRepository(conn),
		Credits:  f.ledger,
		Tx:       f.client,
		Locker:   locks.NewLocalLocker(5 * time.Second),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		Syncer:   f.ctrl,
	})
	require.NoError(t, err)

	buyer := uuid.New()
	captured, _ := f.order(t, buyer)
	abandoned, _ := f.order(t, buyer)
	capturedAttempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: captured.ID, BuyerID: buyer})
	require.NoError(t, err)
	abandonedAttempt, err := f.ctrl.Initiate(ctx, InitiateInput{OrderID: abandoned.ID, BuyerID: buyer})
	require.NoError(t, err)
	f.gateway.SetStatus(intentOf(capturedAttempt), payments.StatusResult{Outcome: enums.PaymentOutcomeSucceeded, GatewayPaymentID: "pay_late"})

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, conn.Model(&models.Order{}).Where("id IN ?", []uuid.UUID{captured.ID, abandoned.ID}).Update("created_at", old).Error)

	expired, err := orderSvc.ExpireUnpaid(ctx, time.Now().UTC().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, enums.OrderStatusPaid, f.reload(t, captured.ID).Status)
	got, err := f.payments.FindByID(ctx, capturedAttempt.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, got.Status)
	assert.Equal(t, int64(2), f.count(t, &models.LedgerEntry{}, "order_id = ?", captured.ID))

	assert.Equal(t, enums.OrderStatusCancelled, f.reload(t, abandoned.ID).Status)
	got, err = f.payments.FindByID(ctx, abandonedAttempt.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, got.Status)
	assert.GreaterOrEqual(t, f.gateway.Queries(), 2)
}
