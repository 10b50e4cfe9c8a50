package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vendorhub-backend/api/middleware"
	"github.com/angelmondragon/vendorhub-backend/internal/reconciliation"
	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

type fakeReconciler struct {
	initiate reconciliation.InitiateInput
	verify   reconciliation.VerifyInput
	sync     reconciliation.SyncInput
	failure  reconciliation.FailureInput
	result   *reconciliation.Result
	err      error
}

func (f *fakeReconciler) Initiate(_ context.Context, input reconciliation.InitiateInput) (*models.Payment, error) {
	f.initiate = input
	if f.err != nil {
		return nil, f.err
	}
	intent := "order_123"
	return &models.Payment{
		ID:             uuid.New(),
		OrderID:        input.OrderID,
		Gateway:        enums.PaymentMethodRazorpay,
		Status:         enums.PaymentStatusPending,
		AmountCents:    150000,
		Currency:       "inr",
		GatewayOrderID: &intent,
		ClientParams:   types.JSONMap{"order_id": intent},
	}, nil
}

func (f *fakeReconciler) VerifyCallback(_ context.Context, input reconciliation.VerifyInput) (*reconciliation.Result, error) {
	f.verify = input
	return f.result, f.err
}

func (f *fakeReconciler) Sync(_ context.Context, input reconciliation.SyncInput) (*reconciliation.Result, error) {
	f.sync = input
	return f.result, f.err
}

func (f *fakeReconciler) ReportFailure(_ context.Context, input reconciliation.FailureInput) (*reconciliation.Result, error) {
	f.failure = input
	return f.result, f.err
}

func do(t *testing.T, pattern string, handler http.HandlerFunc, target, body string, actor auth.Actor) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Post(pattern, handler)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInitiateReturnsClientParams(t *testing.T) {
	ctrl := &fakeReconciler{}
	buyer := auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}
	orderID := uuid.New()

	rec := do(t, "/api/v1/orders/{orderId}/payments", Initiate(ctrl, nil), "/api/v1/orders/"+orderID.String()+"/payments", "", buyer)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, orderID, ctrl.initiate.OrderID)
	assert.Equal(t, buyer.UserID, ctrl.initiate.BuyerID)
	assert.Empty(t, ctrl.initiate.Gateway)
	assert.Contains(t, rec.Body.String(), `"intent_id":"order_123"`)
}

func TestInitiateMapsGatewayTimeout(t *testing.T) {
	ctrl := &fakeReconciler{err: pkgerrors.New(pkgerrors.CodeGatewayTimeout, "gateway timed out").WithReason(pkgerrors.ReasonGatewayTimeout)}
	buyer := auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}
	orderID := uuid.New()

	rec := do(t, "/api/v1/orders/{orderId}/payments", Initiate(ctrl, nil), "/api/v1/orders/"+orderID.String()+"/payments", `{"gateway":"stripe"}`, buyer)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, enums.PaymentMethodStripe, ctrl.initiate.Gateway)
}

func TestVerifyPassesRawPayloadAndBuyer(t *testing.T) {
	orderID := uuid.New()
	ctrl := &fakeReconciler{result: &reconciliation.Result{OrderID: orderID, Outcome: enums.PaymentOutcomeSucceeded}}
	buyer := auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}
	body := `{"gateway":"razorpay","payload":{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1"},"signature":"abc"}`

	rec := do(t, "/api/v1/orders/{orderId}/payments/verify", Verify(ctrl, nil), "/api/v1/orders/"+orderID.String()+"/payments/verify", body, buyer)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1"}`, string(ctrl.verify.Payload))
	require.NotNil(t, ctrl.verify.BuyerID)
	assert.Equal(t, buyer.UserID, *ctrl.verify.BuyerID)
	assert.Equal(t, "abc", ctrl.verify.Signature)
}

func TestSyncScopesBuyersButNotAdmins(t *testing.T) {
	orderID := uuid.New()
	ctrl := &fakeReconciler{result: &reconciliation.Result{OrderID: orderID}}

	buyer := auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}
	rec := do(t, "/orders/{orderId}/sync", Sync(ctrl, nil), "/orders/"+orderID.String()+"/sync", "", buyer)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ctrl.sync.BuyerID)
	assert.Equal(t, buyer.UserID, *ctrl.sync.BuyerID)

	admin := auth.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
	rec = do(t, "/orders/{orderId}/sync", Sync(ctrl, nil), "/orders/"+orderID.String()+"/sync", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, ctrl.sync.BuyerID)
}

func TestReportFailure(t *testing.T) {
	orderID, paymentID := uuid.New(), uuid.New()
	ctrl := &fakeReconciler{result: &reconciliation.Result{OrderID: orderID, Outcome: enums.PaymentOutcomeFailed}}
	buyer := auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}
	body := `{"payment_id":"` + paymentID.String() + `","reason":"  buyer closed the window "}`

	rec := do(t, "/api/v1/orders/{orderId}/payments/failure", ReportFailure(ctrl, nil), "/api/v1/orders/"+orderID.String()+"/payments/failure", body, buyer)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, ctrl.failure.PaymentID)
	assert.Equal(t, paymentID, *ctrl.failure.PaymentID)
	assert.Equal(t, "buyer closed the window", ctrl.failure.Reason)
}
