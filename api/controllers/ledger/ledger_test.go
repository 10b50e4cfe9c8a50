package ledger

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
	internalledger "github.com/angelmondragon/vendorhub-backend/internal/ledger"
	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
)

type stubLedger struct {
	internalledger.Service
	request internalledger.RequestWithdrawalInput
	bank    internalledger.BankDetailsInput
	filter  internalledger.WithdrawalFilter
	note    *string
	payout  string
	err     error
}

func (s *stubLedger) RequestWithdrawal(_ context.Context, input internalledger.RequestWithdrawalInput) (*models.Withdrawal, error) {
	s.request = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Withdrawal{ID: uuid.New(), SellerID: input.SellerID, AmountCents: 5000, Status: enums.WithdrawalStatusRequested}, nil
}

func (s *stubLedger) UpsertBankDetails(_ context.Context, sellerID uuid.UUID, input internalledger.BankDetailsInput) (*internalledger.BankDetailsView, error) {
	s.bank = input
	last4 := "6789"
	return &internalledger.BankDetailsView{SellerID: sellerID, AccountLast4: &last4, BankConfigured: true}, s.err
}

func (s *stubLedger) ListWithdrawals(_ context.Context, _ auth.Actor, filter internalledger.WithdrawalFilter) (*internalledger.WithdrawalPage, error) {
	s.filter = filter
	return &internalledger.WithdrawalPage{}, s.err
}

func (s *stubLedger) RejectWithdrawal(_ context.Context, _ auth.Actor, id uuid.UUID, note *string) (*models.Withdrawal, error) {
	s.note = note
	if s.err != nil {
		return nil, s.err
	}
	return &models.Withdrawal{ID: id, Status: enums.WithdrawalStatusRejected}, nil
}

func (s *stubLedger) CompleteWithdrawal(_ context.Context, _ auth.Actor, id uuid.UUID, ref string) (*models.Withdrawal, error) {
	s.payout = ref
	return &models.Withdrawal{ID: id, Status: enums.WithdrawalStatusCompleted}, s.err
}

func request(method, target, body string, role enums.Role) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithActor(req.Context(), auth.Actor{UserID: uuid.New(), Role: role}))
}

func TestRequestWithdrawalDefaultsToFullBalance(t *testing.T) {
	svc := &stubLedger{}
	rec := httptest.NewRecorder()
	RequestWithdrawal(svc, nil).ServeHTTP(rec, request(http.MethodPost, "/api/v1/seller/withdrawals", "", enums.RoleSeller))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Nil(t, svc.request.AmountCents)
	assert.NotEqual(t, uuid.Nil, svc.request.SellerID)
}

func TestRequestWithdrawalRejectsNonPositiveAmount(t *testing.T) {
	svc := &stubLedger{}
	rec := httptest.NewRecorder()
	RequestWithdrawal(svc, nil).ServeHTTP(rec, request(http.MethodPost, "/api/v1/seller/withdrawals", `{"amount_cents":0}`, enums.RoleSeller))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestWithdrawalInsufficientBalance(t *testing.T) {
	svc := &stubLedger{err: pkgerrors.New(pkgerrors.CodeInvariant, "withdrawal exceeds available balance").WithReason(pkgerrors.ReasonInsufficientBalance)}
	rec := httptest.NewRecorder()
	RequestWithdrawal(svc, nil).ServeHTTP(rec, request(http.MethodPost, "/api/v1/seller/withdrawals", `{"amount_cents":999999}`, enums.RoleSeller))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_balance")
}

func TestRequestWithdrawalRequiresSeller(t *testing.T) {
	svc := &stubLedger{}
	rec := httptest.NewRecorder()
	RequestWithdrawal(svc, nil).ServeHTTP(rec, request(http.MethodPost, "/api/v1/seller/withdrawals", "", enums.RoleBuyer))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPutBankDetailsTrimsAndParses(t *testing.T) {
	svc := &stubLedger{}
	body := `{"account_number":"123456789","ifsc":"HDFC0001234","beneficiary_name":"  Asha Traders ","preferred_method":"bank"}`
	rec := httptest.NewRecorder()
	PutBankDetails(svc, nil).ServeHTTP(rec, request(http.MethodPut, "/api/v1/seller/bank-details", body, enums.RoleSeller))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.bank.BeneficiaryName)
	assert.Equal(t, "Asha Traders", *svc.bank.BeneficiaryName)
	require.NotNil(t, svc.bank.PreferredMethod)
	assert.Equal(t, enums.PayoutMethodBank, *svc.bank.PreferredMethod)
	assert.NotContains(t, rec.Body.String(), "123456789")
}

func TestAdminListWithdrawalsFilters(t *testing.T) {
	svc := &stubLedger{}
	sellerID := uuid.New()
	rec := httptest.NewRecorder()
	ListWithdrawals(svc, nil).ServeHTTP(rec, request(http.MethodGet, "/api/admin/v1/withdrawals?status=requested&seller_id="+sellerID.String(), "", enums.RoleAdmin))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.filter.Status)
	assert.Equal(t, enums.WithdrawalStatusRequested, *svc.filter.Status)
	require.NotNil(t, svc.filter.SellerID)
	assert.Equal(t, sellerID, *svc.filter.SellerID)
}

func TestRejectWithdrawalAlreadyResolved(t *testing.T) {
	svc := &stubLedger{err: pkgerrors.New(pkgerrors.CodeConflict, "withdrawal already resolved").WithReason(pkgerrors.ReasonAlreadyResolved)}
	router := chi.NewRouter()
	router.Post("/api/admin/v1/withdrawals/{withdrawalId}/reject", RejectWithdrawal(svc, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, request(http.MethodPost, "/api/admin/v1/withdrawals/"+uuid.NewString()+"/reject", `{"note":"duplicate"}`, enums.RoleAdmin))

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, svc.note)
	assert.Equal(t, "duplicate", *svc.note)
}

func TestCompleteWithdrawalRequiresReference(t *testing.T) {
	svc := &stubLedger{}
	router := chi.NewRouter()
	router.Post("/api/admin/v1/withdrawals/{withdrawalId}/complete", CompleteWithdrawal(svc, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, request(http.MethodPost, "/api/admin/v1/withdrawals/"+uuid.NewString()+"/complete", `{}`, enums.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, request(http.MethodPost, "/api/admin/v1/withdrawals/"+uuid.NewString()+"/complete", `{"payout_reference":"UTR123"}`, enums.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UTR123", svc.payout)
}
