package ledger

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox"
	"github.com/angelmondragon/vendorhub-backend/pkg/security"
)

type fixture struct {
	client *db.Client
	repo   Repository
	svc    Service
}

func newFixture(t *testing.T, commission string) fixture {
	t.Helper()
	client := dbtest.Open(t)
	sealer, err := security.NewSealer("test-bank-key")
	require.NoError(t, err)
	repo := NewRepository(client.DB())
	svc, err := NewService(Options{
		Repo:             repo,
		Tx:               client,
		Locker:           locks.NewLocalLocker(5 * time.Second),
		Outbox:           outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Sealer:           sealer,
		Commission:       decimal.RequireFromString(commission),
		PayoutCutoffHour: 11,
	})
	require.NoError(t, err)
	return fixture{client: client, repo: repo, svc: svc}
}

func (f fixture) credit(t *testing.T, seller uuid.UUID, lineTotal int64) models.OrderItem {
	t.Helper()
	order := &models.Order{ID: uuid.New()}
	item := models.OrderItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		SellerID:       seller,
		ProductName:    "widget",
		Quantity:       1,
		UnitPriceCents: lineTotal,
		LineTotalCents: lineTotal,
		Status:         enums.OrderItemStatusPending,
	}
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.svc.PostOrderCredits(context.Background(), tx, order, []models.OrderItem{item})
		return err
	}))
	return item
}

func (f fixture) upi(t *testing.T, seller uuid.UUID) {
	t.Helper()
	upi := "seller@okbank"
	_, err := f.svc.UpsertBankDetails(context.Background(), seller, BankDetailsInput{UPIID: &upi})
	require.NoError(t, err)
}

func seller(id uuid.UUID) auth.Actor { return auth.Actor{UserID: id, Role: enums.RoleSeller} }

var admin = auth.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}

func amount(v int64) *int64 { return &v }

func TestPostOrderCreditsIsIdempotent(t *testing.T) {
	f := newFixture(t, "0.10")
	ctx := context.Background()
	sellerID := uuid.New()
	order := &models.Order{ID: uuid.New()}
	items := []models.OrderItem{
		{ID: uuid.New(), OrderID: order.ID, SellerID: sellerID, LineTotalCents: 100000, Quantity: 1, Status: enums.OrderItemStatusPending},
		{ID: uuid.New(), OrderID: order.ID, SellerID: sellerID, LineTotalCents: 5000, Quantity: 1, Status: enums.OrderItemStatusCancelled},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
			credits, err := f.svc.PostOrderCredits(ctx, tx, order, items)
			if i == 0 {
				assert.Len(t, credits, 1)
				assert.Equal(t, int64(90000), credits[0].AmountCents)
			} else {
				assert.Empty(t, credits)
			}
			return err
		}))
	}

	var count int64
	require.NoError(t, f.client.DB().Model(&models.LedgerEntry{}).Where("seller_id = ?", sellerID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := f.svc.Balance(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), balance)
}

func TestReverseItemCreditOffsetsSaleOnce(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	item := f.credit(t, sellerID, 25000)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := f.svc.ReverseItemCredit(ctx, tx, item)
			return err
		}))
	}
	balance, err := f.svc.Balance(ctx, sellerID)
	require.NoError(t, err)
	assert.Zero(t, balance)

	uncredited := models.OrderItem{ID: uuid.New(), SellerID: sellerID}
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		reversed, err := f.svc.ReverseItemCredit(ctx, tx, uncredited)
		assert.False(t, reversed)
		return err
	}))
}

func TestRequestWithdrawalRequiresPayoutDetails(t *testing.T) {
	f := newFixture(t, "0")
	sellerID := uuid.New()
	f.credit(t, sellerID, 10000)

	_, err := f.svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{SellerID: sellerID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonPayoutMethodMissing))
}

func TestExactBalanceWithdrawalBlocksSecondRequest(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	f.credit(t, sellerID, 500000)
	f.upi(t, sellerID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID, AmountCents: amount(500000)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, 1)
	assert.Equal(t, pkgerrors.CodeInvariant, pkgerrors.CodeOf(failures[0]))
	assert.True(t, pkgerrors.HasReason(failures[0], pkgerrors.ReasonInsufficientBalance))

	summary, err := f.svc.Summary(ctx, sellerID)
	require.NoError(t, err)
	assert.Zero(t, summary.BalanceCents)
	assert.Equal(t, int64(500000), summary.PendingWithdrawalCents)
	assert.Equal(t, int64(500000), summary.TotalEarnedCents)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	f.credit(t, sellerID, 100000)
	f.upi(t, sellerID)

	rng := rand.New(rand.NewSource(7))
	amounts := make([]int64, 12)
	for i := range amounts {
		amounts[i] = int64(rng.Intn(30000) + 1)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int64
	)
	for _, a := range amounts {
		wg.Add(1)
		go func(a int64) {
			defer wg.Done()
			w, err := f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID, AmountCents: amount(a)})
			if err != nil {
				assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientBalance), err.Error())
				return
			}
			mu.Lock()
			granted += w.AmountCents
			mu.Unlock()
		}(a)
	}
	wg.Wait()

	balance, err := f.svc.Balance(ctx, sellerID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, balance, int64(0))
	assert.Equal(t, int64(100000)-granted, balance)
}

// postCredit is credit without require, for use off the test goroutine.
func (f fixture) postCredit(ctx context.Context, seller uuid.UUID, lineTotal int64) error {
	order := &models.Order{ID: uuid.New()}
	item := models.OrderItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		SellerID:       seller,
		ProductName:    "widget",
		Quantity:       1,
		UnitPriceCents: lineTotal,
		LineTotalCents: lineTotal,
		Status:         enums.OrderItemStatusDelivered,
	}
	return f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.PostOrderCredits(ctx, tx, order, []models.OrderItem{item})
		return err
	})
}

func TestRandomizedLedgerOperationsKeepBalanceNonNegative(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		f := newFixture(t, "0.10")
		ctx := context.Background()
		sellerID := uuid.New()
		f.credit(t, sellerID, 20000)
		f.upi(t, sellerID)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			open     []uuid.UUID
			negative []int64
		)
		pick := func(rng *rand.Rand) (uuid.UUID, bool) {
			mu.Lock()
			defer mu.Unlock()
			if len(open) == 0 {
				return uuid.Nil, false
			}
			return open[rng.Intn(len(open))], true
		}
		expected := func(err error) bool {
			switch pkgerrors.CodeOf(err) {
			case pkgerrors.CodeConflict, pkgerrors.CodeStateConflict:
				return true
			}
			return pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientBalance)
		}

		for worker := 0; worker < 4; worker++ {
			wg.Add(1)
			go func(rng *rand.Rand) {
				defer wg.Done()
				for step := 0; step < 15; step++ {
					var err error
					switch op := rng.Intn(5); op {
					case 0:
						err = f.postCredit(ctx, sellerID, int64(rng.Intn(15000)+1))
					case 1:
						var w *models.Withdrawal
						w, err = f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID, AmountCents: amount(int64(rng.Intn(12000) + 1))})
						if err == nil {
							mu.Lock()
							open = append(open, w.ID)
							mu.Unlock()
						}
					default:
						id, ok := pick(rng)
						if !ok {
							continue
						}
						switch op {
						case 2:
							_, err = f.svc.ApproveWithdrawal(ctx, admin, id, nil)
						case 3:
							_, err = f.svc.RejectWithdrawal(ctx, admin, id, nil)
						default:
							_, err = f.svc.CancelWithdrawal(ctx, seller(sellerID), id)
						}
					}
					if err != nil && !expected(err) {
						assert.NoError(t, err)
					}
					balance, berr := f.svc.Balance(ctx, sellerID)
					if !assert.NoError(t, berr) {
						return
					}
					if balance < 0 {
						mu.Lock()
						negative = append(negative, balance)
						mu.Unlock()
					}
				}
			}(rand.New(rand.NewSource(seed*100 + int64(worker))))
		}
		wg.Wait()

		assert.Empty(t, negative, "seed %d", seed)

		var credited, held int64
		require.NoError(t, f.client.DB().Model(&models.LedgerEntry{}).
			Where("seller_id = ? AND type = ? AND status = ?", sellerID, enums.LedgerEntryTypeCredit, enums.LedgerEntryStatusCompleted).
			Select("COALESCE(SUM(amount_cents), 0)").Scan(&credited).Error)
		require.NoError(t, f.client.DB().Model(&models.Withdrawal{}).
			Where("seller_id = ? AND status IN ?", sellerID, []enums.WithdrawalStatus{
				enums.WithdrawalStatusRequested, enums.WithdrawalStatusApproved, enums.WithdrawalStatusCompleted,
			}).
			Select("COALESCE(SUM(amount_cents), 0)").Scan(&held).Error)

		balance, err := f.svc.Balance(ctx, sellerID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, balance, int64(0), "seed %d", seed)
		assert.Equal(t, credited-held, balance, "seed %d", seed)
	}
}

func TestWithdrawalDefaultsToFullBalance(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	f.credit(t, sellerID, 42000)
	f.upi(t, sellerID)

	w, err := f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID})
	require.NoError(t, err)
	assert.Equal(t, int64(42000), w.AmountCents)
	assert.Equal(t, enums.WithdrawalStatusRequested, w.Status)
	assert.Equal(t, enums.PayoutMethodUPI, w.PayoutMethod)
	assert.Equal(t, "seller@okbank", w.PayoutSnapshot.UPIID)
	assert.Equal(t, 11, w.DueAt.Hour())

	var debit models.LedgerEntry
	require.NoError(t, f.client.DB().Where("withdrawal_id = ?", w.ID).First(&debit).Error)
	assert.Equal(t, "withdrawal of ₹420.00 requested", debit.Description)

	_, err = f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientBalance))
}

func TestApproveAndCancelRaceHasOneWinner(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	f.credit(t, sellerID, 80000)
	f.upi(t, sellerID)
	w, err := f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID, AmountCents: amount(30000)})
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.ApproveWithdrawal(ctx, admin, w.ID, nil)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.CancelWithdrawal(ctx, seller(sellerID), w.ID)
	}()
	wg.Wait()

	var lost error
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		lost = err
	}
	require.Equal(t, 1, wins)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(lost))
	assert.True(t, pkgerrors.HasReason(lost, pkgerrors.ReasonAlreadyResolved))

	stored, err := f.repo.FindWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	summary, err := f.svc.Summary(ctx, sellerID)
	require.NoError(t, err)
	assert.Zero(t, summary.PendingWithdrawalCents)
	switch stored.Status {
	case enums.WithdrawalStatusApproved:
		assert.Equal(t, int64(30000), summary.TotalWithdrawnCents)
		assert.Equal(t, int64(50000), summary.BalanceCents)
	case enums.WithdrawalStatusCancelled:
		assert.Zero(t, summary.TotalWithdrawnCents)
		assert.Equal(t, int64(80000), summary.BalanceCents)
	default:
		t.Fatalf("unexpected status %s", stored.Status)
	}
}

func TestRejectRestoresBalanceAndCompleteRequiresApproval(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	f.credit(t, sellerID, 60000)
	f.upi(t, sellerID)

	w, err := f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID, AmountCents: amount(20000)})
	require.NoError(t, err)

	_, err = f.svc.CompleteWithdrawal(ctx, admin, w.ID, "UTR123")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	note := "wrong account"
	rejected, err := f.svc.RejectWithdrawal(ctx, admin, w.ID, &note)
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ResolutionNote)
	assert.Equal(t, note, *rejected.ResolutionNote)

	balance, err := f.svc.Balance(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), balance)

	w2, err := f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID, AmountCents: amount(60000)})
	require.NoError(t, err)
	_, err = f.svc.ApproveWithdrawal(ctx, admin, w2.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.CompleteWithdrawal(ctx, admin, w2.ID, "  ")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	done, err := f.svc.CompleteWithdrawal(ctx, admin, w2.ID, "UTR999")
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusCompleted, done.Status)
	require.NotNil(t, done.PayoutReference)
	assert.Equal(t, "UTR999", *done.PayoutReference)

	summary, err := f.svc.Summary(ctx, sellerID)
	require.NoError(t, err)
	assert.Zero(t, summary.BalanceCents)
	assert.Equal(t, int64(60000), summary.TotalWithdrawnCents)
}

func TestWithdrawalActorChecks(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	f.credit(t, sellerID, 10000)
	f.upi(t, sellerID)
	w, err := f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID})
	require.NoError(t, err)

	_, err = f.svc.ApproveWithdrawal(ctx, seller(sellerID), w.ID, nil)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = f.svc.CancelWithdrawal(ctx, seller(uuid.New()), w.ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	page, err := f.svc.ListWithdrawals(ctx, seller(uuid.New()), WithdrawalFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Withdrawals)

	page, err = f.svc.ListWithdrawals(ctx, admin, WithdrawalFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Withdrawals, 1)

	_, err = f.svc.ListWithdrawals(ctx, auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}, WithdrawalFilter{})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
}

func TestWithdrawalEmitsOutboxEvents(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	f.credit(t, sellerID, 10000)
	f.upi(t, sellerID)
	w, err := f.svc.RequestWithdrawal(ctx, RequestWithdrawalInput{SellerID: sellerID})
	require.NoError(t, err)
	_, err = f.svc.ApproveWithdrawal(ctx, admin, w.ID, nil)
	require.NoError(t, err)

	var got []enums.OutboxEventType
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).
		Where("aggregate_id = ?", w.ID).Pluck("event_type", &got).Error)
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventWithdrawalRequested, enums.EventWithdrawalApproved}, got)
}

func TestNextCutoff(t *testing.T) {
	before := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), nextCutoff(before, 11))

	at := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), nextCutoff(at, 11))

	ist := time.FixedZone("IST", 5*3600+1800)
	local := time.Date(2026, 12, 31, 23, 0, 0, 0, ist)
	assert.Equal(t, time.Date(2026, 12, 31, 11, 0, 0, 0, time.UTC).AddDate(0, 0, 1), nextCutoff(local, 11))
}

func TestUpsertBankDetailsSealsAndMasks(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	account, ifsc, name := "123456789012", "hdfc0001234", "Asha Traders"
	method := enums.PayoutMethodBank

	view, err := f.svc.UpsertBankDetails(ctx, sellerID, BankDetailsInput{
		AccountNumber:   &account,
		IFSC:            &ifsc,
		BeneficiaryName: &name,
		PreferredMethod: &method,
	})
	require.NoError(t, err)
	require.NotNil(t, view.AccountLast4)
	assert.Equal(t, "9012", *view.AccountLast4)
	assert.Equal(t, "HDFC0001234", *view.IFSC)
	assert.True(t, view.BankConfigured)

	stored, err := f.repo.FindBankDetails(ctx, sellerID, false)
	require.NoError(t, err)
	require.NotNil(t, stored.AccountNumberEnc)
	assert.NotContains(t, *stored.AccountNumberEnc, account)

	upi := "asha@okhdfc"
	view, err = f.svc.UpsertBankDetails(ctx, sellerID, BankDetailsInput{UPIID: &upi})
	require.NoError(t, err)
	assert.True(t, view.BankConfigured, "omitted fields are kept")
	assert.True(t, view.UPIConfigured)
}

func TestUpsertBankDetailsValidation(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	sellerID := uuid.New()
	short, ifsc, name, badIFSC := "1234", "HDFC0001234", "Asha", "HDFC1234"
	long := "123456789012"
	bank := enums.PayoutMethodBank

	cases := map[string]BankDetailsInput{
		"partial bank fields":  {AccountNumber: &long},
		"short account":        {AccountNumber: &short, IFSC: &ifsc, BeneficiaryName: &name},
		"bad ifsc":             {AccountNumber: &long, IFSC: &badIFSC, BeneficiaryName: &name},
		"bad upi":              {UPIID: ptr("not-a-vpa")},
		"preferred incomplete": {PreferredMethod: &bank},
	}
	for label, input := range cases {
		t.Run(label, func(t *testing.T) {
			_, err := f.svc.UpsertBankDetails(ctx, sellerID, input)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
}

func ptr(s string) *string { return &s }
