// Package ledger derives seller balances from append-only entries and runs the withdrawal workflow.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/money"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/vendorhub-backend/pkg/pagination"
	"github.com/angelmondragon/vendorhub-backend/pkg/security"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines the seller ledger: credit posting, balance reads and withdrawals.
type Service interface {
	CreditAmount(item models.OrderItem) int64
	PostOrderCredits(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) ([]payloads.SellerCredit, error)
	PostItemCredit(ctx context.Context, tx *gorm.DB, order *models.Order, item models.OrderItem) (bool, error)
	ReverseItemCredit(ctx context.Context, tx *gorm.DB, item models.OrderItem) (bool, error)

	Balance(ctx context.Context, sellerID uuid.UUID) (int64, error)
	Summary(ctx context.Context, sellerID uuid.UUID) (*Summary, error)
	History(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*HistoryPage, error)

	RequestWithdrawal(ctx context.Context, input RequestWithdrawalInput) (*models.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID, note *string) (*models.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID, note *string) (*models.Withdrawal, error)
	CancelWithdrawal(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID) (*models.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID, payoutReference string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, actor auth.Actor, filter WithdrawalFilter) (*WithdrawalPage, error)

	GetBankDetails(ctx context.Context, sellerID uuid.UUID) (*BankDetailsView, error)
	UpsertBankDetails(ctx context.Context, sellerID uuid.UUID, input BankDetailsInput) (*BankDetailsView, error)
}

// Options configures a ledger service.
type Options struct {
	Repo             Repository
	Tx               txRunner
	Locker           locks.Locker
	Outbox           outbox.Emitter
	Sealer           *security.Sealer
	Commission       decimal.Decimal
	PayoutCutoffHour int
	Logger           *logger.Logger
	Clock            func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	locker     locks.Locker
	outbox     outbox.Emitter
	sealer     *security.Sealer
	commission decimal.Decimal
	cutoffHour int
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires a ledger service with the provided dependencies.
func NewService(opts Options) (Service, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if opts.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if opts.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if opts.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if opts.Sealer == nil {
		return nil, fmt.Errorf("bank details sealer required")
	}
	if opts.Commission.IsNegative() || opts.Commission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate must be within [0, 1)")
	}
	if opts.PayoutCutoffHour < 0 || opts.PayoutCutoffHour > 23 {
		return nil, fmt.Errorf("payout cutoff hour must be within [0, 23]")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:       opts.Repo,
		tx:         opts.Tx,
		locker:     opts.Locker,
		outbox:     opts.Outbox,
		sealer:     opts.Sealer,
		commission: opts.Commission,
		cutoffHour: opts.PayoutCutoffHour,
		logg:       opts.Logger,
		now:        clock,
	}, nil
}

// Summary is the seller's balance read model.
type Summary struct {
	SellerID               uuid.UUID           `json:"seller_id"`
	BalanceCents           int64               `json:"balance_cents"`
	TotalEarnedCents       int64               `json:"total_earned_cents"`
	PendingWithdrawalCents int64               `json:"pending_withdrawal_cents"`
	TotalWithdrawnCents    int64               `json:"total_withdrawn_cents"`
	BankConfigured         bool                `json:"bank_configured"`
	UPIConfigured          bool                `json:"upi_configured"`
	PayoutMethod           *enums.PayoutMethod `json:"payout_method,omitempty"`
}

type HistoryPage struct {
	Summary    *Summary             `json:"summary"`
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type WithdrawalPage struct {
	Withdrawals []models.Withdrawal `json:"withdrawals"`
	NextCursor  string              `json:"next_cursor,omitempty"`
	Summary     *Summary            `json:"summary,omitempty"`
}

// RequestWithdrawalInput asks for a payout. A nil amount withdraws the full balance.
type RequestWithdrawalInput struct {
	SellerID    uuid.UUID
	AmountCents *int64
}

func (s *service) Balance(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	return s.repo.Balance(ctx, sellerID)
}

func (s *service) Summary(ctx context.Context, sellerID uuid.UUID) (*Summary, error) {
	totals, err := s.repo.Totals(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	details, err := s.repo.FindBankDetails(ctx, sellerID, false)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		SellerID:               sellerID,
		BalanceCents:           totals.BalanceCents,
		TotalEarnedCents:       totals.TotalEarnedCents,
		PendingWithdrawalCents: totals.PendingWithdrawalCents,
		TotalWithdrawnCents:    totals.TotalWithdrawnCents,
	}
	if details != nil {
		summary.BankConfigured = details.BankConfigured()
		summary.UPIConfigured = details.UPIConfigured()
		if method, ok := details.PayoutMethod(); ok {
			summary.PayoutMethod = &method
		}
	}
	return summary, nil
}

func (s *service) History(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	summary, err := s.Summary(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	entries, next, err := s.repo.ListEntries(ctx, sellerID, params)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Summary: summary, Entries: entries, NextCursor: next}, nil
}

// RequestWithdrawal reserves funds with a pending debit. The balance read and the debit
// insert share one transaction under the seller lock, so two requests can never both spend
// the same funds.
func (s *service) RequestWithdrawal(ctx context.Context, input RequestWithdrawalInput) (*models.Withdrawal, error) {
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if input.AmountCents != nil && *input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal amount must be positive")
	}

	var created *models.Withdrawal
	err := s.locker.WithLock(ctx, locks.SellerKey(input.SellerID), func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			details, err := repo.FindBankDetails(ctx, input.SellerID, true)
			if err != nil {
				return err
			}
			if details == nil {
				return errPayoutMissing()
			}
			method, ok := details.PayoutMethod()
			if !ok {
				return errPayoutMissing()
			}

			balance, err := repo.Balance(ctx, input.SellerID)
			if err != nil {
				return err
			}
			amount := balance
			if input.AmountCents != nil {
				amount = *input.AmountCents
			}
			if amount <= 0 || amount > balance {
				return pkgerrors.New(pkgerrors.CodeInvariant, "withdrawal exceeds available balance").
					WithReason(pkgerrors.ReasonInsufficientBalance).
					WithDetails(map[string]any{"requested_cents": amount, "available_cents": balance})
			}

			now := s.now().UTC()
			w := &models.Withdrawal{
				SellerID:       input.SellerID,
				AmountCents:    amount,
				Status:         enums.WithdrawalStatusRequested,
				RequestedAt:    now,
				DueAt:          nextCutoff(now, s.cutoffHour),
				PayoutMethod:   method,
				PayoutSnapshot: snapshot(*details, method),
			}
			if err := repo.CreateWithdrawal(ctx, w); err != nil {
				return err
			}
			withdrawalID := w.ID
			if _, err := repo.InsertEntry(ctx, &models.LedgerEntry{
				SellerID:     input.SellerID,
				Type:         enums.LedgerEntryTypeDebit,
				AmountCents:  amount,
				WithdrawalID: &withdrawalID,
				Status:       enums.LedgerEntryStatusPending,
				EntryKey:     WithdrawalKey(w.ID),
				Description:  fmt.Sprintf("withdrawal of %s requested", money.FormatINR(amount)),
			}); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventWithdrawalRequested, w, &auth.Actor{UserID: input.SellerID, Role: enums.RoleSeller}); err != nil {
				return err
			}
			created = w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"seller_id":     created.SellerID.String(),
			"withdrawal_id": created.ID.String(),
			"amount_cents":  created.AmountCents,
		}), "withdrawal requested")
	}
	return created, nil
}

func (s *service) ApproveWithdrawal(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID, note *string) (*models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins approve withdrawals")
	}
	return s.resolve(ctx, actor, withdrawalID, resolution{
		from:    enums.WithdrawalStatusRequested,
		to:      enums.WithdrawalStatusApproved,
		debitTo: enums.LedgerEntryStatusCompleted,
		event:   enums.EventWithdrawalApproved,
		note:    note,
	})
}

func (s *service) RejectWithdrawal(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID, note *string) (*models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins reject withdrawals")
	}
	return s.resolve(ctx, actor, withdrawalID, resolution{
		from:    enums.WithdrawalStatusRequested,
		to:      enums.WithdrawalStatusRejected,
		debitTo: enums.LedgerEntryStatusReversed,
		event:   enums.EventWithdrawalRejected,
		note:    note,
	})
}

func (s *service) CancelWithdrawal(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID) (*models.Withdrawal, error) {
	if !actor.IsSeller() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the requesting seller cancels a withdrawal")
	}
	return s.resolve(ctx, actor, withdrawalID, resolution{
		from:      enums.WithdrawalStatusRequested,
		to:        enums.WithdrawalStatusCancelled,
		debitTo:   enums.LedgerEntryStatusReversed,
		event:     enums.EventWithdrawalCancelled,
		ownerOnly: true,
	})
}

// CompleteWithdrawal records that an approved payout was sent.
func (s *service) CompleteWithdrawal(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID, payoutReference string) (*models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins complete withdrawals")
	}
	ref := strings.TrimSpace(payoutReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout reference is required")
	}
	return s.resolve(ctx, actor, withdrawalID, resolution{
		from:      enums.WithdrawalStatusApproved,
		to:        enums.WithdrawalStatusCompleted,
		event:     enums.EventWithdrawalCompleted,
		reference: &ref,
	})
}

type resolution struct {
	from      enums.WithdrawalStatus
	to        enums.WithdrawalStatus
	debitTo   enums.LedgerEntryStatus
	event     enums.OutboxEventType
	note      *string
	reference *string
	ownerOnly bool
}

// resolve performs one compare-and-set transition under the withdrawal lock. Losing the CAS
// is reported as a conflict and changes nothing.
func (s *service) resolve(ctx context.Context, actor auth.Actor, withdrawalID uuid.UUID, r resolution) (*models.Withdrawal, error) {
	var out *models.Withdrawal
	err := s.locker.WithLock(ctx, locks.WithdrawalKey(withdrawalID), func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			current, err := repo.FindWithdrawal(ctx, withdrawalID)
			if err != nil {
				return err
			}
			if current == nil || (r.ownerOnly && current.SellerID != actor.UserID) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
			}

			now := s.now().UTC()
			updates := map[string]any{}
			if r.to != enums.WithdrawalStatusCompleted {
				updates["resolved_at"] = now
				updates["resolved_by"] = actor.UserID
			}
			if r.note != nil {
				updates["resolution_note"] = strings.TrimSpace(*r.note)
			}
			if r.reference != nil {
				updates["payout_reference"] = *r.reference
			}
			ok, err := repo.TransitionWithdrawal(ctx, withdrawalID, r.from, r.to, updates)
			if err != nil {
				return err
			}
			if !ok {
				return transitionConflict(current.Status, r)
			}
			if r.debitTo != "" {
				if _, err := repo.SetWithdrawalEntryStatus(ctx, withdrawalID, enums.LedgerEntryStatusPending, r.debitTo); err != nil {
					return err
				}
			}

			updated, err := repo.FindWithdrawal(ctx, withdrawalID)
			if err != nil {
				return err
			}
			if err := s.emit(ctx, tx, r.event, updated, &actor); err != nil {
				return err
			}
			out = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"withdrawal_id": out.ID.String(),
			"seller_id":     out.SellerID.String(),
			"status":        out.Status,
			"actor_role":    actor.Role,
		}), "withdrawal resolved")
	}
	return out, nil
}

func transitionConflict(current enums.WithdrawalStatus, r resolution) error {
	details := map[string]any{"current_status": current, "requested_status": r.to}
	if r.from == enums.WithdrawalStatusApproved && current == enums.WithdrawalStatusRequested {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "withdrawal must be approved first").
			WithReason(pkgerrors.ReasonInvalidTransition).
			WithDetails(details)
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "withdrawal was already resolved").
		WithReason(pkgerrors.ReasonAlreadyResolved).
		WithDetails(details)
}

func (s *service) ListWithdrawals(ctx context.Context, actor auth.Actor, filter WithdrawalFilter) (*WithdrawalPage, error) {
	var summary *Summary
	switch {
	case actor.IsAdmin():
	case actor.IsSeller():
		id := actor.UserID
		filter.SellerID = &id
		var err error
		if summary, err = s.Summary(ctx, id); err != nil {
			return nil, err
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "withdrawals are visible to sellers and admins only")
	}
	rows, next, err := s.repo.ListWithdrawals(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &WithdrawalPage{Withdrawals: rows, NextCursor: next, Summary: summary}, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, w *models.Withdrawal, actor *auth.Actor) error {
	var ref *outbox.ActorRef
	if actor != nil {
		ref = &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateWithdrawal,
		AggregateID:   w.ID,
		Actor:         ref,
		Data: payloads.WithdrawalEvent{
			WithdrawalID:    w.ID,
			SellerID:        w.SellerID,
			AmountCents:     w.AmountCents,
			Status:          w.Status,
			PayoutMethod:    w.PayoutMethod,
			DueAt:           w.DueAt,
			ResolvedBy:      w.ResolvedBy,
			Note:            w.ResolutionNote,
			PayoutReference: w.PayoutReference,
		},
	})
}

// nextCutoff returns the next payout cutoff strictly after now, in UTC.
func nextCutoff(now time.Time, hour int) time.Time {
	now = now.UTC()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !cutoff.After(now) {
		cutoff = cutoff.AddDate(0, 0, 1)
	}
	return cutoff
}

func snapshot(details models.BankDetails, method enums.PayoutMethod) types.PayoutSnapshot {
	snap := types.PayoutSnapshot{Method: string(method)}
	switch method {
	case enums.PayoutMethodBank:
		snap.AccountLast4 = deref(details.AccountLast4)
		snap.IFSC = deref(details.IFSC)
		snap.BeneficiaryName = deref(details.BeneficiaryName)
	case enums.PayoutMethodUPI:
		snap.UPIID = deref(details.UPIID)
	}
	return snap
}

func errPayoutMissing() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "configure bank or UPI payout details first").
		WithReason(pkgerrors.ReasonPayoutMethodMissing)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
