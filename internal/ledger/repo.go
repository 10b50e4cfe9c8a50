package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/vendorhub-backend/pkg/db"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/pagination"
)

// Repository manages persistence for ledger entries, withdrawals and payout details.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	FindEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	Balance(ctx context.Context, sellerID uuid.UUID) (int64, error)
	Totals(ctx context.Context, sellerID uuid.UUID) (Totals, error)
	SetWithdrawalEntryStatus(ctx context.Context, withdrawalID uuid.UUID, from, to enums.LedgerEntryStatus) (int64, error)
	ListEntries(ctx context.Context, sellerID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, string, error)

	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error
	FindWithdrawal(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to enums.WithdrawalStatus, updates map[string]any) (bool, error)
	ListWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]models.Withdrawal, string, error)

	FindBankDetails(ctx context.Context, sellerID uuid.UUID, forUpdate bool) (*models.BankDetails, error)
	SaveBankDetails(ctx context.Context, details *models.BankDetails) error
}

// Totals are the per-seller aggregates behind the summary read model.
type Totals struct {
	BalanceCents           int64
	TotalEarnedCents       int64
	PendingWithdrawalCents int64
	TotalWithdrawnCents    int64
}

// WithdrawalFilter narrows ListWithdrawals. Zero values match everything.
type WithdrawalFilter struct {
	SellerID *uuid.UUID
	Status   *enums.WithdrawalStatus
	Page     pagination.Params
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertEntry appends an entry keyed by EntryKey. A duplicate key is a no-op and reports false.
func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "entry_key"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "insert ledger entry")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).Where("entry_key = ?", key).First(&entry).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return &entry, nil
}

const totalsQuery = `
SELECT
	COALESCE(SUM(CASE WHEN type = 'credit' AND status = 'completed' THEN amount_cents ELSE 0 END), 0) AS earned,
	COALESCE(SUM(CASE WHEN type = 'debit' AND status = 'pending' THEN amount_cents ELSE 0 END), 0) AS pending,
	COALESCE(SUM(CASE WHEN type = 'debit' AND status = 'completed' THEN amount_cents ELSE 0 END), 0) AS withdrawn
FROM ledger_entries
WHERE seller_id = ?`

// Balance is completed credits minus pending and completed debits.
func (r *repository) Balance(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	totals, err := r.Totals(ctx, sellerID)
	if err != nil {
		return 0, err
	}
	return totals.BalanceCents, nil
}

func (r *repository) Totals(ctx context.Context, sellerID uuid.UUID) (Totals, error) {
	var row struct {
		Earned    int64
		Pending   int64
		Withdrawn int64
	}
	if err := r.db.WithContext(ctx).Raw(totalsQuery, sellerID).Scan(&row).Error; err != nil {
		return Totals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger entries")
	}
	return Totals{
		BalanceCents:           row.Earned - row.Pending - row.Withdrawn,
		TotalEarnedCents:       row.Earned,
		PendingWithdrawalCents: row.Pending,
		TotalWithdrawnCents:    row.Withdrawn,
	}, nil
}

func (r *repository) SetWithdrawalEntryStatus(ctx context.Context, withdrawalID uuid.UUID, from, to enums.LedgerEntryStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("withdrawal_id = ? AND type = ? AND status = ?", withdrawalID, enums.LedgerEntryTypeDebit, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update withdrawal debit")
	}
	return res.RowsAffected, nil
}

func (r *repository) ListEntries(ctx context.Context, sellerID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	q := pagination.Apply(r.db.WithContext(ctx).Where("seller_id = ?", sellerID), cursor)

	var rows []models.LedgerEntry
	if err := q.Order("created_at DESC").Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return rows, next, nil
}

func (r *repository) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create withdrawal")
	}
	return nil
}

func (r *repository) FindWithdrawal(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load withdrawal")
	}
	return &w, nil
}

// TransitionWithdrawal moves the withdrawal from -> to only if it is still in from.
func (r *repository) TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to enums.WithdrawalStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition withdrawal")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]models.Withdrawal, string, error) {
	cursor, err := pagination.ParseCursor(filter.Page.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	q := r.db.WithContext(ctx).Model(&models.Withdrawal{})
	if filter.SellerID != nil {
		q = q.Where("seller_id = ?", *filter.SellerID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	q = pagination.Apply(q, cursor)

	var rows []models.Withdrawal
	if err := q.Order("created_at DESC").Order("id DESC").
		Limit(pagination.LimitWithBuffer(filter.Page.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list withdrawals")
	}
	rows, next := pagination.Trim(rows, filter.Page.Limit, func(w models.Withdrawal) pagination.Cursor {
		return pagination.Cursor{CreatedAt: w.CreatedAt, ID: w.ID}
	})
	return rows, next, nil
}

func (r *repository) FindBankDetails(ctx context.Context, sellerID uuid.UUID, forUpdate bool) (*models.BankDetails, error) {
	q := r.db.WithContext(ctx)
	if forUpdate {
		q = db.ForUpdate(q)
	}
	var details models.BankDetails
	if err := q.Where("seller_id = ?", sellerID).First(&details).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bank details")
	}
	return &details, nil
}

func (r *repository) SaveBankDetails(ctx context.Context, details *models.BankDetails) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "seller_id"}}, UpdateAll: true}).
		Create(details).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save bank details")
	}
	return nil
}
