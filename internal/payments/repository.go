package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/db"
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

var openStatuses = []enums.PaymentStatus{enums.PaymentStatusCreated, enums.PaymentStatusPending}

// Repository persists payment attempts.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, p *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return nil
}

// FindByID returns nil when the attempt does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

// FindByIntent resolves a gateway intent id back to its attempt.
func (r *Repository) FindByIntent(ctx context.Context, gateway enums.PaymentMethod, intentID string) (*models.Payment, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("gateway = ? AND gateway_order_id = ?", gateway, intentID))
}

// LatestOpen returns the newest created or pending attempt for the order.
func (r *Repository) LatestOpen(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, openStatuses).
		Order("created_at DESC").Order("id DESC"))
}

func (r *Repository) FindSucceeded(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusSucceeded))
}

func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return rows, nil
}

// ListStaleOpen finds open attempts that have not moved since before cutoff.
func (r *Repository) ListStaleOpen(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	q := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ? AND gateway_order_id IS NOT NULL", openStatuses, cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payments")
	}
	return rows, nil
}

// Transition moves an attempt to status `to` only while it is in one of `from`.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition payment")
	}
	return res.RowsAffected == 1, nil
}

// Open records the gateway intent on a created attempt and moves it to pending.
func (r *Repository) Open(ctx context.Context, id uuid.UUID, intentID string, params types.JSONMap) (bool, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode client params")
	}
	return r.Transition(ctx, id, []enums.PaymentStatus{enums.PaymentStatusCreated}, enums.PaymentStatusPending, map[string]any{
		"gateway_order_id": intentID,
		"client_params":    string(raw),
	})
}

// FailOpen fails every open attempt of the order, e.g. when the order is cancelled.
func (r *Repository) FailOpen(ctx context.Context, orderID uuid.UUID, reason string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status IN ?", orderID, openStatuses).
		Updates(map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "fail open payments")
	}
	return res.RowsAffected, nil
}

func (r *Repository) first(ctx context.Context, q *gorm.DB) (*models.Payment, error) {
	var p models.Payment
	if err := q.First(&p).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return &p, nil
}
