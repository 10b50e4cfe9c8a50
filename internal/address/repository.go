package address

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

// Repository resolves buyer-owned shipping addresses.
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

// Create stores a new address for userID after validating its required fields.
func (r *Repository) Create(ctx context.Context, userID uuid.UUID, addr types.Address) (*models.Address, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if err := addr.Validate(); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, err.Error())
	}
	country := strings.ToUpper(strings.TrimSpace(addr.Country))
	if country == "" {
		country = "IN"
	}
	row := models.Address{
		UserID:     userID,
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    country,
		Phone:      strings.TrimSpace(addr.Phone),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "create address")
	}
	return &row, nil
}

// FindOwned returns the address only when it belongs to userID. A missing or foreign
// address is reported identically so ids cannot be probed.
func (r *Repository) FindOwned(ctx context.Context, userID, addressID uuid.UUID) (*models.Address, error) {
	var row models.Address
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.New(errors.CodeValidation, "shipping address not found for buyer").
				WithReason(errors.ReasonAddressNotOwned)
		}
		return nil, errors.Wrap(errors.CodeDependency, err, "load address")
	}
	return &row, nil
}
