// Package locks serializes work on a single entity (cart, order, seller, withdrawal).
package locks

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
)

// Locker runs fn while holding an exclusive lock on key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func CartKey(buyerID uuid.UUID) string {
	return fmt.Sprintf("cart:%s", buyerID)
}

func OrderKey(orderID uuid.UUID) string {
	return fmt.Sprintf("order:%s", orderID)
}

func SellerKey(sellerID uuid.UUID) string {
	return fmt.Sprintf("seller:%s", sellerID)
}

func WithdrawalKey(withdrawalID uuid.UUID) string {
	return fmt.Sprintf("withdrawal:%s", withdrawalID)
}

func errLockTimeout(key string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "resource is busy, retry shortly").
		WithReason(pkgerrors.ReasonLockTimeout).
		WithDetails(map[string]any{"lock": key})
}
