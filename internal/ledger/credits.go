package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/money"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox/payloads"
)

// SaleKey is the idempotency key of the credit posted for an order item.
func SaleKey(itemID uuid.UUID) string {
	return "sale:" + itemID.String()
}

// ReversalKey is the idempotency key of the offsetting credit for a cancelled item.
func ReversalKey(itemID uuid.UUID) string {
	return "reversal:" + itemID.String()
}

// WithdrawalKey is the idempotency key of a withdrawal's reserving debit.
func WithdrawalKey(withdrawalID uuid.UUID) string {
	return "withdrawal:" + withdrawalID.String()
}

// CreditAmount is the seller's share of an item: line total net of commission.
func (s *service) CreditAmount(item models.OrderItem) int64 {
	return money.NetOfCommission(item.LineTotalCents, s.commission)
}

// PostOrderCredits credits every live item of a paid order inside tx. Items that were
// already credited are skipped, so repeated calls never double-count.
func (s *service) PostOrderCredits(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) ([]payloads.SellerCredit, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	credits := make([]payloads.SellerCredit, 0, len(items))
	for _, item := range items {
		credit, posted, err := s.postItemCredit(ctx, tx, order, item)
		if err != nil {
			return nil, err
		}
		if posted {
			credits = append(credits, credit)
		}
	}
	return credits, nil
}

// PostItemCredit credits a single item, e.g. a cash-on-delivery item on delivery.
func (s *service) PostItemCredit(ctx context.Context, tx *gorm.DB, order *models.Order, item models.OrderItem) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction required")
	}
	_, posted, err := s.postItemCredit(ctx, tx, order, item)
	return posted, err
}

func (s *service) postItemCredit(ctx context.Context, tx *gorm.DB, order *models.Order, item models.OrderItem) (payloads.SellerCredit, bool, error) {
	if item.Status == enums.OrderItemStatusCancelled {
		return payloads.SellerCredit{}, false, nil
	}
	amount := s.CreditAmount(item)
	orderID := order.ID
	itemID := item.ID
	entry := &models.LedgerEntry{
		SellerID:    item.SellerID,
		Type:        enums.LedgerEntryTypeCredit,
		AmountCents: amount,
		OrderID:     &orderID,
		OrderItemID: &itemID,
		Status:      enums.LedgerEntryStatusCompleted,
		EntryKey:    SaleKey(item.ID),
		Description: fmt.Sprintf("sale of %d x %s", item.Quantity, item.ProductName),
	}
	inserted, err := s.repo.WithTx(tx).InsertEntry(ctx, entry)
	if err != nil {
		return payloads.SellerCredit{}, false, err
	}
	if inserted && s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"seller_id":     item.SellerID.String(),
			"order_id":      order.ID.String(),
			"order_item_id": item.ID.String(),
			"amount_cents":  amount,
		}), "seller credit posted")
	}
	return payloads.SellerCredit{SellerID: item.SellerID, OrderItemID: item.ID, AmountCents: amount}, inserted, nil
}

// ReverseItemCredit offsets the sale credit of a cancelled item with a negative credit.
// Items that were never credited need no reversal.
func (s *service) ReverseItemCredit(ctx context.Context, tx *gorm.DB, item models.OrderItem) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	sale, err := repo.FindEntryByKey(ctx, SaleKey(item.ID))
	if err != nil || sale == nil {
		return false, err
	}
	itemID := item.ID
	entry := &models.LedgerEntry{
		SellerID:    sale.SellerID,
		Type:        enums.LedgerEntryTypeCredit,
		AmountCents: -sale.AmountCents,
		OrderID:     sale.OrderID,
		OrderItemID: &itemID,
		Status:      enums.LedgerEntryStatusCompleted,
		EntryKey:    ReversalKey(item.ID),
		Description: "reversal of cancelled item",
	}
	return repo.InsertEntry(ctx, entry)
}
