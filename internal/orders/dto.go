package orders

import (
	"github.com/angelmondragon/vendorhub-backend/pkg/db/models"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/pagination"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
	"github.com/google/uuid"
)

// BuyerOrderFilters describe the inputs supported by the buyer orders list.
type BuyerOrderFilters struct {
	Status *enums.OrderStatus
	Page   pagination.Params
}

// SellerItemFilters narrow the seller's fulfillment queue.
type SellerItemFilters struct {
	Status *enums.OrderItemStatus
	Page   pagination.Params
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderDetail is an order with every payment attempt made for it.
type OrderDetail struct {
	Order    models.Order     `json:"order"`
	Payments []models.Payment `json:"payments"`
}

// SellerItem is an order line as seen by the seller who fulfills it.
type SellerItem struct {
	Item            models.OrderItem    `json:"item"`
	OrderStatus     enums.OrderStatus   `json:"order_status"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	ShippingAddress types.Address       `json:"shipping_address"`
}

// SellerItemList wraps the paginated seller items.
type SellerItemList struct {
	Items      []SellerItem `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// CheckoutInput starts an order from the buyer's cart.
type CheckoutInput struct {
	BuyerID       uuid.UUID
	AddressID     uuid.UUID
	PaymentMethod enums.PaymentMethod
}
