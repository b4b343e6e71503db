package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lamallette/boutique-backend/pkg/db/models"
	"github.com/lamallette/boutique-backend/pkg/enums"
)

// RelayPoint is a chosen pickup point, as supplied by the storefront's
// relay-picker widget.
type RelayPoint struct {
	ID      string
	Name    string
	Address string
}

// OrderDTO is the read shape returned by the order queries.
type OrderDTO struct {
	ID              uint              `json:"id"`
	StripeSessionID string            `json:"stripe_session_id"`
	Status          enums.OrderStatus `json:"status"`
	Total           decimal.Decimal   `json:"total"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
	ShippingCost    decimal.Decimal   `json:"shipping_cost"`
	Taxes           decimal.Decimal   `json:"taxes"`
	DeliveryMethod  *string           `json:"delivery_method,omitempty"`
	RelayID         *string           `json:"relay_id,omitempty"`
	RelayName       *string           `json:"relay_name,omitempty"`
	RelayAddress    *string           `json:"relay_address,omitempty"`
	BillingName     *string           `json:"billing_name,omitempty"`
	BillingEmail    *string           `json:"billing_email,omitempty"`
	NeedsReview     bool              `json:"needs_review"`
	Items           []OrderItemDTO    `json:"items"`
	CreatedAt       time.Time         `json:"created_at"`
}

// OrderItemDTO is the frozen line-item snapshot attached to an order.
type OrderItemDTO struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	ImageURL *string         `json:"image_url,omitempty"`
}

func toDTO(order *models.Order) *OrderDTO {
	items := make([]OrderItemDTO, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemDTO{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			ImageURL: item.ImageURL,
		}
	}
	return &OrderDTO{
		ID:              order.ID,
		StripeSessionID: order.StripeSessionID,
		Status:          order.Status,
		Total:           order.Total,
		Subtotal:        order.Subtotal,
		ShippingCost:    order.ShippingCost,
		Taxes:           order.Taxes,
		DeliveryMethod:  order.DeliveryMethod,
		RelayID:         order.RelayID,
		RelayName:       order.RelayName,
		RelayAddress:    order.RelayAddress,
		BillingName:     order.BillingName,
		BillingEmail:    order.BillingEmail,
		NeedsReview:     order.NeedsReview,
		Items:           items,
		CreatedAt:       order.CreatedAt,
	}
}
