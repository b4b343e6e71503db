package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lamallette/boutique-backend/pkg/enums"
)

// Order is materialized exactly once per completed checkout session. The
// unique index on stripe_session_id is the idempotency boundary against
// webhook redelivery.
type Order struct {
	ID              uint              `gorm:"column:id;primaryKey;autoIncrement"`
	StripeSessionID string            `gorm:"column:stripe_session_id;uniqueIndex:uq_orders_stripe_session_id;not null"`
	UserID          string            `gorm:"column:user_id;index;not null"`
	Status          enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`

	Total        decimal.Decimal `gorm:"column:total;type:numeric(10,2);not null"`
	Subtotal     decimal.Decimal `gorm:"column:subtotal;type:numeric(10,2);not null"`
	ShippingCost decimal.Decimal `gorm:"column:shipping_cost;type:numeric(10,2);not null"`
	Taxes        decimal.Decimal `gorm:"column:taxes;type:numeric(10,2);not null"`

	// Delivery fields stay null until the buyer picks a relay point.
	DeliveryMethod *string `gorm:"column:delivery_method"`
	RelayID        *string `gorm:"column:relay_id"`
	RelayName      *string `gorm:"column:relay_name"`
	RelayAddress   *string `gorm:"column:relay_address"`

	BillingName       *string `gorm:"column:billing_name"`
	BillingEmail      *string `gorm:"column:billing_email"`
	BillingLine1      *string `gorm:"column:billing_line1"`
	BillingLine2      *string `gorm:"column:billing_line2"`
	BillingCity       *string `gorm:"column:billing_city"`
	BillingPostalCode *string `gorm:"column:billing_postal_code"`
	BillingCountry    *string `gorm:"column:billing_country"`

	// Set when a stock decrement could not be satisfied at webhook time; the
	// order still exists and an operator reconciles it manually.
	NeedsReview bool `gorm:"column:needs_review;not null;default:false"`

	Items     []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}
