package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem freezes the purchased line at payment time. Price, name and image
// are copies; ProductID is a soft reference that may point at a since-deleted
// product.
type OrderItem struct {
	ID        uint            `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   uint            `gorm:"column:order_id;index;not null"`
	ProductID *uint           `gorm:"column:product_id"`
	Name      string          `gorm:"column:name;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	Quantity  int             `gorm:"column:quantity;not null"`
	ImageURL  *string         `gorm:"column:image_url"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
