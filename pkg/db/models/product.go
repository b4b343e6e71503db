package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog row the pipeline reads and decrements. Catalog
// administration (create/update/hide) happens outside this service.
type Product struct {
	ID          uint            `gorm:"column:id;primaryKey;autoIncrement"`
	Slug        string          `gorm:"column:slug;uniqueIndex;not null"`
	Name        string          `gorm:"column:name;not null"`
	Description *string         `gorm:"column:description"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	Stock       int             `gorm:"column:stock;not null;default:0"`
	Hidden      bool            `gorm:"column:hidden;not null;default:false"`
	ImageURL    *string         `gorm:"column:image_url"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
