package catalog

import (
	"context"

	"gorm.io/gorm"

	"github.com/lamallette/boutique-backend/pkg/db/models"
)

// Repository is the pipeline's window onto the product catalog: reads plus
// the conditional stock decrement. Catalog administration lives elsewhere.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBySlug(ctx context.Context, slug string) (*models.Product, error)
	DecrementStock(ctx context.Context, slug string, qty int) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBySlug(ctx context.Context, slug string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Where("slug = ?", slug).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// DecrementStock atomically takes qty units off the product's stock, but only
// while enough stock remains. A false return means the decrement could not be
// satisfied; stock is left untouched.
func (r *repository) DecrementStock(ctx context.Context, slug string, qty int) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	res := r.db.WithContext(ctx).Exec(`
		UPDATE products
		SET stock = stock - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE slug = ? AND stock >= ?
	`, qty, slug, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
