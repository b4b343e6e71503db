package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/lamallette/boutique-backend/pkg/db/models"
	"github.com/lamallette/boutique-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

// FindBySessionID takes the most recent match. Redelivery races could in
// theory leave ambiguity; creation-descending order makes the read stable.
func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("stripe_session_id = ?", sessionID).
		Order("created_at DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindBySessionAndUser(ctx context.Context, sessionID, userID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("stripe_session_id = ? AND user_id = ?", sessionID, userID).
		Order("created_at DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// AssignRelay writes the pickup point onto the order matched by both session
// id and owner. The compound match keeps one user from redirecting another
// user's order. Returns the number of rows touched; zero means no match.
func (r *repository) AssignRelay(ctx context.Context, sessionID, userID string, relay RelayPoint) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("stripe_session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]any{
			"relay_id":        relay.ID,
			"relay_name":      relay.Name,
			"relay_address":   relay.Address,
			"delivery_method": string(enums.DeliveryMethodMondialRelay),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uint, status enums.OrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("status", status).Error
}
