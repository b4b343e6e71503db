package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/lamallette/boutique-backend/pkg/db/models"
	"github.com/lamallette/boutique-backend/pkg/enums"
)

// Repository defines persistence operations for the orders tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	FindBySessionAndUser(ctx context.Context, sessionID, userID string) (*models.Order, error)
	FindByID(ctx context.Context, id uint) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	AssignRelay(ctx context.Context, sessionID, userID string, relay RelayPoint) (int64, error)
	UpdateStatus(ctx context.Context, id uint, status enums.OrderStatus) error
}
