package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lamallette/boutique-backend/pkg/config"
	"github.com/lamallette/boutique-backend/pkg/db/models"
	"github.com/lamallette/boutique-backend/pkg/enums"
	pkgerrors "github.com/lamallette/boutique-backend/pkg/errors"
	"github.com/lamallette/boutique-backend/pkg/logger"
)

type fakeOrdersRepo struct {
	orders       map[string]*models.Order
	assignedRows int64
	assignErr    error
	statusCalls  []enums.OrderStatus
}

func newFakeOrdersRepo() *fakeOrdersRepo {
	return &fakeOrdersRepo{orders: map[string]*models.Order{}}
}

func (f *fakeOrdersRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeOrdersRepo) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	f.orders[order.StripeSessionID] = order
	return order, nil
}

func (f *fakeOrdersRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if order, ok := f.orders[sessionID]; ok {
		return order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) FindBySessionAndUser(ctx context.Context, sessionID, userID string) (*models.Order, error) {
	if order, ok := f.orders[sessionID]; ok && order.UserID == userID {
		return order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	for _, order := range f.orders {
		if order.ID == id {
			return order, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var list []models.Order
	for _, order := range f.orders {
		if order.UserID == userID {
			list = append(list, *order)
		}
	}
	return list, nil
}

func (f *fakeOrdersRepo) AssignRelay(ctx context.Context, sessionID, userID string, relay RelayPoint) (int64, error) {
	if f.assignErr != nil {
		return 0, f.assignErr
	}
	if order, ok := f.orders[sessionID]; ok && order.UserID == userID {
		order.RelayID = &relay.ID
		order.RelayName = &relay.Name
		order.RelayAddress = &relay.Address
		f.assignedRows = 1
		return 1, nil
	}
	return 0, nil
}

func (f *fakeOrdersRepo) UpdateStatus(ctx context.Context, id uint, status enums.OrderStatus) error {
	f.statusCalls = append(f.statusCalls, status)
	for _, order := range f.orders {
		if order.ID == id {
			order.Status = status
		}
	}
	return nil
}

type fakeDispatcher struct {
	sent []sentMail
	err  error
}

type sentMail struct {
	to      string
	subject string
	body    string
}

func (f *fakeDispatcher) Send(ctx context.Context, to, subject, htmlBody string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func newTestService(t *testing.T, repo Repository, mail mailDispatcher) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo: repo,
		Mail: mail,
		Shop: config.ShopConfig{
			OwnerEmail: "owner@example.com",
			AdminURL:   "http://localhost:3000/admin",
		},
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return svc
}

func seedOrder(repo *fakeOrdersRepo, id uint, sessionID, userID string) *models.Order {
	email := fmt.Sprintf("%s@example.com", userID)
	name := "Jean Test"
	order := &models.Order{
		ID:              id,
		StripeSessionID: sessionID,
		UserID:          userID,
		Status:          enums.OrderStatusPending,
		Total:           decimal.NewFromInt(72),
		Subtotal:        decimal.NewFromInt(66),
		ShippingCost:    decimal.NewFromInt(6),
		Taxes:           decimal.Zero,
		BillingEmail:    &email,
		BillingName:     &name,
		Items: []models.OrderItem{
			{Name: "Sac tubulaire blanc", Price: decimal.NewFromInt(66), Quantity: 1},
		},
	}
	repo.orders[sessionID] = order
	return order
}

func TestAssignRelaySendsConfirmation(t *testing.T) {
	repo := newFakeOrdersRepo()
	seedOrder(repo, 1, "cs_test_1", "user-1")
	mail := &fakeDispatcher{}
	svc := newTestService(t, repo, mail)

	err := svc.AssignRelay(context.Background(), "user-1", "cs_test_1", RelayPoint{
		ID:      "R123",
		Name:    "Tabac de la Gare",
		Address: "1 place de la Gare",
	})
	require.NoError(t, err)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "user-1@example.com", mail.sent[0].to)
	assert.Contains(t, mail.sent[0].body, "Tabac de la Gare")
	assert.Contains(t, mail.sent[0].body, "Sac tubulaire blanc")
}

func TestAssignRelayUnknownSessionIsNotFound(t *testing.T) {
	repo := newFakeOrdersRepo()
	mail := &fakeDispatcher{}
	svc := newTestService(t, repo, mail)

	err := svc.AssignRelay(context.Background(), "user-1", "cs_missing", RelayPoint{ID: "R1", Name: "X"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
	assert.Empty(t, mail.sent)
}

func TestAssignRelayWrongOwnerIsNotFound(t *testing.T) {
	repo := newFakeOrdersRepo()
	seedOrder(repo, 1, "cs_test_1", "user-1")
	mail := &fakeDispatcher{}
	svc := newTestService(t, repo, mail)

	err := svc.AssignRelay(context.Background(), "user-2", "cs_test_1", RelayPoint{ID: "R1", Name: "X"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestAssignRelayMailFailurePropagates(t *testing.T) {
	repo := newFakeOrdersRepo()
	seedOrder(repo, 1, "cs_test_1", "user-1")
	mail := &fakeDispatcher{err: fmt.Errorf("smtp down")}
	svc := newTestService(t, repo, mail)

	err := svc.AssignRelay(context.Background(), "user-1", "cs_test_1", RelayPoint{ID: "R1", Name: "X"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
}

func TestGetByIDScopesOwner(t *testing.T) {
	repo := newFakeOrdersRepo()
	seedOrder(repo, 7, "cs_test_1", "user-1")
	svc := newTestService(t, repo, &fakeDispatcher{})

	dto, err := svc.GetByID(context.Background(), "user-1", 7)
	require.NoError(t, err)
	assert.Equal(t, uint(7), dto.ID)

	_, err = svc.GetByID(context.Background(), "user-2", 7)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	repo := newFakeOrdersRepo()
	seedOrder(repo, 1, "cs_test_1", "user-1")
	svc := newTestService(t, repo, &fakeDispatcher{})

	require.NoError(t, svc.UpdateStatus(context.Background(), 1, enums.OrderStatusShipped))
	require.NoError(t, svc.UpdateStatus(context.Background(), 1, enums.OrderStatusDelivered))

	err := svc.UpdateStatus(context.Background(), 1, enums.OrderStatusPending)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestUpdateStatusSameStatusNoOp(t *testing.T) {
	repo := newFakeOrdersRepo()
	seedOrder(repo, 1, "cs_test_1", "user-1")
	svc := newTestService(t, repo, &fakeDispatcher{})

	require.NoError(t, svc.UpdateStatus(context.Background(), 1, enums.OrderStatusPending))
	assert.Empty(t, repo.statusCalls)
}
