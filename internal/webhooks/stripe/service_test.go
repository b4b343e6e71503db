package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lamallette/boutique-backend/internal/catalog"
	"github.com/lamallette/boutique-backend/internal/orders"
	"github.com/lamallette/boutique-backend/pkg/config"
	"github.com/lamallette/boutique-backend/pkg/db/models"
	"github.com/lamallette/boutique-backend/pkg/logger"
)

func setupWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  slug TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  description TEXT,
  price NUMERIC NOT NULL,
  stock INTEGER NOT NULL DEFAULT 0,
  hidden INTEGER NOT NULL DEFAULT 0,
  image_url TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS orders (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  stripe_session_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  total NUMERIC NOT NULL,
  subtotal NUMERIC NOT NULL,
  shipping_cost NUMERIC NOT NULL,
  taxes NUMERIC NOT NULL,
  delivery_method TEXT,
  relay_id TEXT,
  relay_name TEXT,
  relay_address TEXT,
  billing_name TEXT,
  billing_email TEXT,
  billing_line1 TEXT,
  billing_line2 TEXT,
  billing_city TEXT,
  billing_postal_code TEXT,
  billing_country TEXT,
  needs_review INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_stripe_session_id ON orders (stripe_session_id);`,
		`CREATE TABLE IF NOT EXISTS order_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id INTEGER NOT NULL,
  product_id INTEGER,
  name TEXT NOT NULL,
  price NUMERIC NOT NULL,
  quantity INTEGER NOT NULL,
  image_url TEXT,
  created_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

type fakeSessionGateway struct {
	lineItems    []*stripe.LineItem
	lineItemsErr error
	rate         *stripe.ShippingRate
	rateErr      error
}

func (f *fakeSessionGateway) SessionLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	if f.lineItemsErr != nil {
		return nil, f.lineItemsErr
	}
	return f.lineItems, nil
}

func (f *fakeSessionGateway) GetShippingRate(ctx context.Context, id string) (*stripe.ShippingRate, error) {
	if f.rateErr != nil {
		return nil, f.rateErr
	}
	return f.rate, nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: map[string]string{}}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("btq:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

type fakeMail struct {
	sent []string
	err  error
}

func (f *fakeMail) Send(ctx context.Context, to, subject, htmlBody string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type webhookHarness struct {
	db      *gorm.DB
	service *Service
	gateway *fakeSessionGateway
	mail    *fakeMail
	orders  orders.Repository
	catalog catalog.Repository
}

func newWebhookHarness(t *testing.T) *webhookHarness {
	t.Helper()

	db := setupWebhookTestDB(t)
	gateway := &fakeSessionGateway{
		rate: &stripe.ShippingRate{
			ID:       "shr_relay",
			Metadata: map[string]string{"delivery_method": "mondial_relay"},
		},
	}
	mail := &fakeMail{}
	guard, err := NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	require.NoError(t, err)

	ordersRepo := orders.NewRepository(db)
	catalogRepo := catalog.NewRepository(db)

	service, err := NewService(ServiceParams{
		OrdersRepo:        ordersRepo,
		CatalogRepo:       catalogRepo,
		Gateway:           gateway,
		TransactionRunner: &testTxRunner{db: db},
		Guard:             guard,
		Mail:              mail,
		Shop: config.ShopConfig{
			OwnerEmail: "owner@example.com",
			AdminURL:   "http://localhost:3000/admin",
		},
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)

	return &webhookHarness{
		db:      db,
		service: service,
		gateway: gateway,
		mail:    mail,
		orders:  ordersRepo,
		catalog: catalogRepo,
	}
}

func seedProduct(t *testing.T, db *gorm.DB, slug string, stock int) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO products (slug, name, price, stock, hidden) VALUES (?, ?, ?, ?, 0)`,
		slug, "Produit "+slug, "72", stock,
	).Error)
}

func completedSessionEvent(t *testing.T, eventID, sessionID string) *stripe.Event {
	t.Helper()
	sess := &stripe.CheckoutSession{
		ID:             sessionID,
		AmountTotal:    7200,
		AmountSubtotal: 6600,
		TotalDetails: &stripe.CheckoutSessionTotalDetails{
			AmountShipping: 600,
			AmountTax:      0,
		},
		Metadata: map[string]string{
			"user_id": "user-1",
			"cart":    `[{"slug":"sac-tubulaire-blanc","quantity":1}]`,
		},
		ShippingCost: &stripe.CheckoutSessionShippingCost{
			ShippingRate: &stripe.ShippingRate{ID: "shr_relay"},
		},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Name:  "Jean Test",
			Email: "jean@example.com",
			Address: &stripe.Address{
				Line1:      "1 rue du Test",
				City:       "Lyon",
				PostalCode: "69000",
				Country:    "FR",
			},
		},
	}
	raw, err := json.Marshal(sess)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   eventID,
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func defaultLineItems() []*stripe.LineItem {
	return []*stripe.LineItem{
		{
			Description: "Sac tubulaire blanc",
			Quantity:    1,
			Price:       &stripe.Price{UnitAmount: 6600},
		},
	}
}

func TestHandleEventCreatesOrder(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 1)
	h.gateway.lineItems = defaultLineItems()

	err := h.service.HandleEvent(context.Background(), completedSessionEvent(t, "evt_1", "cs_test_1"))
	require.NoError(t, err)

	order, err := h.orders.FindBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, "72", order.Total.String())
	assert.False(t, order.NeedsReview)
	require.NotNil(t, order.DeliveryMethod)
	assert.Equal(t, "mondial_relay", *order.DeliveryMethod)
	require.NotNil(t, order.BillingEmail)
	assert.Equal(t, "jean@example.com", *order.BillingEmail)

	require.Len(t, order.Items, 1)
	assert.Equal(t, "Sac tubulaire blanc", order.Items[0].Name)
	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, "66", order.Items[0].Price.String())
	require.NotNil(t, order.Items[0].ProductID)

	product, err := h.catalog.FindBySlug(context.Background(), "sac-tubulaire-blanc")
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock)

	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, "owner@example.com", h.mail.sent[0])
}

func TestHandleEventRedeliveryIsIdempotent(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 5)
	h.gateway.lineItems = defaultLineItems()

	require.NoError(t, h.service.HandleEvent(context.Background(), completedSessionEvent(t, "evt_1", "cs_test_1")))
	// Redelivery arrives with a fresh event id but the same session.
	require.NoError(t, h.service.HandleEvent(context.Background(), completedSessionEvent(t, "evt_2", "cs_test_1")))

	var count int64
	require.NoError(t, h.db.Table("orders").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Stock decremented exactly once.
	product, err := h.catalog.FindBySlug(context.Background(), "sac-tubulaire-blanc")
	require.NoError(t, err)
	assert.Equal(t, 4, product.Stock)

	assert.Len(t, h.mail.sent, 1)
}

func TestHandleEventSameEventIDShortCircuits(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 5)
	h.gateway.lineItems = defaultLineItems()

	event := completedSessionEvent(t, "evt_1", "cs_test_1")
	require.NoError(t, h.service.HandleEvent(context.Background(), event))
	require.NoError(t, h.service.HandleEvent(context.Background(), event))

	var count int64
	require.NoError(t, h.db.Table("orders").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// racingRepo never sees an existing order, the way two deliveries racing
// through the pre-check at the same time would not.
type racingRepo struct {
	orders.Repository
}

func (r *racingRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func TestHandleEventRacingRedeliveryCreatesOneOrder(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 5)
	h.gateway.lineItems = defaultLineItems()

	guard, err := NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	require.NoError(t, err)

	service, err := NewService(ServiceParams{
		OrdersRepo:        &racingRepo{Repository: h.orders},
		CatalogRepo:       h.catalog,
		Gateway:           h.gateway,
		TransactionRunner: &testTxRunner{db: h.db},
		Guard:             guard,
		Mail:              h.mail,
		Shop: config.ShopConfig{
			OwnerEmail: "owner@example.com",
			AdminURL:   "http://localhost:3000/admin",
		},
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)

	require.NoError(t, service.HandleEvent(context.Background(), completedSessionEvent(t, "evt_1", "cs_test_1")))
	// The second delivery slips past the pre-check; its insert must land on
	// the unique index and be treated as success.
	require.NoError(t, service.HandleEvent(context.Background(), completedSessionEvent(t, "evt_2", "cs_test_1")))

	var count int64
	require.NoError(t, h.db.Table("orders").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The losing transaction rolled its decrement back.
	product, err := h.catalog.FindBySlug(context.Background(), "sac-tubulaire-blanc")
	require.NoError(t, err)
	assert.Equal(t, 4, product.Stock)
}

func TestHandleEventMissingUserIDFlagsOrder(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 5)
	h.gateway.lineItems = defaultLineItems()

	sess := &stripe.CheckoutSession{
		ID:             "cs_test_1",
		AmountTotal:    7200,
		AmountSubtotal: 6600,
		Metadata: map[string]string{
			"cart": `[{"slug":"sac-tubulaire-blanc","quantity":1}]`,
		},
		ShippingCost: &stripe.CheckoutSessionShippingCost{
			ShippingRate: &stripe.ShippingRate{ID: "shr_relay"},
		},
	}
	raw, err := json.Marshal(sess)
	require.NoError(t, err)
	event := &stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}

	require.NoError(t, h.service.HandleEvent(context.Background(), event))

	order, err := h.orders.FindBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Empty(t, order.UserID)
	assert.True(t, order.NeedsReview)
}

func TestHandleEventOversellFlagsOrder(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 0)
	h.gateway.lineItems = defaultLineItems()

	err := h.service.HandleEvent(context.Background(), completedSessionEvent(t, "evt_1", "cs_test_1"))
	require.NoError(t, err)

	order, err := h.orders.FindBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.True(t, order.NeedsReview)
	require.Len(t, order.Items, 1)

	// Stock stays at zero, never negative.
	product, findErr := h.catalog.FindBySlug(context.Background(), "sac-tubulaire-blanc")
	require.NoError(t, findErr)
	assert.Equal(t, 0, product.Stock)
}

func TestHandleEventDeletedProductFlagsOrder(t *testing.T) {
	h := newWebhookHarness(t)
	h.gateway.lineItems = defaultLineItems()

	err := h.service.HandleEvent(context.Background(), completedSessionEvent(t, "evt_1", "cs_test_1"))
	require.NoError(t, err)

	order, findErr := h.orders.FindBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, findErr)
	assert.True(t, order.NeedsReview)
	assert.Nil(t, order.Items[0].ProductID)
}

func TestHandleEventMissingShippingRateSkips(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 5)
	h.gateway.lineItems = defaultLineItems()

	sess := &stripe.CheckoutSession{
		ID:       "cs_test_1",
		Metadata: map[string]string{"user_id": "user-1"},
	}
	raw, err := json.Marshal(sess)
	require.NoError(t, err)
	event := &stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}

	require.NoError(t, h.service.HandleEvent(context.Background(), event))

	var count int64
	require.NoError(t, h.db.Table("orders").Count(&count).Error)
	assert.Zero(t, count)
}

func TestHandleEventIgnoresOtherEventTypes(t *testing.T) {
	h := newWebhookHarness(t)

	event := &stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventTypeInvoicePaid,
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}
	require.NoError(t, h.service.HandleEvent(context.Background(), event))

	var count int64
	require.NoError(t, h.db.Table("orders").Count(&count).Error)
	assert.Zero(t, count)
}

func TestHandleEventFailureReleasesReplayMarker(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 1)
	h.gateway.lineItems = defaultLineItems()
	h.gateway.lineItemsErr = fmt.Errorf("stripe unreachable")

	event := completedSessionEvent(t, "evt_1", "cs_test_1")
	require.Error(t, h.service.HandleEvent(context.Background(), event))

	// The gateway redelivers the same event id once the outage clears; the
	// marker must not block it.
	h.gateway.lineItemsErr = nil
	require.NoError(t, h.service.HandleEvent(context.Background(), event))

	order, err := h.orders.FindBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.False(t, order.NeedsReview)
}

func TestHandleEventOwnerMailFailureIsSwallowed(t *testing.T) {
	h := newWebhookHarness(t)
	seedProduct(t, h.db, "sac-tubulaire-blanc", 1)
	h.gateway.lineItems = defaultLineItems()
	h.mail.err = fmt.Errorf("smtp down")

	err := h.service.HandleEvent(context.Background(), completedSessionEvent(t, "evt_1", "cs_test_1"))
	require.NoError(t, err)

	_, err = h.orders.FindBySessionID(context.Background(), "cs_test_1")
	assert.NoError(t, err)
}
