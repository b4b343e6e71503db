package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lamallette/boutique-backend/internal/catalog"
	"github.com/lamallette/boutique-backend/internal/checkout"
	"github.com/lamallette/boutique-backend/internal/mailer"
	"github.com/lamallette/boutique-backend/internal/orders"
	"github.com/lamallette/boutique-backend/pkg/config"
	"github.com/lamallette/boutique-backend/pkg/db"
	"github.com/lamallette/boutique-backend/pkg/db/models"
	"github.com/lamallette/boutique-backend/pkg/enums"
	pkgerrors "github.com/lamallette/boutique-backend/pkg/errors"
	"github.com/lamallette/boutique-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sessionGateway interface {
	SessionLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error)
	GetShippingRate(ctx context.Context, id string) (*stripe.ShippingRate, error)
}

type replayGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type mailDispatcher interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type ServiceParams struct {
	OrdersRepo        orders.Repository
	CatalogRepo       catalog.Repository
	Gateway           sessionGateway
	TransactionRunner txRunner
	Guard             replayGuard
	Mail              mailDispatcher
	Shop              config.ShopConfig
	Logger            *logger.Logger
}

// Service turns completed-checkout events into persisted orders. Every path
// through HandleEvent must be safely repeatable: the gateway delivers events
// at least once.
type Service struct {
	ordersRepo  orders.Repository
	catalogRepo catalog.Repository
	gateway     sessionGateway
	txRunner    txRunner
	guard       replayGuard
	mail        mailDispatcher
	shop        config.ShopConfig
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.OrdersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.CatalogRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog repo required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "replay guard required")
	}
	if params.Mail == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mail dispatcher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		ordersRepo:  params.OrdersRepo,
		catalogRepo: params.CatalogRepo,
		gateway:     params.Gateway,
		txRunner:    params.TransactionRunner,
		guard:       params.Guard,
		mail:        params.Mail,
		shop:        params.Shop,
		logg:        params.Logger,
	}, nil
}

// HandleEvent processes one verified webhook delivery. Only completed
// checkout sessions trigger work; everything else is acknowledged untouched.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
	}
	if sess.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id missing from event")
	}

	ctx = s.logg.WithSessionID(ctx, sess.ID)

	// Best-effort replay marker. A guard failure is logged and ignored; the
	// unique index on stripe_session_id still prevents duplicates.
	seen, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "idempotency guard unavailable, proceeding")
	} else if seen {
		s.logg.Info(ctx, "event already processed, skipping")
		return nil
	}

	if err := s.processSession(ctx, &sess); err != nil {
		// Release the marker so the gateway's redelivery gets another shot.
		if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", delErr.Error()), "failed to release idempotency marker")
		}
		return err
	}
	return nil
}

func (s *Service) processSession(ctx context.Context, sess *stripe.CheckoutSession) error {
	if existing, err := s.ordersRepo.FindBySessionID(ctx, sess.ID); err == nil && existing != nil {
		s.logg.Info(ctx, "order already exists for session, skipping")
		return nil
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking existing order")
	}

	method, ok := s.resolveDeliveryMethod(ctx, sess)
	if !ok {
		// An order cannot exist without a shipping selection. Acknowledge
		// and leave the event alone.
		s.logg.Warn(ctx, "session completed without shipping rate, skipping order creation")
		return nil
	}

	lineItems, err := s.gateway.SessionLineItems(ctx, sess.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing session line items")
	}

	cartLines, err := parseCartMetadata(sess.Metadata)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing cart metadata")
	}

	order, err := s.materializeOrder(ctx, sess, method, lineItems, cartLines)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_orders_stripe_session_id") {
			// Concurrent redelivery won the race. The order exists, which is
			// all this handler promises.
			s.logg.Info(ctx, "concurrent delivery already created order")
			return nil
		}
		return err
	}

	s.notifyOwner(ctx, order)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID,
		"needs_review": order.NeedsReview,
	}), "order created from completed session")
	return nil
}

// materializeOrder decrements stock and inserts the order with its items in
// one transaction, so stock and orders cannot drift apart.
func (s *Service) materializeOrder(
	ctx context.Context,
	sess *stripe.CheckoutSession,
	method enums.DeliveryMethod,
	lineItems []*stripe.LineItem,
	cartLines []checkout.MetaLine,
) (*models.Order, error) {
	order := buildOrder(sess, method)
	if order.UserID == "" {
		// No buyer identity to attach the order to; it can never be queried
		// or relay-assigned through the API, so an operator reconciles it.
		s.logg.Warn(ctx, "session metadata missing user id, flagging order for review")
		order.NeedsReview = true
	}

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		catalogRepo := s.catalogRepo.WithTx(tx)
		ordersRepo := s.ordersRepo.WithTx(tx)

		for i, item := range lineItems {
			var meta *checkout.MetaLine
			if i < len(cartLines) {
				meta = &cartLines[i]
			}
			orderItem, review, err := s.buildOrderItem(ctx, catalogRepo, item, meta)
			if err != nil {
				return err
			}
			if review {
				order.NeedsReview = true
			}
			order.Items = append(order.Items, *orderItem)
		}

		_, err := ordersRepo.Create(ctx, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// buildOrderItem freezes one purchased line and decrements its stock. The
// cart metadata line at the same position supplies the slug; gateway line
// items alone do not carry it. A failed decrement flags the order for manual
// review instead of failing the event.
func (s *Service) buildOrderItem(
	ctx context.Context,
	catalogRepo catalog.Repository,
	item *stripe.LineItem,
	meta *checkout.MetaLine,
) (*models.OrderItem, bool, error) {
	qty := int(item.Quantity)
	orderItem := &models.OrderItem{
		Name:     item.Description,
		Quantity: qty,
	}
	if item.Price != nil {
		orderItem.Price = fromCents(item.Price.UnitAmount)
	}

	if meta == nil || meta.Slug == "" {
		s.logg.Warn(s.logg.WithField(ctx, "item", item.Description), "line item has no cart metadata, stock untouched")
		return orderItem, true, nil
	}

	product, err := catalogRepo.FindBySlug(ctx, meta.Slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "slug", meta.Slug), "purchased product no longer exists")
			return orderItem, true, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading purchased product")
	}
	orderItem.ProductID = &product.ID
	orderItem.ImageURL = product.ImageURL

	decremented, err := catalogRepo.DecrementStock(ctx, meta.Slug, qty)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrementing stock")
	}
	if !decremented {
		// Oversold between checkout and payment. The payment already went
		// through, so the order is created anyway and flagged.
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"slug": meta.Slug,
			"qty":  qty,
		}), "stock decrement unsatisfied, flagging order for review")
		return orderItem, true, nil
	}
	return orderItem, false, nil
}

// resolveDeliveryMethod maps the shipping rate the buyer picked to a
// delivery-method code. Rate metadata wins; the display name is the fallback.
func (s *Service) resolveDeliveryMethod(ctx context.Context, sess *stripe.CheckoutSession) (enums.DeliveryMethod, bool) {
	if sess.ShippingCost == nil || sess.ShippingCost.ShippingRate == nil || sess.ShippingCost.ShippingRate.ID == "" {
		return "", false
	}

	rate, err := s.gateway.GetShippingRate(ctx, sess.ShippingCost.ShippingRate.ID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to retrieve shipping rate")
		return "", false
	}

	if code, ok := rate.Metadata["delivery_method"]; ok {
		switch enums.DeliveryMethod(code) {
		case enums.DeliveryMethodMondialRelay, enums.DeliveryMethodColissimo:
			return enums.DeliveryMethod(code), true
		}
	}

	name := strings.ToLower(rate.DisplayName)
	if strings.Contains(name, "relais") || strings.Contains(name, "relay") {
		return enums.DeliveryMethodMondialRelay, true
	}
	return enums.DeliveryMethodColissimo, true
}

// notifyOwner is fire-and-forget; a mail failure never fails the webhook.
func (s *Service) notifyOwner(ctx context.Context, order *models.Order) {
	email := mailer.OrderEmail{
		OrderID:      order.ID,
		SessionID:    order.StripeSessionID,
		Subtotal:     order.Subtotal,
		ShippingCost: order.ShippingCost,
		Taxes:        order.Taxes,
		Total:        order.Total,
		NeedsReview:  order.NeedsReview,
		AdminURL:     s.shop.AdminURL,
	}
	if order.BillingName != nil {
		email.CustomerName = *order.BillingName
	}
	if order.BillingEmail != nil {
		email.CustomerEmail = *order.BillingEmail
	}
	for _, item := range order.Items {
		email.Items = append(email.Items, mailer.OrderEmailItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}

	subject, body, err := mailer.RenderOwnerAlert(email)
	if err != nil {
		s.logg.Error(ctx, "rendering owner alert failed", err)
		return
	}
	if err := s.mail.Send(ctx, s.shop.OwnerEmail, subject, body); err != nil {
		s.logg.Error(ctx, "owner notification failed", err)
	}
}

func buildOrder(sess *stripe.CheckoutSession, method enums.DeliveryMethod) *models.Order {
	methodStr := string(method)
	order := &models.Order{
		StripeSessionID: sess.ID,
		UserID:          sess.Metadata[checkout.MetadataUserIDKey],
		Status:          enums.OrderStatusPending,
		Total:           fromCents(sess.AmountTotal),
		Subtotal:        fromCents(sess.AmountSubtotal),
		DeliveryMethod:  &methodStr,
	}
	if sess.TotalDetails != nil {
		order.ShippingCost = fromCents(sess.TotalDetails.AmountShipping)
		order.Taxes = fromCents(sess.TotalDetails.AmountTax)
	}
	if details := sess.CustomerDetails; details != nil {
		order.BillingName = optional(details.Name)
		order.BillingEmail = optional(details.Email)
		if addr := details.Address; addr != nil {
			order.BillingLine1 = optional(addr.Line1)
			order.BillingLine2 = optional(addr.Line2)
			order.BillingCity = optional(addr.City)
			order.BillingPostalCode = optional(addr.PostalCode)
			order.BillingCountry = optional(addr.Country)
		}
	}
	return order
}

func parseCartMetadata(metadata map[string]string) ([]checkout.MetaLine, error) {
	raw, ok := metadata[checkout.MetadataCartKey]
	if !ok || raw == "" {
		return nil, nil
	}
	var lines []checkout.MetaLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func fromCents(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
