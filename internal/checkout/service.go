package checkout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lamallette/boutique-backend/pkg/config"
	"github.com/lamallette/boutique-backend/pkg/db/models"
	pkgerrors "github.com/lamallette/boutique-backend/pkg/errors"
	"github.com/lamallette/boutique-backend/pkg/logger"
)

// MetadataCartKey is the session metadata key holding the serialized cart.
// The completed-session webhook only carries the session id and metadata, so
// the slugs needed to decrement stock travel through here.
const (
	MetadataCartKey   = "cart"
	MetadataUserIDKey = "user_id"
)

type productFinder interface {
	FindBySlug(ctx context.Context, slug string) (*models.Product, error)
}

type paymentGateway interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	ListShippingRates(ctx context.Context) ([]*stripe.ShippingRate, error)
}

// Identity is the authenticated buyer.
type Identity struct {
	UserID string
	Email  string
}

// CartLine is a client-supplied cart entry. Every field is revalidated
// against the catalog before anything is sent to the payment gateway.
type CartLine struct {
	Slug     string
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// Redirect carries the hosted payment page URL.
type Redirect struct {
	URL string `json:"url"`
}

// MetaLine is the persisted-in-metadata shape of a cart line.
type MetaLine struct {
	Slug     string `json:"slug"`
	Quantity int    `json:"quantity"`
}

// Service orchestrates checkout session creation.
type Service interface {
	Execute(ctx context.Context, identity Identity, lines []CartLine) (*Redirect, error)
}

type ServiceParams struct {
	Products productFinder
	Gateway  paymentGateway
	Shop     config.ShopConfig
	Logger   *logger.Logger
}

type service struct {
	products productFinder
	gateway  paymentGateway
	shop     config.ShopConfig
	logg     *logger.Logger
}

// NewService builds the checkout orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Products == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "product finder required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		products: params.Products,
		gateway:  params.Gateway,
		shop:     params.Shop,
		logg:     params.Logger,
	}, nil
}

func (s *service) Execute(ctx context.Context, identity Identity, lines []CartLine) (*Redirect, error) {
	if identity.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity required")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}

	// Advisory availability check. Nothing is reserved here; stock only
	// becomes authoritative when the payment-completed event lands.
	products := make([]*models.Product, len(lines))
	for i, line := range lines {
		product, err := s.validateLine(ctx, line)
		if err != nil {
			return nil, err
		}
		products[i] = product
	}

	rates, err := s.gateway.ListShippingRates(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing shipping rates")
	}

	params, err := s.buildSessionParams(identity, lines, products, rates)
	if err != nil {
		return nil, err
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating checkout session")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"session_id": sess.ID,
		"user_id":    identity.UserID,
		"lines":      len(lines),
	}), "checkout session created")

	return &Redirect{URL: sess.URL}, nil
}

func (s *service) validateLine(ctx context.Context, line CartLine) (*models.Product, error) {
	if line.Slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart line missing slug")
	}
	if line.Quantity < 1 {
		return nil, unavailable(line.Slug, "invalid quantity")
	}

	product, err := s.products.FindBySlug(ctx, line.Slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unavailable(line.Slug, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	if product.Hidden {
		return nil, unavailable(line.Slug, "product not available")
	}
	if product.Stock < line.Quantity {
		return nil, unavailable(line.Slug, "insufficient stock")
	}
	return product, nil
}

func (s *service) buildSessionParams(identity Identity, lines []CartLine, products []*models.Product, rates []*stripe.ShippingRate) (*stripe.CheckoutSessionParams, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, len(lines))
	metaLines := make([]MetaLine, len(lines))
	for i, line := range lines {
		product := products[i]
		item := &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.shop.Currency),
				UnitAmount: stripe.Int64(toCents(product.Price)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(product.Name),
				},
			},
			Quantity: stripe.Int64(int64(line.Quantity)),
		}
		if product.ImageURL != nil && *product.ImageURL != "" {
			item.PriceData.ProductData.Images = stripe.StringSlice([]string{*product.ImageURL})
		}
		lineItems[i] = item
		metaLines[i] = MetaLine{Slug: line.Slug, Quantity: line.Quantity}
	}

	cartJSON, err := json.Marshal(metaLines)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "serializing cart metadata")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:     lineItems,
		CustomerEmail: stripe.String(identity.Email),
		SuccessURL:    stripe.String(s.shop.SuccessURL()),
		CancelURL:     stripe.String(s.shop.CancelURL()),
	}
	params.AddMetadata(MetadataUserIDKey, identity.UserID)
	params.AddMetadata(MetadataCartKey, string(cartJSON))

	// Every active rate is offered; the buyer picks one on the hosted page.
	for _, rate := range rates {
		params.ShippingOptions = append(params.ShippingOptions, &stripe.CheckoutSessionShippingOptionParams{
			ShippingRate: stripe.String(rate.ID),
		})
	}

	return params, nil
}

func unavailable(slug, reason string) error {
	return pkgerrors.New(pkgerrors.CodeUnavailable, "product unavailable").
		WithDetails(map[string]any{"slug": slug, "reason": reason})
}

func toCents(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
