package stripe

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/shippingrate"
	"github.com/stripe/stripe-go/v84/webhook"
)

// Gateway exposes the subset of payment-provider operations the order
// pipeline needs. Consumers declare their own narrow interfaces over it so
// tests can substitute fakes.
type Gateway struct {
	client *Client
}

// NewGateway wraps an initialized Stripe client.
func NewGateway(client *Client) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("stripe client is required")
	}
	return &Gateway{client: client}, nil
}

// CreateCheckoutSession opens a hosted payment page and returns the session,
// including the redirect URL.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params != nil {
		params.Context = ctx
	}
	return session.New(params)
}

// ListShippingRates returns the active shipping-rate catalog.
func (g *Gateway) ListShippingRates(ctx context.Context) ([]*stripe.ShippingRate, error) {
	params := &stripe.ShippingRateListParams{
		Active: stripe.Bool(true),
	}
	params.Context = ctx

	var rates []*stripe.ShippingRate
	iter := shippingrate.List(params)
	for iter.Next() {
		rates = append(rates, iter.ShippingRate())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return rates, nil
}

// GetShippingRate retrieves a single shipping rate by id.
func (g *Gateway) GetShippingRate(ctx context.Context, id string) (*stripe.ShippingRate, error) {
	params := &stripe.ShippingRateParams{}
	params.Context = ctx
	return shippingrate.Get(id, params)
}

// SessionLineItems pulls the line items recorded against a completed session.
// The webhook payload itself only carries the session id and metadata.
func (g *Gateway) SessionLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx

	var items []*stripe.LineItem
	iter := session.ListLineItems(params)
	for iter.Next() {
		items = append(items, iter.LineItem())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// VerifyEvent authenticates a raw webhook payload against the signing secret.
func (g *Gateway) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, g.client.SigningSecret())
}
