package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamallette/boutique-backend/api/middleware"
	checkoutsvc "github.com/lamallette/boutique-backend/internal/checkout"
	pkgerrors "github.com/lamallette/boutique-backend/pkg/errors"
)

type fakeCheckoutService struct {
	lines    []checkoutsvc.CartLine
	identity checkoutsvc.Identity
	err      error
}

func (f *fakeCheckoutService) Execute(ctx context.Context, identity checkoutsvc.Identity, lines []checkoutsvc.CartLine) (*checkoutsvc.Redirect, error) {
	f.identity = identity
	f.lines = lines
	if f.err != nil {
		return nil, f.err
	}
	return &checkoutsvc.Redirect{URL: "https://checkout.stripe.com/pay/cs_test_1"}, nil
}

func postCheckout(handler http.HandlerFunc, body string, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		ctx := middleware.WithUserID(req.Context(), userID)
		ctx = middleware.WithEmail(ctx, userID+"@example.com")
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCheckoutReturnsRedirectURL(t *testing.T) {
	service := &fakeCheckoutService{}
	handler := Checkout(service, nil)

	body := `{"items":[{"slug":"sac-tubulaire-blanc","name":"Sac tubulaire blanc","price":72,"quantity":1}]}`
	rec := postCheckout(handler, body, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://checkout.stripe.com/pay/cs_test_1")
	assert.Equal(t, "user-1", service.identity.UserID)
	assert.Equal(t, "user-1@example.com", service.identity.Email)
	require.Len(t, service.lines, 1)
	assert.Equal(t, "sac-tubulaire-blanc", service.lines[0].Slug)
}

func TestCheckoutRequiresAuthentication(t *testing.T) {
	handler := Checkout(&fakeCheckoutService{}, nil)

	body := `{"items":[{"slug":"s","name":"n","quantity":1}]}`
	rec := postCheckout(handler, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	handler := Checkout(&fakeCheckoutService{}, nil)

	rec := postCheckout(handler, `{"items":[]}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutRejectsUnknownFields(t *testing.T) {
	handler := Checkout(&fakeCheckoutService{}, nil)

	rec := postCheckout(handler, `{"items":[{"slug":"s","name":"n","quantity":1}],"coupon":"X"}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutSurfacesUnavailableProduct(t *testing.T) {
	service := &fakeCheckoutService{
		err: pkgerrors.New(pkgerrors.CodeUnavailable, "product unavailable").
			WithDetails(map[string]any{"slug": "sac-tubulaire-blanc"}),
	}
	handler := Checkout(service, nil)

	body := `{"items":[{"slug":"sac-tubulaire-blanc","name":"Sac","quantity":1}]}`
	rec := postCheckout(handler, body, "user-1")

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "sac-tubulaire-blanc")
}
