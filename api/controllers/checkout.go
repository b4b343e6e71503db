package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/lamallette/boutique-backend/api/middleware"
	"github.com/lamallette/boutique-backend/api/responses"
	"github.com/lamallette/boutique-backend/api/validators"
	checkoutsvc "github.com/lamallette/boutique-backend/internal/checkout"
	pkgerrors "github.com/lamallette/boutique-backend/pkg/errors"
	"github.com/lamallette/boutique-backend/pkg/logger"
)

type checkoutRequest struct {
	Items []checkoutItem `json:"items" validate:"required,min=1,dive"`
}

type checkoutItem struct {
	Slug     string          `json:"slug" validate:"required"`
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"required,min=1"`
}

// Checkout turns the submitted cart into a hosted payment page redirect.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		identity := checkoutsvc.Identity{
			UserID: middleware.UserIDFromContext(r.Context()),
			Email:  middleware.EmailFromContext(r.Context()),
		}
		if identity.UserID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]checkoutsvc.CartLine, len(payload.Items))
		for i, item := range payload.Items {
			lines[i] = checkoutsvc.CartLine{
				Slug:     item.Slug,
				Name:     item.Name,
				Price:    item.Price,
				Quantity: item.Quantity,
			}
		}

		redirect, err := svc.Execute(r.Context(), identity, lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, redirect)
	}
}
