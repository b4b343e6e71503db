package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lamallette/boutique-backend/api/middleware"
	"github.com/lamallette/boutique-backend/api/responses"
	"github.com/lamallette/boutique-backend/api/validators"
	ordersvc "github.com/lamallette/boutique-backend/internal/orders"
	"github.com/lamallette/boutique-backend/pkg/enums"
	pkgerrors "github.com/lamallette/boutique-backend/pkg/errors"
	"github.com/lamallette/boutique-backend/pkg/logger"
)

type assignRelayRequest struct {
	Relay relayPayload `json:"relay" validate:"required"`
}

// relayPayload mirrors the field names emitted by the storefront's
// pickup-point picker widget.
type relayPayload struct {
	ID       string `json:"ID" validate:"required"`
	Nom      string `json:"Nom" validate:"required"`
	Adresse1 string `json:"Adresse1"`
}

// AssignRelay attaches the chosen pickup point to the caller's order.
func AssignRelay(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		sessionID := chi.URLParam(r, "sessionID")
		userID := middleware.UserIDFromContext(r.Context())

		var payload assignRelayRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err := svc.AssignRelay(r.Context(), userID, sessionID, ordersvc.RelayPoint{
			ID:      payload.Relay.ID,
			Name:    payload.Relay.Nom,
			Address: payload.Relay.Adresse1,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"success": true})
	}
}

// OrderBySession fetches the caller's order for a checkout session.
func OrderBySession(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		sessionID := r.URL.Query().Get("session_id")
		userID := middleware.UserIDFromContext(r.Context())

		order, err := svc.GetBySessionID(r.Context(), userID, sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, order)
	}
}

// OrderByID fetches one of the caller's orders by numeric id.
func OrderByID(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}
		userID := middleware.UserIDFromContext(r.Context())

		order, svcErr := svc.GetByID(r.Context(), userID, uint(id))
		if svcErr != nil {
			responses.WriteError(r.Context(), logg, w, svcErr)
			return
		}

		responses.WriteSuccess(w, order)
	}
}

// ListOrders returns the caller's orders, most recent first.
func ListOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())

		list, err := svc.ListForUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, list)
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending shipped delivered cancelled"`
}

// UpdateOrderStatus applies an administrative status transition.
func UpdateOrderStatus(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.UpdateStatus(r.Context(), uint(id), enums.OrderStatus(payload.Status)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"success": true})
	}
}
