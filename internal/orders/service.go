package orders

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lamallette/boutique-backend/internal/mailer"
	"github.com/lamallette/boutique-backend/pkg/config"
	"github.com/lamallette/boutique-backend/pkg/db/models"
	"github.com/lamallette/boutique-backend/pkg/enums"
	pkgerrors "github.com/lamallette/boutique-backend/pkg/errors"
	"github.com/lamallette/boutique-backend/pkg/logger"
)

type mailDispatcher interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Service defines order-level operations beyond repository reads.
type Service interface {
	AssignRelay(ctx context.Context, userID, sessionID string, relay RelayPoint) error
	GetBySessionID(ctx context.Context, userID, sessionID string) (*OrderDTO, error)
	GetByID(ctx context.Context, userID string, id uint) (*OrderDTO, error)
	ListForUser(ctx context.Context, userID string) ([]OrderDTO, error)
	UpdateStatus(ctx context.Context, id uint, status enums.OrderStatus) error
}

type ServiceParams struct {
	Repo   Repository
	Mail   mailDispatcher
	Shop   config.ShopConfig
	Logger *logger.Logger
}

type service struct {
	repo Repository
	mail mailDispatcher
	shop config.ShopConfig
	logg *logger.Logger
}

// NewService builds the order service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Mail == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mail dispatcher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo: params.Repo,
		mail: params.Mail,
		shop: params.Shop,
		logg: params.Logger,
	}, nil
}

// AssignRelay attaches a pickup point to the caller's order and sends the
// confirmation email. The email is part of the contract here: the storefront
// shows success only once the customer has been told where their parcel goes,
// so a delivery failure propagates instead of being swallowed.
func (s *service) AssignRelay(ctx context.Context, userID, sessionID string, relay RelayPoint) error {
	if userID == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if relay.ID == "" || relay.Name == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "relay point incomplete")
	}

	rows, err := s.repo.AssignRelay(ctx, sessionID, userID, relay)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assigning relay point")
	}
	if rows == 0 {
		// Wrong session, wrong owner, or the webhook has not landed yet.
		// Retryable from the caller's point of view.
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	order, err := s.repo.FindBySessionAndUser(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reloading order")
	}

	if err := s.sendConfirmation(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sending order confirmation")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID,
		"session_id": sessionID,
		"relay_id":   relay.ID,
	}), "relay point assigned")
	return nil
}

func (s *service) GetBySessionID(ctx context.Context, userID, sessionID string) (*OrderDTO, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	order, err := s.repo.FindBySessionAndUser(ctx, sessionID, userID)
	if err != nil {
		return nil, notFoundOr(err, "loading order by session")
	}
	return toDTO(order), nil
}

func (s *service) GetByID(ctx context.Context, userID string, id uint) (*OrderDTO, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "loading order")
	}
	if order.UserID != userID {
		// Existence of other users' orders is not disclosed.
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return toDTO(order), nil
}

func (s *service) ListForUser(ctx context.Context, userID string) ([]OrderDTO, error) {
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	records, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing orders")
	}
	dtos := make([]OrderDTO, len(records))
	for i := range records {
		dtos[i] = *toDTO(&records[i])
	}
	return dtos, nil
}

// UpdateStatus applies an administrative status transition. Invalid moves in
// the status machine are rejected as conflicts.
func (s *service) UpdateStatus(ctx context.Context, id uint, status enums.OrderStatus) error {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return notFoundOr(err, "loading order")
	}
	if order.Status == status {
		return nil
	}
	if !order.Status.CanTransitionTo(status) {
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("cannot transition order from %s to %s", order.Status, status))
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating order status")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": id,
		"from":     order.Status,
		"to":       status,
	}), "order status updated")
	return nil
}

func (s *service) sendConfirmation(ctx context.Context, order *models.Order) error {
	email := mailer.OrderEmail{
		OrderID:      order.ID,
		SessionID:    order.StripeSessionID,
		Subtotal:     order.Subtotal,
		ShippingCost: order.ShippingCost,
		Taxes:        order.Taxes,
		Total:        order.Total,
		AdminURL:     s.shop.AdminURL,
	}
	if order.BillingName != nil {
		email.CustomerName = *order.BillingName
	}
	if order.BillingEmail != nil {
		email.CustomerEmail = *order.BillingEmail
	}
	if order.RelayName != nil {
		email.RelayName = *order.RelayName
	}
	if order.RelayAddress != nil {
		email.RelayAddress = *order.RelayAddress
	}
	for _, item := range order.Items {
		email.Items = append(email.Items, mailer.OrderEmailItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}

	if email.CustomerEmail == "" {
		return fmt.Errorf("order %d has no billing email", order.ID)
	}

	subject, body, err := mailer.RenderOrderConfirmation(email)
	if err != nil {
		return err
	}
	return s.mail.Send(ctx, email.CustomerEmail, subject, body)
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
