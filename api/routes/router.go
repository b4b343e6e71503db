package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lamallette/boutique-backend/api/controllers"
	webhookcontrollers "github.com/lamallette/boutique-backend/api/controllers/webhooks"
	"github.com/lamallette/boutique-backend/api/middleware"
	checkoutsvc "github.com/lamallette/boutique-backend/internal/checkout"
	"github.com/lamallette/boutique-backend/internal/orders"
	stripewebhook "github.com/lamallette/boutique-backend/internal/webhooks/stripe"
	"github.com/lamallette/boutique-backend/pkg/config"
	"github.com/lamallette/boutique-backend/pkg/logger"
	pkgstripe "github.com/lamallette/boutique-backend/pkg/stripe"
)

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DBPinger      controllers.Pinger
	RedisPinger   controllers.Pinger
	Checkout      checkoutsvc.Service
	Orders        orders.Service
	StripeWebhook *stripewebhook.Service
	StripeGateway *pkgstripe.Gateway
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.DBPinger, deps.RedisPinger, logg))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The webhook route stays outside the auth group; Stripe authenticates
	// with its signature, not a bearer token.
	r.Post("/webhook", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeGateway, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/checkout", controllers.Checkout(deps.Checkout, logg))
		r.Get("/orders", controllers.ListOrders(deps.Orders, logg))
		r.Get("/order-by-session-id", controllers.OrderBySession(deps.Orders, logg))
		r.Route("/order", func(r chi.Router) {
			r.Get("/{id}", controllers.OrderByID(deps.Orders, logg))
			r.Patch("/{id}/status", controllers.UpdateOrderStatus(deps.Orders, logg))
			r.Post("/{sessionID}/relay", controllers.AssignRelay(deps.Orders, logg))
		})
	})

	return r
}
