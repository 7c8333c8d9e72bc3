package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/divuzki/cartlogs-backend/api/controllers"
	webhookcontrollers "github.com/divuzki/cartlogs-backend/api/controllers/webhooks"
	"github.com/divuzki/cartlogs-backend/api/middleware"
	"github.com/divuzki/cartlogs-backend/internal/funding"
	"github.com/divuzki/cartlogs-backend/internal/gateways"
	"github.com/divuzki/cartlogs-backend/internal/inventory"
	"github.com/divuzki/cartlogs-backend/internal/notify"
	"github.com/divuzki/cartlogs-backend/internal/orders"
	"github.com/divuzki/cartlogs-backend/internal/reconcile"
	"github.com/divuzki/cartlogs-backend/pkg/config"
	"github.com/divuzki/cartlogs-backend/pkg/db"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
	"github.com/divuzki/cartlogs-backend/pkg/metrics"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    db.Pinger
	Gatherer prometheus.Gatherer

	Adapters       []gateways.Adapter
	Reconcile      reconcile.Service
	Notifier       notify.Notifier
	WebhookMetrics *metrics.WebhookMetrics

	Funding   funding.Service
	Orders    orders.Service
	Inventory inventory.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		for _, adapter := range deps.Adapters {
			r.Post("/"+adapter.Gateway().String(),
				webhookcontrollers.PaymentWebhook(adapter, deps.Reconcile, deps.Notifier, deps.WebhookMetrics, logg))
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AccountContext(logg))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletFetch(deps.Funding, logg))
			r.Get("/transactions", controllers.WalletTransactions(deps.Funding, logg))
			r.Post("/fund", controllers.WalletFund(deps.Funding, logg))
			r.Post("/fund/manual", controllers.WalletFundManual(deps.Funding, logg))
			r.Post("/fund/manual/confirm", controllers.WalletFundManualConfirm(deps.Funding, logg))
		})

		r.Get("/marketplace", controllers.MarketplaceList(deps.Inventory, logg))

		r.Post("/checkout", controllers.Checkout(deps.Orders, logg))
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(deps.Orders, logg))
			r.Get("/{orderNumber}", controllers.OrderDetail(deps.Orders, deps.Inventory, logg))
			r.Post("/{orderNumber}/confirm", controllers.OrderConfirm(deps.Orders, logg))
			r.Post("/{orderNumber}/cancel", controllers.OrderCancel(deps.Orders, logg))
		})
	})

	return r
}
