package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapcredits/zapcredits-backend/api/controllers"
	webhookcontrollers "github.com/zapcredits/zapcredits-backend/api/controllers/webhooks"
	"github.com/zapcredits/zapcredits-backend/api/middleware"
	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	"github.com/zapcredits/zapcredits-backend/pkg/config"
	"github.com/zapcredits/zapcredits-backend/pkg/db"
	"github.com/zapcredits/zapcredits-backend/pkg/idempotency"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
	"github.com/zapcredits/zapcredits-backend/pkg/redis"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          redis.Pinger
	Ledger         ledger.Service
	Deposits       controllers.DepositService
	Purchases      controllers.PurchaseService
	Canceller      controllers.ActivationCanceller
	Settler        webhookcontrollers.PaymentSettler
	WebhookSigner  webhookcontrollers.SigningClient
	WebhookGuard   *idempotency.Guard
	MetricsGath    prometheus.Gatherer
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

	if deps.MetricsGath != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.MetricsGath, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/pixintegra", webhookcontrollers.PixIntegraWebhook(deps.Settler, deps.WebhookSigner, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1/accounts/{accountKey}", func(r chi.Router) {
		r.Get("/balance", controllers.AccountBalance(deps.Ledger, logg))
		r.Get("/transactions", controllers.AccountTransactions(deps.Ledger, logg))
		r.Get("/orders", controllers.AccountOrders(deps.Purchases, logg))
		r.Post("/deposits", controllers.CreateDeposit(deps.Deposits, logg))
		r.Get("/purchases/sms/quote", controllers.QuoteSMS(deps.Purchases, logg))
		r.Post("/purchases/sms", controllers.PurchaseSMS(deps.Purchases, logg))
		r.Post("/purchases/followers", controllers.PurchaseFollowers(deps.Purchases, logg))
	})

	r.Delete("/api/v1/orders/{orderID}", controllers.CancelActivation(deps.Canceller, logg))

	return r
}
