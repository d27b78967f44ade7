package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vidorahq/vidora-billing/api/controllers"
	invoicecontrollers "github.com/vidorahq/vidora-billing/api/controllers/invoices"
	methodcontrollers "github.com/vidorahq/vidora-billing/api/controllers/methods"
	paymentcontrollers "github.com/vidorahq/vidora-billing/api/controllers/payments"
	plancontrollers "github.com/vidorahq/vidora-billing/api/controllers/plans"
	refundcontrollers "github.com/vidorahq/vidora-billing/api/controllers/refunds"
	subscriptioncontrollers "github.com/vidorahq/vidora-billing/api/controllers/subscriptions"
	webhookcontrollers "github.com/vidorahq/vidora-billing/api/controllers/webhooks"
	"github.com/vidorahq/vidora-billing/api/middleware"
	"github.com/vidorahq/vidora-billing/internal/catalog"
	"github.com/vidorahq/vidora-billing/internal/gateway"
	invoicesvc "github.com/vidorahq/vidora-billing/internal/invoices"
	methodsvc "github.com/vidorahq/vidora-billing/internal/methods"
	paysvc "github.com/vidorahq/vidora-billing/internal/payments"
	refsvc "github.com/vidorahq/vidora-billing/internal/refunds"
	subsvc "github.com/vidorahq/vidora-billing/internal/subscriptions"
	whsvc "github.com/vidorahq/vidora-billing/internal/webhooks"
	"github.com/vidorahq/vidora-billing/pkg/config"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	gatewayRouter *gateway.Router,
	paymentsService paysvc.Service,
	methodsService methodsvc.Service,
	catalogService catalog.Service,
	subscriptionsService subsvc.Service,
	subscriptionStats *subsvc.Stats,
	refundsService refsvc.Service,
	invoicesService invoicesvc.Service,
	webhookProcessor whsvc.Processor,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.Stripe(webhookProcessor, logg))
		r.Post("/paypal", webhookcontrollers.PayPal(webhookProcessor, logg))
		r.Post("/alipay", webhookcontrollers.Alipay(webhookProcessor, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", paymentcontrollers.List(paymentsService, logg))
			r.Post("/", paymentcontrollers.Create(paymentsService, logg))
			r.Get("/{paymentID}", paymentcontrollers.Get(paymentsService, logg))
			r.Post("/{paymentID}/confirm", paymentcontrollers.Confirm(paymentsService, logg))
			r.Post("/{paymentID}/invoice", invoicecontrollers.Issue(invoicesService, logg))
		})

		r.Route("/payment-methods", func(r chi.Router) {
			r.Get("/", methodcontrollers.List(methodsService, logg))
			r.Post("/", methodcontrollers.Attach(methodsService, logg))
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", plancontrollers.List(catalogService, logg))
			r.With(middleware.RequireRole(enums.StaffRoleAdmin, logg)).
				Post("/", plancontrollers.Create(catalogService, logg))
			r.With(middleware.RequireRole(enums.StaffRoleAdmin, logg)).
				Patch("/{planID}/status", plancontrollers.SetStatus(catalogService, logg))
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subscriptioncontrollers.Create(subscriptionsService, logg))
			r.Get("/current", subscriptioncontrollers.Current(subscriptionsService, logg))
			r.Post("/{subscriptionID}/cancel", subscriptioncontrollers.Cancel(subscriptionsService, logg))
			r.Post("/{subscriptionID}/renew", subscriptioncontrollers.Renew(subscriptionsService, logg))
			r.Patch("/{subscriptionID}", subscriptioncontrollers.Update(subscriptionsService, logg))
		})

		r.Route("/refund-requests", func(r chi.Router) {
			r.Get("/", refundcontrollers.List(refundsService, logg))
			r.Post("/", refundcontrollers.Create(refundsService, logg))
			r.Get("/{requestID}", refundcontrollers.Get(refundsService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRefundApprover(logg))
				r.Post("/{requestID}/first-approve", refundcontrollers.FirstApprove(refundsService, logg))
				r.Post("/{requestID}/second-approve", refundcontrollers.SecondApprove(refundsService, logg))
				r.Post("/{requestID}/reject", refundcontrollers.Reject(refundsService, logg))
			})
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/{invoiceID}", invoicecontrollers.Get(invoicesService, logg))
			r.Get("/{invoiceID}/download", invoicecontrollers.Download(invoicesService, logg))
		})

		r.Get("/stats/mrr", subscriptioncontrollers.MRRStats(subscriptionStats, logg))
		r.Get("/gateway/providers", controllers.GatewayProviders(cfg, gatewayRouter, logg))
	})

	return r
}
