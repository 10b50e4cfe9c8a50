package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/vendorhub-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/vendorhub-backend/api/controllers/cart"
	couponcontrollers "github.com/angelmondragon/vendorhub-backend/api/controllers/coupons"
	ledgercontrollers "github.com/angelmondragon/vendorhub-backend/api/controllers/ledger"
	ordercontrollers "github.com/angelmondragon/vendorhub-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/vendorhub-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/vendorhub-backend/api/controllers/webhooks"
	"github.com/angelmondragon/vendorhub-backend/api/middleware"
	"github.com/angelmondragon/vendorhub-backend/internal/cart"
	"github.com/angelmondragon/vendorhub-backend/internal/coupons"
	"github.com/angelmondragon/vendorhub-backend/internal/ledger"
	"github.com/angelmondragon/vendorhub-backend/internal/orders"
	"github.com/angelmondragon/vendorhub-backend/internal/webhooks"
	"github.com/angelmondragon/vendorhub-backend/pkg/config"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/vendorhub-backend/pkg/redis"
)

// Store backs idempotent replays and rate limiting; *redis.Client satisfies it.
type Store interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, error)
	RateLimitKey(parts ...string) string
}

// Deps is everything the HTTP surface needs. Nil services answer with an internal error.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        controllers.Pinger
	Store        Store
	Carts        cart.Service
	Checkout     ordercontrollers.CheckoutFactory
	Orders       orders.Service
	Payments     paymentcontrollers.Reconciler
	Webhooks     webhookcontrollers.WebhookHandler
	WebhookGuard *webhooks.Guard
	Ledger       ledger.Service
	Coupons      coupons.Service
	Metrics      http.Handler
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotent = middleware.Idempotency(d.Store, logg)
		paymentsRL = middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "payments",
			Window: cfg.RateLimit.Window,
			Limit:  cfg.RateLimit.PaymentsLimit,
		}, d.Store, logg)
		checkoutRL = middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "checkout",
			Window: cfg.RateLimit.Window,
			Limit:  cfg.RateLimit.CheckoutLimit,
		}, d.Store, logg)
		webhooksRL = middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "webhooks",
			Window: cfg.RateLimit.Window,
			Limit:  cfg.RateLimit.WebhooksLimit,
		}, d.Store, logg)
		withdrawalRL = middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "withdrawals",
			Window: cfg.RateLimit.Window,
			Limit:  cfg.RateLimit.WithdrawalLimit,
		}, d.Store, logg)
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    d.DB,
			"redis": d.Redis,
		}))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	var guard webhookcontrollers.DeliveryGuard
	if d.WebhookGuard != nil {
		guard = d.WebhookGuard
	}
	r.With(webhooksRL).Post("/api/v1/webhooks/{gateway}", webhookcontrollers.Gateway(d.Webhooks, guard, webhooks.DeliveryID, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleBuyer))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartcontrollers.Get(d.Carts, logg))
				r.Delete("/", cartcontrollers.Clear(d.Carts, logg))
				r.Post("/items", cartcontrollers.AddItem(d.Carts, logg))
				r.Patch("/items/{productId}", cartcontrollers.UpdateItem(d.Carts, logg))
				r.Delete("/items/{productId}", cartcontrollers.RemoveItem(d.Carts, logg))
				r.Post("/coupon", cartcontrollers.ApplyCoupon(d.Carts, logg))
				r.Delete("/coupon", cartcontrollers.RemoveCoupon(d.Carts, logg))
			})

			r.With(checkoutRL, idempotent).Post("/checkout", ordercontrollers.Checkout(d.Checkout, logg))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordercontrollers.List(d.Orders, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(d.Orders, logg))
				r.With(idempotent).Post("/{orderId}/cancel", ordercontrollers.Cancel(d.Orders, logg))

				r.Route("/{orderId}/payments", func(r chi.Router) {
					r.Use(paymentsRL)
					r.With(idempotent).Post("/", paymentcontrollers.Initiate(d.Payments, logg))
					r.Post("/verify", paymentcontrollers.Verify(d.Payments, logg))
					r.Post("/sync", paymentcontrollers.Sync(d.Payments, logg))
					r.Post("/failure", paymentcontrollers.ReportFailure(d.Payments, logg))
				})
			})
		})

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleSeller))

			r.Get("/order-items", ordercontrollers.SellerItems(d.Orders, logg))
			r.Patch("/order-items/{itemId}", ordercontrollers.UpdateItemStatus(d.Orders, logg))
			r.With(idempotent).Post("/order-items/{itemId}/cancel", ordercontrollers.CancelItem(d.Orders, logg))

			r.Get("/bank-details", ledgercontrollers.GetBankDetails(d.Ledger, logg))
			r.Put("/bank-details", ledgercontrollers.PutBankDetails(d.Ledger, logg))
			r.Get("/ledger", ledgercontrollers.History(d.Ledger, logg))
			r.Get("/withdrawals", ledgercontrollers.ListWithdrawals(d.Ledger, logg))
			r.With(withdrawalRL, idempotent).Post("/withdrawals", ledgercontrollers.RequestWithdrawal(d.Ledger, logg))
			r.Post("/withdrawals/{withdrawalId}/cancel", ledgercontrollers.CancelWithdrawal(d.Ledger, logg))

			r.Get("/coupons", couponcontrollers.List(d.Coupons, logg))
			r.With(idempotent).Post("/coupons", couponcontrollers.Create(d.Coupons, logg))
			r.Post("/coupons/{couponId}/deactivate", couponcontrollers.Deactivate(d.Coupons, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))

		r.Route("/withdrawals", func(r chi.Router) {
			r.Get("/", ledgercontrollers.ListWithdrawals(d.Ledger, logg))
			r.With(idempotent).Post("/{withdrawalId}/approve", ledgercontrollers.ApproveWithdrawal(d.Ledger, logg))
			r.With(idempotent).Post("/{withdrawalId}/reject", ledgercontrollers.RejectWithdrawal(d.Ledger, logg))
			r.With(idempotent).Post("/{withdrawalId}/complete", ledgercontrollers.CompleteWithdrawal(d.Ledger, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/{orderId}", ordercontrollers.Detail(d.Orders, logg))
			r.With(idempotent).Post("/{orderId}/cancel", ordercontrollers.Cancel(d.Orders, logg))
			r.Post("/{orderId}/sync", paymentcontrollers.Sync(d.Payments, logg))
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Get("/", couponcontrollers.List(d.Coupons, logg))
			r.With(idempotent).Post("/", couponcontrollers.Create(d.Coupons, logg))
			r.Post("/{couponId}/deactivate", couponcontrollers.Deactivate(d.Coupons, logg))
		})
	})

	return r
}
