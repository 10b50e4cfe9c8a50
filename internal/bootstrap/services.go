package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/vendorhub-backend/internal/address"
	"github.com/angelmondragon/vendorhub-backend/internal/cart"
	"github.com/angelmondragon/vendorhub-backend/internal/coupons"
	"github.com/angelmondragon/vendorhub-backend/internal/ledger"
	"github.com/angelmondragon/vendorhub-backend/internal/orders"
	"github.com/angelmondragon/vendorhub-backend/internal/payments"
	product "github.com/angelmondragon/vendorhub-backend/internal/products"
	"github.com/angelmondragon/vendorhub-backend/internal/reconciliation"
	"github.com/angelmondragon/vendorhub-backend/pkg/config"
	"github.com/angelmondragon/vendorhub-backend/pkg/db"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/locks"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/metrics"
	"github.com/angelmondragon/vendorhub-backend/pkg/outbox"
	"github.com/angelmondragon/vendorhub-backend/pkg/razorpay"
	"github.com/angelmondragon/vendorhub-backend/pkg/redis"
	"github.com/angelmondragon/vendorhub-backend/pkg/security"
	"github.com/angelmondragon/vendorhub-backend/pkg/square"
	"github.com/angelmondragon/vendorhub-backend/pkg/stripe"
)

// Services holds the domain graph shared by the api and cron-worker binaries.
type Services struct {
	Outbox         *outbox.Service
	OutboxRepo     *outbox.Repository
	Gateways       *payments.Registry
	Carts          cart.Service
	Checkout       *orders.Factory
	Orders         orders.Service
	Reconciliation *reconciliation.Controller
	Ledger         ledger.Service
	Coupons        coupons.Service
}

// Params are the process-level clients the graph is built on.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
}

// Build wires repositories, gateways and services in dependency order.
func Build(ctx context.Context, p Params) (*Services, error) {
	cfg, logg := p.Config, p.Logger
	if cfg == nil || logg == nil || p.DB == nil {
		return nil, fmt.Errorf("config, logger and db are required")
	}
	conn := p.DB.DB()

	locker, err := newLocker(cfg, p.Redis, logg)
	if err != nil {
		return nil, err
	}

	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)

	reg := p.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gateways, err := newGatewayRegistry(ctx, cfg, logg, metrics.NewGatewayMetrics(reg))
	if err != nil {
		return nil, err
	}

	sealer, err := security.NewSealer(cfg.Ledger.BankDetailsKey)
	if err != nil {
		return nil, err
	}
	commission, err := cfg.Ledger.Commission()
	if err != nil {
		return nil, err
	}

	var (
		cartRepo    = cart.NewRepository(conn)
		couponRepo  = coupons.NewRepository(conn)
		productRepo = product.NewRepository(conn)
		addressRepo = address.NewRepository(conn)
		orderRepo   = orders.NewRepository(conn)
		paymentRepo = payments.NewRepository(conn)
		evaluator   = coupons.NewEvaluator(couponRepo, logg)
		pricer      = cart.NewPricer(productRepo, couponRepo, evaluator)
	)

	cartSvc, err := cart.NewService(cartRepo, pricer, productRepo, evaluator, locker, logg)
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}

	couponSvc, err := coupons.NewService(couponRepo, logg)
	if err != nil {
		return nil, fmt.Errorf("coupon service: %w", err)
	}

	ledgerSvc, err := ledger.NewService(ledger.Options{
		Repo:             ledger.NewRepository(conn),
		Tx:               p.DB,
		Locker:           locker,
		Outbox:           outboxSvc,
		Sealer:           sealer,
		Commission:       commission,
		PayoutCutoffHour: cfg.Ledger.PayoutCutoffHourUTC,
		Logger:           logg,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	factory, err := orders.NewFactory(orders.FactoryOptions{
		Repo:      orderRepo,
		Carts:     cartRepo,
		Pricer:    pricer,
		Products:  productRepo,
		Coupons:   couponRepo,
		Addresses: addressRepo,
		Methods:   gateways,
		AllowCOD:  cfg.Payments.AllowCOD,
		Tx:        p.DB,
		Locker:    locker,
		Outbox:    outboxSvc,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout factory: %w", err)
	}

	controller, err := reconciliation.NewController(reconciliation.Options{
		Orders:   orderRepo,
		Payments: paymentRepo,
		Gateways: gateways,
		Credits:  ledgerSvc,
		Tx:       p.DB,
		Locker:   locker,
		Outbox:   outboxSvc,
		Currency: cfg.Payments.Currency,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation controller: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceOptions{
		Repo:     orderRepo,
		Payments: paymentRepo,
		Products: productRepo,
		Credits:  ledgerSvc,
		Tx:       p.DB,
		Locker:   locker,
		Outbox:   outboxSvc,
		Logger:   logg,
		Syncer:   controller,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	return &Services{
		Outbox:         outboxSvc,
		OutboxRepo:     outboxRepo,
		Gateways:       gateways,
		Carts:          cartSvc,
		Checkout:       factory,
		Orders:         orderSvc,
		Reconciliation: controller,
		Ledger:         ledgerSvc,
		Coupons:        couponSvc,
	}, nil
}

// newLocker prefers Redis so replicas serialize on the same keys; sqlite dev runs are single
// process and use the in-memory locker.
func newLocker(cfg *config.Config, client *redis.Client, logg *logger.Logger) (locks.Locker, error) {
	if cfg.FeatureFlags.UseSQLite || client == nil {
		return locks.NewLocalLocker(cfg.Locks.Wait), nil
	}
	locker, err := locks.NewRedisLocker(client, cfg.Locks.TTL, cfg.Locks.Wait, logg)
	if err != nil {
		return nil, fmt.Errorf("redis locker: %w", err)
	}
	return locker, nil
}

func newGatewayRegistry(ctx context.Context, cfg *config.Config, logg *logger.Logger, m *metrics.GatewayMetrics) (*payments.Registry, error) {
	var gateways []payments.Gateway

	if cfg.Razorpay.Enabled() {
		api, err := razorpay.NewClient(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret,
			razorpay.WithBaseURL(cfg.Razorpay.BaseURL),
			razorpay.WithWebhookSecret(cfg.Razorpay.WebhookSecret),
		)
		if err != nil {
			return nil, fmt.Errorf("razorpay client: %w", err)
		}
		gw, err := payments.NewSignatureGateway(enums.PaymentMethodRazorpay, api, "")
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}

	if cfg.UPI.Enabled() {
		api, err := razorpay.NewClient(cfg.UPI.KeyID, cfg.UPI.KeySecret,
			razorpay.WithBaseURL(cfg.UPI.BaseURL),
			razorpay.WithWebhookSecret(cfg.UPI.WebhookSecret),
		)
		if err != nil {
			return nil, fmt.Errorf("upi client: %w", err)
		}
		gw, err := payments.NewSignatureGateway(enums.PaymentMethodUPI, api, cfg.UPI.PayeeVPA)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}

	if cfg.Stripe.APIKey != "" {
		api, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		gw, err := payments.NewStripeGateway(api)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}

	if cfg.Square.AccessToken != "" {
		api, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		gw, err := payments.NewSquareGateway(api)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}

	if len(gateways) == 0 {
		logg.Warn(ctx, "no online payment gateway configured; only cash on delivery is available")
	}
	return payments.NewRegistry(m, cfg.Payments.GatewayTimeout, gateways...)
}
