package api

import (
	"github.com/craftsphere/wallet-ledger/internal/api/handler"
	"github.com/craftsphere/wallet-ledger/internal/api/middleware"
	"github.com/craftsphere/wallet-ledger/internal/api/spec"
	"github.com/craftsphere/wallet-ledger/internal/config"
	"github.com/craftsphere/wallet-ledger/internal/idempotency"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/craftsphere/wallet-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Router assembles the HTTP surface from its dependencies.
type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	repo      *repository.Repository
	idemStore *idempotency.Store
	redis     redis.Cmdable

	ledger    *service.LedgerService
	transfers *service.TransferService
	payouts   *service.PayoutService
	webhooks  *service.WebhookService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	repo *repository.Repository,
	idemStore *idempotency.Store,
	redisClient redis.Cmdable,
	ledger *service.LedgerService,
	transfers *service.TransferService,
	payouts *service.PayoutService,
	webhooks *service.WebhookService,
) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		repo:      repo,
		idemStore: idemStore,
		redis:     redisClient,
		ledger:    ledger,
		transfers: transfers,
		payouts:   payouts,
		webhooks:  webhooks,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	walletHandler := handler.NewWalletHandler(api.repo, api.ledger, api.payouts)
	transferHandler := handler.NewTransferHandler(api.repo, api.transfers, api.cfg.PlatformWalletID)
	webhookHandler := handler.NewWebhookHandler(api.webhooks)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Operational endpoints
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Webhooks authenticate via HMAC signature, not JWT.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/orders", webhookHandler.Orders)
		r.Post("/v1/webhooks/payouts", webhookHandler.Payouts)
	})

	// Authenticated wallet surface
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Post("/v1/wallets", walletHandler.Create)
		r.Get("/v1/wallets/me", walletHandler.Me)
		r.Get("/v1/wallets/me/transactions", walletHandler.Transactions)
		r.Get("/v1/wallets/me/reconciliation", walletHandler.Reconcile)
		r.Get("/v1/transfers/{id}", transferHandler.Get)

		idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)
		r.With(idem).Post("/v1/wallets/me/deposits", walletHandler.Deposit)
		r.With(idem).Post("/v1/wallets/me/withdrawals", walletHandler.Withdraw)
		r.With(idem).Post("/v1/transfers", transferHandler.Create)
		r.With(idem).Post("/v1/purchases/spotlight", transferHandler.PurchaseSpotlight)
	})

	return r
}
