package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opensky/core"
	"opensky/gateway/middleware"
	"opensky/storage/index"
)

// Handlers bundles the dependencies shared by every route.
type Handlers struct {
	node   *core.Node
	index  *index.Index
	logger *slog.Logger
}

// Config wires the router.
type Config struct {
	Node          *core.Node
	Index         *index.Index
	Hub           *Hub
	Logger        *slog.Logger
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// Rate limit keys per route group.
const (
	RateLimitPool    = "pool"
	RateLimitAuction = "auction"
	RateLimitBespoke = "bespoke"
	RateLimitAdmin   = "admin"
)

// Admin routes require this token scope when auth is enabled.
const ScopeAdmin = "opensky.admin"

// New assembles the HTTP surface of the ledger.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{node: cfg.Node, index: cfg.Index, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	if cfg.Hub != nil {
		r.Handle("/ws/events", cfg.Hub)
	}

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return passthrough
		}
		return cfg.RateLimiter.Middleware(key)
	}
	authed := func(scopes ...string) func(http.Handler) http.Handler {
		if cfg.Authenticator == nil {
			return passthrough
		}
		return cfg.Authenticator.Middleware(scopes...)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/pool", func(sr chi.Router) {
			sr.Use(limit(RateLimitPool))
			sr.Use(authed())
			sr.Get("/reserves", h.handleListReserves)
			sr.Get("/reserves/{id}", h.handleGetReserve)
			sr.Get("/reserves/{id}/rate", h.handleRatePreview)
			sr.Get("/reserves/{id}/balance/{address}", h.handleDepositValue)
			sr.Post("/reserves/{id}/deposit", h.handleDeposit)
			sr.Post("/reserves/{id}/withdraw", h.handleWithdraw)
			sr.Post("/loans", h.handleBorrow)
			sr.Get("/loans/{id}", h.handleGetLoan)
			sr.Post("/loans/{id}/repay", h.handleRepay)
			sr.Post("/loans/{id}/extend", h.handleExtend)
			sr.Post("/loans/{id}/transfer", h.handleTransferLoan)
			sr.Post("/loans/{id}/liquidation/start", h.handleStartLiquidation)
			sr.Post("/loans/{id}/liquidation/end", h.handleEndLiquidation)
		})

		v1.Route("/auctions", func(sr chi.Router) {
			sr.Use(limit(RateLimitAuction))
			sr.Use(authed())
			sr.Post("/", h.handleCreateAuction)
			sr.Get("/{id}", h.handleGetAuction)
			sr.Get("/{id}/price", h.handleAuctionPrice)
			sr.Post("/{id}/buy", h.handleBuyAuction)
			sr.Post("/{id}/cancel", h.handleCancelAuction)
		})

		v1.Route("/bespoke", func(sr chi.Router) {
			sr.Use(limit(RateLimitBespoke))
			sr.Use(authed())
			sr.Post("/offers/take", h.handleTakeOffer)
			sr.Post("/offers/cancel", h.handleCancelOffers)
			sr.Post("/offers/cancel-all", h.handleCancelAllOffers)
			sr.Get("/loans/{id}", h.handleGetBespokeLoan)
			sr.Post("/loans/{id}/repay", h.handleBespokeRepay)
			sr.Post("/loans/{id}/forclose", h.handleForclose)
		})

		v1.Route("/admin", func(sr chi.Router) {
			sr.Use(limit(RateLimitAdmin))
			sr.Use(authed(ScopeAdmin))
			sr.Post("/reserves", h.handleCreateReserve)
			sr.Post("/reserves/{id}/treasury-factor", h.handleSetTreasuryFactor)
			sr.Post("/reserves/{id}/treasury-withdraw", h.handleWithdrawTreasury)
			sr.Post("/reserves/{id}/money-market", h.handleMoneyMarket)
			sr.Post("/collateral", h.handleSetCollateral)
			sr.Post("/collateral/{address}/remove", h.handleRemoveCollateral)
			sr.Post("/pause", h.handlePause)
			sr.Post("/roles", h.handleGrantRole)
			sr.Post("/oracle/price", h.handleSetOraclePrice)
			sr.Post("/faucet", h.handleFaucet)
			sr.Post("/money-market/yield", h.handleAccrueYield)
		})

		v1.Get("/accounts/{address}/balance", h.handleAccountBalance)
		v1.Get("/events", h.handleListEvents)
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
