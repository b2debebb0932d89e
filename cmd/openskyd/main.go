package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"opensky/config"
	"opensky/core"
	"opensky/core/events"
	"opensky/crypto"
	"opensky/gateway/middleware"
	"opensky/gateway/routes"
	"opensky/native/bespoke"
	nativecommon "opensky/native/common"
	"opensky/native/pool"
	"opensky/observability/logging"
	"opensky/observability/metrics"
	oskyotel "opensky/observability/otel"
	"opensky/storage"
	"opensky/storage/index"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OPENSKY_ENV"))
	logger := logging.Setup("openskyd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := oskyotel.Init(ctx, oskyotel.Config{
		ServiceName: "openskyd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Traces:      cfg.Telemetry.Enabled,
		Metrics:     false,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	node := core.NewNode(db, core.NodeConfig{
		PoolParams: pool.PoolParams{
			TreasuryAddress:   crypto.MustDecodeAddress(cfg.Pool.TreasuryAddress),
			PoolAddress:       crypto.MustDecodeAddress(cfg.Pool.PoolAddress),
			PrepaymentFeeBps:  cfg.Pool.PrepaymentFeeBps,
			OverdueLoanFeeBps: cfg.Pool.OverdueLoanFeeBps,
			BorrowLimitBps:    cfg.Pool.BorrowLimitBps,
		},
		BespokeParams: bespoke.Params{
			ChainID:           cfg.ChainID,
			EscrowAddress:     crypto.MustDecodeAddress(cfg.Bespoke.EscrowAddress),
			OverdueDuration:   cfg.Bespoke.OverdueDuration,
			OverdueLoanFeeBps: cfg.Bespoke.OverdueLoanFeeBps,
			Currencies:        cfg.Bespoke.Currencies,
		},
		AuctionEscrow:  crypto.MustDecodeAddress(cfg.Auction.EscrowAddress),
		UseMoneyMarket: cfg.Pool.UseMoneyMarket,
	})
	defer node.Close()

	for _, raw := range cfg.GovernanceAddresses {
		node.Roles().Grant(nativecommon.RoleGovernance, crypto.MustDecodeAddress(raw))
	}
	for _, raw := range cfg.LiquidationOperators {
		node.Roles().Grant(nativecommon.RoleLiquidationOperator, crypto.MustDecodeAddress(raw))
	}

	auditIndex, err := index.Open(cfg.IndexPath)
	if err != nil {
		logger.Error("failed to open event index", slog.Any("error", err))
		os.Exit(1)
	}

	hub := routes.NewHub()
	node.SetEmitter(events.NewMultiEmitter(auditIndex, hub, metrics.Ledger()))

	observability := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "openskyd",
		LogRequests: cfg.LogRequests,
		Enabled:     true,
	}, logger)

	authenticator := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, logger)

	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		routes.RateLimitPool:    {RequestsPerMinute: 600, Burst: 30},
		routes.RateLimitAuction: {RequestsPerMinute: 600, Burst: 30},
		routes.RateLimitBespoke: {RequestsPerMinute: 300, Burst: 20},
		routes.RateLimitAdmin:   {RequestsPerMinute: 120, Burst: 10},
	}, logger)

	handler := routes.New(routes.Config{
		Node:          node,
		Index:         auditIndex,
		Hub:           hub,
		Logger:        logger,
		Authenticator: authenticator,
		RateLimiter:   limiter,
		Observability: observability,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "address", cfg.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
