package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/auth"
	"github.com/safar/checkout-core/internal/cart"
	"github.com/safar/checkout-core/internal/config"
	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/httpapi"
	"github.com/safar/checkout-core/internal/identity"
	"github.com/safar/checkout-core/internal/inventory"
	"github.com/safar/checkout-core/internal/logging"
	"github.com/safar/checkout-core/internal/metrics"
	"github.com/safar/checkout-core/internal/ordering"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	m := metrics.New()
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	orders, err := ordering.NewService(ordering.Deps{
		DB: db,
		Provisioner: identity.NewProvisioner(identity.ProvisionerDeps{
			Logger:     logger.Named("identity"),
			BcryptCost: cfg.Auth.BcryptCost,
		}),
		Ledger:             inventory.NewLedger(logger.Named("inventory")),
		Tokens:             tokens,
		Metrics:            m,
		Logger:             logger.Named("ordering"),
		TxTimeout:          cfg.Order.TxTimeout,
		MaxRetries:         cfg.Order.MaxRetries,
		DefaultCountryCode: cfg.Order.DefaultCountryCode,
	})
	if err != nil {
		logger.Fatal("build order service", zap.Error(err))
	}

	policy, err := cart.ParseRemainderPolicy(cfg.Cart.MergeRemainder)
	if err != nil {
		logger.Fatal("parse cart remainder policy", zap.Error(err))
	}

	carts := cart.NewService(db, logger.Named("cart"))
	reconciler := cart.NewReconciler(cart.ReconcilerDeps{
		Cart:    carts,
		Policy:  policy,
		Metrics: m,
		Logger:  logger.Named("cart"),
	})

	verifier := identity.NewVerifier(db)
	router := httpapi.NewRouter(httpapi.Deps{
		Orders:             orders,
		Cart:               carts,
		Merger:             reconciler,
		Login:              verifier,
		Tokens:             tokens,
		Accounts:           verifier,
		DB:                 db,
		Metrics:            m,
		Logger:             logger.Named("http"),
		DefaultCountryCode: cfg.Order.DefaultCountryCode,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
