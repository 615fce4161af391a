package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/api"
	"github.com/btcpayserver/shopify-bridge/internal/checkout"
	"github.com/btcpayserver/shopify-bridge/internal/config"
	"github.com/btcpayserver/shopify-bridge/internal/events"
	"github.com/btcpayserver/shopify-bridge/internal/keylock"
	"github.com/btcpayserver/shopify-bridge/internal/notify"
	"github.com/btcpayserver/shopify-bridge/internal/payouts"
	"github.com/btcpayserver/shopify-bridge/internal/platform"
	"github.com/btcpayserver/shopify-bridge/internal/rates"
	"github.com/btcpayserver/shopify-bridge/internal/reconciliation"
	"github.com/btcpayserver/shopify-bridge/internal/refund"
	"github.com/btcpayserver/shopify-bridge/internal/repository"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load configuration", zap.Error(err))
	}

	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		logger.Fatal("init database", zap.Error(err), zap.String("path", cfg.DBPath))
	}
	defer db.Close()

	invoiceRepo := repository.NewInvoiceRepo(db)
	refundRepo := repository.NewRefundRepo(db)

	locks := keylock.New()
	client := platform.NewHTTPClient(cfg.PlatformAPI, cfg.AccessToken, logger)

	if cfg.PaymentAPI == "" {
		logger.Warn("payment API not configured, refund settlement will fail until it is")
	}
	rateSource := rates.NewCached(
		rates.NewHTTPSource(cfg.PaymentAPI, cfg.PaymentAPIKey), 32, time.Minute)
	payoutClient := payouts.NewHTTPClient(cfg.PaymentAPI, cfg.PaymentAPIKey)
	notifier := notify.NewLogNotifier(logger)

	checkoutSvc := checkout.NewService(locks, client, invoiceRepo, cfg.ShopURL, logger)
	reconSvc := reconciliation.NewService(locks, client, invoiceRepo, logger)
	refundSvc := refund.NewService(locks, client, invoiceRepo, refundRepo,
		rateSource, payoutClient, notifier, refund.Options{
			Mode:          refund.Mode(cfg.RefundMode),
			SpreadPercent: cfg.SpreadPercent,
			PayoutMethods: cfg.PayoutMethods,
			ClaimBaseURL:  cfg.PublicURL + "/pull-payments",
		}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(cfg.EventBuffer, logger)
	go bus.Run(ctx, reconSvc.HandleInvoiceEvent)

	router := api.NewRouter(cfg.WebhookSecret, cfg.PublicURL,
		checkoutSvc, refundSvc, bus, invoiceRepo, refundRepo, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
