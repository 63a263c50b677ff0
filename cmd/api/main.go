package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/punchamoorthee/stkledger/internal/api"
	"github.com/punchamoorthee/stkledger/internal/config"
	"github.com/punchamoorthee/stkledger/internal/daraja"
	"github.com/punchamoorthee/stkledger/internal/notify"
	"github.com/punchamoorthee/stkledger/internal/service"
	"github.com/punchamoorthee/stkledger/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if missing := cfg.Validate(); len(missing) > 0 {
		logger.Warn("gateway settings missing, payments will fail until set", slog.String("missing", strings.Join(missing, ",")))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, closeLedger, err := store.Open(ctx, cfg.LedgerOptions(), logger)
	if err != nil {
		logger.Error("failed to open ledger", slog.String("backend", cfg.LedgerBackend), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeLedger()
	logger.Info("ledger ready", slog.String("backend", cfg.LedgerBackend))

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.MailEnabled() {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			User:      cfg.SMTPUser,
			Password:  cfg.SMTPPass,
			Sender:    cfg.SMTPSender,
			Recipient: cfg.NotifyEmail,
		}, logger)
	}

	ids, err := service.NewIDGenerator(1)
	if err != nil {
		logger.Error("failed to create id generator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	gateway := daraja.NewClient(daraja.Config{
		BaseURL:         cfg.MpesaBaseURL,
		ConsumerKey:     cfg.ConsumerKey,
		ConsumerSecret:  cfg.ConsumerSecret,
		Timeout:         cfg.HTTPTimeout,
		TokenMaxRetries: cfg.TokenMaxRetries,
	}, logger)

	initiator := service.NewInitiator(gateway, ledger, service.PaymentConfig{
		ShortCode:      cfg.ShortCode,
		PassKey:        cfg.PassKey,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		CallbackURL:    cfg.CallbackURL,
		Location:       cfg.Location,
	}, ids, logger)
	reconciler := service.NewReconciler(ledger, ledger, ids, notifier, logger)
	payments := api.NewHandler(initiator, reconciler, service.NewQuery(ledger), logger)

	var catalogHandler *api.CatalogHandler
	if cfg.DBSource != "" {
		catalog, err := store.OpenCatalog(cfg.DBSource)
		if err != nil {
			logger.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer catalog.Close()
		catalogHandler = api.NewCatalogHandler(catalog, notifier, logger)
		logger.Info("connected to database")
	} else {
		logger.Info("DB_SOURCE not set, service and booking routes disabled")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(payments, catalogHandler, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("port", cfg.Port), slog.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
}
