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

	"inveni/internal/api"
	"inveni/internal/config"
	"inveni/internal/events"
	"inveni/internal/logging"
	"inveni/internal/middleware"
	"inveni/internal/storage"
	"inveni/internal/vault"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	base, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	logger, err := base.WithAudit(cfg.AuditLogPath(), cfg.Username)
	if err != nil {
		base.Fatal("failed to open audit log", zap.Error(err))
	}
	defer logger.Close()

	db, err := storage.Open(cfg.JournalDir, logger.Named("badger"))
	if err != nil {
		logger.Fatal("failed to open journal database", zap.Error(err))
	}
	defer db.Close()

	bus := events.NewBus()
	bus.Subscribe(func(ev events.Event) {
		switch e := ev.(type) {
		case events.FileChanged:
			logger.Info("file changed", zap.String("path", e.Path), zap.Bool("closed", e.Closed))
		case events.VersionCommitted:
			logger.Info("version committed",
				zap.String("path", e.Path),
				zap.String("hash", e.Hash),
				zap.Strings("evicted", e.Evicted),
			)
		}
	}, events.KindFileChanged, events.KindVersionCommitted)

	v, err := vault.New(vault.Env{
		Config:   cfg,
		Username: cfg.Username,
		Logger:   logger.Logger,
		Bus:      bus,
	}, vault.Options{DB: db})
	if err != nil {
		logger.Fatal("failed to create vault", zap.Error(err))
	}
	if err := v.Start(); err != nil {
		logger.Fatal("failed to start change detector", zap.Error(err))
	}
	defer v.Stop()

	mux := http.NewServeMux()
	api.NewHandler(v, logger).Routes(mux)

	handler := middleware.Chain(
		mux,
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
		middleware.LocalOnly,
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server",
			zap.String("address", srv.Addr),
			zap.String("backup_root", cfg.BackupRoot),
			zap.Int("max_backups", cfg.MaxBackups),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
