package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwire-backend/internal/blob"
	"chatwire-backend/internal/config"
	"chatwire-backend/internal/delivery"
	"chatwire-backend/internal/httpserver"
	"chatwire-backend/internal/logging"
	"chatwire-backend/internal/pairtoken"
	"chatwire-backend/internal/presence"
	"chatwire-backend/internal/rooms"
	"chatwire-backend/internal/storage"
	"chatwire-backend/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("log init error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Info("starting", "httpAddr", cfg.HTTPAddr, "database", storage.RedactedDatabaseURL(cfg.DatabaseURL))

	store, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	codec, err := pairtoken.New(cfg.SecretKey)
	if err != nil {
		logger.Error("bad secret key", "error", err)
		os.Exit(1)
	}

	registry := presence.NewRegistry()
	router := rooms.NewRouter(logger)
	stateMachine := delivery.NewStateMachine(store, router, logger)
	blobClient := blob.New(cfg.BlobBotToken, cfg.BlobChatID, logger)
	if blobClient.Enabled() {
		logger.Info("blob sink enabled")
	} else {
		logger.Info("blob sink disabled, uploads stay on local disk", "uploadDir", cfg.UploadDir)
	}

	auth := httpserver.NewAuthenticator(store, registry)
	wsManager := ws.NewManager(logger, auth, router, registry, stateMachine, store)
	handler := httpserver.NewHandler(logger, store, registry, codec, blobClient, stateMachine, wsManager, httpserver.HandlerOptions{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logging.StdLogger(logger),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("listening", "httpAddr", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}

	wsManager.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	if err := store.Close(); err != nil {
		logger.Error("db close error", "error", err)
	}

	logger.Info("stopped")
}
