package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amara-dev/wallet-backend/internal/config"
	"github.com/amara-dev/wallet-backend/internal/handler"
	"github.com/amara-dev/wallet-backend/internal/logging"
	"github.com/amara-dev/wallet-backend/internal/middleware"
	"github.com/amara-dev/wallet-backend/internal/notify"
	"github.com/amara-dev/wallet-backend/internal/repository"
	"github.com/amara-dev/wallet-backend/internal/service"
	"github.com/amara-dev/wallet-backend/internal/service/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("wallet-api", cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	cancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	users := repository.NewUserRepository(db)
	accounts := repository.NewAccountRepository(db)
	transactions := repository.NewTransactionRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	hub := notify.NewHub()
	defer hub.Close()

	wallet := service.NewWalletService(users, accounts, transactions, db)
	transfers := transfer.NewService(users, accounts, transactions, hub, db)

	jwtExpiry := time.Duration(cfg.JWTExpiryH) * time.Hour
	authHandler := handler.NewAuthHandler(users, wallet, cfg.JWTSecret, jwtExpiry)
	transferHandler := handler.NewTransferHandler(transfers)
	dashboardHandler := handler.NewDashboardHandler(wallet)
	wsHandler := handler.NewWSHandler(hub, cfg.JWTSecret)
	healthHandler := handler.NewHealthHandler(db)

	public := func(h http.HandlerFunc) http.Handler {
		return middleware.Tracing(middleware.Logging(middleware.Recovery(h)))
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return middleware.Tracing(middleware.Auth(cfg.JWTSecret)(middleware.Logging(middleware.Recovery(h))))
	}
	idempotent := func(h http.HandlerFunc) http.Handler {
		return middleware.Tracing(middleware.Auth(cfg.JWTSecret)(middleware.Logging(middleware.Recovery(
			middleware.Idempotency(idempotency)(h),
		))))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health/live", public(healthHandler.Liveness))
	mux.Handle("GET /health/ready", public(healthHandler.Readiness))

	mux.Handle("POST /api/v1/auth/register", public(authHandler.Register))
	mux.Handle("POST /api/v1/auth/login", public(authHandler.Login))

	mux.Handle("POST /api/v1/transfers", idempotent(transferHandler.Create))
	mux.Handle("POST /api/v1/deposits", idempotent(transferHandler.Deposit))
	mux.Handle("POST /api/v1/withdrawals", idempotent(transferHandler.Withdraw))

	mux.Handle("GET /api/v1/dashboard", protected(dashboardHandler.Snapshot))
	mux.Handle("GET /api/v1/dashboard/chart", protected(dashboardHandler.Chart))

	// The websocket route authenticates itself and holds connections
	// open, so it skips the logging middleware's status recorder.
	mux.Handle("GET /api/v1/ws", middleware.Tracing(middleware.Recovery(http.HandlerFunc(wsHandler.Serve))))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
