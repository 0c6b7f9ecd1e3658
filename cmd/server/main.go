// Package main is the entry point for the Realmkin staking settlement API
// server. It wires the payment verifier, ledger, and settlement executor
// together and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/api"
	"github.com/EM-ade/realmkin-backend-sub000/internal/chain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/EM-ade/realmkin-backend-sub000/internal/notifier"
	"github.com/EM-ade/realmkin-backend-sub000/internal/repository"
	"github.com/EM-ade/realmkin-backend-sub000/internal/service"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	_ = godotenv.Load() // .env is optional; real deployments use the environment

	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting realmkin staking server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Chain client + custody wallet ──────────────────────────────────────
	rpcClient := chain.NewRPCClient(cfg.Chain.RPCURL, logger)

	wallet, err := chain.LoadCustodyWallet(cfg.Chain.CustodyPrivateKey)
	if err != nil {
		logger.Error("custody wallet load failed", "err", err)
		os.Exit(1)
	}
	logger.Info("custody wallet loaded", "address", wallet.Address())

	// ── 5. Repositories ───────────────────────────────────────────────────────
	ledgerRepo := repository.NewLedgerRepository(db)
	opRepo := repository.NewOperationRepository(db)

	// ── 6. Notifier ───────────────────────────────────────────────────────────
	var alerts notifier.Notifier = notifier.Noop{}
	if cfg.Alert.WebhookURL != "" {
		alerts = notifier.NewWebhook(cfg.Alert.WebhookURL, cfg.Alert.Timeout, logger)
		logger.Info("operator alerts enabled")
	}

	// ── 7. Services ───────────────────────────────────────────────────────────
	priceSvc := service.NewPriceService(cfg, logger)
	boosterSvc := service.NewBoosterService(service.NoHoldingsResolver{}, cfg.Booster.StalenessBound, logger)
	verifier := service.NewPaymentVerifier(rpcClient, opRepo, wallet.Address(), cfg, logger)
	ledger := service.NewLedger(db, ledgerRepo, opRepo, logger)
	settlement := service.NewSettlementExecutor(rpcClient, wallet, opRepo, alerts, cfg, logger)

	stakingSvc := service.NewStakingService(
		verifier, priceSvc, boosterSvc, ledger, settlement, ledgerRepo, opRepo, logger)

	// ── 8. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 9. HTTP router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		StakingSvc: stakingSvc,
		Cfg:        cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 10. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 11. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	// Drain must outlast a claim mid-confirmation.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Chain.ConfirmTimeout+10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially. Idempotent: SQL files use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
