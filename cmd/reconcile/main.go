// Package main is the operator CLI for the failed-settlement recovery queue.
// It lists pending entries, re-executes a payout under operator control, or
// marks an entry resolved when the funds were moved by hand.
//
// Usage:
//
//	reconcile list [-status PENDING_RECOVERY]
//	reconcile retry -id <failed-settlement-uuid>
//	reconcile resolve -id <failed-settlement-uuid> -as RECOVERED|ABANDONED
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/chain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.MustLoad()

	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		fatal("database connection failed: %v", err)
	}
	defer db.Close()

	opRepo := repository.NewOperationRepository(db)
	ctx := context.Background()

	switch os.Args[1] {
	case "list":
		runList(ctx, opRepo, os.Args[2:])
	case "retry":
		runRetry(ctx, cfg, opRepo, os.Args[2:], logger)
	case "resolve":
		runResolve(ctx, opRepo, os.Args[2:])
	default:
		usage()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// list
// ──────────────────────────────────────────────────────────────────────────────

func runList(ctx context.Context, opRepo *repository.OperationRepository, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", string(domain.RecoveryPending), "filter by recovery status (empty for all)")
	limit := fs.Int("limit", 100, "maximum entries to print")
	_ = fs.Parse(args)

	rows, err := opRepo.ListFailedSettlements(ctx, domain.FailedSettlementStatus(*status), *limit, 0)
	if err != nil {
		fatal("list failed: %v", err)
	}

	if len(rows) == 0 {
		fmt.Println("no failed settlements")
		return
	}
	for _, r := range rows {
		fmt.Printf("%s  %-16s  %10s %-4s  ->%s  op=%s  %s  %s\n",
			r.ID, r.Status, r.Amount.StringFixed(6), r.Asset,
			r.Destination, r.OperationID,
			r.CreatedAt.Format(time.RFC3339), r.ErrorDetail)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// retry
// ──────────────────────────────────────────────────────────────────────────────

// runRetry re-executes the outbound transfer for one pending entry. Operator
// responsibility: confirm first (e.g. via an explorer) that the original
// signed transaction never landed, since the engine itself never re-pays.
func runRetry(ctx context.Context, cfg *config.Config, opRepo *repository.OperationRepository, args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	idStr := fs.String("id", "", "failed settlement id (required)")
	_ = fs.Parse(args)

	id, err := uuid.Parse(*idStr)
	if err != nil {
		fatal("invalid -id: %v", err)
	}

	entry, err := opRepo.GetFailedSettlement(ctx, id)
	if err != nil {
		fatal("%v", err)
	}
	if entry.Status != domain.RecoveryPending {
		fatal("entry %s is %s, not %s", id, entry.Status, domain.RecoveryPending)
	}

	client := chain.NewRPCClient(cfg.Chain.RPCURL, logger)
	wallet, err := chain.LoadCustodyWallet(cfg.Chain.CustodyPrivateKey)
	if err != nil {
		fatal("custody wallet load failed: %v", err)
	}

	blockhash, err := client.GetLatestBlockReference(ctx)
	if err != nil {
		fatal("latest block reference: %v", err)
	}

	var signed *chain.SignedTransfer
	switch entry.Asset {
	case domain.AssetSOL:
		signed, err = wallet.SignNativeTransfer(blockhash, entry.Destination, chain.SolToLamports(entry.Amount))
	case domain.AssetToken:
		signed, err = wallet.SignTokenTransfer(blockhash, cfg.Chain.TokenMint, entry.Destination,
			chain.TokenToBaseUnits(entry.Amount, cfg.Chain.TokenDecimals))
	default:
		fatal("unknown asset %q", entry.Asset)
	}
	if err != nil {
		fatal("sign transfer: %v", err)
	}

	if _, err = client.BroadcastSignedTransaction(ctx, signed.Payload); err != nil {
		fatal("broadcast: %v", err)
	}
	fmt.Printf("broadcast %s, awaiting confirmation (up to %s)…\n", signed.Signature, cfg.Chain.ConfirmTimeout)

	if err = awaitConfirmation(ctx, client, signed.Signature, cfg.Chain.ConfirmInterval, cfg.Chain.ConfirmTimeout); err != nil {
		fatal("confirmation failed, entry left pending: %v", err)
	}

	if err = opRepo.UpdateStatus(ctx, entry.OperationID, domain.StatusConfirmed, &signed.Signature); err != nil {
		fatal("operation status update: %v", err)
	}
	if err = opRepo.ResolveFailedSettlement(ctx, entry.ID, domain.RecoveryRecovered); err != nil {
		fatal("resolve: %v", err)
	}
	fmt.Printf("recovered: %s paid %s %s to %s (sig %s)\n",
		entry.ID, entry.Amount, entry.Asset, entry.Destination, signed.Signature)
}

func awaitConfirmation(ctx context.Context, client chain.Client, sig string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(interval)
		status, err := client.PollSignatureStatus(ctx, sig)
		if err != nil {
			continue
		}
		if status.Landed() {
			return nil
		}
		if status == chain.ConfirmationFailed {
			return fmt.Errorf("transaction rejected by the ledger")
		}
	}
	return fmt.Errorf("timed out after %s", timeout)
}

// ──────────────────────────────────────────────────────────────────────────────
// resolve
// ──────────────────────────────────────────────────────────────────────────────

func runResolve(ctx context.Context, opRepo *repository.OperationRepository, args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	idStr := fs.String("id", "", "failed settlement id (required)")
	as := fs.String("as", "", "target status: RECOVERED or ABANDONED (required)")
	_ = fs.Parse(args)

	id, err := uuid.Parse(*idStr)
	if err != nil {
		fatal("invalid -id: %v", err)
	}

	target := domain.FailedSettlementStatus(*as)
	if target != domain.RecoveryRecovered && target != domain.RecoveryAbandoned {
		fatal("-as must be %s or %s", domain.RecoveryRecovered, domain.RecoveryAbandoned)
	}

	if err = opRepo.ResolveFailedSettlement(ctx, id, target); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("entry %s marked %s\n", id, target)
}

// ──────────────────────────────────────────────────────────────────────────────

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  reconcile list    [-status PENDING_RECOVERY] [-limit 100]
  reconcile retry   -id <uuid>
  reconcile resolve -id <uuid> -as RECOVERED|ABANDONED`)
	os.Exit(2)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
