package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/chain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/notifier"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into SettlementExecutor
// ──────────────────────────────────────────────────────────────────────────────

// TransferSigner builds and signs outbound transfers from the custody keypair.
// Implemented by chain.CustodyWallet.
type TransferSigner interface {
	Address() string
	TokenAccount(mint string) (string, error)
	SignNativeTransfer(blockhash, recipient string, lamports uint64) (*chain.SignedTransfer, error)
	SignTokenTransfer(blockhash, mint, recipient string, baseUnits uint64) (*chain.SignedTransfer, error)
}

// SettlementStore is the slice of the operation repository the executor needs:
// advancing operation status and enqueueing failed settlements.
type SettlementStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OperationStatus, payoutRef *string) error
	InsertFailedSettlement(ctx context.Context, fs *domain.FailedSettlement) error
}

// ──────────────────────────────────────────────────────────────────────────────
// SettlementExecutor
// ──────────────────────────────────────────────────────────────────────────────

// SettlementRequest carries everything needed to pay out one committed
// operation, and everything needed to reconstruct it in the recovery queue.
type SettlementRequest struct {
	OperationID       uuid.UUID
	UserID            uuid.UUID
	Amount            decimal.Decimal
	Asset             domain.SettlementAsset
	Destination       string
	PrincipalProofRef *string
	FeeProofRef       string
}

// SettlementExecutor performs the outbound transfer after the ledger commit.
// The commit-then-pay ordering is the engine's core safety property: a failed
// or stalled transfer can never cause a double-claim because the ledger
// already reflects the operation; it can only leave the user temporarily owed,
// which the FailedSettlement queue resolves out-of-band.
type SettlementExecutor struct {
	client   chain.Client
	wallet   TransferSigner
	store    SettlementStore
	notify   notifier.Notifier
	log      *slog.Logger

	tokenMint          string
	tokenDecimals      int32
	confirmInterval    time.Duration
	confirmTimeout     time.Duration
	estimatedNetFeeSOL decimal.Decimal
}

// NewSettlementExecutor creates a SettlementExecutor.
func NewSettlementExecutor(
	client chain.Client,
	wallet TransferSigner,
	store SettlementStore,
	alerts notifier.Notifier,
	cfg *config.Config,
	log *slog.Logger,
) *SettlementExecutor {
	return &SettlementExecutor{
		client:             client,
		wallet:             wallet,
		store:              store,
		notify:             alerts,
		log:                log.With("component", "settlement"),
		tokenMint:          cfg.Chain.TokenMint,
		tokenDecimals:      cfg.Chain.TokenDecimals,
		confirmInterval:    cfg.Chain.ConfirmInterval,
		confirmTimeout:     cfg.Chain.ConfirmTimeout,
		estimatedNetFeeSOL: decimal.NewFromFloat(cfg.Chain.EstimatedNetFeeSOL),
	}
}

// Rebroadcast the identical signed payload every few polls while unconfirmed.
// Identical-payload resubmission is idempotent on the ledger (same signature),
// unlike building a fresh transaction, which could land twice.
const rebroadcastEvery = 5

// ──────────────────────────────────────────────────────────────────────────────
// Pre-flight
// ──────────────────────────────────────────────────────────────────────────────

// Preflight verifies the custody wallet can cover the payout plus estimated
// network fee. This is the one balance check allowed to gate the ledger write:
// an underfunded custody wallet is a precondition failure, not a post-commit
// failure, so the operation must be rejected before anything commits.
func (e *SettlementExecutor) Preflight(ctx context.Context, asset domain.SettlementAsset, amount decimal.Decimal) error {
	lamports, err := e.client.GetAccountBalance(ctx, e.wallet.Address())
	if err != nil {
		return fmt.Errorf("settlement.Preflight: custody balance: %w", err)
	}

	feeLamports := chain.SolToLamports(e.estimatedNetFeeSOL)

	switch asset {
	case domain.AssetSOL:
		need := chain.SolToLamports(amount) + feeLamports
		if lamports < need {
			e.log.Warn("custody underfunded for native payout",
				"have_lamports", lamports, "need_lamports", need)
			return domain.ErrInsufficientCustodyFunds
		}

	case domain.AssetToken:
		if lamports < feeLamports {
			return domain.ErrInsufficientCustodyFunds
		}
		ata, err := e.wallet.TokenAccount(e.tokenMint)
		if err != nil {
			return fmt.Errorf("settlement.Preflight: custody token account: %w", err)
		}
		baseUnits, err := e.client.GetTokenAccountBalance(ctx, ata)
		if err != nil {
			return fmt.Errorf("settlement.Preflight: custody token balance: %w", err)
		}
		if baseUnits < chain.TokenToBaseUnits(amount, e.tokenDecimals) {
			e.log.Warn("custody underfunded for token payout",
				"have_base_units", baseUnits, "need", amount)
			return domain.ErrInsufficientCustodyFunds
		}

	default:
		return fmt.Errorf("settlement.Preflight: unknown asset %q", asset)
	}

	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Execute
// ──────────────────────────────────────────────────────────────────────────────

// Execute runs the payout protocol for a committed operation: fetch a fresh
// block reference, sign, broadcast, then poll the signature status until it
// lands or the bounded confirmation window closes. Any terminal failure is
// converted into exactly one FailedSettlement record plus an operator alert —
// never an automatic payment retry, since the first signed payload may still
// land out-of-band.
//
// The returned payout reference is the transfer's transaction signature.
func (e *SettlementExecutor) Execute(ctx context.Context, req SettlementRequest) (string, error) {
	signed, err := e.buildAndSign(ctx, req)
	if err != nil {
		return "", e.recordFailure(req, "", fmt.Sprintf("build/sign: %v", err))
	}

	if _, err := e.client.BroadcastSignedTransaction(ctx, signed.Payload); err != nil {
		return "", e.recordFailure(req, signed.Signature, fmt.Sprintf("broadcast: %v", err))
	}

	if err := e.store.UpdateStatus(ctx, req.OperationID, domain.StatusPayoutSent, &signed.Signature); err != nil {
		// Status bookkeeping failure must not abort a payout already in flight.
		e.log.Error("status update failed after broadcast", "operation_id", req.OperationID, "err", err)
	}

	e.log.Info("payout broadcast",
		"operation_id", req.OperationID, "sig", signed.Signature,
		"asset", string(req.Asset), "amount", req.Amount)

	if err := e.awaitConfirmation(ctx, signed); err != nil {
		return signed.Signature, e.recordFailure(req, signed.Signature, err.Error())
	}

	if err := e.store.UpdateStatus(ctx, req.OperationID, domain.StatusConfirmed, &signed.Signature); err != nil {
		e.log.Error("status update failed after confirmation", "operation_id", req.OperationID, "err", err)
	}

	e.log.Info("payout confirmed", "operation_id", req.OperationID, "sig", signed.Signature)
	return signed.Signature, nil
}

// buildAndSign prepares the signed transfer payload for the request's asset.
func (e *SettlementExecutor) buildAndSign(ctx context.Context, req SettlementRequest) (*chain.SignedTransfer, error) {
	blockhash, err := e.client.GetLatestBlockReference(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block reference: %w", err)
	}

	switch req.Asset {
	case domain.AssetSOL:
		return e.wallet.SignNativeTransfer(blockhash, req.Destination, chain.SolToLamports(req.Amount))
	case domain.AssetToken:
		return e.wallet.SignTokenTransfer(blockhash, e.tokenMint, req.Destination,
			chain.TokenToBaseUnits(req.Amount, e.tokenDecimals))
	default:
		return nil, fmt.Errorf("unknown asset %q", req.Asset)
	}
}

// awaitConfirmation polls the signature at a fixed cadence within the bounded
// window, re-broadcasting the identical payload periodically while the
// signature remains unseen.
func (e *SettlementExecutor) awaitConfirmation(ctx context.Context, signed *chain.SignedTransfer) error {
	deadline := time.NewTimer(e.confirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.confirmInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation interrupted: %w", ctx.Err())

		case <-deadline.C:
			return fmt.Errorf("confirmation timed out after %s", e.confirmTimeout)

		case <-ticker.C:
			polls++
			status, err := e.client.PollSignatureStatus(ctx, signed.Signature)
			if err != nil {
				e.log.Warn("signature status poll failed", "sig", signed.Signature, "err", err)
				continue
			}

			switch {
			case status.Landed():
				return nil
			case status == chain.ConfirmationFailed:
				return fmt.Errorf("transaction rejected by the ledger")
			}

			if polls%rebroadcastEvery == 0 {
				if _, err := e.client.BroadcastSignedTransaction(ctx, signed.Payload); err != nil {
					e.log.Warn("re-broadcast failed", "sig", signed.Signature, "err", err)
				}
			}
		}
	}
}

// recordFailure writes the FailedSettlement entry, flips the operation to
// FAILED_RECOVERY, alerts the operator, and surfaces ErrPayoutExecution.
func (e *SettlementExecutor) recordFailure(req SettlementRequest, payoutRef, detail string) error {
	// The request context may already be cancelled or expired; recovery
	// bookkeeping must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fs := &domain.FailedSettlement{
		ID:                uuid.New(),
		OperationID:       req.OperationID,
		UserID:            req.UserID,
		Amount:            req.Amount,
		Asset:             req.Asset,
		Destination:       req.Destination,
		PrincipalProofRef: req.PrincipalProofRef,
		FeeProofRef:       req.FeeProofRef,
		ErrorDetail:       detail,
		Status:            domain.RecoveryPending,
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.store.InsertFailedSettlement(ctx, fs); err != nil {
		// Worst case: the alert below is the only trace. Log loudly.
		e.log.Error("failed to enqueue failed settlement",
			"operation_id", req.OperationID, "detail", detail, "err", err)
	}

	var ref *string
	if payoutRef != "" {
		ref = &payoutRef
	}
	if err := e.store.UpdateStatus(ctx, req.OperationID, domain.StatusFailedRecovery, ref); err != nil {
		e.log.Error("status update failed for failed settlement", "operation_id", req.OperationID, "err", err)
	}

	e.log.Error("payout failed; queued for recovery",
		"operation_id", req.OperationID, "user_id", req.UserID,
		"asset", string(req.Asset), "amount", req.Amount, "detail", detail)

	e.notify.Notify(ctx, notifier.Event{
		Kind:    "settlement_failed",
		Message: "outbound payout did not confirm; manual recovery required",
		Fields: map[string]string{
			"operation_id": req.OperationID.String(),
			"user_id":      req.UserID.String(),
			"asset":        string(req.Asset),
			"amount":       req.Amount.String(),
			"destination":  req.Destination,
			"detail":       detail,
		},
	})

	return fmt.Errorf("settlement.Execute: %s: %w", detail, domain.ErrPayoutExecution)
}
