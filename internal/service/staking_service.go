package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/chain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Requests / responses
// ──────────────────────────────────────────────────────────────────────────────

// DepositRequest submits a verified-on-chain deposit for ledger credit.
type DepositRequest struct {
	UserID            uuid.UUID
	WalletAddress     string
	Amount            decimal.Decimal
	PrincipalProofRef string
	FeeProofRef       string
}

// ClaimRequest settles the user's accrued reward to their wallet in SOL.
type ClaimRequest struct {
	UserID      uuid.UUID
	FeeProofRef string
}

// WithdrawRequest returns staked principal to the user's wallet.
type WithdrawRequest struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	FeeProofRef string
}

// PayoutStatus is the caller-visible settlement outcome attached to claim and
// withdraw responses. "queued_for_recovery" still counts as operation success:
// the ledger committed, only the transfer is outstanding.
type PayoutStatus string

const (
	PayoutConfirmed PayoutStatus = "confirmed"
	PayoutQueued    PayoutStatus = "queued_for_recovery"
)

// OperationResult is the common response of all three operations.
type OperationResult struct {
	OperationID  uuid.UUID               `json:"operation_id"`
	Type         string                  `json:"type"`
	Amount       decimal.Decimal         `json:"amount"`
	PayoutRef    *string                 `json:"payout_ref,omitempty"`
	PayoutStatus PayoutStatus            `json:"payout_status,omitempty"`
	Position     domain.PositionResponse `json:"position"`
}

// ──────────────────────────────────────────────────────────────────────────────
// StakingService
// ──────────────────────────────────────────────────────────────────────────────

// StakingService orchestrates the three public operations. Every operation
// follows the same protocol: validate, verify payment proofs, commit the
// ledger, then (for claims and withdrawals) execute the outbound payout. The
// ordering is load-bearing — verification happens before any mutation, and
// once the ledger commits the operation succeeds from the caller's point of
// view regardless of how the payout leg ends.
type StakingService struct {
	verifier   *PaymentVerifier
	prices     *PriceService
	boosters   *BoosterService
	ledger     *Ledger
	settlement *SettlementExecutor
	ledgerRepo *repository.LedgerRepository
	opRepo     *repository.OperationRepository
	log        *slog.Logger
}

// NewStakingService creates a StakingService.
func NewStakingService(
	verifier *PaymentVerifier,
	prices *PriceService,
	boosters *BoosterService,
	ledger *Ledger,
	settlement *SettlementExecutor,
	ledgerRepo *repository.LedgerRepository,
	opRepo *repository.OperationRepository,
	log *slog.Logger,
) *StakingService {
	return &StakingService{
		verifier:   verifier,
		prices:     prices,
		boosters:   boosters,
		ledger:     ledger,
		settlement: settlement,
		ledgerRepo: ledgerRepo,
		opRepo:     opRepo,
		log:        log.With("component", "staking"),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Deposit
// ──────────────────────────────────────────────────────────────────────────────

// Deposit credits a verified on-chain token transfer to the user's position.
// No outbound payout: the deposit is complete once the ledger commits, so the
// record goes straight to CONFIRMED.
func (s *StakingService) Deposit(ctx context.Context, req DepositRequest) (*OperationResult, error) {
	if req.Amount.Sign() <= 0 {
		return nil, domain.ErrAmountNotPositive
	}
	if !chain.ValidAddress(req.WalletAddress) {
		return nil, domain.ErrInvalidWalletAddress
	}

	feeSOL, err := s.verifier.VerifyFeeProof(ctx, req.FeeProofRef)
	if err != nil {
		return nil, err
	}
	if err := s.verifier.VerifyPrincipalProof(ctx, req.PrincipalProofRef, req.WalletAddress, req.Amount); err != nil {
		return nil, err
	}

	spotPrice, err := s.prices.GetUnitPriceInSOL(ctx)
	if err != nil {
		return nil, fmt.Errorf("staking.Deposit: unit price: %w", err)
	}
	multiplier := s.boosters.ActiveMultiplier(ctx, req.UserID)

	principalRef := req.PrincipalProofRef
	rec, pos, err := s.ledger.Commit(ctx, LedgerCommit{
		UserID:            req.UserID,
		Type:              domain.OpDeposit,
		Amount:            req.Amount,
		FeeSOL:            feeSOL,
		PrincipalProofRef: &principalRef,
		FeeProofRef:       req.FeeProofRef,
		WalletAddress:     req.WalletAddress,
		SpotPrice:         spotPrice,
		Multiplier:        multiplier,
	})
	if err != nil {
		return nil, err
	}

	if err := s.opRepo.UpdateStatus(ctx, rec.ID, domain.StatusConfirmed, nil); err != nil {
		s.log.Error("deposit status finalize failed", "operation_id", rec.ID, "err", err)
	}

	return &OperationResult{
		OperationID:  rec.ID,
		Type:         string(rec.Type),
		Amount:       rec.Amount,
		PayoutStatus: PayoutConfirmed,
		Position:     pos.ToResponse(time.Now().UTC()),
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────────────────────────────────

// Claim settles the user's pending reward as a native SOL transfer. The
// pre-flight custody balance check runs against an estimate computed outside
// the lock; the amount actually paid is the one recomputed inside the ledger
// transaction. The gap between the two is bounded by seconds of extra accrual,
// which the estimated network fee headroom absorbs.
func (s *StakingService) Claim(ctx context.Context, req ClaimRequest) (*OperationResult, error) {
	feeSOL, err := s.verifier.VerifyFeeProof(ctx, req.FeeProofRef)
	if err != nil {
		return nil, err
	}

	pos, err := s.ledgerRepo.GetPosition(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	estimate := pos.PendingReward(time.Now().UTC())
	if estimate.Sign() <= 0 {
		return nil, domain.ErrNothingToClaim
	}
	if err := s.settlement.Preflight(ctx, domain.AssetSOL, estimate); err != nil {
		return nil, err
	}

	multiplier := s.boosters.ActiveMultiplier(ctx, req.UserID)
	rec, pos, err := s.ledger.Commit(ctx, LedgerCommit{
		UserID:      req.UserID,
		Type:        domain.OpClaim,
		FeeSOL:      feeSOL,
		FeeProofRef: req.FeeProofRef,
		Multiplier:  multiplier,
	})
	if err != nil {
		return nil, err
	}

	return s.settle(ctx, rec, pos, domain.AssetSOL, pos.WalletAddress)
}

// ──────────────────────────────────────────────────────────────────────────────
// Withdraw
// ──────────────────────────────────────────────────────────────────────────────

// Withdraw returns principal to the user's wallet as an SPL token transfer.
func (s *StakingService) Withdraw(ctx context.Context, req WithdrawRequest) (*OperationResult, error) {
	if req.Amount.Sign() <= 0 {
		return nil, domain.ErrAmountNotPositive
	}

	feeSOL, err := s.verifier.VerifyFeeProof(ctx, req.FeeProofRef)
	if err != nil {
		return nil, err
	}

	pos, err := s.ledgerRepo.GetPosition(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Amount.GreaterThan(pos.Principal) {
		return nil, domain.ErrInsufficientPrincipal
	}
	if err := s.settlement.Preflight(ctx, domain.AssetToken, req.Amount); err != nil {
		return nil, err
	}

	multiplier := s.boosters.ActiveMultiplier(ctx, req.UserID)
	rec, pos, err := s.ledger.Commit(ctx, LedgerCommit{
		UserID:      req.UserID,
		Type:        domain.OpWithdraw,
		Amount:      req.Amount,
		FeeSOL:      feeSOL,
		FeeProofRef: req.FeeProofRef,
		Multiplier:  multiplier,
	})
	if err != nil {
		return nil, err
	}

	return s.settle(ctx, rec, pos, domain.AssetToken, pos.WalletAddress)
}

// settle runs the payout leg for a committed claim or withdrawal. A payout
// failure here is deliberately NOT an operation failure: the ledger already
// reflects the operation, the executor has queued the transfer for manual
// recovery, and the caller is told so via PayoutStatus.
func (s *StakingService) settle(ctx context.Context, rec *domain.OperationRecord, pos *domain.Position, asset domain.SettlementAsset, destination string) (*OperationResult, error) {
	// The payout must outlive the HTTP request's cancellation, but not its
	// values (request-scoped tracing etc. stay attached).
	payoutCtx := context.WithoutCancel(ctx)

	res := &OperationResult{
		OperationID: rec.ID,
		Type:        string(rec.Type),
		Amount:      rec.Amount,
		Position:    pos.ToResponse(time.Now().UTC()),
	}

	sig, err := s.settlement.Execute(payoutCtx, SettlementRequest{
		OperationID:       rec.ID,
		UserID:            rec.UserID,
		Amount:            rec.Amount,
		Asset:             asset,
		Destination:       destination,
		PrincipalProofRef: rec.PrincipalProofRef,
		FeeProofRef:       rec.FeeProofRef,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPayoutExecution) {
			// Execute wraps every failure in ErrPayoutExecution; anything else
			// would be a programming error. Still degrade gracefully.
			s.log.Error("unexpected settlement error", "operation_id", rec.ID, "err", err)
		}
		res.PayoutStatus = PayoutQueued
		if sig != "" {
			res.PayoutRef = &sig
		}
		return res, nil
	}

	res.PayoutStatus = PayoutConfirmed
	res.PayoutRef = &sig
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read paths
// ──────────────────────────────────────────────────────────────────────────────

// GetPosition returns the user's position with its live pending reward.
func (s *StakingService) GetPosition(ctx context.Context, userID uuid.UUID) (*domain.PositionResponse, error) {
	pos, err := s.ledgerRepo.GetPosition(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := pos.ToResponse(time.Now().UTC())
	return &resp, nil
}

// GetPoolState returns the aggregate pool accounting row.
func (s *StakingService) GetPoolState(ctx context.Context) (*domain.PoolState, error) {
	return s.ledgerRepo.GetPoolState(ctx)
}

// ListOperations returns the user's operation history, newest first.
func (s *StakingService) ListOperations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.OperationRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.opRepo.ListByUser(ctx, userID, limit, offset)
}

// ListFailedSettlements exposes the recovery queue to operator tooling.
func (s *StakingService) ListFailedSettlements(ctx context.Context, status domain.FailedSettlementStatus, limit, offset int) ([]*domain.FailedSettlement, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.opRepo.ListFailedSettlements(ctx, status, limit, offset)
}
