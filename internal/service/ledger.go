package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────────────────────────────────

// Ledger applies one logical staking operation as a single atomic unit: the
// pool checkpoint, the position delta, and the append of one OperationRecord
// all commit together or not at all.
//
// Lock order is fixed — pool singleton first, then the user's position — so
// operations from different users serialize only on the shared pool row and
// can never deadlock against each other.
type Ledger struct {
	db         *sqlx.DB
	ledgerRepo *repository.LedgerRepository
	opRepo     *repository.OperationRepository
	log        *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(db *sqlx.DB, ledgerRepo *repository.LedgerRepository, opRepo *repository.OperationRepository, log *slog.Logger) *Ledger {
	return &Ledger{
		db:         db,
		ledgerRepo: ledgerRepo,
		opRepo:     opRepo,
		log:        log.With("component", "ledger"),
	}
}

// LedgerCommit carries the verified inputs of one operation into the
// transaction. Amount semantics depend on Type: staking-token units for
// DEPOSIT/WITHDRAW, ignored for CLAIM (the claimable reward is recomputed
// authoritatively against the locked position inside the transaction).
type LedgerCommit struct {
	UserID            uuid.UUID
	Type              domain.OperationType
	Amount            decimal.Decimal
	FeeSOL            decimal.Decimal
	PrincipalProofRef *string
	FeeProofRef       string

	// Deposit-only inputs.
	WalletAddress string
	SpotPrice     decimal.Decimal

	// Refreshed booster multiplier, applied to the position before any reward
	// computation. Zero means "leave unchanged".
	Multiplier decimal.Decimal
}

// Commit runs the ledger transaction and returns the appended record plus the
// position as committed. A concurrent duplicate of the same fee proof aborts
// with domain.ErrDuplicateOperation and writes nothing.
func (l *Ledger) Commit(ctx context.Context, c LedgerCommit) (*domain.OperationRecord, *domain.Position, error) {
	now := time.Now().UTC()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger.Commit: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 1. Lock pool, run lazy checkpoint ────────────────────────────────────
	pool, err := l.ledgerRepo.LockPoolState(ctx, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger.Commit: lock pool: %w", err)
	}
	pool.Checkpoint(c.FeeSOL, now)

	// ── 2. Lock (or create) the position ─────────────────────────────────────
	pos, err := l.ledgerRepo.LockPosition(ctx, tx, c.UserID)
	created := false
	if err != nil {
		if c.Type != domain.OpDeposit || !domain.IsNotFound(err) {
			return nil, nil, fmt.Errorf("ledger.Commit: lock position: %w", err)
		}
		pos = domain.NewPosition(c.UserID, c.WalletAddress, now)
		created = true
	}

	if c.Multiplier.Sign() > 0 {
		pos.ActiveMultiplier = c.Multiplier
	}

	// ── 3. Apply the operation delta ─────────────────────────────────────────
	amount := c.Amount
	switch c.Type {
	case domain.OpDeposit:
		pos.ApplyDeposit(amount, c.SpotPrice, now)
		pos.TotalFeesPaid = pos.TotalFeesPaid.Add(c.FeeSOL)
		pool.TotalPrincipal = pool.TotalPrincipal.Add(amount)

	case domain.OpClaim:
		amount = pos.PendingReward(now)
		if amount.Sign() <= 0 {
			err = domain.ErrNothingToClaim
			return nil, nil, err
		}
		pos.ApplyClaim(amount, now)
		pos.TotalFeesPaid = pos.TotalFeesPaid.Add(c.FeeSOL)

	case domain.OpWithdraw:
		if err = pos.ApplyWithdraw(amount, now); err != nil {
			return nil, nil, err
		}
		pos.TotalFeesPaid = pos.TotalFeesPaid.Add(c.FeeSOL)
		pool.TotalPrincipal = pool.TotalPrincipal.Sub(amount)

	default:
		err = fmt.Errorf("ledger.Commit: unknown operation type %q", c.Type)
		return nil, nil, err
	}

	// ── 4. Persist pool + position ───────────────────────────────────────────
	if err = l.ledgerRepo.SavePoolState(ctx, tx, pool); err != nil {
		return nil, nil, err
	}
	if created {
		err = l.ledgerRepo.InsertPosition(ctx, tx, pos)
	} else {
		err = l.ledgerRepo.UpdatePosition(ctx, tx, pos)
	}
	if err != nil {
		return nil, nil, err
	}

	// ── 5. Append the operation record ───────────────────────────────────────
	// The unique index on fee_proof_ref aborts the race where a concurrent
	// duplicate slipped past the pre-mutation idempotency check.
	rec := &domain.OperationRecord{
		ID:                uuid.New(),
		UserID:            c.UserID,
		Type:              c.Type,
		Amount:            amount,
		FeeAmount:         c.FeeSOL,
		PrincipalProofRef: c.PrincipalProofRef,
		FeeProofRef:       c.FeeProofRef,
		Status:            domain.StatusLedgerCommitted,
		CreatedAt:         now,
	}
	if err = l.opRepo.Insert(ctx, tx, rec); err != nil {
		return nil, nil, err
	}

	// ── 6. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("ledger.Commit: commit: %w", err)
	}

	l.log.Info("ledger committed",
		"op", string(c.Type), "user_id", c.UserID, "amount", amount, "fee_sol", c.FeeSOL)

	return rec, pos, nil
}
