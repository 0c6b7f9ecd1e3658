package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// PoolState
// ──────────────────────────────────────────────────────────────────────────────

// PoolStateID is the fixed primary key of the singleton pool row.
const PoolStateID int16 = 1

// PoolState is the aggregate accounting row shared by every position. It is
// created lazily on first touch and only ever mutated inside the ledger
// transaction while held FOR UPDATE.
type PoolState struct {
	ID                 int16           `json:"-"                    db:"id"`
	TotalPrincipal     decimal.Decimal `json:"total_principal"      db:"total_principal"`
	RewardReserve      decimal.Decimal `json:"reward_reserve"       db:"reward_reserve"`
	LastCheckpointTime time.Time       `json:"last_checkpoint_time" db:"last_checkpoint_time"`
	UpdatedAt          time.Time       `json:"updated_at"           db:"updated_at"`
}

// NewPoolState returns the zeroed singleton, used on lazy first creation.
func NewPoolState(now time.Time) *PoolState {
	return &PoolState{
		ID:                 PoolStateID,
		TotalPrincipal:     decimal.Zero,
		RewardReserve:      decimal.Zero,
		LastCheckpointTime: now,
		UpdatedAt:          now,
	}
}

// Checkpoint advances the lazy checkpoint: the collected fee (in SOL) is
// folded into the reward reserve and the checkpoint clock moves to now. Every
// operation that touches the pool calls this before applying its own delta.
func (p *PoolState) Checkpoint(collectedFee decimal.Decimal, now time.Time) {
	if collectedFee.Sign() > 0 {
		p.RewardReserve = p.RewardReserve.Add(collectedFee)
	}
	p.LastCheckpointTime = now
	p.UpdatedAt = now
}

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is one user's staking record. Created on first deposit, mutated on
// every operation, never deleted — a zero-principal row persists as history.
type Position struct {
	ID               uuid.UUID       `json:"id"                 db:"id"`
	UserID           uuid.UUID       `json:"user_id"            db:"user_id"`
	WalletAddress    string          `json:"wallet_address"     db:"wallet_address"`
	Principal        decimal.Decimal `json:"principal"          db:"principal"`
	LockedUnitPrice  decimal.Decimal `json:"locked_unit_price"  db:"locked_unit_price"`
	DepositStartTime time.Time       `json:"deposit_start_time" db:"deposit_start_time"`
	LastDepositTime  time.Time       `json:"last_deposit_time"  db:"last_deposit_time"`
	TotalClaimed     decimal.Decimal `json:"total_claimed"      db:"total_claimed"`
	TotalFeesPaid    decimal.Decimal `json:"total_fees_paid"    db:"total_fees_paid"`
	ActiveMultiplier decimal.Decimal `json:"active_multiplier"  db:"active_multiplier"`
	CreatedAt        time.Time       `json:"created_at"         db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"         db:"updated_at"`
}

// NewPosition creates an empty position for a user's first deposit.
func NewPosition(userID uuid.UUID, walletAddress string, now time.Time) *Position {
	return &Position{
		ID:               uuid.New(),
		UserID:           userID,
		WalletAddress:    walletAddress,
		Principal:        decimal.Zero,
		LockedUnitPrice:  decimal.Zero,
		DepositStartTime: now,
		LastDepositTime:  now,
		TotalClaimed:     decimal.Zero,
		TotalFeesPaid:    decimal.Zero,
		ActiveMultiplier: decimal.NewFromInt(1),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ApplyDeposit increases principal and re-derives the locked unit price as the
// amount-weighted average across all deposits so far:
//
//	newPrice = (oldPrice·oldPrincipal + spotPrice·amount) / (oldPrincipal + amount)
//
// The result is independent of deposit order for the same multiset of deposits.
// DepositStartTime is fixed at the first deposit; top-ups only move
// LastDepositTime.
func (p *Position) ApplyDeposit(amount, spotPrice decimal.Decimal, now time.Time) {
	newPrincipal := p.Principal.Add(amount)
	if newPrincipal.Sign() > 0 {
		weighted := p.LockedUnitPrice.Mul(p.Principal).Add(spotPrice.Mul(amount))
		p.LockedUnitPrice = weighted.Div(newPrincipal)
	}
	p.Principal = newPrincipal
	if p.Principal.Equal(amount) {
		// First deposit (or re-entry from zero): the accrual clock restarts.
		p.DepositStartTime = now
	}
	p.LastDepositTime = now
	p.UpdatedAt = now
}

// PendingReward returns the claimable reward at the given instant:
//
//	max(0, Accrue(principal, lockedUnitPrice, multiplier, now-depositStart) - totalClaimed)
//
// TotalClaimed is the running baseline, so a claim can never replay rewards
// that were already paid out.
func (p *Position) PendingReward(now time.Time) decimal.Decimal {
	accrued := Accrue(p.Principal, p.LockedUnitPrice, p.ActiveMultiplier, now.Sub(p.DepositStartTime))
	pending := accrued.Sub(p.TotalClaimed)
	if pending.Sign() < 0 {
		return decimal.Zero
	}
	return pending
}

// ApplyClaim moves the claim baseline forward by the paid reward.
func (p *Position) ApplyClaim(reward decimal.Decimal, now time.Time) {
	p.TotalClaimed = p.TotalClaimed.Add(reward)
	p.UpdatedAt = now
}

// ApplyWithdraw reduces principal and scales the fee bookkeeping tied to it by
// the remaining-principal ratio. TotalClaimed is untouched: the accrual
// baseline must keep covering rewards already paid on the withdrawn portion.
func (p *Position) ApplyWithdraw(amount decimal.Decimal, now time.Time) error {
	if amount.GreaterThan(p.Principal) {
		return ErrInsufficientPrincipal
	}
	remainRatio := decimal.Zero
	if p.Principal.Sign() > 0 {
		remainRatio = p.Principal.Sub(amount).Div(p.Principal)
	}
	p.Principal = p.Principal.Sub(amount)
	p.TotalFeesPaid = p.TotalFeesPaid.Mul(remainRatio)
	p.UpdatedAt = now
	return nil
}

// PositionResponse is the API-safe view of a position with its live pending
// reward attached.
type PositionResponse struct {
	WalletAddress    string          `json:"wallet_address"`
	Principal        decimal.Decimal `json:"principal"`
	LockedUnitPrice  decimal.Decimal `json:"locked_unit_price"`
	ActiveMultiplier decimal.Decimal `json:"active_multiplier"`
	PendingReward    decimal.Decimal `json:"pending_reward"`
	TotalClaimed     decimal.Decimal `json:"total_claimed"`
	DepositStartTime time.Time       `json:"deposit_start_time"`
	LastDepositTime  time.Time       `json:"last_deposit_time"`
}

// ToResponse converts a Position to its API response form.
func (p *Position) ToResponse(now time.Time) PositionResponse {
	return PositionResponse{
		WalletAddress:    p.WalletAddress,
		Principal:        p.Principal,
		LockedUnitPrice:  p.LockedUnitPrice,
		ActiveMultiplier: p.ActiveMultiplier,
		PendingReward:    p.PendingReward(now),
		TotalClaimed:     p.TotalClaimed,
		DepositStartTime: p.DepositStartTime,
		LastDepositTime:  p.LastDepositTime,
	}
}
