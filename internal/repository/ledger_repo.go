package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LedgerRepository handles all database operations for the pool singleton and
// per-user positions. Mutating methods take an explicit transaction: callers
// compose them into one atomic ledger commit.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ──────────────────────────────────────────────────────────────────────────────
// PoolState
// ──────────────────────────────────────────────────────────────────────────────

// GetPoolState reads the pool singleton without locking (read-only paths).
// Returns a zeroed pool when it has not been created yet.
func (r *LedgerRepository) GetPoolState(ctx context.Context) (*domain.PoolState, error) {
	var ps domain.PoolState
	err := r.db.GetContext(ctx, &ps, `SELECT * FROM pool_state WHERE id = $1`, domain.PoolStateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewPoolState(time.Now().UTC()), nil
		}
		return nil, fmt.Errorf("ledger_repo.GetPoolState: %w", err)
	}
	return &ps, nil
}

// LockPoolState locks the pool singleton FOR UPDATE inside a transaction,
// creating it lazily on first touch. Every operation locks the pool before the
// position, so cross-user contention serializes here in a fixed order.
func (r *LedgerRepository) LockPoolState(ctx context.Context, tx *sqlx.Tx) (*domain.PoolState, error) {
	var ps domain.PoolState
	err := tx.GetContext(ctx, &ps, `SELECT * FROM pool_state WHERE id = $1 FOR UPDATE`, domain.PoolStateID)
	if err == nil {
		return &ps, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger_repo.LockPoolState: %w", err)
	}

	// Lazy creation. ON CONFLICT covers the race where two first-touch
	// transactions both observed the missing row.
	fresh := domain.NewPoolState(time.Now().UTC())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pool_state (id, total_principal, reward_reserve, last_checkpoint_time, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		fresh.ID, fresh.TotalPrincipal, fresh.RewardReserve, fresh.LastCheckpointTime, fresh.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.LockPoolState insert: %w", err)
	}
	err = tx.GetContext(ctx, &ps, `SELECT * FROM pool_state WHERE id = $1 FOR UPDATE`, domain.PoolStateID)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.LockPoolState reselect: %w", err)
	}
	return &ps, nil
}

// SavePoolState writes the checkpointed pool back inside the transaction.
func (r *LedgerRepository) SavePoolState(ctx context.Context, tx *sqlx.Tx, ps *domain.PoolState) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pool_state
		SET total_principal      = $1,
		    reward_reserve       = $2,
		    last_checkpoint_time = $3,
		    updated_at           = $4
		WHERE id = $5`,
		ps.TotalPrincipal, ps.RewardReserve, ps.LastCheckpointTime, ps.UpdatedAt, ps.ID)
	if err != nil {
		return fmt.Errorf("ledger_repo.SavePoolState: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Positions
// ──────────────────────────────────────────────────────────────────────────────

// GetPosition fetches a user's position without locking.
func (r *LedgerRepository) GetPosition(ctx context.Context, userID uuid.UUID) (*domain.Position, error) {
	var pos domain.Position
	err := r.db.GetContext(ctx, &pos, `SELECT * FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("ledger_repo.GetPosition: %w", err)
	}
	return &pos, nil
}

// LockPosition locks a user's position FOR UPDATE inside a transaction.
// Returns domain.ErrPositionNotFound when the user has never deposited.
func (r *LedgerRepository) LockPosition(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*domain.Position, error) {
	var pos domain.Position
	err := tx.GetContext(ctx, &pos, `SELECT * FROM positions WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("ledger_repo.LockPosition: %w", err)
	}
	return &pos, nil
}

// InsertPosition creates a position row on first deposit inside the transaction.
func (r *LedgerRepository) InsertPosition(ctx context.Context, tx *sqlx.Tx, pos *domain.Position) error {
	query := `
		INSERT INTO positions
			(id, user_id, wallet_address, principal, locked_unit_price,
			 deposit_start_time, last_deposit_time, total_claimed,
			 total_fees_paid, active_multiplier, created_at, updated_at)
		VALUES
			(:id, :user_id, :wallet_address, :principal, :locked_unit_price,
			 :deposit_start_time, :last_deposit_time, :total_claimed,
			 :total_fees_paid, :active_multiplier, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, pos); err != nil {
		return fmt.Errorf("ledger_repo.InsertPosition: %w", err)
	}
	return nil
}

// UpdatePosition writes a mutated position back inside the transaction.
func (r *LedgerRepository) UpdatePosition(ctx context.Context, tx *sqlx.Tx, pos *domain.Position) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET principal          = $1,
		    locked_unit_price  = $2,
		    deposit_start_time = $3,
		    last_deposit_time  = $4,
		    total_claimed      = $5,
		    total_fees_paid    = $6,
		    active_multiplier  = $7,
		    updated_at         = $8
		WHERE user_id = $9`,
		pos.Principal, pos.LockedUnitPrice, pos.DepositStartTime, pos.LastDepositTime,
		pos.TotalClaimed, pos.TotalFeesPaid, pos.ActiveMultiplier, pos.UpdatedAt, pos.UserID)
	if err != nil {
		return fmt.Errorf("ledger_repo.UpdatePosition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionNotFound
	}
	return nil
}
