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
	"github.com/lib/pq"
)

// pqUniqueViolation is the PostgreSQL error code for unique constraint breaks.
const pqUniqueViolation = "23505"

// OperationRepository handles the append-only operation log and the
// failed-settlement recovery queue.
type OperationRepository struct {
	db *sqlx.DB
}

// NewOperationRepository creates a new OperationRepository.
func NewOperationRepository(db *sqlx.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// ──────────────────────────────────────────────────────────────────────────────
// Operation log
// ──────────────────────────────────────────────────────────────────────────────

// ExistsFeeProof reports whether a fee proof reference was already consumed.
// This is the cheap pre-mutation check; the unique index on fee_proof_ref is
// the authoritative guard inside the ledger transaction.
func (r *OperationRepository) ExistsFeeProof(ctx context.Context, feeProofRef string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM operation_records WHERE fee_proof_ref = $1)`,
		feeProofRef)
	if err != nil {
		return false, fmt.Errorf("operation_repo.ExistsFeeProof: %w", err)
	}
	return exists, nil
}

// Insert appends an operation record inside the ledger transaction. A unique
// violation on fee_proof_ref means a concurrent duplicate won the race; the
// caller must abort the whole transaction without any write.
func (r *OperationRepository) Insert(ctx context.Context, tx *sqlx.Tx, rec *domain.OperationRecord) error {
	query := `
		INSERT INTO operation_records
			(id, user_id, type, amount, fee_amount, principal_proof_ref,
			 fee_proof_ref, payout_ref, status, created_at)
		VALUES
			(:id, :user_id, :type, :amount, :fee_amount, :principal_proof_ref,
			 :fee_proof_ref, :payout_ref, :status, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, rec); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return domain.ErrDuplicateOperation
		}
		return fmt.Errorf("operation_repo.Insert: %w", err)
	}
	return nil
}

// UpdateStatus advances an operation's status after the ledger commit
// (PAYOUT_SENT, CONFIRMED, FAILED_RECOVERY) and records the payout signature.
func (r *OperationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OperationStatus, payoutRef *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE operation_records
		SET status     = $1,
		    payout_ref = COALESCE($2, payout_ref)
		WHERE id = $3`,
		string(status), payoutRef, id)
	if err != nil {
		return fmt.Errorf("operation_repo.UpdateStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation_repo.UpdateStatus: record %s not found", id)
	}
	return nil
}

// GetByID fetches one operation record.
func (r *OperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OperationRecord, error) {
	var rec domain.OperationRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM operation_records WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation_repo.GetByID: record %s not found", id)
		}
		return nil, fmt.Errorf("operation_repo.GetByID: %w", err)
	}
	return &rec, nil
}

// ListByUser returns a user's operation history, newest first.
func (r *OperationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.OperationRecord, error) {
	var recs []*domain.OperationRecord
	err := r.db.SelectContext(ctx, &recs, `
		SELECT * FROM operation_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("operation_repo.ListByUser: %w", err)
	}
	return recs, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Failed settlements (recovery queue)
// ──────────────────────────────────────────────────────────────────────────────

// InsertFailedSettlement records a post-commit payout failure. Runs outside
// the ledger transaction: the failure happens after that transaction committed.
func (r *OperationRepository) InsertFailedSettlement(ctx context.Context, fs *domain.FailedSettlement) error {
	query := `
		INSERT INTO failed_settlements
			(id, operation_id, user_id, amount, asset, destination,
			 principal_proof_ref, fee_proof_ref, error_detail, status, created_at)
		VALUES
			(:id, :operation_id, :user_id, :amount, :asset, :destination,
			 :principal_proof_ref, :fee_proof_ref, :error_detail, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fs); err != nil {
		return fmt.Errorf("operation_repo.InsertFailedSettlement: %w", err)
	}
	return nil
}

// ListFailedSettlements returns recovery-queue entries filtered by status,
// oldest first. status="" means all statuses.
func (r *OperationRepository) ListFailedSettlements(ctx context.Context, status domain.FailedSettlementStatus, limit, offset int) ([]*domain.FailedSettlement, error) {
	var rows []*domain.FailedSettlement
	var err error
	if status != "" {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM failed_settlements
			WHERE status = $1
			ORDER BY created_at ASC
			LIMIT $2 OFFSET $3`,
			string(status), limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM failed_settlements
			ORDER BY created_at ASC
			LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("operation_repo.ListFailedSettlements: %w", err)
	}
	return rows, nil
}

// GetFailedSettlement fetches one recovery-queue entry.
func (r *OperationRepository) GetFailedSettlement(ctx context.Context, id uuid.UUID) (*domain.FailedSettlement, error) {
	var fs domain.FailedSettlement
	err := r.db.GetContext(ctx, &fs, `SELECT * FROM failed_settlements WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation_repo.GetFailedSettlement: entry %s not found", id)
		}
		return nil, fmt.Errorf("operation_repo.GetFailedSettlement: %w", err)
	}
	return &fs, nil
}

// ResolveFailedSettlement transitions an entry out of PENDING_RECOVERY. The
// WHERE clause makes concurrent reconcile runs idempotent: only one can win.
func (r *OperationRepository) ResolveFailedSettlement(ctx context.Context, id uuid.UUID, status domain.FailedSettlementStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE failed_settlements
		SET status      = $1,
		    resolved_at = $2
		WHERE id = $3 AND status = $4`,
		string(status), time.Now().UTC(), id, string(domain.RecoveryPending))
	if err != nil {
		return fmt.Errorf("operation_repo.ResolveFailedSettlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation_repo.ResolveFailedSettlement: entry %s is not pending recovery", id)
	}
	return nil
}
