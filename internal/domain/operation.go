package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Operation types & statuses
// ──────────────────────────────────────────────────────────────────────────────

// OperationType enumerates the three public staking operations.
type OperationType string

const (
	OpDeposit  OperationType = "DEPOSIT"
	OpClaim    OperationType = "CLAIM"
	OpWithdraw OperationType = "WITHDRAW"
)

// OperationStatus is the per-operation state machine. An operation is written
// to the log at LEDGER_COMMITTED (inside the same transaction as the balance
// mutation) and advanced as the payout progresses.
type OperationStatus string

const (
	StatusPendingVerification OperationStatus = "PENDING_VERIFICATION"
	StatusVerified            OperationStatus = "VERIFIED"
	StatusLedgerCommitted     OperationStatus = "LEDGER_COMMITTED"
	StatusPayoutSent          OperationStatus = "PAYOUT_SENT"
	StatusConfirmed           OperationStatus = "CONFIRMED"
	StatusFailedRecovery      OperationStatus = "FAILED_RECOVERY"
)

// statusTransitions encodes the legal edges of the operation state machine.
var statusTransitions = map[OperationStatus][]OperationStatus{
	StatusPendingVerification: {StatusVerified},
	StatusVerified:            {StatusLedgerCommitted},
	StatusLedgerCommitted:     {StatusPayoutSent, StatusConfirmed, StatusFailedRecovery},
	StatusPayoutSent:          {StatusConfirmed, StatusFailedRecovery},
}

// CanTransition reports whether moving from one status to another is legal.
func (s OperationStatus) CanTransition(to OperationStatus) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the operation has reached a final state.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailedRecovery
}

// ──────────────────────────────────────────────────────────────────────────────
// OperationRecord
// ──────────────────────────────────────────────────────────────────────────────

// OperationRecord is one entry of the append-only operation log. FeeProofRef
// carries a global unique constraint — it is the sole idempotency mechanism
// across all operations.
type OperationRecord struct {
	ID                uuid.UUID       `json:"id"                  db:"id"`
	UserID            uuid.UUID       `json:"user_id"             db:"user_id"`
	Type              OperationType   `json:"type"                db:"type"`
	Amount            decimal.Decimal `json:"amount"              db:"amount"`
	FeeAmount         decimal.Decimal `json:"fee_amount"          db:"fee_amount"`
	PrincipalProofRef *string         `json:"principal_proof_ref" db:"principal_proof_ref"`
	FeeProofRef       string          `json:"fee_proof_ref"       db:"fee_proof_ref"`
	PayoutRef         *string         `json:"payout_ref"          db:"payout_ref"`
	Status            OperationStatus `json:"status"              db:"status"`
	CreatedAt         time.Time       `json:"created_at"          db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// FailedSettlement
// ──────────────────────────────────────────────────────────────────────────────

// SettlementAsset distinguishes the two payout paths.
type SettlementAsset string

const (
	AssetSOL   SettlementAsset = "SOL"  // native transfer (claims)
	AssetToken SettlementAsset = "MKIN" // SPL token transfer (withdrawals)
)

// FailedSettlementStatus tracks the manual recovery lifecycle. Only the
// reconcile tooling may move a row out of PENDING_RECOVERY.
type FailedSettlementStatus string

const (
	RecoveryPending   FailedSettlementStatus = "PENDING_RECOVERY"
	RecoveryRecovered FailedSettlementStatus = "RECOVERED"
	RecoveryAbandoned FailedSettlementStatus = "ABANDONED"
)

// FailedSettlement captures the full context of an operation whose ledger
// mutation committed but whose outbound transfer did not confirm. Written only
// by the Settlement Executor; immutable apart from the recovery status.
type FailedSettlement struct {
	ID                uuid.UUID              `json:"id"                  db:"id"`
	OperationID       uuid.UUID              `json:"operation_id"        db:"operation_id"`
	UserID            uuid.UUID              `json:"user_id"             db:"user_id"`
	Amount            decimal.Decimal        `json:"amount"              db:"amount"`
	Asset             SettlementAsset        `json:"asset"               db:"asset"`
	Destination       string                 `json:"destination"         db:"destination"`
	PrincipalProofRef *string                `json:"principal_proof_ref" db:"principal_proof_ref"`
	FeeProofRef       string                 `json:"fee_proof_ref"       db:"fee_proof_ref"`
	ErrorDetail       string                 `json:"error_detail"        db:"error_detail"`
	Status            FailedSettlementStatus `json:"status"              db:"status"`
	CreatedAt         time.Time              `json:"created_at"          db:"created_at"`
	ResolvedAt        *time.Time             `json:"resolved_at"         db:"resolved_at"`
}
