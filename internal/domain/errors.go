package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Validation errors — malformed input, rejected synchronously before any work.
var (
	// ErrValidation is the generic malformed-input error.
	ErrValidation = errors.New("invalid request")

	// ErrAmountNotPositive is returned when an operation amount is zero or negative.
	ErrAmountNotPositive = errors.New("amount must be a positive decimal")

	// ErrInvalidWalletAddress is returned when a wallet address fails base58 checks.
	ErrInvalidWalletAddress = errors.New("invalid wallet address")

	// ErrInvalidProofRef is returned when a settlement proof reference is not a
	// plausible transaction signature.
	ErrInvalidProofRef = errors.New("invalid settlement proof reference")
)

// Verification errors — the submitted on-chain proof does not satisfy the rules.
var (
	// ErrDuplicateOperation is returned when the fee proof reference has already
	// been consumed by a previous operation. The fee proof is the sole
	// idempotency mechanism: it is checked before verification and again inside
	// the ledger transaction (unique index), so no double-spend can commit.
	ErrDuplicateOperation = errors.New("settlement proof already used by a previous operation")

	// ErrVerificationFailed is returned when the referenced transaction exists
	// but does not satisfy the transfer rules (wrong destination, wrong signer,
	// amount out of tolerance).
	ErrVerificationFailed = errors.New("on-chain proof verification failed")

	// ErrTransientLookup is returned after bounded retries when the referenced
	// transaction is still not visible on the ledger (propagation delay or a
	// reference that never landed).
	ErrTransientLookup = errors.New("transaction not yet visible on chain")
)

// Ledger / position errors.
var (
	// ErrPositionNotFound is returned when the user has never deposited.
	ErrPositionNotFound = errors.New("staking position not found")

	// ErrInsufficientPrincipal is returned when a withdrawal exceeds the
	// user's staked principal.
	ErrInsufficientPrincipal = errors.New("withdrawal amount exceeds staked principal")

	// ErrNothingToClaim is returned when the pending reward is zero.
	ErrNothingToClaim = errors.New("no pending reward to claim")
)

// Settlement errors.
var (
	// ErrInsufficientCustodyFunds is returned when the custody wallet cannot
	// cover the payout plus the estimated network fee. This is a pre-flight
	// failure: the operation is rejected before the ledger commits.
	ErrInsufficientCustodyFunds = errors.New("custody wallet balance cannot cover the payout")

	// ErrPayoutExecution is returned when the outbound transfer could not be
	// confirmed after the ledger already committed. Callers still receive the
	// ledger-visible result; the payout moves to the recovery queue.
	ErrPayoutExecution = errors.New("payout could not be confirmed; queued for recovery")
)

// Auth errors (used by the routing layer).
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated user lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsNotFound returns true when err (or any error in its chain) is a domain
// "not found" error. Use this when translating domain errors to HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPositionNotFound)
}

// IsConflict returns true for errors that represent a state conflict — most
// importantly a reused settlement proof.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateOperation)
}

// IsRejected returns true for errors raised before the ledger commit, i.e.
// the caller may safely retry with a fresh proof. Post-commit payout failures
// are deliberately excluded: the ledger already reflects those operations.
func IsRejected(err error) bool {
	rejections := []error{
		ErrValidation,
		ErrAmountNotPositive,
		ErrInvalidWalletAddress,
		ErrInvalidProofRef,
		ErrDuplicateOperation,
		ErrVerificationFailed,
		ErrTransientLookup,
		ErrInsufficientPrincipal,
		ErrNothingToClaim,
		ErrInsufficientCustodyFunds,
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
