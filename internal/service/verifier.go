package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/chain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into PaymentVerifier
// ──────────────────────────────────────────────────────────────────────────────

// ProofFetcher is the minimal chain surface the verifier needs.
// Implemented by chain.RPCClient.
type ProofFetcher interface {
	FetchFinalizedTransaction(ctx context.Context, ref string) (*chain.TransactionProof, error)
}

// FeeProofIndex answers whether a fee proof reference was already consumed.
// Implemented by repository.OperationRepository.
type FeeProofIndex interface {
	ExistsFeeProof(ctx context.Context, feeProofRef string) (bool, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// PaymentVerifier
// ──────────────────────────────────────────────────────────────────────────────

// PaymentVerifier re-verifies client-submitted settlement proofs against the
// ledger before any state mutation. It never mutates anything itself.
type PaymentVerifier struct {
	fetcher ProofFetcher
	index   FeeProofIndex
	log     *slog.Logger

	custodyAddress string
	feeAddress     string
	tokenMint      string

	principalTolerance decimal.Decimal
	minFeeSOL          decimal.Decimal
	maxFeeSOL          decimal.Decimal

	lookupRetries     int
	lookupBackoffBase time.Duration
}

// NewPaymentVerifier creates a PaymentVerifier.
func NewPaymentVerifier(
	fetcher ProofFetcher,
	index FeeProofIndex,
	custodyAddress string,
	cfg *config.Config,
	log *slog.Logger,
) *PaymentVerifier {
	return &PaymentVerifier{
		fetcher:            fetcher,
		index:              index,
		log:                log.With("component", "verifier"),
		custodyAddress:     custodyAddress,
		feeAddress:         cfg.Chain.FeeWalletAddress,
		tokenMint:          cfg.Chain.TokenMint,
		principalTolerance: decimal.NewFromFloat(cfg.Staking.PrincipalTolerance),
		minFeeSOL:          decimal.NewFromFloat(cfg.Staking.MinFeeSOL),
		maxFeeSOL:          decimal.NewFromFloat(cfg.Staking.MaxFeeSOL),
		lookupRetries:      cfg.Chain.LookupRetries,
		lookupBackoffBase:  cfg.Chain.LookupBackoffBase,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Fee proof
// ──────────────────────────────────────────────────────────────────────────────

// VerifyFeeProof validates the mandatory fee payment for any operation type
// and returns the verified fee amount in SOL (later folded into the pool's
// reward reserve).
//
// Rules: the referenced transaction must be finalized and successful, must
// move native SOL into the fee-collection address, and the amount must fall
// inside the configured [minFee, maxFee] band. The band is intentionally wide
// (see config.StakingConfig) to absorb oracle drift between the client quote
// and server-side verification.
//
// The idempotency check runs first: a previously consumed reference fails with
// ErrDuplicateOperation before any chain lookup.
func (v *PaymentVerifier) VerifyFeeProof(ctx context.Context, feeProofRef string) (decimal.Decimal, error) {
	if !chain.ValidSignature(feeProofRef) {
		return decimal.Zero, fmt.Errorf("verifier.VerifyFeeProof: %w", domain.ErrInvalidProofRef)
	}

	used, err := v.index.ExistsFeeProof(ctx, feeProofRef)
	if err != nil {
		return decimal.Zero, fmt.Errorf("verifier.VerifyFeeProof: index lookup: %w", err)
	}
	if used {
		return decimal.Zero, domain.ErrDuplicateOperation
	}

	proof, err := v.fetchWithRetry(ctx, feeProofRef)
	if err != nil {
		return decimal.Zero, fmt.Errorf("verifier.VerifyFeeProof: %w", err)
	}
	if proof.Failed {
		return decimal.Zero, fmt.Errorf("verifier.VerifyFeeProof: transaction execution failed: %w", domain.ErrVerificationFailed)
	}

	delta := proof.LamportDelta(v.feeAddress)
	if delta <= 0 {
		return decimal.Zero, fmt.Errorf("verifier.VerifyFeeProof: no transfer into fee wallet: %w", domain.ErrVerificationFailed)
	}

	feeSOL := chain.LamportsToSol(uint64(delta))
	if feeSOL.LessThan(v.minFeeSOL) || feeSOL.GreaterThan(v.maxFeeSOL) {
		v.log.Warn("fee outside accepted band",
			"ref", feeProofRef, "fee_sol", feeSOL, "min", v.minFeeSOL, "max", v.maxFeeSOL)
		return decimal.Zero, fmt.Errorf("verifier.VerifyFeeProof: fee %s SOL outside band: %w",
			feeSOL.String(), domain.ErrVerificationFailed)
	}

	return feeSOL, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Principal proof
// ──────────────────────────────────────────────────────────────────────────────

// VerifyPrincipalProof validates the deposit transfer: the claimed user wallet
// must have signed the transaction, and custody must have received at least
// expectedAmount of the staking token, less a ~0.01% rounding band covering
// unit conversion only — not a business tolerance.
func (v *PaymentVerifier) VerifyPrincipalProof(ctx context.Context, principalProofRef, userWallet string, expectedAmount decimal.Decimal) error {
	if !chain.ValidSignature(principalProofRef) {
		return fmt.Errorf("verifier.VerifyPrincipalProof: %w", domain.ErrInvalidProofRef)
	}

	proof, err := v.fetchWithRetry(ctx, principalProofRef)
	if err != nil {
		return fmt.Errorf("verifier.VerifyPrincipalProof: %w", err)
	}
	if proof.Failed {
		return fmt.Errorf("verifier.VerifyPrincipalProof: transaction execution failed: %w", domain.ErrVerificationFailed)
	}

	if !proof.HasSigner(userWallet) {
		return fmt.Errorf("verifier.VerifyPrincipalProof: claimed wallet did not sign: %w", domain.ErrVerificationFailed)
	}

	received := proof.TokenDelta(v.custodyAddress, v.tokenMint)
	one := decimal.NewFromInt(1)
	minAccepted := expectedAmount.Mul(one.Sub(v.principalTolerance))
	if received.LessThan(minAccepted) {
		v.log.Warn("principal transfer below expected amount",
			"ref", principalProofRef, "received", received, "expected", expectedAmount)
		return fmt.Errorf("verifier.VerifyPrincipalProof: custody received %s, expected at least %s: %w",
			received.String(), minAccepted.String(), domain.ErrVerificationFailed)
	}

	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Lookup retry
// ──────────────────────────────────────────────────────────────────────────────

// fetchWithRetry retries transaction lookups that fail with not-found, which
// usually means propagation delay between the client's submission and our RPC
// node. Backoff grows linearly from the base (2s, 4s, 6s by default) and the
// attempt count is bounded; exhaustion surfaces as ErrTransientLookup.
func (v *PaymentVerifier) fetchWithRetry(ctx context.Context, ref string) (*chain.TransactionProof, error) {
	attempts := v.lookupRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := time.Duration(i) * v.lookupBackoffBase
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		proof, err := v.fetcher.FetchFinalizedTransaction(ctx, ref)
		if err == nil {
			return proof, nil
		}
		if !errors.Is(err, chain.ErrTxNotFound) {
			return nil, err
		}
		lastErr = err
		v.log.Debug("transaction not yet visible", "ref", ref, "attempt", i+1)
	}

	return nil, fmt.Errorf("%w: %s (last: %v)", domain.ErrTransientLookup, ref, lastErr)
}
