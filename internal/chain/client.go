// Package chain wraps the Solana RPC surface the settlement engine needs:
// fetching finalized transactions as verifiable proofs, broadcasting signed
// payloads, polling signature status, and reading balances.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ──────────────────────────────────────────────────────────────────────────────
// Client interface
// ──────────────────────────────────────────────────────────────────────────────

// ErrTxNotFound is returned when a transaction reference is not (yet) visible
// on the ledger. Verification retries on it with bounded backoff.
var ErrTxNotFound = errors.New("transaction not found on chain")

// ConfirmationStatus is the coarse signature confirmation level.
type ConfirmationStatus string

const (
	ConfirmationUnknown   ConfirmationStatus = "unknown"
	ConfirmationProcessed ConfirmationStatus = "processed"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFinalized ConfirmationStatus = "finalized"
	ConfirmationFailed    ConfirmationStatus = "failed"
)

// Landed reports whether the signature reached at least the confirmed level.
func (s ConfirmationStatus) Landed() bool {
	return s == ConfirmationConfirmed || s == ConfirmationFinalized
}

// Client is the ledger access surface consumed by the verifier and the
// settlement executor. Implemented by RPCClient; faked in tests.
type Client interface {
	// FetchFinalizedTransaction returns the decoded proof of a finalized
	// transaction, or ErrTxNotFound while it is not visible.
	FetchFinalizedTransaction(ctx context.Context, ref string) (*TransactionProof, error)

	// BroadcastSignedTransaction submits a fully signed payload and returns its
	// signature. Re-submitting an identical payload is safe: the ledger
	// deduplicates by signature.
	BroadcastSignedTransaction(ctx context.Context, payload []byte) (string, error)

	// PollSignatureStatus returns the current confirmation level of a signature.
	PollSignatureStatus(ctx context.Context, ref string) (ConfirmationStatus, error)

	// GetLatestBlockReference returns the latest blockhash (base58).
	GetLatestBlockReference(ctx context.Context) (string, error)

	// GetAccountBalance returns an address's native balance in lamports.
	GetAccountBalance(ctx context.Context, address string) (uint64, error)

	// GetTokenAccountBalance returns an SPL token account balance in base units.
	GetTokenAccountBalance(ctx context.Context, tokenAccount string) (uint64, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// RPCClient
// ──────────────────────────────────────────────────────────────────────────────

// RPCClient implements Client over a JSON-RPC endpoint.
type RPCClient struct {
	rpc *rpc.Client
	log *slog.Logger
}

// NewRPCClient creates an RPCClient against the given endpoint.
func NewRPCClient(endpoint string, log *slog.Logger) *RPCClient {
	return &RPCClient{
		rpc: rpc.New(endpoint),
		log: log.With("component", "chain"),
	}
}

var maxSupportedTxVersion uint64 = 0

// FetchFinalizedTransaction fetches a transaction at finalized commitment and
// decodes it into a TransactionProof.
func (c *RPCClient) FetchFinalizedTransaction(ctx context.Context, ref string) (*TransactionProof, error) {
	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return nil, fmt.Errorf("chain.FetchFinalizedTransaction: parse ref: %w", err)
	}

	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxSupportedTxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("chain.FetchFinalizedTransaction: %w", err)
	}
	if res == nil || res.Meta == nil {
		return nil, ErrTxNotFound
	}

	proof, err := proofFromResult(ref, res)
	if err != nil {
		return nil, fmt.Errorf("chain.FetchFinalizedTransaction: decode: %w", err)
	}
	return proof, nil
}

// BroadcastSignedTransaction submits the raw payload with preflight disabled:
// the payload was already simulated implicitly when built, and preflight would
// reject legitimate re-broadcasts of an in-flight transaction.
func (c *RPCClient) BroadcastSignedTransaction(ctx context.Context, payload []byte) (string, error) {
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, payload, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("chain.BroadcastSignedTransaction: %w", err)
	}
	return sig.String(), nil
}

// PollSignatureStatus queries the current confirmation level of one signature.
func (c *RPCClient) PollSignatureStatus(ctx context.Context, ref string) (ConfirmationStatus, error) {
	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return ConfirmationUnknown, fmt.Errorf("chain.PollSignatureStatus: parse ref: %w", err)
	}

	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return ConfirmationUnknown, fmt.Errorf("chain.PollSignatureStatus: %w", err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return ConfirmationUnknown, nil
	}

	st := res.Value[0]
	if st.Err != nil {
		return ConfirmationFailed, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return ConfirmationFinalized, nil
	case rpc.ConfirmationStatusConfirmed:
		return ConfirmationConfirmed, nil
	case rpc.ConfirmationStatusProcessed:
		return ConfirmationProcessed, nil
	default:
		return ConfirmationUnknown, nil
	}
}

// GetLatestBlockReference returns the latest finalized blockhash.
func (c *RPCClient) GetLatestBlockReference(ctx context.Context) (string, error) {
	res, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("chain.GetLatestBlockReference: %w", err)
	}
	return res.Value.Blockhash.String(), nil
}

// GetAccountBalance returns the lamport balance of an address.
func (c *RPCClient) GetAccountBalance(ctx context.Context, address string) (uint64, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("chain.GetAccountBalance: parse address: %w", err)
	}
	res, err := c.rpc.GetBalance(ctx, pub, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("chain.GetAccountBalance: %w", err)
	}
	return res.Value, nil
}

// GetTokenAccountBalance returns an SPL token account balance in base units.
func (c *RPCClient) GetTokenAccountBalance(ctx context.Context, tokenAccount string) (uint64, error) {
	pub, err := solana.PublicKeyFromBase58(tokenAccount)
	if err != nil {
		return 0, fmt.Errorf("chain.GetTokenAccountBalance: parse account: %w", err)
	}
	res, err := c.rpc.GetTokenAccountBalance(ctx, pub, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("chain.GetTokenAccountBalance: %w", err)
	}
	if res == nil || res.Value == nil {
		return 0, nil
	}
	amount, err := parseUintAmount(res.Value.Amount)
	if err != nil {
		return 0, fmt.Errorf("chain.GetTokenAccountBalance: parse amount: %w", err)
	}
	return amount, nil
}
