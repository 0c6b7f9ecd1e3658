package chain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// TransactionProof
// ──────────────────────────────────────────────────────────────────────────────

// TokenMovement is the net SPL balance change of one owner for one mint within
// a transaction, in UI units (base units shifted by the mint's decimals).
type TokenMovement struct {
	Owner  string
	Mint   string
	Amount decimal.Decimal // positive = received, negative = sent
}

// TransactionProof is the verifier-facing view of a finalized transaction.
// Verification works on net balance deltas rather than decoded instructions:
// deltas survive inner instructions, CPI wrappers, and versioned transactions,
// where instruction decoding would be brittle.
type TransactionProof struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Failed    bool // transaction landed but its execution errored

	Signers        []string
	LamportDeltas  map[string]int64 // address → post − pre
	TokenMovements []TokenMovement
}

// HasSigner reports whether the given address signed the transaction.
func (p *TransactionProof) HasSigner(address string) bool {
	for _, s := range p.Signers {
		if s == address {
			return true
		}
	}
	return false
}

// LamportDelta returns the net lamport change of an address (zero if the
// address was not touched).
func (p *TransactionProof) LamportDelta(address string) int64 {
	return p.LamportDeltas[address]
}

// TokenDelta returns the net token movement for an owner and mint, in UI units.
func (p *TransactionProof) TokenDelta(owner, mint string) decimal.Decimal {
	total := decimal.Zero
	for _, m := range p.TokenMovements {
		if m.Owner == owner && m.Mint == mint {
			total = total.Add(m.Amount)
		}
	}
	return total
}

// ──────────────────────────────────────────────────────────────────────────────
// Decoding
// ──────────────────────────────────────────────────────────────────────────────

// proofFromResult flattens a GetTransaction result into a TransactionProof.
func proofFromResult(ref string, res *rpc.GetTransactionResult) (*TransactionProof, error) {
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction envelope: %w", err)
	}

	// Account list order matches pre/post balance arrays: static message keys
	// first, then address-table loaded writable and readonly keys.
	accounts := make([]solana.PublicKey, 0,
		len(tx.Message.AccountKeys)+len(res.Meta.LoadedAddresses.Writable)+len(res.Meta.LoadedAddresses.ReadOnly))
	accounts = append(accounts, tx.Message.AccountKeys...)
	accounts = append(accounts, res.Meta.LoadedAddresses.Writable...)
	accounts = append(accounts, res.Meta.LoadedAddresses.ReadOnly...)

	proof := &TransactionProof{
		Signature:     ref,
		Slot:          res.Slot,
		Failed:        res.Meta.Err != nil,
		LamportDeltas: make(map[string]int64, len(accounts)),
	}
	if res.BlockTime != nil {
		proof.BlockTime = res.BlockTime.Time()
	}

	// Signers are the leading NumRequiredSignatures static keys.
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	if numSigners > len(tx.Message.AccountKeys) {
		numSigners = len(tx.Message.AccountKeys)
	}
	for i := 0; i < numSigners; i++ {
		proof.Signers = append(proof.Signers, tx.Message.AccountKeys[i].String())
	}

	// Native balance deltas.
	for i, acc := range accounts {
		if i >= len(res.Meta.PreBalances) || i >= len(res.Meta.PostBalances) {
			break
		}
		delta := int64(res.Meta.PostBalances[i]) - int64(res.Meta.PreBalances[i])
		if delta != 0 {
			proof.LamportDeltas[acc.String()] += delta
		}
	}

	// Token balance deltas, keyed by (owner, mint). Pre balances are indexed
	// by account index so pairs can be matched even when an account appears
	// only on one side (freshly created ATA).
	pre := make(map[uint16]decimal.Decimal, len(res.Meta.PreTokenBalances))
	for _, tb := range res.Meta.PreTokenBalances {
		amt, err := tokenAmount(tb)
		if err != nil {
			return nil, err
		}
		pre[tb.AccountIndex] = amt
	}
	seen := make(map[uint16]bool, len(res.Meta.PostTokenBalances))
	for _, tb := range res.Meta.PostTokenBalances {
		seen[tb.AccountIndex] = true
		amt, err := tokenAmount(tb)
		if err != nil {
			return nil, err
		}
		delta := amt.Sub(pre[tb.AccountIndex])
		if delta.IsZero() || tb.Owner == nil {
			continue
		}
		proof.TokenMovements = append(proof.TokenMovements, TokenMovement{
			Owner:  tb.Owner.String(),
			Mint:   tb.Mint.String(),
			Amount: delta,
		})
	}
	// Accounts emptied and closed in this transaction appear only in the pre set.
	for _, tb := range res.Meta.PreTokenBalances {
		if seen[tb.AccountIndex] || tb.Owner == nil {
			continue
		}
		amt, err := tokenAmount(tb)
		if err != nil {
			return nil, err
		}
		if amt.IsZero() {
			continue
		}
		proof.TokenMovements = append(proof.TokenMovements, TokenMovement{
			Owner:  tb.Owner.String(),
			Mint:   tb.Mint.String(),
			Amount: amt.Neg(),
		})
	}

	return proof, nil
}

// tokenAmount converts a raw token balance into UI units.
func tokenAmount(tb rpc.TokenBalance) (decimal.Decimal, error) {
	if tb.UiTokenAmount == nil {
		return decimal.Zero, nil
	}
	raw, err := decimal.NewFromString(tb.UiTokenAmount.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("token balance amount %q: %w", tb.UiTokenAmount.Amount, err)
	}
	return raw.Shift(-int32(tb.UiTokenAmount.Decimals)), nil
}

func parseUintAmount(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
