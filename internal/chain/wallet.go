package chain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Unit conversions
// ──────────────────────────────────────────────────────────────────────────────

// LamportsPerSOL is the native unit scale.
const LamportsPerSOL = 1_000_000_000

// SolToLamports converts a SOL amount to lamports, truncating sub-lamport dust.
func SolToLamports(sol decimal.Decimal) uint64 {
	lamports := sol.Shift(9).IntPart()
	if lamports < 0 {
		return 0
	}
	return uint64(lamports)
}

// LamportsToSol converts lamports to a SOL decimal.
func LamportsToSol(lamports uint64) decimal.Decimal {
	return decimal.NewFromUint64(lamports).Shift(-9)
}

// TokenToBaseUnits converts a UI token amount to base units for the given mint
// decimals, truncating sub-unit dust.
func TokenToBaseUnits(amount decimal.Decimal, decimals int32) uint64 {
	base := amount.Shift(decimals).IntPart()
	if base < 0 {
		return 0
	}
	return uint64(base)
}

// BaseUnitsToToken converts base units back to a UI token amount.
func BaseUnitsToToken(base uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(base).Shift(-decimals)
}

// ──────────────────────────────────────────────────────────────────────────────
// CustodyWallet
// ──────────────────────────────────────────────────────────────────────────────

// SignedTransfer is a fully signed, broadcast-ready payload. The same payload
// may be re-broadcast verbatim: the ledger deduplicates by signature, so
// resubmission cannot duplicate effects.
type SignedTransfer struct {
	Signature string
	Payload   []byte
}

// CustodyWallet holds the singleton custody keypair. Only the settlement
// executor (and the reconcile tooling) builds transfers with it, and only
// after the corresponding ledger commit.
type CustodyWallet struct {
	key solana.PrivateKey
}

// LoadCustodyWallet parses a base58-encoded private key.
func LoadCustodyWallet(base58Key string) (*CustodyWallet, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("chain.LoadCustodyWallet: %w", err)
	}
	return &CustodyWallet{key: key}, nil
}

// Address returns the custody wallet's public address.
func (w *CustodyWallet) Address() string {
	return w.key.PublicKey().String()
}

// TokenAccount derives the custody wallet's associated token account for a mint.
func (w *CustodyWallet) TokenAccount(mint string) (string, error) {
	mintPub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", fmt.Errorf("chain.TokenAccount: parse mint: %w", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.key.PublicKey(), mintPub)
	if err != nil {
		return "", fmt.Errorf("chain.TokenAccount: derive ata: %w", err)
	}
	return ata.String(), nil
}

// SignNativeTransfer builds and signs a lamport transfer from custody to the
// recipient, anchored to the given blockhash.
func (w *CustodyWallet) SignNativeTransfer(blockhash, recipient string, lamports uint64) (*SignedTransfer, error) {
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return nil, fmt.Errorf("chain.SignNativeTransfer: parse recipient: %w", err)
	}

	ix := system.NewTransferInstruction(lamports, w.key.PublicKey(), to).Build()
	return w.signInstructions(blockhash, ix)
}

// SignTokenTransfer builds and signs an SPL transfer of base units from the
// custody token account to the recipient's associated token account.
//
// The recipient ATA is assumed to exist: it was funded by the user's own
// deposit, so a withdrawal destination always has one.
func (w *CustodyWallet) SignTokenTransfer(blockhash, mint, recipient string, baseUnits uint64) (*SignedTransfer, error) {
	mintPub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("chain.SignTokenTransfer: parse mint: %w", err)
	}
	toWallet, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return nil, fmt.Errorf("chain.SignTokenTransfer: parse recipient: %w", err)
	}

	source, _, err := solana.FindAssociatedTokenAddress(w.key.PublicKey(), mintPub)
	if err != nil {
		return nil, fmt.Errorf("chain.SignTokenTransfer: derive source ata: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(toWallet, mintPub)
	if err != nil {
		return nil, fmt.Errorf("chain.SignTokenTransfer: derive dest ata: %w", err)
	}

	ix := token.NewTransferInstruction(baseUnits, source, dest, w.key.PublicKey(), nil).Build()
	return w.signInstructions(blockhash, ix)
}

// signInstructions assembles, signs, and serialises a transaction paid by the
// custody wallet.
func (w *CustodyWallet) signInstructions(blockhash string, instructions ...solana.Instruction) (*SignedTransfer, error) {
	recent, err := solana.HashFromBase58(blockhash)
	if err != nil {
		return nil, fmt.Errorf("chain.signInstructions: parse blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, recent, solana.TransactionPayer(w.key.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("chain.signInstructions: build: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.key.PublicKey()) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chain.signInstructions: sign: %w", err)
	}

	payload, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("chain.signInstructions: serialise: %w", err)
	}

	return &SignedTransfer{
		Signature: tx.Signatures[0].String(),
		Payload:   payload,
	}, nil
}

// ValidAddress reports whether s parses as a Solana public key.
func ValidAddress(s string) bool {
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

// ValidSignature reports whether s parses as a transaction signature.
func ValidSignature(s string) bool {
	_, err := solana.SignatureFromBase58(s)
	return err == nil
}
