package service_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/chain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/service"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ── Test fixtures ─────────────────────────────────────────────────────────────

const (
	custodyAddr = "7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv"
	feeAddr     = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	userAddr    = "GDfnEsia2WLAW5t8yx2X5j2mkfA74i5kwGdDuZHt7XmG"
	testMint    = "MKinMint111111111111111111111111111111111111"
)

// testSig returns a syntactically valid base58 signature filled with b.
func testSig(b byte) string {
	var s solana.Signature
	for i := range s {
		s[i] = b
	}
	return s.String()
}

// fakeFetcher serves canned proofs per reference and counts lookups. Returning
// chain.ErrTxNotFound for the first failUntil calls simulates propagation lag.
type fakeFetcher struct {
	proofs    map[string]*chain.TransactionProof
	failUntil int
	calls     int
}

func (f *fakeFetcher) FetchFinalizedTransaction(_ context.Context, ref string) (*chain.TransactionProof, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, chain.ErrTxNotFound
	}
	p, ok := f.proofs[ref]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return p, nil
}

// fakeIndex reports canned idempotency answers.
type fakeIndex struct {
	used map[string]bool
}

func (f *fakeIndex) ExistsFeeProof(_ context.Context, ref string) (bool, error) {
	return f.used[ref], nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Chain.FeeWalletAddress = feeAddr
	cfg.Chain.TokenMint = testMint
	cfg.Chain.LookupRetries = 3
	cfg.Chain.LookupBackoffBase = time.Millisecond
	cfg.Staking.PrincipalTolerance = 0.0001
	cfg.Staking.MinFeeSOL = 0.0005
	cfg.Staking.MaxFeeSOL = 0.01
	return cfg
}

func newTestVerifier(fetcher *fakeFetcher, index *fakeIndex) *service.PaymentVerifier {
	if index == nil {
		index = &fakeIndex{used: map[string]bool{}}
	}
	return service.NewPaymentVerifier(fetcher, index, custodyAddr, testConfig(), slog.Default())
}

// feeProof returns a finalized proof moving feeLamports into the fee wallet.
func feeProof(ref string, feeLamports int64) *chain.TransactionProof {
	return &chain.TransactionProof{
		Signature: ref,
		Signers:   []string{userAddr},
		LamportDeltas: map[string]int64{
			feeAddr:  feeLamports,
			userAddr: -feeLamports,
		},
	}
}

// ── Fee proof ─────────────────────────────────────────────────────────────────

// TestVerifyFeeProofAccepted: 0.002 SOL into the fee wallet sits inside the
// [0.0005, 0.01] band and is returned as the verified fee.
func TestVerifyFeeProofAccepted(t *testing.T) {
	ref := testSig(1)
	fetcher := &fakeFetcher{proofs: map[string]*chain.TransactionProof{
		ref: feeProof(ref, 2_000_000), // 0.002 SOL
	}}
	v := newTestVerifier(fetcher, nil)

	fee, err := v.VerifyFeeProof(context.Background(), ref)
	if err != nil {
		t.Fatalf("VerifyFeeProof: %v", err)
	}
	want := decimal.NewFromFloat(0.002)
	if !fee.Equal(want) {
		t.Errorf("fee = %s, want %s", fee, want)
	}
}

// TestVerifyFeeProofDuplicate: a consumed reference is rejected before any
// chain lookup happens.
func TestVerifyFeeProofDuplicate(t *testing.T) {
	ref := testSig(2)
	fetcher := &fakeFetcher{proofs: map[string]*chain.TransactionProof{}}
	index := &fakeIndex{used: map[string]bool{ref: true}}
	v := newTestVerifier(fetcher, index)

	_, err := v.VerifyFeeProof(context.Background(), ref)
	if !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("err = %v, want ErrDuplicateOperation", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("chain lookup ran %d times for a duplicate ref", fetcher.calls)
	}
}

// TestVerifyFeeProofBand rejects fees on both sides of the band but accepts
// the boundaries themselves.
func TestVerifyFeeProofBand(t *testing.T) {
	cases := []struct {
		name     string
		lamports int64
		ok       bool
	}{
		{"below min", 400_000, false},    // 0.0004
		{"at min", 500_000, true},        // 0.0005
		{"mid band", 5_000_000, true},    // 0.005
		{"at max", 10_000_000, true},     // 0.01
		{"above max", 20_000_000, false}, // 0.02
	}

	for i, tc := range cases {
		ref := testSig(byte(10 + i))
		fetcher := &fakeFetcher{proofs: map[string]*chain.TransactionProof{
			ref: feeProof(ref, tc.lamports),
		}}
		v := newTestVerifier(fetcher, nil)

		_, err := v.VerifyFeeProof(context.Background(), ref)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, domain.ErrVerificationFailed) {
			t.Errorf("%s: err = %v, want ErrVerificationFailed", tc.name, err)
		}
	}
}

// TestVerifyFeeProofRejections: failed execution, missing fee transfer, and a
// malformed reference are all rejected.
func TestVerifyFeeProofRejections(t *testing.T) {
	failedRef := testSig(20)
	noFeeRef := testSig(21)
	fetcher := &fakeFetcher{proofs: map[string]*chain.TransactionProof{
		failedRef: {Signature: failedRef, Failed: true, LamportDeltas: map[string]int64{feeAddr: 1_000_000}},
		noFeeRef:  {Signature: noFeeRef, LamportDeltas: map[string]int64{userAddr: -1_000_000}},
	}}
	v := newTestVerifier(fetcher, nil)
	ctx := context.Background()

	if _, err := v.VerifyFeeProof(ctx, failedRef); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Errorf("failed tx: err = %v, want ErrVerificationFailed", err)
	}
	if _, err := v.VerifyFeeProof(ctx, noFeeRef); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Errorf("no fee transfer: err = %v, want ErrVerificationFailed", err)
	}
	if _, err := v.VerifyFeeProof(ctx, "not-a-signature"); !errors.Is(err, domain.ErrInvalidProofRef) {
		t.Errorf("malformed ref: err = %v, want ErrInvalidProofRef", err)
	}
}

// TestVerifyFeeProofRetry: the lookup retries through propagation lag and
// succeeds on the final attempt.
func TestVerifyFeeProofRetry(t *testing.T) {
	ref := testSig(3)
	fetcher := &fakeFetcher{
		proofs:    map[string]*chain.TransactionProof{ref: feeProof(ref, 1_000_000)},
		failUntil: 2, // attempts 1 and 2 miss, attempt 3 hits
	}
	v := newTestVerifier(fetcher, nil)

	if _, err := v.VerifyFeeProof(context.Background(), ref); err != nil {
		t.Fatalf("VerifyFeeProof: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("lookup ran %d times, want 3", fetcher.calls)
	}
}

// TestVerifyFeeProofRetryExhausted: a reference that never appears exhausts
// the bounded attempts and surfaces ErrTransientLookup.
func TestVerifyFeeProofRetryExhausted(t *testing.T) {
	ref := testSig(4)
	fetcher := &fakeFetcher{proofs: map[string]*chain.TransactionProof{}}
	v := newTestVerifier(fetcher, nil)

	_, err := v.VerifyFeeProof(context.Background(), ref)
	if !errors.Is(err, domain.ErrTransientLookup) {
		t.Fatalf("err = %v, want ErrTransientLookup", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("lookup ran %d times, want 3", fetcher.calls)
	}
}

// ── Principal proof ───────────────────────────────────────────────────────────

// TestVerifyPrincipalProof covers the signer check and the received-amount
// tolerance: 999.95 of an expected 1000 clears the 0.01 % rounding band only
// when within it.
func TestVerifyPrincipalProof(t *testing.T) {
	okRef := testSig(5)
	shortRef := testSig(6)
	wrongSignerRef := testSig(7)

	fetcher := &fakeFetcher{proofs: map[string]*chain.TransactionProof{
		okRef: {
			Signature: okRef,
			Signers:   []string{userAddr},
			TokenMovements: []chain.TokenMovement{
				{Owner: custodyAddr, Mint: testMint, Amount: decimal.NewFromFloat(999.95)},
			},
		},
		shortRef: {
			Signature: shortRef,
			Signers:   []string{userAddr},
			TokenMovements: []chain.TokenMovement{
				{Owner: custodyAddr, Mint: testMint, Amount: decimal.NewFromInt(900)},
			},
		},
		wrongSignerRef: {
			Signature: wrongSignerRef,
			Signers:   []string{feeAddr},
			TokenMovements: []chain.TokenMovement{
				{Owner: custodyAddr, Mint: testMint, Amount: decimal.NewFromInt(1000)},
			},
		},
	}}
	v := newTestVerifier(fetcher, nil)
	ctx := context.Background()

	// 999.95 ≥ 1000 × (1 − 0.0001) = 999.9 → accepted.
	if err := v.VerifyPrincipalProof(ctx, okRef, userAddr, decimal.NewFromInt(1000)); err != nil {
		t.Errorf("within tolerance: %v", err)
	}

	// 900 < 999.9 → rejected.
	if err := v.VerifyPrincipalProof(ctx, shortRef, userAddr, decimal.NewFromInt(1000)); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Errorf("short transfer: err = %v, want ErrVerificationFailed", err)
	}

	// Right amount, wrong signer → rejected.
	if err := v.VerifyPrincipalProof(ctx, wrongSignerRef, userAddr, decimal.NewFromInt(1000)); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Errorf("wrong signer: err = %v, want ErrVerificationFailed", err)
	}
}
