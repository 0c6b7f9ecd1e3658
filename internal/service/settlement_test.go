package service_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/chain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/notifier"
	"github.com/EM-ade/realmkin-backend-sub000/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

// fakeChain scripts the RPC surface the executor touches.
type fakeChain struct {
	mu sync.Mutex

	solBalance   uint64
	tokenBalance uint64
	broadcasts   int
	broadcastErr error

	// pollStatuses is consumed one per poll; the last entry repeats forever.
	pollStatuses []chain.ConfirmationStatus
	polls        int
}

func (f *fakeChain) FetchFinalizedTransaction(context.Context, string) (*chain.TransactionProof, error) {
	return nil, chain.ErrTxNotFound
}

func (f *fakeChain) BroadcastSignedTransaction(context.Context, []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts++
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	return "sig", nil
}

func (f *fakeChain) PollSignatureStatus(context.Context, string) (chain.ConfirmationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i >= len(f.pollStatuses) {
		i = len(f.pollStatuses) - 1
	}
	return f.pollStatuses[i], nil
}

func (f *fakeChain) GetLatestBlockReference(context.Context) (string, error) {
	return "BLOCKHASH", nil
}

func (f *fakeChain) GetAccountBalance(context.Context, string) (uint64, error) {
	return f.solBalance, nil
}

func (f *fakeChain) GetTokenAccountBalance(context.Context, string) (uint64, error) {
	return f.tokenBalance, nil
}

// fakeSigner returns a fixed signed payload without touching a real keypair.
type fakeSigner struct {
	signErr error
}

func (f *fakeSigner) Address() string                     { return custodyAddr }
func (f *fakeSigner) TokenAccount(string) (string, error) { return "CustodyATA", nil }

func (f *fakeSigner) SignNativeTransfer(_, _ string, _ uint64) (*chain.SignedTransfer, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	return &chain.SignedTransfer{Signature: "native-sig", Payload: []byte("native")}, nil
}

func (f *fakeSigner) SignTokenTransfer(_, _, _ string, _ uint64) (*chain.SignedTransfer, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	return &chain.SignedTransfer{Signature: "token-sig", Payload: []byte("token")}, nil
}

// fakeStore records status transitions and recovery-queue inserts.
type fakeStore struct {
	mu       sync.Mutex
	statuses []domain.OperationStatus
	failed   []*domain.FailedSettlement
}

func (f *fakeStore) UpdateStatus(_ context.Context, _ uuid.UUID, status domain.OperationStatus, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) InsertFailedSettlement(_ context.Context, fs *domain.FailedSettlement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, fs)
	return nil
}

func settlementConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Chain.TokenMint = testMint
	cfg.Chain.TokenDecimals = 6
	cfg.Chain.ConfirmInterval = 2 * time.Millisecond
	cfg.Chain.ConfirmTimeout = 60 * time.Millisecond
	cfg.Chain.EstimatedNetFeeSOL = 0.00001
	return cfg
}

func newTestExecutor(cl *fakeChain, signer *fakeSigner, store *fakeStore) *service.SettlementExecutor {
	return service.NewSettlementExecutor(cl, signer, store, notifier.Noop{}, settlementConfig(), slog.Default())
}

func testRequest() service.SettlementRequest {
	return service.SettlementRequest{
		OperationID: uuid.New(),
		UserID:      uuid.New(),
		Amount:      decimal.NewFromFloat(0.5),
		Asset:       domain.AssetSOL,
		Destination: userAddr,
		FeeProofRef: testSig(40),
	}
}

// ── Preflight ─────────────────────────────────────────────────────────────────

// TestPreflightNativeBalance: the custody wallet must cover payout + network
// fee before the ledger is allowed to commit.
func TestPreflightNativeBalance(t *testing.T) {
	cl := &fakeChain{solBalance: 1_000_000_000} // 1 SOL
	ex := newTestExecutor(cl, &fakeSigner{}, &fakeStore{})
	ctx := context.Background()

	if err := ex.Preflight(ctx, domain.AssetSOL, decimal.NewFromFloat(0.5)); err != nil {
		t.Errorf("covered payout rejected: %v", err)
	}
	if err := ex.Preflight(ctx, domain.AssetSOL, decimal.NewFromInt(2)); !errors.Is(err, domain.ErrInsufficientCustodyFunds) {
		t.Errorf("uncovered payout: err = %v, want ErrInsufficientCustodyFunds", err)
	}
	// Exactly the payout with no fee headroom left must fail too.
	if err := ex.Preflight(ctx, domain.AssetSOL, decimal.NewFromInt(1)); !errors.Is(err, domain.ErrInsufficientCustodyFunds) {
		t.Errorf("no fee headroom: err = %v, want ErrInsufficientCustodyFunds", err)
	}
}

// TestPreflightTokenBalance checks the SPL path: the token account covers the
// amount and the native balance covers the network fee.
func TestPreflightTokenBalance(t *testing.T) {
	cl := &fakeChain{solBalance: 1_000_000, tokenBalance: 500_000_000} // 500 MKIN at 6 decimals
	ex := newTestExecutor(cl, &fakeSigner{}, &fakeStore{})
	ctx := context.Background()

	if err := ex.Preflight(ctx, domain.AssetToken, decimal.NewFromInt(400)); err != nil {
		t.Errorf("covered token payout rejected: %v", err)
	}
	if err := ex.Preflight(ctx, domain.AssetToken, decimal.NewFromInt(600)); !errors.Is(err, domain.ErrInsufficientCustodyFunds) {
		t.Errorf("uncovered token payout: err = %v, want ErrInsufficientCustodyFunds", err)
	}
}

// ── Execute ───────────────────────────────────────────────────────────────────

// TestExecuteConfirmed: broadcast, one poll, confirmed. Statuses advance
// PAYOUT_SENT → CONFIRMED and nothing lands in the recovery queue.
func TestExecuteConfirmed(t *testing.T) {
	cl := &fakeChain{pollStatuses: []chain.ConfirmationStatus{chain.ConfirmationFinalized}}
	store := &fakeStore{}
	ex := newTestExecutor(cl, &fakeSigner{}, store)

	sig, err := ex.Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sig != "native-sig" {
		t.Errorf("payout ref = %q, want native-sig", sig)
	}
	if len(store.failed) != 0 {
		t.Errorf("recovery queue has %d entries, want 0", len(store.failed))
	}
	wantStatuses := []domain.OperationStatus{domain.StatusPayoutSent, domain.StatusConfirmed}
	if len(store.statuses) != len(wantStatuses) {
		t.Fatalf("statuses = %v, want %v", store.statuses, wantStatuses)
	}
	for i, s := range wantStatuses {
		if store.statuses[i] != s {
			t.Errorf("status[%d] = %s, want %s", i, store.statuses[i], s)
		}
	}
}

// TestExecuteTimeoutQueuesRecovery: the signature never lands inside the
// bounded window. Exactly one FailedSettlement is written, the operation flips
// to FAILED_RECOVERY, the identical payload was re-broadcast at least once,
// and the caller sees ErrPayoutExecution.
func TestExecuteTimeoutQueuesRecovery(t *testing.T) {
	cl := &fakeChain{pollStatuses: []chain.ConfirmationStatus{chain.ConfirmationUnknown}}
	store := &fakeStore{}
	ex := newTestExecutor(cl, &fakeSigner{}, store)
	req := testRequest()

	sig, err := ex.Execute(context.Background(), req)
	if !errors.Is(err, domain.ErrPayoutExecution) {
		t.Fatalf("err = %v, want ErrPayoutExecution", err)
	}
	if sig != "native-sig" {
		t.Errorf("payout ref = %q, want native-sig", sig)
	}

	if len(store.failed) != 1 {
		t.Fatalf("recovery queue has %d entries, want exactly 1", len(store.failed))
	}
	fs := store.failed[0]
	if fs.OperationID != req.OperationID || fs.Asset != domain.AssetSOL || !fs.Amount.Equal(req.Amount) {
		t.Errorf("queued entry mismatch: %+v", fs)
	}
	if fs.Status != domain.RecoveryPending {
		t.Errorf("queued status = %s, want %s", fs.Status, domain.RecoveryPending)
	}

	last := store.statuses[len(store.statuses)-1]
	if last != domain.StatusFailedRecovery {
		t.Errorf("final status = %s, want FAILED_RECOVERY", last)
	}

	// 60ms window at 2ms cadence crosses the rebroadcast-every-5-polls mark.
	if cl.broadcasts < 2 {
		t.Errorf("broadcasts = %d, want initial + at least one re-broadcast", cl.broadcasts)
	}
}

// TestExecuteTerminalFailure: a transaction the ledger rejects ends the loop
// immediately and still produces exactly one recovery entry.
func TestExecuteTerminalFailure(t *testing.T) {
	cl := &fakeChain{pollStatuses: []chain.ConfirmationStatus{chain.ConfirmationFailed}}
	store := &fakeStore{}
	ex := newTestExecutor(cl, &fakeSigner{}, store)

	_, err := ex.Execute(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrPayoutExecution) {
		t.Fatalf("err = %v, want ErrPayoutExecution", err)
	}
	if len(store.failed) != 1 {
		t.Errorf("recovery queue has %d entries, want 1", len(store.failed))
	}
}

// TestExecuteBroadcastFailure: a broadcast that never leaves the building is
// queued for recovery without any status ever reaching PAYOUT_SENT.
func TestExecuteBroadcastFailure(t *testing.T) {
	cl := &fakeChain{broadcastErr: errors.New("rpc unavailable")}
	store := &fakeStore{}
	ex := newTestExecutor(cl, &fakeSigner{}, store)

	sig, err := ex.Execute(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrPayoutExecution) {
		t.Fatalf("err = %v, want ErrPayoutExecution", err)
	}
	if sig != "" {
		t.Errorf("payout ref = %q, want empty", sig)
	}
	if len(store.failed) != 1 {
		t.Fatalf("recovery queue has %d entries, want 1", len(store.failed))
	}
	for _, s := range store.statuses {
		if s == domain.StatusPayoutSent || s == domain.StatusConfirmed {
			t.Errorf("status %s recorded for a payout that never broadcast", s)
		}
	}
}
