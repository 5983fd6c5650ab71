package reconciler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/starkpay/gateway/internal/app/domain/intent"
	"github.com/starkpay/gateway/internal/app/services/merchants"
	"github.com/starkpay/gateway/internal/app/storage/memory"
	"github.com/starkpay/gateway/internal/chain"
)

// fakeChain serves canned receipts keyed by transaction hash.
type fakeChain struct {
	receipts map[string]*chain.Receipt
	errs     map[string]error
	calls    int
}

func (f *fakeChain) GetTransactionReceipt(_ context.Context, txHash string) (*chain.Receipt, error) {
	f.calls++
	if err, ok := f.errs[txHash]; ok {
		return nil, err
	}
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, chain.ErrNotFound
}

type fixture struct {
	store    *memory.Store
	chain    *fakeChain
	ledger   *merchants.Service
	svc      *Service
	merchant string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	fc := &fakeChain{receipts: map[string]*chain.Receipt{}, errs: map[string]error{}}
	ledger := merchants.New(store, store, nil)
	decoder := newTestDecoder(t, "")

	f := &fixture{
		store:    store,
		chain:    fc,
		ledger:   ledger,
		svc:      New(store, ledger, fc, decoder, Config{}, nil),
		merchant: chain.NormalizeAddress(testMerchant),
	}

	if _, err := ledger.Register(context.Background(), testMerchant, "Test Shop"); err != nil {
		t.Fatalf("register merchant: %v", err)
	}
	return f
}

// addIntent creates an open intent carrying the given transaction hash.
func (f *fixture) addIntent(t *testing.T, id, txHash string) intent.Intent {
	t.Helper()
	ctx := context.Background()

	it, err := f.store.CreateIntent(ctx, intent.Intent{
		ID:              id,
		MerchantAddress: f.merchant,
		TokenAddress:    chain.NormalizeAddress(testToken),
		RequestedAmount: "10.00",
		Status:          intent.StatusPending,
		ExpiresAt:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if txHash != "" {
		it, err = f.store.AttachTransaction(ctx, id, chain.NormalizeAddress(txHash))
		if err != nil {
			t.Fatalf("attach transaction: %v", err)
		}
	}
	return it
}

func (f *fixture) merchantTotals(t *testing.T) (*big.Int, int64) {
	t.Helper()
	acct, err := f.ledger.Get(context.Background(), f.merchant)
	if err != nil {
		t.Fatalf("get merchant: %v", err)
	}
	return acct.TotalEarnings, acct.TransactionCount
}

func TestRunOnceCompletesIntent(t *testing.T) {
	f := newFixture(t)
	f.addIntent(t, "intent-1", "0xa1")
	f.chain.receipts["0xa1"] = successReceipt(paymentEvent("0x3e8", "0x3cf", "0x19"))

	f.svc.RunOnce(context.Background())

	it, err := f.store.GetIntent(context.Background(), "intent-1")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if it.Status != intent.StatusCompleted {
		t.Fatalf("status = %s, want completed", it.Status)
	}
	if it.PayerAddress != chain.NormalizeAddress(testPayer) {
		t.Fatalf("payer = %s", it.PayerAddress)
	}
	if it.GrossAmount.Cmp(big.NewInt(1000)) != 0 || it.NetAmount.Cmp(big.NewInt(975)) != 0 || it.FeeAmount.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("amounts = %s/%s/%s", it.GrossAmount, it.NetAmount, it.FeeAmount)
	}
	if sum := new(big.Int).Add(it.NetAmount, it.FeeAmount); sum.Cmp(it.GrossAmount) != 0 {
		t.Fatalf("net + fee = %s, gross = %s", sum, it.GrossAmount)
	}
	if it.BlockNumber != 500 {
		t.Fatalf("block = %d", it.BlockNumber)
	}
	if it.CompletedAt == nil || !it.ExpiresAt.Equal(*it.CompletedAt) {
		t.Fatalf("completion must pin expiry: expires=%v completed=%v", it.ExpiresAt, it.CompletedAt)
	}

	total, count := f.merchantTotals(t)
	if total.Cmp(big.NewInt(975)) != 0 {
		t.Fatalf("merchant total = %s, want 975", total)
	}
	if count != 1 {
		t.Fatalf("merchant count = %d, want 1", count)
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addIntent(t, "intent-1", "0xa1")
	f.chain.receipts["0xa1"] = successReceipt(paymentEvent("0x3e8", "0x3cf", "0x19"))

	f.svc.RunOnce(context.Background())
	f.svc.RunOnce(context.Background())
	f.svc.RunOnce(context.Background())

	total, count := f.merchantTotals(t)
	if total.Cmp(big.NewInt(975)) != 0 {
		t.Fatalf("merchant total = %s after re-runs, want 975", total)
	}
	if count != 1 {
		t.Fatalf("merchant count = %d after re-runs, want 1", count)
	}

	// Completed intents leave the candidate set, so later sweeps stop
	// hitting the chain for them.
	if f.chain.calls != 1 {
		t.Fatalf("chain calls = %d, want 1", f.chain.calls)
	}
}

func TestRunOnceFailsRevertedIntent(t *testing.T) {
	f := newFixture(t)
	f.addIntent(t, "intent-1", "0xa1")

	receipt := successReceipt(paymentEvent("0x3e8", "0x3cf", "0x19"))
	receipt.ExecutionStatus = chain.ExecutionReverted
	f.chain.receipts["0xa1"] = receipt

	f.svc.RunOnce(context.Background())

	it, _ := f.store.GetIntent(context.Background(), "intent-1")
	if it.Status != intent.StatusFailed {
		t.Fatalf("status = %s, want failed", it.Status)
	}

	total, count := f.merchantTotals(t)
	if total.Sign() != 0 || count != 0 {
		t.Fatalf("ledger touched for reverted payment: total=%s count=%d", total, count)
	}
}

func TestRunOnceLeavesIntentOnPendingReceipt(t *testing.T) {
	f := newFixture(t)
	f.addIntent(t, "intent-1", "0xa1")
	f.chain.errs["0xa1"] = chain.ErrReceiptPending

	f.svc.RunOnce(context.Background())

	it, _ := f.store.GetIntent(context.Background(), "intent-1")
	if it.Status != intent.StatusProcessing {
		t.Fatalf("status = %s, want processing", it.Status)
	}
}

func TestRunOnceLeavesIntentOnNetworkError(t *testing.T) {
	f := newFixture(t)
	f.addIntent(t, "intent-1", "0xa1")
	f.chain.errs["0xa1"] = &chain.NetworkError{Op: "post", Err: context.DeadlineExceeded}

	f.svc.RunOnce(context.Background())

	it, _ := f.store.GetIntent(context.Background(), "intent-1")
	if it.Status != intent.StatusProcessing {
		t.Fatalf("status = %s, want processing", it.Status)
	}

	total, count := f.merchantTotals(t)
	if total.Sign() != 0 || count != 0 {
		t.Fatalf("ledger touched on network error: total=%s count=%d", total, count)
	}
}

func TestRunOnceLeavesIntentWithoutPaymentEvent(t *testing.T) {
	f := newFixture(t)
	f.addIntent(t, "intent-1", "0xa1")

	// Succeeded transaction, but nothing from the processor: an unrelated
	// transfer the payer pasted by mistake, or event lag.
	foreign := paymentEvent("0x3e8", "0x3cf", "0x19")
	foreign.FromAddress = "0x0999"
	f.chain.receipts["0xa1"] = successReceipt(foreign)

	f.svc.RunOnce(context.Background())

	it, _ := f.store.GetIntent(context.Background(), "intent-1")
	if it.Status != intent.StatusProcessing {
		t.Fatalf("status = %s, want processing", it.Status)
	}
}

func TestRunOnceRejectsReplayedTransactionHash(t *testing.T) {
	f := newFixture(t)
	f.addIntent(t, "intent-a", "0xa1")
	f.addIntent(t, "intent-b", "0xa1")
	f.chain.receipts["0xa1"] = successReceipt(paymentEvent("0x3e8", "0x3cf", "0x19"))

	f.svc.RunOnce(context.Background())

	a, _ := f.store.GetIntent(context.Background(), "intent-a")
	b, _ := f.store.GetIntent(context.Background(), "intent-b")

	completed := 0
	for _, it := range []intent.Intent{a, b} {
		if it.Status == intent.StatusCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("completed = %d intents for one transaction, want 1", completed)
	}

	total, count := f.merchantTotals(t)
	if total.Cmp(big.NewInt(975)) != 0 || count != 1 {
		t.Fatalf("ledger credited %s over %d payments, want 975 over 1", total, count)
	}
}

func TestRunOnceCompletesForUnregisteredMerchant(t *testing.T) {
	store := memory.New()
	fc := &fakeChain{receipts: map[string]*chain.Receipt{
		"0xa1": successReceipt(paymentEvent("0x3e8", "0x3cf", "0x19")),
	}}
	ledger := merchants.New(store, store, nil)
	svc := New(store, ledger, fc, newTestDecoder(t, ""), Config{}, nil)

	ctx := context.Background()
	if _, err := store.CreateIntent(ctx, intent.Intent{
		ID:              "intent-1",
		MerchantAddress: chain.NormalizeAddress(testMerchant),
		TokenAddress:    chain.NormalizeAddress(testToken),
		RequestedAmount: "10.00",
		Status:          intent.StatusPending,
		ExpiresAt:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := store.AttachTransaction(ctx, "intent-1", "0xa1"); err != nil {
		t.Fatalf("attach transaction: %v", err)
	}

	svc.RunOnce(ctx)

	// The payment settled on chain regardless of local registration state:
	// the intent completes, only the aggregate is skipped.
	it, _ := store.GetIntent(ctx, "intent-1")
	if it.Status != intent.StatusCompleted {
		t.Fatalf("status = %s, want completed", it.Status)
	}

	if accts, _ := store.ListMerchants(ctx); len(accts) != 0 {
		t.Fatalf("unexpected merchant accounts: %d", len(accts))
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	ctx := context.Background()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Starting twice is a no-op.
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.svc.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := f.svc.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
