package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"escrowbridge/internal/bridge"
	"escrowbridge/internal/chain"
	"escrowbridge/internal/codec"
	"escrowbridge/internal/dealmap"
	"escrowbridge/internal/escrow"
	"escrowbridge/internal/ledger"
	"escrowbridge/internal/ledgertest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	buyerEth  = "0x1111111111111111111111111111111111111111"
	sellerEth = "0x2222222222222222222222222222222222222222"
)

var tpl = escrow.NewTemplates("*")

var roles = bridge.Roles{
	Agent:  "Escrow-1",
	Buyer:  "Alice-1",
	Seller: "Bob-1",
	Bank:   "Bank-1",
}

type fixture struct {
	ledger *ledgertest.Fake
	chain  *chain.FakeClient
	deals  *dealmap.MemoryStore
	bridge *bridge.Bridge
}

func setup() *fixture {
	fakeLedger := ledgertest.New(tpl)
	fakeChain := chain.NewFakeClient()
	deals := dealmap.NewMemoryStore()
	esc := escrow.NewService(fakeLedger, tpl)
	return &fixture{
		ledger: fakeLedger,
		chain:  fakeChain,
		deals:  deals,
		bridge: bridge.New(esc, fakeChain, deals, roles, codec.TokenDecimals),
	}
}

func agreement() escrow.Agreement {
	return escrow.Agreement{
		Agent:  roles.Agent,
		Buyer:  roles.Buyer,
		Seller: roles.Seller,
		Item:   "CantonCoin (CC) x 100 @ 2 USDT",
		Price:  decimal.RequireFromString("200"),
		Locked: "00cash",
	}
}

// seedDeal puts an escrow head on the ledger and mirrors it on the chain.
func seedDeal(t *testing.T, f *fixture) string {
	t.Helper()
	cid := f.ledger.Seed(tpl.Escrow, agreement())
	if _, err := f.bridge.CreateDeal(context.Background(), cid, buyerEth, sellerEth, decimal.RequireFromString("200")); err != nil {
		t.Fatalf("create deal failed: %v", err)
	}
	return cid
}

func TestCreateDealRecordsMapping(t *testing.T) {
	f := setup()
	ctx := context.Background()

	cid := f.ledger.Seed(tpl.Escrow, agreement())
	res, err := f.bridge.CreateDeal(ctx, cid, buyerEth, sellerEth, decimal.RequireFromString("200"))
	if err != nil {
		t.Fatalf("create deal failed: %v", err)
	}

	wantID := codec.DealIDHex(cid)
	if res.DealID != wantID {
		t.Fatalf("deal id = %s, want %s", res.DealID, wantID)
	}
	if res.TxHash == "" {
		t.Fatal("missing tx hash")
	}
	if !res.Amount.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("amount = %s, want 200", res.Amount)
	}

	mapped, ok, err := f.deals.Get(ctx, wantID)
	if err != nil || !ok || mapped != cid {
		t.Fatalf("mapping = (%q, %v, %v), want (%s, true, nil)", mapped, ok, err, cid)
	}

	deal, err := f.chain.Deal(ctx, codec.DealID(cid))
	if err != nil {
		t.Fatalf("deal read failed: %v", err)
	}
	if deal.Amount.Int64() != 200_000_000 {
		t.Fatalf("chain amount = %s, want 200000000", deal.Amount)
	}
	if deal.Deposited || deal.Done {
		t.Fatalf("fresh deal flags: %+v", deal)
	}
}

func TestCreateDealValidatesInput(t *testing.T) {
	f := setup()
	ctx := context.Background()
	price := decimal.RequireFromString("200")

	if _, err := f.bridge.CreateDeal(ctx, "", buyerEth, sellerEth, price); err == nil {
		t.Fatal("empty contract id accepted")
	}
	if _, err := f.bridge.CreateDeal(ctx, "00abc", "not-an-address", sellerEth, price); err == nil {
		t.Fatal("bad buyer address accepted")
	}
	if _, err := f.bridge.CreateDeal(ctx, "00abc", buyerEth, "0x123", price); err == nil {
		t.Fatal("bad seller address accepted")
	}
	if _, err := f.bridge.CreateDeal(ctx, "00abc", buyerEth, sellerEth, decimal.RequireFromString("-1")); !errors.Is(err, codec.ErrAmountOverflow) {
		t.Fatalf("negative price: %v", err)
	}
	if f.chain.CreateCalls != 0 {
		t.Fatalf("invalid input reached the chain %d times", f.chain.CreateCalls)
	}
}

func TestSettleHappyPath(t *testing.T) {
	f := setup()
	ctx := context.Background()

	cid := seedDeal(t, f)
	if err := f.chain.Deposit(codec.DealID(cid)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	res, err := f.bridge.Settle(ctx, cid)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if res.Outcome != bridge.OutcomeSettled {
		t.Fatalf("outcome = %s, want settled", res.Outcome)
	}
	if len(res.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %+v", res.Steps)
	}
	for _, step := range res.Steps {
		if step.Status != bridge.StatusOK {
			t.Fatalf("step %s status %s, want ok", step.Name, step.Status)
		}
	}
	if res.Steps[3].Name != bridge.StepChainRelease || res.Steps[3].TxHash == "" {
		t.Fatalf("chain release step missing tx hash: %+v", res.Steps[3])
	}

	if f.chain.ReleaseCalls != 1 {
		t.Fatalf("release calls = %d, want 1", f.chain.ReleaseCalls)
	}
	deal, _ := f.chain.Deal(ctx, codec.DealID(cid))
	if !deal.Done {
		t.Fatal("chain deal not closed")
	}
	if len(f.ledger.Active(tpl.Completed)) != 1 {
		t.Fatal("ledger lineage not completed")
	}
}

func TestSettleIdempotent(t *testing.T) {
	f := setup()
	ctx := context.Background()

	cid := seedDeal(t, f)
	if err := f.chain.Deposit(codec.DealID(cid)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := f.bridge.Settle(ctx, cid); err != nil {
		t.Fatalf("first settle failed: %v", err)
	}
	writes := f.ledger.Writes

	res, err := f.bridge.Settle(ctx, cid)
	if err != nil {
		t.Fatalf("second settle failed: %v", err)
	}
	if res.Outcome != bridge.OutcomeAlreadySettled {
		t.Fatalf("outcome = %s, want already_settled", res.Outcome)
	}
	for _, step := range res.Steps {
		if step.Status != bridge.StatusSkipped {
			t.Fatalf("step %s status %s, want skipped", step.Name, step.Status)
		}
	}
	if f.chain.ReleaseCalls != 1 {
		t.Fatalf("release calls = %d, want 1", f.chain.ReleaseCalls)
	}
	if f.ledger.Writes != writes {
		t.Fatalf("idempotent settle issued %d ledger writes", f.ledger.Writes-writes)
	}
}

func TestSettleNotYetDeposited(t *testing.T) {
	f := setup()
	ctx := context.Background()

	cid := seedDeal(t, f)

	res, err := f.bridge.Settle(ctx, cid)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if res.Outcome != bridge.OutcomeNotYetDeposited {
		t.Fatalf("outcome = %s, want not_yet_deposited", res.Outcome)
	}
	last := res.Steps[len(res.Steps)-1]
	if last.Name != bridge.StepChainRelease || last.Status != bridge.StatusSkipped {
		t.Fatalf("chain release step = %+v, want skipped", last)
	}
	if f.chain.ReleaseCalls != 0 {
		t.Fatalf("release calls = %d, want 0", f.chain.ReleaseCalls)
	}
}

// flakyChain fails a number of releases before delegating to the fake.
type flakyChain struct {
	*chain.FakeClient
	failsLeft int
}

func (f *flakyChain) Release(ctx context.Context, dealID common.Hash) (string, error) {
	if f.failsLeft > 0 {
		f.failsLeft--
		return "", fmt.Errorf("rpc: connection reset")
	}
	return f.FakeClient.Release(ctx, dealID)
}

func TestSettleRecoversFromChainFailure(t *testing.T) {
	fakeLedger := ledgertest.New(tpl)
	fakeChain := &flakyChain{FakeClient: chain.NewFakeClient(), failsLeft: 1}
	deals := dealmap.NewMemoryStore()
	esc := escrow.NewService(fakeLedger, tpl)
	br := bridge.New(esc, fakeChain, deals, roles, codec.TokenDecimals)
	ctx := context.Background()

	cid := fakeLedger.Seed(tpl.Escrow, agreement())
	if _, err := br.CreateDeal(ctx, cid, buyerEth, sellerEth, decimal.RequireFromString("200")); err != nil {
		t.Fatalf("create deal failed: %v", err)
	}
	if err := fakeChain.Deposit(codec.DealID(cid)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// Ledger completes, chain mirror fails: the documented inconsistency
	// window.
	res, err := br.Settle(ctx, cid)
	if err == nil {
		t.Fatal("expected settle error")
	}
	if res.Outcome != bridge.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	if len(fakeLedger.Active(tpl.Completed)) != 1 {
		t.Fatal("ledger release should have completed before the chain failure")
	}

	// Re-invoking closes the window: ledger steps skip, chain release runs.
	res, err = br.Settle(ctx, cid)
	if err != nil {
		t.Fatalf("retry settle failed: %v", err)
	}
	if res.Outcome != bridge.OutcomeSettled {
		t.Fatalf("retry outcome = %s, want settled", res.Outcome)
	}
	for _, step := range res.Steps[:3] {
		if step.Status != bridge.StatusSkipped {
			t.Fatalf("ledger step %s status %s, want skipped", step.Name, step.Status)
		}
	}
	if fakeChain.ReleaseCalls != 1 {
		t.Fatalf("fake release calls = %d, want 1", fakeChain.ReleaseCalls)
	}
}

// failingLedger rejects one choice to exercise the partial-failure report.
type failingLedger struct {
	*ledgertest.Fake
	failChoice string
}

func (f *failingLedger) Exercise(ctx context.Context, templateID, contractID, actAs, choice string, argument interface{}) (ledger.ExerciseResult, error) {
	if choice == f.failChoice {
		return ledger.ExerciseResult{}, fmt.Errorf("participant unavailable")
	}
	return f.Fake.Exercise(ctx, templateID, contractID, actAs, choice, argument)
}

func TestSettleReportsPartialFailure(t *testing.T) {
	fakeLedger := &failingLedger{Fake: ledgertest.New(tpl), failChoice: "SellerConfirm"}
	fakeChain := chain.NewFakeClient()
	esc := escrow.NewService(fakeLedger, tpl)
	br := bridge.New(esc, fakeChain, dealmap.NewMemoryStore(), roles, codec.TokenDecimals)
	ctx := context.Background()

	cid := fakeLedger.Seed(tpl.Escrow, agreement())

	res, err := br.Settle(ctx, cid)
	if err == nil {
		t.Fatal("expected settle error")
	}
	if res.Outcome != bridge.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}

	want := map[string]string{
		bridge.StepBuyerConfirm:  bridge.StatusOK,
		bridge.StepSellerConfirm: bridge.StatusFailed,
		bridge.StepRelease:       bridge.StatusNotRun,
		bridge.StepChainRelease:  bridge.StatusNotRun,
	}
	if len(res.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %+v", len(want), res.Steps)
	}
	for _, step := range res.Steps {
		if step.Status != want[step.Name] {
			t.Fatalf("step %s status %s, want %s", step.Name, step.Status, want[step.Name])
		}
	}
	if fakeChain.ReleaseCalls != 0 {
		t.Fatalf("release calls = %d, want 0", fakeChain.ReleaseCalls)
	}
}
