package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/model"
	"github.com/rafa-canseco/TokenDistributor/internal/store"
	"github.com/rafa-canseco/TokenDistributor/internal/swap"
)

const (
	ownerAddr  = "0x00000000000000000000000000000000000000aa"
	tokenAddr  = "0x00000000000000000000000000000000000000bb"
	rewardAddr = "0x00000000000000000000000000000000000000cc"
)

var holderAddrs = []string{
	"0x0000000000000000000000000000000000000101",
	"0x0000000000000000000000000000000000000102",
	"0x0000000000000000000000000000000000000103",
	"0x0000000000000000000000000000000000000104",
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSchedulerEngine(t *testing.T) (*Engine, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Now().UTC().Truncate(time.Second)}
	e, err := NewEngine(context.Background(), store.NewMemoryStore(), swap.NewPoolVenue(), nil, Genesis{
		Owner:           ownerAddr,
		TokenAsset:      tokenAddr,
		ReflectionToken: rewardAddr,
	}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, clock
}

// depositRewardIn credits the given asset's pot and the per-share
// accumulator in one committed transaction, standing in for a completed
// swap-back.
func depositRewardIn(t *testing.T, e *Engine, assetID string, amount decimal.Decimal) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := e.begin()
	tx.setPot(assetID, tx.pot(assetID).Add(amount))
	tx.deposit(amount)
	if err := e.commit(context.Background(), tx); err != nil {
		t.Fatalf("commit deposit: %v", err)
	}
}

func depositReward(t *testing.T, e *Engine, amount decimal.Decimal) {
	t.Helper()
	depositRewardIn(t, e, rewardAddr, amount)
}

// depositUnfunded credits the accumulator without funding the pot.
func depositUnfunded(t *testing.T, e *Engine, amount decimal.Decimal) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := e.begin()
	tx.deposit(amount)
	if err := e.commit(context.Background(), tx); err != nil {
		t.Fatalf("commit deposit: %v", err)
	}
}

func fundHolders(t *testing.T, e *Engine, each decimal.Decimal) {
	t.Helper()
	for _, h := range holderAddrs {
		if _, err := e.Transfer(context.Background(), ownerAddr, h, each); err != nil {
			t.Fatalf("fund %s: %v", h, err)
		}
	}
}

func rewardPaid(t *testing.T, e *Engine, holder string) decimal.Decimal {
	t.Helper()
	views, err := e.Rewards(holder)
	if err != nil {
		t.Fatalf("rewards: %v", err)
	}
	for _, v := range views {
		if v.Asset == rewardAddr {
			return v.Amount
		}
	}
	return decimal.Zero
}

func TestDeposit_AccumulatorMath(t *testing.T) {
	e, _ := newSchedulerEngine(t)

	// Total shares is the full supply (1e29); a deposit of 1e26 yields a
	// per-share accumulator increment of exactly 1e33 at 1e36 scale.
	depositReward(t, e, decimal.New(1, 26))

	info := e.Distributor()
	if !info.TotalDividends.Equal(decimal.New(1, 26)) {
		t.Errorf("total dividends = %s, want 1e26", info.TotalDividends)
	}
	if !info.PendingDeposit {
		t.Error("deposit should mark a pending cycle")
	}

	// The sole holder (the owner) accrues the whole deposit.
	unpaid, err := e.UnpaidEarnings(ownerAddr)
	if err != nil {
		t.Fatalf("unpaid: %v", err)
	}
	if !unpaid.Equal(decimal.New(1, 26)) {
		t.Errorf("owner unpaid = %s, want the full deposit", unpaid)
	}
}

func TestProcess_RequiresElapsedPeriod(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	depositReward(t, e, decimal.New(1, 26))

	if err := e.ProcessDistribution(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := e.Distributor().TotalDistributed; !got.IsZero() {
		t.Fatalf("distributed %s before the period elapsed", got)
	}

	clock.Advance(2 * time.Hour)
	if err := e.ProcessDistribution(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := e.Distributor().TotalDistributed; !got.Equal(decimal.New(1, 26)) {
		t.Errorf("distributed = %s, want full deposit", got)
	}
}

func TestProcess_BoundedPassCursorArithmetic(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	fundHolders(t, e, decimal.New(1, 21)) // 1000 tokens each

	if err := e.SetDistributorGas(context.Background(), ownerAddr, 2); err != nil {
		t.Fatalf("set gas: %v", err)
	}
	depositReward(t, e, decimal.New(1, 26))
	clock.Advance(2 * time.Hour)

	// Five holders (owner + four), budget two per call: the cursor walks
	// (0 + n*2) mod 5 and the pass drains in three calls.
	steps := []struct {
		cursor    int
		remaining int
	}{
		{2, 3},
		{4, 1},
		{0, 0},
	}
	for i, want := range steps {
		if err := e.ProcessDistribution(context.Background()); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
		info := e.Distributor()
		if info.Cursor != want.cursor || info.PassRemaining != want.remaining {
			t.Fatalf("after call %d: cursor=%d remaining=%d, want cursor=%d remaining=%d",
				i+1, info.Cursor, info.PassRemaining, want.cursor, want.remaining)
		}
	}

	info := e.Distributor()
	if info.PendingDeposit {
		t.Error("completed pass should clear the pending flag")
	}
	for _, h := range holderAddrs {
		if got := rewardPaid(t, e, h); !got.Equal(decimal.New(1, 18)) {
			t.Errorf("holder %s paid %s, want 1e18", h, got)
		}
	}
}

func TestProcess_PartialPassResumesWithoutPeriod(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	fundHolders(t, e, decimal.New(1, 21))

	if err := e.SetDistributorGas(context.Background(), ownerAddr, 2); err != nil {
		t.Fatalf("set gas: %v", err)
	}
	depositReward(t, e, decimal.New(1, 26))
	clock.Advance(2 * time.Hour)

	if err := e.ProcessDistribution(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if e.Distributor().PassRemaining == 0 {
		t.Fatal("pass should be mid-flight")
	}

	// No clock advance: an in-flight pass keeps going.
	if err := e.ProcessDistribution(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := e.Distributor().PassRemaining; got != 1 {
		t.Errorf("pass remaining = %d, want 1", got)
	}
}

func TestProcess_NeverOverpays(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	fundHolders(t, e, decimal.New(7, 21))

	// An awkward deposit that does not divide evenly by total shares.
	deposit := decimal.New(1, 26).Add(decimal.NewFromInt(7919))
	depositReward(t, e, deposit)
	clock.Advance(2 * time.Hour)
	if err := e.ProcessDistribution(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	info := e.Distributor()
	if info.TotalDistributed.GreaterThan(info.TotalDividends) {
		t.Errorf("distributed %s exceeds deposited %s", info.TotalDistributed, info.TotalDividends)
	}
	for _, p := range e.Pots() {
		if p.Amount.IsNegative() {
			t.Errorf("pot %s went negative: %s", p.Asset, p.Amount)
		}
	}
}

func TestProcess_SkipsBelowMinDistribution(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	fundHolders(t, e, decimal.New(1, 21))

	// 1e23 deposit: each 1000-token holder accrues only 1e15, below the
	// 1e18 minimum. They are skipped, the owner still collects.
	depositReward(t, e, decimal.New(1, 23))
	clock.Advance(2 * time.Hour)
	if err := e.ProcessDistribution(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	for _, h := range holderAddrs {
		if got := rewardPaid(t, e, h); !got.IsZero() {
			t.Errorf("holder %s paid %s below minimum", h, got)
		}
		unpaid, err := e.UnpaidEarnings(h)
		if err != nil {
			t.Fatalf("unpaid: %v", err)
		}
		if !unpaid.IsPositive() {
			t.Errorf("skipped holder %s should keep its accrual", h)
		}
	}
	if got := rewardPaid(t, e, ownerAddr); !got.IsPositive() {
		t.Error("owner above the minimum should be paid")
	}
}

func TestProcess_PotShortageDefersClaim(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	fundHolders(t, e, decimal.New(1, 21))

	// Accumulator credited but the pot never funded: nobody can be paid,
	// yet accruals survive the completed pass.
	depositUnfunded(t, e, decimal.New(1, 26))
	clock.Advance(2 * time.Hour)
	if err := e.ProcessDistribution(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	info := e.Distributor()
	if !info.TotalDistributed.IsZero() {
		t.Fatalf("distributed %s from an empty pot", info.TotalDistributed)
	}
	if info.PassRemaining != 0 || info.PendingDeposit {
		t.Error("pass should complete even when every holder is deferred")
	}
	unpaid, err := e.UnpaidEarnings(holderAddrs[0])
	if err != nil {
		t.Fatalf("unpaid: %v", err)
	}
	if !unpaid.IsPositive() {
		t.Fatal("deferred accrual lost")
	}

	// Funding the pot and nudging the accumulator lets the deferred
	// claims settle on the next cycle.
	depositReward(t, e, decimal.New(2, 26))
	clock.Advance(2 * time.Hour)
	if err := e.ProcessDistribution(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := rewardPaid(t, e, holderAddrs[0]); !got.IsPositive() {
		t.Error("deferred claim should settle once the pot covers it")
	}
}

func TestDeposit_QueuedWhileNoShares(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	ctx := context.Background()

	// Exempt the only holder: total shares drops to zero.
	if err := e.SetIsDividendExempt(ctx, ownerAddr, ownerAddr, true); err != nil {
		t.Fatalf("exempt: %v", err)
	}
	if got := e.Distributor().TotalShares; !got.IsZero() {
		t.Fatalf("total shares = %s, want 0", got)
	}

	depositReward(t, e, decimal.New(3, 25))
	info := e.Distributor()
	if !info.QueuedDeposits.Equal(decimal.New(3, 25)) {
		t.Fatalf("queued = %s, want 3e25", info.QueuedDeposits)
	}
	if info.PendingDeposit {
		t.Error("queued deposit must not start a cycle")
	}

	// Restore shares; the next deposit folds the queue in.
	if err := e.SetIsDividendExempt(ctx, ownerAddr, ownerAddr, false); err != nil {
		t.Fatalf("un-exempt: %v", err)
	}
	depositReward(t, e, decimal.New(7, 25))
	info = e.Distributor()
	if !info.QueuedDeposits.IsZero() {
		t.Errorf("queued = %s after folding, want 0", info.QueuedDeposits)
	}
	if !info.TotalDividends.Equal(decimal.New(1, 26)) {
		t.Errorf("total dividends = %s, want 1e26", info.TotalDividends)
	}

	clock.Advance(2 * time.Hour)
	if err := e.ProcessDistribution(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := rewardPaid(t, e, ownerAddr); !got.Equal(decimal.New(1, 26)) {
		t.Errorf("owner paid %s, want the folded total 1e26", got)
	}
}

func TestProcess_DisabledFreezesAndResumes(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	ctx := context.Background()
	fundHolders(t, e, decimal.New(1, 21))

	if err := e.SetDistributionStatus(ctx, ownerAddr, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	depositReward(t, e, decimal.New(1, 26))
	clock.Advance(2 * time.Hour)
	if err := e.ProcessDistribution(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := e.Distributor().TotalDistributed; !got.IsZero() {
		t.Fatalf("disabled scheduler distributed %s", got)
	}

	if err := e.SetDistributionStatus(ctx, ownerAddr, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := e.ProcessDistribution(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := e.Distributor().TotalDistributed; !got.Equal(decimal.New(1, 26)) {
		t.Errorf("distributed = %s after re-enable, want full deposit", got)
	}
}

func TestSettle_OnShareChangePaysAccrual(t *testing.T) {
	e, _ := newSchedulerEngine(t)
	fundHolders(t, e, decimal.New(1, 21))
	depositReward(t, e, decimal.New(1, 26))

	// A transfer re-syncs the sender's shares, settling the accrued 1e18
	// before the weight changes. No scheduler pass needed.
	h := holderAddrs[0]
	if _, err := e.Transfer(context.Background(), h, holderAddrs[1], decimal.New(1, 20)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := rewardPaid(t, e, h); !got.Equal(decimal.New(1, 18)) {
		t.Errorf("settled %s on share change, want 1e18", got)
	}

	view, err := e.Holder(h)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if !view.Unpaid.IsZero() {
		t.Errorf("unpaid = %s after settle, want 0", view.Unpaid)
	}
	if !view.TotalRealised.Equal(decimal.New(1, 18)) {
		t.Errorf("total realised = %s, want 1e18", view.TotalRealised)
	}
}

func TestSetReflectionToken_PreservesAccruedClaims(t *testing.T) {
	e, clock := newSchedulerEngine(t)
	ctx := context.Background()
	h := holderAddrs[0]

	if _, err := e.Transfer(ctx, ownerAddr, h, decimal.New(1, 21)); err != nil {
		t.Fatalf("fund holder: %v", err)
	}
	depositReward(t, e, decimal.New(1, 26))

	unpaid, err := e.UnpaidEarnings(h)
	if err != nil {
		t.Fatalf("unpaid: %v", err)
	}
	if !unpaid.Equal(decimal.New(1, 18)) {
		t.Fatalf("unpaid = %s before switch, want 1e18", unpaid)
	}

	newReward := "0x00000000000000000000000000000000000000ee"
	if err := e.SetReflectionToken(ctx, ownerAddr, newReward); err != nil {
		t.Fatalf("switch reward token: %v", err)
	}

	// A balance change now settles against the new asset's empty pot.
	// The accrued claim must defer whole, not reset to zero.
	if _, err := e.Transfer(ctx, ownerAddr, h, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	unpaid, err = e.UnpaidEarnings(h)
	if err != nil {
		t.Fatalf("unpaid: %v", err)
	}
	if !unpaid.Equal(decimal.New(1, 18)) {
		t.Errorf("unpaid = %s after switch, want the accrual kept at 1e18", unpaid)
	}
	if got := rewardPaid(t, e, h); !got.IsZero() {
		t.Errorf("paid %s from the old pot, want 0", got)
	}
	for _, p := range e.Pots() {
		if p.Asset == rewardAddr && !p.Amount.Equal(decimal.New(1, 26)) {
			t.Errorf("old pot = %s, want untouched 1e26", p.Amount)
		}
	}

	// Funding the new asset's pot pays the deferred claim plus the fresh
	// accrual on the next cycle.
	depositRewardIn(t, e, newReward, decimal.New(1, 26))
	clock.Advance(2 * time.Hour)
	if err := e.ProcessDistribution(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	views, err := e.Rewards(h)
	if err != nil {
		t.Fatalf("rewards: %v", err)
	}
	paid := decimal.Zero
	for _, v := range views {
		if v.Asset == newReward {
			paid = v.Amount
		}
	}
	if !paid.Equal(decimal.New(2, 18)) {
		t.Errorf("paid = %s in new asset, want 2e18", paid)
	}
}

func TestMaxTxUnlimitedSentinelValue(t *testing.T) {
	// The unlimited sentinel is the full supply: 1e11 tokens at 18
	// decimals.
	want := decimal.NewFromInt(100_000_000_000).Mul(decimal.New(1, 18))
	if !model.MaxTxUnlimited.Equal(want) {
		t.Fatalf("sentinel = %s, want %s", model.MaxTxUnlimited, want)
	}
}
