// Package ledger implements the fee-bearing token ledger: the transfer
// gate, the share ledger, the bounded distribution scheduler, and the
// owner-gated admin surface, plus the HTTP handlers exposing them.
//
// Execution is single-writer: every mutating operation runs under one
// mutex and is all-or-nothing. An operation computes its changes on a
// copy-on-write transaction, persists them as one atomic store mutation,
// and only then folds them into the in-memory state and broadcasts
// events. Any failure, including a venue leg of a triggered swap-back,
// leaves state exactly as before the call.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/asset"
	"github.com/rafa-canseco/TokenDistributor/internal/feepolicy"
	"github.com/rafa-canseco/TokenDistributor/internal/metrics"
	"github.com/rafa-canseco/TokenDistributor/internal/model"
	"github.com/rafa-canseco/TokenDistributor/internal/store"
	"github.com/rafa-canseco/TokenDistributor/internal/swap"
)

var (
	// ErrUnauthorized is returned when a non-owner calls an admin operation.
	ErrUnauthorized = errors.New("ledger: caller is not the owner")

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("ledger: invalid configuration value")

	// ErrGasAboveLimit is the gas-budget ceiling rejection.
	ErrGasAboveLimit = fmt.Errorf("%w: Gas is greater than limit", ErrInvalidConfig)

	// ErrInsufficientBalance is returned when the sender cannot cover the
	// transfer amount.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInvalidAmount is returned for amounts that are not positive
	// integers of wei.
	ErrInvalidAmount = errors.New("ledger: amount must be a positive integer of wei")

	// ErrUnknownHolder is returned by holder queries for unknown addresses.
	ErrUnknownHolder = errors.New("ledger: unknown holder")
)

const (
	// distributorGasCeiling is the hard ceiling on the per-call holder
	// budget. SetDistributorGas rejects anything above it.
	distributorGasCeiling = 750_000

	defaultGas       = 500_000
	defaultMinPeriod = 3600 // seconds
)

var (
	defaultMinDistribution = decimal.New(1, 18)  // 1 token
	defaultSwapThreshold   = decimal.New(2, 23)  // 200,000 tokens
	defaultMaxTx           = decimal.New(1, 27)  // 1% of supply
	defaultFeeRate         = decimal.NewFromFloat(0.05)
)

// Genesis describes the initial deployment: the owner receives the full
// supply, and both the owner and the token's own account are fee-exempt.
// The token account is dividend-exempt; the owner is not.
type Genesis struct {
	Owner           string
	TokenAsset      string
	ReflectionToken string
}

// ledgerState is the engine's authoritative in-memory state, loaded from
// the store at boot and kept in lockstep with it by commit.
type ledgerState struct {
	accounts  map[string]*model.Account
	shares    map[string]*model.ShareRecord
	holders   []string
	holderPos map[string]int
	dist      model.DistributorState
	config    model.TokenConfig
	pots      map[string]decimal.Decimal
	rewards   map[string]map[string]decimal.Decimal // asset -> holder -> paid
	native    decimal.Decimal
}

// Engine is the single-writer ledger engine.
type Engine struct {
	store store.Store
	coord *swap.Coordinator
	hub   *WSHub // optional; nil disables broadcasting
	clock func() time.Time

	mu     sync.Mutex
	st     *ledgerState
	inSwap bool // re-entrancy guard: set while a swap-back is unresolved
}

// Option configures the engine.
type Option func(*Engine)

// WithClock replaces the engine's time source. Used by tests to drive the
// distribution eligibility window deterministically.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.clock = fn }
}

// NewEngine loads persisted state (seeding genesis on first boot) and
// returns a ready engine. Pass nil for hub if WebSocket broadcasting is
// not needed.
func NewEngine(ctx context.Context, st store.Store, venue swap.Venue, hub *WSHub, gen Genesis, opts ...Option) (*Engine, error) {
	e := &Engine{
		store: st,
		coord: swap.NewCoordinator(venue),
		hub:   hub,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	loaded, err := st.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if loaded == nil {
		if err := e.seedGenesis(ctx, gen); err != nil {
			return nil, fmt.Errorf("seed genesis: %w", err)
		}
	} else {
		e.st = stateFromModel(loaded)
	}

	metrics.HolderCount.Set(float64(len(e.st.holders)))
	return e, nil
}

func stateFromModel(m *model.State) *ledgerState {
	st := &ledgerState{
		accounts:  make(map[string]*model.Account, len(m.Accounts)),
		shares:    make(map[string]*model.ShareRecord, len(m.Shares)),
		holders:   make([]string, len(m.Holders)),
		holderPos: make(map[string]int, len(m.Holders)),
		dist:      m.Distributor,
		config:    m.Config,
		pots:      make(map[string]decimal.Decimal, len(m.Pots)),
		rewards:   make(map[string]map[string]decimal.Decimal),
		native:    m.NativeBalance,
	}
	for i := range m.Accounts {
		a := m.Accounts[i]
		st.accounts[a.Address] = &a
	}
	for i := range m.Shares {
		r := m.Shares[i]
		st.shares[r.Holder] = &r
	}
	for _, h := range m.Holders {
		st.holders[h.Position] = h.Address
		st.holderPos[h.Address] = h.Position
	}
	for _, p := range m.Pots {
		st.pots[p.Asset] = p.Amount
	}
	for _, r := range m.Rewards {
		byHolder, ok := st.rewards[r.Asset]
		if !ok {
			byHolder = make(map[string]decimal.Decimal)
			st.rewards[r.Asset] = byHolder
		}
		byHolder[r.Holder] = r.Amount
	}
	return st
}

func (e *Engine) seedGenesis(ctx context.Context, gen Genesis) error {
	owner, err := asset.ParseAddress(gen.Owner)
	if err != nil {
		return err
	}
	token, err := asset.ParseAddress(gen.TokenAsset)
	if err != nil {
		return err
	}
	reflection, err := asset.ParseAddress(gen.ReflectionToken)
	if err != nil {
		return err
	}
	if owner == token {
		return fmt.Errorf("%w: owner and token asset must differ", ErrInvalidConfig)
	}

	now := e.clock()
	e.st = &ledgerState{
		accounts:  make(map[string]*model.Account),
		shares:    make(map[string]*model.ShareRecord),
		holderPos: make(map[string]int),
		pots:      make(map[string]decimal.Decimal),
		rewards:   make(map[string]map[string]decimal.Decimal),
		native:    decimal.Zero,
		config: model.TokenConfig{
			Owner:              owner,
			TokenAsset:         token,
			NativeAsset:        asset.Native,
			ReflectionToken:    reflection,
			MaxTx:              defaultMaxTx,
			SwapThreshold:      defaultSwapThreshold,
			FeeRate:            defaultFeeRate,
			ReflectionsEnabled: true,
		},
		dist: model.DistributorState{
			TotalShares:       model.TotalSupply,
			TotalDividends:    decimal.Zero,
			TotalDistributed:  decimal.Zero,
			DividendsPerShare: decimal.Zero,
			QueuedDeposits:    decimal.Zero,
			MinPeriod:         defaultMinPeriod,
			MinDistribution:   defaultMinDistribution,
			Gas:               defaultGas,
			LastDistribution:  now,
			Enabled:           true,
		},
	}
	e.st.accounts[owner] = &model.Account{
		Address:   owner,
		Balance:   model.TotalSupply,
		FeeExempt: true,
	}
	e.st.accounts[token] = &model.Account{
		Address:        token,
		Balance:        decimal.Zero,
		FeeExempt:      true,
		DividendExempt: true,
	}
	e.st.shares[owner] = &model.ShareRecord{
		Holder:        owner,
		Amount:        model.TotalSupply,
		TotalExcluded: decimal.Zero,
		TotalRealised: decimal.Zero,
	}
	e.st.holders = []string{owner}
	e.st.holderPos[owner] = 0

	// Persist the seeded state as one mutation.
	t := e.begin()
	t.touchAll()
	return e.commit(ctx, t)
}

// touchAll marks the whole base state as part of the mutation. Only used
// by genesis seeding.
func (t *txn) touchAll() {
	for addr := range t.e.st.accounts {
		t.account(addr)
	}
	for holder := range t.e.st.shares {
		t.share(holder)
	}
	t.cloneHolders()
	for i, h := range t.holders {
		t.changedSlots[h] = i
	}
	t.dist()
	t.config()
	native := t.e.st.native
	t.native = &native
}

// --- Transfer gate ---

// Transfer executes a balance transfer with fee withholding, share sync,
// and the opportunistic swap-back + distribution trigger. All-or-nothing.
func (e *Engine) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (*TransferResult, error) {
	start := time.Now()

	from, err := asset.ParseAddress(from)
	if err != nil {
		return nil, err
	}
	to, err = asset.ParseAddress(to)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() || !amount.Equal(amount.Floor()) {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin()
	cfg := t.config()

	sender := t.account(from)
	recipient := t.account(to)

	policy := feepolicy.New(cfg.MaxTx, cfg.FeeRate)
	fromPart := feepolicy.Participant{FeeExempt: sender.FeeExempt, IsAMMPair: sender.IsAMMPair}
	toPart := feepolicy.Participant{FeeExempt: recipient.FeeExempt, IsAMMPair: recipient.IsAMMPair}

	if err := policy.CheckLimit(amount, fromPart, toPart); err != nil {
		if errors.Is(err, feepolicy.ErrLimitExceeded) {
			metrics.LimitRejections.Inc()
		}
		return nil, err
	}
	if sender.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, sender.Balance, amount)
	}

	fee := policy.FeeFor(amount, fromPart, toPart)
	net := amount.Sub(fee)

	sender.Balance = sender.Balance.Sub(amount)
	recipient.Balance = recipient.Balance.Add(net)

	if fee.IsPositive() {
		contract := t.account(cfg.TokenAsset)
		contract.Balance = contract.Balance.Add(fee)
		t.emit(model.EventFeeCollected, from, fee.String())
	}

	t.syncShares(from)
	t.syncShares(to)

	// Swap-back: enough fees held, reflections on, not a venue buy, and
	// not already inside a swap (re-entrancy guard).
	if !e.inSwap && cfg.ReflectionsEnabled && !sender.IsAMMPair {
		contract := t.account(cfg.TokenAsset)
		if contract.Balance.GreaterThanOrEqual(cfg.SwapThreshold) && contract.Balance.IsPositive() {
			if err := e.swapBack(ctx, t); err != nil {
				metrics.SwapBackFailures.Inc()
				return nil, err
			}
		}
	}

	t.process()

	t.emit(model.EventTransfer, to, net.String())

	if err := e.commit(ctx, t); err != nil {
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues(strconv.FormatBool(fee.IsPositive())).Inc()
	if fee.IsPositive() {
		f, _ := fee.Float64()
		metrics.FeesCollected.Add(f)
	}
	metrics.TransferLatency.Observe(time.Since(start).Seconds())

	return &TransferResult{
		From:   from,
		To:     to,
		Amount: amount,
		Fee:    fee,
		Net:    net,
	}, nil
}

// swapBack liquidates the contract's held fee balance through the venue
// and deposits the reward-asset proceeds with the scheduler. Runs inside
// the caller's transaction: a venue failure aborts the whole transfer.
func (e *Engine) swapBack(ctx context.Context, t *txn) error {
	e.inSwap = true
	defer func() { e.inSwap = false }()

	cfg := t.config()
	contract := t.account(cfg.TokenAsset)
	amount := contract.Balance

	_, rewardOut, err := e.coord.Liquidate(ctx, cfg.TokenAsset, cfg.NativeAsset, cfg.ReflectionToken, amount, t.now)
	if err != nil {
		return err
	}

	contract.Balance = decimal.Zero
	t.syncShares(cfg.TokenAsset)

	t.setPot(cfg.ReflectionToken, t.pot(cfg.ReflectionToken).Add(rewardOut))
	t.deposit(rewardOut)

	t.emit(model.EventSwapBack, cfg.TokenAsset, rewardOut.String())
	metrics.SwapBacksTotal.Inc()
	return nil
}

// --- Share ledger ---

// syncShares recomputes a holder's share record from its balance and
// exemption flags, settling any accrued reward first so a share change
// never drops an earned claim.
func (t *txn) syncShares(addr string) {
	acct := t.account(addr)
	rec := t.share(addr)

	current := decimal.Zero
	if rec != nil {
		current = rec.Amount
	}
	target := acct.Balance
	if acct.DividendExempt {
		target = decimal.Zero
	}

	if current.IsPositive() {
		t.settle(addr)
		rec = t.share(addr)
	}

	d := t.dist()
	switch {
	case current.IsZero() && target.IsPositive():
		t.addHolder(addr)
		t.createShare(addr, target)
	case current.IsPositive() && target.IsZero():
		t.removeHolder(addr)
		t.removeShare(addr)
	case current.IsPositive() && target.IsPositive():
		rec.Amount = target
	default:
		return // zero to zero: nothing to do
	}
	d.TotalShares = d.TotalShares.Sub(current).Add(target)
}

// owedTo returns the holder's accrued, unrealized reward, floored to
// integer wei.
func (t *txn) owedTo(addr string) decimal.Decimal {
	rec := t.share(addr)
	if rec == nil || !rec.Amount.IsPositive() {
		return decimal.Zero
	}
	d := t.dist()
	earned := rec.Amount.Mul(d.DividendsPerShare.Sub(rec.TotalExcluded))
	owed, _ := earned.QuoRem(model.ShareAccuracy, 0)
	return owed
}

// settle pays the holder's accrued reward in full from the current
// asset's pot and resets the accrual baseline. Called before any share
// change. A pot that cannot cover the claim defers it whole, baseline
// untouched, same as distributeTo: the accrual survives until a funded
// pot can pay it, including across a reward-token switch.
func (t *txn) settle(addr string) {
	rec := t.share(addr)
	if rec == nil {
		return
	}
	owed := t.owedTo(addr)
	d := t.dist()
	if !owed.IsPositive() {
		rec.TotalExcluded = d.DividendsPerShare
		return
	}
	assetID := t.config().ReflectionToken
	pot := t.pot(assetID)
	if pot.LessThan(owed) {
		return
	}
	t.setPot(assetID, pot.Sub(owed))
	t.addReward(assetID, addr, owed)
	rec.TotalRealised = rec.TotalRealised.Add(owed)
	d.TotalDistributed = d.TotalDistributed.Add(owed)
	metrics.DistributionPayouts.WithLabelValues(assetID).Inc()
	rec.TotalExcluded = d.DividendsPerShare
}

// --- Admin operations ---

func (e *Engine) authorize(t *txn, caller string) error {
	addr, err := asset.ParseAddress(caller)
	if err != nil {
		return ErrUnauthorized
	}
	if addr != t.config().Owner {
		return ErrUnauthorized
	}
	return nil
}

// adminOp runs fn inside an owner-gated transaction and commits it.
func (e *Engine) adminOp(ctx context.Context, caller string, fn func(t *txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin()
	if err := e.authorize(t, caller); err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	return e.commit(ctx, t)
}

// ExcludeFromFee toggles an account's fee exemption.
func (e *Engine) ExcludeFromFee(ctx context.Context, caller, addr string, exempt bool) error {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return err
	}
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.account(addr).FeeExempt = exempt
		t.emit(model.EventAccountExcludeFromFee, addr, strconv.FormatBool(exempt))
		return nil
	})
}

// SetSwapTokensAtAmount updates the fee balance at which a swap-back
// triggers.
func (e *Engine) SetSwapTokensAtAmount(ctx context.Context, caller string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: swap threshold must be positive", ErrInvalidConfig)
	}
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.config().SwapThreshold = amount
		t.emit(model.EventSwapTokensAmountUpdated, "", amount.String())
		return nil
	})
}

// SetAutomatedMarketMakerPair registers or unregisters a liquidity-pair
// account. Pairs are made dividend-exempt when registered; unregistering
// leaves the exemption for the owner to lift explicitly.
func (e *Engine) SetAutomatedMarketMakerPair(ctx context.Context, caller, addr string, isPair bool) error {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return err
	}
	return e.adminOp(ctx, caller, func(t *txn) error {
		acct := t.account(addr)
		acct.IsAMMPair = isPair
		if isPair {
			acct.DividendExempt = true
		}
		t.syncShares(addr)
		t.emit(model.EventAMMPairUpdated, addr, strconv.FormatBool(isPair))
		return nil
	})
}

// SetIsDividendExempt toggles a holder's dividend exemption. Exempting
// settles the holder's pending reward before zeroing shares; un-exempting
// restores shares to the holder's current balance.
func (e *Engine) SetIsDividendExempt(ctx context.Context, caller, addr string, exempt bool) error {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return err
	}
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.account(addr).DividendExempt = exempt
		t.syncShares(addr)
		t.emit(model.EventDividendExemptUpdated, addr, strconv.FormatBool(exempt))
		return nil
	})
}

// SetDistributionStatus enables or disables the distribution scheduler.
// Disabling freezes the cursor and accumulators; re-enabling resumes
// exactly where processing left off.
func (e *Engine) SetDistributionStatus(ctx context.Context, caller string, enabled bool) error {
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.dist().Enabled = enabled
		t.emit(model.EventDistributionStatus, "", strconv.FormatBool(enabled))
		return nil
	})
}

// SetDistributionCriteria updates the minimum period between distribution
// cycles, in seconds.
func (e *Engine) SetDistributionCriteria(ctx context.Context, caller string, periodSeconds int64) error {
	if periodSeconds < 0 {
		return fmt.Errorf("%w: period must be non-negative", ErrInvalidConfig)
	}
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.dist().MinPeriod = periodSeconds
		t.emit(model.EventDistributionCriteria, "", strconv.FormatInt(periodSeconds, 10))
		return nil
	})
}

// SetDistributorGas updates the per-call holder budget. Rejected above
// the hard ceiling.
func (e *Engine) SetDistributorGas(ctx context.Context, caller string, gas int64) error {
	if gas > distributorGasCeiling {
		return ErrGasAboveLimit
	}
	if gas <= 0 {
		return fmt.Errorf("%w: gas must be positive", ErrInvalidConfig)
	}
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.dist().Gas = gas
		t.emit(model.EventDistributorGasUpdated, "", strconv.FormatInt(gas, 10))
		return nil
	})
}

// RemoveMaxTx lifts the transfer size limit by setting it to the
// unlimited sentinel.
func (e *Engine) RemoveMaxTx(ctx context.Context, caller string) error {
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.config().MaxTx = model.MaxTxUnlimited
		t.emit(model.EventMaxTxUpdated, "", model.MaxTxUnlimited.String())
		return nil
	})
}

// AdjustMaxTx sets the transfer size limit.
func (e *Engine) AdjustMaxTx(ctx context.Context, caller string, amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(model.MaxTxUnlimited) {
		return fmt.Errorf("%w: max tx out of range", ErrInvalidConfig)
	}
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.config().MaxTx = amount
		t.emit(model.EventMaxTxUpdated, "", amount.String())
		return nil
	})
}

// SetReflectionToken changes the reward asset. Only subsequent deposits
// are valued in the new asset; settled claims keep the asset they were
// paid in.
func (e *Engine) SetReflectionToken(ctx context.Context, caller, addr string) error {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return err
	}
	return e.adminOp(ctx, caller, func(t *txn) error {
		t.config().ReflectionToken = addr
		t.emit(model.EventRewardTokenUpdated, addr, "")
		return nil
	})
}

// ToggleReflections flips the reflections flag. Calling it twice restores
// the original state.
func (e *Engine) ToggleReflections(ctx context.Context, caller string) error {
	return e.adminOp(ctx, caller, func(t *txn) error {
		cfg := t.config()
		cfg.ReflectionsEnabled = !cfg.ReflectionsEnabled
		t.emit(model.EventReflectionsToggled, "", strconv.FormatBool(cfg.ReflectionsEnabled))
		return nil
	})
}

// EmergencyWithdrawNative sweeps the contract's native-currency balance
// to the owner and returns the swept amount.
func (e *Engine) EmergencyWithdrawNative(ctx context.Context, caller string) (decimal.Decimal, error) {
	var swept decimal.Decimal
	err := e.adminOp(ctx, caller, func(t *txn) error {
		swept = t.nativeBalance()
		t.setNative(decimal.Zero)
		t.emit(model.EventNativeWithdrawn, t.config().Owner, swept.String())
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return swept, nil
}

// FundNative credits the contract's native-currency balance. Anyone can
// fund it, mirroring a plain native transfer to the contract.
func (e *Engine) FundNative(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin()
	t.setNative(t.nativeBalance().Add(amount))
	return e.commit(ctx, t)
}

// ProcessDistribution runs one bounded distribution pass outside of a
// transfer.
func (e *Engine) ProcessDistribution(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin()
	t.process()
	return e.commit(ctx, t)
}
