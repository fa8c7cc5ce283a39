package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/asset"
	"github.com/rafa-canseco/TokenDistributor/internal/model"
)

// TransferResult reports the settled amounts of a transfer.
type TransferResult struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Net    decimal.Decimal `json:"net"`
}

// AccountView is the public shape of an account.
type AccountView struct {
	Address        string          `json:"address"`
	Balance        decimal.Decimal `json:"balance"`
	FeeExempt      bool            `json:"feeExempt"`
	DividendExempt bool            `json:"dividendExempt"`
	IsAMMPair      bool            `json:"isAmmPair"`
}

// HolderView is a share-ledger entry with its accrued, unrealized reward.
type HolderView struct {
	Address       string          `json:"address"`
	Shares        decimal.Decimal `json:"shares"`
	Unpaid        decimal.Decimal `json:"unpaid"`
	TotalRealised decimal.Decimal `json:"totalRealised"`
}

// DistributorInfo is a scheduler snapshot.
type DistributorInfo struct {
	TotalShares      decimal.Decimal `json:"totalShares"`
	TotalDividends   decimal.Decimal `json:"totalDividends"`
	TotalDistributed decimal.Decimal `json:"totalDistributed"`
	QueuedDeposits   decimal.Decimal `json:"queuedDeposits"`
	Cursor           int             `json:"cursor"`
	PassRemaining    int             `json:"passRemaining"`
	PendingDeposit   bool            `json:"pendingDeposit"`
	MinPeriod        int64           `json:"minPeriodSeconds"`
	MinDistribution  decimal.Decimal `json:"minDistribution"`
	Gas              int64           `json:"gas"`
	LastDistribution time.Time       `json:"lastDistribution"`
	Enabled          bool            `json:"enabled"`
	HolderCount      int             `json:"holderCount"`
}

// ConfigView is the public token configuration.
type ConfigView struct {
	Owner              string          `json:"owner"`
	TokenAsset         string          `json:"tokenAsset"`
	NativeAsset        string          `json:"nativeAsset"`
	ReflectionToken    string          `json:"reflectionToken"`
	MaxTx              decimal.Decimal `json:"maxTx"`
	SwapThreshold      decimal.Decimal `json:"swapThreshold"`
	FeeRate            decimal.Decimal `json:"feeRate"`
	ReflectionsEnabled bool            `json:"reflectionsEnabled"`
	NativeBalance      decimal.Decimal `json:"nativeBalance"`
}

// PotView is one reward asset's undistributed pot.
type PotView struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// RewardView is one holder's realised payout in one asset.
type RewardView struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// BalanceOf returns an account's balance. Unknown addresses hold zero.
func (e *Engine) BalanceOf(addr string) (decimal.Decimal, error) {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return decimal.Zero, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.st.accounts[addr]; ok {
		return a.Balance, nil
	}
	return decimal.Zero, nil
}

// Account returns an account's public view. Unknown addresses come back
// zeroed rather than erroring, matching balance semantics.
func (e *Engine) Account(addr string) (AccountView, error) {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return AccountView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v := AccountView{Address: addr, Balance: decimal.Zero}
	if a, ok := e.st.accounts[addr]; ok {
		v.Balance = a.Balance
		v.FeeExempt = a.FeeExempt
		v.DividendExempt = a.DividendExempt
		v.IsAMMPair = a.IsAMMPair
	}
	return v, nil
}

// Holder returns one share-ledger entry.
func (e *Engine) Holder(addr string) (HolderView, error) {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return HolderView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.st.shares[addr]
	if !ok {
		return HolderView{}, ErrUnknownHolder
	}
	return HolderView{
		Address:       addr,
		Shares:        rec.Amount,
		Unpaid:        e.unpaidLocked(rec),
		TotalRealised: rec.TotalRealised,
	}, nil
}

// Holders returns the share ledger in cursor order.
func (e *Engine) Holders() []HolderView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]HolderView, 0, len(e.st.holders))
	for _, addr := range e.st.holders {
		rec := e.st.shares[addr]
		out = append(out, HolderView{
			Address:       addr,
			Shares:        rec.Amount,
			Unpaid:        e.unpaidLocked(rec),
			TotalRealised: rec.TotalRealised,
		})
	}
	return out
}

// UnpaidEarnings returns a holder's accrued, unrealized reward in the
// current reward asset.
func (e *Engine) UnpaidEarnings(addr string) (decimal.Decimal, error) {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return decimal.Zero, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.st.shares[addr]
	if !ok {
		return decimal.Zero, nil
	}
	return e.unpaidLocked(rec), nil
}

func (e *Engine) unpaidLocked(rec *model.ShareRecord) decimal.Decimal {
	if !rec.Amount.IsPositive() {
		return decimal.Zero
	}
	earned := rec.Amount.Mul(e.st.dist.DividendsPerShare.Sub(rec.TotalExcluded))
	owed, _ := earned.QuoRem(model.ShareAccuracy, 0)
	return owed
}

// Rewards returns a holder's realised payouts per reward asset.
func (e *Engine) Rewards(addr string) ([]RewardView, error) {
	addr, err := asset.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []RewardView
	for assetID, byHolder := range e.st.rewards {
		if v, ok := byHolder[addr]; ok && v.IsPositive() {
			out = append(out, RewardView{Asset: assetID, Amount: v})
		}
	}
	return out, nil
}

// Pots returns every reward asset's undistributed pot.
func (e *Engine) Pots() []PotView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PotView, 0, len(e.st.pots))
	for assetID, v := range e.st.pots {
		out = append(out, PotView{Asset: assetID, Amount: v})
	}
	return out
}

// Distributor returns a scheduler snapshot.
func (e *Engine) Distributor() DistributorInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.st.dist
	return DistributorInfo{
		TotalShares:      d.TotalShares,
		TotalDividends:   d.TotalDividends,
		TotalDistributed: d.TotalDistributed,
		QueuedDeposits:   d.QueuedDeposits,
		Cursor:           d.Cursor,
		PassRemaining:    d.PassRemaining,
		PendingDeposit:   d.PendingDeposit,
		MinPeriod:        d.MinPeriod,
		MinDistribution:  d.MinDistribution,
		Gas:              d.Gas,
		LastDistribution: d.LastDistribution,
		Enabled:          d.Enabled,
		HolderCount:      len(e.st.holders),
	}
}

// Config returns the public token configuration.
func (e *Engine) Config() ConfigView {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.st.config
	return ConfigView{
		Owner:              c.Owner,
		TokenAsset:         c.TokenAsset,
		NativeAsset:        c.NativeAsset,
		ReflectionToken:    c.ReflectionToken,
		MaxTx:              c.MaxTx,
		SwapThreshold:      c.SwapThreshold,
		FeeRate:            c.FeeRate,
		ReflectionsEnabled: c.ReflectionsEnabled,
		NativeBalance:      e.st.native,
	}
}

// EventLog returns up to limit persisted events, newest first.
func (e *Engine) EventLog(ctx context.Context, limit int) ([]model.Event, error) {
	return e.store.Events(ctx, limit)
}
