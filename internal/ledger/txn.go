package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/metrics"
	"github.com/rafa-canseco/TokenDistributor/internal/model"
	"github.com/rafa-canseco/TokenDistributor/internal/store"
)

// txn is a copy-on-write view over the engine's base state. Reads fall
// through to the base; the first write to an entity copies it into the
// txn. commit persists the touched set as one store mutation and then
// folds it into the base, so a failed operation never leaves a partial
// write in either place.
type txn struct {
	e   *Engine
	now time.Time

	accounts map[string]*model.Account
	shares   map[string]*model.ShareRecord

	holders       []string       // nil until cloneHolders
	holderPos     map[string]int // nil until cloneHolders
	changedSlots  map[string]int
	removedHolder map[string]struct{}
	removedShare  map[string]struct{}

	distCopy   *model.DistributorState
	configCopy *model.TokenConfig
	pots       map[string]decimal.Decimal
	rewards    map[string]map[string]decimal.Decimal
	native     *decimal.Decimal

	events []model.Event
}

func (e *Engine) begin() *txn {
	return &txn{
		e:             e,
		now:           e.clock(),
		accounts:      make(map[string]*model.Account),
		shares:        make(map[string]*model.ShareRecord),
		changedSlots:  make(map[string]int),
		removedHolder: make(map[string]struct{}),
		removedShare:  make(map[string]struct{}),
		pots:          make(map[string]decimal.Decimal),
		rewards:       make(map[string]map[string]decimal.Decimal),
	}
}

// account returns a writable account, creating an empty one for unknown
// addresses.
func (t *txn) account(addr string) *model.Account {
	if a, ok := t.accounts[addr]; ok {
		return a
	}
	if base, ok := t.e.st.accounts[addr]; ok {
		cp := *base
		t.accounts[addr] = &cp
		return &cp
	}
	a := &model.Account{Address: addr, Balance: decimal.Zero}
	t.accounts[addr] = a
	return a
}

// share returns a writable share record, or nil if the holder has none.
func (t *txn) share(holder string) *model.ShareRecord {
	if _, gone := t.removedShare[holder]; gone {
		return nil
	}
	if r, ok := t.shares[holder]; ok {
		return r
	}
	if base, ok := t.e.st.shares[holder]; ok {
		cp := *base
		t.shares[holder] = &cp
		return &cp
	}
	return nil
}

func (t *txn) createShare(holder string, amount decimal.Decimal) {
	delete(t.removedShare, holder)
	t.shares[holder] = &model.ShareRecord{
		Holder:        holder,
		Amount:        amount,
		TotalExcluded: t.dist().DividendsPerShare,
		TotalRealised: t.realisedOf(holder),
	}
}

// realisedOf preserves lifetime realised earnings across share record
// churn (exempt then un-exempt).
func (t *txn) realisedOf(holder string) decimal.Decimal {
	if r, ok := t.shares[holder]; ok {
		return r.TotalRealised
	}
	if base, ok := t.e.st.shares[holder]; ok {
		return base.TotalRealised
	}
	return decimal.Zero
}

func (t *txn) removeShare(holder string) {
	delete(t.shares, holder)
	t.removedShare[holder] = struct{}{}
}

func (t *txn) dist() *model.DistributorState {
	if t.distCopy == nil {
		cp := t.e.st.dist
		t.distCopy = &cp
	}
	return t.distCopy
}

func (t *txn) config() *model.TokenConfig {
	if t.configCopy == nil {
		cp := t.e.st.config
		t.configCopy = &cp
	}
	return t.configCopy
}

func (t *txn) pot(assetID string) decimal.Decimal {
	if v, ok := t.pots[assetID]; ok {
		return v
	}
	if v, ok := t.e.st.pots[assetID]; ok {
		return v
	}
	return decimal.Zero
}

func (t *txn) setPot(assetID string, v decimal.Decimal) {
	t.pots[assetID] = v
}

func (t *txn) rewardOf(assetID, holder string) decimal.Decimal {
	if byHolder, ok := t.rewards[assetID]; ok {
		if v, ok := byHolder[holder]; ok {
			return v
		}
	}
	if byHolder, ok := t.e.st.rewards[assetID]; ok {
		if v, ok := byHolder[holder]; ok {
			return v
		}
	}
	return decimal.Zero
}

func (t *txn) addReward(assetID, holder string, amount decimal.Decimal) {
	byHolder, ok := t.rewards[assetID]
	if !ok {
		byHolder = make(map[string]decimal.Decimal)
		t.rewards[assetID] = byHolder
	}
	byHolder[holder] = t.rewardOf(assetID, holder).Add(amount)
}

func (t *txn) nativeBalance() decimal.Decimal {
	if t.native != nil {
		return *t.native
	}
	return t.e.st.native
}

func (t *txn) setNative(v decimal.Decimal) {
	t.native = &v
}

// --- Holder list ---

func (t *txn) cloneHolders() {
	if t.holders != nil {
		return
	}
	t.holders = make([]string, len(t.e.st.holders))
	copy(t.holders, t.e.st.holders)
	t.holderPos = make(map[string]int, len(t.e.st.holderPos))
	for addr, pos := range t.e.st.holderPos {
		t.holderPos[addr] = pos
	}
}

func (t *txn) holderCount() int {
	if t.holders != nil {
		return len(t.holders)
	}
	return len(t.e.st.holders)
}

func (t *txn) holderAt(i int) string {
	if t.holders != nil {
		return t.holders[i]
	}
	return t.e.st.holders[i]
}

func (t *txn) addHolder(addr string) {
	t.cloneHolders()
	if _, ok := t.holderPos[addr]; ok {
		return
	}
	delete(t.removedHolder, addr)
	pos := len(t.holders)
	t.holders = append(t.holders, addr)
	t.holderPos[addr] = pos
	t.changedSlots[addr] = pos
}

// removeHolder takes the holder out with a swap-to-end-and-pop so the
// rest of the list keeps its positions. The cursor is clamped if it now
// points past the end.
func (t *txn) removeHolder(addr string) {
	t.cloneHolders()
	pos, ok := t.holderPos[addr]
	if !ok {
		return
	}
	last := len(t.holders) - 1
	if pos != last {
		moved := t.holders[last]
		t.holders[pos] = moved
		t.holderPos[moved] = pos
		t.changedSlots[moved] = pos
	}
	t.holders = t.holders[:last]
	delete(t.holderPos, addr)
	delete(t.changedSlots, addr)
	t.removedHolder[addr] = struct{}{}

	d := t.dist()
	if d.Cursor >= len(t.holders) {
		d.Cursor = 0
	}
	if d.PassRemaining > len(t.holders) {
		d.PassRemaining = len(t.holders)
	}
}

// --- Events ---

func (t *txn) emit(name, addr, value string) {
	t.events = append(t.events, model.Event{
		ID:      uuid.NewString(),
		Name:    name,
		Address: addr,
		Value:   value,
		At:      t.now,
	})
}

// --- Commit ---

func (t *txn) mutation() *store.Mutation {
	m := &store.Mutation{}
	for _, a := range t.accounts {
		m.Accounts = append(m.Accounts, *a)
	}
	for _, r := range t.shares {
		m.Shares = append(m.Shares, *r)
	}
	for holder := range t.removedShare {
		m.RemovedShares = append(m.RemovedShares, holder)
	}
	for addr, pos := range t.changedSlots {
		m.Holders = append(m.Holders, model.HolderSlot{Address: addr, Position: pos})
	}
	for addr := range t.removedHolder {
		m.RemovedHolders = append(m.RemovedHolders, addr)
	}
	if t.distCopy != nil {
		cp := *t.distCopy
		m.Distributor = &cp
	}
	if t.configCopy != nil {
		cp := *t.configCopy
		m.Config = &cp
	}
	for assetID, amount := range t.pots {
		m.Pots = append(m.Pots, model.RewardPot{Asset: assetID, Amount: amount})
	}
	for assetID, byHolder := range t.rewards {
		for holder, amount := range byHolder {
			m.Rewards = append(m.Rewards, model.RewardCredit{Asset: assetID, Holder: holder, Amount: amount})
		}
	}
	m.NativeBalance = t.native
	m.Events = append(m.Events, t.events...)
	return m
}

// commit persists the transaction and folds it into the base state. The
// store write goes first; a store failure discards the txn entirely.
func (e *Engine) commit(ctx context.Context, t *txn) error {
	if err := e.store.Apply(ctx, t.mutation()); err != nil {
		return fmt.Errorf("apply mutation: %w", err)
	}

	st := e.st
	for addr, a := range t.accounts {
		st.accounts[addr] = a
	}
	for holder := range t.removedShare {
		delete(st.shares, holder)
	}
	for holder, r := range t.shares {
		st.shares[holder] = r
	}
	if t.holders != nil {
		st.holders = t.holders
		st.holderPos = t.holderPos
	}
	if t.distCopy != nil {
		st.dist = *t.distCopy
	}
	if t.configCopy != nil {
		st.config = *t.configCopy
	}
	for assetID, v := range t.pots {
		st.pots[assetID] = v
	}
	for assetID, byHolder := range t.rewards {
		base, ok := st.rewards[assetID]
		if !ok {
			base = make(map[string]decimal.Decimal)
			st.rewards[assetID] = base
		}
		for holder, v := range byHolder {
			base[holder] = v
		}
	}
	if t.native != nil {
		st.native = *t.native
	}

	metrics.HolderCount.Set(float64(len(st.holders)))
	if e.hub != nil {
		for _, ev := range t.events {
			e.hub.Broadcast(ev)
		}
	}
	return nil
}
