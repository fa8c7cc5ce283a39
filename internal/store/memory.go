package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	accounts    map[string]model.Account
	shares      map[string]model.ShareRecord
	holders     map[string]int
	distributor model.DistributorState
	config      model.TokenConfig
	pots        map[string]decimal.Decimal
	rewards     map[string]map[string]decimal.Decimal // asset -> holder -> amount
	native      decimal.Decimal
	events      []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]model.Account),
		shares:   make(map[string]model.ShareRecord),
		holders:  make(map[string]int),
		pots:     make(map[string]decimal.Decimal),
		rewards:  make(map[string]map[string]decimal.Decimal),
	}
}

func (s *MemoryStore) LoadState(_ context.Context) (*model.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, nil
	}

	st := &model.State{
		Distributor:   s.distributor,
		Config:        s.config,
		NativeBalance: s.native,
	}
	for _, a := range s.accounts {
		st.Accounts = append(st.Accounts, a)
	}
	for _, r := range s.shares {
		st.Shares = append(st.Shares, r)
	}
	for addr, pos := range s.holders {
		st.Holders = append(st.Holders, model.HolderSlot{Address: addr, Position: pos})
	}
	sort.Slice(st.Holders, func(i, j int) bool { return st.Holders[i].Position < st.Holders[j].Position })
	for asset, amt := range s.pots {
		st.Pots = append(st.Pots, model.RewardPot{Asset: asset, Amount: amt})
	}
	for asset, byHolder := range s.rewards {
		for holder, amt := range byHolder {
			st.Rewards = append(st.Rewards, model.RewardCredit{Asset: asset, Holder: holder, Amount: amt})
		}
	}
	return st, nil
}

func (s *MemoryStore) Apply(_ context.Context, m *Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true

	for _, a := range m.Accounts {
		s.accounts[a.Address] = a
	}
	for _, r := range m.Shares {
		s.shares[r.Holder] = r
	}
	for _, h := range m.RemovedShares {
		delete(s.shares, h)
	}
	for _, h := range m.Holders {
		s.holders[h.Address] = h.Position
	}
	for _, h := range m.RemovedHolders {
		delete(s.holders, h)
	}
	if m.Distributor != nil {
		s.distributor = *m.Distributor
	}
	if m.Config != nil {
		s.config = *m.Config
	}
	for _, p := range m.Pots {
		s.pots[p.Asset] = p.Amount
	}
	for _, r := range m.Rewards {
		byHolder, ok := s.rewards[r.Asset]
		if !ok {
			byHolder = make(map[string]decimal.Decimal)
			s.rewards[r.Asset] = byHolder
		}
		byHolder[r.Holder] = r.Amount
	}
	if m.NativeBalance != nil {
		s.native = *m.NativeBalance
	}
	s.events = append(s.events, m.Events...)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]model.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}
