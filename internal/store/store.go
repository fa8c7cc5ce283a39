// Package store defines the persistence interface for the token
// distributor. Implementations include PostgreSQL (source of truth),
// Redis (read-through snapshot cache), and in-memory (for testing).
//
// The engine loads the full state aggregate at boot and persists each
// operation as one atomic mutation batch: either every change in the
// batch lands or none does, matching the ledger's all-or-nothing
// operation semantics.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/model"
)

// Store is the persistence interface.
type Store interface {
	// LoadState loads the persisted aggregate. Returns (nil, nil) when the
	// store has never been written; the engine then seeds genesis.
	LoadState(ctx context.Context) (*model.State, error)

	// Apply atomically persists one operation's mutation batch.
	Apply(ctx context.Context, m *Mutation) error

	// Events returns up to limit persisted events, newest first.
	Events(ctx context.Context, limit int) ([]model.Event, error)
}

// Mutation is the change set produced by one engine operation. All amounts
// are absolute values, not deltas, so applying a mutation is a plain upsert.
type Mutation struct {
	Accounts       []model.Account      // upserts by address
	Shares         []model.ShareRecord  // upserts by holder
	RemovedShares  []string             // holders whose record is removed
	Holders        []model.HolderSlot   // position upserts by address
	RemovedHolders []string             // addresses removed from the holder list
	Distributor    *model.DistributorState
	Config         *model.TokenConfig
	Pots           []model.RewardPot    // upserts by asset
	Rewards        []model.RewardCredit // upserts by (asset, holder)
	NativeBalance  *decimal.Decimal
	Events         []model.Event // appends
}

// Empty reports whether the mutation carries no changes at all.
func (m *Mutation) Empty() bool {
	return len(m.Accounts) == 0 && len(m.Shares) == 0 && len(m.RemovedShares) == 0 &&
		len(m.Holders) == 0 && len(m.RemovedHolders) == 0 &&
		m.Distributor == nil && m.Config == nil &&
		len(m.Pots) == 0 && len(m.Rewards) == 0 &&
		m.NativeBalance == nil && len(m.Events) == 0
}
