// Package swap holds the liquidity-venue boundary: the Venue interface the
// ledger depends on, a pool-backed in-process venue, and the Coordinator
// that turns withheld fee tokens into the configured reward asset.
package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/amm"
)

var (
	// ErrNoPool is returned when the venue has no pool for the asset pair.
	ErrNoPool = errors.New("swap: no pool for asset pair")

	// ErrDeadlineExpired is returned when a swap is requested past its
	// deadline.
	ErrDeadlineExpired = errors.New("swap: deadline expired")
)

// Venue is the external liquidity venue. The ledger depends only on this
// signature and its failure modes; routing and pricing are the venue's
// concern.
type Venue interface {
	// QuoteAndSwap sells amountIn of inputAsset for outputAsset and returns
	// the amount received. Fails with amm.ErrInsufficientLiquidity when the
	// venue cannot fill the swap at the requested size or above
	// minAmountOut.
	QuoteAndSwap(ctx context.Context, inputAsset, outputAsset string, amountIn, minAmountOut decimal.Decimal, deadline time.Time) (decimal.Decimal, error)
}

// PoolVenue is an in-process Venue over constant-product pools. Used as
// the default venue in development and in tests; production deployments
// can substitute any Venue implementation.
type PoolVenue struct {
	mu    sync.Mutex
	pools []*amm.Pool
}

// NewPoolVenue creates an empty venue. Pools are added with SeedPool.
func NewPoolVenue() *PoolVenue {
	return &PoolVenue{}
}

// SeedPool creates or replaces the pool for an asset pair.
func (v *PoolVenue) SeedPool(assetA, assetB string, reserveA, reserveB decimal.Decimal) error {
	pool, err := amm.NewPool(assetA, assetB, reserveA, reserveB)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for i, p := range v.pools {
		if p.Holds(assetA) && p.Holds(assetB) {
			v.pools[i] = pool
			return nil
		}
	}
	v.pools = append(v.pools, pool)
	return nil
}

// Pools returns a snapshot of the venue's pools.
func (v *PoolVenue) Pools() []amm.Pool {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]amm.Pool, 0, len(v.pools))
	for _, p := range v.pools {
		out = append(out, *p)
	}
	return out
}

// QuoteAndSwap implements Venue.
func (v *PoolVenue) QuoteAndSwap(_ context.Context, inputAsset, outputAsset string, amountIn, minAmountOut decimal.Decimal, deadline time.Time) (decimal.Decimal, error) {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return decimal.Zero, ErrDeadlineExpired
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, p := range v.pools {
		if p.Holds(inputAsset) && p.Holds(outputAsset) {
			return p.Swap(inputAsset, amountIn, minAmountOut)
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s: %w", ErrNoPool, inputAsset, outputAsset, amm.ErrInsufficientLiquidity)
}
