package swap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/amm"
)

const (
	tokenAsset  = "0x1111111111111111111111111111111111111111"
	rewardAsset = "0x2222222222222222222222222222222222222222"
	nativeAsset = "NATIVE"
)

func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func newSeededVenue(t *testing.T) *PoolVenue {
	t.Helper()
	v := NewPoolVenue()
	if err := v.SeedPool(tokenAsset, nativeAsset, d(10_000_000), d(10_000_000)); err != nil {
		t.Fatalf("seed token pool: %v", err)
	}
	if err := v.SeedPool(nativeAsset, rewardAsset, d(10_000_000), d(10_000_000)); err != nil {
		t.Fatalf("seed reward pool: %v", err)
	}
	return v
}

func TestLiquidate_TwoLegs(t *testing.T) {
	v := newSeededVenue(t)
	c := NewCoordinator(v)

	nativeOut, rewardOut, err := c.Liquidate(context.Background(), tokenAsset, nativeAsset, rewardAsset, d(10_000), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !nativeOut.IsPositive() || !rewardOut.IsPositive() {
		t.Fatalf("expected positive proceeds, got native=%s reward=%s", nativeOut, rewardOut)
	}
	// Two fee-bearing legs: reward proceeds below the input amount.
	if rewardOut.GreaterThanOrEqual(d(10_000)) {
		t.Errorf("expected reward out below input after two fee legs, got %s", rewardOut)
	}
}

func TestLiquidate_NoRewardPool(t *testing.T) {
	v := NewPoolVenue()
	if err := v.SeedPool(tokenAsset, nativeAsset, d(1_000_000), d(1_000_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := NewCoordinator(v)

	_, _, err := c.Liquidate(context.Background(), tokenAsset, nativeAsset, rewardAsset, d(1000), time.Now())
	if !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity for missing reward pool, got %v", err)
	}
}

func TestLiquidate_PropagatesLegFailure(t *testing.T) {
	c := NewCoordinator(&failingVenue{})
	_, _, err := c.Liquidate(context.Background(), tokenAsset, nativeAsset, rewardAsset, d(1000), time.Now())
	if !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("expected venue failure to propagate, got %v", err)
	}
}

func TestSeedPool_ReplacesExisting(t *testing.T) {
	v := NewPoolVenue()
	if err := v.SeedPool(tokenAsset, nativeAsset, d(100), d(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := v.SeedPool(tokenAsset, nativeAsset, d(500), d(500)); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	pools := v.Pools()
	if len(pools) != 1 {
		t.Fatalf("expected 1 pool after re-seed, got %d", len(pools))
	}
	if !pools[0].ReserveA.Equal(d(500)) {
		t.Errorf("expected replaced reserves, got %s", pools[0].ReserveA)
	}
}

func TestQuoteAndSwap_DeadlineExpired(t *testing.T) {
	v := newSeededVenue(t)
	_, err := v.QuoteAndSwap(context.Background(), tokenAsset, nativeAsset, d(1000), decimal.Zero, time.Now().Add(-time.Second))
	if !errors.Is(err, ErrDeadlineExpired) {
		t.Errorf("expected ErrDeadlineExpired, got %v", err)
	}
}

// failingVenue refuses every swap.
type failingVenue struct{}

func (f *failingVenue) QuoteAndSwap(context.Context, string, string, decimal.Decimal, decimal.Decimal, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, amm.ErrInsufficientLiquidity
}
