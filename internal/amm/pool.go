// Package amm implements a constant-product (x*y=k) liquidity pool used by
// the built-in liquidity venue for swap-backs.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Amounts are integer wei; quotes are floored so a swap can never pay out
// more than the invariant allows.
package amm

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidReserves is returned when a pool is created with a
	// non-positive reserve.
	ErrInvalidReserves = errors.New("amm: pool reserves must be positive")

	// ErrUnknownAsset is returned when a swap references an asset the pool
	// does not hold.
	ErrUnknownAsset = errors.New("amm: asset not in pool")

	// ErrInsufficientLiquidity is returned when the pool cannot fill a swap
	// at the requested size, or the quote falls below the caller's minimum.
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity to fill swap")

	// LPFee is the liquidity-provider fee taken from the input side.
	LPFee = decimal.NewFromFloat(0.003)
)

// Pool is one two-asset constant-product pool.
type Pool struct {
	AssetA   string
	AssetB   string
	ReserveA decimal.Decimal
	ReserveB decimal.Decimal
}

// NewPool creates a pool holding the two assets at the given reserves.
func NewPool(assetA, assetB string, reserveA, reserveB decimal.Decimal) (*Pool, error) {
	if !reserveA.IsPositive() || !reserveB.IsPositive() {
		return nil, ErrInvalidReserves
	}
	return &Pool{AssetA: assetA, AssetB: assetB, ReserveA: reserveA, ReserveB: reserveB}, nil
}

// Holds reports whether the pool contains the given asset.
func (p *Pool) Holds(asset string) bool {
	return asset == p.AssetA || asset == p.AssetB
}

// reserves returns (reserveIn, reserveOut) oriented for a swap selling
// inAsset into the pool.
func (p *Pool) reserves(inAsset string) (decimal.Decimal, decimal.Decimal, error) {
	switch inAsset {
	case p.AssetA:
		return p.ReserveA, p.ReserveB, nil
	case p.AssetB:
		return p.ReserveB, p.ReserveA, nil
	default:
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, inAsset)
	}
}

// Quote returns the output amount for selling amountIn of inAsset, after
// the LP fee, floored to integer wei. The pool is not mutated.
//
//	out = reserveOut * inAfterFee / (reserveIn + inAfterFee)
func (p *Pool) Quote(inAsset string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	if !amountIn.IsPositive() {
		return decimal.Zero, ErrInsufficientLiquidity
	}
	reserveIn, reserveOut, err := p.reserves(inAsset)
	if err != nil {
		return decimal.Zero, err
	}

	inAfterFee := amountIn.Mul(decimal.NewFromInt(1).Sub(LPFee))
	out := reserveOut.Mul(inAfterFee).Div(reserveIn.Add(inAfterFee)).Floor()

	if !out.IsPositive() || out.GreaterThanOrEqual(reserveOut) {
		return decimal.Zero, ErrInsufficientLiquidity
	}
	return out, nil
}

// Swap executes a swap, mutating the reserves, and returns the output
// amount. Fails with ErrInsufficientLiquidity when the quote is below
// minAmountOut.
func (p *Pool) Swap(inAsset string, amountIn, minAmountOut decimal.Decimal) (decimal.Decimal, error) {
	out, err := p.Quote(inAsset, amountIn)
	if err != nil {
		return decimal.Zero, err
	}
	if out.LessThan(minAmountOut) {
		return decimal.Zero, fmt.Errorf("%w: quote %s below minimum %s", ErrInsufficientLiquidity, out, minAmountOut)
	}

	if inAsset == p.AssetA {
		p.ReserveA = p.ReserveA.Add(amountIn)
		p.ReserveB = p.ReserveB.Sub(out)
	} else {
		p.ReserveB = p.ReserveB.Add(amountIn)
		p.ReserveA = p.ReserveA.Sub(out)
	}
	return out, nil
}

// SpotPrice returns the marginal price of inAsset denominated in the other
// asset, before fees. Diagnostic only; execution always goes through Quote.
func (p *Pool) SpotPrice(inAsset string) (decimal.Decimal, error) {
	reserveIn, reserveOut, err := p.reserves(inAsset)
	if err != nil {
		return decimal.Zero, err
	}
	return reserveOut.DivRound(reserveIn, 18), nil
}
