package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// swapDeadlineWindow bounds how long a two-leg swap-back may sit with the
// venue before either leg is rejected.
const swapDeadlineWindow = 20 * time.Minute

// Coordinator performs the swap-back: fee tokens to native currency, then
// native currency to the configured reward asset. Venue failures propagate
// to the caller; there is no internal retry. An aborted swap-back is
// simply re-attempted when the threshold condition next holds.
type Coordinator struct {
	venue Venue
}

// NewCoordinator creates a coordinator over the given venue.
func NewCoordinator(venue Venue) *Coordinator {
	return &Coordinator{venue: venue}
}

// Liquidate sells amount of feeToken for nativeAsset and the full proceeds
// of that leg for rewardAsset. Returns (nativeOut, rewardOut).
func (c *Coordinator) Liquidate(ctx context.Context, feeToken, nativeAsset, rewardAsset string, amount decimal.Decimal, now time.Time) (decimal.Decimal, decimal.Decimal, error) {
	deadline := now.Add(swapDeadlineWindow)

	nativeOut, err := c.venue.QuoteAndSwap(ctx, feeToken, nativeAsset, amount, decimal.Zero, deadline)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("swap-back fee leg: %w", err)
	}

	rewardOut, err := c.venue.QuoteAndSwap(ctx, nativeAsset, rewardAsset, nativeOut, decimal.Zero, deadline)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("swap-back reward leg: %w", err)
	}

	return nativeOut, rewardOut, nil
}
