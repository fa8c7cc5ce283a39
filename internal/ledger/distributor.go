package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/metrics"
	"github.com/rafa-canseco/TokenDistributor/internal/model"
)

// deposit credits a swap-back's reward proceeds to the per-share
// accumulator. With no eligible shares the amount is queued and folded
// into the next deposit, so no reward is ever orphaned.
func (t *txn) deposit(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	d := t.dist()
	if !d.TotalShares.IsPositive() {
		d.QueuedDeposits = d.QueuedDeposits.Add(amount)
		return
	}
	total := amount.Add(d.QueuedDeposits)
	d.QueuedDeposits = decimal.Zero
	d.TotalDividends = d.TotalDividends.Add(total)
	perShare, _ := total.Mul(model.ShareAccuracy).QuoRem(d.TotalShares, 0)
	d.DividendsPerShare = d.DividendsPerShare.Add(perShare)
	d.PendingDeposit = true
}

// process runs at most one budget's worth of distribution work. A pass
// over the holder list starts only when a deposit is pending and the
// minimum period has elapsed; once started, a pass resumes across calls
// from wherever the cursor stopped, regardless of the period.
func (t *txn) process() {
	d := t.dist()
	if !d.Enabled {
		return
	}
	count := t.holderCount()
	if count == 0 {
		d.PassRemaining = 0
		return
	}

	if d.PassRemaining == 0 {
		if !d.PendingDeposit {
			return
		}
		if t.now.Sub(d.LastDistribution) < time.Duration(d.MinPeriod)*time.Second {
			return
		}
		d.PassRemaining = count
		if d.Cursor >= count {
			d.Cursor = 0
		}
	}

	visited := int64(0)
	for visited < d.Gas && d.PassRemaining > 0 {
		count = t.holderCount()
		if count == 0 {
			d.PassRemaining = 0
			break
		}
		if d.Cursor >= count {
			d.Cursor = 0
		}
		holder := t.holderAt(d.Cursor)
		t.distributeTo(holder)
		d.Cursor = (d.Cursor + 1) % count
		d.PassRemaining--
		visited++
	}
	metrics.HoldersVisited.Add(float64(visited))

	if d.PassRemaining == 0 {
		d.LastDistribution = t.now
		d.PendingDeposit = false
	}
}

// distributeTo pays one holder's accrued reward if it meets the minimum
// and the current asset's pot covers it in full. A short pot skips the
// holder without resetting the accrual, deferring the claim.
func (t *txn) distributeTo(holder string) {
	owed := t.owedTo(holder)
	d := t.dist()
	if owed.LessThan(d.MinDistribution) {
		return
	}
	assetID := t.config().ReflectionToken
	if t.pot(assetID).LessThan(owed) {
		return
	}
	t.settle(holder)
}
