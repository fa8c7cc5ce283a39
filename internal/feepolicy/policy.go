// Package feepolicy decides whether a transfer is taxed and whether it
// fits under the maximum transaction size.
//
// Fees apply only to transfers that touch an automated-market-maker pair
// account (a buy or sell against the liquidity venue). Internal
// wallet-to-wallet transfers between non-pair accounts are fee-free.
package feepolicy

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrLimitExceeded is returned when a transfer between two non-exempt
	// parties exceeds the maximum transaction size.
	ErrLimitExceeded = errors.New("feepolicy: transfer exceeds max transaction size")

	// ErrNonPositiveAmount is returned for zero or negative transfer amounts.
	ErrNonPositiveAmount = errors.New("feepolicy: transfer amount must be positive")
)

// Policy evaluates transfer-size limits and fee withholding. It is pure:
// account flags are passed as arguments, not stored.
type Policy struct {
	// MaxTx is the maximum transfer size. The unlimited sentinel is simply
	// a value no balance can exceed; the check itself always runs.
	MaxTx decimal.Decimal

	// FeeRate is the fraction of the amount withheld on taxable transfers.
	FeeRate decimal.Decimal
}

// New creates a policy with the given max transaction size and fee rate.
func New(maxTx, feeRate decimal.Decimal) *Policy {
	return &Policy{MaxTx: maxTx, FeeRate: feeRate}
}

// Participant carries the flags of one transfer party relevant to policy.
type Participant struct {
	FeeExempt bool
	IsAMMPair bool
}

// CheckLimit validates the transfer size. The limit is enforced only when
// neither party is fee-exempt.
func (p *Policy) CheckLimit(amount decimal.Decimal, from, to Participant) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if from.FeeExempt || to.FeeExempt {
		return nil
	}
	if amount.GreaterThan(p.MaxTx) {
		return ErrLimitExceeded
	}
	return nil
}

// FeeFor returns the fee withheld from a transfer, floored to integer wei.
// Zero when either party is fee-exempt or when the transfer does not touch
// an AMM pair.
func (p *Policy) FeeFor(amount decimal.Decimal, from, to Participant) decimal.Decimal {
	if from.FeeExempt || to.FeeExempt {
		return decimal.Zero
	}
	if !from.IsAMMPair && !to.IsAMMPair {
		return decimal.Zero
	}
	return amount.Mul(p.FeeRate).Floor()
}
