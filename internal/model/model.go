// Package model defines the core domain types shared across the token
// distributor. All monetary values use shopspring/decimal — never float64
// for money. Token amounts are integer wei (18 decimals).
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	// TotalSupply is the full token supply minted to the owner at genesis:
	// 100,000,000,000 tokens of 18 decimals.
	TotalSupply = decimal.New(1, 29)

	// MaxTxUnlimited is the sentinel written by the remove-max-tx operation.
	// Equal to the full supply, so no transfer can exceed it.
	MaxTxUnlimited = decimal.New(1, 29)

	// ShareAccuracy is the fixed-point scale of the dividends-per-share
	// accumulator. Large enough that a totalShares equal to the full supply
	// cannot truncate a deposit to zero.
	ShareAccuracy = decimal.New(1, 36)
)

// Account holds one address's token balance and routing flags.
// Accounts are created implicitly on first balance change and never
// destroyed, only zeroed.
type Account struct {
	Address        string          `json:"address" db:"address"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	FeeExempt      bool            `json:"fee_exempt" db:"fee_exempt"`
	DividendExempt bool            `json:"dividend_exempt" db:"dividend_exempt"`
	IsAMMPair      bool            `json:"is_amm_pair" db:"is_amm_pair"`
}

// ShareRecord tracks one holder's proportional claim on distributed rewards.
// Amount mirrors the holder's token balance unless the holder is
// dividend-exempt, in which case the record is removed.
type ShareRecord struct {
	Holder string `json:"holder" db:"holder"`

	// Amount is the holder's current share weight.
	Amount decimal.Decimal `json:"amount" db:"amount"`

	// TotalExcluded is the dividends-per-share accumulator value at the
	// holder's last sync, scaled by ShareAccuracy. Newly accrued reward is
	// Amount * (accumulator - TotalExcluded) / ShareAccuracy.
	TotalExcluded decimal.Decimal `json:"total_excluded" db:"total_excluded"`

	// TotalRealised is the lifetime amount paid out to the holder.
	TotalRealised decimal.Decimal `json:"total_realised" db:"total_realised"`
}

// HolderSlot pins a holder to a position in the stable, insertion-ordered
// holder list that the distribution cursor iterates over.
type HolderSlot struct {
	Address  string `json:"address" db:"address"`
	Position int    `json:"position" db:"position"`
}

// DistributorState is the global distribution scheduler state.
type DistributorState struct {
	TotalShares    decimal.Decimal `json:"total_shares" db:"total_shares"`
	TotalDividends decimal.Decimal `json:"total_dividends" db:"total_dividends"`

	// TotalDistributed is the cumulative amount actually paid to holders.
	TotalDistributed decimal.Decimal `json:"total_distributed" db:"total_distributed"`

	// DividendsPerShare is the reward-per-share accumulator, scaled by
	// ShareAccuracy.
	DividendsPerShare decimal.Decimal `json:"dividends_per_share" db:"dividends_per_share"`

	// Cursor is the holder-list index where the next bounded pass resumes.
	Cursor int `json:"cursor" db:"cursor"`

	// PassRemaining counts holders left to visit in the current pass.
	// Zero means the scheduler is idle between cycles.
	PassRemaining int `json:"pass_remaining" db:"pass_remaining"`

	// PendingDeposit is set when a deposit has credited the accumulator and
	// no full pass has completed since.
	PendingDeposit bool `json:"pending_deposit" db:"pending_deposit"`

	// QueuedDeposits retains reward deposited while totalShares was zero.
	// Folded into the next deposit that sees non-zero shares.
	QueuedDeposits decimal.Decimal `json:"queued_deposits" db:"queued_deposits"`

	MinPeriod        int64           `json:"min_period" db:"min_period"` // seconds between cycles
	MinDistribution  decimal.Decimal `json:"min_distribution" db:"min_distribution"`
	Gas              int64           `json:"gas" db:"gas"` // max holders visited per process call
	LastDistribution time.Time       `json:"last_distribution" db:"last_distribution"`
	Enabled          bool            `json:"enabled" db:"enabled"`
}

// TokenConfig holds the mutable token-level configuration. Mutated only
// through owner-gated admin operations.
type TokenConfig struct {
	Owner              string          `json:"owner" db:"owner"`
	TokenAsset         string          `json:"token_asset" db:"token_asset"`   // this token's address
	NativeAsset        string          `json:"native_asset" db:"native_asset"` // intermediate swap asset
	ReflectionToken    string          `json:"reflection_token" db:"reflection_token"`
	MaxTx              decimal.Decimal `json:"max_tx" db:"max_tx"`
	SwapThreshold      decimal.Decimal `json:"swap_threshold" db:"swap_threshold"`
	FeeRate            decimal.Decimal `json:"fee_rate" db:"fee_rate"` // fraction of amount, e.g. 0.05
	ReflectionsEnabled bool            `json:"reflections_enabled" db:"reflections_enabled"`
}

// RewardPot is the undistributed reward balance held for one asset.
// Pots are tracked per asset: changing the reflection token mid-flight
// leaves earlier proceeds valued in the asset they were acquired in.
type RewardPot struct {
	Asset  string          `json:"asset" db:"asset"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

// RewardCredit is a holder's cumulative paid-out reward in one asset.
type RewardCredit struct {
	Asset  string          `json:"asset" db:"asset"`
	Holder string          `json:"holder" db:"holder"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

// Event is an observable state-change notification. Events are appended to
// the persisted event log and broadcast to WebSocket clients only after
// the operation that produced them commits.
type Event struct {
	ID      string    `json:"id" db:"id"`
	Name    string    `json:"name" db:"name"`
	Address string    `json:"address,omitempty" db:"address"`
	Value   string    `json:"value,omitempty" db:"value"`
	At      time.Time `json:"at" db:"at"`
}

// Event names fixed by the conformance surface.
const (
	EventTransfer                = "Transfer"
	EventFeeCollected            = "FeeCollected"
	EventSwapBack                = "SwapBack"
	EventAccountExcludeFromFee   = "AccountExcludeFromFee"
	EventSwapTokensAmountUpdated = "SwapTokensAmountUpdated"
	EventAMMPairUpdated          = "AutomatedMarketMakerPairUpdated"
	EventDividendExemptUpdated   = "DividendExemptUpdated"
	EventDistributionCriteria    = "DistributionCriteriaUpdate"
	EventRewardTokenUpdated      = "RewardTokenUpdated"
	EventDistributionStatus      = "DistributionStatusUpdated"
	EventMaxTxUpdated            = "MaxTxUpdated"
	EventReflectionsToggled      = "ReflectionsToggled"
	EventNativeWithdrawn         = "NativeWithdrawn"
	EventDistributorGasUpdated   = "DistributorGasUpdated"
)

// State is the full persisted aggregate loaded at boot. Everything the
// engine mutates must survive across calls.
type State struct {
	Accounts      []Account        `json:"accounts"`
	Shares        []ShareRecord    `json:"shares"`
	Holders       []HolderSlot     `json:"holders"`
	Distributor   DistributorState `json:"distributor"`
	Config        TokenConfig      `json:"config"`
	Pots          []RewardPot      `json:"pots"`
	Rewards       []RewardCredit   `json:"rewards"`
	NativeBalance decimal.Decimal  `json:"native_balance"`
}
