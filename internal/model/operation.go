package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Operation kinds accepted by the engine.
const (
	OpSetRate           = "set_rate"
	OpFund              = "fund"
	OpNewSeries         = "new_series"
	OpTokenize          = "tokenize"
	OpRedeemUnderlying  = "redeem_underlying"
	OpRedeemInterests   = "redeem_due_interests"
	OpRedeemAfterExpiry = "redeem_after_expiry"
	OpRenew             = "renew"
	OpTransferYield     = "transfer_yield"
	OpTransferPrincipal = "transfer_principal"
	OpTransferShares    = "transfer_shares"
	OpCreatePool        = "create_pool"
	OpBootstrap         = "bootstrap"
	OpAddDual           = "add_liquidity_dual"
	OpRemoveDual        = "remove_liquidity_dual"
	OpAddSingle         = "add_liquidity_single"
	OpRemoveSingle      = "remove_liquidity_single"
	OpSwapExactIn       = "swap_exact_in"
	OpSwapExactOut      = "swap_exact_out"
	OpRedeemLPInterests = "redeem_lp_interests"
	OpStake             = "stake"
	OpWithdraw          = "withdraw"
	OpClaimRewards      = "claim_rewards"
	OpRedeemStakeLP     = "redeem_staked_lp_interests"
	OpSetAllocation     = "set_allocation"
	OpSetEpochBudget    = "set_epoch_budget"
	OpWithdrawForgeFees = "withdraw_forge_fees"
	OpPause             = "pause"
	OpUnpause           = "unpause"
	OpLock              = "lock"
	OpEmergencySweep    = "emergency_sweep"
)

// Operation is one journal line: a call against the engine at a given time.
// Amounts are base-unit integers encoded as decimal strings.
type Operation struct {
	ID         string   `json:"id,omitempty"`
	Op         string   `json:"op"`
	Time       uint64   `json:"time"`
	Caller     string   `json:"caller,omitempty"`
	Recipient  string   `json:"recipient,omitempty"`
	Asset      string   `json:"asset,omitempty"`
	Expiry     uint64   `json:"expiry,omitempty"`
	NewExpiry  uint64   `json:"new_expiry,omitempty"`
	Base       string   `json:"base,omitempty"`
	Side       string   `json:"side,omitempty"`
	Amount     string   `json:"amount,omitempty"`
	BaseAmount string   `json:"base_amount,omitempty"`
	Limit      string   `json:"limit,omitempty"`
	Rate       string   `json:"rate,omitempty"`
	RateBps    uint32   `json:"rate_bps,omitempty"`
	Series     []string `json:"series,omitempty"`
	Numerators []uint64 `json:"numerators,omitempty"`
}

// SeriesKey builds the series addressed by Asset and Expiry.
func (op Operation) SeriesKey() (SeriesKey, error) {
	asset, err := op.Address("asset", op.Asset)
	if err != nil {
		return SeriesKey{}, err
	}
	return SeriesKey{Asset: asset, Expiry: op.Expiry}, nil
}

// PoolKey builds the pool addressed by Asset, Expiry and Base.
func (op Operation) PoolKey() (PoolKey, error) {
	series, err := op.SeriesKey()
	if err != nil {
		return PoolKey{}, err
	}
	base, err := op.Address("base", op.Base)
	if err != nil {
		return PoolKey{}, err
	}
	return PoolKey{Series: series, Base: base}, nil
}

// Address parses a hex address field.
func (op Operation) Address(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	return common.HexToAddress(value), nil
}

// RecipientOr returns Recipient, or fallback when it is empty.
func (op Operation) RecipientOr(fallback common.Address) (common.Address, error) {
	if strings.TrimSpace(op.Recipient) == "" {
		return fallback, nil
	}
	return op.Address("recipient", op.Recipient)
}

// ParseAmount parses a non-negative base-unit integer. Empty input is zero.
func ParseAmount(field, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, value)
	}
	return amount, nil
}

// ParseUnits parses a decimal token amount such as "1.5" into base units with the given
// number of decimals. Fractional digits beyond decimals are rejected.
func ParseUnits(value string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid decimal %q: negative", value)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid decimal %q: more than %d fractional digits", value, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders base units as a decimal with the given number of decimals.
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// Result is the outcome of applying one Operation.
type Result struct {
	ID        string            `json:"id"`
	Op        string            `json:"op"`
	Time      uint64            `json:"time"`
	OK        bool              `json:"ok"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
}
