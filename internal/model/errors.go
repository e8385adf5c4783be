package model

import "errors"

// Error kinds shared by every protocol component. Callers match them with errors.Is.
var (
	ErrInvalidExpiry             = errors.New("invalid expiry")
	ErrDuplicateSeries           = errors.New("duplicate series")
	ErrSeriesNotFound            = errors.New("series not found")
	ErrYieldContractExpired      = errors.New("yield contract expired")
	ErrZeroAmount                = errors.New("zero amount")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrPoolNotFound              = errors.New("pool not found")
	ErrDuplicatePool             = errors.New("duplicate pool")
	ErrInvalidFactoryOrAssetPair = errors.New("invalid factory or asset pair")
	ErrInvalidAllocation         = errors.New("invalid allocation")
	ErrInvalidRenewalRate        = errors.New("invalid renewal rate")
	ErrMustBeAfterExpiry         = errors.New("must be after expiry")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrPaused                    = errors.New("paused")
	ErrLocked                    = errors.New("locked")

	ErrPoolBootstrapped      = errors.New("pool already bootstrapped")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippage              = errors.New("slippage limit exceeded")
	ErrInvalidRate           = errors.New("invalid exchange rate")
	ErrUnknownOperation      = errors.New("unknown operation")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidExpiry, "InvalidExpiry"},
	{ErrDuplicateSeries, "DuplicateSeries"},
	{ErrSeriesNotFound, "SeriesNotFound"},
	{ErrYieldContractExpired, "YieldContractExpired"},
	{ErrZeroAmount, "ZeroAmount"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrPoolNotFound, "PoolNotFound"},
	{ErrDuplicatePool, "DuplicatePool"},
	{ErrInvalidFactoryOrAssetPair, "InvalidFactoryOrAssetPair"},
	{ErrInvalidAllocation, "InvalidAllocation"},
	{ErrInvalidRenewalRate, "InvalidRenewalRate"},
	{ErrMustBeAfterExpiry, "MustBeAfterExpiry"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrPaused, "Paused"},
	{ErrLocked, "Locked"},
	{ErrPoolBootstrapped, "PoolBootstrapped"},
	{ErrInsufficientLiquidity, "InsufficientLiquidity"},
	{ErrSlippage, "Slippage"},
	{ErrInvalidRate, "InvalidRate"},
	{ErrUnknownOperation, "UnknownOperation"},
}

// ErrorKind maps an error to its stable kind name, "Internal" for anything else.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return "Internal"
}
