package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Rate source kinds.
const (
	// KindCToken reads exchangeRateStored() from a Compound-style market.
	KindCToken = "ctoken"
	// KindERC4626 reads convertToAssets(oneShare) from a tokenized vault.
	KindERC4626 = "erc4626"
)

const rateABIJSON = `[
  {"inputs": [], "name": "exchangeRateStored", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "shares", "type": "uint256"}], "name": "convertToAssets", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	rateABI     abi.ABI
	rateABIOnce sync.Once
	rateABIErr  error
)

func rateABIInstance() (abi.ABI, error) {
	rateABIOnce.Do(func() {
		rateABI, rateABIErr = abi.JSON(strings.NewReader(rateABIJSON))
	})
	return rateABI, rateABIErr
}

// Caller is the subset of Client used to read rates.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RateSource names the contract that reports the exchange rate of one underlying asset.
// Scale is the number of decimals of the raw value; ShareDecimals is the vault share decimals
// used by KindERC4626.
type RateSource struct {
	Asset         common.Address
	Contract      common.Address
	Kind          string
	Scale         uint8
	ShareDecimals uint8
}

// ParseRateSource parses "asset=contract:kind:scale[:shareDecimals]".
func ParseRateSource(input string) (RateSource, error) {
	input = strings.TrimSpace(input)
	asset, rest, ok := strings.Cut(input, "=")
	if !ok {
		return RateSource{}, fmt.Errorf("invalid rate source: %s", input)
	}
	parts := strings.Split(rest, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return RateSource{}, fmt.Errorf("invalid rate source: %s", input)
	}
	if !common.IsHexAddress(asset) || !common.IsHexAddress(parts[0]) {
		return RateSource{}, fmt.Errorf("invalid rate source address: %s", input)
	}
	src := RateSource{
		Asset:    common.HexToAddress(asset),
		Contract: common.HexToAddress(parts[0]),
		Kind:     strings.ToLower(parts[1]),
	}
	if src.Kind != KindCToken && src.Kind != KindERC4626 {
		return RateSource{}, fmt.Errorf("unsupported rate source kind: %s", parts[1])
	}
	scale, err := parseDecimals(parts[2])
	if err != nil {
		return RateSource{}, err
	}
	src.Scale = scale
	if len(parts) == 4 {
		if src.ShareDecimals, err = parseDecimals(parts[3]); err != nil {
			return RateSource{}, err
		}
	} else {
		src.ShareDecimals = 18
	}
	return src, nil
}

func parseDecimals(input string) (uint8, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(input), 10)
	if !ok || v.Sign() < 0 || v.Cmp(big.NewInt(77)) > 0 {
		return 0, fmt.Errorf("invalid decimals: %s", input)
	}
	return uint8(v.Uint64()), nil
}

// ReadRate returns the source's exchange rate at block, normalized to 18 decimals.
// A nil block reads the latest state.
func ReadRate(ctx context.Context, caller Caller, src RateSource, block *big.Int) (*big.Int, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	parsed, err := rateABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse rate abi: %w", err)
	}

	var method string
	var args []interface{}
	switch src.Kind {
	case KindCToken:
		method = "exchangeRateStored"
	case KindERC4626:
		method = "convertToAssets"
		args = append(args, pow10(src.ShareDecimals))
	default:
		return nil, fmt.Errorf("unsupported rate source kind: %s", src.Kind)
	}

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := src.Contract
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: %d values", method, len(values))
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unsupported int type %T", values[0])
	}
	return normalize(raw, src.Scale), nil
}

func normalize(raw *big.Int, scale uint8) *big.Int {
	out := new(big.Int).Mul(raw, pow10(18))
	return out.Quo(out, pow10(scale))
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
