package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SeriesKey identifies one yield-claim series: an underlying asset and an expiry.
type SeriesKey struct {
	Asset  common.Address `json:"asset"`
	Expiry uint64         `json:"expiry"`
}

// String renders the key as "asset:expiry".
func (k SeriesKey) String() string {
	return fmt.Sprintf("%s:%d", strings.ToLower(k.Asset.Hex()), k.Expiry)
}

// MarshalText lets SeriesKey be used as a JSON map key.
func (k SeriesKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "asset:expiry".
func (k *SeriesKey) UnmarshalText(text []byte) error {
	parsed, err := ParseSeriesKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseSeriesKey parses the String form of a SeriesKey.
func ParseSeriesKey(input string) (SeriesKey, error) {
	parts := strings.Split(strings.TrimSpace(input), ":")
	if len(parts) != 2 {
		return SeriesKey{}, fmt.Errorf("invalid series key: %s", input)
	}
	if !common.IsHexAddress(parts[0]) {
		return SeriesKey{}, fmt.Errorf("invalid series asset: %s", parts[0])
	}
	expiry, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return SeriesKey{}, fmt.Errorf("invalid series expiry: %w", err)
	}
	return SeriesKey{Asset: common.HexToAddress(parts[0]), Expiry: expiry}, nil
}

// PoolKey identifies an exchange pool: a series traded against a base asset.
type PoolKey struct {
	Series SeriesKey      `json:"series"`
	Base   common.Address `json:"base"`
}

// String renders the key as "asset:expiry:base".
func (k PoolKey) String() string {
	return k.Series.String() + ":" + strings.ToLower(k.Base.Hex())
}

// MarshalText lets PoolKey be used as a JSON map key.
func (k PoolKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "asset:expiry:base".
func (k *PoolKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePoolKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParsePoolKey parses the String form of a PoolKey.
func ParsePoolKey(input string) (PoolKey, error) {
	idx := strings.LastIndex(input, ":")
	if idx < 0 {
		return PoolKey{}, fmt.Errorf("invalid pool key: %s", input)
	}
	series, err := ParseSeriesKey(input[:idx])
	if err != nil {
		return PoolKey{}, err
	}
	base := input[idx+1:]
	if !common.IsHexAddress(base) {
		return PoolKey{}, fmt.Errorf("invalid pool base: %s", base)
	}
	return PoolKey{Series: series, Base: common.HexToAddress(base)}, nil
}

// DeadAddress holds the permanently locked minimum liquidity.
var DeadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// DeriveAddress returns a deterministic account address for a protocol component.
func DeriveAddress(kind string, key string) common.Address {
	hash := crypto.Keccak256([]byte(kind), []byte(key))
	return common.BytesToAddress(hash[12:])
}
