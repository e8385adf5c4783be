package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"yieldsplit/internal/engine"
	"yieldsplit/internal/forge"
	"yieldsplit/internal/market"
	"yieldsplit/internal/mining"
	"yieldsplit/internal/model"
)

const wadDecimals = 18

// Protocol holds the parameters of the forge, the exchange pools and liquidity mining.
type Protocol struct {
	ForgeFeeBps           uint32
	RenewalFeeBps         uint32
	ExpiryGrid            uint64
	SwapFeeBps            uint32
	ProtocolFeeShareBps   uint32
	MinLiquidity          *big.Int
	InitialWeight         *big.Int
	WeightFloor           *big.Int
	BaseAssets            []common.Address
	EpochStart            uint64
	EpochDuration         uint64
	VestingEpochs         uint64
	EpochBudget           *big.Int
	AllocationDenominator uint64
	RewardToken           common.Address
	MiningBase            common.Address
	Governance            common.Address
	EmergencyHandler      common.Address
	Treasury              common.Address
}

// Params turns the protocol settings into engine parameters.
func (p Protocol) Params() engine.Params {
	return engine.Params{
		Forge: forge.Config{
			FeeBps:        p.ForgeFeeBps,
			RenewalFeeBps: p.RenewalFeeBps,
			ExpiryGrid:    p.ExpiryGrid,
			Treasury:      p.Treasury,
		},
		Market: market.Config{
			SwapFeeBps:          p.SwapFeeBps,
			ProtocolFeeShareBps: p.ProtocolFeeShareBps,
			MinLiquidity:        p.MinLiquidity,
			InitialWeight:       p.InitialWeight,
			WeightFloor:         p.WeightFloor,
			Treasury:            p.Treasury,
			BaseAssets:          p.BaseAssets,
		},
		Mining: mining.Config{
			StartTime:     p.EpochStart,
			EpochDuration: p.EpochDuration,
			VestingEpochs: p.VestingEpochs,
			EpochBudget:   p.EpochBudget,
			Denominator:   p.AllocationDenominator,
			RewardToken:   p.RewardToken,
			Base:          p.MiningBase,
		},
		Governance:       p.Governance,
		EmergencyHandler: p.EmergencyHandler,
	}
}

func setProtocolDefaults(v *viper.Viper) {
	v.SetDefault("forge-fee-bps", 300)
	v.SetDefault("renewal-fee-bps", 50)
	v.SetDefault("expiry-grid", 86400)
	v.SetDefault("swap-fee-bps", 30)
	v.SetDefault("protocol-fee-share-bps", 1000)
	v.SetDefault("min-liquidity", "1000")
	v.SetDefault("initial-weight", "0.5")
	v.SetDefault("weight-floor", "0.1")
	v.SetDefault("epoch-duration", 7*24*3600)
	v.SetDefault("vesting-epochs", 4)
	v.SetDefault("epoch-budget", "0")
	v.SetDefault("allocation-denominator", 1_000_000)
}

func loadProtocol(v *viper.Viper) (Protocol, error) {
	p := Protocol{
		ForgeFeeBps:           v.GetUint32("forge-fee-bps"),
		RenewalFeeBps:         v.GetUint32("renewal-fee-bps"),
		ExpiryGrid:            v.GetUint64("expiry-grid"),
		SwapFeeBps:            v.GetUint32("swap-fee-bps"),
		ProtocolFeeShareBps:   v.GetUint32("protocol-fee-share-bps"),
		EpochStart:            v.GetUint64("epoch-start"),
		EpochDuration:         v.GetUint64("epoch-duration"),
		VestingEpochs:         v.GetUint64("vesting-epochs"),
		AllocationDenominator: v.GetUint64("allocation-denominator"),
	}

	for name, bps := range map[string]uint32{
		"forge-fee-bps":          p.ForgeFeeBps,
		"renewal-fee-bps":        p.RenewalFeeBps,
		"swap-fee-bps":           p.SwapFeeBps,
		"protocol-fee-share-bps": p.ProtocolFeeShareBps,
	} {
		if bps > 10_000 {
			return Protocol{}, fmt.Errorf("%s must not exceed 10000", name)
		}
	}
	if p.EpochDuration == 0 {
		return Protocol{}, fmt.Errorf("epoch-duration must be greater than zero")
	}
	if p.AllocationDenominator == 0 {
		return Protocol{}, fmt.Errorf("allocation-denominator must be greater than zero")
	}

	var err error
	if p.MinLiquidity, err = ParseDecimal("min-liquidity", v.GetString("min-liquidity"), 0); err != nil {
		return Protocol{}, err
	}
	if p.InitialWeight, err = ParseDecimal("initial-weight", v.GetString("initial-weight"), wadDecimals); err != nil {
		return Protocol{}, err
	}
	if p.WeightFloor, err = ParseDecimal("weight-floor", v.GetString("weight-floor"), wadDecimals); err != nil {
		return Protocol{}, err
	}
	if p.EpochBudget, err = ParseDecimal("epoch-budget", v.GetString("epoch-budget"), wadDecimals); err != nil {
		return Protocol{}, err
	}
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(wadDecimals), nil)
	if p.InitialWeight.Cmp(one) >= 0 || p.InitialWeight.Sign() <= 0 {
		return Protocol{}, fmt.Errorf("initial-weight must be between 0 and 1")
	}
	if p.WeightFloor.Cmp(p.InitialWeight) > 0 {
		return Protocol{}, fmt.Errorf("weight-floor must not exceed initial-weight")
	}

	if p.BaseAssets, err = ParseAddresses(getStringSlice(v, "base-assets")); err != nil {
		return Protocol{}, fmt.Errorf("base-assets: %w", err)
	}
	for key, dst := range map[string]*common.Address{
		"reward-token":      &p.RewardToken,
		"mining-base":       &p.MiningBase,
		"governance":        &p.Governance,
		"emergency-handler": &p.EmergencyHandler,
		"treasury":          &p.Treasury,
	} {
		if *dst, err = parseOptionalAddress(key, v.GetString(key)); err != nil {
			return Protocol{}, err
		}
	}
	return p, nil
}

// ParseDecimal reads a non-negative decimal value and scales it by 10^decimals. Values with
// more fractional digits than decimals are rejected.
func ParseDecimal(name, value string, decimals int32) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return new(big.Int), nil
	}
	v, err := model.ParseUnits(value, decimals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// ParseAddresses validates and converts address strings.
func ParseAddresses(values []string) ([]common.Address, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]common.Address, 0, len(values))
	for _, value := range values {
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("invalid address: %s", value)
		}
		out = append(out, common.HexToAddress(value))
	}
	return out, nil
}

func parseOptionalAddress(name, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, value)
	}
	return common.HexToAddress(value), nil
}
