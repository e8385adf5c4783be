package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"yieldsplit/internal/chain"
)

// RatesConfig holds configuration for the rates command.
type RatesConfig struct {
	RPCURL            string
	FromBlock         uint64
	ToBlock           uint64
	Step              uint64
	Confirmations     uint64
	Sources           []chain.RateSource
	Caller            common.Address
	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	PGDSN             string
	MaxRetries        int
	RetryBackoff      time.Duration
	State             StateConfig
	Protocol          Protocol
	LogLevel          string
}

// LoadRates merges config file, environment variables, and flags into RatesConfig.
func LoadRates(cfgFile string, flags *pflag.FlagSet) (RatesConfig, error) {
	v := viper.New()
	v.SetDefault("step", uint64(7200))
	v.SetDefault("confirmations", uint64(12))
	v.SetDefault("out", "./data/rates.jsonl")
	v.SetDefault("checkpoint", "./data/rates_checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	setStateDefaults(v)
	setProtocolDefaults(v)

	if err := readConfig(v, cfgFile, flags); err != nil {
		return RatesConfig{}, err
	}

	protocol, err := loadProtocol(v)
	if err != nil {
		return RatesConfig{}, err
	}

	var sources []chain.RateSource
	for _, raw := range getStringSlice(v, "source") {
		src, err := chain.ParseRateSource(raw)
		if err != nil {
			return RatesConfig{}, err
		}
		sources = append(sources, src)
	}

	caller := protocol.Governance
	if raw := v.GetString("caller"); raw != "" {
		if caller, err = parseOptionalAddress("caller", raw); err != nil {
			return RatesConfig{}, err
		}
	}
	if v.GetUint64("step") == 0 {
		return RatesConfig{}, fmt.Errorf("step must be greater than zero")
	}

	cfg := RatesConfig{
		RPCURL:            v.GetString("rpc"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		Step:              v.GetUint64("step"),
		Confirmations:     v.GetUint64("confirmations"),
		Sources:           sources,
		Caller:            caller,
		Out:               v.GetString("out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		PGDSN:             v.GetString("pg-dsn"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		State:             loadState(v),
		Protocol:          protocol,
		LogLevel:          v.GetString("log-level"),
	}
	return cfg, nil
}
