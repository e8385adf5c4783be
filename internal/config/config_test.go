package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		value    string
		decimals int32
		want     string
		wantErr  bool
	}{
		{value: "", decimals: 18, want: "0"},
		{value: "0.5", decimals: 18, want: "500000000000000000"},
		{value: "1000", decimals: 0, want: "1000"},
		{value: "12.25", decimals: 2, want: "1225"},
		{value: "12.255", decimals: 2, wantErr: true},
		{value: "-1", decimals: 18, wantErr: true},
		{value: "abc", decimals: 18, wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseDecimal("value", tt.value, tt.decimals)
		if tt.wantErr {
			assert.Error(t, err, tt.value)
			continue
		}
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.want, got.String(), tt.value)
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("1700000000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000), ts)

	ts, err = ParseTimestamp("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000), ts)

	ts, err = ParseTimestamp(" ")
	require.NoError(t, err)
	assert.Zero(t, ts)

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestParseAddresses(t *testing.T) {
	out, err := ParseAddresses([]string{"0x0000000000000000000000000000000000000001"})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{common.HexToAddress("0x01")}, out)

	_, err = ParseAddresses([]string{"0x1234"})
	assert.Error(t, err)
}

func TestLoadFromFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
in: ./ops.jsonl
swap-fee-bps: 25
initial-weight: "0.6"
epoch-budget: "1.5"
base-assets: "0x0000000000000000000000000000000000000002, 0x0000000000000000000000000000000000000003"
governance: "0x0000000000000000000000000000000000000009"
state-backend: Redis
`), 0o644))

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("out", "./data/results.jsonl", "")
	flags.Uint32("forge-fee-bps", 300, "")
	require.NoError(t, flags.Parse([]string{"--out", "/tmp/results.jsonl", "--forge-fee-bps", "150"}))

	cfg, err := Load(cfgFile, flags)
	require.NoError(t, err)

	assert.Equal(t, "./ops.jsonl", cfg.Input)
	assert.Equal(t, "/tmp/results.jsonl", cfg.Out)
	assert.Equal(t, "redis", cfg.State.Backend)
	assert.Equal(t, "info", cfg.LogLevel)

	p := cfg.Protocol
	assert.Equal(t, uint32(150), p.ForgeFeeBps)
	assert.Equal(t, uint32(25), p.SwapFeeBps)
	assert.Equal(t, uint32(1000), p.ProtocolFeeShareBps)
	assert.Equal(t, "600000000000000000", p.InitialWeight.String())
	assert.Equal(t, "100000000000000000", p.WeightFloor.String())
	assert.Equal(t, "1500000000000000000", p.EpochBudget.String())
	assert.Equal(t, "1000", p.MinLiquidity.String())
	assert.Len(t, p.BaseAssets, 2)
	assert.Equal(t, common.HexToAddress("0x09"), p.Governance)

	params := p.Params()
	assert.Equal(t, uint32(150), params.Forge.FeeBps)
	assert.Equal(t, p.BaseAssets, params.Market.BaseAssets)
	assert.Equal(t, uint64(1_000_000), params.Mining.Denominator)
	assert.Equal(t, common.HexToAddress("0x09"), params.Governance)
}

func TestLoadRejectsBadProtocol(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bps":     "swap-fee-bps: 10001\n",
		"weight":  "initial-weight: \"1.2\"\n",
		"floor":   "weight-floor: \"0.7\"\n",
		"address": "treasury: nope\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := Load(path, nil)
		assert.Error(t, err, name)
	}
}

func TestLoadRates(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "rates.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
rpc: http://localhost:8545
governance: "0x0000000000000000000000000000000000000009"
source:
  - "0x0000000000000000000000000000000000000002=0x0000000000000000000000000000000000000004:ctoken:28"
`), 0o644))

	cfg, err := LoadRates(cfgFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, uint64(7200), cfg.Step)
	assert.Equal(t, uint64(12), cfg.Confirmations)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, uint8(28), cfg.Sources[0].Scale)
	assert.Equal(t, common.HexToAddress("0x09"), cfg.Caller)
	assert.True(t, cfg.CheckpointEnabled)
}
