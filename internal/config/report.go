package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ReportConfig holds configuration for the report command.
type ReportConfig struct {
	AsOf     string
	Out      string
	PGDSN    string
	State    StateConfig
	Protocol Protocol
	LogLevel string
}

// LoadReport merges config file, environment variables, and flags into ReportConfig.
func LoadReport(cfgFile string, flags *pflag.FlagSet) (ReportConfig, error) {
	v := viper.New()
	setStateDefaults(v)
	setProtocolDefaults(v)

	if err := readConfig(v, cfgFile, flags); err != nil {
		return ReportConfig{}, err
	}

	protocol, err := loadProtocol(v)
	if err != nil {
		return ReportConfig{}, err
	}

	cfg := ReportConfig{
		AsOf:     v.GetString("as-of"),
		Out:      v.GetString("out"),
		PGDSN:    v.GetString("pg-dsn"),
		State:    loadState(v),
		Protocol: protocol,
		LogLevel: v.GetString("log-level"),
	}
	return cfg, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	if strings.TrimSpace(input) == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
