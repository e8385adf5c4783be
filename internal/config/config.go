package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// StateConfig selects where the engine snapshot lives.
type StateConfig struct {
	Backend       string
	File          string
	Name          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// Config holds configuration for the run command.
type Config struct {
	Input     string
	Out       string
	PGDSN     string
	BatchSize int
	State     StateConfig
	Protocol  Protocol
	LogLevel  string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetDefault("out", "./data/results.jsonl")
	v.SetDefault("batch-size", 500)
	setStateDefaults(v)
	setProtocolDefaults(v)

	if err := readConfig(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	protocol, err := loadProtocol(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Input:     v.GetString("in"),
		Out:       v.GetString("out"),
		PGDSN:     v.GetString("pg-dsn"),
		BatchSize: v.GetInt("batch-size"),
		State:     loadState(v),
		Protocol:  protocol,
		LogLevel:  v.GetString("log-level"),
	}
	return cfg, nil
}

// readConfig wires env, flags and the optional config file into v.
func readConfig(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix("YIELDSPLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func setStateDefaults(v *viper.Viper) {
	v.SetDefault("state-backend", "file")
	v.SetDefault("state-file", "./data/state.json")
	v.SetDefault("state-name", "default")
	v.SetDefault("redis-addr", "127.0.0.1:6379")
	v.SetDefault("redis-db", 0)
	v.SetDefault("redis-key", "yieldsplit:snapshot")
}

func loadState(v *viper.Viper) StateConfig {
	return StateConfig{
		Backend:       strings.ToLower(strings.TrimSpace(v.GetString("state-backend"))),
		File:          v.GetString("state-file"),
		Name:          v.GetString("state-name"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		RedisKey:      v.GetString("redis-key"),
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
